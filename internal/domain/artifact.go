package domain

import "time"

// EncryptionProfile holds the master key material artifacts are
// encrypted under. Artifacts reference a profile by id from their
// sidecar; profiles may be rotated or deleted independently of the
// artifacts that used them.
type EncryptionProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MasterKey string    `json:"masterKey"` // hex-encoded, 32 bytes
	CreatedAt time.Time `json:"createdAt"`
}

// SidecarEncryption records everything needed to reverse an artifact's
// encryption. IV and AuthTag are hex-encoded.
type SidecarEncryption struct {
	ProfileID string `json:"profileId"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
}

// Sidecar is the metadata document written next to an artifact as
// <base>.meta.json. When present it fully determines the decode
// pipeline: restore never infers compression or encryption parameters.
type Sidecar struct {
	EngineVersion string             `json:"engineVersion,omitempty"`
	Databases     []string           `json:"databases,omitempty"`
	Compression   CompressionMode    `json:"compression"`
	Encryption    *SidecarEncryption `json:"encryption,omitempty"`
}

// SidecarName derives the sidecar path from an artifact path.
func SidecarName(artifactPath string) string {
	return artifactPath + ".meta.json"
}

// DatabaseMapping renames one logical database during restore.
// Unselected entries are skipped entirely.
type DatabaseMapping struct {
	OriginalName string `json:"originalName"`
	TargetName   string `json:"targetName"`
	Selected     bool   `json:"selected"`
}
