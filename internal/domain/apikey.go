package domain

import "time"

// APIKeyPrefix is the fixed leading marker of every issued token.
// A bearer token without it is rejected before any storage lookup.
const APIKeyPrefix = "dbackup_"

// APIKey is the stored form of an issued token: a SHA-256 hash plus a
// non-secret display prefix. The raw value is returned exactly once at
// creation and never persisted.
type APIKey struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DisplayPrefix string     `json:"displayPrefix"`
	Hash          string     `json:"-"`
	UserID        string     `json:"userId,omitempty"`
	Enabled       bool       `json:"enabled"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Expired reports whether the key's expiry has passed.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

type AuditAction string

const (
	AuditCreate  AuditAction = "CREATE"
	AuditUpdate  AuditAction = "UPDATE"
	AuditDelete  AuditAction = "DELETE"
	AuditExecute AuditAction = "EXECUTE"
)

// AuditRecord is emitted as a fire-and-forget side channel by every
// mutating service call.
type AuditRecord struct {
	ID         string      `json:"id"`
	Action     AuditAction `json:"action"`
	Resource   string      `json:"resource"`
	ResourceID string      `json:"resourceId"`
	UserID     string      `json:"userId,omitempty"`
	Details    string      `json:"details,omitempty"`
	At         time.Time   `json:"at"`
}
