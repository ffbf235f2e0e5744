package domain

import "time"

type CompressionMode string

const (
	CompressionNone   CompressionMode = "none"
	CompressionGzip   CompressionMode = "gzip"
	CompressionBrotli CompressionMode = "brotli"
)

type RetentionKind string

const (
	RetentionNone   RetentionKind = "none"
	RetentionSimple RetentionKind = "simple"
	RetentionSmart  RetentionKind = "smart"
)

// RetentionPolicy selects how many successful artifacts survive a
// post-backup cleanup. Simple keeps the KeepCount most recent ones;
// Smart rotates them through calendar buckets (GFS). A bucket count of
// zero disables that bucket.
type RetentionPolicy struct {
	Kind      RetentionKind `json:"kind"`
	KeepCount int           `json:"keepCount,omitempty"`
	Daily     int           `json:"daily,omitempty"`
	Weekly    int           `json:"weekly,omitempty"`
	Monthly   int           `json:"monthly,omitempty"`
	Yearly    int           `json:"yearly,omitempty"`
}

// AllZero reports whether every smart bucket is disabled, in which
// case nothing is ever deleted.
func (p RetentionPolicy) AllZero() bool {
	return p.Daily == 0 && p.Weekly == 0 && p.Monthly == 0 && p.Yearly == 0
}

// Job is a scheduled backup definition. Jobs are mutated only through
// the job service so that every change rebuilds the scheduler.
type Job struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Schedule            string          `json:"schedule"`
	SourceConfigID      string          `json:"sourceConfigId"`
	DestinationConfigID string          `json:"destinationConfigId"`
	EncryptionProfileID string          `json:"encryptionProfileId,omitempty"`
	Compression         CompressionMode `json:"compression"`
	Retention           RetentionPolicy `json:"retention"`
	NotificationIDs     []string        `json:"notificationIds,omitempty"`
	Enabled             bool            `json:"enabled"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}
