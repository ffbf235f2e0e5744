package domain

import (
	"context"
	"io"
	"time"
)

type AdapterCategory string

const (
	CategoryDatabase     AdapterCategory = "database"
	CategoryStorage      AdapterCategory = "storage"
	CategoryNotification AdapterCategory = "notification"
)

// Settings is the opaque, adapter-specific configuration payload of an
// AdapterConfig. Each adapter validates the keys it needs.
type Settings map[string]string

// AdapterConfig binds a named, user-created configuration to a
// registered adapter. Identity is immutable once created.
type AdapterConfig struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  AdapterCategory `json:"category"`
	AdapterID string          `json:"adapterId"`
	Settings  Settings        `json:"settings"`
	CreatedAt time.Time       `json:"createdAt"`
}

// TestResult is the outcome of a connectivity probe against a database
// source. Version carries the live server version when the adapter can
// determine it.
type TestResult struct {
	Success bool   `json:"success"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

type DumpResult struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs,omitempty"`
}

type RestoreResult struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs,omitempty"`
	Err     error    `json:"-"`
}

// Credentials are elevated database credentials supplied for a single
// privileged restore retry. They are never persisted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RestoreOptions struct {
	// TargetDatabase overrides the logical database name recorded in
	// the artifact. Empty means restore under the original name.
	TargetDatabase string
	// Privileged, when set, replaces the configured credentials for
	// this one restore invocation.
	Privileged *Credentials
}

// DatabaseAdapter is the contract every database backend satisfies.
// Dump and Restore shell out to the engine's native tooling; all calls
// honor the context for cancellation.
type DatabaseAdapter interface {
	ID() string
	// FileExt is the artifact extension for this engine's dump format,
	// including the leading dot.
	FileExt() string
	Validate(cfg Settings) error
	Test(ctx context.Context, cfg Settings) (TestResult, error)
	PrepareRestore(ctx context.Context, cfg Settings) (bool, error)
	Dump(ctx context.Context, cfg Settings, destPath string) (DumpResult, error)
	Restore(ctx context.Context, cfg Settings, sourcePath string, opts RestoreOptions) (RestoreResult, error)
	// LooksValid reports whether the stream plausibly starts a dump in
	// this engine's format. Smart recovery uses it to confirm a
	// candidate decryption key actually produced a usable artifact.
	LooksValid(r io.Reader) bool
}

// Entry describes one object at a storage destination.
type Entry struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// StorageAdapter is the contract every storage backend satisfies.
// Read returns (nil, nil) when the remote object does not exist.
type StorageAdapter interface {
	ID() string
	Validate(cfg Settings) error
	Upload(ctx context.Context, cfg Settings, remotePath, localPath string) error
	Download(ctx context.Context, cfg Settings, remotePath, localPath string) error
	Read(ctx context.Context, cfg Settings, remotePath string) ([]byte, error)
	List(ctx context.Context, cfg Settings, prefix string) ([]Entry, error)
	Delete(ctx context.Context, cfg Settings, remotePath string) error
}

// Event is a pipeline outcome delivered to notification channels.
type Event struct {
	Kind        string    `json:"kind"`
	JobName     string    `json:"jobName,omitempty"`
	ExecutionID string    `json:"executionId"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

const (
	EventBackupSuccess  = "backup_success"
	EventBackupFailed   = "backup_failed"
	EventRestoreSuccess = "restore_success"
	EventRestoreFailed  = "restore_failed"
)

// NotificationAdapter delivers events best-effort: a failed Send is
// logged by the caller and never aborts a pipeline.
type NotificationAdapter interface {
	ID() string
	Validate(cfg Settings) error
	Send(ctx context.Context, cfg Settings, event Event) error
}
