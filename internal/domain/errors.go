package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers. Callers classify with
// errors.Is / errors.As.
var (
	ErrNotFound = errors.New("record not found")

	// ErrIntegrity means an artifact failed authentication: the data is
	// corrupt or was tampered with. No plaintext is ever emitted once
	// this is raised.
	ErrIntegrity = errors.New("artifact authentication failed")

	// ErrKeyRecoveryExhausted means every configured encryption profile
	// was tried against the artifact and none decrypted it. Distinct
	// from ErrIntegrity: the data may be fine, we just lack the key.
	ErrKeyRecoveryExhausted = errors.New("no configured encryption profile can decrypt this artifact")

	// ErrPrivilegedAuthRequired is surfaced when adapter output shows a
	// permission failure; the caller may retry once with elevated
	// credentials.
	ErrPrivilegedAuthRequired = errors.New("privileged authentication required")

	// ErrAPIKeyDisabled and ErrAPIKeyExpired are distinct from a plain
	// lookup miss so callers can report a revoked key differently from
	// an unknown one.
	ErrAPIKeyDisabled = errors.New("api key is disabled")
	ErrAPIKeyExpired  = errors.New("api key is expired")
)

// ConfigurationError is fatal before any pipeline starts: an unknown
// adapter id, an invalid settings payload, or a dangling reference.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ConnectivityError wraps a failed adapter connectivity test. It is
// surfaced to the caller; no pipeline is started.
type ConnectivityError struct {
	Adapter string
	Err     error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity check failed for %s: %v", e.Adapter, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// StageError records which pipeline stage failed. The execution moves
// to Failed with the triggering error preserved; cleanup still runs.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// VersionIncompatibilityError refuses a restore whose backup was taken
// from a strictly newer database engine than the target runs.
type VersionIncompatibilityError struct {
	BackupVersion string
	TargetVersion string
}

func (e *VersionIncompatibilityError) Error() string {
	return fmt.Sprintf("backup was created from engine version %s which is newer than the target's version %s",
		e.BackupVersion, e.TargetVersion)
}
