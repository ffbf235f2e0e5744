package domain

import "time"

type ExecutionType string

const (
	ExecutionBackup  ExecutionType = "backup"
	ExecutionRestore ExecutionType = "restore"
)

type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

// Stage labels a phase of the backup or restore pipeline. Stages run
// strictly sequentially within one execution.
type Stage string

const (
	StagePrepare   Stage = "prepare"
	StageDump      Stage = "dump"
	StageCompress  Stage = "compress"
	StageEncrypt   Stage = "encrypt"
	StageUpload    Stage = "upload"
	StageRetention Stage = "retention"
	StageNotify    Stage = "notify"
	StageCleanup   Stage = "cleanup"

	StageDownload Stage = "download"
	StageDecode   Stage = "decode"
	StageRestore  Stage = "restore"
)

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one structured event in an execution's append-only log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// Execution is the persisted state machine for one run. It is created
// at pipeline start, mutated in place per stage, and retained
// indefinitely once terminal.
type Execution struct {
	ID        string            `json:"id"`
	JobID     string            `json:"jobId,omitempty"`
	Type      ExecutionType     `json:"type"`
	Status    ExecutionStatus   `json:"status"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   *time.Time        `json:"endedAt,omitempty"`
	Progress  int               `json:"progress"`
	Stage     Stage             `json:"stage,omitempty"`
	Logs      []LogEntry        `json:"logs,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (e *Execution) AppendLog(level LogLevel, stage Stage, message, details string) {
	e.Logs = append(e.Logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Stage:     stage,
		Message:   message,
		Details:   details,
	})
}

func (e *Execution) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// Terminal reports whether the execution has reached a final status.
func (e *Execution) Terminal() bool {
	return e.Status == StatusSuccess || e.Status == StatusFailed
}

func (e *Execution) Finish(status ExecutionStatus) {
	now := time.Now().UTC()
	e.Status = status
	e.EndedAt = &now
	if status == StatusSuccess {
		e.Progress = 100
	}
}
