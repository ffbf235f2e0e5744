package usecase

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbackup/dbackup/internal/adapter"
	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/store"
	"github.com/dbackup/dbackup/internal/stream"
)

// Runner drives one backup execution through
// prepare -> dump -> compress -> encrypt -> upload -> retention ->
// notify -> cleanup. Every stage appends a structured log entry to the
// execution record; local temp artifacts are removed on every exit
// path.
type Runner struct {
	store     *store.Store
	registry  *adapter.Registry
	queue     *Queue
	retention *RetentionEngine
	logger    *logger.Logger
	tempDir   string
}

func NewRunner(st *store.Store, reg *adapter.Registry, q *Queue, ret *RetentionEngine, log *logger.Logger, tempDir string) *Runner {
	return &Runner{
		store:     st,
		registry:  reg,
		queue:     q,
		retention: ret,
		logger:    log,
		tempDir:   tempDir,
	}
}

// Trigger creates a Pending execution for the job, submits the
// pipeline to the queue, and returns the execution id immediately.
func (r *Runner) Trigger(job domain.Job) (string, error) {
	exec := &domain.Execution{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Type:      domain.ExecutionBackup,
		Status:    domain.StatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.SaveExecution(exec); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	r.queue.Submit(func() {
		r.run(exec.ID, job)
	})
	return exec.ID, nil
}

func (r *Runner) run(execID string, job domain.Job) {
	ctx := context.Background()

	exec, err := r.store.GetExecution(execID)
	if err != nil {
		r.logger.Errorf("execution %s vanished before start: %v", execID, err)
		return
	}
	exec.Status = domain.StatusRunning
	r.save(exec)

	if err := r.pipeline(ctx, exec, job); err != nil {
		exec.Error = err.Error()
		r.notify(exec, job, domain.EventBackupFailed, err.Error())
		exec.Finish(domain.StatusFailed)
		r.save(exec)
		r.logger.Errorf("backup %s for job %s failed: %v", exec.ID, job.Name, err)
		return
	}

	r.notify(exec, job, domain.EventBackupSuccess,
		fmt.Sprintf("backup stored as %s", exec.Metadata["artifact"]))
	exec.Finish(domain.StatusSuccess)
	r.save(exec)
	r.logger.Infof("backup %s for job %s completed", exec.ID, job.Name)
}

func (r *Runner) pipeline(ctx context.Context, exec *domain.Execution, job domain.Job) error {
	enter := func(stage domain.Stage, progress int, message string) {
		exec.Stage = stage
		exec.Progress = progress
		exec.AppendLog(domain.LogInfo, stage, message, "")
		r.save(exec)
	}
	abort := func(stage domain.Stage, err error) error {
		exec.AppendLog(domain.LogError, stage, err.Error(), "")
		r.save(exec)
		return &domain.StageError{Stage: stage, Err: err}
	}

	// Prepare
	enter(domain.StagePrepare, 5, "resolving adapters and testing connectivity")

	sourceCfg, err := r.store.GetAdapterConfig(job.SourceConfigID)
	if err != nil {
		return abort(domain.StagePrepare, fmt.Errorf("source config %s: %w", job.SourceConfigID, err))
	}
	db, err := r.registry.Database(sourceCfg.AdapterID)
	if err != nil {
		return abort(domain.StagePrepare, err)
	}
	destCfg, err := r.store.GetAdapterConfig(job.DestinationConfigID)
	if err != nil {
		return abort(domain.StagePrepare, fmt.Errorf("destination config %s: %w", job.DestinationConfigID, err))
	}
	storageAdapter, err := r.registry.Storage(destCfg.AdapterID)
	if err != nil {
		return abort(domain.StagePrepare, err)
	}

	testResult, err := db.Test(ctx, sourceCfg.Settings)
	if err != nil {
		return abort(domain.StagePrepare, err)
	}

	workDir := filepath.Join(r.tempDir, exec.ID)
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return abort(domain.StagePrepare, fmt.Errorf("failed to create work dir: %w", err))
	}
	// Local temp artifacts are removed however the pipeline ends.
	defer func() {
		exec.Stage = domain.StageCleanup
		if err := os.RemoveAll(workDir); err != nil {
			exec.AppendLog(domain.LogWarn, domain.StageCleanup, "failed to remove temp files", err.Error())
		} else {
			exec.AppendLog(domain.LogInfo, domain.StageCleanup, "temp files removed", "")
		}
		r.save(exec)
	}()

	// Dump
	timestamp := exec.StartedAt.Format(artifactTimeLayout)
	artifactPath := filepath.Join(workDir, timestamp+db.FileExt())

	enter(domain.StageDump, 20, fmt.Sprintf("dumping %s via %s", sourceCfg.Name, db.ID()))
	dumpResult, err := db.Dump(ctx, sourceCfg.Settings, artifactPath)
	if err != nil {
		return abort(domain.StageDump, err)
	}
	exec.AppendLog(domain.LogInfo, domain.StageDump, "dump finished", strings.Join(dumpResult.Logs, "\n"))

	// Compress
	if job.Compression != "" && job.Compression != domain.CompressionNone {
		enter(domain.StageCompress, 40, "compressing with "+string(job.Compression))
		compressedPath := artifactPath + stream.Ext(job.Compression)
		if err := stream.CompressFile(artifactPath, compressedPath, job.Compression); err != nil {
			return abort(domain.StageCompress, err)
		}
		os.Remove(artifactPath)
		artifactPath = compressedPath
	}

	// Encrypt
	var sidecarEnc *domain.SidecarEncryption
	if job.EncryptionProfileID != "" {
		enter(domain.StageEncrypt, 55, "encrypting artifact")
		profile, err := r.store.GetEncryptionProfile(job.EncryptionProfileID)
		if err != nil {
			return abort(domain.StageEncrypt, fmt.Errorf("encryption profile %s: %w", job.EncryptionProfileID, err))
		}
		masterKey, err := hex.DecodeString(profile.MasterKey)
		if err != nil {
			return abort(domain.StageEncrypt, fmt.Errorf("invalid master key in profile %s: %w", profile.Name, err))
		}

		encryptedPath := artifactPath + ".enc"
		iv, tag, err := stream.EncryptFile(masterKey, artifactPath, encryptedPath)
		if err != nil {
			return abort(domain.StageEncrypt, err)
		}
		os.Remove(artifactPath)
		artifactPath = encryptedPath
		sidecarEnc = &domain.SidecarEncryption{
			ProfileID: profile.ID,
			IV:        hex.EncodeToString(iv),
			AuthTag:   hex.EncodeToString(tag),
		}
	}

	// Upload
	remotePath := artifactRemotePath(job.Name, filepath.Base(artifactPath))
	enter(domain.StageUpload, 70, "uploading to "+destCfg.Name)
	if err := storageAdapter.Upload(ctx, destCfg.Settings, remotePath, artifactPath); err != nil {
		return abort(domain.StageUpload, err)
	}

	compression := job.Compression
	if compression == "" {
		compression = domain.CompressionNone
	}
	sidecar := domain.Sidecar{
		EngineVersion: testResult.Version,
		Databases:     []string{sourceCfg.Settings["database"]},
		Compression:   compression,
		Encryption:    sidecarEnc,
	}
	if err := r.uploadSidecar(ctx, storageAdapter, destCfg.Settings, workDir, remotePath, sidecar); err != nil {
		return abort(domain.StageUpload, err)
	}

	exec.SetMeta("artifact", remotePath)
	if info, err := os.Stat(artifactPath); err == nil {
		exec.SetMeta("size", fmt.Sprintf("%d", info.Size()))
	}

	// Retention runs synchronously before the record goes Success so
	// its failures stay visible on this execution.
	if job.Retention.Kind != "" && job.Retention.Kind != domain.RetentionNone {
		enter(domain.StageRetention, 85, "applying retention policy "+string(job.Retention.Kind))
		deleted, err := r.retention.Apply(ctx, storageAdapter, destCfg.Settings, jobPrefix(job.Name), job.Retention, time.Now().UTC())
		if err != nil {
			return abort(domain.StageRetention, err)
		}
		if len(deleted) > 0 {
			exec.AppendLog(domain.LogInfo, domain.StageRetention,
				fmt.Sprintf("deleted %d expired artifact(s)", len(deleted)), strings.Join(deleted, "\n"))
		}
	}

	enter(domain.StageNotify, 95, "dispatching notifications")
	return nil
}

func (r *Runner) uploadSidecar(ctx context.Context, storageAdapter domain.StorageAdapter, cfg domain.Settings, workDir, remotePath string, sidecar domain.Sidecar) error {
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	localPath := filepath.Join(workDir, "sidecar.meta.json")
	if err := os.WriteFile(localPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	if err := storageAdapter.Upload(ctx, cfg, domain.SidecarName(remotePath), localPath); err != nil {
		return fmt.Errorf("failed to upload sidecar: %w", err)
	}
	return nil
}

// notify delivers an event to every configured channel of the job,
// best-effort on a detached goroutine per channel.
func (r *Runner) notify(exec *domain.Execution, job domain.Job, kind, message string) {
	event := domain.Event{
		Kind:        kind,
		JobName:     job.Name,
		ExecutionID: exec.ID,
		Message:     message,
		At:          time.Now().UTC(),
	}

	for _, configID := range job.NotificationIDs {
		cfg, err := r.store.GetAdapterConfig(configID)
		if err != nil {
			exec.AppendLog(domain.LogWarn, domain.StageNotify, "notification config missing: "+configID, err.Error())
			continue
		}
		notifier, err := r.registry.Notification(cfg.AdapterID)
		if err != nil {
			exec.AppendLog(domain.LogWarn, domain.StageNotify, "notification adapter missing", err.Error())
			continue
		}

		go func() {
			if err := notifier.Send(context.Background(), cfg.Settings, event); err != nil {
				r.logger.Warnf("notification via %s failed: %v", cfg.Name, err)
			}
		}()
	}
}

func (r *Runner) save(exec *domain.Execution) {
	if err := r.store.SaveExecution(exec); err != nil {
		r.logger.Errorf("failed to persist execution %s: %v", exec.ID, err)
	}
}

func jobPrefix(jobName string) string {
	if jobName == "" {
		return "manual/"
	}
	return jobName + "/"
}

func artifactRemotePath(jobName, filename string) string {
	return jobPrefix(jobName) + filename
}
