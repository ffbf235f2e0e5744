package usecase

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbackup/dbackup/internal/adapter"
	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/store"
	"github.com/dbackup/dbackup/internal/stream"
)

// RestoreInput describes one restore request. Privileged credentials,
// when present, are forwarded to the database adapter for this single
// invocation and never persisted.
type RestoreInput struct {
	StorageConfigID string                   `json:"storageConfigId"`
	ArtifactPath    string                   `json:"artifactPath"`
	TargetConfigID  string                   `json:"targetConfigId"`
	TargetDatabase  string                   `json:"targetDatabase,omitempty"`
	Mappings        []domain.DatabaseMapping `json:"mappings,omitempty"`
	Privileged      *domain.Credentials      `json:"privileged,omitempty"`
}

// RestoreService runs the download -> decode -> restore pipeline.
// Pre-flight checks happen synchronously before an execution record
// exists; everything after runs in the background under the shared
// queue.
type RestoreService struct {
	store    *store.Store
	registry *adapter.Registry
	queue    *Queue
	logger   *logger.Logger
	tempDir  string
}

func NewRestoreService(st *store.Store, reg *adapter.Registry, q *Queue, log *logger.Logger, tempDir string) *RestoreService {
	return &RestoreService{
		store:    st,
		registry: reg,
		queue:    q,
		logger:   log,
		tempDir:  tempDir,
	}
}

// Restore validates the request, creates an execution, and returns its
// id while the pipeline proceeds in the background.
func (s *RestoreService) Restore(ctx context.Context, input RestoreInput) (string, error) {
	storageCfg, err := s.store.GetAdapterConfig(input.StorageConfigID)
	if err != nil {
		return "", domain.NewConfigurationError("storage config %s not found", input.StorageConfigID)
	}
	if _, err := s.registry.Storage(storageCfg.AdapterID); err != nil {
		return "", err
	}

	targetCfg, err := s.store.GetAdapterConfig(input.TargetConfigID)
	if err != nil {
		return "", domain.NewConfigurationError("target source not found")
	}
	db, err := s.registry.Database(targetCfg.AdapterID)
	if err != nil {
		return "", err
	}
	if ok, err := db.PrepareRestore(ctx, targetCfg.Settings); err != nil || !ok {
		return "", domain.NewConfigurationError("target source not found")
	}

	exec := &domain.Execution{
		ID:        uuid.NewString(),
		Type:      domain.ExecutionRestore,
		Status:    domain.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	exec.SetMeta("artifact", input.ArtifactPath)
	exec.SetMeta("target", targetCfg.Name)
	if err := s.store.SaveExecution(exec); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	s.queue.Submit(func() {
		s.run(exec.ID, input)
	})
	return exec.ID, nil
}

func (s *RestoreService) run(execID string, input RestoreInput) {
	ctx := context.Background()

	exec, err := s.store.GetExecution(execID)
	if err != nil {
		s.logger.Errorf("restore execution %s vanished before start: %v", execID, err)
		return
	}

	if err := s.pipeline(ctx, exec, input); err != nil {
		exec.Error = err.Error()
		if errors.Is(err, domain.ErrPrivilegedAuthRequired) {
			exec.SetMeta("privilegedAuthRequired", "true")
		}
		exec.Finish(domain.StatusFailed)
		s.save(exec)
		s.logger.Errorf("restore %s failed: %v", exec.ID, err)
		return
	}

	exec.Finish(domain.StatusSuccess)
	s.save(exec)
	s.logger.Infof("restore %s of %s completed", exec.ID, input.ArtifactPath)
}

func (s *RestoreService) pipeline(ctx context.Context, exec *domain.Execution, input RestoreInput) error {
	enter := func(stage domain.Stage, progress int, message string) {
		exec.Stage = stage
		exec.Progress = progress
		exec.AppendLog(domain.LogInfo, stage, message, "")
		s.save(exec)
	}
	abort := func(stage domain.Stage, err error) error {
		exec.AppendLog(domain.LogError, stage, err.Error(), "")
		s.save(exec)
		return &domain.StageError{Stage: stage, Err: err}
	}

	enter(domain.StagePrepare, 5, "resolving adapters")

	storageCfg, err := s.store.GetAdapterConfig(input.StorageConfigID)
	if err != nil {
		return abort(domain.StagePrepare, err)
	}
	storageAdapter, err := s.registry.Storage(storageCfg.AdapterID)
	if err != nil {
		return abort(domain.StagePrepare, err)
	}
	targetCfg, err := s.store.GetAdapterConfig(input.TargetConfigID)
	if err != nil {
		return abort(domain.StagePrepare, err)
	}
	db, err := s.registry.Database(targetCfg.AdapterID)
	if err != nil {
		return abort(domain.StagePrepare, err)
	}

	workDir := filepath.Join(s.tempDir, exec.ID)
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return abort(domain.StagePrepare, fmt.Errorf("failed to create work dir: %w", err))
	}
	defer func() {
		exec.Stage = domain.StageCleanup
		if err := os.RemoveAll(workDir); err != nil {
			exec.AppendLog(domain.LogWarn, domain.StageCleanup, "failed to remove temp files", err.Error())
		} else {
			exec.AppendLog(domain.LogInfo, domain.StageCleanup, "temp files removed", "")
		}
		s.save(exec)
	}()

	// Download
	enter(domain.StageDownload, 20, "downloading "+input.ArtifactPath)

	localArtifact := filepath.Join(workDir, filepath.Base(input.ArtifactPath))
	if err := storageAdapter.Download(ctx, storageCfg.Settings, input.ArtifactPath, localArtifact); err != nil {
		return abort(domain.StageDownload, fmt.Errorf("failed to download artifact: %w", err))
	}

	sidecar, err := s.fetchSidecar(ctx, storageAdapter, storageCfg.Settings, input.ArtifactPath)
	if err != nil {
		return abort(domain.StageDownload, err)
	}
	if sidecar == nil {
		// No sidecar: treat the artifact as a plain, uncompressed dump.
		sidecar = &domain.Sidecar{Compression: domain.CompressionNone}
		exec.AppendLog(domain.LogWarn, domain.StageDownload, "no sidecar found, assuming plain artifact", "")
	}

	// Version guard: a backup from a strictly newer engine is refused
	// before touching the target.
	if sidecar.EngineVersion != "" {
		test, err := db.Test(ctx, targetCfg.Settings)
		if err != nil {
			return abort(domain.StagePrepare, err)
		}
		if test.Version != "" && compareVersions(sidecar.EngineVersion, test.Version) > 0 {
			return abort(domain.StagePrepare, &domain.VersionIncompatibilityError{
				BackupVersion: sidecar.EngineVersion,
				TargetVersion: test.Version,
			})
		}
	}

	// Decode
	enter(domain.StageDecode, 45, "decoding artifact")
	plainPath, err := s.decode(exec, db, localArtifact, sidecar, workDir)
	if err != nil {
		return abort(domain.StageDecode, err)
	}

	// Restore
	enter(domain.StageRestore, 70, "restoring into "+targetCfg.Name)

	targets := restoreTargets(input, sidecar)
	if len(targets) == 0 {
		return abort(domain.StageRestore, domain.NewConfigurationError("no database selected for restore"))
	}
	for _, target := range targets {
		opts := domain.RestoreOptions{TargetDatabase: target, Privileged: input.Privileged}
		result, err := db.Restore(ctx, targetCfg.Settings, plainPath, opts)
		if len(result.Logs) > 0 {
			exec.AppendLog(domain.LogInfo, domain.StageRestore, "restore output", strings.Join(result.Logs, "\n"))
		}
		if err != nil {
			if input.Privileged == nil && looksLikePermissionError(err, result.Logs) {
				return abort(domain.StageRestore,
					fmt.Errorf("%w: %v", domain.ErrPrivilegedAuthRequired, err))
			}
			return abort(domain.StageRestore, err)
		}
	}
	return nil
}

// fetchSidecar reads the artifact's metadata document. A missing
// sidecar is not an error; a present but unparsable one is.
func (s *RestoreService) fetchSidecar(ctx context.Context, storageAdapter domain.StorageAdapter, cfg domain.Settings, artifactPath string) (*domain.Sidecar, error) {
	data, err := storageAdapter.Read(ctx, cfg, domain.SidecarName(artifactPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var sidecar domain.Sidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return &sidecar, nil
}

// decode reverses the artifact's recorded encoding: decrypt per
// sidecar, then decompress per sidecar. It returns the path of the
// plain dump ready for the database adapter.
func (s *RestoreService) decode(exec *domain.Execution, db domain.DatabaseAdapter, artifactPath string, sidecar *domain.Sidecar, workDir string) (string, error) {
	current := artifactPath

	if sidecar.Encryption != nil {
		decrypted := filepath.Join(workDir, "decrypted")
		if err := s.decrypt(exec, db, current, decrypted, sidecar, workDir); err != nil {
			return "", err
		}
		current = decrypted
	}

	if sidecar.Compression != "" && sidecar.Compression != domain.CompressionNone {
		plain := filepath.Join(workDir, "plain")
		if err := stream.DecompressFile(current, plain, sidecar.Compression); err != nil {
			return "", fmt.Errorf("failed to decompress artifact: %w", err)
		}
		current = plain
	}
	return current, nil
}

// decrypt tries the profile recorded in the sidecar first. When that
// profile no longer exists, every remaining profile is tried in turn;
// a candidate only counts if its output decompresses to something the
// database adapter recognizes as its own dump format.
func (s *RestoreService) decrypt(exec *domain.Execution, db domain.DatabaseAdapter, src, dst string, sidecar *domain.Sidecar, workDir string) error {
	enc := sidecar.Encryption

	iv, err := hex.DecodeString(enc.IV)
	if err != nil {
		return fmt.Errorf("invalid iv in sidecar: %w", err)
	}
	tag, err := hex.DecodeString(enc.AuthTag)
	if err != nil {
		return fmt.Errorf("invalid auth tag in sidecar: %w", err)
	}

	profile, err := s.store.GetEncryptionProfile(enc.ProfileID)
	if err == nil {
		masterKey, err := hex.DecodeString(profile.MasterKey)
		if err != nil {
			return fmt.Errorf("invalid master key in profile %s: %w", profile.Name, err)
		}
		return stream.DecryptFile(masterKey, iv, tag, src, dst)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	exec.AppendLog(domain.LogWarn, domain.StageDecode,
		"recorded encryption profile "+enc.ProfileID+" is gone, trying all profiles", "")
	s.save(exec)

	profiles, err := s.store.ListEncryptionProfiles()
	if err != nil {
		return err
	}
	for _, candidate := range profiles {
		masterKey, err := hex.DecodeString(candidate.MasterKey)
		if err != nil {
			continue
		}
		if err := stream.DecryptFile(masterKey, iv, tag, src, dst); err != nil {
			if errors.Is(err, domain.ErrIntegrity) {
				continue
			}
			return err
		}
		if !s.plausibleDump(db, dst, sidecar.Compression, workDir) {
			os.Remove(dst)
			continue
		}

		exec.SetMeta("recoveredProfileId", candidate.ID)
		exec.AppendLog(domain.LogInfo, domain.StageDecode,
			"artifact decrypted with profile "+candidate.Name, "")
		s.save(exec)
		return nil
	}
	return domain.ErrKeyRecoveryExhausted
}

// plausibleDump checks that a decrypted candidate actually opens as a
// dump in the target engine's format.
func (s *RestoreService) plausibleDump(db domain.DatabaseAdapter, path string, compression domain.CompressionMode, workDir string) bool {
	probePath := path
	if compression != "" && compression != domain.CompressionNone {
		probe := filepath.Join(workDir, "probe")
		if err := stream.DecompressFile(path, probe, compression); err != nil {
			return false
		}
		defer os.Remove(probe)
		probePath = probe
	}

	f, err := os.Open(probePath)
	if err != nil {
		return false
	}
	defer f.Close()
	return db.LooksValid(f)
}

func (s *RestoreService) save(exec *domain.Execution) {
	if err := s.store.SaveExecution(exec); err != nil {
		s.logger.Errorf("failed to persist execution %s: %v", exec.ID, err)
	}
}

// restoreTargets resolves the logical database names to restore under.
// Explicit mappings win; then the request-level override; then the
// names recorded in the sidecar.
func restoreTargets(input RestoreInput, sidecar *domain.Sidecar) []string {
	if len(input.Mappings) > 0 {
		var targets []string
		for _, m := range input.Mappings {
			if !m.Selected {
				continue
			}
			name := m.TargetName
			if name == "" {
				name = m.OriginalName
			}
			targets = append(targets, name)
		}
		return targets
	}
	if input.TargetDatabase != "" {
		return []string{input.TargetDatabase}
	}
	if len(sidecar.Databases) > 0 && sidecar.Databases[0] != "" {
		return []string{sidecar.Databases[0]}
	}
	// Empty target: the adapter restores under the configured name.
	return []string{""}
}

var permissionMarkers = []string{
	"permission denied",
	"access denied",
	"must be owner",
	"insufficient privilege",
	"not authorized",
	"requires superuser",
}

func looksLikePermissionError(err error, logs []string) bool {
	haystack := strings.ToLower(err.Error() + "\n" + strings.Join(logs, "\n"))
	for _, marker := range permissionMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// compareVersions orders two dotted numeric versions; missing segments
// count as zero, non-numeric tails are ignored.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av = numericPrefix(as[i])
		}
		if i < len(bs) {
			bv = numericPrefix(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func numericPrefix(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}
