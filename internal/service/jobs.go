package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/infrastructure/scheduler"
	"github.com/dbackup/dbackup/internal/store"
	"github.com/dbackup/dbackup/internal/usecase"
)

// JobService owns the job lifecycle. Every mutation persists the job
// and then rebuilds the scheduler from current state, so schedule
// changes take effect immediately and deleted jobs never fire again.
type JobService struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	runner    *usecase.Runner
	audit     *AuditService
	logger    *logger.Logger
}

func NewJobs(st *store.Store, sched *scheduler.Scheduler, runner *usecase.Runner, audit *AuditService, log *logger.Logger) *JobService {
	return &JobService{
		store:     st,
		scheduler: sched,
		runner:    runner,
		audit:     audit,
		logger:    log,
	}
}

func (s *JobService) validate(ctx context.Context, job *domain.Job) error {
	if job.Name == "" {
		return domain.NewConfigurationError("job name is required")
	}
	if job.Schedule != "" {
		if err := s.scheduler.ValidateSpec(job.Schedule); err != nil {
			return domain.NewConfigurationError("invalid cron expression %q: %v", job.Schedule, err)
		}
	}

	src, err := s.store.GetAdapterConfig(job.SourceConfigID)
	if err != nil {
		return domain.NewConfigurationError("source config %s not found", job.SourceConfigID)
	}
	if src.Category != domain.CategoryDatabase {
		return domain.NewConfigurationError("config %s is not a database source", src.Name)
	}
	dst, err := s.store.GetAdapterConfig(job.DestinationConfigID)
	if err != nil {
		return domain.NewConfigurationError("destination config %s not found", job.DestinationConfigID)
	}
	if dst.Category != domain.CategoryStorage {
		return domain.NewConfigurationError("config %s is not a storage destination", dst.Name)
	}
	if job.EncryptionProfileID != "" {
		if _, err := s.store.GetEncryptionProfile(job.EncryptionProfileID); err != nil {
			return domain.NewConfigurationError("encryption profile %s not found", job.EncryptionProfileID)
		}
	}
	for _, id := range job.NotificationIDs {
		if _, err := s.store.GetAdapterConfig(id); err != nil {
			return domain.NewConfigurationError("notification config %s not found", id)
		}
	}

	switch job.Compression {
	case "", domain.CompressionNone, domain.CompressionGzip, domain.CompressionBrotli:
	default:
		return domain.NewConfigurationError("unknown compression mode %q", job.Compression)
	}
	switch job.Retention.Kind {
	case "", domain.RetentionNone:
	case domain.RetentionSimple:
		if job.Retention.KeepCount < 1 {
			return domain.NewConfigurationError("simple retention requires keepCount >= 1")
		}
	case domain.RetentionSmart:
	default:
		return domain.NewConfigurationError("unknown retention kind %q", job.Retention.Kind)
	}
	return nil
}

func (s *JobService) Create(ctx context.Context, job *domain.Job, userID string) error {
	if err := s.validate(ctx, job); err != nil {
		return err
	}
	job.ID = uuid.NewString()
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.store.SaveJob(job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	s.refresh()
	s.audit.Record(domain.AuditCreate, "job", job.ID, userID, job.Name)
	return nil
}

func (s *JobService) Update(ctx context.Context, job *domain.Job, userID string) error {
	existing, err := s.store.GetJob(job.ID)
	if err != nil {
		return err
	}
	if err := s.validate(ctx, job); err != nil {
		return err
	}
	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveJob(job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	s.refresh()
	s.audit.Record(domain.AuditUpdate, "job", job.ID, userID, job.Name)
	return nil
}

func (s *JobService) Delete(ctx context.Context, id, userID string) error {
	job, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteJob(id); err != nil {
		return err
	}
	s.refresh()
	s.audit.Record(domain.AuditDelete, "job", id, userID, job.Name)
	return nil
}

func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(id)
}

func (s *JobService) List(ctx context.Context) ([]domain.Job, error) {
	return s.store.ListJobs()
}

// Trigger starts a run outside the schedule and returns the execution
// id.
func (s *JobService) Trigger(ctx context.Context, id, userID string) (string, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return "", err
	}
	execID, err := s.runner.Trigger(*job)
	if err != nil {
		return "", err
	}
	s.audit.Record(domain.AuditExecute, "job", id, userID, "manual trigger")
	return execID, nil
}

// RefreshScheduler rebuilds the timer set from stored jobs, used at
// startup and after every job mutation.
func (s *JobService) RefreshScheduler() {
	s.refresh()
}

func (s *JobService) refresh() {
	jobs, err := s.store.EnabledJobs()
	if err != nil {
		s.logger.Errorf("failed to load jobs for scheduler refresh: %v", err)
		return
	}
	s.scheduler.Refresh(jobs)
}
