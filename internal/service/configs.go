package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dbackup/dbackup/internal/adapter"
	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/store"
)

// ConfigService manages adapter configurations and encryption
// profiles. Deletion is refused while a job still references the
// record, so pipelines never start with a dangling reference.
type ConfigService struct {
	store    *store.Store
	registry *adapter.Registry
	audit    *AuditService
}

func NewConfigs(st *store.Store, reg *adapter.Registry, audit *AuditService) *ConfigService {
	return &ConfigService{store: st, registry: reg, audit: audit}
}

func (s *ConfigService) Create(ctx context.Context, cfg *domain.AdapterConfig, userID string) error {
	if cfg.Name == "" {
		return domain.NewConfigurationError("config name is required")
	}
	if err := s.registry.ValidateConfig(cfg); err != nil {
		return err
	}
	cfg.ID = uuid.NewString()
	cfg.CreatedAt = time.Now().UTC()

	if err := s.store.SaveAdapterConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	s.audit.Record(domain.AuditCreate, "adapter_config", cfg.ID, userID, cfg.Name)
	return nil
}

func (s *ConfigService) Update(ctx context.Context, cfg *domain.AdapterConfig, userID string) error {
	existing, err := s.store.GetAdapterConfig(cfg.ID)
	if err != nil {
		return err
	}
	// Category and adapter binding are immutable; only name and
	// settings may change.
	cfg.Category = existing.Category
	cfg.AdapterID = existing.AdapterID
	cfg.CreatedAt = existing.CreatedAt
	if err := s.registry.ValidateConfig(cfg); err != nil {
		return err
	}

	if err := s.store.SaveAdapterConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	s.audit.Record(domain.AuditUpdate, "adapter_config", cfg.ID, userID, cfg.Name)
	return nil
}

func (s *ConfigService) Delete(ctx context.Context, id, userID string) error {
	cfg, err := s.store.GetAdapterConfig(id)
	if err != nil {
		return err
	}
	if err := s.refuseIfReferenced(id); err != nil {
		return err
	}
	if err := s.store.DeleteAdapterConfig(id); err != nil {
		return err
	}
	s.audit.Record(domain.AuditDelete, "adapter_config", id, userID, cfg.Name)
	return nil
}

func (s *ConfigService) Get(ctx context.Context, id string) (*domain.AdapterConfig, error) {
	return s.store.GetAdapterConfig(id)
}

func (s *ConfigService) List(ctx context.Context) ([]domain.AdapterConfig, error) {
	return s.store.ListAdapterConfigs()
}

// Test probes the configured backend. Database configs get a live
// connectivity check; storage and notification configs get a settings
// validation only.
func (s *ConfigService) Test(ctx context.Context, id string) (domain.TestResult, error) {
	cfg, err := s.store.GetAdapterConfig(id)
	if err != nil {
		return domain.TestResult{}, err
	}

	switch cfg.Category {
	case domain.CategoryDatabase:
		db, err := s.registry.Database(cfg.AdapterID)
		if err != nil {
			return domain.TestResult{}, err
		}
		result, err := db.Test(ctx, cfg.Settings)
		if err != nil {
			return domain.TestResult{}, &domain.ConnectivityError{Adapter: cfg.Name, Err: err}
		}
		return result, nil

	case domain.CategoryStorage:
		storageAdapter, err := s.registry.Storage(cfg.AdapterID)
		if err != nil {
			return domain.TestResult{}, err
		}
		if _, err := storageAdapter.List(ctx, cfg.Settings, ""); err != nil {
			return domain.TestResult{}, &domain.ConnectivityError{Adapter: cfg.Name, Err: err}
		}
		return domain.TestResult{Success: true, Message: "destination reachable"}, nil

	case domain.CategoryNotification:
		notifier, err := s.registry.Notification(cfg.AdapterID)
		if err != nil {
			return domain.TestResult{}, err
		}
		if err := notifier.Validate(cfg.Settings); err != nil {
			return domain.TestResult{}, err
		}
		return domain.TestResult{Success: true, Message: "settings are valid"}, nil
	}
	return domain.TestResult{}, domain.NewConfigurationError("unknown category %q", cfg.Category)
}

func (s *ConfigService) refuseIfReferenced(id string) error {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.SourceConfigID == id || job.DestinationConfigID == id {
			return domain.NewConfigurationError("config is used by job %q", job.Name)
		}
		for _, nid := range job.NotificationIDs {
			if nid == id {
				return domain.NewConfigurationError("config is used by job %q", job.Name)
			}
		}
	}
	return nil
}

const masterKeySize = 32

// CreateProfile mints a new encryption profile with a random master
// key. The key is generated server-side and never accepted from the
// caller.
func (s *ConfigService) CreateProfile(ctx context.Context, name, userID string) (*domain.EncryptionProfile, error) {
	if name == "" {
		return nil, domain.NewConfigurationError("profile name is required")
	}
	key := make([]byte, masterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	profile := &domain.EncryptionProfile{
		ID:        uuid.NewString(),
		Name:      name,
		MasterKey: hex.EncodeToString(key),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveEncryptionProfile(profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	s.audit.Record(domain.AuditCreate, "encryption_profile", profile.ID, userID, name)
	return profile, nil
}

// DeleteProfile removes a profile. Existing artifacts encrypted under
// it stay restorable only through smart key recovery, so deletion is
// refused while a job still references it.
func (s *ConfigService) DeleteProfile(ctx context.Context, id, userID string) error {
	profile, err := s.store.GetEncryptionProfile(id)
	if err != nil {
		return err
	}
	jobs, err := s.store.ListJobs()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.EncryptionProfileID == id {
			return domain.NewConfigurationError("profile is used by job %q", job.Name)
		}
	}
	if err := s.store.DeleteEncryptionProfile(id); err != nil {
		return err
	}
	s.audit.Record(domain.AuditDelete, "encryption_profile", id, userID, profile.Name)
	return nil
}

func (s *ConfigService) ListProfiles(ctx context.Context) ([]domain.EncryptionProfile, error) {
	return s.store.ListEncryptionProfiles()
}
