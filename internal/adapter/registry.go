// Package adapter hosts the pluggable backend implementations and the
// registry that resolves a stable adapter id string to an instance.
package adapter

import (
	"github.com/dbackup/dbackup/internal/adapter/database"
	"github.com/dbackup/dbackup/internal/adapter/notification"
	"github.com/dbackup/dbackup/internal/adapter/storage"
	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
)

// Registry maps adapter ids ("postgres", "s3-aws", ...) to instances.
// Unknown ids are a fatal configuration error, caught when an
// AdapterConfig is created rather than when a pipeline runs.
type Registry struct {
	databases     map[string]domain.DatabaseAdapter
	storages      map[string]domain.StorageAdapter
	notifications map[string]domain.NotificationAdapter
}

func NewRegistry() *Registry {
	return &Registry{
		databases:     make(map[string]domain.DatabaseAdapter),
		storages:      make(map[string]domain.StorageAdapter),
		notifications: make(map[string]domain.NotificationAdapter),
	}
}

// Default builds the registry with every built-in adapter registered.
func Default(log *logger.Logger) *Registry {
	r := NewRegistry()
	r.RegisterDatabase(database.NewPostgres())
	r.RegisterDatabase(database.NewMySQL())
	r.RegisterDatabase(database.NewMongoDB())
	r.RegisterStorage(storage.NewLocal())
	r.RegisterStorage(storage.NewS3())
	r.RegisterStorage(storage.NewGDrive())
	r.RegisterNotification(notification.NewTelegram())
	r.RegisterNotification(notification.NewMQTT(log.Named("mqtt")))
	return r
}

func (r *Registry) RegisterDatabase(a domain.DatabaseAdapter) {
	r.databases[a.ID()] = a
}

func (r *Registry) RegisterStorage(a domain.StorageAdapter) {
	r.storages[a.ID()] = a
}

func (r *Registry) RegisterNotification(a domain.NotificationAdapter) {
	r.notifications[a.ID()] = a
}

func (r *Registry) Database(id string) (domain.DatabaseAdapter, error) {
	a, ok := r.databases[id]
	if !ok {
		return nil, domain.NewConfigurationError("unknown database adapter %q", id)
	}
	return a, nil
}

func (r *Registry) Storage(id string) (domain.StorageAdapter, error) {
	a, ok := r.storages[id]
	if !ok {
		return nil, domain.NewConfigurationError("unknown storage adapter %q", id)
	}
	return a, nil
}

func (r *Registry) Notification(id string) (domain.NotificationAdapter, error) {
	a, ok := r.notifications[id]
	if !ok {
		return nil, domain.NewConfigurationError("unknown notification adapter %q", id)
	}
	return a, nil
}

// ValidateConfig resolves the adapter named by cfg and validates its
// settings payload against it.
func (r *Registry) ValidateConfig(cfg *domain.AdapterConfig) error {
	switch cfg.Category {
	case domain.CategoryDatabase:
		a, err := r.Database(cfg.AdapterID)
		if err != nil {
			return err
		}
		return a.Validate(cfg.Settings)
	case domain.CategoryStorage:
		a, err := r.Storage(cfg.AdapterID)
		if err != nil {
			return err
		}
		return a.Validate(cfg.Settings)
	case domain.CategoryNotification:
		a, err := r.Notification(cfg.AdapterID)
		if err != nil {
			return err
		}
		return a.Validate(cfg.Settings)
	default:
		return domain.NewConfigurationError("unknown adapter category %q", cfg.Category)
	}
}
