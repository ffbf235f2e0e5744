package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/store"
)

// AuditService records mutating actions on a fire-and-forget channel:
// a full buffer or a write failure never slows or fails the action
// being audited.
type AuditService struct {
	store   *store.Store
	logger  *logger.Logger
	records chan domain.AuditRecord
	done    chan struct{}
}

func NewAudit(st *store.Store, log *logger.Logger) *AuditService {
	s := &AuditService{
		store:   st,
		logger:  log,
		records: make(chan domain.AuditRecord, 256),
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *AuditService) worker() {
	defer close(s.done)
	for rec := range s.records {
		if err := s.store.SaveAuditRecord(&rec); err != nil {
			s.logger.Warnf("failed to persist audit record for %s %s: %v", rec.Action, rec.Resource, err)
		}
	}
}

// Record enqueues one audit entry. It never blocks; entries are dropped
// with a log line when the buffer is full.
func (s *AuditService) Record(action domain.AuditAction, resource, resourceID, userID, details string) {
	rec := domain.AuditRecord{
		ID:         uuid.NewString(),
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		UserID:     userID,
		Details:    details,
		At:         time.Now().UTC(),
	}
	select {
	case s.records <- rec:
	default:
		s.logger.Warnf("audit buffer full, dropping %s %s/%s", action, resource, resourceID)
	}
}

func (s *AuditService) List() ([]domain.AuditRecord, error) {
	return s.store.ListAuditRecords()
}

// Close drains the buffer and stops the worker.
func (s *AuditService) Close() {
	close(s.records)
	<-s.done
}
