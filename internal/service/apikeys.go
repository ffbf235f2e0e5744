package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/store"
)

const rawKeyBytes = 30 // 60 hex chars after the fixed prefix

// APIKeyService issues and validates bearer tokens. Only a SHA-256
// hash is stored; the raw token is returned exactly once at creation.
type APIKeyService struct {
	store  *store.Store
	audit  *AuditService
	logger *logger.Logger
}

func NewAPIKeys(st *store.Store, audit *AuditService, log *logger.Logger) *APIKeyService {
	return &APIKeyService{store: st, audit: audit, logger: log}
}

// Generate mints a new key and returns the stored record together with
// the raw token. The raw token is never recoverable afterwards.
func (s *APIKeyService) Generate(ctx context.Context, name, userID string, expiresAt *time.Time) (*domain.APIKey, string, error) {
	if name == "" {
		return nil, "", domain.NewConfigurationError("api key name is required")
	}

	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("failed to generate key material: %w", err)
	}
	raw := domain.APIKeyPrefix + hex.EncodeToString(buf)

	key := &domain.APIKey{
		ID:            uuid.NewString(),
		Name:          name,
		DisplayPrefix: raw[:len(domain.APIKeyPrefix)+8],
		Hash:          hashToken(raw),
		UserID:        userID,
		Enabled:       true,
		ExpiresAt:     expiresAt,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveAPIKey(key); err != nil {
		return nil, "", fmt.Errorf("failed to save api key: %w", err)
	}
	s.audit.Record(domain.AuditCreate, "api_key", key.ID, userID, name)
	return key, raw, nil
}

// Validate resolves a bearer token to its key record. The fixed prefix
// is checked before any storage lookup; disabled and expired keys fail
// with distinct errors. The last-used timestamp is updated
// fire-and-forget.
func (s *APIKeyService) Validate(ctx context.Context, token string) (*domain.APIKey, error) {
	if !strings.HasPrefix(token, domain.APIKeyPrefix) {
		return nil, domain.ErrNotFound
	}

	key, err := s.store.FindAPIKeyByHash(hashToken(token))
	if err != nil {
		return nil, err
	}
	if !key.Enabled {
		return nil, domain.ErrAPIKeyDisabled
	}
	if key.Expired(time.Now().UTC()) {
		return nil, domain.ErrAPIKeyExpired
	}

	go func(id string) {
		// Re-read so a concurrent enable/disable is never clobbered.
		current, err := s.store.GetAPIKey(id)
		if err != nil {
			return
		}
		now := time.Now().UTC()
		current.LastUsedAt = &now
		if err := s.store.SaveAPIKey(current); err != nil {
			s.logger.Debugf("failed to update last-used for api key %s: %v", id, err)
		}
	}(key.ID)
	return key, nil
}

// SetEnabled toggles a key without revoking its hash.
func (s *APIKeyService) SetEnabled(ctx context.Context, id string, enabled bool, userID string) error {
	key, err := s.store.GetAPIKey(id)
	if err != nil {
		return err
	}
	key.Enabled = enabled
	if err := s.store.SaveAPIKey(key); err != nil {
		return err
	}
	s.audit.Record(domain.AuditUpdate, "api_key", id, userID, fmt.Sprintf("enabled=%t", enabled))
	return nil
}

func (s *APIKeyService) Delete(ctx context.Context, id, userID string) error {
	key, err := s.store.GetAPIKey(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAPIKey(id); err != nil {
		return err
	}
	s.audit.Record(domain.AuditDelete, "api_key", id, userID, key.Name)
	return nil
}

func (s *APIKeyService) List(ctx context.Context) ([]domain.APIKey, error) {
	return s.store.ListAPIKeys()
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
