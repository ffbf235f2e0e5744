package store

import (
	"encoding/json"

	"github.com/dbackup/dbackup/internal/domain"
)

// apiKeyRecord re-exposes the hash for persistence; the domain type
// hides it from API responses.
type apiKeyRecord struct {
	domain.APIKey
	Hash string `json:"hash"`
}

func (r *apiKeyRecord) toDomain() *domain.APIKey {
	key := r.APIKey
	key.Hash = r.Hash
	return &key
}

func (s *Store) SaveAPIKey(key *domain.APIKey) error {
	rec := apiKeyRecord{APIKey: *key, Hash: key.Hash}
	return s.put(apiKeyKeyPrefix+key.ID, &rec)
}

func (s *Store) GetAPIKey(id string) (*domain.APIKey, error) {
	var key apiKeyRecord
	if err := s.get(apiKeyKeyPrefix+id, &key); err != nil {
		return nil, err
	}
	return key.toDomain(), nil
}

func (s *Store) DeleteAPIKey(id string) error {
	return s.remove(apiKeyKeyPrefix + id)
}

// FindAPIKeyByHash looks a key up by its token hash.
func (s *Store) FindAPIKeyByHash(hash string) (*domain.APIKey, error) {
	var found *domain.APIKey
	err := s.scan(apiKeyKeyPrefix, func(val []byte) error {
		var key apiKeyRecord
		if err := json.Unmarshal(val, &key); err != nil {
			return err
		}
		if key.Hash == hash {
			found = key.toDomain()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (s *Store) ListAPIKeys() ([]domain.APIKey, error) {
	var keys []domain.APIKey
	err := s.scan(apiKeyKeyPrefix, func(val []byte) error {
		var key apiKeyRecord
		if err := json.Unmarshal(val, &key); err != nil {
			return err
		}
		keys = append(keys, *key.toDomain())
		return nil
	})
	return keys, err
}

func (s *Store) SaveAuditRecord(rec *domain.AuditRecord) error {
	return s.put(auditKeyPrefix+rec.ID, rec)
}

func (s *Store) ListAuditRecords() ([]domain.AuditRecord, error) {
	var recs []domain.AuditRecord
	err := s.scan(auditKeyPrefix, func(val []byte) error {
		var rec domain.AuditRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	return recs, err
}
