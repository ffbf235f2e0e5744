package store

import (
	"encoding/json"
	"sort"

	"github.com/dbackup/dbackup/internal/domain"
)

func (s *Store) SaveAdapterConfig(cfg *domain.AdapterConfig) error {
	return s.put(configKeyPrefix+cfg.ID, cfg)
}

func (s *Store) GetAdapterConfig(id string) (*domain.AdapterConfig, error) {
	var cfg domain.AdapterConfig
	if err := s.get(configKeyPrefix+id, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) DeleteAdapterConfig(id string) error {
	return s.remove(configKeyPrefix + id)
}

func (s *Store) ListAdapterConfigs() ([]domain.AdapterConfig, error) {
	var cfgs []domain.AdapterConfig
	err := s.scan(configKeyPrefix, func(val []byte) error {
		var cfg domain.AdapterConfig
		if err := json.Unmarshal(val, &cfg); err != nil {
			return err
		}
		cfgs = append(cfgs, cfg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(cfgs, func(i, j int) bool {
		return cfgs[i].CreatedAt.After(cfgs[j].CreatedAt)
	})
	return cfgs, nil
}

func (s *Store) SaveEncryptionProfile(p *domain.EncryptionProfile) error {
	return s.put(profileKeyPrefix+p.ID, p)
}

func (s *Store) GetEncryptionProfile(id string) (*domain.EncryptionProfile, error) {
	var p domain.EncryptionProfile
	if err := s.get(profileKeyPrefix+id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeleteEncryptionProfile(id string) error {
	return s.remove(profileKeyPrefix + id)
}

func (s *Store) ListEncryptionProfiles() ([]domain.EncryptionProfile, error) {
	var profiles []domain.EncryptionProfile
	err := s.scan(profileKeyPrefix, func(val []byte) error {
		var p domain.EncryptionProfile
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		profiles = append(profiles, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
	})
	return profiles, nil
}
