package store

import (
	"encoding/json"
	"sort"

	"github.com/dbackup/dbackup/internal/domain"
)

func (s *Store) SaveJob(job *domain.Job) error {
	return s.put(jobKeyPrefix+job.ID, job)
}

func (s *Store) GetJob(id string) (*domain.Job, error) {
	var job domain.Job
	if err := s.get(jobKeyPrefix+id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) DeleteJob(id string) error {
	return s.remove(jobKeyPrefix + id)
}

// ListJobs returns all jobs ordered by creation date descending.
func (s *Store) ListJobs() ([]domain.Job, error) {
	var jobs []domain.Job
	err := s.scan(jobKeyPrefix, func(val []byte) error {
		var job domain.Job
		if err := json.Unmarshal(val, &job); err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// EnabledJobs returns the jobs the scheduler should carry.
func (s *Store) EnabledJobs() ([]domain.Job, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	enabled := jobs[:0]
	for _, job := range jobs {
		if job.Enabled {
			enabled = append(enabled, job)
		}
	}
	return enabled, nil
}
