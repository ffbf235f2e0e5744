package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/dbackup/dbackup/internal/domain"
)

func (s *Store) SaveExecution(exec *domain.Execution) error {
	return s.put(executionKeyPrefix+exec.ID, exec)
}

func (s *Store) GetExecution(id string) (*domain.Execution, error) {
	var exec domain.Execution
	if err := s.get(executionKeyPrefix+id, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *Store) ListExecutions() ([]domain.Execution, error) {
	var execs []domain.Execution
	err := s.scan(executionKeyPrefix, func(val []byte) error {
		var exec domain.Execution
		if err := json.Unmarshal(val, &exec); err != nil {
			return err
		}
		execs = append(execs, exec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].StartedAt.After(execs[j].StartedAt)
	})
	return execs, nil
}

// ReconcileStaleExecutions marks executions still Pending or Running
// past the staleness threshold as Failed. Called once at startup so a
// crashed process never leaves a record stuck Running forever.
func (s *Store) ReconcileStaleExecutions(staleAfter time.Duration, now time.Time) (int, error) {
	execs, err := s.ListExecutions()
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for i := range execs {
		exec := &execs[i]
		if exec.Terminal() {
			continue
		}
		if now.Sub(exec.StartedAt) < staleAfter {
			continue
		}
		exec.Error = "execution abandoned: engine restarted while the pipeline was running"
		exec.AppendLog(domain.LogError, exec.Stage, "marked failed during startup reconciliation", "")
		exec.Finish(domain.StatusFailed)
		if err := s.SaveExecution(exec); err != nil {
			return reconciled, err
		}
		reconciled++
	}
	return reconciled, nil
}
