package scheduler

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
)

// TriggerFunc fires one job run. It must return quickly; admission and
// execution happen behind the queue manager, never on the cron thread.
type TriggerFunc func(job domain.Job)

// Scheduler owns one cron timer per enabled job. Refresh is the sole
// mutation entry point: it rebuilds the full timer set wholesale from
// current job state, so stale schedules never fire and edits take
// effect without a restart.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	parser  cron.Parser
	entries map[string]cron.EntryID
	trigger TriggerFunc
	logger  *logger.Logger
	started bool
}

func New(log *logger.Logger, trigger TriggerFunc) *Scheduler {
	return &Scheduler{
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		entries: make(map[string]cron.EntryID),
		trigger: trigger,
		logger:  log,
	}
}

// Refresh atomically replaces the active timer set with one built from
// jobs. An invalid cron expression on one job is logged and skipped
// without affecting any other job.
func (s *Scheduler) Refresh(jobs []domain.Job) {
	next := cron.New(cron.WithParser(s.parser))
	entries := make(map[string]cron.EntryID, len(jobs))

	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		job := job
		entryID, err := next.AddFunc(job.Schedule, func() {
			s.trigger(job)
		})
		if err != nil {
			s.logger.Errorf("invalid cron expression %q for job %s: %v", job.Schedule, job.Name, err)
			continue
		}
		entries[job.ID] = entryID
	}

	s.mu.Lock()
	old := s.cron
	s.cron = next
	s.entries = entries
	if s.started {
		next.Start()
	}
	s.mu.Unlock()

	if old != nil {
		// Lets an in-flight trigger callback finish before the old
		// timer set is discarded.
		<-old.Stop().Done()
	}

	s.logger.Infof("scheduler refreshed with %d active job(s)", len(entries))
}

// ValidateSpec checks a cron expression against the same parser the
// timers use, so a spec accepted here is guaranteed to schedule.
func (s *Scheduler) ValidateSpec(spec string) error {
	_, err := s.parser.Parse(spec)
	return err
}

// Scheduled reports whether a job currently has a timer.
func (s *Scheduler) Scheduled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

// ActiveCount returns the number of jobs with timers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	if s.cron != nil {
		s.cron.Start()
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	current := s.cron
	s.started = false
	s.mu.Unlock()

	if current != nil {
		<-current.Stop().Done()
	}
}
