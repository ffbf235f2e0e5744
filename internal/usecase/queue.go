package usecase

import (
	"sync"

	"github.com/dbackup/dbackup/internal/infrastructure/logger"
)

// Queue bounds how many pipelines run simultaneously. Excess
// submissions wait FIFO and are admitted as slots free. A slot is
// reclaimed exactly once per finished task, panics included, and a
// limit change only affects future admissions.
type Queue struct {
	mu      sync.Mutex
	limit   int
	running int
	waiting []func()
	logger  *logger.Logger
}

func NewQueue(limit int, log *logger.Logger) *Queue {
	if limit < 1 {
		limit = 1
	}
	return &Queue{limit: limit, logger: log}
}

// Submit enqueues task and returns immediately. The task runs on its
// own goroutine once a slot is free.
func (q *Queue) Submit(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running < q.limit {
		q.running++
		go q.launch(task)
		return
	}
	q.waiting = append(q.waiting, task)
	q.logger.Debugf("queue full (%d/%d running), task queued at position %d",
		q.running, q.limit, len(q.waiting))
}

func (q *Queue) launch(task func()) {
	defer q.release()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorf("pipeline panicked: %v", r)
		}
	}()
	task()
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	for len(q.waiting) > 0 && q.running < q.limit {
		next := q.waiting[0]
		q.waiting = q.waiting[1:]
		q.running++
		go q.launch(next)
	}
}

// SetLimit changes the admission bound. Already-running tasks are
// never interrupted; a raised limit admits waiting tasks right away.
func (q *Queue) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.limit = limit
	for len(q.waiting) > 0 && q.running < q.limit {
		next := q.waiting[0]
		q.waiting = q.waiting[1:]
		q.running++
		go q.launch(next)
	}
}

// Running reports the current number of admitted tasks.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Waiting reports the current queue depth.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
