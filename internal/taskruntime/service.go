package taskruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ent0n29/clawboard/internal/observability"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrClosed      = errors.New("job runtime is shut down")
	ErrJobNotFound = errors.New("job not found")
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// Job is the externally visible record of a background job.
type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type Func func(ctx context.Context) error

type Config struct {
	Concurrency int
	QueueSize   int
	JobTimeout  time.Duration
	HistorySize int
}

type entry struct {
	job  Job
	fn   Func
	done chan struct{}
}

// Service runs fire-and-forget jobs on a bounded worker pool. Job errors and
// panics are recorded and logged, never propagated to the submitter.
type Service struct {
	jobTimeout  time.Duration
	historySize int
	logger      *slog.Logger
	metrics     *observability.Metrics

	queue     chan *entry
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu             sync.Mutex
	closed         bool
	jobs           map[string]*entry
	order          []string
	runningCancels map[string]context.CancelFunc
}

func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		jobTimeout:     cfg.JobTimeout,
		historySize:    cfg.HistorySize,
		logger:         logger,
		metrics:        metrics,
		queue:          make(chan *entry, cfg.QueueSize),
		baseCtx:        ctx,
		cancelAll:      cancel,
		jobs:           make(map[string]*entry),
		runningCancels: make(map[string]context.CancelFunc),
	}
	for i := 0; i < cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.work()
	}
	return s
}

// Submit queues fn under name and returns the job id without waiting.
func (s *Service) Submit(name string, fn Func) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "job"
	}
	if fn == nil {
		return "", errors.New("job func is nil")
	}
	e := &entry{
		job: Job{
			ID:         ulid.Make().String(),
			Name:       name,
			Status:     JobQueued,
			EnqueuedAt: time.Now().UTC(),
		},
		fn:   fn,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	select {
	case s.queue <- e:
	default:
		s.metrics.ObserveJob(name, "rejected")
		return "", ErrQueueFull
	}
	s.jobs[e.job.ID] = e
	s.order = append(s.order, e.job.ID)
	s.pruneLocked()
	return e.job.ID, nil
}

func (s *Service) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return e.job, nil
}

// Jobs lists known jobs newest first. limit <= 0 returns all.
func (s *Service) Jobs(limit int) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.jobs[s.order[i]].job)
	}
	return out
}

// Wait blocks until the job reaches a terminal state or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (Job, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}
	select {
	case <-e.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return e.job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Cancel cancels a running job's context. It reports whether the job was
// running.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	cancel := s.runningCancels[id]
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Shutdown stops accepting jobs and drains the queue. When ctx ends first the
// remaining jobs are cancelled and ctx.Err is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.cancelAll()
		return nil
	case <-ctx.Done():
		s.cancelAll()
		<-drained
		return ctx.Err()
	}
}

func (s *Service) work() {
	defer s.wg.Done()
	for e := range s.queue {
		s.run(e)
	}
}

func (s *Service) run(e *entry) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.jobTimeout)
	defer cancel()

	started := time.Now().UTC()
	s.mu.Lock()
	if s.baseCtx.Err() != nil {
		s.finishLocked(e, JobCancelled, "shut down before start")
		s.mu.Unlock()
		return
	}
	e.job.Status = JobRunning
	e.job.StartedAt = &started
	s.runningCancels[e.job.ID] = cancel
	s.mu.Unlock()

	err := s.call(ctx, e)

	status := JobSucceeded
	msg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status, msg = JobCancelled, err.Error()
	default:
		status, msg = JobFailed, err.Error()
	}

	s.mu.Lock()
	delete(s.runningCancels, e.job.ID)
	s.finishLocked(e, status, msg)
	s.mu.Unlock()

	s.metrics.ObserveJob(e.job.Name, string(status))
	attrs := []any{"job_id", e.job.ID, "job", e.job.Name, "status", status, "duration_ms", time.Since(started).Milliseconds()}
	if err != nil {
		s.logger.Error("job failed", append(attrs, "error", err)...)
		return
	}
	s.logger.Debug("job finished", attrs...)
}

func (s *Service) call(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic", "job", e.job.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.fn(ctx)
}

func (s *Service) finishLocked(e *entry, status JobStatus, msg string) {
	now := time.Now().UTC()
	e.job.Status = status
	e.job.Error = msg
	e.job.FinishedAt = &now
	close(e.done)
	s.pruneLocked()
}

// pruneLocked forgets the oldest finished jobs once history exceeds its cap.
func (s *Service) pruneLocked() {
	excess := len(s.order) - s.historySize
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.jobs[id].job.Status.Terminal() {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}
