package taskruntime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/clawboard/internal/telemetry"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, telemetry.Discard(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func waitJob(t *testing.T, s *Service, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := s.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return job
}

func TestSubmitRunsJob(t *testing.T) {
	s := newTestService(t, Config{Concurrency: 1})
	ran := make(chan struct{}, 1)
	id, err := s.Submit("auto-run", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job := waitJob(t, s, id)
	if job.Status != JobSucceeded {
		t.Fatalf("status = %q, want %q", job.Status, JobSucceeded)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Fatalf("timestamps missing: %+v", job)
	}
	select {
	case <-ran:
	default:
		t.Fatalf("job func did not run")
	}
}

func TestErrorsAndPanicsAreRecorded(t *testing.T) {
	s := newTestService(t, Config{Concurrency: 2})
	failID, _ := s.Submit("summary", func(context.Context) error { return errors.New("provider down") })
	panicID, _ := s.Submit("summary", func(context.Context) error { panic("boom") })

	if job := waitJob(t, s, failID); job.Status != JobFailed || job.Error != "provider down" {
		t.Fatalf("failing job = %+v", job)
	}
	if job := waitJob(t, s, panicID); job.Status != JobFailed || job.Error != "panic: boom" {
		t.Fatalf("panicking job = %+v", job)
	}

	okID, err := s.Submit("after-panic", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Submit() after panic error = %v", err)
	}
	if job := waitJob(t, s, okID); job.Status != JobSucceeded {
		t.Fatalf("status after panic = %q, want %q", job.Status, JobSucceeded)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	s := newTestService(t, Config{Concurrency: 1, QueueSize: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	blockID, _ := s.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if _, err := s.Submit("queued", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Submit() queued error = %v", err)
	}
	if _, err := s.Submit("overflow", func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit() overflow error = %v, want ErrQueueFull", err)
	}
	close(release)
	waitJob(t, s, blockID)
}

func TestJobsNewestFirst(t *testing.T) {
	s := newTestService(t, Config{Concurrency: 1})
	first, _ := s.Submit("first", func(context.Context) error { return nil })
	second, _ := s.Submit("second", func(context.Context) error { return nil })
	waitJob(t, s, first)
	waitJob(t, s, second)

	jobs := s.Jobs(0)
	if len(jobs) != 2 || jobs[0].ID != second || jobs[1].ID != first {
		t.Fatalf("Jobs() = %+v", jobs)
	}
	if got := s.Jobs(1); len(got) != 1 {
		t.Fatalf("len(Jobs(1)) = %d, want 1", len(got))
	}
	if _, err := s.Get("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func TestHistoryIsCapped(t *testing.T) {
	s := newTestService(t, Config{Concurrency: 1, HistorySize: 2})
	var last string
	for i := 0; i < 4; i++ {
		id, err := s.Submit("job", func(context.Context) error { return nil })
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		waitJob(t, s, id)
		last = id
	}
	jobs := s.Jobs(0)
	if len(jobs) != 2 || jobs[0].ID != last {
		t.Fatalf("Jobs() = %+v, want two newest", jobs)
	}
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	s := New(Config{Concurrency: 1}, telemetry.Discard(), nil)
	done := make(chan struct{})
	if _, err := s.Submit("slow", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatalf("Shutdown() returned before queued job finished")
	}
	if _, err := s.Submit("late", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestShutdownDeadlineCancelsRunningJob(t *testing.T) {
	s := New(Config{Concurrency: 1}, telemetry.Discard(), nil)
	started := make(chan struct{})
	id, _ := s.Submit("stuck", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
	job, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != JobCancelled {
		t.Fatalf("status = %q, want %q", job.Status, JobCancelled)
	}
}
