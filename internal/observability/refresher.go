package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@every 1m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// Refresher re-evaluates a gauge on a cron schedule. It refreshes once on
// start so the gauge is never empty after boot.
type Refresher struct {
	cron    *cron.Cron
	name    string
	refresh func(ctx context.Context) (int, error)
	timeout time.Duration
	logger  *slog.Logger
}

func NewRefresher(name, schedule string, refresh func(ctx context.Context) (int, error), logger *slog.Logger) (*Refresher, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Refresher{
		cron:    cron.New(cron.WithParser(scheduleParser)),
		name:    name,
		refresh: refresh,
		timeout: 10 * time.Second,
		logger:  logger,
	}
	r.cron.Schedule(sched, cron.FuncJob(r.run))
	return r, nil
}

func (r *Refresher) Start() {
	r.run()
	r.cron.Start()
}

// Stop halts the schedule and waits for a refresh in progress.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.refresh(ctx)
	if err != nil {
		r.logger.Warn("gauge refresh failed", "gauge", r.name, "error", err)
		return
	}
	r.logger.Debug("gauge refreshed", "gauge", r.name, "value", n)
}
