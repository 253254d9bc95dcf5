package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/chirpd/internal/metrics"
)

// cronParser accepts 5-field expressions and descriptors such as "@every 5m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts a Go duration ("5m") or a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule %q: duration must be positive", spec)
		}
		return cron.Every(d), nil
	}
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

// Every is a fixed-delay schedule without cron.Every's rounding to whole
// seconds.
type Every time.Duration

func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Task runs Run each time Schedule fires until ctx is cancelled or Stopped
// reports true. Iterations never overlap: the next fire time is computed
// after the previous run returns.
type Task struct {
	Name     string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error

	// Immediately runs once before the first wait.
	Immediately bool
	// ErrorDelay, when set, replaces the schedule for the wait after a
	// failed run.
	ErrorDelay time.Duration
	// Stopped is checked at the top of every iteration.
	Stopped func() bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Start blocks until the task stops. It returns nil on cancellation.
func (t *Task) Start(ctx context.Context) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("task", t.Name)

	failed := false
	if t.Immediately {
		failed = t.runOnce(ctx, logger) != nil
	}
	for {
		if ctx.Err() != nil || t.stopped() {
			logger.Info("task stopped")
			return nil
		}

		now := time.Now()
		next := t.Schedule.Next(now)
		if failed && t.ErrorDelay > 0 {
			next = now.Add(t.ErrorDelay)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("task stopped")
			return nil
		case <-timer.C:
		}

		if t.stopped() {
			logger.Info("task stopped")
			return nil
		}
		failed = t.runOnce(ctx, logger) != nil
	}
}

func (t *Task) stopped() bool {
	return t.Stopped != nil && t.Stopped()
}

func (t *Task) runOnce(ctx context.Context, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil && ctx.Err() == nil {
			t.Metrics.LoopError(t.Name)
			logger.Error("task run failed", "error", err)
		}
	}()
	return t.Run(ctx)
}
