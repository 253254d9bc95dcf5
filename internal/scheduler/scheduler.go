// Package scheduler drives post generation on a per-agent interval and
// dispatches approved posts on a fixed period.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chirpd/internal/cache"
	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/dispatch"
	"github.com/kalambet/chirpd/internal/metrics"
	"github.com/kalambet/chirpd/internal/social"
	"github.com/kalambet/chirpd/internal/storage"
)

const (
	// IntervalKey is the agent setting holding the generation interval in minutes.
	IntervalKey = "post_interval_minutes"

	DefaultIntervalMinutes = 30
	DefaultMinMinutes      = 12
	DefaultMaxMinutes      = 24
	DefaultDispatchPeriod  = 5 * time.Minute
	DefaultItemDelay       = 60 * time.Second

	// spreadMinutes widens the upper bound of the random posting delay.
	spreadMinutes   = 120
	recentPostCount = 5
	timelineCount   = 10
)

// NextPostTime returns last plus a uniformly random delay in
// [minMinutes, maxMinutes+120] minutes.
func NextPostTime(last time.Time, minMinutes, maxMinutes int, rng *rand.Rand) time.Time {
	hi := float64(maxMinutes + spreadMinutes)
	lo := float64(minMinutes)
	if hi < lo {
		hi = lo
	}
	var f float64
	if rng != nil {
		f = rng.Float64()
	} else {
		f = rand.Float64()
	}
	minutes := lo + f*(hi-lo)
	return last.Add(time.Duration(minutes * float64(time.Minute)))
}

// Store is the persistence the scheduler needs.
type Store interface {
	GetOrCreateSetting(agentID, key, def string) (string, error)
	SetSetting(agentID, key, value string) error
	ListApprovedDue(agentID string, now time.Time) ([]storage.PendingPost, error)
	RecentMemories(agentID, kind string, limit int) ([]storage.Memory, error)
}

// PostGenerator produces post text.
type PostGenerator interface {
	Generate(ctx context.Context, c content.Context) (string, error)
}

// Pipeline persists and dispatches posts.
type Pipeline interface {
	Save(ctx context.Context, c dispatch.Candidate) (string, error)
	Approve(id string) error
	Dispatch(ctx context.Context, id string) (dispatch.Result, error)
}

// TimelineSource supplies recent timeline items for post context.
type TimelineSource interface {
	FetchTimeline(ctx context.Context, limit int) ([]social.Item, error)
}

// Config wires a Scheduler.
type Config struct {
	AgentID   string
	Username  string
	Character content.Character

	Store     Store
	Generator PostGenerator
	Pipeline  Pipeline
	Cache     cache.Cache          // optional; last post time
	Delivered *cache.TimelineCache // optional; posts delivered by this process
	Timeline  TimelineSource       // optional

	IntervalMinutes int // initial interval setting; 0 means 30
	MinMinutes      int
	MaxMinutes      int
	Immediately     bool
	AutoApprove     bool
	DispatchPeriod  time.Duration
	DispatchSpec    string        // cron expression or duration; overrides DispatchPeriod
	ItemDelay       time.Duration // negative disables the delay

	Rand    *rand.Rand
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Scheduler owns the generation and approved-dispatch loops for one agent.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Scheduler, filling defaults for zero config values.
func New(cfg Config) *Scheduler {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = DefaultIntervalMinutes
	}
	if cfg.MinMinutes <= 0 {
		cfg.MinMinutes = DefaultMinMinutes
	}
	if cfg.MaxMinutes <= 0 {
		cfg.MaxMinutes = DefaultMaxMinutes
	}
	if cfg.DispatchPeriod <= 0 {
		cfg.DispatchPeriod = DefaultDispatchPeriod
	}
	switch {
	case cfg.ItemDelay == 0:
		cfg.ItemDelay = DefaultItemDelay
	case cfg.ItemDelay < 0:
		cfg.ItemDelay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, logger: logger.With("agent", cfg.AgentID)}
}

// Interval returns the agent's generation interval, creating the setting
// with the default when missing.
func (s *Scheduler) Interval() (time.Duration, error) {
	v, err := s.cfg.Store.GetOrCreateSetting(s.cfg.AgentID, IntervalKey, strconv.Itoa(s.cfg.IntervalMinutes))
	if err != nil {
		return 0, fmt.Errorf("reading interval: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	return time.Duration(n) * time.Minute, nil
}

// SetInterval stores a new generation interval. It takes effect at the next wait.
func (s *Scheduler) SetInterval(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("interval must be positive, got %d", minutes)
	}
	return s.cfg.Store.SetSetting(s.cfg.AgentID, IntervalKey, strconv.Itoa(minutes))
}

// intervalSchedule re-reads the interval setting on every Next.
type intervalSchedule struct {
	s *Scheduler
}

func (is intervalSchedule) Next(t time.Time) time.Time {
	d, err := is.s.Interval()
	if err != nil {
		is.s.logger.Warn("using default interval", "error", err)
		d = time.Duration(is.s.cfg.IntervalMinutes) * time.Minute
	}
	return t.Add(d)
}

// GenerationTask returns the generation loop.
func (s *Scheduler) GenerationTask() *Task {
	return &Task{
		Name:        "generate",
		Schedule:    intervalSchedule{s: s},
		Immediately: s.cfg.Immediately,
		Run: func(ctx context.Context) error {
			_, err := s.GenerateOnce(ctx)
			if errors.Is(err, content.ErrNoContent) {
				s.logger.Info("generation produced no content, skipping")
				return nil
			}
			return err
		},
		Logger:  s.logger,
		Metrics: s.cfg.Metrics,
	}
}

// DispatchTask returns the approved-dispatch loop.
func (s *Scheduler) DispatchTask() (*Task, error) {
	var sched cron.Schedule = Every(s.cfg.DispatchPeriod)
	if s.cfg.DispatchSpec != "" {
		parsed, err := ParseSchedule(s.cfg.DispatchSpec)
		if err != nil {
			return nil, err
		}
		sched = parsed
	}
	return &Task{
		Name:     "dispatch",
		Schedule: sched,
		Run: func(ctx context.Context) error {
			_, err := s.DispatchDue(ctx)
			return err
		},
		Logger:  s.logger,
		Metrics: s.cfg.Metrics,
	}, nil
}

// Run runs both loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	dt, err := s.DispatchTask()
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.GenerationTask().Start(ctx) })
	g.Go(func() error { return dt.Start(ctx) })
	return g.Wait()
}

// GenerateOnce generates one post and saves it for approval. It returns the
// saved post id. content.ErrNoContent means nothing was saved.
func (s *Scheduler) GenerateOnce(ctx context.Context) (string, error) {
	c := s.buildContext(ctx)
	text, err := s.cfg.Generator.Generate(ctx, c)
	if err != nil {
		return "", err
	}

	at := NextPostTime(s.lastPostTime(ctx), s.cfg.MinMinutes, s.cfg.MaxMinutes, s.cfg.Rand)
	id, err := s.cfg.Pipeline.Save(ctx, dispatch.Candidate{
		AgentID:     s.cfg.AgentID,
		Content:     text,
		ScheduledAt: at,
		Snapshot:    snapshotOf(c),
	})
	if err != nil {
		return "", err
	}
	s.cfg.Metrics.PostGenerated(s.cfg.AgentID)

	if s.cfg.AutoApprove {
		if err := s.cfg.Pipeline.Approve(id); err != nil {
			return id, fmt.Errorf("auto-approving %s: %w", id, err)
		}
	}
	s.logger.Info("post generated", "post_id", id, "scheduled_at", at, "auto_approved", s.cfg.AutoApprove)
	return id, nil
}

// snapshotOf records what a post was generated from: its topic and the
// timeline items it saw.
func snapshotOf(c content.Context) dispatch.Snapshot {
	snap := dispatch.Snapshot{Topic: c.Topic}
	for _, it := range c.Timeline {
		snap.TimelineIDs = append(snap.TimelineIDs, it.ID)
	}
	return snap
}

// DispatchDue sends every approved post whose time has come, one at a time
// with ItemDelay between them. Per-item errors are logged and skipped. It
// returns the number delivered.
func (s *Scheduler) DispatchDue(ctx context.Context) (int, error) {
	posts, err := s.cfg.Store.ListApprovedDue(s.cfg.AgentID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("listing approved posts: %w", err)
	}

	delivered := 0
	for i, p := range posts {
		if i > 0 && s.cfg.ItemDelay > 0 {
			select {
			case <-ctx.Done():
				return delivered, nil
			case <-time.After(s.cfg.ItemDelay):
			}
		}
		res, err := s.cfg.Pipeline.Dispatch(ctx, p.ID)
		switch {
		case errors.Is(err, dispatch.ErrAlreadySent):
			s.logger.Info("post already sent, skipping", "post_id", p.ID)
		case err != nil:
			s.logger.Error("dispatching post", "post_id", p.ID, "error", err)
		case res.Delivered:
			delivered++
		default:
			s.logger.Warn("post not delivered", "post_id", p.ID, "reason", res.Reason)
		}
	}
	return delivered, nil
}

func (s *Scheduler) lastPostTime(ctx context.Context) time.Time {
	now := time.Now()
	if s.cfg.Cache == nil {
		return now
	}
	raw, ok, err := s.cfg.Cache.Get(ctx, cache.LastPostKey(s.cfg.AgentID))
	if err != nil {
		s.logger.Warn("reading last post time", "error", err)
		return now
	}
	if !ok {
		return now
	}
	var last cache.LastPost
	if err := json.Unmarshal([]byte(raw), &last); err != nil || last.Timestamp.IsZero() {
		return now
	}
	return last.Timestamp
}

// recentPosts prefers the in-memory record of delivered posts and falls
// back to stored memories when it is empty, as after a restart.
func (s *Scheduler) recentPosts() []string {
	var out []string
	if s.cfg.Delivered != nil {
		for _, it := range s.cfg.Delivered.Recent(s.cfg.AgentID, recentPostCount) {
			out = append(out, it.Text)
		}
		if len(out) > 0 {
			return out
		}
	}
	mems, err := s.cfg.Store.RecentMemories(s.cfg.AgentID, "post", recentPostCount)
	if err != nil {
		s.logger.Warn("loading recent posts", "error", err)
		return nil
	}
	for _, m := range mems {
		out = append(out, m.Content)
	}
	return out
}

func (s *Scheduler) buildContext(ctx context.Context) content.Context {
	c := content.Context{
		AgentID:   s.cfg.AgentID,
		Username:  s.cfg.Username,
		Character: s.cfg.Character,
	}
	if topics := s.cfg.Character.Topics; len(topics) > 0 {
		if s.cfg.Rand != nil {
			c.Topic = topics[s.cfg.Rand.IntN(len(topics))]
		} else {
			c.Topic = topics[rand.IntN(len(topics))]
		}
	}
	c.RecentPosts = s.recentPosts()
	if s.cfg.Timeline != nil {
		items, err := s.cfg.Timeline.FetchTimeline(ctx, timelineCount)
		if err != nil {
			s.logger.Warn("fetching timeline for post context", "error", err)
		}
		for _, it := range items {
			if it.Username != s.cfg.Username {
				c.Timeline = append(c.Timeline, it)
			}
		}
	}
	return c
}
