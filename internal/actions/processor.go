// Package actions engages with timeline items: it classifies each unseen item
// once and runs the chosen like, retweet, quote and reply actions.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/llm"
	"github.com/kalambet/chirpd/internal/metrics"
	"github.com/kalambet/chirpd/internal/queue"
	"github.com/kalambet/chirpd/internal/scheduler"
	"github.com/kalambet/chirpd/internal/social"
	"github.com/kalambet/chirpd/internal/storage"
)

const (
	DefaultWorkingSet = 20
	DefaultInterval   = 5 * time.Minute
	// ErrorDelay is the flat pause after a failed pass.
	ErrorDelay = 30 * time.Second

	threadDepth = 5
	// MemoryKind marks an item as processed.
	MemoryKind = "processed"
)

// Store is the persistence the processor needs.
type Store interface {
	HasMemory(itemID, agentID string) (bool, error)
	SaveMemory(m storage.Memory) (bool, error)
	SaveActionOutcome(o storage.ActionOutcome) error
}

// Reader fetches timeline items and conversation threads.
type Reader interface {
	FetchTimeline(ctx context.Context, limit int) ([]social.Item, error)
	FetchThread(ctx context.Context, itemID string, depth int) ([]social.Item, error)
}

// Network performs write actions.
type Network interface {
	Like(ctx context.Context, itemID string) error
	Repost(ctx context.Context, itemID string) error
	SendPost(ctx context.Context, p social.PostRequest) (json.RawMessage, error)
}

// Composer writes reply and quote text.
type Composer interface {
	Reply(ctx context.Context, c content.Context) (string, error)
	Quote(ctx context.Context, c content.Context) (string, error)
}

// Config wires a Processor. Every field up to Queue is required.
type Config struct {
	AgentID   string
	Username  string
	Character content.Character

	Store    Store
	Reader   Reader
	Network  Network
	Composer Composer
	LLM      llm.Service
	Queue    *queue.Queue

	WorkingSet  int
	Interval    time.Duration
	Immediately bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Summary reports what one pass did.
type Summary struct {
	// Skipped is set when another pass was already running.
	Skipped    bool
	Considered int
	Seen       int
	Undecided  int
	Processed  int
	Executed   int
}

// Processor runs action passes for one agent. Passes never overlap.
type Processor struct {
	cfg     Config
	llm     llm.Service
	logger  *slog.Logger
	running atomic.Bool
	stopped atomic.Bool
}

// New creates a Processor, filling defaults for zero config values.
func New(cfg Config) *Processor {
	if cfg.WorkingSet <= 0 {
		cfg.WorkingSet = DefaultWorkingSet
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:    cfg,
		llm:    cfg.LLM,
		logger: logger.With("agent", cfg.AgentID, "component", "actions"),
	}
}

// Stop makes Run return before its next pass. A pass in progress completes.
func (p *Processor) Stop() {
	p.stopped.Store(true)
}

// Task returns the action loop.
func (p *Processor) Task() *scheduler.Task {
	return &scheduler.Task{
		Name:        "actions",
		Schedule:    scheduler.Every(p.cfg.Interval),
		Immediately: p.cfg.Immediately,
		ErrorDelay:  ErrorDelay,
		Stopped:     p.stopped.Load,
		Run: func(ctx context.Context) error {
			_, err := p.RunOnce(ctx)
			return err
		},
		Logger:  p.logger,
		Metrics: p.cfg.Metrics,
	}
}

// Run runs passes on the configured interval until ctx is cancelled or Stop
// is called.
func (p *Processor) Run(ctx context.Context) error {
	return p.Task().Start(ctx)
}

// RunOnce processes the current working set. If a pass is already running it
// returns Summary{Skipped: true} and no error. Per-item failures are logged
// and never fail the pass.
func (p *Processor) RunOnce(ctx context.Context) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Debug("action pass already running")
		return Summary{Skipped: true}, nil
	}
	defer p.running.Store(false)

	items, err := p.cfg.Reader.FetchTimeline(ctx, p.cfg.WorkingSet)
	if err != nil {
		return Summary{}, fmt.Errorf("fetching timeline: %w", err)
	}

	var sum Summary
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if item.Username == p.cfg.Username || item.ID == "" {
			continue
		}
		sum.Considered++

		seen, err := p.cfg.Store.HasMemory(item.ID, p.cfg.AgentID)
		if err != nil {
			p.logger.Error("checking item memory", "item_id", item.ID, "error", err)
			continue
		}
		if seen {
			sum.Seen++
			continue
		}

		executed, decided, err := p.processItem(ctx, item)
		if err != nil {
			p.logger.Error("processing item", "item_id", item.ID, "error", err)
			continue
		}
		if !decided {
			sum.Undecided++
			continue
		}
		sum.Processed++
		sum.Executed += executed
	}
	p.logger.Info("action pass finished",
		"considered", sum.Considered, "seen", sum.Seen, "undecided", sum.Undecided,
		"processed", sum.Processed, "executed", sum.Executed)
	return sum, nil
}

// processItem classifies item, runs its actions and writes the bookkeeping.
// It reports the number of executed actions and whether a decision was made.
func (p *Processor) processItem(ctx context.Context, item social.Item) (int, bool, error) {
	c := content.Context{
		AgentID:   p.cfg.AgentID,
		Username:  p.cfg.Username,
		Character: p.cfg.Character,
		Target:    &item,
	}
	if item.Quoted != nil {
		c.QuotedText = item.Quoted.Text
	}

	d, ok, err := p.decide(ctx, c)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}

	decided := d.Kinds()
	var executed []string
	if d.Like {
		executed = p.attempt(ctx, item, KindLike, executed, func(ctx context.Context) error {
			return p.queued(ctx, func(ctx context.Context) error { return p.cfg.Network.Like(ctx, item.ID) })
		})
	}
	if d.Retweet {
		executed = p.attempt(ctx, item, KindRetweet, executed, func(ctx context.Context) error {
			return p.queued(ctx, func(ctx context.Context) error { return p.cfg.Network.Repost(ctx, item.ID) })
		})
	}
	if d.Quote || d.Reply {
		p.enrich(ctx, &c)
	}
	if d.Quote {
		executed = p.attempt(ctx, item, KindQuote, executed, func(ctx context.Context) error {
			return p.compose(ctx, c, KindQuote)
		})
	}
	if d.Reply {
		executed = p.attempt(ctx, item, KindReply, executed, func(ctx context.Context) error {
			return p.compose(ctx, c, KindReply)
		})
	}

	p.complete(item, decided, executed)
	return len(executed), true, nil
}

// attempt runs one action and appends kind to executed when it succeeds.
func (p *Processor) attempt(ctx context.Context, item social.Item, kind string, executed []string, fn func(context.Context) error) []string {
	err := fn(ctx)
	p.cfg.Metrics.Action(kind, err == nil)
	switch {
	case errors.Is(err, content.ErrNoContent):
		p.logger.Info("action abandoned, no content", "item_id", item.ID, "action", kind)
		return executed
	case err != nil:
		p.logger.Warn("action failed", "item_id", item.ID, "action", kind, "error", err)
		return executed
	}
	p.logger.Info("action executed", "item_id", item.ID, "action", kind)
	return append(executed, kind)
}

func (p *Processor) queued(ctx context.Context, fn func(context.Context) error) error {
	_, err := queue.Do(ctx, p.cfg.Queue, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// compose generates quote or reply text outside the queue, then sends it
// through the queue.
func (p *Processor) compose(ctx context.Context, c content.Context, kind string) error {
	var (
		text string
		err  error
	)
	req := social.PostRequest{}
	if kind == KindQuote {
		text, err = p.cfg.Composer.Quote(ctx, c)
		req.QuoteOf = c.Target.ID
	} else {
		text, err = p.cfg.Composer.Reply(ctx, c)
		req.InReplyTo = c.Target.ID
	}
	if err != nil {
		return err
	}
	if text == "" {
		return content.ErrNoContent
	}
	req.Text = text

	raw, err := queue.Do(ctx, p.cfg.Queue, func(ctx context.Context) (json.RawMessage, error) {
		return p.cfg.Network.SendPost(ctx, req)
	})
	if err != nil {
		return err
	}

	switch res := social.InterpretSendResponse(raw, p.cfg.Username).(type) {
	case social.Delivered:
		room := c.Target.ConversationID
		if room == "" {
			room = c.Target.ID
		}
		if _, err := p.cfg.Store.SaveMemory(storage.Memory{
			ID:      uuid.NewString(),
			ItemID:  res.ID,
			AgentID: p.cfg.AgentID,
			Kind:    kind,
			Content: text,
			RoomID:  room,
		}); err != nil {
			p.logger.Warn("saving action memory", "remote_id", res.ID, "error", err)
		}
		return nil
	case social.Rejected:
		return fmt.Errorf("%s rejected: %s", kind, res.Raw)
	default:
		return fmt.Errorf("unexpected send result %T", res)
	}
}

// enrich adds the thread and media descriptions used by quote and reply
// prompts. Failures leave the context as it was.
func (p *Processor) enrich(ctx context.Context, c *content.Context) {
	item := c.Target
	thread, err := p.cfg.Reader.FetchThread(ctx, item.ID, threadDepth)
	if err != nil {
		p.logger.Warn("fetching thread", "item_id", item.ID, "error", err)
	}
	c.Thread = thread

	media := item.Media
	if item.Quoted != nil {
		media = append(media[:len(media):len(media)], item.Quoted.Media...)
	}
	for _, m := range media {
		switch {
		case m.Description != "":
			c.MediaDescriptions = append(c.MediaDescriptions, m.Description)
		case m.Type != "":
			c.MediaDescriptions = append(c.MediaDescriptions, m.Type+" without description")
		}
	}
}

// complete writes the terminal memory and the outcome record. Both are
// written whatever the actions did.
func (p *Processor) complete(item social.Item, decided, executed []string) {
	room := item.ConversationID
	if room == "" {
		room = item.ID
	}
	if _, err := p.cfg.Store.SaveMemory(storage.Memory{
		ID:      uuid.NewString(),
		ItemID:  item.ID,
		AgentID: p.cfg.AgentID,
		Kind:    MemoryKind,
		Content: item.Text,
		RoomID:  room,
	}); err != nil {
		p.logger.Error("saving item memory", "item_id", item.ID, "error", err)
	}
	if err := p.cfg.Store.SaveActionOutcome(storage.ActionOutcome{
		ItemID:   item.ID,
		AgentID:  p.cfg.AgentID,
		Decided:  decided,
		Executed: executed,
	}); err != nil {
		p.logger.Error("saving action outcome", "item_id", item.ID, "error", err)
	}
}
