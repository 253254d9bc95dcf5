// Package dispatch stores generated posts behind an approval gate and
// delivers approved ones exactly once.
//
// A post is claimed (marked sent) before the network call. If the process
// dies between the claim and a successful send, the post stays marked sent
// without having been delivered; it is never retried automatically.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chirpd/internal/cache"
	"github.com/kalambet/chirpd/internal/metrics"
	"github.com/kalambet/chirpd/internal/notify"
	"github.com/kalambet/chirpd/internal/queue"
	"github.com/kalambet/chirpd/internal/social"
	"github.com/kalambet/chirpd/internal/storage"
)

var (
	// ErrAlreadySent is returned when the post was delivered or claimed
	// by an earlier dispatch.
	ErrAlreadySent = errors.New("post already sent")
	// ErrNotApproved is returned when dispatching a post that has not
	// passed the approval gate.
	ErrNotApproved = errors.New("post not approved")
	// ErrNotPending is returned when the post is in the error state, or when
	// approving or rejecting a post that already left pending.
	ErrNotPending = storage.ErrNotPending
)

// Store is the persistence the pipeline needs.
type Store interface {
	SavePendingPost(p storage.PendingPost) error
	GetPendingPost(id string) (storage.PendingPost, error)
	SetApproval(id, approval string) error
	ClaimPendingPost(id string, now time.Time) (bool, error)
	RecordDelivery(id, postID, permalink string) error
	MarkPostError(id, payload string) error
	HasPostedContent(agentID, content string) (bool, error)
	SaveMemory(m storage.Memory) (bool, error)
}

// Sender sends a post and returns the raw response body.
type Sender interface {
	SendPost(ctx context.Context, p social.PostRequest) (json.RawMessage, error)
}

// Snapshot is the context saved with a post so it can be sent later.
type Snapshot struct {
	Topic     string `json:"topic,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	QuoteOf   string `json:"quote_of,omitempty"`
	RoomID    string `json:"room_id,omitempty"`

	// TimelineIDs are the timeline items shown to the model when the post
	// was generated.
	TimelineIDs []string `json:"timeline_ids,omitempty"`
}

// Candidate is a generated post waiting to be saved.
type Candidate struct {
	AgentID     string
	Content     string
	ScheduledAt time.Time // zero means now
	Snapshot    Snapshot
	MediaRef    string
}

// Result is the outcome of one dispatch attempt.
type Result struct {
	Delivered bool
	PostID    string
	Permalink string
	Reason    string
}

// Config wires a Pipeline. Store, Sender and Queue are required.
type Config struct {
	Store    Store
	Sender   Sender
	Queue    *queue.Queue
	Username string
	Cache    cache.Cache
	Timeline *cache.TimelineCache
	Admin    notify.Logger
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline implements save, approval and dispatch.
type Pipeline struct {
	store    Store
	sender   Sender
	queue    *queue.Queue
	username string
	cache    cache.Cache
	timeline *cache.TimelineCache
	admin    notify.Logger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:    cfg.Store,
		sender:   cfg.Sender,
		queue:    cfg.Queue,
		username: cfg.Username,
		cache:    cfg.Cache,
		timeline: cfg.Timeline,
		admin:    cfg.Admin,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Save persists c as a pending post awaiting approval and returns its id.
func (p *Pipeline) Save(ctx context.Context, c Candidate) (string, error) {
	if c.Content == "" {
		return "", errors.New("candidate has no content")
	}
	snap, err := json.Marshal(c.Snapshot)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	at := c.ScheduledAt
	if at.IsZero() {
		at = p.now()
	}
	post := storage.PendingPost{
		ID:          uuid.NewString(),
		AgentID:     c.AgentID,
		Content:     c.Content,
		ScheduledAt: at,
		Status:      storage.StatusPending,
		Approval:    storage.ApprovalAwaiting,
		ContextJSON: string(snap),
		MediaRef:    c.MediaRef,
		CreatedAt:   p.now(),
	}
	if err := p.store.SavePendingPost(post); err != nil {
		return "", fmt.Errorf("saving pending post: %w", err)
	}
	p.logger.Info("pending post saved", "post_id", post.ID, "agent", c.AgentID, "scheduled_at", at)
	return post.ID, nil
}

// Approve lets a pending post through the approval gate.
func (p *Pipeline) Approve(id string) error {
	if err := p.store.SetApproval(id, storage.ApprovalApproved); err != nil {
		return fmt.Errorf("approving %s: %w", id, err)
	}
	return nil
}

// Reject closes a pending post without sending it.
func (p *Pipeline) Reject(id string) error {
	if err := p.store.SetApproval(id, storage.ApprovalRejected); err != nil {
		return fmt.Errorf("rejecting %s: %w", id, err)
	}
	if err := p.store.MarkPostError(id, `{"reason":"rejected by operator"}`); err != nil {
		return fmt.Errorf("rejecting %s: %w", id, err)
	}
	return nil
}

// Dispatch delivers an approved post. A second call for the same id, or a
// call racing with another dispatch, returns ErrAlreadySent without sending.
func (p *Pipeline) Dispatch(ctx context.Context, id string) (Result, error) {
	post, err := p.store.GetPendingPost(id)
	if err != nil {
		return Result{}, fmt.Errorf("loading post %s: %w", id, err)
	}
	switch post.Status {
	case storage.StatusSent:
		return Result{}, ErrAlreadySent
	case storage.StatusError:
		return Result{}, ErrNotPending
	}
	if post.Approval != storage.ApprovalApproved {
		return Result{}, ErrNotApproved
	}

	claimed, err := p.store.ClaimPendingPost(id, p.now())
	if err != nil {
		return Result{}, fmt.Errorf("claiming post %s: %w", id, err)
	}
	if !claimed {
		return Result{}, ErrAlreadySent
	}

	dup, err := p.store.HasPostedContent(post.AgentID, post.Content)
	if err != nil {
		p.logger.Warn("duplicate check failed, sending anyway", "post_id", id, "error", err)
	}
	if dup {
		p.metrics.PostDispatched(post.AgentID, metrics.OutcomeDuplicate)
		if err := p.store.MarkPostError(id, `{"reason":"duplicate content"}`); err != nil {
			p.logger.Error("marking duplicate post", "post_id", id, "error", err)
		}
		return Result{Reason: "duplicate content"}, nil
	}

	req := social.PostRequest{Text: post.Content}
	var snap Snapshot
	if err := json.Unmarshal([]byte(post.ContextJSON), &snap); err == nil {
		req.InReplyTo = snap.InReplyTo
		req.QuoteOf = snap.QuoteOf
	}
	if post.MediaRef != "" {
		req.MediaIDs = []string{post.MediaRef}
	}

	raw, err := queue.Do(ctx, p.queue, func(ctx context.Context) (json.RawMessage, error) {
		return p.sender.SendPost(ctx, req)
	})
	if err != nil {
		p.metrics.PostDispatched(post.AgentID, metrics.OutcomeFailed)
		p.adminLog(ctx, notify.Entry{
			AgentID: post.AgentID,
			Level:   notify.LevelError,
			Event:   "dispatch_failed",
			Message: err.Error(),
			Fields:  map[string]any{"post_id": id},
		})
		return Result{}, fmt.Errorf("sending post %s: %w", id, err)
	}

	switch res := social.InterpretSendResponse(raw, p.username).(type) {
	case social.Delivered:
		p.delivered(ctx, post, snap, res)
		return Result{Delivered: true, PostID: res.ID, Permalink: res.Permalink}, nil
	case social.Rejected:
		p.metrics.PostDispatched(post.AgentID, metrics.OutcomeRejected)
		if err := p.store.MarkPostError(id, string(res.Raw)); err != nil {
			p.logger.Error("recording rejected post", "post_id", id, "error", err)
		}
		p.adminLog(ctx, notify.Entry{
			AgentID: post.AgentID,
			Level:   notify.LevelError,
			Event:   "post_rejected",
			Message: "send response has no post id",
			Fields:  map[string]any{"post_id": id, "response": string(res.Raw)},
		})
		return Result{Reason: "rejected by network"}, nil
	default:
		return Result{}, fmt.Errorf("unexpected send result %T", res)
	}
}

func (p *Pipeline) delivered(ctx context.Context, post storage.PendingPost, snap Snapshot, d social.Delivered) {
	now := p.now().UTC()
	p.metrics.PostDispatched(post.AgentID, metrics.OutcomeDelivered)
	p.logger.Info("post delivered", "post_id", post.ID, "remote_id", d.ID, "permalink", d.Permalink)

	if err := p.store.RecordDelivery(post.ID, d.ID, d.Permalink); err != nil {
		p.logger.Error("recording delivery", "post_id", post.ID, "error", err)
	}

	if p.cache != nil {
		v, _ := json.Marshal(cache.LastPost{ID: d.ID, Permalink: d.Permalink, Timestamp: now})
		if err := p.cache.Set(ctx, cache.LastPostKey(post.AgentID), string(v)); err != nil {
			p.logger.Warn("caching last post", "post_id", post.ID, "error", err)
		}
	}
	if p.timeline != nil {
		p.timeline.Append(post.AgentID, social.Item{
			ID:             d.ID,
			AuthorID:       post.AgentID,
			Username:       p.username,
			Text:           post.Content,
			CreatedAt:      now,
			ConversationID: snap.RoomID,
			InReplyToID:    snap.InReplyTo,
		})
	}

	room := snap.RoomID
	if room == "" {
		room = d.ID
	}
	_, err := p.store.SaveMemory(storage.Memory{
		ID:        uuid.NewString(),
		ItemID:    d.ID,
		AgentID:   post.AgentID,
		Kind:      "post",
		Content:   post.Content,
		RoomID:    room,
		CreatedAt: now,
	})
	if err != nil {
		p.logger.Error("saving post memory", "post_id", post.ID, "error", err)
	}
}

func (p *Pipeline) adminLog(ctx context.Context, e notify.Entry) {
	if p.admin == nil {
		p.logger.Warn("admin event", "event", e.Event, "message", e.Message)
		return
	}
	p.admin.Log(ctx, e)
}
