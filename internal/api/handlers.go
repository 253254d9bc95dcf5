package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/dispatch"
	"github.com/kalambet/chirpd/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodySize      = 1 << 20
)

// Store is the read side the management surfaces need.
type Store interface {
	GetPendingPost(id string) (storage.PendingPost, error)
	ListPendingPosts(agentID, status string, limit int) ([]storage.PendingPost, error)
	ListAdminLogs(limit int) ([]storage.AdminLog, error)
	RecentMemories(agentID, kind string, limit int) ([]storage.Memory, error)
}

// Pipeline moves posts through approval and dispatch.
type Pipeline interface {
	Approve(id string) error
	Reject(id string) error
	Dispatch(ctx context.Context, id string) (dispatch.Result, error)
}

// Scheduler generates posts and owns the interval setting.
type Scheduler interface {
	GenerateOnce(ctx context.Context) (string, error)
	Interval() (time.Duration, error)
	SetInterval(minutes int) error
}

type Deps struct {
	AgentID   string
	Store     Store
	Pipeline  Pipeline
	Scheduler Scheduler
	Token     string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Post is the JSON form of a pending post.
type Post struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agent_id"`
	Content      string          `json:"content"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	Status       string          `json:"status"`
	Approval     string          `json:"approval"`
	Context      json.RawMessage `json:"context,omitempty"`
	MediaRef     string          `json:"media_ref,omitempty"`
	ErrorPayload string          `json:"error_payload,omitempty"`
	PostID       string          `json:"post_id,omitempty"`
	Permalink    string          `json:"permalink,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
}

func toPost(p storage.PendingPost) Post {
	out := Post{
		ID:           p.ID,
		AgentID:      p.AgentID,
		Content:      p.Content,
		ScheduledAt:  p.ScheduledAt,
		Status:       p.Status,
		Approval:     p.Approval,
		MediaRef:     p.MediaRef,
		ErrorPayload: p.ErrorPayload,
		PostID:       p.PostID,
		Permalink:    p.Permalink,
		CreatedAt:    p.CreatedAt,
	}
	if json.Valid([]byte(p.ContextJSON)) {
		out.Context = json.RawMessage(p.ContextJSON)
	}
	if !p.SentAt.IsZero() {
		sent := p.SentAt
		out.SentAt = &sent
	}
	return out
}

// DispatchResponse reports one dispatch attempt.
type DispatchResponse struct {
	Delivered bool   `json:"delivered"`
	PostID    string `json:"post_id,omitempty"`
	Permalink string `json:"permalink,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// IntervalBody is the body of GET and PUT /settings/interval.
type IntervalBody struct {
	Minutes int `json:"minutes"`
}

// AdminLogEntry is the JSON form of an admin log row.
type AdminLogEntry struct {
	ID        int64           `json:"id"`
	AgentID   string          `json:"agent_id,omitempty"`
	Level     string          `json:"level"`
	Event     string          `json:"event"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewHandler builds the management API. /health and /metrics are public;
// everything else needs the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/posts", handleListPosts(deps))
		r.Get("/posts/{id}", handleGetPost(deps))
		r.Post("/posts/{id}/approve", handleApprove(deps))
		r.Post("/posts/{id}/reject", handleReject(deps))
		r.Post("/posts/{id}/dispatch", handleDispatch(deps))
		r.Post("/generate", handleGenerate(deps))
		r.Get("/settings/interval", handleGetInterval(deps))
		r.Put("/settings/interval", handlePutInterval(deps))
		r.Get("/admin-logs", handleAdminLogs(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleListPosts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		switch status {
		case "", storage.StatusPending, storage.StatusSent, storage.StatusError:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}
		limit, err := parseLimit(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		posts, err := deps.Store.ListPendingPosts(deps.AgentID, status, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing posts: %v", err)
			return
		}
		out := make([]Post, len(posts))
		for i, p := range posts {
			out[i] = toPost(p)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetPost(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetPendingPost(chi.URLParam(r, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPost(p))
	}
}

func handleApprove(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Pipeline.Approve(id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "approval": storage.ApprovalApproved})
	}
}

func handleReject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Pipeline.Reject(id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "approval": storage.ApprovalRejected})
	}
}

func handleDispatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Pipeline.Dispatch(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, dispatch.ErrAlreadySent), errors.Is(err, dispatch.ErrNotApproved), errors.Is(err, dispatch.ErrNotPending):
			httpError(w, http.StatusConflict, "conflict_error", "%v", err)
			return
		case err != nil:
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DispatchResponse{
			Delivered: res.Delivered,
			PostID:    res.PostID,
			Permalink: res.Permalink,
			Reason:    res.Reason,
		})
	}
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := deps.Scheduler.GenerateOnce(r.Context())
		if errors.Is(err, content.ErrNoContent) {
			httpError(w, http.StatusUnprocessableEntity, "no_content", "model produced no usable post")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generating post: %v", err)
			return
		}
		p, err := deps.Store.GetPendingPost(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPost(p))
	}
}

func handleGetInterval(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Scheduler.Interval()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, IntervalBody{Minutes: int(d / time.Minute)})
	}
}

func handlePutInterval(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var body IntervalBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if body.Minutes <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "minutes must be positive")
			return
		}
		if err := deps.Scheduler.SetInterval(body.Minutes); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func handleAdminLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		logs, err := deps.Store.ListAdminLogs(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing admin logs: %v", err)
			return
		}
		out := make([]AdminLogEntry, len(logs))
		for i, l := range logs {
			out[i] = AdminLogEntry{
				ID:        l.ID,
				AgentID:   l.AgentID,
				Level:     l.Level,
				Event:     l.Event,
				Message:   l.Message,
				CreatedAt: l.CreatedAt,
			}
			if l.Payload != "" && json.Valid([]byte(l.Payload)) {
				out[i].Payload = json.RawMessage(l.Payload)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "post not found")
		return
	}
	if errors.Is(err, storage.ErrNotPending) {
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
