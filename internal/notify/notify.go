// Package notify records operator-facing events: rejected posts, failed
// dispatches and anything else an admin should look at.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/kalambet/chirpd/internal/storage"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is one admin log record.
type Entry struct {
	AgentID string
	Level   string
	Event   string
	Message string
	Fields  map[string]any
}

// LogStore is the persistence the logger writes to.
type LogStore interface {
	AppendAdminLog(l storage.AdminLog) error
}

// Logger is the narrow interface consumers depend on.
type Logger interface {
	Log(ctx context.Context, e Entry)
}

// AdminLogger writes entries to the store and optionally a Slack webhook.
type AdminLogger struct {
	store      LogStore
	webhookURL string
	logger     *slog.Logger
	post       func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error
}

// NewAdminLogger creates an AdminLogger. An empty webhookURL disables Slack.
func NewAdminLogger(store LogStore, webhookURL string, logger *slog.Logger) *AdminLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminLogger{
		store:      store,
		webhookURL: webhookURL,
		logger:     logger,
		post:       slackapi.PostWebhookContext,
	}
}

// Log records e. Failures are logged once and otherwise ignored.
func (a *AdminLogger) Log(ctx context.Context, e Entry) {
	if e.Level == "" {
		e.Level = LevelInfo
	}
	payload := ""
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			b = []byte(fmt.Sprintf("%q", fmt.Sprint(e.Fields)))
		}
		payload = string(b)
	}

	err := a.store.AppendAdminLog(storage.AdminLog{
		AgentID:   e.AgentID,
		Level:     e.Level,
		Event:     e.Event,
		Message:   e.Message,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		a.logger.Error("writing admin log", "event", e.Event, "error", err)
	}

	if a.webhookURL == "" {
		return
	}
	if err := a.post(ctx, a.webhookURL, webhookMessage(e)); err != nil {
		a.logger.Warn("posting admin log to slack", "event", e.Event, "error", err)
	}
}

func webhookMessage(e Entry) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Title:    e.Event,
		Text:     e.Message,
		Color:    levelColor(e.Level),
		Fallback: e.Event,
	}
	if e.AgentID != "" {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: "agent", Value: e.AgentID, Short: true})
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: k,
			Value: fmt.Sprint(e.Fields[k]),
			Short: true,
		})
	}
	return &slackapi.WebhookMessage{
		Text:        fmt.Sprintf("[%s] %s", e.Level, e.Event),
		Attachments: []slackapi.Attachment{att},
	}
}

func levelColor(level string) string {
	switch level {
	case LevelError:
		return "danger"
	case LevelWarn:
		return "warning"
	default:
		return "good"
	}
}
