// Package llm is the language-model collaborator: it turns a list of chat
// messages into text. Callers pick a model class rather than a model name.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// ModelClass selects a model tier from configuration.
type ModelClass string

const (
	ClassSmall  ModelClass = "small"
	ClassMedium ModelClass = "medium"
	ClassLarge  ModelClass = "large"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Request is one generation call.
type Request struct {
	Messages []Message
	Class    ModelClass
	Schema   *Schema // optional; requests structured JSON output
}

// Service generates text. Output may be plain prose or JSON-looking text;
// nothing else is promised.
type Service interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Backend is a concrete chat endpoint addressed by model name.
type Backend interface {
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)
}

// Models maps classes to backend model names.
type Models struct {
	Small  string
	Medium string
	Large  string
}

func (m Models) resolve(c ModelClass) string {
	switch c {
	case ClassSmall:
		return m.Small
	case ClassLarge:
		return m.Large
	default:
		return m.Medium
	}
}

// Names lists the distinct configured model names.
func (m Models) Names() []string {
	seen := make(map[string]bool, 3)
	var names []string
	for _, n := range []string{m.Small, m.Medium, m.Large} {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	return names
}

// Router implements Service on top of a Backend.
type Router struct {
	backend Backend
	models  Models
}

// NewRouter creates a Router. Empty model classes fall back to Medium.
func NewRouter(b Backend, models Models) *Router {
	if models.Small == "" {
		models.Small = models.Medium
	}
	if models.Large == "" {
		models.Large = models.Medium
	}
	return &Router{backend: b, models: models}
}

// Generate resolves the model for req.Class and calls the backend.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	model := r.models.resolve(req.Class)
	if model == "" {
		return "", fmt.Errorf("no model configured for class %q", req.Class)
	}
	out, err := r.backend.Chat(ctx, model, req.Messages, req.Schema)
	if err != nil {
		return "", fmt.Errorf("generating with %s: %w", model, err)
	}
	return strings.TrimSpace(out), nil
}
