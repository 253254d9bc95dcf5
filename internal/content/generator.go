// Package content turns agent context into post text via the language
// model, then cleans and bounds what comes back.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/chirpd/internal/llm"
	"github.com/kalambet/chirpd/internal/search"
)

// ErrNoContent means generation produced no usable text. Callers must abort
// the post.
var ErrNoContent = errors.New("no content produced")

const (
	DefaultMaxLength   = 280
	defaultSearchLimit = 3
)

// Searcher is the subset of search.Provider the generator uses.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Generator produces post text.
type Generator struct {
	svc         llm.Service
	searcher    Searcher
	searchLimit int
	class       llm.ModelClass
	maxLength   int
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithSearch enables enrichment of post prompts with up to limit results.
func WithSearch(s Searcher, limit int) Option {
	return func(g *Generator) {
		g.searcher = s
		if limit > 0 {
			g.searchLimit = limit
		}
	}
}

// WithMaxLength sets the post length limit in characters.
func WithMaxLength(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxLength = n
		}
	}
}

// WithModelClass sets the model class used for generation.
func WithModelClass(c llm.ModelClass) Option {
	return func(g *Generator) { g.class = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator on top of svc.
func NewGenerator(svc llm.Service, opts ...Option) *Generator {
	g := &Generator{
		svc:         svc,
		searchLimit: defaultSearchLimit,
		class:       llm.ClassLarge,
		maxLength:   DefaultMaxLength,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// MaxLength is the configured post length limit.
func (g *Generator) MaxLength() int { return g.maxLength }

// Generate renders the post template, which is the character's override when
// it has one.
func (g *Generator) Generate(ctx context.Context, c Context) (string, error) {
	return g.GenerateWithTemplate(ctx, c, c.Character.Templates.Post)
}

// GenerateWithTemplate is Generate with an explicit template. An empty tmpl
// selects DefaultPostTemplate.
func (g *Generator) GenerateWithTemplate(ctx context.Context, c Context, tmpl string) (string, error) {
	if tmpl == "" {
		tmpl = DefaultPostTemplate
	}
	if g.searcher != nil && c.Topic != "" && len(c.Search) == 0 {
		results, err := g.searcher.Search(ctx, c.Topic, search.Options{Limit: g.searchLimit})
		if err != nil {
			g.logger.Warn("search enrichment failed", "topic", c.Topic, "error", err)
		}
		c.Search = results
	}

	prompt, err := Render(tmpl, c)
	if err != nil {
		return "", err
	}

	raw, err := g.svc.Generate(ctx, llm.Request{
		Class: g.class,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt(c.Character)},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generating post: %w", err)
	}

	text := Truncate(Extract(Parse(Clean(raw))), g.maxLength)
	if text == "" {
		g.logger.Warn("model returned no usable text", "agent", c.AgentID, "raw", raw)
		return "", ErrNoContent
	}
	return text, nil
}

// Reply generates a reply to c.Target.
func (g *Generator) Reply(ctx context.Context, c Context) (string, error) {
	tmpl := c.Character.Templates.Reply
	if tmpl == "" {
		tmpl = DefaultReplyTemplate
	}
	return g.GenerateWithTemplate(ctx, c, tmpl)
}

// Quote generates a quote post for c.Target.
func (g *Generator) Quote(ctx context.Context, c Context) (string, error) {
	tmpl := c.Character.Templates.Quote
	if tmpl == "" {
		tmpl = DefaultQuoteTemplate
	}
	return g.GenerateWithTemplate(ctx, c, tmpl)
}
