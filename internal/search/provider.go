// Package search fetches web results used to enrich generated posts.
package search

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	ProviderTavily  = "tavily"
	ProviderSearxng = "searxng"
)

// Provider runs a web search.
type Provider interface {
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Result is a single search hit with plain-text content.
type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// Options controls a search call.
type Options struct {
	Limit       int
	SearchDepth string
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	APIURL   string
}

// NewProvider creates a provider from cfg.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderTavily, "":
		return NewTavilyProvider(cfg.APIKey, cfg.APIURL)
	case ProviderSearxng:
		return NewSearxngProvider(cfg.APIURL)
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Provider)
	}
}

// BestEffort wraps a provider so that failures produce an empty result list.
type BestEffort struct {
	p      Provider
	logger *slog.Logger
}

// NewBestEffort wraps p.
func NewBestEffort(p Provider, logger *slog.Logger) *BestEffort {
	if logger == nil {
		logger = slog.Default()
	}
	return &BestEffort{p: p, logger: logger}
}

// Search never returns an error.
func (b *BestEffort) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if b.p == nil || query == "" {
		return nil, nil
	}
	results, err := b.p.Search(ctx, query, opts)
	if err != nil {
		b.logger.Warn("search failed, continuing without results", "query", query, "error", err)
		return nil, nil
	}
	return results, nil
}
