// Package agent assembles the components of one agent from configuration and
// runs its loops.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chirpd/internal/actions"
	"github.com/kalambet/chirpd/internal/cache"
	"github.com/kalambet/chirpd/internal/config"
	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/dispatch"
	"github.com/kalambet/chirpd/internal/llm"
	"github.com/kalambet/chirpd/internal/metrics"
	"github.com/kalambet/chirpd/internal/notify"
	"github.com/kalambet/chirpd/internal/queue"
	"github.com/kalambet/chirpd/internal/scheduler"
	"github.com/kalambet/chirpd/internal/search"
	"github.com/kalambet/chirpd/internal/social"
	"github.com/kalambet/chirpd/internal/storage"
)

const (
	searchLimit  = 3
	redisTimeout = 3 * time.Second
)

// Options adjusts how New builds the runtime.
type Options struct {
	Logger *slog.Logger
	// Progress receives model pull progress during startup.
	Progress io.Writer
	// SkipModelCheck skips pulling missing Ollama models.
	SkipModelCheck bool
}

// Runtime holds every component of one agent. Fields are exported for the
// management surfaces.
type Runtime struct {
	Config    config.Config
	Character content.Character
	Store     *storage.Store
	Queue     *queue.Queue
	Metrics   *metrics.Metrics
	Admin     *notify.AdminLogger
	Client    *social.Client
	Generator *content.Generator
	Pipeline  *dispatch.Pipeline
	Scheduler *scheduler.Scheduler
	// Actions is nil when actions.enabled is false.
	Actions *actions.Processor

	redis  goredis.UniversalClient
	logger *slog.Logger
}

// New builds a runtime from cfg. The caller must Close it.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *Runtime, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.Character = content.Character{Name: cfg.Agent.Username}
	if cfg.Agent.CharacterFile != "" {
		if rt.Character, err = LoadCharacter(cfg.Agent.CharacterFile); err != nil {
			return nil, err
		}
	}

	svc, err := newLLM(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	if rt.Store, err = storage.Open(cfg.Storage.DataDir); err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	var kv cache.Cache = cache.NewStoreCache(rt.Store)
	if cfg.Cache.RedisAddr != "" {
		rt.redis = goredis.NewClient(&goredis.Options{Addr: cfg.Cache.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, redisTimeout)
		err := rt.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		kv = cache.NewRedisCache(rt.redis, "chirpd:")
		logger.Info("using redis cache", "addr", cfg.Cache.RedisAddr)
	}

	rt.Queue = queue.New(queue.WithLogger(logger))
	rt.Metrics = metrics.New()
	rt.Metrics.WatchQueue(rt.Queue.Pending)
	rt.Admin = notify.NewAdminLogger(rt.Store, cfg.Notify.SlackWebhook, logger)

	rt.Client = social.NewClient(cfg.Social.BaseURL, cfg.Social.Token, cfg.Agent.Username)
	reader := social.NewQueuedReader(rt.Client, rt.Queue)
	timeline := cache.NewTimelineCache(0)

	genOpts := []content.Option{content.WithMaxLength(cfg.Post.MaxLength), content.WithLogger(logger)}
	if cfg.Search.Enabled {
		p, err := search.NewProvider(search.Config{
			Provider: cfg.Search.Provider,
			APIKey:   cfg.Search.APIKey,
			APIURL:   cfg.Search.APIURL,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring search: %w", err)
		}
		genOpts = append(genOpts, content.WithSearch(search.NewBestEffort(p, logger), searchLimit))
	}
	rt.Generator = content.NewGenerator(svc, genOpts...)

	rt.Pipeline = dispatch.New(dispatch.Config{
		Store:    rt.Store,
		Sender:   rt.Client,
		Queue:    rt.Queue,
		Username: cfg.Agent.Username,
		Cache:    kv,
		Timeline: timeline,
		Admin:    rt.Admin,
		Metrics:  rt.Metrics,
		Logger:   logger,
	})

	rt.Scheduler = scheduler.New(scheduler.Config{
		AgentID:         cfg.Agent.ID,
		Username:        cfg.Agent.Username,
		Character:       rt.Character,
		Store:           rt.Store,
		Generator:       rt.Generator,
		Pipeline:        rt.Pipeline,
		Cache:           kv,
		Delivered:       timeline,
		Timeline:        reader,
		IntervalMinutes: cfg.Post.IntervalMinutes,
		MinMinutes:      cfg.Post.MinMinutes,
		MaxMinutes:      cfg.Post.MaxMinutes,
		Immediately:     cfg.Post.Immediately,
		AutoApprove:     cfg.Post.AutoApprove,
		DispatchSpec:    cfg.Dispatch.Period,
		ItemDelay:       itemDelay(cfg),
		Metrics:         rt.Metrics,
		Logger:          logger,
	})
	if _, err := rt.Scheduler.DispatchTask(); err != nil {
		return nil, fmt.Errorf("dispatch.period: %w", err)
	}

	if cfg.Actions.Enabled {
		rt.Actions = actions.New(actions.Config{
			AgentID:    cfg.Agent.ID,
			Username:   cfg.Agent.Username,
			Character:  rt.Character,
			Store:      rt.Store,
			Reader:     reader,
			Network:    rt.Client,
			Composer:   rt.Generator,
			LLM:        svc,
			Queue:      rt.Queue,
			WorkingSet: cfg.Actions.WorkingSet,
			Interval:   cfg.ActionsInterval(),
			Metrics:    rt.Metrics,
			Logger:     logger,
		})
	}
	return rt, nil
}

// itemDelay maps a configured zero delay to the scheduler's "disabled" value.
func itemDelay(cfg config.Config) time.Duration {
	d := cfg.ItemDelay()
	if d == 0 {
		return -1
	}
	return d
}

func newLLM(ctx context.Context, cfg config.Config, opts Options) (llm.Service, error) {
	models := llm.Models{
		Small:  cfg.LLM.SmallModel,
		Medium: cfg.LLM.MediumModel,
		Large:  cfg.LLM.LargeModel,
	}
	switch cfg.LLM.Provider {
	case "openrouter":
		return llm.NewRouter(llm.NewOpenRouterClient(cfg.LLM.OpenRouterAPIKey, cfg.LLM.OpenRouterBaseURL), models), nil
	case "ollama", "":
		c := llm.NewOllamaClient(cfg.LLM.OllamaBaseURL)
		if !opts.SkipModelCheck {
			w := opts.Progress
			if w == nil {
				w = io.Discard
			}
			if err := llm.EnsureReady(ctx, c, models, w); err != nil {
				return nil, err
			}
		}
		return llm.NewRouter(c, models), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// Run runs the generation, dispatch and action loops until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Scheduler.Run(ctx) })
	if rt.Actions != nil {
		g.Go(func() error { return rt.Actions.Run(ctx) })
	}
	rt.logger.Info("agent running", "agent", rt.Config.Agent.ID, "username", rt.Config.Agent.Username,
		"actions", rt.Actions != nil)
	return g.Wait()
}

// Close releases the queue, cache and store.
func (rt *Runtime) Close() error {
	if rt.Actions != nil {
		rt.Actions.Stop()
	}
	if rt.Queue != nil {
		rt.Queue.Close()
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("closing redis", "error", err)
		}
	}
	if rt.Store != nil {
		return rt.Store.Close()
	}
	return nil
}
