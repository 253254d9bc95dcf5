package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CHIRPD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "CHIRPD_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "CHIRPD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CHIRPD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "agent.id", typ: kString, env: "CHIRPD_AGENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Agent.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.ID },
	},
	{
		key: "agent.username", typ: kString, env: "CHIRPD_AGENT_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.Agent.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Username },
	},
	{
		key: "agent.character_file", typ: kString, env: "CHIRPD_AGENT_CHARACTER_FILE",
		apply:   func(cfg *Config, v any) { cfg.Agent.CharacterFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.CharacterFile },
	},
	{
		key: "llm.provider", typ: kString, env: "CHIRPD_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.ollama_base_url", typ: kString, env: "CHIRPD_LLM_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaBaseURL },
	},
	{
		key: "llm.openrouter_base_url", typ: kString, env: "CHIRPD_LLM_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterBaseURL },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "CHIRPD_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.small_model", typ: kString, env: "CHIRPD_LLM_SMALL_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.SmallModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.SmallModel },
	},
	{
		key: "llm.medium_model", typ: kString, env: "CHIRPD_LLM_MEDIUM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.MediumModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.MediumModel },
	},
	{
		key: "llm.large_model", typ: kString, env: "CHIRPD_LLM_LARGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.LargeModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.LargeModel },
	},
	{
		key: "social.base_url", typ: kString, env: "CHIRPD_SOCIAL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Social.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Social.BaseURL },
	},
	{
		key: "social.token", typ: kString, env: "CHIRPD_SOCIAL_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Social.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Social.Token },
	},
	{
		key: "post.interval_minutes", typ: kInt, env: "CHIRPD_POST_INTERVAL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Post.IntervalMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Post.IntervalMinutes },
	},
	{
		key: "post.min_minutes", typ: kInt, env: "CHIRPD_POST_MIN_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Post.MinMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Post.MinMinutes },
	},
	{
		key: "post.max_minutes", typ: kInt, env: "CHIRPD_POST_MAX_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Post.MaxMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Post.MaxMinutes },
	},
	{
		key: "post.immediately", typ: kBool, env: "CHIRPD_POST_IMMEDIATELY",
		apply:   func(cfg *Config, v any) { cfg.Post.Immediately = v.(bool) },
		extract: func(cfg Config) any { return cfg.Post.Immediately },
	},
	{
		key: "post.auto_approve", typ: kBool, env: "CHIRPD_POST_AUTO_APPROVE",
		apply:   func(cfg *Config, v any) { cfg.Post.AutoApprove = v.(bool) },
		extract: func(cfg Config) any { return cfg.Post.AutoApprove },
	},
	{
		key: "post.max_length", typ: kInt, env: "CHIRPD_POST_MAX_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Post.MaxLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Post.MaxLength },
	},
	{
		key: "dispatch.period", typ: kString, env: "CHIRPD_DISPATCH_PERIOD",
		apply:   func(cfg *Config, v any) { cfg.Dispatch.Period = v.(string) },
		extract: func(cfg Config) any { return cfg.Dispatch.Period },
	},
	{
		key: "dispatch.item_delay", typ: kString, env: "CHIRPD_DISPATCH_ITEM_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Dispatch.ItemDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.Dispatch.ItemDelay },
	},
	{
		key: "actions.enabled", typ: kBool, env: "CHIRPD_ACTIONS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Actions.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Actions.Enabled },
	},
	{
		key: "actions.interval", typ: kString, env: "CHIRPD_ACTIONS_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Actions.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Actions.Interval },
	},
	{
		key: "actions.working_set", typ: kInt, env: "CHIRPD_ACTIONS_WORKING_SET",
		apply:   func(cfg *Config, v any) { cfg.Actions.WorkingSet = v.(int) },
		extract: func(cfg Config) any { return cfg.Actions.WorkingSet },
	},
	{
		key: "search.enabled", typ: kBool, env: "CHIRPD_SEARCH_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Search.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.Enabled },
	},
	{
		key: "search.provider", typ: kString, env: "CHIRPD_SEARCH_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Search.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Provider },
	},
	{
		key: "search.api_url", typ: kString, env: "CHIRPD_SEARCH_API_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.APIURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIURL },
	},
	{
		key: "search.api_key", typ: kString, env: "CHIRPD_SEARCH_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Search.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIKey },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "CHIRPD_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "notify.slack_webhook", typ: kString, env: "CHIRPD_NOTIFY_SLACK_WEBHOOK",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Notify.SlackWebhook = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.SlackWebhook },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
