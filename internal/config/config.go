package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	Agent    AgentConfig
	LLM      LLMConfig
	Social   SocialConfig
	Post     PostConfig
	Dispatch DispatchConfig
	Actions  ActionsConfig
	Search   SearchConfig
	Cache    CacheConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type AgentConfig struct {
	ID            string
	Username      string
	CharacterFile string
}

type LLMConfig struct {
	Provider          string
	OllamaBaseURL     string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	SmallModel        string
	MediumModel       string
	LargeModel        string
}

type SocialConfig struct {
	BaseURL string
	Token   string
}

type PostConfig struct {
	IntervalMinutes int
	MinMinutes      int
	MaxMinutes      int
	Immediately     bool
	AutoApprove     bool
	MaxLength       int
}

type DispatchConfig struct {
	// Period is a Go duration or a cron expression.
	Period    string
	ItemDelay string
}

type ActionsConfig struct {
	Enabled    bool
	Interval   string
	WorkingSet int
}

type SearchConfig struct {
	Enabled  bool
	Provider string
	APIURL   string
	APIKey   string
}

type CacheConfig struct {
	RedisAddr string
}

type NotifyConfig struct {
	SlackWebhook string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Agent:   AgentConfig{ID: "default"},
		LLM: LLMConfig{
			Provider:      "ollama",
			OllamaBaseURL: "http://localhost:11434",
			SmallModel:    "phi3.5",
			MediumModel:   "mistral-nemo",
			LargeModel:    "mistral-nemo",
		},
		Post: PostConfig{
			IntervalMinutes: 30,
			MinMinutes:      12,
			MaxMinutes:      24,
			MaxLength:       280,
		},
		Dispatch: DispatchConfig{Period: "5m", ItemDelay: "60s"},
		Actions:  ActionsConfig{Enabled: true, Interval: "5m", WorkingSet: 20},
		Search:   SearchConfig{Provider: "tavily"},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/chirpd/config.yaml (or $CHIRPD_CONFIG), then applies
// CHIRPD_* environment overrides. Secrets are read from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Validate checks what the daemon needs to start. Client commands only need
// the server section and skip it.
func (c Config) Validate() error {
	var errs []error
	if c.Agent.Username == "" {
		errs = append(errs, errors.New("agent.username is required"))
	}
	if c.Social.BaseURL == "" {
		errs = append(errs, errors.New("social.base_url is required"))
	}
	if c.Social.Token == "" {
		errs = append(errs, errors.New("social token is required; set CHIRPD_SOCIAL_TOKEN"))
	}
	switch c.LLM.Provider {
	case "ollama":
	case "openrouter":
		if c.LLM.OpenRouterAPIKey == "" {
			errs = append(errs, errors.New("OpenRouter API key is required; set CHIRPD_OPENROUTER_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.Post.MinMinutes > c.Post.MaxMinutes {
		errs = append(errs, fmt.Errorf("post.min_minutes (%d) exceeds post.max_minutes (%d)", c.Post.MinMinutes, c.Post.MaxMinutes))
	}
	for key, v := range map[string]string{"dispatch.item_delay": c.Dispatch.ItemDelay, "actions.interval": c.Actions.Interval} {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// ItemDelay parses Dispatch.ItemDelay, falling back to 60s.
func (c Config) ItemDelay() time.Duration {
	d, err := time.ParseDuration(c.Dispatch.ItemDelay)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// ActionsInterval parses Actions.Interval, falling back to 5m.
func (c Config) ActionsInterval() time.Duration {
	d, err := time.ParseDuration(c.Actions.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "chirpd-data"
		}
	}
	return filepath.Join(dir, "chirpd")
}

func configFilePath() string {
	if p := os.Getenv("CHIRPD_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "chirpd", "config.yaml")
}
