package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chirpd/internal/agent"
	"github.com/kalambet/chirpd/internal/api"
	"github.com/kalambet/chirpd/internal/config"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent and its management API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chirpd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "chirpd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	token, err := config.APIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("chirpd already running (PID %d)", pid)
		}
		return fmt.Errorf("chirpd already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := agent.New(ctx, cfg, agent.Options{Logger: logger, Progress: os.Stderr})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("closing runtime", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		AgentID:   cfg.Agent.ID,
		Store:     rt.Store,
		Pipeline:  rt.Pipeline,
		Scheduler: rt.Scheduler,
		Token:     token,
		Metrics:   rt.Metrics.Handler(),
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error {
		logger.Info("management API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			AgentID:   cfg.Agent.ID,
			Store:     rt.Store,
			Pipeline:  rt.Pipeline,
			Scheduler: rt.Scheduler,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shutting down...")
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("chirpd is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop chirpd (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to chirpd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Agent", "%s (@%s)", cfg.Agent.ID, cfg.Agent.Username)
	printStatus("LLM", "%s: %s / %s / %s", cfg.LLM.Provider, cfg.LLM.SmallModel, cfg.LLM.MediumModel, cfg.LLM.LargeModel)
	if cfg.LLM.Provider == "ollama" {
		if r, err := client.Get(cfg.LLM.OllamaBaseURL + "/api/version"); err != nil {
			printStatus("Ollama", "not running")
		} else {
			r.Body.Close()
			printStatus("Ollama", "running at %s", cfg.LLM.OllamaBaseURL)
		}
	}
	printStatus("Actions", "%t", cfg.Actions.Enabled)

	if running {
		if c, err := newAPIClient(); err == nil {
			c.httpClient = client
			reportQueue(context.Background(), c)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// reportQueue prints the pending post count and the generation interval.
func reportQueue(ctx context.Context, c *apiClient) {
	const limit = 100
	if resp, err := c.get(ctx, fmt.Sprintf("/posts?status=pending&limit=%d", limit)); err == nil {
		var posts []json.RawMessage
		if decodeJSON(resp, &posts) == nil {
			printStatus("Pending posts", "%s", countLabel(len(posts), limit))
		}
	}
	if resp, err := c.get(ctx, "/settings/interval"); err == nil {
		var body struct {
			Minutes int `json:"minutes"`
		}
		if decodeJSON(resp, &body) == nil {
			printStatus("Post interval", "%d min", body.Minutes)
		}
	}
}
