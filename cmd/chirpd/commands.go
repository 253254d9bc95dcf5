package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/chirpd/internal/config"
)

// --- posts ---

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Review generated posts",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listPosts(cmd.Context(), client, os.Stdout, status, limit, asJSON)
	},
}

var postsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one post as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/posts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var post json.RawMessage
		if err := decodeJSON(resp, &post); err != nil {
			return err
		}
		return writeIndented(os.Stdout, post)
	},
}

var postsApproveCmd = &cobra.Command{
	Use:   "approve <id>...",
	Short: "Approve posts for dispatch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return changeApproval(cmd.Context(), client, "approve", args)
	},
}

var postsRejectCmd = &cobra.Command{
	Use:   "reject <id>...",
	Short: "Reject posts so they are never sent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return changeApproval(cmd.Context(), client, "reject", args)
	},
}

var postsDispatchCmd = &cobra.Command{
	Use:   "dispatch <id>",
	Short: "Send an approved post now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return dispatchPost(cmd.Context(), client, args[0])
	},
}

func init() {
	postsListCmd.Flags().String("status", "pending", "filter by status: pending, sent, error (empty for all)")
	postsListCmd.Flags().Int("limit", 20, "maximum number of posts")
	postsListCmd.Flags().Bool("json", false, "print raw JSON")

	postsCmd.AddCommand(postsListCmd, postsShowCmd, postsApproveCmd, postsRejectCmd, postsDispatchCmd)
}

func listPosts(ctx context.Context, c *apiClient, w io.Writer, status string, limit int, asJSON bool) error {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/posts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var posts []postView
	if err := decodeJSON(resp, &posts); err != nil {
		return err
	}

	if asJSON {
		return writeIndented(w, posts)
	}
	if len(posts) == 0 {
		fmt.Fprintln(w, "No posts.")
		return nil
	}
	for _, p := range posts {
		writePostLine(w, p)
	}
	return nil
}

// changeApproval applies action to every id and reports each result. It
// fails if any id failed.
func changeApproval(ctx context.Context, c *apiClient, action string, ids []string) error {
	failed := 0
	for _, id := range ids {
		resp, err := c.post(ctx, "/posts/"+url.PathEscape(id)+"/"+action, nil)
		if err == nil {
			var out map[string]string
			err = decodeJSON(resp, &out)
		}
		if err != nil {
			printError("%s %s: %v", action, id, err)
			failed++
			continue
		}
		printSuccess("%s %s", pastTense(action), id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d posts failed", failed, len(ids))
	}
	return nil
}

func pastTense(action string) string {
	switch action {
	case "approve":
		return "Approved"
	case "reject":
		return "Rejected"
	}
	return action
}

func dispatchPost(ctx context.Context, c *apiClient, id string) error {
	resp, err := c.post(ctx, "/posts/"+url.PathEscape(id)+"/dispatch", nil)
	if err != nil {
		return err
	}
	var res struct {
		Delivered bool   `json:"delivered"`
		Permalink string `json:"permalink"`
		Reason    string `json:"reason"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	if !res.Delivered {
		printWarning("Post %s not delivered: %s", id, res.Reason)
		return nil
	}
	printSuccess("Delivered %s: %s", id, res.Permalink)
	return nil
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one post now and queue it for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return generatePost(cmd.Context(), client, os.Stdout)
	},
}

func generatePost(ctx context.Context, c *apiClient, w io.Writer) error {
	resp, err := c.post(ctx, "/generate", nil)
	if err != nil {
		return err
	}
	var p postView
	if err := decodeJSON(resp, &p); err != nil {
		return err
	}
	printSuccess("Generated %s (%s), scheduled for %s", p.ID, p.Approval, p.ScheduledAt.Local().Format(time.DateTime))
	fmt.Fprintln(w, p.Content)
	return nil
}

// --- interval ---

var intervalCmd = &cobra.Command{
	Use:   "interval [minutes]",
	Short: "Show or change the post generation interval",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return showInterval(cmd.Context(), client, os.Stdout)
		}
		minutes, err := strconv.Atoi(args[0])
		if err != nil || minutes <= 0 {
			return fmt.Errorf("minutes must be a positive integer, got %q", args[0])
		}
		return setInterval(cmd.Context(), client, minutes)
	},
}

type intervalBody struct {
	Minutes int `json:"minutes"`
}

func showInterval(ctx context.Context, c *apiClient, w io.Writer) error {
	resp, err := c.get(ctx, "/settings/interval")
	if err != nil {
		return err
	}
	var body intervalBody
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d minutes\n", body.Minutes)
	return nil
}

func setInterval(ctx context.Context, c *apiClient, minutes int) error {
	resp, err := c.put(ctx, "/settings/interval", intervalBody{Minutes: minutes})
	if err != nil {
		return err
	}
	var body intervalBody
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}
	printSuccess("Posts will be generated every %d minutes", body.Minutes)
	return nil
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent admin log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showLogs(cmd.Context(), client, os.Stdout, limit)
	},
}

func init() {
	logsCmd.Flags().Int("limit", 20, "maximum number of entries")
}

func showLogs(ctx context.Context, c *apiClient, w io.Writer, limit int) error {
	resp, err := c.get(ctx, fmt.Sprintf("/admin-logs?limit=%d", limit))
	if err != nil {
		return err
	}
	var logs []struct {
		Level     string          `json:"level"`
		Event     string          `json:"event"`
		Message   string          `json:"message"`
		Payload   json.RawMessage `json:"payload"`
		CreatedAt time.Time       `json:"created_at"`
	}
	if err := decodeJSON(resp, &logs); err != nil {
		return err
	}
	for _, l := range logs {
		color := colorYellow
		if l.Level == "error" {
			color = colorRed
		}
		fmt.Fprintf(w, "%s %s %s %s", l.CreatedAt.Local().Format(time.DateTime),
			colorize(color, fmt.Sprintf("%-5s", l.Level)), colorize(colorBold, l.Event), l.Message)
		if len(l.Payload) > 0 {
			fmt.Fprintf(w, " %s", l.Payload)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Secrets are read from the environment only.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
