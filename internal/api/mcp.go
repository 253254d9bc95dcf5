package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/storage"
)

const (
	recentPostsLimit = 10
	previewRunes     = 200
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	AgentID   string
	Store     Store
	Pipeline  Pipeline
	Scheduler Scheduler
}

// NewMCPServer creates an MCP server exposing post review and scheduling.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chirpd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chirpd: review, approve and schedule the agent's posts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_pending_posts",
			mcp.WithDescription("List generated posts, newest first."),
			mcp.WithString("status", mcp.Description("Filter by status: pending, sent or error")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of posts (default 20)")),
		),
		mcpListPosts(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_post",
			mcp.WithDescription("Approve a pending post so the dispatch loop sends it when due."),
			mcp.WithString("id", mcp.Description("Pending post id"), mcp.Required()),
		),
		mcpApprove(deps),
	)

	s.AddTool(
		mcp.NewTool("reject_post",
			mcp.WithDescription("Reject a pending post. It will never be sent."),
			mcp.WithString("id", mcp.Description("Pending post id"), mcp.Required()),
		),
		mcpReject(deps),
	)

	s.AddTool(
		mcp.NewTool("dispatch_post",
			mcp.WithDescription("Send an approved post now instead of waiting for its scheduled time."),
			mcp.WithString("id", mcp.Description("Pending post id"), mcp.Required()),
		),
		mcpDispatch(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_post",
			mcp.WithDescription("Generate one post now and save it for review."),
		),
		mcpGenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("set_post_interval",
			mcp.WithDescription("Change how often the agent generates posts."),
			mcp.WithNumber("minutes", mcp.Description("Generation interval in minutes"), mcp.Required()),
		),
		mcpSetInterval(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"agent://recent-posts",
			"Recent Posts",
			mcp.WithResourceDescription("Posts the agent delivered most recently"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpListPosts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", "")
		switch status {
		case "", storage.StatusPending, storage.StatusSent, storage.StatusError:
		default:
			return mcpError(fmt.Sprintf("unknown status %q", status)), nil
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		posts, err := deps.Store.ListPendingPosts(deps.AgentID, status, min(limit, maxListLimit))
		if err != nil {
			return mcpError(fmt.Sprintf("listing posts: %v", err)), nil
		}
		out := make([]Post, len(posts))
		for i, p := range posts {
			out[i] = toPost(p)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("marshaling posts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpApprove(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if err := deps.Pipeline.Approve(id); err != nil {
			return mcpError(postErrorText(id, err)), nil
		}
		return mcpText(fmt.Sprintf("Approved %s.", id)), nil
	}
}

func mcpReject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if err := deps.Pipeline.Reject(id); err != nil {
			return mcpError(postErrorText(id, err)), nil
		}
		return mcpText(fmt.Sprintf("Rejected %s.", id)), nil
	}
}

func mcpDispatch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		res, err := deps.Pipeline.Dispatch(ctx, id)
		if err != nil {
			return mcpError(postErrorText(id, err)), nil
		}
		if !res.Delivered {
			return mcpError(fmt.Sprintf("Post %s was not delivered: %s", id, res.Reason)), nil
		}
		return mcpText(fmt.Sprintf("Delivered %s: %s", id, res.Permalink)), nil
	}
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := deps.Scheduler.GenerateOnce(ctx)
		if errors.Is(err, content.ErrNoContent) {
			return mcpError("The model produced no usable post. Try again."), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("generating post: %v", err)), nil
		}
		p, err := deps.Store.GetPendingPost(id)
		if err != nil {
			return mcpError(postErrorText(id, err)), nil
		}
		return mcpText(fmt.Sprintf("Generated %s (%s), scheduled for %s:\n%s",
			p.ID, p.Approval, p.ScheduledAt.Format(time.RFC3339), p.Content)), nil
	}
}

func mcpSetInterval(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		minutes := req.GetInt("minutes", 0)
		if minutes <= 0 {
			return mcpError("minutes must be a positive integer"), nil
		}
		if err := deps.Scheduler.SetInterval(minutes); err != nil {
			return mcpError(fmt.Sprintf("setting interval: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Posts will be generated every %d minutes.", minutes)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		memories, err := deps.Store.RecentMemories(deps.AgentID, "post", recentPostsLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent posts: %w", err)
		}

		type postSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Text      string `json:"text"`
		}

		summaries := make([]postSummary, len(memories))
		for i, m := range memories {
			text := m.Content
			if utf8.RuneCountInString(text) > previewRunes {
				text = string([]rune(text)[:previewRunes]) + "..."
			}
			summaries[i] = postSummary{
				ID:        m.ItemID,
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
				Text:      text,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal posts: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func postErrorText(id string, err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Sprintf("Post %s not found.", id)
	}
	if errors.Is(err, storage.ErrNotPending) {
		return fmt.Sprintf("Post %s is no longer pending.", id)
	}
	return err.Error()
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
