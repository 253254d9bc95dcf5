package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/storage"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPServer_Registers(t *testing.T) {
	if NewMCPServer(newTestEnv(t).mcpDeps()) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_ListPendingPosts(t *testing.T) {
	env := newTestEnv(t)
	env.savePost(t, "one")
	env.savePost(t, "two")
	handler := mcpListPosts(env.mcpDeps())

	result, err := handler(context.Background(), makeCallToolRequest("list_pending_posts", map[string]any{
		"status": "pending",
		"limit":  float64(1),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	var posts []Post
	if err := json.Unmarshal([]byte(toolText(t, result)), &posts); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("got %d posts, want 1", len(posts))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("list_pending_posts", map[string]any{"status": "queued"}))
	if !result.IsError {
		t.Error("unknown status accepted")
	}
}

func TestMCPTool_ApproveAndDispatch(t *testing.T) {
	env := newTestEnv(t)
	deps := env.mcpDeps()
	id := env.savePost(t, "from mcp")

	result, _ := mcpDispatch(deps)(context.Background(), makeCallToolRequest("dispatch_post", map[string]any{"id": id}))
	if !result.IsError {
		t.Error("dispatching an unapproved post succeeded")
	}

	result, _ = mcpApprove(deps)(context.Background(), makeCallToolRequest("approve_post", map[string]any{"id": id}))
	if result.IsError {
		t.Fatalf("approve: %s", toolText(t, result))
	}

	result, _ = mcpDispatch(deps)(context.Background(), makeCallToolRequest("dispatch_post", map[string]any{"id": id}))
	if result.IsError {
		t.Fatalf("dispatch: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "https://x.com/ada/status/101") {
		t.Errorf("dispatch text = %q", toolText(t, result))
	}

	result, _ = mcpApprove(deps)(context.Background(), makeCallToolRequest("approve_post", map[string]any{}))
	if !result.IsError {
		t.Error("missing id accepted")
	}
	result, _ = mcpApprove(deps)(context.Background(), makeCallToolRequest("approve_post", map[string]any{"id": "nope"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("unknown id result = %+v", result)
	}
}

func TestMCPTool_RejectPost(t *testing.T) {
	env := newTestEnv(t)
	id := env.savePost(t, "reject me")

	result, _ := mcpReject(env.mcpDeps())(context.Background(), makeCallToolRequest("reject_post", map[string]any{"id": id}))
	if result.IsError {
		t.Fatalf("reject: %s", toolText(t, result))
	}
	p, err := env.store.GetPendingPost(id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Approval != storage.ApprovalRejected || p.Status != storage.StatusError {
		t.Errorf("post = %+v", p)
	}
}

func TestMCPTool_GeneratePost(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpGenerate(env.mcpDeps())

	result, _ := handler(context.Background(), makeCallToolRequest("generate_post", nil))
	if result.IsError {
		t.Fatalf("generate: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "generated text") {
		t.Errorf("text = %q", toolText(t, result))
	}

	env.sched.err = content.ErrNoContent
	result, _ = handler(context.Background(), makeCallToolRequest("generate_post", nil))
	if !result.IsError {
		t.Error("no content reported as success")
	}
}

func TestMCPTool_SetPostInterval(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpSetInterval(env.mcpDeps())

	result, _ := handler(context.Background(), makeCallToolRequest("set_post_interval", map[string]any{"minutes": float64(90)}))
	if result.IsError || env.sched.interval != 90 {
		t.Errorf("result = %+v, interval = %d", result, env.sched.interval)
	}
	result, _ = handler(context.Background(), makeCallToolRequest("set_post_interval", map[string]any{"minutes": float64(-1)}))
	if !result.IsError {
		t.Error("negative interval accepted")
	}
}

func TestMCPResource_RecentPosts(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("ü", 250)
	for i, text := range []string{"short one", long} {
		env.store.SaveMemory(storage.Memory{
			ID: []string{"m1", "m2"}[i], ItemID: []string{"11", "12"}[i], AgentID: testAgent,
			Kind: "post", Content: text, CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	env.store.SaveMemory(storage.Memory{ID: "r", ItemID: "13", AgentID: testAgent, Kind: "processed", CreatedAt: time.Now()})

	contents, err := mcpResourceRecent(env.mcpDeps())(context.Background(), makeReadResourceRequest("agent://recent-posts"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var posts []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &posts); err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2 (processed memories excluded)", len(posts))
	}
	if posts[0].ID != "12" || len([]rune(posts[0].Text)) != 203 {
		t.Errorf("newest post = %s, %d runes", posts[0].ID, len([]rune(posts[0].Text)))
	}
}

func TestMCPServer_ConcurrentApprovals(t *testing.T) {
	env := newTestEnv(t)
	handler := mcpApprove(env.mcpDeps())
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = env.savePost(t, "post "+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := handler(context.Background(), makeCallToolRequest("approve_post", map[string]any{"id": id}))
			if err != nil || result.IsError {
				t.Errorf("approve %s failed", id)
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		p, _ := env.store.GetPendingPost(id)
		if p.Approval != storage.ApprovalApproved {
			t.Errorf("%s approval = %s", id, p.Approval)
		}
	}
}
