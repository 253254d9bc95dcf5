package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/chirpd/internal/content"
	"github.com/kalambet/chirpd/internal/llm"
	"github.com/kalambet/chirpd/internal/queue"
	"github.com/kalambet/chirpd/internal/social"
	"github.com/kalambet/chirpd/internal/storage"
)

type stubLLM struct {
	mu    sync.Mutex
	out   string
	err   error
	calls int
	last  llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = req
	return s.out, s.err
}

type fakeReader struct {
	items     []social.Item
	thread    []social.Item
	err       error
	threadIDs []string
}

func (r *fakeReader) FetchTimeline(_ context.Context, limit int) ([]social.Item, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.items) > limit {
		return r.items[:limit], nil
	}
	return r.items, nil
}

func (r *fakeReader) FetchThread(_ context.Context, id string, _ int) ([]social.Item, error) {
	r.threadIDs = append(r.threadIDs, id)
	return r.thread, nil
}

type fakeNetwork struct {
	mu      sync.Mutex
	likes   []string
	reposts []string
	posts   []social.PostRequest
	likeErr error
}

func (n *fakeNetwork) Like(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.likeErr != nil {
		return n.likeErr
	}
	n.likes = append(n.likes, id)
	return nil
}

func (n *fakeNetwork) Repost(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reposts = append(n.reposts, id)
	return nil
}

func (n *fakeNetwork) SendPost(_ context.Context, p social.PostRequest) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, p)
	return json.RawMessage(`{"data":{"create_tweet":{"tweet_results":{"result":{"rest_id":"mine-1"}}}}}`), nil
}

func (n *fakeNetwork) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.likes) + len(n.reposts) + len(n.posts)
}

type fakeComposer struct {
	replyErr  error
	quoteText string
	got       content.Context
}

func (c *fakeComposer) Reply(_ context.Context, ctx content.Context) (string, error) {
	c.got = ctx
	if c.replyErr != nil {
		return "", c.replyErr
	}
	return "a reply", nil
}

func (c *fakeComposer) Quote(_ context.Context, ctx content.Context) (string, error) {
	c.got = ctx
	return c.quoteText, nil
}

type fixture struct {
	store    *storage.Store
	llm      *stubLLM
	reader   *fakeReader
	network  *fakeNetwork
	composer *fakeComposer
	p        *Processor
}

func newFixture(t *testing.T, decision string, items ...social.Item) *fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	q := queue.New()
	t.Cleanup(func() {
		q.Close()
		s.Close()
	})
	f := &fixture{
		store:    s,
		llm:      &stubLLM{out: decision},
		reader:   &fakeReader{items: items},
		network:  &fakeNetwork{},
		composer: &fakeComposer{quoteText: "my take"},
	}
	f.p = New(Config{
		AgentID:  "agent-1",
		Username: "bot",
		Store:    s,
		Reader:   f.reader,
		Network:  f.network,
		Composer: f.composer,
		LLM:      f.llm,
		Queue:    q,
	})
	return f
}

func item(id string) social.Item {
	return social.Item{ID: id, Username: "alice", Text: "post " + id, ConversationID: "conv-" + id}
}

func TestRunOnce_SecondPassSkipsProcessedItems(t *testing.T) {
	f := newFixture(t, `{"like":true,"retweet":true,"quote":false,"reply":false}`, item("1"))
	ctx := context.Background()

	sum, err := f.p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if sum.Processed != 1 || sum.Executed != 2 {
		t.Errorf("first pass = %+v", sum)
	}

	before := f.network.total()
	sum, err = f.p.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if sum.Seen != 1 || sum.Processed != 0 || sum.Executed != 0 {
		t.Errorf("second pass = %+v", sum)
	}
	if f.network.total() != before {
		t.Errorf("second pass executed %d actions", f.network.total()-before)
	}
	if f.llm.calls != 1 {
		t.Errorf("classification calls = %d, want 1", f.llm.calls)
	}
	mems, _ := f.store.RecentMemories("agent-1", MemoryKind, 10)
	if len(mems) != 1 {
		t.Errorf("processed memories = %d, want 1", len(mems))
	}
}

func TestRunOnce_ReplyFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, `{"like":true,"retweet":true,"quote":false,"reply":true}`, item("7"))
	f.composer.replyErr = errors.New("model unavailable")

	sum, err := f.p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Executed != 2 {
		t.Errorf("executed = %d, want 2", sum.Executed)
	}
	if len(f.network.likes) != 1 || len(f.network.reposts) != 1 || len(f.network.posts) != 0 {
		t.Errorf("likes=%v reposts=%v posts=%v", f.network.likes, f.network.reposts, f.network.posts)
	}

	out, err := f.store.GetActionOutcome("7", "agent-1")
	if err != nil {
		t.Fatalf("GetActionOutcome: %v", err)
	}
	if !slices.Equal(out.Decided, []string{KindLike, KindRetweet, KindReply}) {
		t.Errorf("decided = %v", out.Decided)
	}
	if !slices.Equal(out.Executed, []string{KindLike, KindRetweet}) {
		t.Errorf("executed = %v", out.Executed)
	}
	if has, _ := f.store.HasMemory("7", "agent-1"); !has {
		t.Error("terminal memory not written")
	}
}

func TestRunOnce_LikeFailureStillReplies(t *testing.T) {
	f := newFixture(t, `{"like":true,"retweet":false,"quote":false,"reply":true}`, item("8"))
	f.network.likeErr = errors.New("429")

	if _, err := f.p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	out, _ := f.store.GetActionOutcome("8", "agent-1")
	if !slices.Equal(out.Executed, []string{KindReply}) {
		t.Errorf("executed = %v", out.Executed)
	}
	if len(f.network.posts) != 1 || f.network.posts[0].InReplyTo != "8" {
		t.Errorf("posts = %+v", f.network.posts)
	}
}

func TestRunOnce_RateLimitedReplyIsNotRetried(t *testing.T) {
	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/graphql/CreateTweet" {
			creates.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	f := newFixture(t, `{"like":true,"retweet":false,"quote":false,"reply":true}`, item("10"))
	q := queue.New()
	defer q.Close()
	f.p = New(Config{
		AgentID:  "agent-1",
		Username: "bot",
		Store:    f.store,
		Reader:   f.reader,
		Network:  social.NewClient(srv.URL, "tok", "bot"),
		Composer: f.composer,
		LLM:      f.llm,
		Queue:    q,
	})

	start := time.Now()
	if _, err := f.p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("pass took %v", elapsed)
	}
	if creates.Load() != 1 {
		t.Errorf("CreateTweet requests = %d, want 1", creates.Load())
	}
	out, _ := f.store.GetActionOutcome("10", "agent-1")
	if !slices.Equal(out.Executed, []string{KindLike}) {
		t.Errorf("executed = %v, want only like", out.Executed)
	}
}

func TestRunOnce_QuoteWithRichContext(t *testing.T) {
	it := item("9")
	it.Quoted = &social.Item{ID: "5", Text: "original claim", Media: []social.Media{{Type: "video"}}}
	it.Media = []social.Media{{URL: "https://img", Description: "a chart"}}
	f := newFixture(t, "```json\n{\"like\":false,\"retweet\":false,\"quote\":true,\"reply\":false}\n```", it)
	f.reader.thread = []social.Item{{ID: "3", Username: "carol", Text: "context"}}

	if _, err := f.p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.network.posts) != 1 || f.network.posts[0].QuoteOf != "9" || f.network.posts[0].Text != "my take" {
		t.Fatalf("posts = %+v", f.network.posts)
	}
	got := f.composer.got
	if got.QuotedText != "original claim" || len(got.Thread) != 1 {
		t.Errorf("context quoted=%q thread=%v", got.QuotedText, got.Thread)
	}
	if !slices.Equal(got.MediaDescriptions, []string{"a chart", "video without description"}) {
		t.Errorf("media = %v", got.MediaDescriptions)
	}
	if !slices.Equal(f.reader.threadIDs, []string{"9"}) {
		t.Errorf("thread fetches = %v", f.reader.threadIDs)
	}
	mems, _ := f.store.RecentMemories("agent-1", KindQuote, 5)
	if len(mems) != 1 || mems[0].ItemID != "mine-1" || mems[0].RoomID != "conv-9" {
		t.Errorf("quote memories = %+v", mems)
	}
	if f.llm.last.Schema == nil || f.llm.last.Class != llm.ClassSmall {
		t.Errorf("decision request = %+v", f.llm.last)
	}
}

func TestRunOnce_EmptyQuoteAbandonsOnlyQuote(t *testing.T) {
	f := newFixture(t, `{"like":true,"retweet":false,"quote":true,"reply":false}`, item("4"))
	f.composer.quoteText = ""

	if _, err := f.p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	out, _ := f.store.GetActionOutcome("4", "agent-1")
	if !slices.Equal(out.Executed, []string{KindLike}) || !slices.Contains(out.Decided, KindQuote) {
		t.Errorf("outcome = %+v", out)
	}
}

func TestRunOnce_UnparsableDecisionSkipsItem(t *testing.T) {
	f := newFixture(t, "sure, I'd like it", item("2"))

	sum, err := f.p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Undecided != 1 || f.network.total() != 0 {
		t.Errorf("summary = %+v, actions = %d", sum, f.network.total())
	}
	if _, err := f.store.GetActionOutcome("2", "agent-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("outcome err = %v, want ErrNotFound", err)
	}
}

func TestRunOnce_IgnoresOwnPostsAndRespectsWorkingSet(t *testing.T) {
	own := item("own")
	own.Username = "bot"
	items := []social.Item{own}
	for _, id := range []string{"a", "b", "c"} {
		items = append(items, item(id))
	}
	f := newFixture(t, `{"like":true,"retweet":false,"quote":false,"reply":false}`, items...)
	f.p.cfg.WorkingSet = 3

	sum, err := f.p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Considered != 2 || !slices.Equal(f.network.likes, []string{"a", "b"}) {
		t.Errorf("summary = %+v likes = %v", sum, f.network.likes)
	}
}

func TestRunOnce_BusyIsNoop(t *testing.T) {
	f := newFixture(t, `{"like":true}`, item("1"))
	f.p.running.Store(true)

	sum, err := f.p.RunOnce(context.Background())
	if err != nil || !sum.Skipped {
		t.Errorf("RunOnce = %+v, %v; want skipped", sum, err)
	}
	if f.llm.calls != 0 || f.network.total() != 0 {
		t.Error("busy pass did work")
	}
}

func TestRunOnce_TimelineErrorFailsPass(t *testing.T) {
	f := newFixture(t, "")
	f.reader.err = errors.New("timeline down")
	if _, err := f.p.RunOnce(context.Background()); err == nil {
		t.Error("expected error")
	}
	// The guard is released after a failed pass.
	f.reader.err = nil
	if sum, _ := f.p.RunOnce(context.Background()); sum.Skipped {
		t.Error("guard still held")
	}
}

func TestRun_StopBeforeStart(t *testing.T) {
	f := newFixture(t, "")
	f.p.Stop()

	done := make(chan error, 1)
	go func() { done <- f.p.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored Stop")
	}
	if f.llm.calls != 0 {
		t.Error("stopped processor ran a pass")
	}
}

func TestTask_UsesFlatErrorDelay(t *testing.T) {
	f := newFixture(t, "")
	task := f.p.Task()
	if task.ErrorDelay != 30*time.Second || task.Name != "actions" {
		t.Errorf("task = %+v", task)
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Decision
		ok   bool
	}{
		{"plain json", `{"like":true,"reply":true}`, Decision{Like: true, Reply: true}, true},
		{"fenced", "```json\n{\"retweet\":true}\n```", Decision{Retweet: true}, true},
		{"prose", "I would like this post", Decision{}, false},
		{"wrong types", `{"like":"yes"}`, Decision{}, false},
		{"empty", "", Decision{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDecision(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseDecision(%q) = %+v, %v; want %+v, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestDecision_Kinds(t *testing.T) {
	d := Decision{Like: true, Quote: true, Reply: true}
	if got := d.Kinds(); !slices.Equal(got, []string{KindLike, KindQuote, KindReply}) {
		t.Errorf("Kinds = %v", got)
	}
	if got := (Decision{}).Kinds(); len(got) != 0 {
		t.Errorf("empty Kinds = %v", got)
	}
}
