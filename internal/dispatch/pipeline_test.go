package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/chirpd/internal/cache"
	"github.com/kalambet/chirpd/internal/notify"
	"github.com/kalambet/chirpd/internal/queue"
	"github.com/kalambet/chirpd/internal/social"
	"github.com/kalambet/chirpd/internal/storage"
)

type fakeSender struct {
	mu    sync.Mutex
	calls atomic.Int32
	reqs  []social.PostRequest
	resp  func(n int32) (json.RawMessage, error)
}

func (f *fakeSender) SendPost(_ context.Context, p social.PostRequest) (json.RawMessage, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, p)
	f.mu.Unlock()
	if f.resp != nil {
		return f.resp(n)
	}
	return json.RawMessage(fmt.Sprintf(`{"data":{"create_tweet":{"tweet_results":{"result":{"rest_id":"r%d"}}}}}`, n)), nil
}

type fixture struct {
	store    *storage.Store
	sender   *fakeSender
	cache    *cache.StoreCache
	timeline *cache.TimelineCache
	p        *Pipeline
}

func newFixture(t *testing.T) *fixture {
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
		sender:   &fakeSender{},
		cache:    cache.NewStoreCache(s),
		timeline: cache.NewTimelineCache(10),
	}
	f.p = New(Config{
		Store:    s,
		Sender:   f.sender,
		Queue:    q,
		Username: "bot",
		Cache:    f.cache,
		Timeline: f.timeline,
		Admin:    notify.NewAdminLogger(s, "", nil),
	})
	return f
}

func (f *fixture) saveApproved(t *testing.T, content string, snap Snapshot) string {
	t.Helper()
	id, err := f.p.Save(context.Background(), Candidate{AgentID: "agent-1", Content: content, Snapshot: snap})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := f.p.Approve(id); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	return id
}

func TestDispatch_DeliversOnce(t *testing.T) {
	f := newFixture(t)
	id := f.saveApproved(t, "hello world", Snapshot{})

	res, err := f.p.Dispatch(context.Background(), id)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Delivered || res.PostID != "r1" || res.Permalink != "https://x.com/bot/status/r1" {
		t.Errorf("result = %+v", res)
	}

	if _, err := f.p.Dispatch(context.Background(), id); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("second Dispatch err = %v, want ErrAlreadySent", err)
	}
	if n := f.sender.calls.Load(); n != 1 {
		t.Errorf("sends = %d, want 1", n)
	}

	post, _ := f.store.GetPendingPost(id)
	if post.Status != storage.StatusSent || post.PostID != "r1" {
		t.Errorf("post = %+v", post)
	}
	if has, _ := f.store.HasMemory("r1", "agent-1"); !has {
		t.Error("no memory recorded for delivered post")
	}
	raw, ok, _ := f.cache.Get(context.Background(), cache.LastPostKey("agent-1"))
	var last cache.LastPost
	if !ok || json.Unmarshal([]byte(raw), &last) != nil || last.ID != "r1" {
		t.Errorf("last post cache = %q", raw)
	}
	if items := f.timeline.Recent("agent-1", 1); len(items) != 1 || items[0].Text != "hello world" {
		t.Errorf("timeline = %+v", items)
	}
}

func TestDispatch_ConcurrentCallsSendOnce(t *testing.T) {
	f := newFixture(t)
	id := f.saveApproved(t, "race", Snapshot{})

	var wg sync.WaitGroup
	var delivered, already atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.p.Dispatch(context.Background(), id)
			switch {
			case errors.Is(err, ErrAlreadySent):
				already.Add(1)
			case err == nil && res.Delivered:
				delivered.Add(1)
			default:
				t.Errorf("unexpected result %+v, %v", res, err)
			}
		}()
	}
	wg.Wait()

	if f.sender.calls.Load() != 1 || delivered.Load() != 1 || already.Load() != 7 {
		t.Errorf("sends=%d delivered=%d already=%d", f.sender.calls.Load(), delivered.Load(), already.Load())
	}
}

func TestDispatch_NotApproved(t *testing.T) {
	f := newFixture(t)
	id, _ := f.p.Save(context.Background(), Candidate{AgentID: "agent-1", Content: "x"})

	if _, err := f.p.Dispatch(context.Background(), id); !errors.Is(err, ErrNotApproved) {
		t.Errorf("err = %v, want ErrNotApproved", err)
	}
	if f.sender.calls.Load() != 0 {
		t.Error("unapproved post was sent")
	}
}

func TestDispatch_MissingPost(t *testing.T) {
	f := newFixture(t)
	if _, err := f.p.Dispatch(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDispatch_RejectedResponse(t *testing.T) {
	f := newFixture(t)
	f.sender.resp = func(int32) (json.RawMessage, error) {
		return json.RawMessage(`{"errors":[{"code":187}]}`), nil
	}
	id := f.saveApproved(t, "dup?", Snapshot{})

	res, err := f.p.Dispatch(context.Background(), id)
	if err != nil || res.Delivered {
		t.Fatalf("Dispatch = %+v, %v", res, err)
	}
	post, _ := f.store.GetPendingPost(id)
	if post.Status != storage.StatusError || post.ErrorPayload != `{"errors":[{"code":187}]}` {
		t.Errorf("post status=%q payload=%q", post.Status, post.ErrorPayload)
	}
	logs, _ := f.store.ListAdminLogs(10)
	if len(logs) != 1 || logs[0].Event != "post_rejected" {
		t.Errorf("admin logs = %+v", logs)
	}
	if has, _ := f.store.HasPostedContent("agent-1", "dup?"); has {
		t.Error("rejected post recorded as posted content")
	}
}

// A transport failure after the claim leaves the post marked sent with no
// remote id, and later dispatches do not resend it.
func TestDispatch_ClaimedThenFailedStaysSent(t *testing.T) {
	f := newFixture(t)
	f.sender.resp = func(int32) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	}
	id := f.saveApproved(t, "lost", Snapshot{})

	if _, err := f.p.Dispatch(context.Background(), id); err == nil {
		t.Fatal("expected transport error")
	}
	post, _ := f.store.GetPendingPost(id)
	if post.Status != storage.StatusSent || post.PostID != "" {
		t.Errorf("post = status %q post_id %q, want sent with no id", post.Status, post.PostID)
	}

	if _, err := f.p.Dispatch(context.Background(), id); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("retry err = %v, want ErrAlreadySent", err)
	}
	if f.sender.calls.Load() != 1 {
		t.Errorf("sends = %d, want 1", f.sender.calls.Load())
	}
	logs, _ := f.store.ListAdminLogs(10)
	if len(logs) != 1 || logs[0].Event != "dispatch_failed" {
		t.Errorf("admin logs = %+v", logs)
	}
}

// Simulates a crash between the claim and the send: the claim alone is
// enough to keep the post from ever being sent.
func TestDispatch_ClaimWithoutSendIsNotReconciled(t *testing.T) {
	f := newFixture(t)
	id := f.saveApproved(t, "crash", Snapshot{})

	if ok, err := f.store.ClaimPendingPost(id, time.Now()); !ok || err != nil {
		t.Fatalf("claim = %v, %v", ok, err)
	}
	if _, err := f.p.Dispatch(context.Background(), id); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("err = %v, want ErrAlreadySent", err)
	}
	if f.sender.calls.Load() != 0 {
		t.Error("claimed post was sent")
	}
}

func TestDispatch_RateLimitedSendIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newFixture(t)
	q := queue.New()
	defer q.Close()
	p := New(Config{
		Store:    f.store,
		Sender:   social.NewClient(srv.URL, "tok", "bot"),
		Queue:    q,
		Username: "bot",
		Admin:    notify.NewAdminLogger(f.store, "", nil),
	})
	id := f.saveApproved(t, "throttled", Snapshot{})

	start := time.Now()
	if _, err := p.Dispatch(context.Background(), id); !errors.Is(err, social.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dispatch held the queue for %v", elapsed)
	}
	if hits.Load() != 1 {
		t.Errorf("requests = %d, want 1", hits.Load())
	}
	if q.Pending() != 0 {
		t.Errorf("queue pending = %d after abandoned send", q.Pending())
	}
}

func TestDispatch_DuplicateContentNotResent(t *testing.T) {
	f := newFixture(t)
	first := f.saveApproved(t, "same text", Snapshot{})
	if _, err := f.p.Dispatch(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	second := f.saveApproved(t, "same text", Snapshot{})

	res, err := f.p.Dispatch(context.Background(), second)
	if err != nil || res.Delivered || res.Reason != "duplicate content" {
		t.Errorf("second = %+v, %v", res, err)
	}
	if f.sender.calls.Load() != 1 {
		t.Errorf("sends = %d, want 1", f.sender.calls.Load())
	}
	post, _ := f.store.GetPendingPost(second)
	if post.Status != storage.StatusError {
		t.Errorf("duplicate status = %q, want error", post.Status)
	}
}

func TestDispatch_SnapshotReplyTarget(t *testing.T) {
	f := newFixture(t)
	id := f.saveApproved(t, "replying", Snapshot{InReplyTo: "42", RoomID: "conv-1"})
	if _, err := f.p.Dispatch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if f.sender.reqs[0].InReplyTo != "42" {
		t.Errorf("InReplyTo = %q", f.sender.reqs[0].InReplyTo)
	}
	mems, _ := f.store.RecentMemories("agent-1", "post", 5)
	if len(mems) != 1 || mems[0].RoomID != "conv-1" {
		t.Errorf("memories = %+v", mems)
	}
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	id, _ := f.p.Save(context.Background(), Candidate{AgentID: "agent-1", Content: "nah"})
	if err := f.p.Reject(id); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	post, _ := f.store.GetPendingPost(id)
	if post.Approval != storage.ApprovalRejected || post.Status != storage.StatusError {
		t.Errorf("post = %+v", post)
	}
	if err := f.p.Approve(id); !errors.Is(err, ErrNotPending) {
		t.Errorf("Approve after reject = %v, want ErrNotPending", err)
	}
	if _, err := f.p.Dispatch(context.Background(), id); !errors.Is(err, ErrNotPending) {
		t.Errorf("Dispatch err = %v, want ErrNotPending", err)
	}
}

func TestSave_Defaults(t *testing.T) {
	f := newFixture(t)
	before := time.Now().Add(-time.Second)
	id, err := f.p.Save(context.Background(), Candidate{AgentID: "agent-1", Content: "c", MediaRef: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	post, _ := f.store.GetPendingPost(id)
	if post.ScheduledAt.Before(before) || post.Approval != storage.ApprovalAwaiting || post.MediaRef != "m1" {
		t.Errorf("post = %+v", post)
	}
	if _, err := f.p.Save(context.Background(), Candidate{AgentID: "agent-1"}); err == nil {
		t.Error("expected error for empty content")
	}
}
