package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.PostGenerated("a1")
	m.PostGenerated("a1")
	m.PostDispatched("a1", OutcomeDelivered)
	m.Action("like", true)
	m.Action("reply", false)
	m.LoopError("actions")

	if got := testutil.ToFloat64(m.postsGenerated.WithLabelValues("a1")); got != 2 {
		t.Errorf("posts generated = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.postsDispatched.WithLabelValues("a1", OutcomeDelivered)); got != 1 {
		t.Errorf("posts dispatched = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.actions.WithLabelValues("reply", "failed")); got != 1 {
		t.Errorf("failed replies = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PostGenerated("a")
	m.PostDispatched("a", OutcomeFailed)
	m.Action("like", true)
	m.LoopError("x")
	m.WatchQueue(func() int { return 1 })
}

func TestHandler_ExposesQueueGauge(t *testing.T) {
	m := New()
	m.WatchQueue(func() int { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "chirpd_queue_pending 3") {
		t.Errorf("metrics output missing queue gauge:\n%s", body)
	}
}
