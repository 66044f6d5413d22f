package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRender(t *testing.T) {
	c := &collector{
		requests: make(map[requestKey]uint64),
		updates:  make(map[updateKey]uint64),
		latency:  make(map[string]*histogram),
	}

	c.observeRequest("webhook", "POST", 200, 40*time.Millisecond)
	c.observeRequest("webhook", "POST", 200, 60*time.Millisecond)
	c.observeRequest("webhook", "POST", 403, 5*time.Millisecond)
	c.observeUpdate("transaction", "ok", 2*time.Second)
	c.observeUpdate("knowledge", "error", 100*time.Millisecond)

	out := c.render()
	for _, want := range []string{
		`starkfinder_http_requests_total{handler="webhook",method="POST",code="200"} 2`,
		`starkfinder_http_requests_total{handler="webhook",method="POST",code="403"} 1`,
		`starkfinder_updates_total{kind="transaction",outcome="ok"} 1`,
		`starkfinder_updates_total{kind="knowledge",outcome="error"} 1`,
		`starkfinder_duration_seconds_count{op="update_transaction"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered output missing %q:\n%s", want, out)
		}
	}
}

func TestHistogramOverflowCountsInInf(t *testing.T) {
	h := newHistogram()
	h.observe(500) // beyond the last bucket
	if h.count != 1 {
		t.Fatalf("expected count 1, got %d", h.count)
	}
	for i, count := range h.counts {
		if count != 0 {
			t.Fatalf("bucket %d should be empty, got %d", i, count)
		}
	}
}

func TestHandlerContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != 200 {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
}
