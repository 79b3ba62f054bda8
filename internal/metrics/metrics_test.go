package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	c := New()

	c.TaskFinished("parallel", "partial-success", 0.6, 2*time.Second)
	c.TaskFinished("parallel", "partial-success", 0.7, time.Second)
	c.AttemptFinished("research", 1, OutcomeTimeout, 50*time.Millisecond)
	c.AttemptFinished("research", 2, OutcomeSuccess, 20*time.Millisecond)
	c.AttemptFinished("research", 3, OutcomeReject, 0)
	c.MicrotaskFinished("research", true)
	c.MicrotaskFinished("research", false)
	c.PoolChanged("research", 4, 1)

	if got := testutil.ToFloat64(c.submissions.WithLabelValues("parallel", "partial-success")); got != 2 {
		t.Errorf("submissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.attempts.WithLabelValues("research", OutcomeTimeout)); got != 1 {
		t.Errorf("timeout attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.retries.WithLabelValues("research")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.microtasks.WithLabelValues("research", "failed")); got != 1 {
		t.Errorf("failed microtasks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.poolSize.WithLabelValues("research")); got != 4 {
		t.Errorf("pool size = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.poolBusy.WithLabelValues("research")); got != 1 {
		t.Errorf("pool busy = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.microtaskDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.TaskFinished("sequential", "single", 1, time.Second)
	c.AttemptFinished("code", 1, OutcomeSuccess, time.Second)
	c.MicrotaskFinished("code", true)
	c.PoolChanged("code", 1, 0)
	if c.Registry() != nil {
		t.Error("nil collector should have no registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.PoolChanged("analysis", 2, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `parallel_agents_pool_agents{agent_type="analysis"} 2`) {
		t.Errorf("pool gauge missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("go runtime metrics missing")
	}
}
