package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(toolCalls.WithLabelValues("get_balance", "error"))
	ObserveToolCall("get_balance", true, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(toolCalls.WithLabelValues("get_balance", "error")))

	beforeRuns := testutil.ToFloat64(runsTotal.WithLabelValues("completed", "live_lock"))
	ObserveRun("completed", "live_lock")
	assert.Equal(t, beforeRuns+1, testutil.ToFloat64(runsTotal.WithLabelValues("completed", "live_lock")))

	ObserveReasoning("planner", errors.New("boom"), time.Second)
	ObserveInterrupt("review", "raised")
	ObserveHTTPRequest("resume", "POST", 200, time.Millisecond)
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveStage("selector")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `openmcp_orchestrator_stage_visits_total{stage="selector"}`)
}
