package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("research", http.MethodPost))
	ObserveHTTPRequest("research", http.MethodPost, http.StatusOK, 10*time.Millisecond)
	ObserveHTTPRequest("research", http.MethodPost, http.StatusBadGateway, 10*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(httpErrors.WithLabelValues("research", http.MethodPost)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequests.WithLabelValues("research", http.MethodPost, "200")), 1.0)
}

func TestPipelineObserver(t *testing.T) {
	var obs Pipeline
	before := testutil.ToFloat64(runsTotal.WithLabelValues("failed"))
	obs.StageFinished("analysis", time.Second, errors.New("boom"))
	obs.RunFinished("failed", 3*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("failed")))

	ObserveTask("retried")
	assert.GreaterOrEqual(t, testutil.ToFloat64(tasksTotal.WithLabelValues("retried")), 1.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveRun("completed", time.Minute)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "deepresearch_pipeline_runs_total")
	assert.Contains(t, string(body), "go_goroutines")
}
