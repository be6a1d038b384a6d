package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertMetricLine checks that the Prometheus output has a sample of name whose labels match
// the partial pattern, followed by value. Extra OTel scope labels are tolerated.
func assertMetricLine(t *testing.T, output, name, labels, value string) {
	t.Helper()
	pattern := name + `\{[^}]*` + labels + `[^}]*\} ` + value
	assert.Regexp(t, pattern, output)
}

func scrape(t *testing.T, provider *Provider) string {
	t.Helper()
	w := httptest.NewRecorder()
	provider.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestBusinessMetrics(t *testing.T) {
	provider, err := NewProvider("biz_test")
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	bm, err := NewBusinessMetrics(provider.MeterProvider(), "biz_test")
	require.NoError(t, err)

	ctx := context.Background()
	bm.RecordOperation(ctx, ComponentPipeline, "ingest", "created")
	bm.RecordOperation(ctx, ComponentPipeline, "ingest", "created")
	bm.RecordOperation(ctx, ComponentPipeline, "decode", "malformed")
	bm.RecordOperation(ctx, ComponentDispatch, "deliver", "dead")
	bm.RecordOperation(ctx, ComponentNotification, "redeliver", "success")

	bm.RecordDuration(ctx, ComponentPipeline, "ingest", 3*time.Millisecond, "created")
	bm.RecordDuration(ctx, ComponentPipeline, "ingest", 40*time.Millisecond, "created")
	bm.RecordDuration(ctx, ComponentDispatch, "dispatch_once", 2*time.Second, "success")

	output := scrape(t, provider)

	assertMetricLine(t, output, `biz_test_operations_total`,
		`component="pipeline".*operation="ingest".*status="created"`, `2`)
	assertMetricLine(t, output, `biz_test_operations_total`,
		`component="pipeline".*operation="decode".*status="malformed"`, `1`)
	assertMetricLine(t, output, `biz_test_operations_total`,
		`component="dispatch".*operation="deliver".*status="dead"`, `1`)
	assertMetricLine(t, output, `biz_test_operations_total`,
		`component="notification".*operation="redeliver".*status="success"`, `1`)

	assertMetricLine(t, output, `biz_test_operation_duration_seconds_count`,
		`component="pipeline".*operation="ingest".*status="created"`, `2`)
	// Explicit buckets: both ingest observations fall under 50ms, the dispatch batch does not.
	assertMetricLine(t, output, `biz_test_operation_duration_seconds_bucket`,
		`component="pipeline".*operation="ingest".*le="0.05"`, `2`)
	assertMetricLine(t, output, `biz_test_operation_duration_seconds_bucket`,
		`component="dispatch".*operation="dispatch_once".*le="1"`, `0`)
}

func TestNewNoOpBusinessMetrics(t *testing.T) {
	noOpMetrics := NewNoOpBusinessMetrics()

	assert.IsType(t, &NoOpBusinessMetrics{}, noOpMetrics)
	assert.NotPanics(t, func() {
		noOpMetrics.RecordOperation(context.Background(), ComponentPipeline, "ingest", "created")
		noOpMetrics.RecordDuration(context.Background(), ComponentDispatch, "sweep", time.Second, "error")
	})
}
