package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsStatusAndCount(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "201"))

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "201"))
	assert.Equal(t, before+1, after)
}

func TestMiddleware_DefaultsToOKWhenNoExplicitWriteHeader(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200"))

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "200"))
	assert.Equal(t, before+1, after)
}

func TestObserveReportAndSyncDeltaAndStorageError(t *testing.T) {
	before := testutil.ToFloat64(reportsTotal.WithLabelValues("calendar-query"))
	ObserveReport("calendar-query")
	assert.Equal(t, before+1, testutil.ToFloat64(reportsTotal.WithLabelValues("calendar-query")))

	beforeSync := testutil.ToFloat64(syncDeltasTotal.WithLabelValues("ok"))
	ObserveSyncDelta("ok")
	assert.Equal(t, beforeSync+1, testutil.ToFloat64(syncDeltasTotal.WithLabelValues("ok")))

	beforeErr := testutil.ToFloat64(storageErrorsTotal.WithLabelValues("postgres"))
	ObserveStorageError("postgres")
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(storageErrorsTotal.WithLabelValues("postgres")))
}

func TestWithMetricsEndpoint_ServesMetrics(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { innerCalled = true })
	handler := WithMetricsEndpoint(inner)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, innerCalled)
	assert.Contains(t, rec.Body.String(), "davcore_http_requests_total")
}

func TestWithMetricsEndpoint_PassesThroughOtherPaths(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { innerCalled = true })
	handler := WithMetricsEndpoint(inner)

	req := httptest.NewRequest(http.MethodGet, "/dav/calendars/alice", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, innerCalled)
}
