package httpserv

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghanetra/acquisition-service/internal/pipeline"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) CheckReadiness(context.Context) error { return f.err }

func newTestServer(checker ReadinessChecker, run *pipeline.RunMetrics) *Server {
	if run == nil {
		run = pipeline.NewRunMetrics()
	}
	return NewServer(":0", checker, run, slog.Default())
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeChecker{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadyz_Ready(t *testing.T) {
	srv := newTestServer(&fakeChecker{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_NotReady(t *testing.T) {
	srv := newTestServer(&fakeChecker{err: errors.New("no datasets configured")}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no datasets configured")
}

func TestStatus_ReportsRunCounters(t *testing.T) {
	run := pipeline.NewRunMetrics()
	run.RecordResponseTime(1.5)
	run.RecordSuccess(1.5, 12.5)
	run.RecordResponseTime(0.5)
	run.RecordFailure()
	run.RecordCached()

	srv := newTestServer(&fakeChecker{}, run)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"success":1`)
	assert.Contains(t, body, `"cached":1`)
	assert.Contains(t, body, `"failures":1`)
	assert.Contains(t, body, `"items_processed":2`)
	// Satisfied (fresh + cached) over processed: 2 of 3.
	assert.Contains(t, body, `"success_rate":0.666`)
}

func TestMetricsEndpointServes(t *testing.T) {
	srv := newTestServer(&fakeChecker{}, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
