package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.Submission("bulk", OutcomeSubmitted)
	m.Submission("bulk", OutcomeSubmitted)
	m.Submission("send", OutcomeFailed)
	m.ObserveRemote("submit-task", 200, 30*time.Millisecond)
	m.BulkStarted()
	m.BulkStarted()
	m.BulkFinished()
	m.HTTPRequest("/send/", 400)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("bulk", OutcomeSubmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("send", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulkInflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/send/", "400")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.remoteDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `esign_submissions_total{mode="bulk",outcome="submitted"} 2`)
	assert.Contains(t, rec.Body.String(), "esign_remote_request_duration_seconds_bucket")
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Submission("send", OutcomeSubmitted)
		m.ObserveRemote("get-config", 0, time.Second)
		m.BulkStarted()
		m.BulkFinished()
		m.HTTPRequest("/", 200)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Submission("send", OutcomeSubmitted)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.submissions.WithLabelValues("send", OutcomeSubmitted)))
}
