package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreExposed(t *testing.T) {
	m := New()
	m.Submissions.WithLabelValues("employees", OK).Inc()
	m.Submissions.WithLabelValues("employees", Rejected).Add(2)
	m.GateAttempts.WithLabelValues(Limited).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("employees", Rejected)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `staffforms_submissions_total{category="employees",outcome="ok"} 1`))
	assert.Contains(t, body, `staffforms_gate_attempts_total{outcome="limited"} 1`)
}

func TestEachInstanceHasItsOwnRegistry(t *testing.T) {
	a, b := New(), New()
	a.PDFRenders.WithLabelValues("service", OK).Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PDFRenders.WithLabelValues("service", OK)))
}
