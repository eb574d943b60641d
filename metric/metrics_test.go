package metric

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordUtterance()
	m.RecordUtterance()
	m.RecordStageAttempt("keyword")
	m.RecordStageWin("keyword")
	m.RecordStageError("qa")
	m.RecordNoMatch()
	m.RecordRoutingDuration(120 * time.Millisecond)
	m.RecordFallbackDiscovery("high", 30*time.Millisecond)
	m.RecordFallbackAttempt("high", "handled")
	m.SetRegisteredHandlers(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UtterancesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageAttempts.WithLabelValues("keyword")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageWins.WithLabelValues("keyword")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageErrors.WithLabelValues("qa")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoMatchTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackAttempts.WithLabelValues("high", "handled")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RegisteredHandlers))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordUtterance()
		m.RecordNoMatch()
		m.RecordStageAttempt("keyword")
		m.RecordStageWin("keyword")
		m.RecordStageError("keyword")
		m.RecordRoutingDuration(time.Second)
		m.RecordFallbackDiscovery("low", time.Millisecond)
		m.RecordFallbackAttempt("low", "timeout")
		m.SetRegisteredHandlers(0)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordUtterance()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
