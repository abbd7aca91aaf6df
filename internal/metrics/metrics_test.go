package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.TradeOpened("Long")
	m.TradeOpened("Long")
	m.TradeClosed("Short")
	m.PowerUp()
	m.FeeSweep()
	m.ThresholdOutcome("win")
	m.Published()
	m.ObserveOp("close", time.Now(), "")
	m.ObserveOp("open", time.Now(), "insufficient_funds")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TradesOpened.WithLabelValues("Long")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesClosed.WithLabelValues("Short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PowerUps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeeSweeps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThresholdOutcomes.WithLabelValues("win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettlementErrors.WithLabelValues("open", "insufficient_funds")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.FeeSweep()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "papersim_fee_sweeps_total 1"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.TradeOpened("Long")
	m.ObserveOp("open", time.Now(), "validation")
	m.Published()
	assert.Nil(t, m.Registry())

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
