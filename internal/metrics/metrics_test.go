package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/ophunt/internal/model"
)

func TestCollector_InstrumentHandler(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	handler := collector.InstrumentHandler("/pull", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pull?funds=1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.requestTotal.WithLabelValues("/pull", "400")))

	metricsRR := httptest.NewRecorder()
	collector.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRR.Code)

	body := metricsRR.Body.String()
	assert.True(t, strings.Contains(body, `ophunt_requests_total{endpoint="/pull",status="400"} 1`), body)
	assert.True(t, strings.Contains(body, `ophunt_request_duration_seconds_count{endpoint="/pull"} 1`), body)
}

func TestCollector_RecordEvaluation(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	collector.RecordEvaluation(model.Evaluation{
		Puts:  []model.Row{{Symbol: "P1"}, {Symbol: "P2"}},
		Calls: []model.Row{{Symbol: "C1"}},
		Skipped: map[model.Side]map[string]int{
			model.SidePut:  {"spread_absolute": 3},
			model.SideCall: {"below_cost_basis": 2, "incomplete": 1},
		},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.rowsTotal.WithLabelValues("put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.rowsTotal.WithLabelValues("call")))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.skippedTotal.WithLabelValues("put", "spread_absolute")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.skippedTotal.WithLabelValues("call", "below_cost_basis")))
}

func TestCollector_Counters(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	collector.ProviderError("finnhub", "chain")
	collector.ProviderError("finnhub", "chain")
	collector.ExpiryFallback("used")
	collector.SetBreakerState(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.providerErrors.WithLabelValues("finnhub", "chain")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.expiryFallbacks.WithLabelValues("used")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.circuitBreaker))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.ProviderError("finnhub", "quote")
		collector.ExpiryFallback("empty")
		collector.RecordEvaluation(model.Evaluation{})
		collector.SetBreakerState(2)
	})

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, collector.InstrumentHandler("/health", next))
}
