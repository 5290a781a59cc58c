package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/ophunt/internal/circuitbreaker"
	"github.com/yourorg/ophunt/internal/config"
	"github.com/yourorg/ophunt/internal/hunt"
	"github.com/yourorg/ophunt/internal/metrics"
	"github.com/yourorg/ophunt/internal/model"
)

type stubProvider struct {
	chain *model.Chain
	price float64
	err   error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Quote(context.Context, string) (float64, error) {
	return p.price, nil
}

func (p *stubProvider) Expirations(context.Context, string) ([]string, error) {
	return nil, p.err
}

func (p *stubProvider) Chain(context.Context, string, string) (*model.Chain, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.chain, nil
}

func testChain() *model.Chain {
	return &model.Chain{
		Puts: []model.Contract{{
			Symbol: "GME250920P00020000", Strike: model.Float(20), LastPrice: model.Float(0.55),
			Bid: model.Float(0.50), Ask: model.Float(0.60), Volume: 800,
		}},
		Calls: []model.Contract{{
			Symbol: "GME250920C00022000", Strike: model.Float(22), LastPrice: model.Float(1.1),
			Bid: model.Float(1.05), Ask: model.Float(1.15), Volume: 1200,
		}},
	}
}

func newTestServer(t *testing.T, provider *stubProvider, mutate func(*config.Config)) (*Server, *circuitbreaker.Provider) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	collector, err := metrics.NewCollector()
	require.NoError(t, err)

	guarded := circuitbreaker.Wrap(provider, circuitbreaker.Options{FailureThreshold: cfg.BreakerFailures})
	runner := hunt.NewRunner(guarded, cfg.Policy(), collector)
	return NewServer(cfg, runner, provider.Name(), guarded.Breaker(), collector), guarded
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestHandlePull(t *testing.T) {
	s, _ := newTestServer(t, &stubProvider{chain: testChain(), price: 21.5}, nil)

	rr := do(t, s, http.MethodGet, "/pull?funds=2500&shares=150&costBasis=21&date=250920&ticker=gme")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var doc struct {
		Meta struct {
			Ticker       string  `json:"ticker"`
			CurrentPrice float64 `json:"current_price"`
			Expiration   string  `json:"expiration"`
		} `json:"meta"`
		Puts  []model.Row `json:"puts"`
		Calls []model.Row `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))

	assert.Equal(t, "GME", doc.Meta.Ticker)
	assert.Equal(t, 21.5, doc.Meta.CurrentPrice)
	assert.Equal(t, "2025-09-20", doc.Meta.Expiration)
	require.Len(t, doc.Puts, 1)
	assert.InDelta(t, 0.28, doc.Puts[0].TargetBuyBack, 0.011)
	require.Len(t, doc.Calls, 1)
	assert.Equal(t, int64(2), doc.Calls[0].QtyContracts)
}

func TestHandlePull_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, &stubProvider{chain: testChain(), price: 21.5}, nil)

	tests := []struct {
		name    string
		target  string
		wantErr string
	}{
		{name: "missing date", target: "/pull?funds=1000", wantErr: "Missing 'date' (YYMMDD)."},
		{name: "bad funds", target: "/pull?funds=lots&date=250920", wantErr: "Invalid 'funds'"},
		{name: "bad cost basis", target: "/pull?costBasis=abc&date=250920", wantErr: "Invalid 'costBasis'"},
		{name: "negative shares", target: "/pull?shares=-5&date=250920", wantErr: "Invalid 'shares'"},
		{name: "bad date", target: "/pull?date=2025-09-20", wantErr: "YYMMDD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, tt.target)
			assert.Equal(t, http.StatusBadRequest, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantErr)
		})
	}
}

func TestHandlePull_ProviderFailure(t *testing.T) {
	s, guarded := newTestServer(t, &stubProvider{err: errors.New("finnhub API error: status 500")}, func(c *config.Config) {
		c.BreakerFailures = 2
	})

	rr := do(t, s, http.MethodGet, "/pull?date=250920")
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	rr = do(t, s, http.MethodGet, "/pull?date=250920")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, circuitbreaker.StateOpen, guarded.Breaker().GetState())

	rr = do(t, s, http.MethodGet, "/pull?date=250920")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "open circuit fails fast")
}

func TestHandlePullTable(t *testing.T) {
	s, _ := newTestServer(t, &stubProvider{chain: testChain(), price: 21.5}, nil)

	rr := do(t, s, http.MethodGet, "/pull/table?funds=2500&shares=150&date=250920")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))

	body := rr.Body.String()
	assert.True(t, strings.HasPrefix(body, "Ticker"))
	assert.Contains(t, body, "Puts  ++++++++++++")
	assert.Contains(t, body, "GME250920P00020000")

	rr = do(t, s, http.MethodGet, "/pull/table?funds=2500")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing 'date' (YYMMDD).\n", rr.Body.String())
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, &stubProvider{chain: testChain(), price: 21.5}, func(c *config.Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/pull?date=250920").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/pull?date=250920").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/pull/table?date=250920").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health").Code, "health is not rate limited")
}

func TestHandleCircuitStatus(t *testing.T) {
	provider := &stubProvider{err: errors.New("boom")}
	s, guarded := newTestServer(t, provider, func(c *config.Config) { c.BreakerFailures = 1 })

	do(t, s, http.MethodGet, "/pull?date=250920")
	require.Equal(t, circuitbreaker.StateOpen, guarded.Breaker().GetState())

	rr := do(t, s, http.MethodGet, "/circuit")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"open"`)

	rr = do(t, s, http.MethodPost, "/circuit?action=explode")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodPost, "/circuit?action=reset")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Circuit breaker reset")
	assert.Equal(t, circuitbreaker.StateClosed, guarded.Breaker().GetState())
}

func TestHealthStatusAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, &stubProvider{chain: testChain(), price: 21.5}, nil)

	rr := do(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"OK"`)

	rr = do(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "stub", status["provider"])
	assert.Equal(t, "closed", status["circuit_state"])

	do(t, s, http.MethodGet, "/pull?date=250920")
	rr = do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `ophunt_requests_total{endpoint="/pull",status="200"} 1`)
	assert.Contains(t, rr.Body.String(), `ophunt_rows_total{side="put"} 1`)
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, &stubProvider{chain: testChain()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))

	rr = do(t, s, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = do(t, s, http.MethodPost, "/pull?date=250920")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestParsePullQuery(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		wantErr string
	}{
		{name: "missing date", target: "/pull?funds=10", wantErr: missingDateMessage},
		{name: "negative funds", target: "/pull?funds=-1&date=250920", wantErr: "Invalid 'funds': must not be negative"},
		{name: "valid", target: "/pull?funds=10&shares=200&costBasis=21.5&date=250920&ticker=amc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parsePullQuery(httptest.NewRequest(http.MethodGet, tt.target, nil), "GME")
			if tt.wantErr != "" {
				var bad badRequest
				require.ErrorAs(t, err, &bad)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "amc", req.Ticker)
			assert.Equal(t, int64(200), req.SharesHeld)
			require.NotNil(t, req.CostBasis)
			assert.Equal(t, 21.5, *req.CostBasis)
		})
	}
}
