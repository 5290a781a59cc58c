package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/ophunt/internal/model"
)

const finnhubChainJSON = `{
  "code": "GME",
  "data": [
    {
      "expirationDate": "2025-09-26",
      "options": {
        "CALL": [{"contractName": "GME250926C00025000", "strike": 25, "lastPrice": 0.4, "bid": 0.38, "ask": 0.42, "volume": 310}],
        "PUT": []
      }
    },
    {
      "expirationDate": "2025-09-20",
      "options": {
        "CALL": [
          {"contractName": "GME250920C00022000", "strike": 22, "lastPrice": 1.1, "bid": 1.05, "ask": 1.15, "volume": 1200},
          {"contractName": "GME250920C00030000", "strike": 30, "bid": null, "ask": 0.05}
        ],
        "PUT": [
          {"contractName": "GME250920P00020000", "strike": 20, "lastPrice": 0.55, "bid": 0.5, "ask": 0.6, "volume": 800}
        ]
      }
    }
  ]
}`

func newFinnhubTestServer(t *testing.T, handler http.HandlerFunc) *FinnhubClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFinnhubClient(srv.URL, "test-token", WithHTTPClient(srv.Client()))
}

func TestFinnhubClient_Chain(t *testing.T) {
	client := newFinnhubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/option-chain", r.URL.Path)
		assert.Equal(t, "GME", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-token", r.Header.Get("X-Finnhub-Token"))
		_, _ = w.Write([]byte(finnhubChainJSON))
	})

	chain, err := client.Chain(context.Background(), "gme", "250920")
	require.NoError(t, err)

	require.Len(t, chain.Puts, 1)
	require.Len(t, chain.Calls, 2)

	assert.Equal(t, model.Contract{
		Symbol:    "GME250920P00020000",
		Strike:    model.Float(20),
		LastPrice: model.Float(0.55),
		Bid:       model.Float(0.5),
		Ask:       model.Float(0.6),
		Volume:    800,
	}, chain.Puts[0])

	// Missing fields stay absent and volume defaults to zero
	partial := chain.Calls[1]
	assert.Equal(t, "GME250920C00030000", partial.Symbol)
	assert.Nil(t, partial.Bid)
	assert.Nil(t, partial.LastPrice)
	assert.Equal(t, int64(0), partial.Volume)
}

func TestFinnhubClient_ChainUnknownExpiration(t *testing.T) {
	client := newFinnhubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(finnhubChainJSON))
	})

	chain, err := client.Chain(context.Background(), "GME", "251017")
	require.NoError(t, err)
	assert.True(t, chain.IsEmpty())
	assert.NotNil(t, chain.Puts)
}

func TestFinnhubClient_ChainInvalidToken(t *testing.T) {
	client := newFinnhubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.Chain(context.Background(), "GME", "2025-09-20")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFinnhubClient_Expirations(t *testing.T) {
	client := newFinnhubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(finnhubChainJSON))
	})

	got, err := client.Expirations(context.Background(), "GME")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-09-20", "2025-09-26"}, got)
}

func TestFinnhubClient_Quote(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr error
	}{
		{name: "current price", body: `{"c": 21.5, "pc": 21.1}`, want: 21.5},
		{name: "null price", body: `{"c": null}`, wantErr: ErrNoQuote},
		{name: "unknown symbol", body: `{"c": 0, "d": null}`, wantErr: ErrNoQuote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFinnhubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/quote", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			})

			got, err := client.Quote(context.Background(), "GME")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFinnhubClient_HTTPError(t *testing.T) {
	client := newFinnhubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "API limit reached", http.StatusTooManyRequests)
	})

	_, err := client.Chain(context.Background(), "GME", "250920")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "API limit reached")
}

func TestFinnhubClient_MalformedBody(t *testing.T) {
	client := newFinnhubTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [`))
	})

	_, err := client.Expirations(context.Background(), "GME")
	assert.Error(t, err)
}
