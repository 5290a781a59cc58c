// Package fetch provides provider-specific clients that retrieve quotes and
// option chains and normalize them into model.Chain.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/config"
	"github.com/yourorg/ophunt/internal/model"
	"github.com/yourorg/ophunt/internal/otel"
	"github.com/yourorg/ophunt/internal/secrets"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrNoQuote is returned when the provider has no current price for a ticker
var ErrNoQuote = errors.New("fetch: no quote available")

// Provider defines the interface that all market data providers must implement
type Provider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// Quote returns the most recent price of the underlying
	Quote(ctx context.Context, ticker string) (float64, error)

	// Expirations lists the available expiration dates (YYYY-MM-DD), ascending
	Expirations(ctx context.Context, ticker string) ([]string, error)

	// Chain returns the normalized contracts for the expiration given as a
	// YYMMDD token. An unknown expiration yields an empty chain, not an error.
	Chain(ctx context.Context, ticker, token string) (*model.Chain, error)
}

// Option customizes a provider client
type Option func(*transport)

// WithHTTPClient replaces the retrying HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) {
		t.httpClient = c
	}
}

// WithRateLimit caps outbound requests per second; zero or less disables the cap
func WithRateLimit(rps float64) Option {
	return func(t *transport) {
		if rps <= 0 {
			t.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(t *transport) {
		t.timeout = d
	}
}

// New creates the provider named in cfg, resolving its credentials from store
func New(ctx context.Context, cfg config.Config, store secrets.Store) (Provider, error) {
	opts := []Option{
		WithRateLimit(cfg.ProviderRPS),
		WithTimeout(cfg.RequestTimeout),
	}

	switch cfg.Provider {
	case "", "finnhub":
		token, err := store.Get(ctx, cfg.FinnhubTokenParam)
		if err != nil {
			return nil, fmt.Errorf("finnhub token: %w", err)
		}
		return NewFinnhubClient(cfg.FinnhubURL, token, opts...), nil
	case "alpaca":
		key, err := store.Get(ctx, cfg.AlpacaKeyParam)
		if err != nil {
			return nil, fmt.Errorf("alpaca key: %w", err)
		}
		secret, err := store.Get(ctx, cfg.AlpacaSecretParam)
		if err != nil {
			return nil, fmt.Errorf("alpaca secret: %w", err)
		}
		return NewAlpacaClient(cfg.AlpacaDataURL, cfg.AlpacaTradingURL, key, secret, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// transport is the HTTP plumbing shared by the provider clients
type transport struct {
	provider   string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	header     http.Header
}

func newTransport(provider string, opts []Option) *transport {
	t := &transport{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		timeout:  30 * time.Second,
		header:   http.Header{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.httpClient == nil {
		t.httpClient = StandardClient(newRetryClient())
		t.httpClient.Timeout = t.timeout
	}
	return t
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

// getJSON performs a GET against url and decodes the JSON body into out.
// operation names the span and the error context.
func (t *transport) getJSON(ctx context.Context, operation, url string, out interface{}) error {
	ctx, span := otel.Tracer().Start(ctx, t.provider+"."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", t.provider),
		attribute.String("operation", operation),
	)

	if err := t.limiter.Wait(ctx); err != nil {
		otel.RecordError(ctx, err)
		return fmt.Errorf("%s %s: rate limiter: %w", t.provider, operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	for k, v := range t.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	logrus.WithFields(logrus.Fields{
		"provider":  t.provider,
		"operation": operation,
	}).Debug("Requesting provider data")

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		otel.RecordError(ctx, err)
		return fmt.Errorf("error fetching %s from %s: %w", operation, t.provider, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s API error: status %d, body: %s", t.provider, resp.StatusCode, string(body))
		otel.RecordError(ctx, err)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		otel.RecordError(ctx, err)
		return fmt.Errorf("error decoding %s response: %w", operation, err)
	}

	logrus.WithFields(logrus.Fields{
		"provider":    t.provider,
		"operation":   operation,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Provider request complete")

	return nil
}
