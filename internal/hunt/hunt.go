// Package hunt runs one option hunt: it fetches the chain for the requested
// expiration, falls back to the nearest listed expiration when the provider
// has no contracts for it, and evaluates the result against the position.
package hunt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/evaluate"
	"github.com/yourorg/ophunt/internal/fetch"
	"github.com/yourorg/ophunt/internal/metrics"
	"github.com/yourorg/ophunt/internal/model"
	"github.com/yourorg/ophunt/internal/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Fallback outcomes recorded in metrics
const (
	FallbackUsed        = "used"
	FallbackEmpty       = "empty"
	FallbackUnavailable = "unavailable"
)

// Request describes one hunt
type Request struct {
	Ticker     string
	Token      string // expiration as YYMMDD
	Funds      int64
	SharesHeld int64
	CostBasis  *float64
}

// Runner executes hunts against a provider
type Runner struct {
	provider fetch.Provider
	policy   evaluate.Policy
	metrics  *metrics.Collector
}

// NewRunner creates a Runner; m may be nil
func NewRunner(p fetch.Provider, policy evaluate.Policy, m *metrics.Collector) *Runner {
	return &Runner{provider: p, policy: policy, metrics: m}
}

// Run performs the hunt. Errors are provider failures or an invalid
// expiration token; an empty chain is reported through Report.Message.
func (r *Runner) Run(ctx context.Context, req Request) (*model.Report, error) {
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	requested, err := fetch.ParseToken(req.Token)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer().Start(ctx, "hunt.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("ticker", ticker),
		attribute.String("provider", r.provider.Name()),
		attribute.String("expiration", requested.Format("2006-01-02")),
	)

	report := &model.Report{Expiration: requested.Format("2006-01-02")}

	chain, err := r.chain(ctx, ticker, req.Token)
	if err != nil {
		otel.RecordError(ctx, err)
		return nil, err
	}

	if chain.IsEmpty() {
		chain, err = r.fallback(ctx, ticker, requested, report)
		if err != nil {
			otel.RecordError(ctx, err)
			return nil, err
		}
	}

	price := r.quote(ctx, ticker)

	evaluation, err := evaluate.Evaluate(model.Position{
		Ticker:       ticker,
		Funds:        req.Funds,
		SharesHeld:   req.SharesHeld,
		CostBasis:    req.CostBasis,
		CurrentPrice: price,
	}, chain, r.policy)
	if err != nil {
		otel.RecordError(ctx, err)
		return nil, err
	}
	r.metrics.RecordEvaluation(evaluation)

	report.Header = evaluation.Header
	report.Puts = evaluation.Puts
	report.Calls = evaluation.Calls

	logrus.WithFields(logrus.Fields{
		"ticker":     ticker,
		"expiration": report.Expiration,
		"puts":       len(report.Puts),
		"calls":      len(report.Calls),
	}).Info("Hunt complete")

	return report, nil
}

func (r *Runner) chain(ctx context.Context, ticker, token string) (*model.Chain, error) {
	chain, err := r.provider.Chain(ctx, ticker, token)
	if err != nil {
		r.metrics.ProviderError(r.provider.Name(), "chain")
		return nil, fmt.Errorf("fetching %s chain for %s: %w", ticker, token, err)
	}
	if chain == nil {
		return nil, evaluate.ErrMissingChain
	}
	return chain, nil
}

// fallback picks the nearest listed expiration and fetches it, setting the
// report's message and expiration. The returned chain may be empty.
func (r *Runner) fallback(ctx context.Context, ticker string, requested time.Time, report *model.Report) (*model.Chain, error) {
	empty := &model.Chain{Puts: []model.Contract{}, Calls: []model.Contract{}}

	expirations, err := r.provider.Expirations(ctx, ticker)
	if err != nil {
		r.metrics.ProviderError(r.provider.Name(), "expirations")
		return nil, fmt.Errorf("listing %s expirations: %w", ticker, err)
	}

	chosen, ok := NearestExpiration(requested, expirations)
	if !ok {
		report.Message = fmt.Sprintf("No expirations available for %s.", ticker)
		r.metrics.ExpiryFallback(FallbackUnavailable)
		logrus.WithField("ticker", ticker).Warn(report.Message)
		return empty, nil
	}

	token, err := fetch.TokenFromExpiry(chosen)
	if err != nil {
		return nil, err
	}
	chain, err := r.chain(ctx, ticker, token)
	if err != nil {
		return nil, err
	}

	if chain.IsEmpty() {
		report.Message = fmt.Sprintf("%s: no data for requested and nearest %s. Available expiries: %s",
			ticker, chosen, strings.Join(expirations, ", "))
		r.metrics.ExpiryFallback(FallbackEmpty)
		logrus.WithField("ticker", ticker).Warn(report.Message)
		return empty, nil
	}

	report.Message = fmt.Sprintf("No contracts for %s %s. Using nearest: %s",
		ticker, requested.Format("2006-01-02"), chosen)
	report.Expiration = chosen
	r.metrics.ExpiryFallback(FallbackUsed)
	logrus.WithFields(logrus.Fields{
		"ticker":    ticker,
		"requested": requested.Format("2006-01-02"),
		"chosen":    chosen,
	}).Warn("Using nearest expiration")

	return chain, nil
}

// quote returns the current price, or nil when the provider cannot supply it
func (r *Runner) quote(ctx context.Context, ticker string) *float64 {
	price, err := r.provider.Quote(ctx, ticker)
	if err != nil {
		if !errors.Is(err, fetch.ErrNoQuote) {
			r.metrics.ProviderError(r.provider.Name(), "quote")
		}
		logrus.WithError(err).WithField("ticker", ticker).Warn("Current price unavailable, intrinsic values default to zero")
		return nil
	}
	return &price
}

// NearestExpiration returns the earliest expiration on or after requested,
// or the latest one when all are earlier. Unparsable dates are ignored.
func NearestExpiration(requested time.Time, expirations []string) (string, bool) {
	type dated struct {
		t   time.Time
		raw string
	}

	parsed := make([]dated, 0, len(expirations))
	for _, e := range expirations {
		t, err := fetch.ParseExpiry(e)
		if err != nil {
			continue
		}
		parsed = append(parsed, dated{t: t, raw: e})
	}
	if len(parsed) == 0 {
		return "", false
	}

	sort.Slice(parsed, func(i, j int) bool { return parsed[i].t.Before(parsed[j].t) })
	for _, d := range parsed {
		if !d.t.Before(requested) {
			return d.raw, true
		}
	}
	return parsed[len(parsed)-1].raw, true
}
