// Command ophunt prints the option hunt for a position from the terminal.
//
//	ophunt [flags] <funds> <shares> <costBasis> <YYMMDD> [ticker]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/circuitbreaker"
	"github.com/yourorg/ophunt/internal/config"
	"github.com/yourorg/ophunt/internal/evaluate"
	"github.com/yourorg/ophunt/internal/fetch"
	"github.com/yourorg/ophunt/internal/hunt"
	"github.com/yourorg/ophunt/internal/otel"
	"github.com/yourorg/ophunt/internal/render"
	"github.com/yourorg/ophunt/internal/secrets"
)

const usage = "Usage: ophunt [flags] <funds> <shares> <costBasis> <YYMMDD> [ticker]"

// newProvider builds the market data provider; tests replace it
var newProvider = func(ctx context.Context, cfg config.Config) (fetch.Provider, error) {
	store, err := secrets.New(ctx, cfg.CredentialSource, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return fetch.New(ctx, cfg, store)
}

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg)

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	code := run(context.Background(), cfg, os.Args[1:], os.Stdout, os.Stderr)
	shutdownTracer()
	os.Exit(code)
}

// run executes one hunt and returns the process exit code
func run(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ophunt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}

	asJSON := fs.Bool("json", false, "Print the report as JSON instead of a table")
	providerName := fs.String("provider", cfg.Provider, "Market data provider: finnhub or alpaca")
	minDiff := fs.String("min-differential", "", "Minimum differential from bid, or 'off' (default from config)")
	buyBack := fs.String("buyback", cfg.BuyBackMode, "Buy-back target formula: extrinsic or flat")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	rest := fs.Args()
	if len(rest) < 4 {
		fs.Usage()
		return 1
	}

	req, err := parseArgs(rest, cfg.DefaultTicker)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	cfg.Provider = strings.ToLower(*providerName)
	cfg.BuyBackMode = strings.ToLower(*buyBack)
	switch evaluate.BuyBackMode(cfg.BuyBackMode) {
	case evaluate.BuyBackExtrinsic, evaluate.BuyBackFlat:
	default:
		fmt.Fprintf(stderr, "Error: -buyback must be %q or %q\n", evaluate.BuyBackExtrinsic, evaluate.BuyBackFlat)
		return 1
	}
	policy := cfg.Policy()
	if *minDiff != "" {
		gate, err := parseMinDifferential(*minDiff)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		policy.Gates.MinimumDifferential = gate
	}

	// Only missing or malformed arguments are fatal; credential and provider
	// trouble is reported and the run ends cleanly.
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Debug("Provider setup failed")
		fmt.Fprintf(stderr, "Warning: could not set up %s provider: %v\n", cfg.Provider, err)
		return 0
	}

	guarded := circuitbreaker.Wrap(provider, circuitbreaker.Options{
		FailureThreshold: cfg.BreakerFailures,
		CooldownPeriod:   cfg.BreakerCooldown,
	})
	runner := hunt.NewRunner(guarded, policy, nil)

	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	report, err := runner.Run(ctx, req)
	if err != nil {
		logrus.WithError(err).Debug("Hunt failed")
		fmt.Fprintf(stderr, "Warning: could not fetch options for %s: %v\n", strings.ToUpper(req.Ticker), err)
		return 0
	}

	if len(report.Puts) == 0 && len(report.Calls) == 0 {
		fmt.Fprintf(stderr, "Warning: no contracts passed the filters for %s %s\n", report.Header.Ticker, report.Expiration)
	}

	if *asJSON {
		err = render.JSON(stdout, report)
	} else {
		err = render.Table(stdout, report)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// parseArgs reads funds, shares, costBasis, the YYMMDD token and the
// optional ticker.
func parseArgs(args []string, defaultTicker string) (hunt.Request, error) {
	funds, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || funds < 0 {
		return hunt.Request{}, fmt.Errorf("invalid funds %q", args[0])
	}
	shares, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || shares < 0 {
		return hunt.Request{}, fmt.Errorf("invalid shares %q", args[1])
	}
	costBasis, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return hunt.Request{}, fmt.Errorf("invalid costBasis %q", args[2])
	}
	if _, err := fetch.ParseToken(args[3]); err != nil {
		return hunt.Request{}, err
	}

	req := hunt.Request{
		Ticker:     defaultTicker,
		Token:      args[3],
		Funds:      funds,
		SharesHeld: shares,
		CostBasis:  &costBasis,
	}
	if len(args) > 4 && strings.TrimSpace(args[4]) != "" {
		req.Ticker = args[4]
	}
	return req, nil
}

func parseMinDifferential(raw string) (*float64, error) {
	if strings.EqualFold(raw, "off") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid min-differential %q", raw)
	}
	return &v, nil
}
