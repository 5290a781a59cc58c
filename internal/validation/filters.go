// Package validation provides the per-contract quality and eligibility gates
// applied before a contract may become an evaluated row.
package validation

import (
	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/model"
)

// Skip reasons reported alongside dropped contracts
const (
	ReasonIncomplete      = "incomplete"
	ReasonNonPositiveMid  = "non_positive_mid"
	ReasonSpreadAbsolute  = "spread_absolute"
	ReasonSpreadFraction  = "spread_fraction"
	ReasonNoBid           = "no_bid"
	ReasonNoExtrinsic     = "no_extrinsic"
	ReasonBelowCostBasis  = "below_cost_basis"
	ReasonLowDifferential = "low_differential"
)

// Options holds the thresholds for the contract gates
type Options struct {
	// SpreadMaxAbsolute is the widest ask-bid spread, in currency units
	SpreadMaxAbsolute float64

	// SpreadMaxFraction is the widest spread as a fraction of the mid price
	SpreadMaxFraction float64

	// MinimumDifferential, when set, requires differentialFromBid to exceed it
	MinimumDifferential *float64
}

// DefaultOptions returns the thresholds the operator normally trades with
func DefaultOptions() Options {
	return Options{
		SpreadMaxAbsolute: 0.30,
		SpreadMaxFraction: 0.30,
	}
}

// Complete reports whether a contract carries bid, ask and strike.
func Complete(c model.Contract) bool {
	return c.Bid != nil && c.Ask != nil && c.Strike != nil
}

// CheckSpread applies the liquidity gate. average must already be rounded
// and positive; the returned reason is empty when the contract passes.
func CheckSpread(bid, ask, average float64, opts Options) string {
	spread := ask - bid
	if spread > opts.SpreadMaxAbsolute {
		return ReasonSpreadAbsolute
	}
	if spread/average > opts.SpreadMaxFraction {
		return ReasonSpreadFraction
	}
	return ""
}

// CoveredCallEligible reports whether a call may be sold against shares
// bought at costBasis. A nil cost basis disables the check.
func CoveredCallEligible(strike float64, costBasis *float64) bool {
	return costBasis == nil || strike > *costBasis
}

// DifferentialOK applies the optional minimum differential gate.
func DifferentialOK(differential float64, opts Options) bool {
	if opts.MinimumDifferential == nil {
		return true
	}
	return differential > *opts.MinimumDifferential
}

// LogSkipped records a dropped contract at debug level
func LogSkipped(side model.Side, c model.Contract, reason string) {
	logrus.WithFields(logrus.Fields{
		"side":   side,
		"symbol": c.Symbol,
		"reason": reason,
	}).Debug("Skipped contract")
}
