// Package evaluate turns a normalized option chain and the operator's
// position into the filtered, annotated rows that are shown for puts and calls.
//
// Evaluate is a pure function: it performs no I/O, keeps no state between
// calls and never mutates its input, so it is safe to call concurrently.
package evaluate

import (
	"errors"
	"math"

	"github.com/yourorg/ophunt/internal/model"
	"github.com/yourorg/ophunt/internal/validation"
)

// ContractMultiplier is the number of shares one option contract covers
const ContractMultiplier = 100

// ErrMissingChain is returned when the caller hands over no chain at all
var ErrMissingChain = errors.New("evaluate: option chain is missing")

// BuyBackMode selects the formula for the suggested buy-back target
type BuyBackMode string

const (
	// BuyBackExtrinsic closes after capturing a fraction of the extrinsic value
	BuyBackExtrinsic BuyBackMode = "extrinsic"

	// BuyBackFlat subtracts a fixed amount from the mid price.
	// Deprecated: kept so older runs can be reproduced.
	BuyBackFlat BuyBackMode = "flat"
)

// Policy holds the named constants the evaluator applies
type Policy struct {
	// Gates are the spread thresholds and the optional differential gate
	Gates validation.Options

	// ExtrinsicCaptureFraction is the share of extrinsic value to capture
	// before buying the contract back
	ExtrinsicCaptureFraction float64

	BuyBack BuyBackMode

	// FlatBuyBackDiscount is only used with BuyBackFlat
	FlatBuyBackDiscount float64
}

// DefaultPolicy returns the policy the operator trades with
func DefaultPolicy() Policy {
	return Policy{
		Gates:                    validation.DefaultOptions(),
		ExtrinsicCaptureFraction: 0.5,
		BuyBack:                  BuyBackExtrinsic,
		FlatBuyBackDiscount:      0.50,
	}
}

// targetBuyBack computes the price at which the short option should be closed
func (p Policy) targetBuyBack(average, extrinsic float64) float64 {
	if p.BuyBack == BuyBackFlat {
		return Round(average-p.FlatBuyBackDiscount, 2)
	}
	return Round(average-extrinsic*p.ExtrinsicCaptureFraction, 2)
}

// Evaluate computes the annotated rows for every put and call in chain that
// passes the quality and eligibility gates. Rows keep the provider's order.
// Malformed contracts are skipped, never reported as errors; the only error
// is ErrMissingChain.
func Evaluate(pos model.Position, chain *model.Chain, policy Policy) (model.Evaluation, error) {
	if chain == nil || (chain.Puts == nil && chain.Calls == nil) {
		return model.Evaluation{}, ErrMissingChain
	}

	result := model.Evaluation{
		Header: model.NewHeader(pos.Ticker, pos.CurrentPrice),
		Puts:   make([]model.Row, 0, len(chain.Puts)),
		Calls:  make([]model.Row, 0, len(chain.Calls)),
		Skipped: map[model.Side]map[string]int{
			model.SidePut:  {},
			model.SideCall: {},
		},
	}

	for _, c := range chain.Puts {
		row, reason := evaluateContract(model.SidePut, c, pos, policy)
		if reason != "" {
			result.Skipped[model.SidePut][reason]++
			validation.LogSkipped(model.SidePut, c, reason)
			continue
		}
		result.Puts = append(result.Puts, row)
	}

	for _, c := range chain.Calls {
		row, reason := evaluateContract(model.SideCall, c, pos, policy)
		if reason != "" {
			result.Skipped[model.SideCall][reason]++
			validation.LogSkipped(model.SideCall, c, reason)
			continue
		}
		result.Calls = append(result.Calls, row)
	}

	return result, nil
}

// evaluateContract builds the row for a single contract, or returns the
// reason it was dropped.
func evaluateContract(side model.Side, c model.Contract, pos model.Position, policy Policy) (model.Row, string) {
	if !validation.Complete(c) {
		return model.Row{}, validation.ReasonIncomplete
	}
	bid, ask, strike := *c.Bid, *c.Ask, *c.Strike

	// The mid is computed before any gate so it is always the rounded value
	average := Round((bid+ask)/2, 2)
	if average <= 0 {
		return model.Row{}, validation.ReasonNonPositiveMid
	}
	if reason := validation.CheckSpread(bid, ask, average, policy.Gates); reason != "" {
		return model.Row{}, reason
	}
	spread := ask - bid

	qty := quantity(side, strike, pos)
	intrinsic := intrinsicValue(side, strike, pos.CurrentPrice)
	extrinsic := Round(average-intrinsic, 2)
	target := policy.targetBuyBack(average, extrinsic)
	profit := Round(extrinsic*float64(qty)*ContractMultiplier, 2)
	trigger := Round(target+spread/2, 2)

	if bid <= 0 {
		return model.Row{}, validation.ReasonNoBid
	}
	if extrinsic <= 0 {
		return model.Row{}, validation.ReasonNoExtrinsic
	}
	if side == model.SideCall && !validation.CoveredCallEligible(strike, pos.CostBasis) {
		return model.Row{}, validation.ReasonBelowCostBasis
	}

	differential := Round((target-bid)/bid, 4)
	if !validation.DifferentialOK(differential, policy.Gates) {
		return model.Row{}, validation.ReasonLowDifferential
	}

	return model.Row{
		Symbol:              c.Symbol,
		Strike:              strike,
		LastPrice:           c.LastPrice,
		Bid:                 bid,
		Ask:                 ask,
		Average:             average,
		Volume:              c.Volume,
		QtyContracts:        qty,
		IntrinsicValue:      intrinsic,
		ExtrinsicValue:      extrinsic,
		TargetBuyBack:       target,
		Trigger:             trigger,
		DifferentialFromBid: differential,
		ExpiryProfit:        profit,
	}, ""
}

// quantity sizes a position: puts by how many assignments the funds cover,
// calls by the round lots of shares held.
func quantity(side model.Side, strike float64, pos model.Position) int64 {
	if side == model.SideCall {
		if pos.SharesHeld <= 0 {
			return 0
		}
		return (pos.SharesHeld + ContractMultiplier - 1) / ContractMultiplier
	}

	if strike == 0 {
		return 0
	}
	return int64(math.Ceil(float64(pos.Funds) / (strike * ContractMultiplier)))
}

// intrinsicValue is the in-the-money amount, never negative.
// An unknown spot price degrades to zero.
func intrinsicValue(side model.Side, strike float64, currentPrice *float64) float64 {
	if currentPrice == nil {
		return 0
	}

	var v float64
	if side == model.SideCall {
		v = *currentPrice - strike
	} else {
		v = strike - *currentPrice
	}
	return math.Max(0, v)
}
