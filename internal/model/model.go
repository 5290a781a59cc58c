// Package model defines the core data structures for ophunt.
package model

import "strings"

// Contract is a single option contract in the canonical shape every provider
// normalizes into. This is the core data structure that flows from the
// fetchers into the evaluator.
type Contract struct {
	// Symbol is the provider-specific contract code
	Symbol string `json:"symbol"`

	// Strike is the contract strike price; nil when the provider omitted it
	Strike *float64 `json:"strike"`

	// LastPrice is informational only and never used by the filters
	LastPrice *float64 `json:"last"`

	Bid *float64 `json:"bid"`
	Ask *float64 `json:"ask"`

	// Volume defaults to 0 when the provider does not report it
	Volume int64 `json:"volume"`
}

// Chain holds the puts and calls for one expiration.
// Normalizers always emit non-nil slices, so a chain with both sides nil
// was never produced by a provider.
type Chain struct {
	Puts  []Contract `json:"puts"`
	Calls []Contract `json:"calls"`
}

// Len returns the number of contracts on both sides.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Puts) + len(c.Calls)
}

// IsEmpty reports whether the chain carries no contracts at all.
func (c *Chain) IsEmpty() bool {
	return c.Len() == 0
}

// Position holds the operator's parameters for a single evaluation.
type Position struct {
	Ticker string `json:"ticker"`

	// Funds is the capital available if puts are assigned; sizes put quantity
	Funds int64 `json:"funds"`

	// SharesHeld sizes covered-call quantity
	SharesHeld int64 `json:"shares_held"`

	// CostBasis excludes calls struck at or below it; nil disables the check
	CostBasis *float64 `json:"cost_basis,omitempty"`

	// CurrentPrice is nil when the quote lookup failed
	CurrentPrice *float64 `json:"current_price,omitempty"`
}

// Header identifies the underlying an evaluation was made for.
type Header struct {
	Ticker       string   `json:"ticker"`
	CurrentPrice *float64 `json:"current_price"`
}

// Row is one contract that survived every filter, annotated with the
// derived metrics.
type Row struct {
	Symbol    string   `json:"symbol"`
	Strike    float64  `json:"strike"`
	LastPrice *float64 `json:"last"`
	Bid       float64  `json:"bid"`
	Ask       float64  `json:"ask"`
	Average   float64  `json:"average"`
	Volume    int64    `json:"volume"`

	QtyContracts        int64   `json:"qty"`
	IntrinsicValue      float64 `json:"intrinsic_value"`
	ExtrinsicValue      float64 `json:"ext_value"`
	TargetBuyBack       float64 `json:"target_buy_back"`
	Trigger             float64 `json:"trigger"`
	DifferentialFromBid float64 `json:"differential"`
	ExpiryProfit        float64 `json:"expiry_profit"`
}

// Side names which half of the chain a contract belongs to.
type Side string

const (
	SidePut  Side = "put"
	SideCall Side = "call"
)

// Evaluation is the output of the position evaluator.
type Evaluation struct {
	Header Header `json:"header"`
	Puts   []Row  `json:"puts"`
	Calls  []Row  `json:"calls"`

	// Skipped counts dropped contracts per side and reason.
	// Informational only; it never influences which rows are kept.
	Skipped map[Side]map[string]int `json:"-"`
}

// Report is what the presentation layer renders.
type Report struct {
	Header Header `json:"header"`

	// Expiration is the YYYY-MM-DD expiration the rows were built from
	Expiration string `json:"expiration"`

	Puts  []Row `json:"puts"`
	Calls []Row `json:"calls"`

	// Message explains degraded results such as an expiry fallback
	Message string `json:"message,omitempty"`
}

// NewHeader builds a header with the ticker normalized to upper case.
func NewHeader(ticker string, currentPrice *float64) Header {
	return Header{
		Ticker:       strings.ToUpper(ticker),
		CurrentPrice: currentPrice,
	}
}

// Float returns a pointer to v, handy for optional fields.
func Float(v float64) *float64 {
	return &v
}
