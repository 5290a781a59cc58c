// Package render formats a hunt report as a plain-text table or as JSON.
package render

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/yourorg/ophunt/internal/model"
)

const (
	putsBanner  = "Puts  ++++++++++++"
	callsBanner = "Calls ++++++++++++"
)

var columns = []string{
	"Symbol", "Strike", "Last", "Bid", "Ask", "Average", "Volume", "Qty",
	"Ext Value", "Target Buy Back", "Trigger", "Differential", "Expiry Profit",
}

// Table writes the report as aligned plain text, preceded by "# message"
// when the report carries one.
func Table(w io.Writer, report *model.Report) error {
	var buf bytes.Buffer

	if report.Message != "" {
		fmt.Fprintf(&buf, "# %s\n", report.Message)
	}

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	writeCells(tw, "Ticker", report.Header.Ticker, "Current Price:", priceOrNA(report.Header.CurrentPrice))
	writeCells(tw, columns...)
	writeCells(tw, putsBanner)
	for _, r := range report.Puts {
		writeCells(tw, rowCells(r)...)
	}
	writeCells(tw, callsBanner)
	for _, r := range report.Calls {
		writeCells(tw, rowCells(r)...)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	// Padding of short lines leaves trailing blanks behind
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		if _, err := fmt.Fprintln(w, strings.TrimRight(scanner.Text(), " ")); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// writeCells writes one tab-terminated line padded to the full column count
// so every line belongs to the same column blocks.
func writeCells(w io.Writer, cells ...string) {
	line := make([]string, len(columns))
	copy(line, cells)
	fmt.Fprint(w, strings.Join(line, "\t")+"\t\n")
}

func rowCells(r model.Row) []string {
	return []string{
		r.Symbol,
		money(r.Strike),
		priceOrNA(r.LastPrice),
		money(r.Bid),
		money(r.Ask),
		money(r.Average),
		strconv.FormatInt(r.Volume, 10),
		strconv.FormatInt(r.QtyContracts, 10),
		money(r.ExtrinsicValue),
		money(r.TargetBuyBack),
		money(r.Trigger),
		strconv.FormatFloat(r.DifferentialFromBid, 'f', -1, 64),
		money(r.ExpiryProfit),
	}
}

func money(v float64) string {
	return fmt.Sprintf("$ %.2f", v)
}

func priceOrNA(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return money(*v)
}

// document is the JSON shape served by /pull and printed by the CLI
type document struct {
	Meta  meta        `json:"meta"`
	Puts  []model.Row `json:"puts"`
	Calls []model.Row `json:"calls"`
}

type meta struct {
	Ticker       string   `json:"ticker"`
	CurrentPrice *float64 `json:"current_price"`
	Expiration   string   `json:"expiration"`
	Message      *string  `json:"message"`
}

// JSON writes the report as a single JSON document with raw numbers
func JSON(w io.Writer, report *model.Report) error {
	doc := document{
		Meta: meta{
			Ticker:       report.Header.Ticker,
			CurrentPrice: report.Header.CurrentPrice,
			Expiration:   report.Expiration,
		},
		Puts:  report.Puts,
		Calls: report.Calls,
	}
	if report.Message != "" {
		msg := report.Message
		doc.Meta.Message = &msg
	}
	if doc.Puts == nil {
		doc.Puts = []model.Row{}
	}
	if doc.Calls == nil {
		doc.Calls = []model.Row{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
