// Copyright 2021-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package portfolio

import (
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// warning codes
const (
	WarnCashFloorInfeasible = "cash-floor-infeasible"
	WarnCashFloorUnmet      = "cash-floor-unmet"
	WarnCashAboveBand       = "cash-above-band"
)

// Warning is a non-fatal condition reported alongside the trades
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Shortfall is the dollar distance from the violated cash limit
	Shortfall float64 `json:"shortfall"`
}

// Result is the output of a rebalance
type Result struct {
	InitialTrackingError float64 `json:"initial_tracking_error"`
	FinalTrackingError   float64 `json:"final_tracking_error"`
	RealizedNetGains     float64 `json:"realized_net_gains"`

	// EstimatedTaxCost includes TaxPenalty
	EstimatedTaxCost float64 `json:"estimated_tax_cost"`
	TaxPenalty       float64 `json:"tax_penalty"`

	CashStartPct float64 `json:"cash_start_pct"`
	CashEndPct   float64 `json:"cash_end_pct"`
	DeployedCash float64 `json:"deployed_cash"`
	TotalTraded  float64 `json:"total_traded"`

	Trades         []*Trade           `json:"trades"`
	PostAllocation map[string]float64 `json:"post_allocation"`
	PostPositions  []*Position        `json:"post_positions"`
	Warnings       []*Warning         `json:"warnings,omitempty"`

	// Snapshot is the portfolio after all trades
	Snapshot *Snapshot `json:"-"`
}

func (r *Rebalancer) summarize(snap, post *Snapshot, trades []*Trade, warnings []*Warning, initialTE, cashStart, penalty float64) *Result {
	result := &Result{
		InitialTrackingError: initialTE,
		FinalTrackingError:   post.TrackingError(),
		TaxPenalty:           penalty,
		CashStartPct:         cashStart,
		CashEndPct:           post.CashWeight(),
		Trades:               trades,
		PostAllocation:       post.Weights(),
		PostPositions:        post.Positions(),
		Warnings:             warnings,
		Snapshot:             post,
	}

	for _, trade := range trades {
		result.TotalTraded += trade.DollarAmount
		switch trade.Action {
		case SellTransaction:
			result.RealizedNetGains += trade.RealizedGain
			result.EstimatedTaxCost += trade.TaxCost
		case BuyTransaction:
			result.DeployedCash += trade.DollarAmount
		}
	}

	total := snap.TotalValue()
	if result.CashEndPct < r.cfg.MinCashPct-cashTolerance && cashStart >= r.cfg.MinCashPct-cashTolerance {
		result.Warnings = append(result.Warnings, &Warning{
			Code:      WarnCashFloorUnmet,
			Message:   fmt.Sprintf("ending cash %.4f%% is below the %.4f%% floor", result.CashEndPct*100, r.cfg.MinCashPct*100),
			Shortfall: (r.cfg.MinCashPct - result.CashEndPct) * total,
		})
	}

	if r.cfg.MaxCashPct > 0 && result.CashEndPct > r.cfg.MaxCashPct+cashTolerance {
		result.Warnings = append(result.Warnings, &Warning{
			Code:      WarnCashAboveBand,
			Message:   fmt.Sprintf("ending cash %.4f%% is above the %.4f%% band", result.CashEndPct*100, r.cfg.MaxCashPct*100),
			Shortfall: (result.CashEndPct - r.cfg.MaxCashPct) * total,
		})
	}

	return result
}

// Sells returns the sell trades in the order they were generated
func (result *Result) Sells() []*Trade {
	return result.filter(SellTransaction)
}

// Buys returns the buy trades in the order they were generated
func (result *Result) Buys() []*Trade {
	return result.filter(BuyTransaction)
}

func (result *Result) filter(action string) []*Trade {
	out := make([]*Trade, 0, len(result.Trades))
	for _, trade := range result.Trades {
		if trade.Action == action {
			out = append(out, trade)
		}
	}
	return out
}

// formatDollars renders amount as US dollars, e.g. $1,234.56
func formatDollars(amount float64) string {
	cents := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0)
	return money.New(cents.IntPart(), "USD").Display()
}

func formatPct(frac float64) string {
	return fmt.Sprintf("%.2f%%", frac*100)
}

// Table renders the trades and summary as an ASCII table
func (result *Result) Table() string {
	s := &strings.Builder{}

	if len(result.Trades) == 0 {
		s.WriteString("No trades required\n\n")
	} else {
		table := tablewriter.NewWriter(s)
		table.SetHeader([]string{"Action", "Ticker", "Phase", "Shares", "Price", "Amount", "Gain", "Tax"})
		table.SetBorder(false)
		table.SetAlignment(tablewriter.ALIGN_RIGHT)

		for _, trade := range result.Trades {
			gain, tax := "", ""
			if trade.Action == SellTransaction {
				gain = formatDollars(trade.RealizedGain)
				tax = formatDollars(trade.TaxCost)
			}
			table.Append([]string{
				trade.Action,
				trade.Ticker,
				string(trade.Phase),
				formatShares(trade.Shares),
				formatDollars(trade.Price),
				formatDollars(trade.DollarAmount),
				gain,
				tax,
			})
		}

		table.SetFooter([]string{"", "", "", "", "", formatDollars(result.TotalTraded), formatDollars(result.RealizedNetGains), formatDollars(result.EstimatedTaxCost)})
		table.Render()
		s.WriteString("\n")
	}

	summary := tablewriter.NewWriter(s)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.SetBorder(false)
	summary.AppendBulk([][]string{
		{"Tracking Error (before)", fmt.Sprintf("%.6f", result.InitialTrackingError)},
		{"Tracking Error (after)", fmt.Sprintf("%.6f", result.FinalTrackingError)},
		{"Realized Net Gains", formatDollars(result.RealizedNetGains)},
		{"Estimated Tax", formatDollars(result.EstimatedTaxCost)},
		{"Soft Cap Penalty", formatDollars(result.TaxPenalty)},
		{"Cash (before)", formatPct(result.CashStartPct)},
		{"Cash (after)", formatPct(result.CashEndPct)},
		{"Cash Deployed", formatDollars(result.DeployedCash)},
	})
	summary.Render()

	for _, warning := range result.Warnings {
		fmt.Fprintf(s, "\nWARNING [%s] %s", warning.Code, warning.Message)
	}
	if len(result.Warnings) > 0 {
		s.WriteString("\n")
	}

	return s.String()
}

func formatShares(shares float64) string {
	if shares == math.Trunc(shares) {
		return fmt.Sprintf("%.0f", shares)
	}
	return fmt.Sprintf("%.4f", shares)
}
