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
	"sort"
	"time"
)

const (
	CashAsset = "CASH"

	// WeightTolerance is the allowed deviation of the target weight sum from 1.0
	WeightTolerance = 1e-6

	lotTolerance = 1e-6
)

// TaxLot is a single acquisition of shares
type TaxLot struct {
	Date          time.Time `json:"date"`
	Shares        float64   `json:"shares"`
	PricePerShare float64   `json:"price_per_share"`
}

// Position is one holding in a portfolio. Exactly one position in a
// snapshot is the CASH position whose quantity is dollars of cash.
type Position struct {
	Ticker       string    `json:"ticker"`
	TargetWeight float64   `json:"target_weight"`
	Quantity     float64   `json:"quantity"`
	CostBasis    float64   `json:"cost_basis"`
	Price        float64   `json:"price"`
	AcquiredOn   time.Time `json:"acquired_on"`
	Lots         []*TaxLot `json:"lots,omitempty"`
}

// Value is the market value of the position
func (p *Position) Value() float64 {
	return p.Quantity * p.Price
}

// IsCash reports whether the position is the cash position
func (p *Position) IsCash() bool {
	return p.Ticker == CashAsset
}

// UnrealizedGain is the gain (or loss when negative) that would be realized
// by selling the entire position
func (p *Position) UnrealizedGain() float64 {
	gain := 0.0
	for _, lot := range p.Lots {
		gain += lot.Shares * (p.Price - lot.PricePerShare)
	}
	return gain
}

func (p *Position) clone() *Position {
	c := *p
	c.Lots = make([]*TaxLot, len(p.Lots))
	for idx, lot := range p.Lots {
		l := *lot
		c.Lots[idx] = &l
	}
	return &c
}

// Snapshot is an immutable view of a portfolio: its securities, its cash,
// and the covariance model of the securities. Securities keep the order they
// were supplied in; that order indexes the covariance matrix.
type Snapshot struct {
	securities []*Position
	index      map[string]int
	lexical    []int
	cash       *Position
	cov        *CovarianceMatrix
}

// NewSnapshot validates positions and cov and returns a snapshot built from
// copies of them. Invalid records are rejected here so the rebalancer never
// discovers bad input mid-computation.
func NewSnapshot(positions []*Position, cov *CovarianceMatrix) (*Snapshot, error) {
	snap := &Snapshot{
		securities: make([]*Position, 0, len(positions)),
		index:      make(map[string]int, len(positions)),
	}

	var totalWeight float64
	for idx, pos := range positions {
		if pos == nil {
			return nil, invalid(fmt.Sprintf("positions[%d]", idx), nil, ErrEmptyTicker)
		}

		p := pos.clone()
		if err := validatePosition(idx, p); err != nil {
			return nil, err
		}
		totalWeight += p.TargetWeight

		if p.IsCash() {
			if snap.cash != nil {
				return nil, invalid(fmt.Sprintf("positions[%d].ticker", idx), p.Ticker, ErrDuplicateCash)
			}
			p.Lots = nil
			snap.cash = p
			continue
		}

		if _, ok := snap.index[p.Ticker]; ok {
			return nil, invalid(fmt.Sprintf("positions[%d].ticker", idx), p.Ticker, ErrDuplicateTicker)
		}

		if err := normalizeLots(idx, p); err != nil {
			return nil, err
		}

		snap.index[p.Ticker] = len(snap.securities)
		snap.securities = append(snap.securities, p)
	}

	if snap.cash == nil {
		return nil, invalid("positions", nil, ErrMissingCash)
	}

	if len(snap.securities) == 0 {
		return nil, invalid("positions", nil, ErrNoSecurities)
	}

	if math.Abs(totalWeight-1.0) > WeightTolerance {
		return nil, invalid("positions.target_weight", totalWeight, ErrTargetWeightSum)
	}

	if cov == nil {
		return nil, invalid("cov_matrix", nil, ErrCovarianceShape)
	}

	if cov.Dim() != len(snap.securities) {
		return nil, invalid("cov_matrix", fmt.Sprintf("%dx%d for %d securities", cov.Dim(), cov.Dim(), len(snap.securities)), ErrCovarianceShape)
	}
	snap.cov = cov

	snap.lexical = make([]int, len(snap.securities))
	for ii := range snap.lexical {
		snap.lexical[ii] = ii
	}
	sort.SliceStable(snap.lexical, func(a, b int) bool {
		return snap.securities[snap.lexical[a]].Ticker < snap.securities[snap.lexical[b]].Ticker
	})

	return snap, nil
}

func validatePosition(idx int, p *Position) error {
	field := func(name string) string {
		return fmt.Sprintf("positions[%d].%s", idx, name)
	}

	if p.Ticker == "" {
		return invalid(field("ticker"), p.Ticker, ErrEmptyTicker)
	}

	for _, num := range []struct {
		name  string
		value float64
	}{
		{"target_weight", p.TargetWeight},
		{"quantity", p.Quantity},
		{"cost_basis", p.CostBasis},
		{"price", p.Price},
	} {
		if math.IsNaN(num.value) || math.IsInf(num.value, 0) {
			return invalid(field(num.name), num.value, ErrNotFinite)
		}
		if num.value < 0 {
			return invalid(field(num.name), num.value, ErrNegativeValue)
		}
	}

	if p.IsCash() {
		if p.Price != 1.0 {
			return invalid(field("price"), p.Price, ErrInvalidCashPosition)
		}
		if p.CostBasis != 1.0 {
			return invalid(field("cost_basis"), p.CostBasis, ErrInvalidCashPosition)
		}
		return nil
	}

	if p.Price <= 0 {
		return invalid(field("price"), p.Price, ErrInvalidPrice)
	}

	for lotIdx, lot := range p.Lots {
		if lot == nil {
			return invalid(fmt.Sprintf("positions[%d].lots[%d]", idx, lotIdx), nil, ErrLotMismatch)
		}
		for _, num := range []struct {
			name  string
			value float64
		}{
			{"shares", lot.Shares},
			{"price_per_share", lot.PricePerShare},
		} {
			lotField := fmt.Sprintf("positions[%d].lots[%d].%s", idx, lotIdx, num.name)
			if math.IsNaN(num.value) || math.IsInf(num.value, 0) {
				return invalid(lotField, num.value, ErrNotFinite)
			}
			if num.value < 0 {
				return invalid(lotField, num.value, ErrNegativeValue)
			}
		}
	}

	return nil
}

// normalizeLots synthesizes a single lot for positions without lot detail,
// orders lots oldest first, and derives a missing cost basis from the lots
func normalizeLots(idx int, p *Position) error {
	if len(p.Lots) == 0 {
		if p.Quantity > 0 {
			p.Lots = []*TaxLot{{Date: p.AcquiredOn, Shares: p.Quantity, PricePerShare: p.CostBasis}}
		}
		return nil
	}

	var shares, cost float64
	for _, lot := range p.Lots {
		shares += lot.Shares
		cost += lot.Shares * lot.PricePerShare
	}

	if math.Abs(shares-p.Quantity) > lotTolerance*math.Max(1, p.Quantity) {
		return invalid(fmt.Sprintf("positions[%d].lots", idx), fmt.Sprintf("%g shares in lots, quantity %g", shares, p.Quantity), ErrLotMismatch)
	}

	sort.SliceStable(p.Lots, func(a, b int) bool { return p.Lots[a].Date.Before(p.Lots[b].Date) })

	if p.CostBasis == 0 && shares > 0 {
		p.CostBasis = cost / shares
	}

	return nil
}

// TotalValue is the market value of all securities plus cash
func (snap *Snapshot) TotalValue() float64 {
	total := snap.cash.Quantity
	for _, sec := range snap.securities {
		total += sec.Value()
	}
	return total
}

// Covariance returns the risk model of the snapshot
func (snap *Snapshot) Covariance() *CovarianceMatrix {
	return snap.cov
}

// Cash returns a copy of the cash position
func (snap *Snapshot) Cash() *Position {
	return snap.cash.clone()
}

// Securities returns copies of the non-cash positions in covariance order
func (snap *Snapshot) Securities() []*Position {
	out := make([]*Position, len(snap.securities))
	for idx, sec := range snap.securities {
		out[idx] = sec.clone()
	}
	return out
}

// Positions returns copies of every position, securities first and cash last
func (snap *Snapshot) Positions() []*Position {
	return append(snap.Securities(), snap.Cash())
}

// Position returns a copy of the position with the given ticker
func (snap *Snapshot) Position(ticker string) (*Position, bool) {
	if ticker == CashAsset {
		return snap.Cash(), true
	}
	idx, ok := snap.index[ticker]
	if !ok {
		return nil, false
	}
	return snap.securities[idx].clone(), true
}

// Tickers returns the non-cash tickers in lexical order
func (snap *Snapshot) Tickers() []string {
	out := make([]string, len(snap.lexical))
	for ii, idx := range snap.lexical {
		out[ii] = snap.securities[idx].Ticker
	}
	return out
}

// Weight returns the fraction of total value held in ticker
func (snap *Snapshot) Weight(ticker string) float64 {
	total := snap.TotalValue()
	if total <= 0 {
		return 0
	}
	if ticker == CashAsset {
		return snap.cash.Quantity / total
	}
	idx, ok := snap.index[ticker]
	if !ok {
		return 0
	}
	return snap.securities[idx].Value() / total
}

// CashWeight returns the fraction of total value held in cash
func (snap *Snapshot) CashWeight() float64 {
	return snap.Weight(CashAsset)
}

// Weights returns the weight of every position including cash
func (snap *Snapshot) Weights() map[string]float64 {
	weights := make(map[string]float64, len(snap.securities)+1)
	for _, sec := range snap.securities {
		weights[sec.Ticker] = snap.Weight(sec.Ticker)
	}
	weights[CashAsset] = snap.CashWeight()
	return weights
}

// weightVector returns security weights in covariance order
func (snap *Snapshot) weightVector() []float64 {
	total := snap.TotalValue()
	out := make([]float64, len(snap.securities))
	for idx, sec := range snap.securities {
		out[idx] = sec.Value() / total
	}
	return out
}

// targetVector returns security target weights in covariance order
func (snap *Snapshot) targetVector() []float64 {
	out := make([]float64, len(snap.securities))
	for idx, sec := range snap.securities {
		out[idx] = sec.TargetWeight
	}
	return out
}

// TrackingError of the snapshot relative to its target weights
func (snap *Snapshot) TrackingError() float64 {
	if snap.TotalValue() <= 0 {
		return 0
	}
	return snap.cov.TrackingError(snap.weightVector(), snap.targetVector())
}

// Apply returns a new snapshot with trades executed at each position's
// price. Bought shares open a new lot dated asOf; sold shares close lots
// first-in, first-out. The receiver is not modified.
func (snap *Snapshot) Apply(trades []*Trade, asOf time.Time) (*Snapshot, error) {
	next := &Snapshot{
		securities: make([]*Position, len(snap.securities)),
		index:      snap.index,
		lexical:    snap.lexical,
		cash:       snap.cash.clone(),
		cov:        snap.cov,
	}
	for idx, sec := range snap.securities {
		next.securities[idx] = sec.clone()
	}

	for _, trade := range trades {
		idx, ok := next.index[trade.Ticker]
		if !ok {
			return nil, invalid("trade.ticker", trade.Ticker, ErrValidation)
		}
		pos := next.securities[idx]

		switch trade.Action {
		case BuyTransaction:
			cost := pos.CostBasis*pos.Quantity + trade.Shares*pos.Price
			pos.Quantity += trade.Shares
			pos.Lots = append(pos.Lots, &TaxLot{Date: asOf, Shares: trade.Shares, PricePerShare: pos.Price})
			if pos.Quantity > 0 {
				pos.CostBasis = cost / pos.Quantity
			}
			next.cash.Quantity -= trade.DollarAmount
		case SellTransaction:
			if trade.Shares > pos.Quantity+lotTolerance {
				return nil, invalid("trade.shares", trade.Shares, ErrNegativeValue)
			}
			pos.Lots, _ = closeLotsFIFO(pos.Lots, trade.Shares)
			pos.Quantity -= trade.Shares
			if pos.Quantity < lotTolerance {
				pos.Quantity = 0
			}
			var shares, cost float64
			for _, lot := range pos.Lots {
				shares += lot.Shares
				cost += lot.Shares * lot.PricePerShare
			}
			if shares > 0 {
				pos.CostBasis = cost / shares
			}
			next.cash.Quantity += trade.DollarAmount
		default:
			return nil, invalid("trade.action", trade.Action, ErrValidation)
		}
	}

	// rounding may leave a sliver of negative cash after spending exactly
	// the available balance
	if next.cash.Quantity < 0 && next.cash.Quantity > -1e-6 {
		next.cash.Quantity = 0
	}
	if next.cash.Quantity < 0 {
		return nil, invalid("cash.quantity", next.cash.Quantity, ErrNegativeValue)
	}

	return next, nil
}
