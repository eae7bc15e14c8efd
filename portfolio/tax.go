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
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// capital gains
const (
	LTC = "LTC"
	STC = "STC"
)

// SaleEstimate is the tax outcome of selling shares of a position
type SaleEstimate struct {
	Shares        float64
	Proceeds      float64
	RealizedGain  float64
	LongTermGain  float64
	ShortTermGain float64

	// RawTax is the tax owed before any soft cap penalty
	RawTax float64
}

// TaxEstimator computes realized gains and tax for proposed sales. It
// accumulates the tax charged during one rebalance so the soft cap can
// penalize each further dollar of tax more than the last. An estimator
// belongs to a single rebalance call and must not be shared.
type TaxEstimator struct {
	rates       TaxRates
	asOf        time.Time
	holdingDays int
	softCap     float64
	exponent    float64

	cumulative float64
}

// NewTaxEstimator creates an estimator that classifies lots relative to asOf
func NewTaxEstimator(cfg Config, asOf time.Time) *TaxEstimator {
	return &TaxEstimator{
		rates:       cfg.Rates,
		asOf:        asOf,
		holdingDays: cfg.LongTermHoldingDays,
		softCap:     cfg.SoftTaxCap,
		exponent:    cfg.TaxPenaltyExponent,
	}
}

// Disposition returns LTC when the lot was held at least the long-term
// holding period, otherwise STC. A lot without an acquisition date is long
// term.
func (est *TaxEstimator) Disposition(lot *TaxLot) string {
	// add 1 nanosecond so we don't have to do before and equal
	ltcDate := est.asOf.AddDate(0, 0, -est.holdingDays).Add(time.Nanosecond)
	if lot.Date.Before(ltcDate) {
		return LTC
	}
	return STC
}

func (est *TaxEstimator) rate(disposition string) float64 {
	if disposition == LTC {
		return est.rates.EffectiveLongTerm()
	}
	return est.rates.EffectiveShortTerm()
}

// TaxPerDollar is the tax owed per dollar sold from pos:
// rate × max(0, (price - cost basis) / price). The rate follows the holding
// period of the oldest lot, which is the first lot sold.
func (est *TaxEstimator) TaxPerDollar(pos *Position) float64 {
	if pos.Price <= 0 {
		return 0
	}
	gainPerDollar := math.Max(0, (pos.Price-pos.CostBasis)/pos.Price)
	disposition := LTC
	if len(pos.Lots) > 0 {
		disposition = est.Disposition(pos.Lots[0])
	}
	return est.rate(disposition) * gainPerDollar
}

// EstimateSale links shares of pos to its tax lots first-in, first-out and
// computes the realized gain. Losses reduce the realized gain but never make
// tax negative.
func (est *TaxEstimator) EstimateSale(pos *Position, shares float64) SaleEstimate {
	sale := SaleEstimate{
		Shares:   shares,
		Proceeds: shares * pos.Price,
	}

	_, closed := closeLotsFIFO(pos.Lots, shares)
	var exercised float64
	for _, lot := range closed {
		exercised += lot.Shares
		gain := lot.Shares * (pos.Price - lot.PricePerShare)
		if est.Disposition(lot) == LTC {
			sale.LongTermGain += gain
		} else {
			sale.ShortTermGain += gain
		}
	}

	// shares beyond the recorded lots are treated at the position's cost basis
	if remaining := shares - exercised; remaining > lotTolerance {
		log.Warn().Str("Ticker", pos.Ticker).Float64("Shares", shares).Float64("LotShares", exercised).Msg("sale exceeds recorded tax lots; using position cost basis")
		sale.LongTermGain += remaining * (pos.Price - pos.CostBasis)
	}

	sale.RealizedGain = sale.LongTermGain + sale.ShortTermGain
	sale.RawTax = est.rate(LTC)*math.Max(0, sale.LongTermGain) + est.rate(STC)*math.Max(0, sale.ShortTermGain)

	return sale
}

// penalized maps cumulative raw tax to its cost including the soft cap
// penalty: x below the cap, x + cap·((x-cap)/cap)^exponent above it
func (est *TaxEstimator) penalized(x float64) float64 {
	if est.softCap <= 0 || x <= est.softCap {
		return x
	}
	excess := (x - est.softCap) / est.softCap
	return x + est.softCap*math.Pow(excess, est.exponent)
}

// Quote returns the cost of adding rawTax on top of the tax already charged,
// without charging it
func (est *TaxEstimator) Quote(rawTax float64) float64 {
	if rawTax <= 0 {
		return 0
	}
	return est.penalized(est.cumulative+rawTax) - est.penalized(est.cumulative)
}

// Charge adds rawTax to the running total and returns its cost along with
// the portion of that cost due to the soft cap
func (est *TaxEstimator) Charge(rawTax float64) (cost, penalty float64) {
	cost = est.Quote(rawTax)
	if rawTax > 0 {
		est.cumulative += rawTax
	}
	penalty = math.Max(0, cost-math.Max(0, rawTax))
	return cost, penalty
}

// Cumulative is the raw tax charged so far
func (est *TaxEstimator) Cumulative() float64 {
	return est.cumulative
}

// Reset clears the running total
func (est *TaxEstimator) Reset() {
	est.cumulative = 0
}

// closeLotsFIFO removes shares from lots oldest first. It returns the lots
// left open and the (partial) lots that were closed. The input is not
// modified.
func closeLotsFIFO(lots []*TaxLot, shares float64) (remaining, closed []*TaxLot) {
	numSharesToFind := shares
	remaining = make([]*TaxLot, 0, len(lots))

	for idx, lot := range lots {
		if numSharesToFind <= lotTolerance {
			remaining = append(remaining, copyLots(lots[idx:])...)
			break
		}

		if lot.Shares > numSharesToFind {
			closed = append(closed, &TaxLot{Date: lot.Date, Shares: numSharesToFind, PricePerShare: lot.PricePerShare})
			left := lot.Shares - numSharesToFind
			if left > lotTolerance {
				remaining = append(remaining, &TaxLot{Date: lot.Date, Shares: left, PricePerShare: lot.PricePerShare})
			}
			numSharesToFind = 0
			continue
		}

		closed = append(closed, &TaxLot{Date: lot.Date, Shares: lot.Shares, PricePerShare: lot.PricePerShare})
		numSharesToFind -= lot.Shares
	}

	return remaining, closed
}

func copyLots(lots []*TaxLot) []*TaxLot {
	out := make([]*TaxLot, len(lots))
	for idx, lot := range lots {
		l := *lot
		out[idx] = &l
	}
	return out
}
