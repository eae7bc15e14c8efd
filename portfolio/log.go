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
	"github.com/rs/zerolog"
)

func (o *TaxLot) MarshalZerologObject(e *zerolog.Event) {
	e.Time("Date", o.Date).Float64("Shares", o.Shares).Float64("PricePerShare", o.PricePerShare)
}

func (p *Position) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", p.Ticker).
		Float64("TargetWeight", p.TargetWeight).
		Float64("Quantity", p.Quantity).
		Float64("CostBasis", p.CostBasis).
		Float64("Price", p.Price).
		Int("NumLots", len(p.Lots))
}

func (trx *Trade) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Ticker", trx.Ticker).
		Str("Action", trx.Action).
		Str("Phase", string(trx.Phase)).
		Float64("Price", trx.Price).
		Float64("Shares", trx.Shares).
		Float64("DollarAmount", trx.DollarAmount).
		Float64("RealizedGain", trx.RealizedGain).
		Float64("TaxCost", trx.TaxCost)
}

func (w *Warning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("Code", w.Code).Str("Message", w.Message).Float64("Shortfall", w.Shortfall)
}

func (result *Result) MarshalZerologObject(e *zerolog.Event) {
	e.Float64("InitialTrackingError", result.InitialTrackingError)
	e.Float64("FinalTrackingError", result.FinalTrackingError)
	e.Float64("RealizedNetGains", result.RealizedNetGains)
	e.Float64("EstimatedTaxCost", result.EstimatedTaxCost)
	e.Float64("TaxPenalty", result.TaxPenalty)
	e.Float64("CashStartPct", result.CashStartPct)
	e.Float64("CashEndPct", result.CashEndPct)
	e.Float64("DeployedCash", result.DeployedCash)
	e.Float64("TotalTraded", result.TotalTraded)
	e.Int("NumTrades", len(result.Trades))
	e.Int("NumWarnings", len(result.Warnings))
}

func (cfg Config) MarshalZerologObject(e *zerolog.Event) {
	e.Float64("TaxWeight", cfg.TaxWeight)
	e.Float64("LongTermRate", cfg.Rates.EffectiveLongTerm())
	e.Float64("ShortTermRate", cfg.Rates.EffectiveShortTerm())
	e.Bool("IntegerShares", cfg.IntegerShares)
	e.Float64("MinCashPct", cfg.MinCashPct)
	e.Float64("MaxCashPct", cfg.MaxCashPct)
	e.Float64("SoftTaxCap", cfg.SoftTaxCap)
	e.Float64("TaxPenaltyExponent", cfg.TaxPenaltyExponent)
	e.Int("LongTermHoldingDays", cfg.LongTermHoldingDays)
}
