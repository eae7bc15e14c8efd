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

const (
	SellTransaction = "SELL"
	BuyTransaction  = "BUY"
)

// Phase identifies which step of the rebalance produced a trade
type Phase string

const (
	PhaseHarvest      Phase = "harvest"
	PhaseTrim         Phase = "trim"
	PhaseRedistribute Phase = "redistribute"
)

// Trade is one generated instruction. DollarAmount is always positive; the
// direction is given by Action. Gain and tax fields are only set on sells.
type Trade struct {
	Ticker        string  `json:"ticker"`
	Action        string  `json:"action"`
	Phase         Phase   `json:"phase"`
	Price         float64 `json:"price"`
	DollarAmount  float64 `json:"dollar_amount"`
	Shares        float64 `json:"shares"`
	RealizedGain  float64 `json:"realized_gain"`
	LongTermGain  float64 `json:"long_term_gain"`
	ShortTermGain float64 `json:"short_term_gain"`
	TaxCost       float64 `json:"tax_cost"`
}

// SignedAmount is negative for buys (cash out) and positive for sells
func (trx *Trade) SignedAmount() float64 {
	if trx.Action == BuyTransaction {
		return -trx.DollarAmount
	}
	return trx.DollarAmount
}

// intent is a dollar-denominated trade proposed by one of the greedy phases
// before share rounding
type intent struct {
	idx     int
	action  string
	phase   Phase
	dollars float64
}
