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
	"context"
	"math"

	"github.com/penny-vault/pv-rebalance/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// quotientPlaces is the precision a share quotient is rounded to before it
// is floored, so 4200/70 is 60 and not 59.999999999
const quotientPlaces = 9

// wholeShares returns floor(dollars / price)
func wholeShares(dollars, price float64) float64 {
	if dollars <= 0 || price <= 0 {
		return 0
	}
	quotient := decimal.NewFromFloat(dollars).Div(decimal.NewFromFloat(price)).Round(quotientPlaces).Floor()
	shares, _ := quotient.Float64()
	return shares
}

// floorShares drops the fractional part of a held quantity
func floorShares(quantity float64) float64 {
	shares, _ := decimal.NewFromFloat(quantity).Round(quotientPlaces).Floor().Float64()
	return shares
}

// integerize converts dollar intents into share-denominated trades. Sells
// are sized first because their proceeds fund the buys; each sell is capped
// at the shares held. Buys are then limited to the cash above the floor
// that the sized sells actually leave, trimming in ticker order. Realized
// gains and tax are recomputed from the final share counts, so the soft
// cap accumulator is replayed from zero.
func (r *Rebalancer) integerize(ctx context.Context, snap *Snapshot, intents []*intent, est *TaxEstimator) (trades []*Trade, penalty float64) {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "integerize")
	defer span.End()

	est.Reset()

	total := snap.TotalValue()
	cash := snap.cash.Quantity

	trades = make([]*Trade, 0, len(intents))
	for _, in := range intents {
		if in.action != SellTransaction {
			continue
		}
		pos := snap.securities[in.idx]

		var shares float64
		if r.cfg.IntegerShares {
			shares = math.Min(wholeShares(in.dollars, pos.Price), floorShares(pos.Quantity))
		} else {
			shares = math.Min(in.dollars/pos.Price, pos.Quantity)
		}

		amount := shares * pos.Price
		if shares <= 0 || (!r.cfg.IntegerShares && amount < r.cfg.DustThreshold) {
			log.Debug().Str("Ticker", pos.Ticker).Float64("Dollars", in.dollars).Msg("sell rounds to zero shares")
			continue
		}

		sale := est.EstimateSale(pos, shares)
		cost, extra := est.Charge(sale.RawTax)
		penalty += extra
		cash += amount

		trades = append(trades, &Trade{
			Ticker:        pos.Ticker,
			Action:        SellTransaction,
			Phase:         in.phase,
			Price:         pos.Price,
			DollarAmount:  amount,
			Shares:        shares,
			RealizedGain:  sale.RealizedGain,
			LongTermGain:  sale.LongTermGain,
			ShortTermGain: sale.ShortTermGain,
			TaxCost:       cost,
		})
	}

	budget := math.Max(0, cash-r.cfg.MinCashPct*total)
	for _, in := range intents {
		if in.action != BuyTransaction {
			continue
		}
		pos := snap.securities[in.idx]

		var shares, amount float64
		if r.cfg.IntegerShares {
			shares = math.Min(wholeShares(in.dollars, pos.Price), wholeShares(budget, pos.Price))
			if shares > 0 && shares*pos.Price > budget+fillTolerance {
				shares--
			}
			amount = shares * pos.Price
		} else {
			amount = math.Min(in.dollars, budget)
			shares = amount / pos.Price
		}

		if shares <= 0 || (!r.cfg.IntegerShares && amount < r.cfg.DustThreshold) {
			log.Debug().Str("Ticker", pos.Ticker).Float64("Dollars", in.dollars).Float64("Budget", budget).Msg("buy rounds to zero shares")
			continue
		}
		if r.cfg.IntegerShares && shares < wholeShares(in.dollars, pos.Price) {
			log.Debug().Str("Ticker", pos.Ticker).Float64("Dollars", in.dollars).Float64("Budget", budget).Msg("buy trimmed to cash floor")
		}

		budget = math.Max(0, budget-amount)
		trades = append(trades, &Trade{
			Ticker:       pos.Ticker,
			Action:       BuyTransaction,
			Phase:        in.phase,
			Price:        pos.Price,
			DollarAmount: amount,
			Shares:       shares,
		})
	}

	span.SetAttributes(
		attribute.Int("NumTrades", len(trades)),
		attribute.Float64("TaxPenalty", penalty),
	)

	return trades, penalty
}
