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
	"fmt"
	"math"

	"github.com/penny-vault/pv-rebalance/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// fillTolerance stops the redistribution loop once less than this many
	// dollars are left to allocate
	fillTolerance = 1e-9

	// cashTolerance is the slack allowed when comparing cash weights against
	// the configured floor and band
	cashTolerance = 1e-9
)

// Rebalancer computes the trades that move a snapshot toward its target
// weights. It holds no state between calls and is safe for concurrent use.
type Rebalancer struct {
	cfg Config
}

// NewRebalancer validates cfg and returns a rebalancer that uses it
func NewRebalancer(cfg Config) (*Rebalancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Rebalancer{cfg: cfg}, nil
}

// Config returns the configuration of the rebalancer
func (r *Rebalancer) Config() Config {
	return r.cfg
}

// Rebalance builds a snapshot from positions and cov and rebalances it
// with cfg
func Rebalance(ctx context.Context, positions []*Position, cov [][]float64, cfg Config) (*Result, error) {
	rebalancer, err := NewRebalancer(cfg)
	if err != nil {
		return nil, err
	}

	covariance, err := NewCovarianceMatrix(cov)
	if err != nil {
		return nil, err
	}

	snap, err := NewSnapshot(positions, covariance)
	if err != nil {
		return nil, err
	}

	return rebalancer.Rebalance(ctx, snap)
}

// Rebalance runs harvest, trim and redistribute over snap, rounds the
// resulting trades and returns them with the portfolio they produce. The
// snapshot is never modified.
func (r *Rebalancer) Rebalance(ctx context.Context, snap *Snapshot) (*Result, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "Rebalance")
	defer span.End()

	span.SetAttributes(
		attribute.Int("NumSecurities", len(snap.securities)),
		attribute.Bool("IntegerShares", r.cfg.IntegerShares),
		attribute.Float64("TaxWeight", r.cfg.TaxWeight),
	)

	asOf := r.cfg.asOf()
	wb := newBook(snap)
	total, err := wb.total()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "portfolio has no value")
		return nil, err
	}

	initialTE := snap.TrackingError()
	cashStart := wb.cash / total
	floor := r.cfg.MinCashPct * total

	var warnings []*Warning
	if cashStart < r.cfg.MinCashPct-cashTolerance {
		warnings = append(warnings, &Warning{
			Code:      WarnCashFloorInfeasible,
			Message:   fmt.Sprintf("starting cash %.4f%% is below the %.4f%% floor; no cash will be deployed", cashStart*100, r.cfg.MinCashPct*100),
			Shortfall: floor - wb.cash,
		})
		log.Warn().Float64("CashPct", cashStart).Float64("MinCashPct", r.cfg.MinCashPct).Msg("cash floor cannot be met")
	}

	est := NewTaxEstimator(r.cfg, asOf)

	intents := r.harvestLosses(ctx, wb, est)

	trims, err := r.trimGainers(ctx, wb, est)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trim failed")
		return nil, err
	}
	intents = append(intents, trims...)

	buys, err := r.redistribute(ctx, wb)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redistribute failed")
		return nil, err
	}
	intents = append(intents, buys...)

	trades, penalty := r.integerize(ctx, snap, intents, est)

	post, err := snap.Apply(trades, asOf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not apply trades")
		return nil, err
	}

	result := r.summarize(snap, post, trades, warnings, initialTE, cashStart, penalty)
	span.SetAttributes(
		attribute.Int("NumTrades", len(result.Trades)),
		attribute.Float64("FinalTrackingError", result.FinalTrackingError),
	)

	log.Debug().Object("Result", result).Msg("rebalance complete")

	return result, nil
}

// harvestLosses sells every overweight security trading at or below its
// cost basis down to target. These sales are never gated on utility.
func (r *Rebalancer) harvestLosses(ctx context.Context, wb *book, est *TaxEstimator) []*intent {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "harvestLosses")
	defer span.End()

	// value is invariant under trades at snapshot prices so this never fails
	// after the initial check
	total, _ := wb.total()

	var intents []*intent
	for _, idx := range wb.snap.lexical {
		pos := wb.snap.securities[idx]
		delta := wb.delta(idx, total)
		if delta >= 0 || pos.Price > pos.CostBasis {
			continue
		}

		amount := -delta
		if amount < r.cfg.DustThreshold {
			continue
		}

		sale := est.EstimateSale(pos, amount/pos.Price)
		est.Charge(sale.RawTax)
		wb.sell(idx, amount)
		intents = append(intents, &intent{idx: idx, action: SellTransaction, phase: PhaseHarvest, dollars: amount})

		log.Debug().Str("Ticker", pos.Ticker).Float64("Dollars", amount).Float64("RealizedGain", sale.RealizedGain).Msg("harvest loss")
	}

	span.SetAttributes(attribute.Int("NumTrades", len(intents)))
	return intents
}

// trimGainers sells overweight securities with unrealized gains when the
// reduction in squared tracking error outweighs the weighted tax cost. The
// tracking error gradient is computed once from the post-harvest weights;
// the soft tax cap accumulates across sales in ticker order.
func (r *Rebalancer) trimGainers(ctx context.Context, wb *book, est *TaxEstimator) ([]*intent, error) {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "trimGainers")
	defer span.End()

	total, err := wb.total()
	if err != nil {
		return nil, err
	}

	grad := wb.snap.cov.Gradient(wb.weights(total), wb.snap.targetVector())

	var intents []*intent
	for _, idx := range wb.snap.lexical {
		pos := wb.snap.securities[idx]
		delta := wb.delta(idx, total)
		if delta >= 0 {
			continue
		}

		amount := -delta
		if amount < r.cfg.DustThreshold {
			continue
		}

		sale := est.EstimateSale(pos, amount/pos.Price)
		taxPerDollar := est.Quote(sale.RawTax) / amount
		trackingPerDollar := -2 * grad[idx] / total
		utility := trackingPerDollar + r.cfg.TaxWeight*taxPerDollar

		subLog := log.Debug().Str("Ticker", pos.Ticker).Float64("Dollars", amount).Float64("TrackingPerDollar", trackingPerDollar).Float64("TaxPerDollar", taxPerDollar).Float64("Utility", utility)
		if utility >= 0 {
			subLog.Msg("hold overweight gainer")
			continue
		}
		subLog.Msg("trim overweight gainer")

		est.Charge(sale.RawTax)
		wb.sell(idx, amount)
		intents = append(intents, &intent{idx: idx, action: SellTransaction, phase: PhaseTrim, dollars: amount})
	}

	span.SetAttributes(attribute.Int("NumTrades", len(intents)))
	return intents, nil
}

// redistribute spends cash above the floor on underweight securities in
// proportion to their gaps. No security receives more than its gap; what a
// capped security cannot absorb is shared among the others.
func (r *Rebalancer) redistribute(ctx context.Context, wb *book) ([]*intent, error) {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "redistribute")
	defer span.End()

	total, err := wb.total()
	if err != nil {
		return nil, err
	}

	deployable := math.Max(0, wb.cash-r.cfg.MinCashPct*total)
	span.SetAttributes(attribute.Float64("Deployable", deployable))
	if deployable <= 0 {
		log.Debug().Float64("Cash", wb.cash).Msg("no cash above floor to deploy")
		return nil, nil
	}

	gaps := make(map[int]float64)
	alloc := make(map[int]float64)
	var active []int
	for _, idx := range wb.snap.lexical {
		if delta := wb.delta(idx, total); delta > 0 {
			gaps[idx] = delta
			active = append(active, idx)
		}
	}

	remaining := deployable
	for remaining > fillTolerance && len(active) > 0 {
		var need float64
		for _, idx := range active {
			need += gaps[idx] - alloc[idx]
		}
		if need <= 0 {
			break
		}

		if remaining >= need {
			for _, idx := range active {
				alloc[idx] = gaps[idx]
			}
			remaining -= need
			break
		}

		var next []int
		var spent float64
		for _, idx := range active {
			share := remaining * (gaps[idx] - alloc[idx]) / need
			if alloc[idx]+share >= gaps[idx] {
				spent += gaps[idx] - alloc[idx]
				alloc[idx] = gaps[idx]
				continue
			}
			alloc[idx] += share
			spent += share
			next = append(next, idx)
		}
		remaining -= spent
		active = next
	}

	var intents []*intent
	for _, idx := range wb.snap.lexical {
		amount, ok := alloc[idx]
		if !ok || amount < r.cfg.DustThreshold {
			continue
		}
		wb.buy(idx, amount)
		intents = append(intents, &intent{idx: idx, action: BuyTransaction, phase: PhaseRedistribute, dollars: amount})
		log.Debug().Str("Ticker", wb.snap.securities[idx].Ticker).Float64("Dollars", amount).Float64("Gap", gaps[idx]).Msg("buy underweight")
	}

	span.SetAttributes(attribute.Int("NumTrades", len(intents)))
	return intents, nil
}
