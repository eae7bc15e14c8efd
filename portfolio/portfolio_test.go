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

package portfolio_test

import (
	"errors"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-rebalance/portfolio"
)

var _ = Describe("Snapshot", func() {
	Describe("validation", func() {
		DescribeTable("rejects invalid portfolios before any trade is computed",
			func(positions []*portfolio.Position, rows [][]float64, expected error) {
				_, err := portfolio.NewSnapshot(positions, mustCovariance(rows))
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, expected)).To(BeTrue(), err.Error())
				Expect(errors.Is(err, portfolio.ErrValidation)).To(BeTrue())

				var verr *portfolio.ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Field).NotTo(BeEmpty())
			},
			Entry("missing CASH",
				[]*portfolio.Position{security("VTI", 0.5, 10, 100, 100), security("BND", 0.5, 10, 100, 100)},
				diagonal(0.04, 0.01), portfolio.ErrMissingCash),
			Entry("only CASH",
				[]*portfolio.Position{cash(1.0, 1000)},
				diagonal(0.04), portfolio.ErrNoSecurities),
			Entry("two CASH positions",
				[]*portfolio.Position{security("VTI", 0.5, 10, 100, 100), cash(0.25, 100), cash(0.25, 100)},
				diagonal(0.04), portfolio.ErrDuplicateCash),
			Entry("duplicate ticker",
				[]*portfolio.Position{security("VTI", 0.5, 10, 100, 100), security("VTI", 0.4, 10, 100, 100), cash(0.1, 100)},
				diagonal(0.04, 0.04), portfolio.ErrDuplicateTicker),
			Entry("target weights do not sum to one",
				[]*portfolio.Position{security("VTI", 0.5, 10, 100, 100), security("BND", 0.3, 10, 100, 100), cash(0.1, 100)},
				diagonal(0.04, 0.01), portfolio.ErrTargetWeightSum),
			Entry("covariance dimension mismatch",
				[]*portfolio.Position{security("VTI", 0.5, 10, 100, 100), security("BND", 0.4, 10, 100, 100), cash(0.1, 100)},
				diagonal(0.04, 0.01, 0.02), portfolio.ErrCovarianceShape),
			Entry("negative quantity",
				[]*portfolio.Position{security("VTI", 0.9, -1, 100, 100), cash(0.1, 100)},
				diagonal(0.04), portfolio.ErrNegativeValue),
			Entry("zero price",
				[]*portfolio.Position{security("VTI", 0.9, 10, 100, 0), cash(0.1, 100)},
				diagonal(0.04), portfolio.ErrInvalidPrice),
			Entry("infinite cost basis",
				[]*portfolio.Position{security("VTI", 0.9, 10, math.Inf(1), 100), cash(0.1, 100)},
				diagonal(0.04), portfolio.ErrNotFinite),
			Entry("cash priced away from one",
				[]*portfolio.Position{security("VTI", 0.9, 10, 100, 100), {Ticker: portfolio.CashAsset, TargetWeight: 0.1, Quantity: 100, CostBasis: 1, Price: 2}},
				diagonal(0.04), portfolio.ErrInvalidCashPosition),
			Entry("empty ticker",
				[]*portfolio.Position{security("", 0.9, 10, 100, 100), cash(0.1, 100)},
				diagonal(0.04), portfolio.ErrEmptyTicker),
			Entry("lots that do not add up to the quantity",
				[]*portfolio.Position{{
					Ticker: "VTI", TargetWeight: 0.9, Quantity: 10, CostBasis: 100, Price: 100,
					Lots: []*portfolio.TaxLot{{Shares: 4, PricePerShare: 100}},
				}, cash(0.1, 100)},
				diagonal(0.04), portfolio.ErrLotMismatch),
		)

		It("rejects a nil covariance matrix", func() {
			_, err := portfolio.NewSnapshot(referencePositions(), nil)
			Expect(errors.Is(err, portfolio.ErrCovarianceShape)).To(BeTrue())
		})
	})

	Describe("derived values", func() {
		var snap *portfolio.Snapshot

		BeforeEach(func() {
			snap = mustSnapshot(referencePositions(), referenceCovariance())
		})

		It("totals securities and cash", func() {
			Expect(snap.TotalValue()).To(BeNumerically("~", 74200, 1e-9))
		})

		It("computes weights over the total including cash", func() {
			weights := snap.Weights()
			Expect(weights).To(HaveLen(4))
			Expect(weights["AAPL"]).To(BeNumerically("~", 9000.0/74200, 1e-12))
			Expect(weights["BND"]).To(BeNumerically("~", 42000.0/74200, 1e-12))
			Expect(snap.CashWeight()).To(BeNumerically("~", 8000.0/74200, 1e-12))

			var sum float64
			for _, w := range weights {
				sum += w
			}
			Expect(sum).To(BeNumerically("~", 1.0, 1e-12))
		})

		It("lists tickers in lexical order", func() {
			Expect(snap.Tickers()).To(Equal([]string{"AAPL", "BND", "MSFT"}))
		})

		It("keeps securities in covariance order", func() {
			secs := snap.Securities()
			Expect(secs[0].Ticker).To(Equal("AAPL"))
			Expect(secs[1].Ticker).To(Equal("MSFT"))
			Expect(secs[2].Ticker).To(Equal("BND"))
		})

		It("returns copies of its positions", func() {
			pos, ok := snap.Position("AAPL")
			Expect(ok).To(BeTrue())
			pos.Quantity = 1_000_000
			Expect(snap.TotalValue()).To(BeNumerically("~", 74200, 1e-9))
		})

		It("does not alias the caller's positions", func() {
			positions := referencePositions()
			snap = mustSnapshot(positions, referenceCovariance())
			positions[0].Quantity = 0
			Expect(snap.Weight("AAPL")).To(BeNumerically(">", 0))
		})

		It("reports tracking error relative to target weights", func() {
			Expect(snap.TrackingError()).To(BeNumerically(">", 0))
		})

		It("synthesizes a lot from the position when none are given", func() {
			pos, _ := snap.Position("BND")
			Expect(pos.Lots).To(HaveLen(1))
			Expect(pos.Lots[0].Shares).To(Equal(600.0))
			Expect(pos.Lots[0].PricePerShare).To(Equal(75.0))
		})
	})

	Describe("lots", func() {
		It("derives the cost basis from the lots when none is given", func() {
			positions := []*portfolio.Position{
				{
					Ticker: "VTI", TargetWeight: 0.9, Quantity: 20, Price: 100,
					Lots: []*portfolio.TaxLot{
						{Date: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), Shares: 10, PricePerShare: 80},
						{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Shares: 10, PricePerShare: 50},
					},
				},
				cash(0.1, 100),
			}
			snap := mustSnapshot(positions, diagonal(0.04))
			pos, _ := snap.Position("VTI")
			Expect(pos.CostBasis).To(BeNumerically("~", 65, 1e-12))

			// oldest first
			Expect(pos.Lots[0].PricePerShare).To(Equal(50.0))
			Expect(pos.UnrealizedGain()).To(BeNumerically("~", 700, 1e-9))
		})
	})

	Describe("applying trades", func() {
		var snap *portfolio.Snapshot

		BeforeEach(func() {
			positions := []*portfolio.Position{
				{
					Ticker: "VTI", TargetWeight: 0.5, Quantity: 20, Price: 100,
					Lots: []*portfolio.TaxLot{
						{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Shares: 10, PricePerShare: 50},
						{Date: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), Shares: 10, PricePerShare: 80},
					},
				},
				security("BND", 0.4, 10, 90, 100),
				cash(0.1, 1000),
			}
			snap = mustSnapshot(positions, diagonal(0.04, 0.01))
		})

		It("closes lots first-in first-out on a sell", func() {
			next, err := snap.Apply([]*portfolio.Trade{
				{Ticker: "VTI", Action: portfolio.SellTransaction, Shares: 15, DollarAmount: 1500},
			}, asOf)
			Expect(err).NotTo(HaveOccurred())

			pos, _ := next.Position("VTI")
			Expect(pos.Quantity).To(BeNumerically("~", 5, 1e-12))
			Expect(pos.Lots).To(HaveLen(1))
			Expect(pos.Lots[0].PricePerShare).To(Equal(80.0))
			Expect(pos.CostBasis).To(BeNumerically("~", 80, 1e-12))
			Expect(next.Cash().Quantity).To(BeNumerically("~", 2500, 1e-9))
		})

		It("opens a new lot on a buy", func() {
			next, err := snap.Apply([]*portfolio.Trade{
				{Ticker: "BND", Action: portfolio.BuyTransaction, Shares: 5, DollarAmount: 500},
			}, asOf)
			Expect(err).NotTo(HaveOccurred())

			pos, _ := next.Position("BND")
			Expect(pos.Quantity).To(BeNumerically("~", 15, 1e-12))
			Expect(pos.Lots).To(HaveLen(2))
			Expect(pos.Lots[1].Date).To(Equal(asOf))
			Expect(pos.CostBasis).To(BeNumerically("~", (900.0+500.0)/15, 1e-12))
			Expect(next.Cash().Quantity).To(BeNumerically("~", 500, 1e-9))
		})

		It("never modifies the receiver", func() {
			_, err := snap.Apply([]*portfolio.Trade{
				{Ticker: "VTI", Action: portfolio.SellTransaction, Shares: 20, DollarAmount: 2000},
			}, asOf)
			Expect(err).NotTo(HaveOccurred())

			pos, _ := snap.Position("VTI")
			Expect(pos.Quantity).To(Equal(20.0))
			Expect(pos.Lots).To(HaveLen(2))
			Expect(snap.Cash().Quantity).To(Equal(1000.0))
		})

		It("refuses to oversell", func() {
			_, err := snap.Apply([]*portfolio.Trade{
				{Ticker: "VTI", Action: portfolio.SellTransaction, Shares: 21, DollarAmount: 2100},
			}, asOf)
			Expect(err).To(HaveOccurred())
		})

		It("refuses to spend more cash than is held", func() {
			_, err := snap.Apply([]*portfolio.Trade{
				{Ticker: "BND", Action: portfolio.BuyTransaction, Shares: 20, DollarAmount: 2000},
			}, asOf)
			Expect(err).To(HaveOccurred())
		})

		It("rejects unknown tickers", func() {
			_, err := snap.Apply([]*portfolio.Trade{
				{Ticker: "QQQ", Action: portfolio.BuyTransaction, Shares: 1, DollarAmount: 100},
			}, asOf)
			Expect(errors.Is(err, portfolio.ErrValidation)).To(BeTrue())
		})
	})
})
