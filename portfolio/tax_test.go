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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-rebalance/portfolio"
)

var _ = Describe("TaxEstimator", func() {
	var (
		cfg portfolio.Config
		est *portfolio.TaxEstimator
		pos *portfolio.Position
	)

	BeforeEach(func() {
		cfg = testConfig()
		est = portfolio.NewTaxEstimator(cfg, asOf)

		pos = &portfolio.Position{
			Ticker:    "VTI",
			Quantity:  20,
			CostBasis: 65,
			Price:     100,
			Lots: []*portfolio.TaxLot{
				{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Shares: 10, PricePerShare: 50},
				{Date: time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC), Shares: 10, PricePerShare: 80},
			},
		}
	})

	Describe("holding period", func() {
		It("treats a lot held exactly the holding period as long term", func() {
			lot := &portfolio.TaxLot{Date: asOf.AddDate(0, 0, -365)}
			Expect(est.Disposition(lot)).To(Equal(portfolio.LTC))
		})

		It("treats a lot held one day less as short term", func() {
			lot := &portfolio.TaxLot{Date: asOf.AddDate(0, 0, -364)}
			Expect(est.Disposition(lot)).To(Equal(portfolio.STC))
		})

		It("treats an undated lot as long term", func() {
			Expect(est.Disposition(&portfolio.TaxLot{})).To(Equal(portfolio.LTC))
		})

		It("honors a custom holding period", func() {
			cfg.LongTermHoldingDays = 30
			est = portfolio.NewTaxEstimator(cfg, asOf)
			Expect(est.Disposition(&portfolio.TaxLot{Date: asOf.AddDate(0, 0, -31)})).To(Equal(portfolio.LTC))
		})
	})

	Describe("tax per dollar", func() {
		It("is the rate times the gain per dollar", func() {
			p := &portfolio.Position{Ticker: "VTI", Price: 200, CostBasis: 150, Lots: []*portfolio.TaxLot{{Shares: 1, PricePerShare: 150}}}
			Expect(est.TaxPerDollar(p)).To(BeNumerically("~", 0.15*0.25, 1e-12))
		})

		It("uses the short-term rate for recently acquired lots", func() {
			p := &portfolio.Position{Ticker: "VTI", Price: 200, CostBasis: 150, Lots: []*portfolio.TaxLot{{Date: asOf.AddDate(0, -1, 0), Shares: 1, PricePerShare: 150}}}
			Expect(est.TaxPerDollar(p)).To(BeNumerically("~", 0.22*0.25, 1e-12))
		})

		It("is zero for a position at a loss", func() {
			p := &portfolio.Position{Ticker: "VTI", Price: 100, CostBasis: 150}
			Expect(est.TaxPerDollar(p)).To(Equal(0.0))
		})
	})

	Describe("estimating a sale", func() {
		It("links shares to lots first-in first-out", func() {
			sale := est.EstimateSale(pos, 15)
			Expect(sale.Proceeds).To(BeNumerically("~", 1500, 1e-9))
			Expect(sale.LongTermGain).To(BeNumerically("~", 500, 1e-9))
			Expect(sale.ShortTermGain).To(BeNumerically("~", 100, 1e-9))
			Expect(sale.RealizedGain).To(BeNumerically("~", 600, 1e-9))
			Expect(sale.RawTax).To(BeNumerically("~", 0.15*500+0.22*100, 1e-9))
		})

		It("adds the net investment income and state surcharges", func() {
			cfg.Rates.NetInvestmentIncome = 0.038
			cfg.Rates.State = 0.05
			est = portfolio.NewTaxEstimator(cfg, asOf)

			sale := est.EstimateSale(pos, 15)
			Expect(sale.RawTax).To(BeNumerically("~", 0.238*500+0.308*100, 1e-9))
		})

		It("never produces negative tax on a loss", func() {
			pos.Price = 40
			sale := est.EstimateSale(pos, 20)
			Expect(sale.RealizedGain).To(BeNumerically("~", -10*10-10*40, 1e-9))
			Expect(sale.RawTax).To(Equal(0.0))
		})

		It("does not offset short-term gains with long-term losses", func() {
			pos.Price = 60
			pos.Lots[1].PricePerShare = 55

			sale := est.EstimateSale(pos, 20)
			Expect(sale.LongTermGain).To(BeNumerically("~", 100, 1e-9))
			Expect(sale.ShortTermGain).To(BeNumerically("~", 50, 1e-9))

			pos.Lots[0].PricePerShare = 70
			sale = est.EstimateSale(pos, 20)
			Expect(sale.LongTermGain).To(BeNumerically("~", -100, 1e-9))
			Expect(sale.RawTax).To(BeNumerically("~", 0.22*50, 1e-9))
		})

		It("does not modify the lots of the position", func() {
			est.EstimateSale(pos, 15)
			Expect(pos.Lots).To(HaveLen(2))
			Expect(pos.Lots[0].Shares).To(Equal(10.0))
		})
	})

	Describe("soft tax cap", func() {
		BeforeEach(func() {
			cfg.SoftTaxCap = 100
			cfg.TaxPenaltyExponent = 2
			est = portfolio.NewTaxEstimator(cfg, asOf)
		})

		It("charges raw tax below the cap", func() {
			cost, penalty := est.Charge(80)
			Expect(cost).To(BeNumerically("~", 80, 1e-12))
			Expect(penalty).To(Equal(0.0))
		})

		It("penalizes tax above the cap", func() {
			// 150 + 100 * (50/100)^2
			cost, penalty := est.Charge(150)
			Expect(cost).To(BeNumerically("~", 175, 1e-9))
			Expect(penalty).To(BeNumerically("~", 25, 1e-9))
			Expect(est.Cumulative()).To(BeNumerically("~", 150, 1e-12))
		})

		It("makes each further dollar of tax more expensive", func() {
			first := est.Quote(50)
			est.Charge(50)
			second := est.Quote(50)
			est.Charge(50)
			third := est.Quote(50)

			Expect(first).To(BeNumerically("~", 50, 1e-9))
			Expect(second).To(BeNumerically("~", 50, 1e-9))
			Expect(third).To(BeNumerically("~", 75, 1e-9))
			Expect(third).To(BeNumerically(">", second))
		})

		It("does not charge when quoting", func() {
			est.Quote(500)
			Expect(est.Cumulative()).To(Equal(0.0))
		})

		It("starts over after a reset", func() {
			est.Charge(500)
			est.Reset()
			Expect(est.Cumulative()).To(Equal(0.0))
			Expect(est.Quote(50)).To(BeNumerically("~", 50, 1e-9))
		})
	})
})
