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
)

const (
	DefaultTaxWeight           = 1.0
	DefaultLongTermRate        = 0.15
	DefaultShortTermRate       = 0.22
	DefaultMinCashPct          = 0.02
	DefaultTaxPenaltyExponent  = 2.0
	DefaultLongTermHoldingDays = 365
	DefaultDustThreshold       = 0.005
)

// TaxRates holds capital gains rates. NetInvestmentIncome and State are
// surcharges added to both the long-term and short-term rate.
type TaxRates struct {
	LongTerm            float64 `json:"long_term" toml:"long_term"`
	ShortTerm           float64 `json:"short_term" toml:"short_term"`
	NetInvestmentIncome float64 `json:"net_investment_income" toml:"net_investment_income"`
	State               float64 `json:"state" toml:"state"`
}

// EffectiveLongTerm is the all-in rate applied to long-term gains
func (r TaxRates) EffectiveLongTerm() float64 {
	return r.LongTerm + r.NetInvestmentIncome + r.State
}

// EffectiveShortTerm is the all-in rate applied to short-term gains
func (r TaxRates) EffectiveShortTerm() float64 {
	return r.ShortTerm + r.NetInvestmentIncome + r.State
}

// Config controls a single rebalance
type Config struct {
	// TaxWeight scales the tax penalty relative to tracking error
	TaxWeight float64
	Rates     TaxRates

	// IntegerShares rounds every trade down to whole shares
	IntegerShares bool

	// MinCashPct is the hard cash floor as a fraction of portfolio value
	MinCashPct float64

	// MaxCashPct, when positive, flags results that end with more cash than
	// this fraction of portfolio value
	MaxCashPct float64

	// SoftTaxCap is the cumulative tax (in dollars) above which each further
	// dollar of tax is penalized. Zero disables the cap.
	SoftTaxCap         float64
	TaxPenaltyExponent float64

	LongTermHoldingDays int

	// DustThreshold is the smallest trade (in dollars) that is emitted
	DustThreshold float64

	// AsOf is the date used to classify lots as long or short term. The zero
	// value means the time the rebalance runs.
	AsOf time.Time
}

// DefaultConfig returns the configuration used when the caller does not
// override a setting
func DefaultConfig() Config {
	return Config{
		TaxWeight: DefaultTaxWeight,
		Rates: TaxRates{
			LongTerm:  DefaultLongTermRate,
			ShortTerm: DefaultShortTermRate,
		},
		MinCashPct:          DefaultMinCashPct,
		TaxPenaltyExponent:  DefaultTaxPenaltyExponent,
		LongTermHoldingDays: DefaultLongTermHoldingDays,
		DustThreshold:       DefaultDustThreshold,
	}
}

// Validate checks every setting is within its allowed range
func (cfg Config) Validate() error {
	checks := []struct {
		field    string
		value    float64
		min, max float64
	}{
		{"tax_weight", cfg.TaxWeight, 0, math.Inf(1)},
		{"ltcg_rate", cfg.Rates.LongTerm, 0, 1},
		{"short_term_rate", cfg.Rates.ShortTerm, 0, 1},
		{"niit_rate", cfg.Rates.NetInvestmentIncome, 0, 1},
		{"state_tax_rate", cfg.Rates.State, 0, 1},
		{"min_cash_pct", cfg.MinCashPct, 0, 1},
		{"max_cash_pct", cfg.MaxCashPct, 0, 1},
		{"soft_tax_cap", cfg.SoftTaxCap, 0, math.Inf(1)},
		{"dust_threshold", cfg.DustThreshold, 0, math.Inf(1)},
	}

	for _, c := range checks {
		if math.IsNaN(c.value) || c.value < c.min || c.value > c.max {
			return invalid(c.field, c.value, ErrInvalidConfig)
		}
	}

	if cfg.SoftTaxCap > 0 && (math.IsNaN(cfg.TaxPenaltyExponent) || cfg.TaxPenaltyExponent <= 1) {
		return invalid("tax_penalty_exponent", cfg.TaxPenaltyExponent, ErrInvalidConfig)
	}

	if cfg.LongTermHoldingDays < 0 {
		return invalid("long_term_holding_days", cfg.LongTermHoldingDays, ErrInvalidConfig)
	}

	if cfg.MaxCashPct > 0 && cfg.MaxCashPct < cfg.MinCashPct {
		return invalid("max_cash_pct", cfg.MaxCashPct, ErrInvalidConfig)
	}

	return nil
}

func (cfg Config) asOf() time.Time {
	if cfg.AsOf.IsZero() {
		return time.Now()
	}
	return cfg.AsOf
}
