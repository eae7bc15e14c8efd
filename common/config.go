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


package common

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/penny-vault/pv-rebalance/portfolio"
)

const dateLayout = "2006-01-02"

// SetConfigDefaults registers defaults for every rebalance.* key
func SetConfigDefaults() {
	def := portfolio.DefaultConfig()

	viper.SetDefault("rebalance.tax_weight", def.TaxWeight)
	viper.SetDefault("rebalance.ltcg_rate", def.Rates.LongTerm)
	viper.SetDefault("rebalance.short_term_rate", def.Rates.ShortTerm)
	viper.SetDefault("rebalance.niit_rate", def.Rates.NetInvestmentIncome)
	viper.SetDefault("rebalance.state_tax_rate", def.Rates.State)
	viper.SetDefault("rebalance.integer_shares", def.IntegerShares)
	viper.SetDefault("rebalance.min_cash_pct", def.MinCashPct)
	viper.SetDefault("rebalance.max_cash_pct", def.MaxCashPct)
	viper.SetDefault("rebalance.soft_tax_cap", def.SoftTaxCap)
	viper.SetDefault("rebalance.tax_penalty_exponent", def.TaxPenaltyExponent)
	viper.SetDefault("rebalance.long_term_holding_days", def.LongTermHoldingDays)
	viper.SetDefault("rebalance.dust_threshold", def.DustThreshold)
	viper.SetDefault("rebalance.as_of", "")

	viper.SetDefault("log.level", "warning")
	viper.SetDefault("log.output", "stderr")

	viper.SetDefault("cache.local_size", DefaultCacheSize)
	viper.SetDefault("cache.ttl", int(DefaultCacheTTL/time.Second))

	viper.SetDefault("server.port", 3000)
}

// RebalanceConfig builds a validated rebalance configuration from the
// rebalance.* viper keys
func RebalanceConfig() (portfolio.Config, error) {
	cfg := portfolio.Config{
		TaxWeight: viper.GetFloat64("rebalance.tax_weight"),
		Rates: portfolio.TaxRates{
			LongTerm:            viper.GetFloat64("rebalance.ltcg_rate"),
			ShortTerm:           viper.GetFloat64("rebalance.short_term_rate"),
			NetInvestmentIncome: viper.GetFloat64("rebalance.niit_rate"),
			State:               viper.GetFloat64("rebalance.state_tax_rate"),
		},
		IntegerShares:       viper.GetBool("rebalance.integer_shares"),
		MinCashPct:          viper.GetFloat64("rebalance.min_cash_pct"),
		MaxCashPct:          viper.GetFloat64("rebalance.max_cash_pct"),
		SoftTaxCap:          viper.GetFloat64("rebalance.soft_tax_cap"),
		TaxPenaltyExponent:  viper.GetFloat64("rebalance.tax_penalty_exponent"),
		LongTermHoldingDays: viper.GetInt("rebalance.long_term_holding_days"),
		DustThreshold:       viper.GetFloat64("rebalance.dust_threshold"),
	}

	if asOf := viper.GetString("rebalance.as_of"); asOf != "" {
		dt, err := time.Parse(dateLayout, asOf)
		if err != nil {
			return cfg, fmt.Errorf("%w: rebalance.as_of %q", portfolio.ErrInvalidDate, asOf)
		}
		cfg.AsOf = dt
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
