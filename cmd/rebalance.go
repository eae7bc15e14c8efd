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


package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/penny-vault/pv-rebalance/common"
	"github.com/penny-vault/pv-rebalance/portfolio"
)

const dateLayout = "2006-01-02"

var outputJSON bool

func init() {
	addRebalanceFlags(rebalanceCmd.Flags())
	rootCmd.AddCommand(rebalanceCmd)
}

// addRebalanceFlags registers the flags that override the rebalance
// configuration. Flags win over the request and the config file.
func addRebalanceFlags(flags *pflag.FlagSet) {
	def := portfolio.DefaultConfig()

	flags.BoolVar(&outputJSON, "json", false, "print the result as JSON")
	flags.Float64("tax-weight", def.TaxWeight, "weight of tax cost relative to tracking error")
	flags.Float64("ltcg-rate", def.Rates.LongTerm, "long-term capital gains rate")
	flags.Float64("stcg-rate", def.Rates.ShortTerm, "short-term capital gains rate")
	flags.Float64("niit-rate", def.Rates.NetInvestmentIncome, "net investment income tax surcharge")
	flags.Float64("state-rate", def.Rates.State, "state tax surcharge")
	flags.Float64("min-cash", def.MinCashPct, "minimum cash as a fraction of portfolio value")
	flags.Float64("max-cash", def.MaxCashPct, "warn when ending cash exceeds this fraction (0 disables)")
	flags.Bool("integer-shares", def.IntegerShares, "trade whole shares only")
	flags.Float64("soft-tax-cap", def.SoftTaxCap, "cumulative tax above which further tax is penalized (0 disables)")
	flags.String("as-of", "", "date used to classify lots as long or short term (YYYY-MM-DD)")
}

// applyFlags overrides cfg with every flag the user set explicitly
func applyFlags(flags *pflag.FlagSet, cfg portfolio.Config) (portfolio.Config, error) {
	floats := map[string]*float64{
		"tax-weight":   &cfg.TaxWeight,
		"ltcg-rate":    &cfg.Rates.LongTerm,
		"stcg-rate":    &cfg.Rates.ShortTerm,
		"niit-rate":    &cfg.Rates.NetInvestmentIncome,
		"state-rate":   &cfg.Rates.State,
		"min-cash":     &cfg.MinCashPct,
		"max-cash":     &cfg.MaxCashPct,
		"soft-tax-cap": &cfg.SoftTaxCap,
	}

	for name, dst := range floats {
		if !flags.Changed(name) {
			continue
		}
		val, err := flags.GetFloat64(name)
		if err != nil {
			return cfg, err
		}
		*dst = val
	}

	if flags.Changed("integer-shares") {
		val, err := flags.GetBool("integer-shares")
		if err != nil {
			return cfg, err
		}
		cfg.IntegerShares = val
	}

	if flags.Changed("as-of") {
		val, err := flags.GetString("as-of")
		if err != nil {
			return cfg, err
		}
		dt, err := time.Parse(dateLayout, val)
		if err != nil {
			return cfg, fmt.Errorf("%w: --as-of %q", portfolio.ErrInvalidDate, val)
		}
		cfg.AsOf = dt
	}

	return cfg, cfg.Validate()
}

// runRequest rebalances req and writes the result to w
func runRequest(ctx context.Context, w io.Writer, flags *pflag.FlagSet, req *portfolio.Request) error {
	base, err := common.RebalanceConfig()
	if err != nil {
		return err
	}

	cfg, err := req.ApplyTo(base)
	if err != nil {
		return err
	}

	cfg, err = applyFlags(flags, cfg)
	if err != nil {
		return err
	}

	snap, err := req.Snapshot()
	if err != nil {
		return err
	}

	rebalancer, err := portfolio.NewRebalancer(cfg)
	if err != nil {
		return err
	}

	result, err := rebalancer.Rebalance(ctx, snap)
	if err != nil {
		return err
	}

	if outputJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if req.Name != "" {
		fmt.Fprintln(w, req.Name)
	}
	if req.Description != "" {
		fmt.Fprintln(w, req.Description)
	}
	if req.Name != "" || req.Description != "" {
		fmt.Fprintln(w)
	}
	_, err = fmt.Fprint(w, result.Table())
	return err
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance [flags] FILE",
	Short: "Rebalance the portfolio described in a JSON or TOML file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req, err := portfolio.LoadRequest(args[0])
		if err != nil {
			log.Fatal().Err(err).Str("File", args[0]).Msg("could not load request")
		}

		if err := runRequest(cmd.Context(), os.Stdout, cmd.Flags(), req); err != nil {
			log.Fatal().Err(err).Str("File", args[0]).Msg("rebalance failed")
		}
	},
}
