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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-rebalance/portfolio"
	"github.com/penny-vault/pv-rebalance/scenario"
)

var showFormat string

func init() {
	addRebalanceFlags(scenarioRunCmd.Flags())

	scenarioCmd.AddCommand(scenarioListCmd)
	scenarioCmd.AddCommand(scenarioRunCmd)

	scenarioShowCmd.Flags().StringVar(&showFormat, "format", portfolio.FormatTOML, "output format: json or toml")
	scenarioCmd.AddCommand(scenarioShowCmd)
	rootCmd.AddCommand(scenarioCmd)
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Built-in demo portfolios",
}

var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in scenarios",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sb := &strings.Builder{}
		table := tablewriter.NewWriter(sb)
		table.SetHeader([]string{"Name", "Positions", "Description"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)

		for _, summary := range scenario.List() {
			table.Append([]string{summary.Name, strconv.Itoa(summary.NumPositions), summary.Description})
		}

		table.Render()
		fmt.Print(sb.String())
	},
}

var scenarioRunCmd = &cobra.Command{
	Use:   "run [flags] NAME",
	Short: "Rebalance a built-in scenario",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req, err := scenario.Load(args[0])
		if err != nil {
			log.Fatal().Err(err).Strs("Available", scenario.Names()).Msg("could not load scenario")
		}

		if err := runRequest(cmd.Context(), os.Stdout, cmd.Flags(), req); err != nil {
			log.Fatal().Err(err).Str("Scenario", args[0]).Msg("rebalance failed")
		}
	},
}

var scenarioShowCmd = &cobra.Command{
	Use:   "show [flags] NAME",
	Short: "Print a built-in scenario as a request file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req, err := scenario.Load(args[0])
		if err != nil {
			log.Fatal().Err(err).Strs("Available", scenario.Names()).Msg("could not load scenario")
		}

		if err := req.Encode(os.Stdout, showFormat); err != nil {
			log.Fatal().Err(err).Str("Format", showFormat).Msg("could not encode scenario")
		}
	},
}
