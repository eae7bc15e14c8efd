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
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-rebalance/common"
	"github.com/penny-vault/pv-rebalance/observability/opentelemetry"
	"github.com/penny-vault/pv-rebalance/router"
)

func init() {
	viper.BindEnv("server.port", "PORT")
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	viper.BindEnv("cache.redis_url", "REDIS_URL")
	serveCmd.Flags().String("redis-url", "", "Share cached results through redis at this URL")
	viper.BindPFlag("cache.redis_url", serveCmd.Flags().Lookup("redis-url"))

	viper.BindEnv("otlp.endpoint", "OTLP_ENDPOINT")
	serveCmd.Flags().String("otlp-endpoint", "", "Export traces to this OTLP collector")
	viper.BindPFlag("otlp.endpoint", serveCmd.Flags().Lookup("otlp-endpoint"))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rebalance HTTP service",
	Long:  `Run an HTTP server that rebalances portfolios posted to /v1/rebalance`,
	Run: func(cmd *cobra.Command, args []string) {
		if viper.GetString("cache.redis_url") != "" {
			viper.Set("cache.redis", true)
		}
		if err := common.SetupCache(); err != nil {
			log.Fatal().Err(err).Msg("could not setup result cache")
		}

		if _, err := common.RebalanceConfig(); err != nil {
			log.Fatal().Err(err).Msg("invalid rebalance configuration")
		}

		shutdownTracing, err := opentelemetry.Setup(context.Background(), common.CurrentVersion.String())
		if err != nil {
			log.Fatal().Err(err).Msg("could not setup tracing")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				log.Error().Err(err).Msg("could not flush traces")
			}
		}()

		app := router.New()

		// shutdown cleanly on interrupt
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		go func() {
			sig := <-c
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			if err := app.Shutdown(); err != nil {
				log.Error().Err(err).Msg("could not shutdown server")
			}
		}()

		addr := fmt.Sprintf(":%d", viper.GetInt("server.port"))
		log.Info().Str("Addr", addr).Msg("listening")
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	},
}
