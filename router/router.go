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


package router

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-rebalance/handler"
	"github.com/penny-vault/pv-rebalance/middleware"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// New creates the application with middleware and routes installed
func New() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "pvrebalance",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		ErrorHandler:          errorHandler,
	})

	app.Use(middleware.NewRequestID())

	allowOrigins := viper.GetString("server.cors_origins")
	if allowOrigins == "" {
		allowOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "*",
		AllowMethods: "GET,POST,HEAD",
	}))

	app.Use(middleware.NewLogger())

	SetupRoutes(app)
	return app
}

// SetupRoutes setup router api
func SetupRoutes(app *fiber.App) {
	api := app.Group("/v1")
	api.Get("/", handler.Hello)

	api.Post("/rebalance", handler.Rebalance)

	scenario := api.Group("/scenario")
	scenario.Get("/", handler.ListScenarios)
	scenario.Get("/:name", handler.RunScenario)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	return c.Status(code).JSON(errorResponse{
		Error:     err.Error(),
		RequestID: middleware.RequestID(c),
	})
}
