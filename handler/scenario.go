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


package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/penny-vault/pv-rebalance/observability/opentelemetry"
	"github.com/penny-vault/pv-rebalance/scenario"
)

// ListScenarios returns a summary of every built-in scenario
func ListScenarios(c *fiber.Ctx) error {
	return c.JSON(scenario.List())
}

// RunScenario rebalances the named built-in scenario
func RunScenario(c *fiber.Ctx) error {
	name := c.Params("name")

	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.UserContext(), "handler.RunScenario",
		trace.WithAttributes(opentelemetry.SpanAttributesFromFiber(c)...),
		trace.WithAttributes(attribute.String("scenario", name)))
	defer span.End()

	req, err := scenario.Load(name)
	if errors.Is(err, scenario.ErrUnknownScenario) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	return respond(ctx, c, req)
}
