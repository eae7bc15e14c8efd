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
	"bytes"
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/penny-vault/pv-rebalance/common"
	"github.com/penny-vault/pv-rebalance/middleware"
	"github.com/penny-vault/pv-rebalance/observability/opentelemetry"
	"github.com/penny-vault/pv-rebalance/portfolio"
)

const (
	HeaderCache = "X-Cache"
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
)

// Rebalance runs the rebalance described by the JSON request body
func Rebalance(c *fiber.Ctx) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(c.UserContext(), "handler.Rebalance",
		trace.WithAttributes(opentelemetry.SpanAttributesFromFiber(c)...))
	defer span.End()

	req, err := portfolio.DecodeRequest(bytes.NewReader(c.Body()), portfolio.FormatJSON)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "could not decode request")
		log.Warn().Err(err).Str("RequestID", middleware.RequestID(c)).Msg("could not decode rebalance request")
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return respond(ctx, c, req)
}

// respond rebalances req and writes the result, consulting the result cache
// when it is configured
func respond(ctx context.Context, c *fiber.Ctx, req *portfolio.Request) error {
	span := trace.SpanFromContext(ctx)
	rid := middleware.RequestID(c)

	base, err := common.RebalanceConfig()
	if err != nil {
		log.Error().Err(err).Str("RequestID", rid).Msg("server rebalance configuration is invalid")
		return fiber.ErrInternalServerError
	}

	cfg, err := req.ApplyTo(base)
	if err != nil {
		return translateError(span, rid, err)
	}

	cache := common.Cache()
	key := req.Digest(cfg)
	span.SetAttributes(attribute.String("request.digest", key))

	if cache != nil && key != "" {
		data, err := cache.Get(ctx, key)
		switch {
		case err == nil:
			c.Set(HeaderCache, CacheHit)
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(data)
		case !errors.Is(err, common.ErrCacheMiss):
			log.Warn().Err(err).Str("RequestID", rid).Str("Key", key).Msg("result cache lookup failed")
		}
	}

	snap, err := req.Snapshot()
	if err != nil {
		return translateError(span, rid, err)
	}

	rebalancer, err := portfolio.NewRebalancer(cfg)
	if err != nil {
		return translateError(span, rid, err)
	}

	result, err := rebalancer.Rebalance(ctx, snap)
	if err != nil {
		return translateError(span, rid, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Error().Stack().Err(err).Str("RequestID", rid).Msg("could not serialize rebalance result")
		return fiber.ErrInternalServerError
	}

	if cache != nil && key != "" {
		if err := cache.Set(ctx, key, data); err != nil {
			log.Warn().Err(err).Str("RequestID", rid).Str("Key", key).Msg("could not store rebalance result")
		}
	}

	c.Set(HeaderCache, CacheMiss)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

// translateError maps engine errors onto HTTP status codes
func translateError(span trace.Span, rid string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, portfolio.ErrValidation) || errors.Is(err, portfolio.ErrNonPositiveValue) {
		log.Warn().Err(err).Str("RequestID", rid).Msg("rejected rebalance request")
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	log.Error().Stack().Err(err).Str("RequestID", rid).Msg("rebalance failed")
	return fiber.ErrInternalServerError
}
