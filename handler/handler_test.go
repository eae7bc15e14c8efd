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


package handler_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-rebalance/handler"
	"github.com/penny-vault/pv-rebalance/middleware"
	"github.com/penny-vault/pv-rebalance/portfolio"
	"github.com/penny-vault/pv-rebalance/router"
)

func referenceRequest() *portfolio.Request {
	asOf := "2023-01-03"
	return &portfolio.Request{
		Positions: []*portfolio.PositionSpec{
			{Ticker: "AAPL", TargetWeight: 0.20, Quantity: 50, CostBasis: 130, Price: 180},
			{Ticker: "MSFT", TargetWeight: 0.25, Quantity: 40, CostBasis: 250, Price: 380},
			{Ticker: "BND", TargetWeight: 0.51, Quantity: 600, CostBasis: 75, Price: 70},
			{Ticker: "CASH", TargetWeight: 0.04, Quantity: 8000, CostBasis: 1, Price: 1},
		},
		Covariance: [][]float64{
			{0.04, 0.01, 0.00},
			{0.01, 0.03, 0.00},
			{0.00, 0.00, 0.01},
		},
		Config: &portfolio.ConfigSpec{AsOf: &asOf},
	}
}

func post(app *fiber.App, body []byte) (*http.Response, []byte) {
	req := httptest.NewRequest(fiber.MethodPost, "/v1/rebalance", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, data
}

func get(app *fiber.App, path string) (*http.Response, []byte) {
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil), -1)
	Expect(err).NotTo(HaveOccurred())
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, data
}

func encode(req *portfolio.Request) []byte {
	data, err := json.Marshal(req)
	Expect(err).NotTo(HaveOccurred())
	return data
}

var _ = Describe("Handler", func() {
	var app *fiber.App

	BeforeEach(func() {
		app = router.New()
	})

	It("says hello", func() {
		resp, data := get(app, "/v1/")
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

		hello := handler.HelloResponse{}
		Expect(json.Unmarshal(data, &hello)).To(Succeed())
		Expect(hello.Name).To(Equal("pvrebalance"))
		Expect(hello.Version).NotTo(BeEmpty())
	})

	It("tags responses with a request id", func() {
		resp, _ := get(app, "/v1/")
		Expect(resp.Header.Get(middleware.HeaderRequestID)).To(HaveLen(36))
	})

	Describe("POST /v1/rebalance", func() {
		It("returns the trades for the request", func() {
			resp, data := post(app, encode(referenceRequest()))
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			result := portfolio.Result{}
			Expect(json.Unmarshal(data, &result)).To(Succeed())
			Expect(result.Trades).To(HaveLen(3))
			Expect(result.Trades[0].Ticker).To(Equal("BND"))
			Expect(result.Trades[0].DollarAmount).To(BeNumerically("~", 4158, 1e-6))
			Expect(result.PostAllocation["CASH"]).To(BeNumerically("~", 0.04, 1e-9))
		})

		It("serves repeated requests from the cache", func() {
			req := referenceRequest()
			taxWeight := 0.37
			req.Config.TaxWeight = &taxWeight
			body := encode(req)

			first, firstData := post(app, body)
			Expect(first.StatusCode).To(Equal(fiber.StatusOK))
			Expect(first.Header.Get(handler.HeaderCache)).To(Equal(handler.CacheMiss))

			second, secondData := post(app, body)
			Expect(second.StatusCode).To(Equal(fiber.StatusOK))
			Expect(second.Header.Get(handler.HeaderCache)).To(Equal(handler.CacheHit))
			Expect(secondData).To(Equal(firstData))
		})

		It("rejects malformed bodies", func() {
			resp, data := post(app, []byte(`{"positions": [`))
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
			Expect(string(data)).To(ContainSubstring(`"error"`))
		})

		It("rejects target weights that do not sum to one", func() {
			req := referenceRequest()
			req.Positions[0].TargetWeight = 0.5
			resp, data := post(app, encode(req))
			Expect(resp.StatusCode).To(Equal(fiber.StatusUnprocessableEntity))
			Expect(string(data)).To(ContainSubstring("target_weight"))
		})

		It("rejects a covariance matrix of the wrong shape", func() {
			req := referenceRequest()
			req.Covariance = req.Covariance[:2]
			resp, _ := post(app, encode(req))
			Expect(resp.StatusCode).To(Equal(fiber.StatusUnprocessableEntity))
		})

		It("rejects out of range settings", func() {
			req := referenceRequest()
			rate := 1.5
			req.Config.LongTermRate = &rate
			resp, _ := post(app, encode(req))
			Expect(resp.StatusCode).To(Equal(fiber.StatusUnprocessableEntity))
		})
	})

	Describe("scenarios", func() {
		It("lists the built-in scenarios", func() {
			resp, data := get(app, "/v1/scenario")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			var summaries []map[string]interface{}
			Expect(json.Unmarshal(data, &summaries)).To(Succeed())
			Expect(summaries).To(HaveLen(5))
		})

		It("runs a scenario by name", func() {
			resp, data := get(app, "/v1/scenario/new-investor")
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			result := portfolio.Result{}
			Expect(json.Unmarshal(data, &result)).To(Succeed())
			Expect(result.Trades).To(HaveLen(3))
		})

		It("returns not found for unknown scenarios", func() {
			resp, _ := get(app, "/v1/scenario/day-trader")
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})
})
