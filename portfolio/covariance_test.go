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
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/pv-rebalance/portfolio"
)

var _ = Describe("CovarianceMatrix", func() {
	Context("when constructed", func() {
		DescribeTable("rejects invalid matrices",
			func(rows [][]float64, expected error) {
				_, err := portfolio.NewCovarianceMatrix(rows)
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, expected)).To(BeTrue(), err.Error())
				Expect(errors.Is(err, portfolio.ErrValidation)).To(BeTrue())
			},
			Entry("empty", [][]float64{}, portfolio.ErrCovarianceShape),
			Entry("non-square", [][]float64{{0.04, 0.01}, {0.01}}, portfolio.ErrCovarianceShape),
			Entry("asymmetric", [][]float64{{0.04, 0.02}, {0.01, 0.03}}, portfolio.ErrCovarianceAsymmetric),
			Entry("not positive semi-definite", [][]float64{{1, 2}, {2, 1}}, portfolio.ErrCovarianceNotPSD),
			Entry("NaN entry", [][]float64{{math.NaN()}}, portfolio.ErrNotFinite),
		)

		It("accepts a singular but positive semi-definite matrix", func() {
			cov, err := portfolio.NewCovarianceMatrix([][]float64{{1, 1}, {1, 1}})
			Expect(err).NotTo(HaveOccurred())
			Expect(cov.Dim()).To(Equal(2))
		})

		It("copies the input rows", func() {
			rows := [][]float64{{0.04, 0.01}, {0.01, 0.03}}
			cov, err := portfolio.NewCovarianceMatrix(rows)
			Expect(err).NotTo(HaveOccurred())
			rows[0][0] = 100
			Expect(cov.At(0, 0)).To(Equal(0.04))
			Expect(cov.Rows()).To(Equal([][]float64{{0.04, 0.01}, {0.01, 0.03}}))
		})
	})

	Context("tracking error", func() {
		var cov *portfolio.CovarianceMatrix

		BeforeEach(func() {
			cov = mustCovariance(referenceCovariance())
		})

		It("is zero when actual equals target", func() {
			w := []float64{0.2, 0.25, 0.51}
			Expect(cov.TrackingErrorSquared(w, w)).To(Equal(0.0))
			Expect(cov.TrackingError(w, w)).To(Equal(0.0))
		})

		It("evaluates the quadratic form of the deviation", func() {
			actual := []float64{0.3, 0.25, 0.41}
			target := []float64{0.2, 0.25, 0.51}

			// d = [0.1, 0, -0.1]: 0.04*0.01 + 0.01*0.01
			Expect(cov.TrackingErrorSquared(actual, target)).To(BeNumerically("~", 0.0005, 1e-12))
			Expect(cov.TrackingError(actual, target)).To(BeNumerically("~", math.Sqrt(0.0005), 1e-12))
		})

		It("includes covariance between securities", func() {
			actual := []float64{0.3, 0.35, 0.51}
			target := []float64{0.2, 0.25, 0.51}

			// d = [0.1, 0.1, 0]: 0.04*0.01 + 2*0.01*0.01 + 0.03*0.01
			Expect(cov.TrackingErrorSquared(actual, target)).To(BeNumerically("~", 0.0009, 1e-12))
		})

		It("returns the covariance weighted deviation as the gradient", func() {
			actual := []float64{0.3, 0.25, 0.41}
			target := []float64{0.2, 0.25, 0.51}

			grad := cov.Gradient(actual, target)
			Expect(grad).To(HaveLen(3))
			Expect(grad[0]).To(BeNumerically("~", 0.004, 1e-12))
			Expect(grad[1]).To(BeNumerically("~", 0.001, 1e-12))
			Expect(grad[2]).To(BeNumerically("~", -0.001, 1e-12))
		})

		It("panics when the weight vector does not match the matrix", func() {
			Expect(func() { cov.TrackingError([]float64{0.5}, []float64{0.5}) }).To(Panic())
		})
	})
})
