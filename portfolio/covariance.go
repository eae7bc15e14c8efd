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
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	symmetryTolerance = 1e-9
	psdTolerance      = 1e-9
)

// CovarianceMatrix is the risk model used to measure tracking error. Rows
// and columns are indexed by the non-cash securities in the order they were
// supplied. Cash carries no variance and is not part of the matrix.
type CovarianceMatrix struct {
	sym *mat.SymDense
}

// NewCovarianceMatrix validates rows and builds a covariance matrix from them
func NewCovarianceMatrix(rows [][]float64) (*CovarianceMatrix, error) {
	n := len(rows)
	if n == 0 {
		return nil, invalid("cov_matrix", "0x0", ErrCovarianceShape)
	}

	maxAbs := 0.0
	for ii, row := range rows {
		if len(row) != n {
			return nil, invalid(fmt.Sprintf("cov_matrix[%d]", ii), fmt.Sprintf("%d columns, want %d", len(row), n), ErrCovarianceShape)
		}
		for jj, val := range row {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return nil, invalid(fmt.Sprintf("cov_matrix[%d][%d]", ii, jj), val, ErrNotFinite)
			}
			maxAbs = math.Max(maxAbs, math.Abs(val))
		}
	}

	scale := math.Max(1, maxAbs)
	data := make([]float64, n*n)
	for ii := 0; ii < n; ii++ {
		for jj := 0; jj < n; jj++ {
			if math.Abs(rows[ii][jj]-rows[jj][ii]) > symmetryTolerance*scale {
				return nil, invalid(fmt.Sprintf("cov_matrix[%d][%d]", ii, jj), rows[ii][jj], ErrCovarianceAsymmetric)
			}
			data[ii*n+jj] = rows[ii][jj]
		}
	}

	sym := mat.NewSymDense(n, data)

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return nil, invalid("cov_matrix", "eigen decomposition failed", ErrCovarianceNotPSD)
	}
	for _, val := range eig.Values(nil) {
		if val < -psdTolerance*scale {
			return nil, invalid("cov_matrix", fmt.Sprintf("eigenvalue %g", val), ErrCovarianceNotPSD)
		}
	}

	return &CovarianceMatrix{sym: sym}, nil
}

// Dim returns the number of securities covered by the matrix
func (c *CovarianceMatrix) Dim() int {
	return c.sym.Symmetric()
}

// At returns the covariance between securities i and j
func (c *CovarianceMatrix) At(i, j int) float64 {
	return c.sym.At(i, j)
}

// Rows returns a copy of the matrix as a slice of rows
func (c *CovarianceMatrix) Rows() [][]float64 {
	n := c.Dim()
	rows := make([][]float64, n)
	for ii := range rows {
		rows[ii] = make([]float64, n)
		for jj := range rows[ii] {
			rows[ii][jj] = c.sym.At(ii, jj)
		}
	}
	return rows
}

func (c *CovarianceMatrix) deviation(actual, target []float64) *mat.VecDense {
	n := c.Dim()
	if len(actual) != n || len(target) != n {
		panic(fmt.Sprintf("weight vectors of length %d/%d do not match covariance dimension %d", len(actual), len(target), n))
	}
	diff := make([]float64, n)
	for ii := range diff {
		diff[ii] = actual[ii] - target[ii]
	}
	return mat.NewVecDense(n, diff)
}

// TrackingErrorSquared evaluates (actual - target)ᵀ Σ (actual - target).
// Weights are fractions of total portfolio value with cash excluded from the
// vectors.
func (c *CovarianceMatrix) TrackingErrorSquared(actual, target []float64) float64 {
	d := c.deviation(actual, target)
	te2 := mat.Inner(d, c.sym, d)

	// a PSD matrix cannot produce a negative quadratic form; anything below
	// zero is round-off
	if te2 < 0 {
		return 0
	}
	return te2
}

// TrackingError is the square root of TrackingErrorSquared
func (c *CovarianceMatrix) TrackingError(actual, target []float64) float64 {
	return math.Sqrt(c.TrackingErrorSquared(actual, target))
}

// Gradient returns Σ (actual - target), half the derivative of the squared
// tracking error with respect to each weight
func (c *CovarianceMatrix) Gradient(actual, target []float64) []float64 {
	d := c.deviation(actual, target)
	var g mat.VecDense
	g.MulVec(c.sym, d)
	out := make([]float64, c.Dim())
	for ii := range out {
		out[ii] = g.AtVec(ii)
	}
	return out
}
