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
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every input validation failure
	ErrValidation = errors.New("invalid rebalance input")

	ErrMissingCash          = errors.New("portfolio has no CASH position")
	ErrDuplicateCash        = errors.New("portfolio has more than one CASH position")
	ErrDuplicateTicker      = errors.New("ticker appears more than once")
	ErrNoSecurities         = errors.New("portfolio has no non-cash securities")
	ErrEmptyTicker          = errors.New("ticker is empty")
	ErrTargetWeightSum      = errors.New("target weights must sum to 1.0")
	ErrNegativeValue        = errors.New("value must not be negative")
	ErrNotFinite            = errors.New("value must be a finite number")
	ErrInvalidPrice         = errors.New("security price must be greater than 0")
	ErrInvalidCashPosition  = errors.New("CASH price and cost basis must equal 1.0")
	ErrCovarianceShape      = errors.New("covariance matrix must be square and sized to the number of securities")
	ErrCovarianceAsymmetric = errors.New("covariance matrix must be symmetric")
	ErrCovarianceNotPSD     = errors.New("covariance matrix must be positive semi-definite")
	ErrLotMismatch          = errors.New("tax lot shares do not match position quantity")
	ErrInvalidConfig        = errors.New("rebalance configuration out of range")
	ErrInvalidDate          = errors.New("date must be formatted as YYYY-MM-DD")
	ErrUnknownFormat        = errors.New("unknown request format")

	// ErrNonPositiveValue is returned when weights cannot be normalized
	ErrNonPositiveValue = errors.New("total portfolio value must be greater than 0")
)

// ValidationError identifies the offending field of a rejected input
type ValidationError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrValidation) match any validation failure
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field string, value interface{}, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Err: err}
}
