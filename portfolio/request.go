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
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
)

const (
	FormatJSON = "json"
	FormatTOML = "toml"

	dateLayout = "2006-01-02"
)

// LotSpec is a tax lot as supplied by a caller
type LotSpec struct {
	Date          string  `json:"date,omitempty" toml:"date,omitempty"`
	Shares        float64 `json:"shares" toml:"shares"`
	PricePerShare float64 `json:"price_per_share" toml:"price_per_share"`
}

// PositionSpec is a position as supplied by a caller
type PositionSpec struct {
	Ticker       string     `json:"ticker" toml:"ticker"`
	TargetWeight float64    `json:"target_weight" toml:"target_weight"`
	Quantity     float64    `json:"quantity" toml:"quantity"`
	CostBasis    float64    `json:"cost_basis" toml:"cost_basis"`
	Price        float64    `json:"price" toml:"price"`
	AcquiredOn   string     `json:"acquired_on,omitempty" toml:"acquired_on,omitempty"`
	Lots         []*LotSpec `json:"lots,omitempty" toml:"lots,omitempty"`
}

// ConfigSpec overrides individual settings of a base configuration. Nil
// fields keep the base value.
type ConfigSpec struct {
	TaxWeight           *float64 `json:"tax_weight,omitempty" toml:"tax_weight,omitempty"`
	LongTermRate        *float64 `json:"ltcg_rate,omitempty" toml:"ltcg_rate,omitempty"`
	ShortTermRate       *float64 `json:"short_term_rate,omitempty" toml:"short_term_rate,omitempty"`
	NIITRate            *float64 `json:"niit_rate,omitempty" toml:"niit_rate,omitempty"`
	StateTaxRate        *float64 `json:"state_tax_rate,omitempty" toml:"state_tax_rate,omitempty"`
	IntegerShares       *bool    `json:"integer_shares,omitempty" toml:"integer_shares,omitempty"`
	MinCashPct          *float64 `json:"min_cash_pct,omitempty" toml:"min_cash_pct,omitempty"`
	MaxCashPct          *float64 `json:"max_cash_pct,omitempty" toml:"max_cash_pct,omitempty"`
	SoftTaxCap          *float64 `json:"soft_tax_cap,omitempty" toml:"soft_tax_cap,omitempty"`
	TaxPenaltyExponent  *float64 `json:"tax_penalty_exponent,omitempty" toml:"tax_penalty_exponent,omitempty"`
	LongTermHoldingDays *int     `json:"long_term_holding_days,omitempty" toml:"long_term_holding_days,omitempty"`
	DustThreshold       *float64 `json:"dust_threshold,omitempty" toml:"dust_threshold,omitempty"`
	AsOf                *string  `json:"as_of,omitempty" toml:"as_of,omitempty"`
}

// Request is the wire form of a rebalance call
type Request struct {
	Name        string          `json:"name,omitempty" toml:"name,omitempty"`
	Description string          `json:"description,omitempty" toml:"description,omitempty"`
	Positions   []*PositionSpec `json:"positions" toml:"positions"`
	Covariance  [][]float64     `json:"cov_matrix" toml:"cov_matrix"`
	Config      *ConfigSpec     `json:"config,omitempty" toml:"config,omitempty"`
}

// FormatFromPath picks the request format from a file extension; anything
// other than .toml is read as JSON
func FormatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSON
}

// DecodeRequest reads a request in the given format from r
func DecodeRequest(r io.Reader, format string) (*Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	req := &Request{}
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, req)
	case FormatTOML:
		err = toml.Unmarshal(data, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s request: %w", format, err)
	}

	return req, nil
}

// LoadRequest reads a request from a JSON or TOML file
func LoadRequest(path string) (*Request, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	return DecodeRequest(fh, FormatFromPath(path))
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	dt, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, invalid(field, value, ErrInvalidDate)
	}
	return dt, nil
}

// ApplyTo returns base with every setting of the request overridden
func (req *Request) ApplyTo(base Config) (Config, error) {
	cfg := base
	spec := req.Config
	if spec == nil {
		return cfg, cfg.Validate()
	}

	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}

	setFloat(&cfg.TaxWeight, spec.TaxWeight)
	setFloat(&cfg.Rates.LongTerm, spec.LongTermRate)
	setFloat(&cfg.Rates.ShortTerm, spec.ShortTermRate)
	setFloat(&cfg.Rates.NetInvestmentIncome, spec.NIITRate)
	setFloat(&cfg.Rates.State, spec.StateTaxRate)
	setFloat(&cfg.MinCashPct, spec.MinCashPct)
	setFloat(&cfg.MaxCashPct, spec.MaxCashPct)
	setFloat(&cfg.SoftTaxCap, spec.SoftTaxCap)
	setFloat(&cfg.TaxPenaltyExponent, spec.TaxPenaltyExponent)
	setFloat(&cfg.DustThreshold, spec.DustThreshold)

	if spec.IntegerShares != nil {
		cfg.IntegerShares = *spec.IntegerShares
	}

	if spec.LongTermHoldingDays != nil {
		cfg.LongTermHoldingDays = *spec.LongTermHoldingDays
	}

	if spec.AsOf != nil {
		asOf, err := parseDate("config.as_of", *spec.AsOf)
		if err != nil {
			return cfg, err
		}
		cfg.AsOf = asOf
	}

	return cfg, cfg.Validate()
}

// PositionList converts the wire positions into engine positions
func (req *Request) PositionList() ([]*Position, error) {
	positions := make([]*Position, 0, len(req.Positions))
	for idx, spec := range req.Positions {
		if spec == nil {
			return nil, invalid(fmt.Sprintf("positions[%d]", idx), nil, ErrEmptyTicker)
		}

		acquired, err := parseDate(fmt.Sprintf("positions[%d].acquired_on", idx), spec.AcquiredOn)
		if err != nil {
			return nil, err
		}

		pos := &Position{
			Ticker:       spec.Ticker,
			TargetWeight: spec.TargetWeight,
			Quantity:     spec.Quantity,
			CostBasis:    spec.CostBasis,
			Price:        spec.Price,
			AcquiredOn:   acquired,
		}

		for lotIdx, lotSpec := range spec.Lots {
			if lotSpec == nil {
				return nil, invalid(fmt.Sprintf("positions[%d].lots[%d]", idx, lotIdx), nil, ErrLotMismatch)
			}
			lotDate, err := parseDate(fmt.Sprintf("positions[%d].lots[%d].date", idx, lotIdx), lotSpec.Date)
			if err != nil {
				return nil, err
			}
			pos.Lots = append(pos.Lots, &TaxLot{
				Date:          lotDate,
				Shares:        lotSpec.Shares,
				PricePerShare: lotSpec.PricePerShare,
			})
		}

		positions = append(positions, pos)
	}

	return positions, nil
}

// Snapshot validates the request and builds the snapshot it describes
func (req *Request) Snapshot() (*Snapshot, error) {
	positions, err := req.PositionList()
	if err != nil {
		return nil, err
	}

	cov, err := NewCovarianceMatrix(req.Covariance)
	if err != nil {
		return nil, err
	}

	return NewSnapshot(positions, cov)
}

// Digest identifies the rebalance described by the request under cfg. Two
// requests with the same digest produce the same result on the same day.
func (req *Request) Digest(cfg Config) string {
	key := struct {
		Positions  []*PositionSpec `json:"positions"`
		Covariance [][]float64     `json:"cov_matrix"`
		Config     Config          `json:"config"`
		AsOf       string          `json:"as_of"`
	}{
		Positions:  req.Positions,
		Covariance: req.Covariance,
		Config:     cfg,
		AsOf:       cfg.asOf().Format(dateLayout),
	}
	key.Config.AsOf = time.Time{}

	data, err := json.Marshal(key)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not serialize request for digest")
		return ""
	}

	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Encode writes the request in the given format
func (req *Request) Encode(w io.Writer, format string) error {
	var data []byte
	var err error
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(req, "", "  ")
	case FormatTOML:
		data, err = toml.Marshal(req)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
