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


// Package scenario holds the demo portfolios shipped with pvrebalance
package scenario

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pv-rebalance/portfolio"
)

//go:embed scenarios/*.toml
var scenarioFS embed.FS

var (
	ErrUnknownScenario = errors.New("unknown scenario")
)

// Names lists the available scenarios in lexical order
func Names() []string {
	entries, err := fs.ReadDir(scenarioFS, "scenarios")
	if err != nil {
		log.Error().Err(err).Msg("could not read embedded scenarios")
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".toml" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".toml"))
	}
	sort.Strings(names)

	return names
}

// Load decodes the named scenario
func Load(name string) (*portfolio.Request, error) {
	data, err := scenarioFS.ReadFile(path.Join("scenarios", name+".toml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, name)
	}

	req, err := portfolio.DecodeRequest(bytes.NewReader(data), portfolio.FormatTOML)
	if err != nil {
		log.Error().Err(err).Str("Scenario", name).Msg("could not decode embedded scenario")
		return nil, err
	}

	if req.Name == "" {
		req.Name = name
	}

	return req, nil
}

// Summary is the listing entry for a scenario
type Summary struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	NumPositions int    `json:"num_positions"`
}

// List summarizes every scenario. Scenarios that fail to decode are skipped.
func List() []*Summary {
	names := Names()
	summaries := make([]*Summary, 0, len(names))
	for _, name := range names {
		req, err := Load(name)
		if err != nil {
			continue
		}
		summaries = append(summaries, &Summary{
			Name:         name,
			Description:  req.Description,
			NumPositions: len(req.Positions),
		})
	}
	return summaries
}
