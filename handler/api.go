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
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/penny-vault/pv-rebalance/common"
)

type HelloResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Hello reports the service name and version
func Hello(c *fiber.Ctx) error {
	return c.JSON(HelloResponse{
		Name:    "pvrebalance",
		Version: common.CurrentVersion.String(),
		Time:    time.Now().Format(time.RFC3339),
	})
}
