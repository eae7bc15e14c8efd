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


package common_test

import (
	"bytes"
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/penny-vault/pv-rebalance/common"
)

var _ = Describe("ResultCache", func() {
	var (
		cache *common.ResultCache
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		cache, err = common.NewResultCache(2, nil, time.Minute)
		Expect(err).NotTo(HaveOccurred())
	})

	It("returns what was stored", func() {
		Expect(cache.Set(ctx, "a", []byte(`{"trades":[]}`))).To(Succeed())
		data, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"trades":[]}`))
	})

	It("round trips large values through compression", func() {
		value := bytes.Repeat([]byte(`{"ticker":"VTI","action":"BUY"},`), 4096)
		Expect(cache.Set(ctx, "big", value)).To(Succeed())
		data, err := cache.Get(ctx, "big")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal(value))
	})

	It("reports a miss for unknown keys", func() {
		_, err := cache.Get(ctx, "missing")
		Expect(errors.Is(err, common.ErrCacheMiss)).To(BeTrue())
	})

	It("evicts the least recently used entry", func() {
		Expect(cache.Set(ctx, "a", []byte("1"))).To(Succeed())
		Expect(cache.Set(ctx, "b", []byte("2"))).To(Succeed())
		_, err := cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())

		Expect(cache.Set(ctx, "c", []byte("3"))).To(Succeed())
		Expect(cache.Len()).To(Equal(2))

		_, err = cache.Get(ctx, "b")
		Expect(errors.Is(err, common.ErrCacheMiss)).To(BeTrue())
		_, err = cache.Get(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
	})

	It("is configured from viper", func() {
		viper.Set("cache.redis", false)
		viper.Set("cache.local_size", 8)
		Expect(common.SetupCache()).To(Succeed())
		Expect(common.Cache()).NotTo(BeNil())
	})

	It("fails setup when the redis URL is malformed", func() {
		viper.Set("cache.redis", true)
		viper.Set("cache.redis_url", "not a url")
		defer viper.Set("cache.redis", false)
		Expect(common.SetupCache()).NotTo(Succeed())
	})
})
