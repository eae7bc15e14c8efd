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

package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 24 * time.Hour
	cacheKeyPrefix   = "pvrebalance:"
)

var (
	ErrCacheMiss = errors.New("cache miss")
)

// ResultCache stores serialized rebalance results keyed by request digest.
// Entries are lz4 compressed and kept in an in-process LRU; when a redis
// client is configured they are also shared through redis.
type ResultCache struct {
	local *lru.Cache
	rdb   *redis.Client
	ttl   time.Duration
}

var (
	cacheMu     sync.RWMutex
	sharedCache *ResultCache
)

// NewResultCache creates a cache holding up to size entries locally. rdb
// may be nil.
func NewResultCache(size int, rdb *redis.Client, ttl time.Duration) (*ResultCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	local, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("could not create LRU cache: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResultCache{local: local, rdb: rdb, ttl: ttl}, nil
}

// SetupCache configures the shared result cache from viper
func SetupCache() error {
	var rdb *redis.Client
	if viper.GetBool("cache.redis") {
		opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
		if err != nil {
			log.Error().Err(err).Msg("could not parse redis URL")
			return err
		}
		rdb = redis.NewClient(opt)
	}

	ttl := time.Duration(viper.GetInt("cache.ttl")) * time.Second
	cache, err := NewResultCache(viper.GetInt("cache.local_size"), rdb, ttl)
	if err != nil {
		log.Error().Err(err).Msg("could not create result cache")
		return err
	}

	cacheMu.Lock()
	sharedCache = cache
	cacheMu.Unlock()

	log.Debug().Bool("Redis", rdb != nil).Dur("TTL", cache.ttl).Msg("result cache configured")
	return nil
}

// Cache returns the shared result cache or nil when caching is not set up
func Cache() *ResultCache {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	return sharedCache
}

// Set stores value under key
func (c *ResultCache) Set(ctx context.Context, key string, value []byte) error {
	compressed, err := compress(value)
	if err != nil {
		return err
	}
	c.local.Add(key, compressed)

	if c.rdb != nil {
		return c.rdb.Set(ctx, cacheKeyPrefix+key, compressed, c.ttl).Err()
	}
	return nil
}

// Get returns the value stored under key or ErrCacheMiss
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, ok := c.local.Get(key); ok {
		return decompress(val.([]byte))
	}

	if c.rdb == nil {
		return nil, ErrCacheMiss
	}

	val, err := c.rdb.GetEx(ctx, cacheKeyPrefix+key, c.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	c.local.Add(key, val)
	return decompress(val)
}

// Len is the number of locally cached entries
func (c *ResultCache) Len() int {
	return c.local.Len()
}

func compress(in []byte) ([]byte, error) {
	w := &bytes.Buffer{}
	zw := lz4.NewWriter(w)
	if _, err := io.Copy(zw, bytes.NewReader(in)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func decompress(in []byte) ([]byte, error) {
	w := &bytes.Buffer{}
	if _, err := io.Copy(w, lz4.NewReader(bytes.NewReader(in))); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
