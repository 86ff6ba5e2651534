// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	datafetcher "github.com/AleutianAI/zynk/services/data_fetcher"
)

// RistrettoCache is an in-process SearchCache bounded by entry count, with
// a TTL per entry.
type RistrettoCache struct {
	cache *ristretto.Cache[string, *datafetcher.VehicleSearchResult]
	ttl   time.Duration
}

// NewRistrettoCache creates a cache holding at most maxEntries results.
func NewRistrettoCache(maxEntries int64, ttl time.Duration) (*RistrettoCache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *datafetcher.VehicleSearchResult]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: c, ttl: ttl}, nil
}

// Get implements SearchCache.
func (r *RistrettoCache) Get(_ context.Context, chatID string) (*datafetcher.VehicleSearchResult, bool, error) {
	v, ok := r.cache.Get(chatID)
	if !ok || v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// Set implements SearchCache. Every entry costs 1, so MaxCost is the entry
// bound. The write is visible to Get when Set returns; a write ristretto
// drops returns ErrNotStored.
func (r *RistrettoCache) Set(_ context.Context, chatID string, result *datafetcher.VehicleSearchResult) error {
	if !r.cache.SetWithTTL(chatID, result, 1, r.ttl) {
		return fmt.Errorf("%w: chat %s", ErrNotStored, chatID)
	}
	r.cache.Wait()
	return nil
}

// Close implements SearchCache.
func (r *RistrettoCache) Close() error {
	r.cache.Close()
	return nil
}

var _ SearchCache = (*RistrettoCache)(nil)
