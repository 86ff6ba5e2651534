// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the most recent vehicle search result per chat, so a
// later "report" request in the same chat can reuse it.
//
// Entries are advisory: a miss only means the user has to search again.
// Writes are last-write-wins per chat id.
package cache

import (
	"context"
	"errors"
	"time"

	datafetcher "github.com/AleutianAI/zynk/services/data_fetcher"
)

const (
	DefaultMaxEntries = 10000
	DefaultTTL        = time.Hour
)

// ErrNotStored is returned when a cache declines a write, for example when
// its admission policy rejects the entry or it has been closed.
var ErrNotStored = errors.New("cache entry not stored")

// SearchCache stores vehicle search results keyed by chat id.
type SearchCache interface {
	// Get returns the cached result. A miss is (nil, false, nil).
	Get(ctx context.Context, chatID string) (*datafetcher.VehicleSearchResult, bool, error)

	// Set replaces the entry for chatID.
	Set(ctx context.Context, chatID string, result *datafetcher.VehicleSearchResult) error

	Close() error
}
