// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/zynk/pkg/protocol"
	"github.com/AleutianAI/zynk/pkg/validation"
	datafetcher "github.com/AleutianAI/zynk/services/data_fetcher"
	"github.com/AleutianAI/zynk/services/llm"
	"github.com/AleutianAI/zynk/services/orchestrator/cache"
)

// VehicleSearchName is the metric and log name of the vehicle search
// middleware.
const VehicleSearchName = "vehicle_search"

// maxSummaryListings bounds the listings copied into the model input.
const maxSummaryListings = 10

var vehicleSearchPattern = regexp.MustCompile(
	`(?i)\b(?:buscar|busco|search\s+for|search|find)\s+` +
		`(?P<make>[a-z0-9][a-z0-9-]*)\s+(?P<model>[a-z0-9][a-z0-9-]*)\s+` +
		`(?:(?:near|cerca\s+de)\s+)?(?P<zip>\d{5})\b`)

// VehicleQueryFromMessage extracts make, model and zip from messages like
// "search for honda civic near 32789". ok is false when nothing matches.
func VehicleQueryFromMessage(msg string) (q validation.VehicleQuery, ok bool) {
	m := vehicleSearchPattern.FindStringSubmatch(msg)
	if m == nil {
		return q, false
	}
	q.Make = m[vehicleSearchPattern.SubexpIndex("make")]
	q.Model = m[vehicleSearchPattern.SubexpIndex("model")]
	q.Zip = m[vehicleSearchPattern.SubexpIndex("zip")]
	return q, true
}

// VehicleSearch looks up listings for a search request in the message,
// caches them under the chat id and gives the model a summary.
type VehicleSearch struct {
	searcher datafetcher.VehicleSearcher
	cache    cache.SearchCache
	timeout  time.Duration
}

// NewVehicleSearch creates the middleware. A zero timeout uses
// datafetcher.DefaultTimeout.
func NewVehicleSearch(searcher datafetcher.VehicleSearcher, c cache.SearchCache, timeout time.Duration) *VehicleSearch {
	if timeout <= 0 {
		timeout = datafetcher.DefaultTimeout
	}
	return &VehicleSearch{searcher: searcher, cache: c, timeout: timeout}
}

// Name implements Middleware.
func (v *VehicleSearch) Name() string { return VehicleSearchName }

// Handle implements Middleware.
func (v *VehicleSearch) Handle(ctx context.Context, turn Turn, emit Emit) (Result, error) {
	q, ok := VehicleQueryFromMessage(turn.Message)
	if !ok {
		return Result{}, nil
	}

	if err := emit(narrate("Searching for %s %s near %s...", q.Make, q.Model, q.Zip)); err != nil {
		return Result{}, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	result, err := v.searcher.Search(searchCtx, q.Make, q.Model, q.Zip)
	if err != nil {
		if emitErr := emit(narrate("An error occurred during the vehicle search.")); emitErr != nil {
			return Result{}, emitErr
		}
		return Result{Handled: true}, fmt.Errorf("vehicle search: %w", err)
	}

	var cacheErr error
	if v.cache != nil {
		if err := v.cache.Set(ctx, turn.ChatID, result); err != nil {
			cacheErr = fmt.Errorf("cache search result: %w", err)
		}
	}

	msg := narrate("Found %d %s %s listings near %s. Say \"pdf\" or \"report\" to generate a detailed report.",
		result.NumFound, q.Make, q.Model, q.Zip)
	if err := emit(msg); err != nil {
		return Result{}, err
	}

	return Result{
		Handled: true,
		Augment: []llm.Message{{Role: protocol.RoleSystem, Content: summarizeListings(q, result)}},
	}, cacheErr
}

// summarizeListings renders the search result for the model.
func summarizeListings(q validation.VehicleQuery, result *datafetcher.VehicleSearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle search results for %s %s near %s: %d found.",
		q.Make, q.Model, q.Zip, result.NumFound)

	for i, l := range result.Listings {
		if i == maxSummaryListings {
			fmt.Fprintf(&b, "\n(%d more not shown)", len(result.Listings)-maxSummaryListings)
			break
		}
		fmt.Fprintf(&b, "\n- %d %s %s, $%.0f, %d miles", l.Year, l.Make, l.Model, l.Price, l.Miles)
		if l.ExteriorColor != "" {
			fmt.Fprintf(&b, ", %s", l.ExteriorColor)
		}
	}
	return b.String()
}

// narrate formats a progress message. Narration ends with a blank line so
// model text that follows starts a new paragraph.
func narrate(format string, args ...any) string {
	return fmt.Sprintf(format, args...) + "\n\n"
}
