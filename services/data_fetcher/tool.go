// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/zynk/services/llm"
)

// SearchVehiclesToolName is the tool name offered to the model.
const SearchVehiclesToolName = "search_vehicles"

type searchVehiclesInput struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Zip   string `json:"zip"`
}

// NewSearchVehiclesTool exposes a VehicleSearcher as a model tool.
func NewSearchVehiclesTool(searcher VehicleSearcher) llm.Tool {
	return llm.ToolFunc{
		ToolName:        SearchVehiclesToolName,
		ToolDescription: "Search active used-car listings by make and model near a 5-digit US zip code.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"make":  map[string]any{"type": "string", "description": "Vehicle make, e.g. honda"},
				"model": map[string]any{"type": "string", "description": "Vehicle model, e.g. civic"},
				"zip":   map[string]any{"type": "string", "description": "5-digit zip code"},
			},
			"required": []string{"make", "model", "zip"},
		},
		Fn: func(ctx context.Context, input json.RawMessage) (any, error) {
			var in searchVehiclesInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("invalid search_vehicles input: %w", err)
			}
			return searcher.Search(ctx, in.Make, in.Model, in.Zip)
		},
	}
}
