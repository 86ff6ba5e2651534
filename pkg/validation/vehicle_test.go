// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import "testing"

func TestValidateVehicleName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		// Valid names
		{"simple", "honda", false},
		{"capitalized", "Civic", false},
		{"with hyphen", "F-150", false},
		{"alphanumeric", "CX5", false},
		{"single char", "X", false},

		// Invalid names - injection attempts
		{"empty", "", true},
		{"query injection", "civic&api_key=x", true},
		{"path traversal", "../admin", true},
		{"newline", "civic\nHost: evil", true},
		{"spaces", "model s", true},
		{"starts with hyphen", "-civic", true},
		{"too long", "abcdefghijabcdefghijabcdefghijk", true},
		{"unicode", "citroën", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVehicleName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVehicleName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateZip(t *testing.T) {
	tests := []struct {
		name    string
		zip     string
		wantErr bool
	}{
		{"valid", "32789", false},
		{"leading zero", "02134", false},
		{"too short", "3278", true},
		{"too long", "327890", true},
		{"letters", "3278a", true},
		{"zip+4", "32789-1234", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateZip(tt.zip)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateZip(%q) error = %v, wantErr %v", tt.zip, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeVehicleQuery(t *testing.T) {
	tests := []struct {
		name             string
		vMake, model, zip string
		want             VehicleQuery
		wantErr          bool
	}{
		{"normalized", " Honda ", "Civic", "32789", VehicleQuery{"honda", "civic", "32789"}, false},
		{"hyphenated model", "ford", "F-150", "10001", VehicleQuery{"ford", "f-150", "10001"}, false},
		{"bad zip", "honda", "civic", "abc", VehicleQuery{}, true},
		{"bad make", "hon da", "civic", "32789", VehicleQuery{}, true},
		{"all bad", "", "", "", VehicleQuery{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeVehicleQuery(tt.vMake, tt.model, tt.zip)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeVehicleQuery() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeVehicleQuery() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
