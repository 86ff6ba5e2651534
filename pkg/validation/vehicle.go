// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided values before they are placed in
// outbound collaborator URLs and request bodies.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// vehicleNamePattern matches a make or model token: letters, digits and
// hyphens (e.g. "F-150", "CX5"), 1-30 characters.
var vehicleNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-]{0,29}$`)

// zipPattern matches a 5-digit US zip code.
var zipPattern = regexp.MustCompile(`^[0-9]{5}$`)

// ValidateVehicleName validates a make or model.
//
// Example:
//
//	if err := validation.ValidateVehicleName(vehicleMake); err != nil {
//	    return fmt.Errorf("invalid make: %w", err)
//	}
func ValidateVehicleName(name string) error {
	if name == "" {
		return fmt.Errorf("vehicle name cannot be empty")
	}
	if !vehicleNamePattern.MatchString(name) {
		return fmt.Errorf("invalid vehicle name: %q (must be 1-30 letters, digits, or hyphens)", name)
	}
	return nil
}

// ValidateZip validates a 5-digit zip code.
func ValidateZip(zip string) error {
	if !zipPattern.MatchString(zip) {
		return fmt.Errorf("invalid zip code: %q (must be 5 digits)", zip)
	}
	return nil
}

// VehicleQuery is a normalized vehicle search.
type VehicleQuery struct {
	Make  string
	Model string
	Zip   string
}

// SanitizeVehicleQuery trims and lowercases make and model and validates all
// three fields. All invalid fields are reported together.
//
//	q, err := validation.SanitizeVehicleQuery("Honda", "Civic", "32789")
//	// q.Make == "honda", q.Model == "civic"
func SanitizeVehicleQuery(vehicleMake, model, zip string) (VehicleQuery, error) {
	q := VehicleQuery{
		Make:  strings.ToLower(strings.TrimSpace(vehicleMake)),
		Model: strings.ToLower(strings.TrimSpace(model)),
		Zip:   strings.TrimSpace(zip),
	}

	var invalid []string
	if err := ValidateVehicleName(q.Make); err != nil {
		invalid = append(invalid, "make")
	}
	if err := ValidateVehicleName(q.Model); err != nil {
		invalid = append(invalid, "model")
	}
	if err := ValidateZip(q.Zip); err != nil {
		invalid = append(invalid, "zip")
	}
	if len(invalid) > 0 {
		return VehicleQuery{}, fmt.Errorf("invalid vehicle query fields: %v", invalid)
	}
	return q, nil
}
