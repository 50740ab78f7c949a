// Package model defines the value types shared by the quote sourcing engine.
package model

import (
	"fmt"
	"strings"
)

// VehicleDescriptor identifies the vehicle a quote applies to.
type VehicleDescriptor struct {
	Year  int    `json:"year" yaml:"year"`
	Make  string `json:"make" yaml:"make"`
	Model string `json:"model" yaml:"model"`
}

// Normalized returns the descriptor with make and model trimmed and lowercased,
// the form used for lookup keys and comparisons.
func (v VehicleDescriptor) Normalized() VehicleDescriptor {
	return VehicleDescriptor{
		Year:  v.Year,
		Make:  strings.ToLower(strings.TrimSpace(v.Make)),
		Model: strings.ToLower(strings.TrimSpace(v.Model)),
	}
}

// Equal compares two descriptors, ignoring case in make and model.
func (v VehicleDescriptor) Equal(o VehicleDescriptor) bool {
	return v.Normalized() == o.Normalized()
}

func (v VehicleDescriptor) String() string {
	return fmt.Sprintf("%d %s %s", v.Year, strings.TrimSpace(v.Make), strings.TrimSpace(v.Model))
}

// AgeYears returns the vehicle's age relative to currentYear, never negative.
func (v VehicleDescriptor) AgeYears(currentYear int) int {
	if v.Year <= 0 || currentYear < v.Year {
		return 0
	}
	return currentYear - v.Year
}

// ItemKind distinguishes parts from labor operations.
type ItemKind string

const (
	ItemKindPart  ItemKind = "part"
	ItemKindLabor ItemKind = "labor_operation"
)

// ItemRequest identifies what is being priced.
type ItemRequest struct {
	Kind        ItemKind `json:"kind" yaml:"kind"`
	Description string   `json:"description" yaml:"description"`
	PartNumber  string   `json:"part_number,omitempty" yaml:"part_number,omitempty"`
}

// Valid reports whether the request carries enough information to price.
func (r ItemRequest) Valid() bool {
	if r.Kind != ItemKindPart && r.Kind != ItemKindLabor {
		return false
	}
	return strings.TrimSpace(r.Description) != "" || strings.TrimSpace(r.PartNumber) != ""
}

// SearchTerm returns the part number when present, otherwise the description.
func (r ItemRequest) SearchTerm() string {
	if pn := strings.TrimSpace(r.PartNumber); pn != "" {
		return pn
	}
	return strings.TrimSpace(r.Description)
}
