// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestSanitizeFlightCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    string
		wantErr bool
	}{
		// Valid codes
		{"simple", "QF1", "QF1", false},
		{"lowercase", "va800", "VA800", false},
		{"embedded space", "qf 1", "QF1", false},
		{"digit airline", "U21234", "U21234", false},
		{"suffix", "BA2490A", "BA2490A", false},

		// Invalid codes
		{"empty", "", "", true},
		{"no number", "QF", "", true},
		{"too many digits", "QF12345", "", true},
		{"query injection", "QF1&access_key=x", "", true},
		{"icao airline", "QFA1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeFlightCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeFlightCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeFlightCode(%q) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestSanitizeAirportCode(t *testing.T) {
	tests := []struct {
		code    string
		want    string
		wantErr bool
	}{
		{"SYD", "SYD", false},
		{" mel ", "MEL", false},
		{"", "", true},
		{"SY", "", true},
		{"SYDN", "", true},
		{"S1D", "", true},
	}

	for _, tt := range tests {
		got, err := SanitizeAirportCode(tt.code)
		if (err != nil) != tt.wantErr {
			t.Errorf("SanitizeAirportCode(%q) error = %v, wantErr %v", tt.code, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("SanitizeAirportCode(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestValidateFileID(t *testing.T) {
	valid := []string{"atc_0f3a9b21", "a", "file.png", strings.Repeat("x", 128)}
	for _, id := range valid {
		if err := ValidateFileID(id); err != nil {
			t.Errorf("ValidateFileID(%q) unexpected error: %v", id, err)
		}
	}

	invalid := []string{"", ".", "..", "../escape", "a/b", `a\b`, "a\x00b", "x..y", strings.Repeat("x", 129)}
	for _, id := range invalid {
		if err := ValidateFileID(id); err == nil {
			t.Errorf("ValidateFileID(%q) expected error", id)
		}
	}
}
