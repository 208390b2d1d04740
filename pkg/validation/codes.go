// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for values that
// reach outbound query strings or file paths.
//
// Flight and airport codes arrive from model tool calls and widget actions,
// so they are validated before they are sent to the flights API. Attachment
// ids name files on disk and must not escape the uploads directory.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidCode is wrapped by every code validation failure.
var ErrInvalidCode = errors.New("invalid code")

// ErrInvalidFileID is wrapped by ValidateFileID failures.
var ErrInvalidFileID = errors.New("invalid file id")

// flightCodePattern matches IATA flight designators: a two character
// airline code followed by a 1-4 digit flight number and an optional
// operational suffix (QF1, VA800, U21234, BA2490A).
var flightCodePattern = regexp.MustCompile(`^[A-Z0-9]{2}[0-9]{1,4}[A-Z]?$`)

// airportCodePattern matches three letter IATA airport codes.
var airportCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// maxFileIDLength bounds attachment ids.
const maxFileIDLength = 128

// SanitizeFlightCode normalizes and validates a flight designator.
//
// Surrounding and embedded spaces are removed and letters are upper-cased,
// so "qf 1" becomes "QF1".
//
// Example:
//
//	code, err := validation.SanitizeFlightCode(userInput)
//	if err != nil {
//	    return err
//	}
//	// code is safe to put in a query string
func SanitizeFlightCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
	if !flightCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: flight %q (expected an IATA flight number such as QF1)", ErrInvalidCode, code)
	}
	return normalized, nil
}

// SanitizeAirportCode normalizes and validates a three letter IATA airport
// code.
func SanitizeAirportCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !airportCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: airport %q (expected a 3-letter IATA code such as SYD)", ErrInvalidCode, code)
	}
	return normalized, nil
}

// ValidateFileID validates an id used directly as a file name inside a
// flat directory.
//
// Valid ids:
//   - 1-128 characters
//   - No path separators or NUL bytes
//   - No ".." sequence
func ValidateFileID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidFileID)
	case len(id) > maxFileIDLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidFileID, maxFileIDLength)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFileID, id)
	case id == "." || strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q is a relative path", ErrInvalidFileID, id)
	}
	return nil
}
