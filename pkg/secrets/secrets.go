// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets keeps API keys sealed in encrypted memory.
//
// A Secret wraps a memguard Enclave. The plaintext exists only inside a
// locked buffer for the duration of Reveal and is never held by the
// Secret itself.
//
// # Usage
//
//	key := secrets.New(os.Getenv("AOI_KEY_SWDN"))
//	defer secrets.Purge()
//
//	if key.IsSet() {
//	    plain, err := key.Reveal()
//	    ...
//	}
package secrets

import (
	"errors"

	"github.com/awnumar/memguard"
)

// ErrNotSet is returned by Reveal on an empty Secret.
var ErrNotSet = errors.New("secret not set")

// Secret is an immutable, encrypted-at-rest string value.
//
// # Thread Safety
//
// Safe for concurrent use; memguard enclaves may be opened concurrently.
type Secret struct {
	enclave *memguard.Enclave
}

// New seals value. An empty value yields an unset Secret.
//
// # Limitations
//
// The caller's string cannot be wiped (Go strings are immutable); only the
// intermediate byte slice is zeroed by memguard.
func New(value string) *Secret {
	if value == "" {
		return &Secret{}
	}
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether the Secret holds a value. Safe on a nil receiver.
func (s *Secret) IsSet() bool {
	return s != nil && s.enclave != nil
}

// Reveal decrypts the value into a fresh string.
//
// # Outputs
//
//   - string: The plaintext.
//   - error: ErrNotSet for an unset Secret, or a memguard failure.
func (s *Secret) Reveal() (string, error) {
	if !s.IsSet() {
		return "", ErrNotSet
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// String never prints the value.
func (s *Secret) String() string {
	if s.IsSet() {
		return "[REDACTED]"
	}
	return ""
}

// Purge destroys all memguard buffers and the session key. Secrets created
// before Purge can no longer be revealed. Call once on shutdown.
func Purge() {
	memguard.Purge()
}
