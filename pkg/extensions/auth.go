// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned when a token cannot be validated.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("unknown token: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// DefaultUserID is the identity used when authentication is disabled.
// ChatKit threads created by a single local user are stored under it.
const DefaultUserID = "demo_user"

// AuthInfo contains identity information returned after successful authentication.
//
// Required fields (always populated):
//   - UserID: Unique identifier for the user. Every thread, item and
//     attachment row is scoped by it.
//
// Optional fields (may be empty):
//   - Email: User's email address
//   - Roles: List of roles the user belongs to
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Email is the user's email address.
	Email string

	// Roles contains the user's role memberships.
	Roles []string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The bearer token from the Authorization header, possibly empty
	//
	// Returns:
	//   - *AuthInfo: User identity information if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider is the default authentication provider.
//
// It always returns the single local demo user, so a local frontend can
// talk to the server without any token configuration.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns DefaultUserID. The token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: DefaultUserID,
		Roles:  []string{"user"},
	}, nil
}

// StaticTokenAuthProvider maps a fixed set of bearer tokens to user IDs.
//
// # Description
//
// Built from a comma separated "token=user" list (SWIFTROVER_AUTH_TOKENS).
// Each token authenticates as exactly one user; threads are isolated per user.
// Token comparison is constant-time.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type StaticTokenAuthProvider struct {
	tokens map[string]string
}

// NewStaticTokenAuthProvider parses a "token=user,token2=user2" list.
//
// # Inputs
//
//   - list: Comma separated token=user pairs. Whitespace around entries is
//     ignored; empty entries are skipped.
//
// # Outputs
//
//   - *StaticTokenAuthProvider: Provider holding at least one token.
//   - error: Non-nil if an entry is malformed or no entries are present.
//
// # Examples
//
//	p, err := extensions.NewStaticTokenAuthProvider("s3cret=alice,t0ken=bob")
func NewStaticTokenAuthProvider(list string) (*StaticTokenAuthProvider, error) {
	tokens := make(map[string]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, user, ok := strings.Cut(entry, "=")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid auth token entry %q: want token=user", entry)
		}
		tokens[token] = user
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no auth tokens configured")
	}
	return &StaticTokenAuthProvider{tokens: tokens}, nil
}

// Validate returns the user bound to token, or ErrUnauthorized.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	for known, user := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return &AuthInfo{UserID: user, Roles: []string{"user"}}, nil
		}
	}
	return nil, fmt.Errorf("unknown bearer token: %w", ErrUnauthorized)
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenAuthProvider)(nil)
)
