// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

type mockAuthProvider struct {
	userID string
}

func (m *mockAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: m.userID}, nil
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.IsType(t, &NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &NopAuditLogger{}, opts.AuditLogger)
}

func TestServiceOptions_WithAuth(t *testing.T) {
	original := DefaultOptions()
	custom := &mockAuthProvider{userID: "custom-user"}

	updated := original.WithAuth(custom)

	assert.Same(t, custom, updated.AuthProvider)
	assert.IsType(t, &NopAuthProvider{}, original.AuthProvider, "original must be unchanged")
	assert.NotNil(t, updated.AuditLogger)
}

func TestServiceOptions_WithAudit(t *testing.T) {
	audit := NewSlogAuditLogger(nil)
	updated := DefaultOptions().WithAudit(audit)
	assert.Same(t, audit, updated.AuditLogger)
}

func TestServiceOptions_Normalize(t *testing.T) {
	opts := ServiceOptions{}.Normalize()
	assert.IsType(t, &NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &NopAuditLogger{}, opts.AuditLogger)

	custom := &mockAuthProvider{userID: "x"}
	opts = ServiceOptions{AuthProvider: custom}.Normalize()
	assert.Same(t, custom, opts.AuthProvider)
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestNopAuthProvider_Validate(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultUserID, info.UserID)
	assert.Equal(t, "demo_user", info.UserID)
	assert.True(t, info.HasRole("user"))
	assert.False(t, info.HasRole("admin"))
}

func TestNewStaticTokenAuthProvider(t *testing.T) {
	tests := []struct {
		name    string
		tokens  string
		wantErr bool
		wantLen int
	}{
		{name: "single", tokens: "abc=alice", wantLen: 1},
		{name: "multiple with spaces", tokens: " abc=alice , def = bob ,", wantLen: 2},
		{name: "empty", tokens: "", wantErr: true},
		{name: "only commas", tokens: ",,", wantErr: true},
		{name: "missing user", tokens: "abc=", wantErr: true},
		{name: "missing separator", tokens: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewStaticTokenAuthProvider(tt.tokens)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, p.tokens, tt.wantLen)
		})
	}
}

func TestStaticTokenAuthProvider_Validate(t *testing.T) {
	p, err := NewStaticTokenAuthProvider("abc=alice,def=bob")
	require.NoError(t, err)
	ctx := context.Background()

	info, err := p.Validate(ctx, "def")
	require.NoError(t, err)
	assert.Equal(t, "bob", info.UserID)

	_, err = p.Validate(ctx, "nope")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = p.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	l := &NopAuditLogger{}
	assert.NoError(t, l.Log(context.Background(), AuditEvent{EventType: "thread.create"}))
	assert.NoError(t, l.Flush(context.Background()))
}

func TestSlogAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := l.Log(context.Background(), AuditEvent{
		EventType:    "thread.delete",
		UserID:       "alice",
		Action:       "delete",
		ResourceType: "thread",
		ResourceID:   "thr_1234abcd",
		Outcome:      "success",
		Metadata:     map[string]any{"items": 3},
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "audit", record["msg"])
	assert.Equal(t, "audit", record["component"])
	assert.Equal(t, "thread.delete", record["event_type"])
	assert.Equal(t, "alice", record["user_id"])
	assert.Equal(t, "thr_1234abcd", record["resource_id"])
	assert.NotEmpty(t, record["timestamp"])

	ts, err := time.Parse(time.RFC3339Nano, record["timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)

	assert.NoError(t, l.Flush(context.Background()))
}
