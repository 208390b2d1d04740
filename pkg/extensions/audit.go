// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security-relevant event.
//
// # Event Categories
//
//   - Authentication: "auth.failed"
//   - Threads: "thread.create", "thread.delete", "thread.update"
//   - Attachments: "attachment.create", "attachment.delete", "attachment.upload"
//   - Chat: "chat.message", "chat.action"
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "thread.delete",
//	    UserID:       authInfo.UserID,
//	    Action:       "delete",
//	    ResourceType: "thread",
//	    ResourceID:   threadID,
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	// EventType categorizes the event. Format: "category.action".
	EventType string

	// Timestamp is when the event occurred. Zero means now.
	Timestamp time.Time

	// UserID identifies who performed the action.
	UserID string

	// Action describes what operation was attempted.
	Action string

	// ResourceType is the category of resource involved.
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome is one of "success", "failure", "blocked", "error".
	Outcome string

	// Metadata holds additional event-specific data.
	Metadata map[string]any
}

// AuditLogger records security-relevant events.
//
// Implementations must be safe for concurrent use and should return
// quickly; Log is called on the request path.
type AuditLogger interface {
	// Log records a security-relevant event.
	Log(ctx context.Context, event AuditEvent) error

	// Flush ensures buffered events are persisted. Called on shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
//
// Thread-safe: This implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// SlogAuditLogger writes audit events as structured log records.
//
// Every event becomes one info-level record with message "audit" and the
// event fields as attributes, so it lands in the same sinks as the service
// logs (stderr, daily file, exporter).
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger backed by logger.
// A nil logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit")}
}

// Log writes the event. It never fails.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"outcome", event.Outcome,
	}
	if event.ResourceID != "" {
		attrs = append(attrs, "resource_id", event.ResourceID)
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Flush is a no-op; records are written synchronously.
func (l *SlogAuditLogger) Flush(ctx context.Context) error {
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
