// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers of the SwiftRover HTTP API.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/SwiftRover/services/swiftrover/attachments"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/chatkit"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/middleware"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/observability"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second

	// maxChatKitBody bounds a ChatKit request body.
	maxChatKitBody = 1 << 20
)

// ChatKitProcessor executes decoded ChatKit requests.
type ChatKitProcessor interface {
	Process(ctx context.Context, userID string, body []byte) (chatkit.Result, error)
}

// ChatKitHandler serves POST /chatkit.
//
// # Description
//
// The handler reads the raw body, passes it to the ChatKit server with the
// authenticated user id and writes the result: JSON for plain requests,
// an SSE stream for streaming ones.
//
// # Fields
//
//   - server: ChatKit request processor
//   - metrics: Prometheus metrics (may be nil)
//   - tracer: OpenTelemetry tracer for distributed tracing
//   - heartbeat: Keepalive interval of event streams
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
type ChatKitHandler struct {
	server    ChatKitProcessor
	metrics   *observability.Metrics
	tracer    trace.Tracer
	heartbeat time.Duration
}

// NewChatKitHandler creates a ChatKitHandler.
//
// # Inputs
//
//   - server: Processor for ChatKit requests. Must not be nil.
//   - metrics: Metrics to record into. May be nil.
func NewChatKitHandler(server ChatKitProcessor, metrics *observability.Metrics) *ChatKitHandler {
	if server == nil {
		panic("NewChatKitHandler: server must not be nil")
	}
	return &ChatKitHandler{
		server:    server,
		metrics:   metrics,
		tracer:    otel.Tracer("swiftrover.handlers"),
		heartbeat: heartbeatInterval,
	}
}

// HandleChatKit processes one ChatKit request.
//
// # Outputs
//
//   - 200 with the JSON result, or an event stream.
//   - 400 {"error":"invalid request"} for malformed or unknown requests.
//   - 404 {"error":"not found"} for missing threads, items or attachments.
//   - 500 with a generic message for anything else.
func (h *ChatKitHandler) HandleChatKit(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatKit

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatKit")
	defer span.End()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	userID := middleware.UserID(c)
	span.SetAttributes(attribute.String("user.id", userID))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxChatKitBody+1))
	if err != nil {
		span.RecordError(err)
		h.fail(c, http.StatusBadRequest, observability.ErrorCodeValidation, "failed to read request")
		return
	}
	if len(body) > maxChatKitBody {
		h.fail(c, http.StatusRequestEntityTooLarge, observability.ErrorCodeValidation, "request too large")
		return
	}

	result, err := h.server.Process(ctx, userID, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process failed")
		status, code, message := classifyError(err)
		if status == http.StatusInternalServerError {
			slog.Error("ChatKit request failed", "user_id", userID, "error", err)
		} else {
			slog.Info("ChatKit request rejected", "user_id", userID, "status", status, "error", err)
		}
		h.fail(c, status, code, message)
		return
	}

	span.SetAttributes(attribute.String("chatkit.request", result.RequestType()))
	if m := h.metrics; m != nil {
		m.RecordRequestType(result.RequestType())
	}

	switch r := result.(type) {
	case *chatkit.JSONResult:
		if m := h.metrics; m != nil {
			m.RecordRequest(endpoint, true)
		}
		c.JSON(http.StatusOK, r.Value)
	case *chatkit.StreamingResult:
		h.streamEvents(ctx, cancel, c, r, startTime)
	default:
		h.fail(c, http.StatusInternalServerError, observability.ErrorCodeInternal, chatkit.StreamErrorMessage)
	}
}

// streamEvents writes the events of a streaming result until the producer
// closes the channel or the client goes away.
//
// # Description
//
// On return the producer is cancelled and its channel drained, so no
// goroutine outlives the request. An error event counts the stream as
// failed.
func (h *ChatKitHandler) streamEvents(
	ctx context.Context,
	cancel context.CancelFunc,
	c *gin.Context,
	result *chatkit.StreamingResult,
	startTime time.Time,
) {
	endpoint := observability.EndpointChatKit
	events := result.Events()
	defer func() {
		cancel()
		for range events {
		}
	}()

	if m := h.metrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := true
	defer func() {
		if m := h.metrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		success = false
		slog.Error("Failed to create SSE writer", "error", err)
		if m := h.metrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}
	c.Status(http.StatusOK)

	heartbeatDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)
	}()
	defer func() {
		close(heartbeatDone)
		wg.Wait()
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					success = false
					h.clientGone(ctx.Err())
				}
				return
			}
			if err := writer.WriteEvent(ev); err != nil {
				success = false
				h.clientGone(err)
				return
			}
			if m := h.metrics; m != nil {
				m.RecordStreamEvent(ev.Type)
			}
			if ev.Type == datatypes.EventError {
				success = false
				if m := h.metrics; m != nil {
					m.RecordError(endpoint, observability.ErrorCodeStream)
				}
			}
		case <-ctx.Done():
			success = false
			h.clientGone(ctx.Err())
			return
		}
	}
}

func (h *ChatKitHandler) clientGone(err error) {
	slog.Info("Client disconnected during stream", "error", err)
	if m := h.metrics; m != nil {
		m.RecordClientDisconnect(observability.EndpointChatKit)
		m.RecordError(observability.EndpointChatKit, observability.ErrorCodeClientDisconnect)
	}
}

// runHeartbeat sends periodic keepalive pings to prevent connection timeouts.
//
// # Description
//
// Stops when done is closed, ctx is cancelled or a write fails.
func (h *ChatKitHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := h.metrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

func (h *ChatKitHandler) fail(c *gin.Context, status int, code observability.ErrorCode, message string) {
	if m := h.metrics; m != nil {
		m.RecordError(observability.EndpointChatKit, code)
		m.RecordRequest(observability.EndpointChatKit, false)
	}
	c.JSON(status, gin.H{"error": message})
}

// classifyError maps a Process error to an HTTP status, a metrics code
// and a message that is safe to show to the client.
func classifyError(err error) (int, observability.ErrorCode, string) {
	switch {
	case errors.Is(err, chatkit.ErrInvalidRequest), errors.Is(err, chatkit.ErrUnknownRequest):
		return http.StatusBadRequest, observability.ErrorCodeValidation, "invalid request"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, attachments.ErrNotFound):
		return http.StatusNotFound, observability.ErrorCodeNotFound, "not found"
	case errors.Is(err, attachments.ErrInvalidID):
		return http.StatusBadRequest, observability.ErrorCodeValidation, "invalid request"
	default:
		return http.StatusInternalServerError, observability.ErrorCodeInternal, chatkit.StreamErrorMessage
	}
}
