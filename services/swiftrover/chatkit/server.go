// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatkit implements the ChatKit request protocol on top of the
// thread store and the responder.
//
// # Description
//
// A request body is decoded and validated into a datatypes.Request. Thread
// mutations that produce assistant output (create, add_user_message,
// custom_action, retry_after_item) return a StreamingResult whose events
// are produced by a goroutine. Everything else returns a JSONResult.
//
// Every thread.item.done event is persisted before it is handed to the
// caller, so a client that reloads a thread sees exactly what was streamed.
//
// # Thread Safety
//
// A Server is safe for concurrent use.
package chatkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/extensions"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/responder"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("swiftrover.chatkit")

// StreamErrorMessage is the client-facing text of a failed stream.
const StreamErrorMessage = "An error occurred while processing your request"

const (
	threadPageSize = 20
	retryScanLimit = 1000
)

var (
	// ErrInvalidRequest wraps decode and validation failures.
	ErrInvalidRequest = errors.New("invalid chatkit request")

	// ErrUnknownRequest is returned for unsupported request types.
	ErrUnknownRequest = datatypes.ErrUnknownRequest
)

// =============================================================================
// Collaborators
// =============================================================================

// Store is the persistence the server needs. *store.Store implements it.
type Store interface {
	LoadThread(ctx context.Context, userID, threadID string) (datatypes.ThreadMetadata, error)
	SaveThread(ctx context.Context, userID string, t datatypes.ThreadMetadata) error
	LoadThreads(ctx context.Context, userID, after string, limit int, order string) (datatypes.Page[datatypes.ThreadMetadata], error)
	DeleteThread(ctx context.Context, userID, threadID string) error
	LoadThreadItems(ctx context.Context, userID, threadID, after string, limit int, order string) (datatypes.Page[datatypes.ThreadItem], error)
	AddThreadItem(ctx context.Context, userID, threadID string, item datatypes.ThreadItem) error
	SaveItem(ctx context.Context, userID, threadID string, item datatypes.ThreadItem) error
	LoadItem(ctx context.Context, userID, threadID, itemID string) (datatypes.ThreadItem, error)
	DeleteThreadItem(ctx context.Context, userID, threadID, itemID string) error
	LoadAttachment(ctx context.Context, userID, attachmentID string) (datatypes.Attachment, error)
}

// Attachments creates and removes uploaded files.
type Attachments interface {
	CreateAttachment(ctx context.Context, userID, name string, size int64, mimeType string) (datatypes.Attachment, error)
	Delete(ctx context.Context, userID, id string) error
}

// Responder produces assistant output. *responder.Responder implements it.
type Responder interface {
	Respond(ctx context.Context, userID string, thread datatypes.ThreadMetadata, msg datatypes.ThreadItem, emit responder.Emitter) error
	Action(ctx context.Context, thread datatypes.ThreadMetadata, action datatypes.Action, sender *datatypes.ThreadItem, emit responder.Emitter) error
}

// =============================================================================
// Results
// =============================================================================

// Result is the outcome of Process: a *JSONResult or a *StreamingResult.
type Result interface {
	// RequestType is the protocol type of the request, e.g. "threads.list".
	RequestType() string
}

// JSONResult is a complete response body.
type JSONResult struct {
	Type  string
	Value any
}

// StreamingResult delivers events until the channel is closed.
//
// The producer stops when the request context is cancelled; callers that
// stop reading early must cancel it.
type StreamingResult struct {
	requestType string
	events      <-chan datatypes.Event
}

// NewStreamingResult wraps an event channel produced elsewhere, e.g. by a
// test double of the server.
func NewStreamingResult(requestType string, events <-chan datatypes.Event) *StreamingResult {
	return &StreamingResult{requestType: requestType, events: events}
}

// Events returns the event channel. It is closed after the last event.
func (r *StreamingResult) Events() <-chan datatypes.Event { return r.events }

func (r *JSONResult) RequestType() string      { return r.Type }
func (r *StreamingResult) RequestType() string { return r.requestType }

// =============================================================================
// Server
// =============================================================================

// Config wires a Server.
type Config struct {
	Store       Store
	Attachments Attachments
	Responder   Responder
	Audit       extensions.AuditLogger
	Now         func() time.Time
}

// Server handles ChatKit requests.
type Server struct {
	store       Store
	attachments Attachments
	responder   Responder
	audit       extensions.AuditLogger
	now         func() time.Time
}

// NewServer creates a Server. A nil Audit discards audit events.
func NewServer(cfg Config) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	audit := cfg.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &Server{
		store:       cfg.Store,
		attachments: cfg.Attachments,
		responder:   cfg.Responder,
		audit:       audit,
		now:         now,
	}
}

// Process decodes and executes one ChatKit request for userID.
//
// # Description
//
// Lookups that can fail before any output (missing thread, missing item
// for retry) are done synchronously so the caller can answer with a
// plain error status. Once a StreamingResult is returned, failures are
// reported in-band as an error event.
//
// # Inputs
//
//   - ctx: Request context. Cancelling it stops a streaming producer.
//   - userID: Authenticated user; every store access is scoped to it.
//   - body: Raw JSON request.
//
// # Outputs
//
//   - Result: *JSONResult or *StreamingResult.
//   - error: ErrInvalidRequest (wrapped), ErrUnknownRequest,
//     store.ErrNotFound or an internal failure.
func (s *Server) Process(ctx context.Context, userID string, body []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "ChatKit.Process")
	defer span.End()

	req, err := datatypes.ParseRequest(body)
	if err != nil {
		span.SetStatus(codes.Error, "invalid request")
		if errors.Is(err, datatypes.ErrUnknownRequest) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	span.SetAttributes(attribute.String("chatkit.request", req.Type), attribute.String("user.id", userID))
	slog.Debug("ChatKit request", "type", req.Type, "user_id", userID)

	var result Result
	if req.Streaming() {
		result, err = s.processStreaming(ctx, userID, req)
	} else {
		result, err = s.processJSON(ctx, userID, req)
		if jr, ok := result.(*JSONResult); ok {
			jr.Type = req.Type
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
	}
	return result, err
}

// =============================================================================
// Streaming Requests
// =============================================================================

// streamFunc produces the events of one streaming request.
type streamFunc func(ctx context.Context, emit responder.Emitter) error

func (s *Server) processStreaming(ctx context.Context, userID string, req *datatypes.Request) (Result, error) {
	switch p := req.Params.(type) {
	case *datatypes.CreateThreadParams:
		return s.stream(ctx, userID, req.Type, func(ctx context.Context, emit responder.Emitter) error {
			thread := datatypes.ThreadMetadata{
				ID:        store.NewThreadID(),
				CreatedAt: s.now(),
				Status:    datatypes.ThreadStatus{Type: datatypes.ThreadStatusActive},
				Metadata:  map[string]any{},
			}
			if err := s.store.SaveThread(ctx, userID, thread); err != nil {
				return fmt.Errorf("save thread: %w", err)
			}
			if err := emit(datatypes.ThreadCreated(thread)); err != nil {
				return err
			}
			return s.respondToInput(ctx, userID, thread, p.Input, emit)
		}), nil

	case *datatypes.AddUserMessageParams:
		thread, err := s.store.LoadThread(ctx, userID, p.ThreadID)
		if err != nil {
			return nil, err
		}
		return s.stream(ctx, userID, req.Type, func(ctx context.Context, emit responder.Emitter) error {
			return s.respondToInput(ctx, userID, thread, p.Input, emit)
		}), nil

	case *datatypes.CustomActionParams:
		thread, err := s.store.LoadThread(ctx, userID, p.ThreadID)
		if err != nil {
			return nil, err
		}
		var sender *datatypes.ThreadItem
		if p.ItemID != "" {
			item, err := s.store.LoadItem(ctx, userID, thread.ID, p.ItemID)
			switch {
			case err == nil:
				sender = &item
			case errors.Is(err, store.ErrNotFound):
				slog.Warn("Action sender item not found", "thread_id", thread.ID, "item_id", p.ItemID)
			default:
				return nil, err
			}
		}
		return s.stream(ctx, userID, req.Type, func(ctx context.Context, emit responder.Emitter) error {
			return s.responder.Action(ctx, thread, p.Action, sender, emit)
		}), nil

	case *datatypes.RetryAfterItemParams:
		thread, err := s.store.LoadThread(ctx, userID, p.ThreadID)
		if err != nil {
			return nil, err
		}
		item, err := s.store.LoadItem(ctx, userID, thread.ID, p.ItemID)
		if err != nil {
			return nil, err
		}
		if item.Type != datatypes.ItemUserMessage {
			return nil, fmt.Errorf("%w: item %s is not a user message", ErrInvalidRequest, item.ID)
		}
		return s.stream(ctx, userID, req.Type, func(ctx context.Context, emit responder.Emitter) error {
			if err := s.removeItemsAfter(ctx, userID, thread.ID, item.ID, emit); err != nil {
				return err
			}
			return s.responder.Respond(ctx, userID, thread, item, emit)
		}), nil
	}
	return nil, ErrUnknownRequest
}

// stream runs fn in a producer goroutine.
//
// # Description
//
// The emitter handed to fn persists finished items, then delivers the
// event unless ctx is done. A failure other than cancellation is logged
// and reported to the client as a retryable stream.error event.
func (s *Server) stream(ctx context.Context, userID, requestType string, fn streamFunc) *StreamingResult {
	events := make(chan datatypes.Event)
	go func() {
		defer close(events)
		ctx, span := tracer.Start(ctx, "ChatKit.Stream")
		defer span.End()
		span.SetAttributes(attribute.String("chatkit.request", requestType))

		send := func(ev datatypes.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		emit := func(ev datatypes.Event) error {
			if ev.Type == datatypes.EventItemDone && ev.Item != nil {
				if err := s.persistItem(ctx, userID, *ev.Item); err != nil {
					return err
				}
			}
			return send(ev)
		}

		err := fn(ctx, emit)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			slog.Info("ChatKit stream cancelled", "request", requestType, "user_id", userID)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		slog.Error("ChatKit stream failed", "request", requestType, "user_id", userID, "error", err)
		_ = send(datatypes.ErrorEvent(datatypes.ErrorCodeStream, StreamErrorMessage, true))
	}()
	return &StreamingResult{requestType: requestType, events: events}
}

// persistItem stores a finished item, updating it when it was streamed
// earlier under the same id.
func (s *Server) persistItem(ctx context.Context, userID string, item datatypes.ThreadItem) error {
	err := s.store.SaveItem(ctx, userID, item.ThreadID, item)
	if errors.Is(err, store.ErrNotFound) {
		err = s.store.AddThreadItem(ctx, userID, item.ThreadID, item)
	}
	if err != nil {
		return fmt.Errorf("persist item %s: %w", item.ID, err)
	}
	return nil
}

// respondToInput saves the user's message and streams the answer.
func (s *Server) respondToInput(ctx context.Context, userID string, thread datatypes.ThreadMetadata, input datatypes.UserMessageInput, emit responder.Emitter) error {
	msg, err := s.userMessage(ctx, userID, thread, input)
	if err != nil {
		return err
	}
	if err := emit(datatypes.ItemDone(msg)); err != nil {
		return err
	}
	if thread.Title == "" {
		if title := threadTitle(msg.Text()); title != "" {
			thread.Title = title
			if err := s.store.SaveThread(ctx, userID, thread); err != nil {
				return fmt.Errorf("save thread title: %w", err)
			}
			if err := emit(datatypes.ThreadUpdated(thread)); err != nil {
				return err
			}
		}
	}
	return s.responder.Respond(ctx, userID, thread, msg, emit)
}

// maxTitleRunes bounds titles derived from the first message.
const maxTitleRunes = 60

// threadTitle derives a title from message text: whitespace is collapsed
// and long text is cut at maxTitleRunes with "...".
func threadTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
	}
	return title
}

// userMessage builds the thread item for input. Attachment ids are
// resolved against the caller's uploads.
func (s *Server) userMessage(ctx context.Context, userID string, thread datatypes.ThreadMetadata, input datatypes.UserMessageInput) (datatypes.ThreadItem, error) {
	attachments := make([]datatypes.Attachment, 0, len(input.Attachments))
	for _, id := range input.Attachments {
		a, err := s.store.LoadAttachment(ctx, userID, id)
		if err != nil {
			return datatypes.ThreadItem{}, fmt.Errorf("load attachment %s: %w", id, err)
		}
		attachments = append(attachments, a)
	}
	content := input.Content
	if content == nil {
		content = []datatypes.ContentPart{}
	}
	return datatypes.ThreadItem{
		Type:             datatypes.ItemUserMessage,
		ID:               store.NewItemID("message"),
		ThreadID:         thread.ID,
		CreatedAt:        s.now(),
		Content:          content,
		Attachments:      attachments,
		QuotedText:       input.QuotedText,
		InferenceOptions: input.InferenceOptions,
	}, nil
}

// removeItemsAfter deletes every item created after itemID and announces
// each removal.
func (s *Server) removeItemsAfter(ctx context.Context, userID, threadID, itemID string, emit responder.Emitter) error {
	page, err := s.store.LoadThreadItems(ctx, userID, threadID, itemID, retryScanLimit, datatypes.OrderAsc)
	if err != nil {
		return fmt.Errorf("load items after %s: %w", itemID, err)
	}
	for _, it := range page.Data {
		if err := s.store.DeleteThreadItem(ctx, userID, threadID, it.ID); err != nil {
			return fmt.Errorf("delete item %s: %w", it.ID, err)
		}
		if err := emit(datatypes.ItemRemoved(it.ID)); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// JSON Requests
// =============================================================================

type empty struct{}

func (s *Server) processJSON(ctx context.Context, userID string, req *datatypes.Request) (Result, error) {
	switch p := req.Params.(type) {
	case *datatypes.GetThreadParams:
		thread, err := s.loadFullThread(ctx, userID, p.ThreadID)
		if err != nil {
			return nil, err
		}
		return &JSONResult{Value: thread}, nil

	case *datatypes.ListThreadsParams:
		page, err := s.store.LoadThreads(ctx, userID, p.After, p.Limit, p.Order)
		if err != nil {
			return nil, err
		}
		return &JSONResult{Value: page}, nil

	case *datatypes.UpdateThreadParams:
		thread, err := s.store.LoadThread(ctx, userID, p.ThreadID)
		if err != nil {
			return nil, err
		}
		thread.Title = p.Title
		if err := s.store.SaveThread(ctx, userID, thread); err != nil {
			return nil, err
		}
		return &JSONResult{Value: thread}, nil

	case *datatypes.DeleteThreadParams:
		if err := s.store.DeleteThread(ctx, userID, p.ThreadID); err != nil {
			return nil, err
		}
		s.auditLog(ctx, userID, "thread.delete", "delete", "thread", p.ThreadID, nil)
		return &JSONResult{Value: empty{}}, nil

	case *datatypes.ListItemsParams:
		page, err := s.store.LoadThreadItems(ctx, userID, p.ThreadID, p.After, p.Limit, p.Order)
		if err != nil {
			return nil, err
		}
		return &JSONResult{Value: page}, nil

	case *datatypes.FeedbackParams:
		if _, err := s.store.LoadThread(ctx, userID, p.ThreadID); err != nil {
			return nil, err
		}
		slog.Info("Item feedback", "thread_id", p.ThreadID, "items", p.ItemIDs, "kind", p.Kind)
		s.auditLog(ctx, userID, "items.feedback", p.Kind, "thread", p.ThreadID, map[string]any{"item_ids": p.ItemIDs})
		return &JSONResult{Value: empty{}}, nil

	case *datatypes.CreateAttachmentParams:
		a, err := s.attachments.CreateAttachment(ctx, userID, p.Name, p.Size, p.MimeType)
		if err != nil {
			return nil, err
		}
		return &JSONResult{Value: a}, nil

	case *datatypes.DeleteAttachmentParams:
		if err := s.attachments.Delete(ctx, userID, p.AttachmentID); err != nil {
			return nil, err
		}
		return &JSONResult{Value: empty{}}, nil
	}
	return nil, ErrUnknownRequest
}

// loadFullThread returns the thread with its latest items in
// chronological order.
func (s *Server) loadFullThread(ctx context.Context, userID, threadID string) (datatypes.Thread, error) {
	meta, err := s.store.LoadThread(ctx, userID, threadID)
	if err != nil {
		return datatypes.Thread{}, err
	}
	page, err := s.store.LoadThreadItems(ctx, userID, threadID, "", threadPageSize, datatypes.OrderDesc)
	if err != nil {
		return datatypes.Thread{}, err
	}
	for i, j := 0, len(page.Data)-1; i < j; i, j = i+1, j-1 {
		page.Data[i], page.Data[j] = page.Data[j], page.Data[i]
	}
	if page.Data == nil {
		page.Data = []datatypes.ThreadItem{}
	}
	return datatypes.Thread{ThreadMetadata: meta, Items: page}, nil
}

func (s *Server) auditLog(ctx context.Context, userID, eventType, action, resourceType, resourceID string, meta map[string]any) {
	_ = s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    s.now().UTC(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "success",
		Metadata:     meta,
	})
}
