// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/SwiftRover/pkg/validation"
	"github.com/go-playground/validator/v10"
)

// MaxInputTextBytes caps a single text part of a user message.
const MaxInputTextBytes = 32 * 1024

// ErrUnknownRequest is returned for a request type the server does not handle.
var ErrUnknownRequest = errors.New("unknown request type")

// requestValidate is the validator instance for ChatKit requests.
// Initialized in init() with custom validators.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()

	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = requestValidate.RegisterValidation("safeid", validateSafeID)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxInputTextBytes
}

// validateSafeID accepts identifiers that can be used as a file name:
// non-empty, no path separators and no parent references.
func validateSafeID(fl validator.FieldLevel) bool {
	return IsSafeID(fl.Field().String())
}

// IsSafeID reports whether id can name a file inside a flat directory.
func IsSafeID(id string) bool {
	return validation.ValidateFileID(id) == nil
}

// =============================================================================
// Request Envelope
// =============================================================================

// Request types. The first four stream their response.
const (
	RequestCreateThread     = "threads.create"
	RequestAddUserMessage   = "threads.add_user_message"
	RequestCustomAction     = "threads.custom_action"
	RequestRetryAfterItem   = "threads.retry_after_item"
	RequestGetThread        = "threads.get_by_id"
	RequestListThreads      = "threads.list"
	RequestUpdateThread     = "threads.update"
	RequestDeleteThread     = "threads.delete"
	RequestListItems        = "items.list"
	RequestItemsFeedback    = "items.feedback"
	RequestCreateAttachment = "attachments.create"
	RequestDeleteAttachment = "attachments.delete"
)

// Page ordering.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Request is a decoded and validated ChatKit request. Params holds one of
// the *...Params types below, matching Type.
type Request struct {
	Type     string
	Params   any
	Metadata map[string]any
}

// Streaming reports whether the response is an event stream.
func (r *Request) Streaming() bool {
	switch r.Type {
	case RequestCreateThread, RequestAddUserMessage, RequestCustomAction, RequestRetryAfterItem:
		return true
	}
	return false
}

type envelope struct {
	Type     string          `json:"type"`
	Params   json.RawMessage `json:"params"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// ParseRequest decodes a request body, selects the params type for its
// "type" field and validates the params.
//
// # Outputs
//
//   - *Request: The decoded request.
//   - error: ErrUnknownRequest (wrapped) for unsupported types, or a
//     decoding/validation error.
func ParseRequest(body []byte) (*Request, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	var params interface{ normalize() }
	switch env.Type {
	case RequestCreateThread:
		params = &CreateThreadParams{}
	case RequestAddUserMessage:
		params = &AddUserMessageParams{}
	case RequestCustomAction:
		params = &CustomActionParams{}
	case RequestRetryAfterItem:
		params = &RetryAfterItemParams{}
	case RequestGetThread:
		params = &GetThreadParams{}
	case RequestListThreads:
		params = &ListThreadsParams{}
	case RequestUpdateThread:
		params = &UpdateThreadParams{}
	case RequestDeleteThread:
		params = &DeleteThreadParams{}
	case RequestListItems:
		params = &ListItemsParams{}
	case RequestItemsFeedback:
		params = &FeedbackParams{}
	case RequestCreateAttachment:
		params = &CreateAttachmentParams{}
	case RequestDeleteAttachment:
		params = &DeleteAttachmentParams{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, env.Type)
	}

	raw := bytes.TrimSpace(env.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", env.Type, err)
	}
	params.normalize()
	if err := requestValidate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid %s params: %w", env.Type, err)
	}
	return &Request{Type: env.Type, Params: params, Metadata: env.Metadata}, nil
}

// =============================================================================
// Streaming Params
// =============================================================================

// UserMessageInput is the composer payload of a new user message.
type UserMessageInput struct {
	Content          []ContentPart     `json:"content" validate:"dive"`
	Attachments      []string          `json:"attachments,omitempty" validate:"dive,safeid"`
	QuotedText       string            `json:"quoted_text,omitempty" validate:"maxbytes"`
	InferenceOptions *InferenceOptions `json:"inference_options,omitempty"`
}

// CreateThreadParams starts a thread with a first message.
type CreateThreadParams struct {
	Input UserMessageInput `json:"input"`
}

func (p *CreateThreadParams) normalize() {}

// AddUserMessageParams appends a message to an existing thread.
type AddUserMessageParams struct {
	ThreadID string           `json:"thread_id" validate:"required,safeid"`
	Input    UserMessageInput `json:"input"`
}

func (p *AddUserMessageParams) normalize() {}

// Action is a widget button action.
type Action struct {
	Type    string         `json:"type" validate:"required,max=128"`
	Payload map[string]any `json:"payload,omitempty"`
}

// PayloadString returns payload[key] when it is a string.
func (a Action) PayloadString(key string) string {
	s, _ := a.Payload[key].(string)
	return s
}

// CustomActionParams routes a widget action to the server.
type CustomActionParams struct {
	ThreadID string `json:"thread_id" validate:"required,safeid"`
	ItemID   string `json:"item_id,omitempty" validate:"omitempty,safeid"`
	Action   Action `json:"action"`
}

func (p *CustomActionParams) normalize() {}

// RetryAfterItemParams regenerates the response to a user message.
type RetryAfterItemParams struct {
	ThreadID string `json:"thread_id" validate:"required,safeid"`
	ItemID   string `json:"item_id" validate:"required,safeid"`
}

func (p *RetryAfterItemParams) normalize() {}

// =============================================================================
// Non-streaming Params
// =============================================================================

// GetThreadParams loads one thread.
type GetThreadParams struct {
	ThreadID string `json:"thread_id" validate:"required,safeid"`
}

func (p *GetThreadParams) normalize() {}

// ListThreadsParams pages through the caller's threads.
type ListThreadsParams struct {
	Limit int    `json:"limit,omitempty" validate:"min=1,max=100"`
	Order string `json:"order,omitempty" validate:"oneof=asc desc"`
	After string `json:"after,omitempty" validate:"omitempty,safeid"`
}

func (p *ListThreadsParams) normalize() {
	p.Limit, p.Order = pageDefaults(p.Limit, p.Order)
}

// UpdateThreadParams renames a thread.
type UpdateThreadParams struct {
	ThreadID string `json:"thread_id" validate:"required,safeid"`
	Title    string `json:"title" validate:"max=512"`
}

func (p *UpdateThreadParams) normalize() { p.Title = strings.TrimSpace(p.Title) }

// DeleteThreadParams removes a thread and its items.
type DeleteThreadParams struct {
	ThreadID string `json:"thread_id" validate:"required,safeid"`
}

func (p *DeleteThreadParams) normalize() {}

// ListItemsParams pages through a thread's items.
type ListItemsParams struct {
	ThreadID string `json:"thread_id" validate:"required,safeid"`
	Limit    int    `json:"limit,omitempty" validate:"min=1,max=100"`
	Order    string `json:"order,omitempty" validate:"oneof=asc desc"`
	After    string `json:"after,omitempty" validate:"omitempty,safeid"`
}

func (p *ListItemsParams) normalize() {
	p.Limit, p.Order = pageDefaults(p.Limit, p.Order)
}

// FeedbackParams records a thumbs up/down on items.
type FeedbackParams struct {
	ThreadID string   `json:"thread_id" validate:"required,safeid"`
	ItemIDs  []string `json:"item_ids" validate:"required,min=1,dive,safeid"`
	Kind     string   `json:"kind" validate:"required,oneof=positive negative"`
}

func (p *FeedbackParams) normalize() {}

// CreateAttachmentParams registers an upload before its bytes arrive.
type CreateAttachmentParams struct {
	Name     string `json:"name" validate:"required,max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
	MimeType string `json:"mime_type" validate:"required,max=255"`
}

func (p *CreateAttachmentParams) normalize() {
	if p.MimeType == "" {
		p.MimeType = "application/octet-stream"
	}
}

// DeleteAttachmentParams removes an attachment.
type DeleteAttachmentParams struct {
	AttachmentID string `json:"attachment_id" validate:"required,safeid"`
}

func (p *DeleteAttachmentParams) normalize() {}

func pageDefaults(limit int, order string) (int, string) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	order = strings.ToLower(order)
	if order != OrderAsc {
		order = OrderDesc
	}
	return limit, order
}
