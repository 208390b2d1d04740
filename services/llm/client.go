// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm wraps the Azure OpenAI endpoints SwiftRover talks to:
// chat completions (tool calling, vision) and the Responses API used for
// reasoning and intent classification.
package llm

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrNotConfigured is returned by helpers when no client was configured.
var ErrNotConfigured = errors.New("llm client not configured")

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Images holds data URIs (data:image/png;base64,...) or https URLs
	// attached to a user message.
	Images []string `json:"images,omitempty"`

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result message to its request.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDefinition declares a function the model may call. Parameters is a
// JSON schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a function invocation requested by the model. Arguments is the
// raw JSON argument string as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string `json:"-"`

	// Tools offered to the model. Empty means no tool calling.
	Tools []ToolDefinition `json:"-"`

	// ImageDetail is the vision detail level ("low", "high", "auto").
	ImageDetail string `json:"-"`
}

// StreamEventType distinguishes streamed deltas.
type StreamEventType string

const (
	// StreamEventToken carries a text delta in Content.
	StreamEventToken StreamEventType = "token"

	// StreamEventToolCalls carries the fully assembled tool calls of a turn.
	// It is delivered at most once, after the last token.
	StreamEventToolCalls StreamEventType = "tool_calls"
)

// StreamEvent is one callback payload of ChatStream.
type StreamEvent struct {
	Type      StreamEventType
	Content   string
	ToolCalls []ToolCall
}

// StreamCallback receives stream events in order. Returning an error
// aborts the stream and ChatStream returns that error wrapped.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the chat interface of a model backend.
type LLMClient interface {
	// Generate answers a single prompt, with params.SystemPrompt as the
	// system message.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat runs a non-streaming completion over messages.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream runs a streaming completion, delivering token deltas and
	// assembled tool calls to callback.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
