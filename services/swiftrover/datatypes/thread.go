// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the ChatKit wire protocol: threads, thread items,
// stream events and the validated request envelopes accepted on /chatkit.
package datatypes

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/services/widgets"
)

// =============================================================================
// Thread Types
// =============================================================================

// ThreadStatusActive is the only status SwiftRover assigns.
const ThreadStatusActive = "active"

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus struct {
	Type string `json:"type"`
}

// ThreadMetadata is a thread without its items.
type ThreadMetadata struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Status    ThreadStatus   `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Thread is a thread plus one page of its items.
type Thread struct {
	ThreadMetadata
	Items Page[ThreadItem] `json:"items"`
}

// Page is one slice of a cursor-paginated listing. After is the id of the
// last element and is passed back to fetch the next page.
type Page[T any] struct {
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	After   string `json:"after,omitempty"`
}

// =============================================================================
// Thread Item Types
// =============================================================================

// Thread item kinds.
const (
	ItemUserMessage      = "user_message"
	ItemAssistantMessage = "assistant_message"
	ItemWidget           = "widget"
	ItemWorkflow         = "workflow"
	ItemHiddenContext    = "hidden_context_item"
)

// Content part kinds.
const (
	PartInputText  = "input_text"
	PartOutputText = "output_text"
	PartImage      = "image"
)

// Attachment kinds.
const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
)

// ContentPart is one piece of message content.
type ContentPart struct {
	Type         string            `json:"type" validate:"required,oneof=input_text output_text image"`
	Text         string            `json:"text,omitempty" validate:"maxbytes"`
	AttachmentID string            `json:"attachment_id,omitempty" validate:"omitempty,safeid"`
	Annotations  []json.RawMessage `json:"annotations,omitempty"`
}

// OutputText is an assistant text part.
func OutputText(text string) ContentPart {
	return ContentPart{Type: PartOutputText, Text: text}
}

// Attachment describes an uploaded file. Bytes live in the attachment store.
type Attachment struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	MimeType   string `json:"mime_type"`
	Name       string `json:"name"`
	UploadURL  string `json:"upload_url,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// IsImage reports whether the attachment should be treated as a picture.
func (a Attachment) IsImage() bool {
	return a.Type == AttachmentImage || strings.HasPrefix(a.MimeType, "image/")
}

// ToolChoice forces a specific client tool.
type ToolChoice struct {
	ID string `json:"id"`
}

// InferenceOptions are per-message model hints sent by the composer.
type InferenceOptions struct {
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`
	Model      string      `json:"model,omitempty"`
}

// Workflow task kinds and summary icons.
const (
	WorkflowReasoning = "reasoning"
	TaskThought       = "thought"
	IconSparkle       = "sparkle"
)

// Task is one step shown inside a workflow item.
type Task struct {
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// WorkflowSummary is the collapsed header of a finished workflow.
type WorkflowSummary struct {
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
}

// Workflow groups tasks under a collapsible header.
type Workflow struct {
	Type     string           `json:"type"`
	Tasks    []Task           `json:"tasks"`
	Summary  *WorkflowSummary `json:"summary,omitempty"`
	Expanded bool             `json:"expanded"`
}

// ThreadItem is any entry of a thread. Type selects which of the optional
// fields are meaningful.
//
// # Fields
//
//   - Content, Attachments, QuotedText, InferenceOptions: user messages.
//   - Content: assistant messages (output_text parts).
//   - Widget, CopyText: widget items.
//   - Workflow: workflow items.
//   - HiddenContent: hidden context items; serialised as "content".
type ThreadItem struct {
	Type             string            `json:"type"`
	ID               string            `json:"id"`
	ThreadID         string            `json:"thread_id"`
	CreatedAt        time.Time         `json:"created_at"`
	Content          []ContentPart     `json:"content,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	QuotedText       string            `json:"quoted_text,omitempty"`
	InferenceOptions *InferenceOptions `json:"inference_options,omitempty"`
	Widget           *widgets.Node     `json:"widget,omitempty"`
	CopyText         string            `json:"copy_text,omitempty"`
	Workflow         *Workflow         `json:"workflow,omitempty"`
	HiddenContent    string            `json:"-"`
}

type itemAlias ThreadItem

type hiddenItem struct {
	itemAlias
	Content string `json:"content"`
}

// MarshalJSON writes hidden context items with a plain string content.
func (it ThreadItem) MarshalJSON() ([]byte, error) {
	if it.Type == ItemHiddenContext {
		return json.Marshal(hiddenItem{itemAlias: itemAlias(it), Content: it.HiddenContent})
	}
	return json.Marshal(itemAlias(it))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (it *ThreadItem) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Type == ItemHiddenContext {
		var h hiddenItem
		if err := json.Unmarshal(data, &h); err != nil {
			return err
		}
		*it = ThreadItem(h.itemAlias)
		it.Content = nil
		it.HiddenContent = h.Content
		return nil
	}
	var a itemAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*it = ThreadItem(a)
	return nil
}

// Text joins the text parts of a message with single spaces.
func (it ThreadItem) Text() string {
	var parts []string
	for _, p := range it.Content {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, " ")
}

// HasImage reports whether the message carries an image attachment or an
// inline image part.
func (it ThreadItem) HasImage() bool {
	if len(it.Attachments) > 0 {
		return true
	}
	for _, p := range it.Content {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}
