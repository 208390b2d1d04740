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

// =============================================================================
// Stream Event Types
// =============================================================================

// Stream event kinds.
const (
	EventThreadCreated = "thread.created"
	EventThreadUpdated = "thread.updated"
	EventItemAdded     = "thread.item.added"
	EventItemUpdated   = "thread.item.updated"
	EventItemDone      = "thread.item.done"
	EventItemRemoved   = "thread.item.removed"
	EventError         = "error"
)

// Item update kinds carried by thread.item.updated.
const (
	UpdateTaskAdded   = "workflow.task.added"
	UpdateTaskUpdated = "workflow.task.updated"
	UpdateTextDelta   = "assistant_message.content_part.text_delta"
)

// ErrorCodeStream marks a failure that ended a response stream.
const ErrorCodeStream = "stream.error"

// ItemUpdate is an incremental change to an item already on screen.
type ItemUpdate struct {
	Type         string `json:"type"`
	TaskIndex    *int   `json:"task_index,omitempty"`
	Task         *Task  `json:"task,omitempty"`
	ContentIndex *int   `json:"content_index,omitempty"`
	Delta        string `json:"delta,omitempty"`
}

// Event is one message of a ChatKit response stream. Type selects which
// of the remaining fields are set.
type Event struct {
	Type       string      `json:"type"`
	Thread     *Thread     `json:"thread,omitempty"`
	Item       *ThreadItem `json:"item,omitempty"`
	ItemID     string      `json:"item_id,omitempty"`
	Update     *ItemUpdate `json:"update,omitempty"`
	Code       string      `json:"code,omitempty"`
	Message    string      `json:"message,omitempty"`
	AllowRetry bool        `json:"allow_retry,omitempty"`
}

// ThreadCreated announces a new thread.
func ThreadCreated(t ThreadMetadata) Event {
	return Event{Type: EventThreadCreated, Thread: &Thread{ThreadMetadata: t, Items: Page[ThreadItem]{Data: []ThreadItem{}}}}
}

// ThreadUpdated announces changed thread metadata.
func ThreadUpdated(t ThreadMetadata) Event {
	return Event{Type: EventThreadUpdated, Thread: &Thread{ThreadMetadata: t, Items: Page[ThreadItem]{Data: []ThreadItem{}}}}
}

// ItemAdded shows an item that is still being produced.
func ItemAdded(item ThreadItem) Event {
	return Event{Type: EventItemAdded, Item: &item}
}

// ItemDone replaces an item with its final form.
func ItemDone(item ThreadItem) Event {
	return Event{Type: EventItemDone, Item: &item}
}

// ItemRemoved drops an item from the view.
func ItemRemoved(itemID string) Event {
	return Event{Type: EventItemRemoved, ItemID: itemID}
}

// TaskAdded appends a task to a workflow item.
func TaskAdded(itemID string, index int, task Task) Event {
	return Event{Type: EventItemUpdated, ItemID: itemID, Update: &ItemUpdate{
		Type: UpdateTaskAdded, TaskIndex: &index, Task: &task,
	}}
}

// TaskUpdated replaces a task of a workflow item.
func TaskUpdated(itemID string, index int, task Task) Event {
	return Event{Type: EventItemUpdated, ItemID: itemID, Update: &ItemUpdate{
		Type: UpdateTaskUpdated, TaskIndex: &index, Task: &task,
	}}
}

// TextDelta appends text to a content part of an assistant message.
func TextDelta(itemID string, contentIndex int, delta string) Event {
	return Event{Type: EventItemUpdated, ItemID: itemID, Update: &ItemUpdate{
		Type: UpdateTextDelta, ContentIndex: &contentIndex, Delta: delta,
	}}
}

// ErrorEvent reports a failure to the client.
func ErrorEvent(code, message string, allowRetry bool) Event {
	return Event{Type: EventError, Code: code, Message: message, AllowRetry: allowRetry}
}
