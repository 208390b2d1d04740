// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatkit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/extensions"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/attachments"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/responder"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Helpers
// =============================================================================

// ticker is a clock that advances one millisecond per call so items get
// distinct creation times.
type ticker struct {
	mu sync.Mutex
	t  time.Time
}

func (c *ticker) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fakeResponder struct {
	clock   *ticker
	history *store.Store

	mu        sync.Mutex
	responded []datatypes.ThreadItem
	seen      [][]datatypes.ThreadItem
	actions   []datatypes.Action
	senders   []*datatypes.ThreadItem

	respondErr error
	endless    bool
}

func (f *fakeResponder) Respond(ctx context.Context, userID string, thread datatypes.ThreadMetadata, msg datatypes.ThreadItem, emit responder.Emitter) error {
	page, err := f.history.LoadThreadItems(ctx, userID, thread.ID, "", 100, datatypes.OrderAsc)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.responded = append(f.responded, msg)
	f.seen = append(f.seen, page.Data)
	f.mu.Unlock()

	if f.respondErr != nil {
		return f.respondErr
	}

	id := store.NewItemID("message")
	item := datatypes.ThreadItem{Type: datatypes.ItemAssistantMessage, ID: id, ThreadID: thread.ID, CreatedAt: f.clock.now(),
		Content: []datatypes.ContentPart{datatypes.OutputText("")}}
	if err := emit(datatypes.ItemAdded(item)); err != nil {
		return err
	}
	if f.endless {
		for {
			if err := emit(datatypes.TextDelta(id, 0, "…")); err != nil {
				return err
			}
		}
	}
	if err := emit(datatypes.TextDelta(id, 0, "echo: "+msg.Text())); err != nil {
		return err
	}
	item.Content = []datatypes.ContentPart{datatypes.OutputText("echo: " + msg.Text())}
	return emit(datatypes.ItemDone(item))
}

func (f *fakeResponder) Action(_ context.Context, thread datatypes.ThreadMetadata, action datatypes.Action, sender *datatypes.ThreadItem, emit responder.Emitter) error {
	f.mu.Lock()
	f.actions = append(f.actions, action)
	f.senders = append(f.senders, sender)
	f.mu.Unlock()
	return emit(datatypes.ItemDone(datatypes.ThreadItem{
		Type: datatypes.ItemAssistantMessage, ID: store.NewItemID("message"), ThreadID: thread.ID, CreatedAt: f.clock.now(),
		Content: []datatypes.ContentPart{datatypes.OutputText("did " + action.Type)},
	}))
}

type recordingAudit struct {
	mu     sync.Mutex
	events []extensions.AuditEvent
}

func (a *recordingAudit) Log(_ context.Context, ev extensions.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAudit) Flush(context.Context) error { return nil }

type fixture struct {
	server    *Server
	store     *store.Store
	responder *fakeResponder
	audit     *recordingAudit
	clock     *ticker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "chatkit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	files, err := attachments.New(filepath.Join(dir, "uploads"), "http://localhost:8001", st)
	require.NoError(t, err)

	clock := &ticker{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	resp := &fakeResponder{clock: clock, history: st}
	audit := &recordingAudit{}
	return &fixture{
		server:    NewServer(Config{Store: st, Attachments: files, Responder: resp, Audit: audit, Now: clock.now}),
		store:     st,
		responder: resp,
		audit:     audit,
		clock:     clock,
	}
}

func (f *fixture) stream(t *testing.T, body string) []datatypes.Event {
	t.Helper()
	res, err := f.server.Process(context.Background(), "alice", []byte(body))
	require.NoError(t, err)
	sr, ok := res.(*StreamingResult)
	require.True(t, ok, "expected a streaming result, got %T", res)
	var events []datatypes.Event
	for ev := range sr.Events() {
		events = append(events, ev)
	}
	return events
}

func (f *fixture) json(t *testing.T, userID, body string) any {
	t.Helper()
	res, err := f.server.Process(context.Background(), userID, []byte(body))
	require.NoError(t, err)
	jr, ok := res.(*JSONResult)
	require.True(t, ok, "expected a JSON result, got %T", res)
	return jr.Value
}

func types(events []datatypes.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func createBody(text string) string {
	return fmt.Sprintf(`{"type":"threads.create","params":{"input":{"content":[{"type":"input_text","text":%q}]}}}`, text)
}

func (f *fixture) createThread(t *testing.T, text string) string {
	t.Helper()
	events := f.stream(t, createBody(text))
	require.NotEmpty(t, events)
	require.Equal(t, datatypes.EventThreadCreated, events[0].Type)
	return events[0].Thread.ID
}

// =============================================================================
// Streaming Requests
// =============================================================================

func TestCreateThread(t *testing.T) {
	f := newFixture(t)
	events := f.stream(t, createBody("hello"))

	require.Equal(t, []string{
		datatypes.EventThreadCreated,
		datatypes.EventItemDone,
		datatypes.EventThreadUpdated,
		datatypes.EventItemAdded,
		datatypes.EventItemUpdated,
		datatypes.EventItemDone,
	}, types(events))

	thread := events[0].Thread
	assert.Regexp(t, `^thr_[0-9a-f]{8}$`, thread.ID)
	assert.Equal(t, datatypes.ThreadStatusActive, thread.Status.Type)
	assert.NotNil(t, thread.Items.Data)

	user := events[1].Item
	assert.Equal(t, datatypes.ItemUserMessage, user.Type)
	assert.Equal(t, thread.ID, user.ThreadID)
	assert.Equal(t, "hello", user.Text())

	require.Len(t, f.responder.seen, 1)
	require.Len(t, f.responder.seen[0], 1, "the user message is stored before responding")
	assert.Equal(t, user.ID, f.responder.seen[0][0].ID)

	page, err := f.store.LoadThreadItems(context.Background(), "alice", thread.ID, "", 10, datatypes.OrderAsc)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "echo: hello", page.Data[1].Text())
	assert.Equal(t, events[3].Item.ID, page.Data[1].ID)

	assert.Equal(t, thread.ID, events[2].Thread.ID)
	assert.Equal(t, "hello", events[2].Thread.Title)
	saved, err := f.store.LoadThread(context.Background(), "alice", thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", saved.Title)

	_, err = f.store.LoadThread(context.Background(), "bob", thread.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestThreadTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "where is QF1", "where is QF1"},
		{"whitespace collapsed", "  where\n is   QF1 ", "where is QF1"},
		{"empty", "   ", ""},
		{"long text cut", strings.Repeat("a", 70), strings.Repeat("a", 60) + "..."},
		{"exactly the limit", strings.Repeat("b", 60), strings.Repeat("b", 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, threadTitle(tt.text))
		})
	}
}

func TestAddUserMessage(t *testing.T) {
	f := newFixture(t)
	threadID := f.createThread(t, "first")

	events := f.stream(t, fmt.Sprintf(`{"type":"threads.add_user_message","params":{"thread_id":%q,"input":{"content":[{"type":"input_text","text":"second"}]}}}`, threadID))
	require.Len(t, events, 4)
	assert.Equal(t, "second", events[0].Item.Text())
	require.Len(t, f.responder.seen, 2)
	assert.Len(t, f.responder.seen[1], 3)

	t.Run("unknown thread fails before streaming", func(t *testing.T) {
		_, err := f.server.Process(context.Background(), "alice",
			[]byte(`{"type":"threads.add_user_message","params":{"thread_id":"thr_missing","input":{"content":[]}}}`))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("other user's thread", func(t *testing.T) {
		_, err := f.server.Process(context.Background(), "bob",
			[]byte(fmt.Sprintf(`{"type":"threads.add_user_message","params":{"thread_id":%q,"input":{"content":[]}}}`, threadID)))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestUserMessageAttachments(t *testing.T) {
	f := newFixture(t)
	created := f.json(t, "alice", `{"type":"attachments.create","params":{"name":"sign.jpg","size":10,"mime_type":"image/jpeg"}}`)
	a, ok := created.(datatypes.Attachment)
	require.True(t, ok)
	assert.Equal(t, datatypes.AttachmentImage, a.Type)

	events := f.stream(t, fmt.Sprintf(`{"type":"threads.create","params":{"input":{"content":[],"attachments":[%q]}}}`, a.ID))
	require.GreaterOrEqual(t, len(events), 2)
	user := events[1].Item
	require.Len(t, user.Attachments, 1)
	assert.Equal(t, a, user.Attachments[0])
	assert.True(t, user.HasImage())

	t.Run("unknown attachment ends the stream with an error", func(t *testing.T) {
		events := f.stream(t, `{"type":"threads.create","params":{"input":{"content":[],"attachments":["atc_nothere"]}}}`)
		require.Equal(t, []string{datatypes.EventThreadCreated, datatypes.EventError}, types(events))
		assert.Equal(t, datatypes.ErrorCodeStream, events[1].Code)
	})
}

func TestStreamFailure(t *testing.T) {
	f := newFixture(t)
	f.responder.respondErr = errors.New("model exploded")

	events := f.stream(t, createBody("hi"))
	last := events[len(events)-1]
	assert.Equal(t, datatypes.EventError, last.Type)
	assert.Equal(t, datatypes.ErrorCodeStream, last.Code)
	assert.Equal(t, StreamErrorMessage, last.Message)
	assert.True(t, last.AllowRetry)
	assert.NotContains(t, last.Message, "exploded")
}

func TestStreamCancellation(t *testing.T) {
	f := newFixture(t)
	f.responder.endless = true

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.server.Process(ctx, "alice", []byte(createBody("stream forever")))
	require.NoError(t, err)
	events := res.(*StreamingResult).Events()

	for i := 0; i < 5; i++ {
		<-events
	}
	cancel()
	for range events {
	}
}

func TestCustomAction(t *testing.T) {
	f := newFixture(t)
	threadID := f.createThread(t, "airports")
	page, err := f.store.LoadThreadItems(context.Background(), "alice", threadID, "", 10, datatypes.OrderDesc)
	require.NoError(t, err)
	senderID := page.Data[0].ID

	events := f.stream(t, fmt.Sprintf(`{"type":"threads.custom_action","params":{"thread_id":%q,"item_id":%q,"action":{"type":"airport_selected","payload":{"iata":"SYD"}}}}`, threadID, senderID))
	require.Equal(t, []string{datatypes.EventItemDone}, types(events))
	assert.Equal(t, "did airport_selected", events[0].Item.Text())

	require.Len(t, f.responder.actions, 1)
	assert.Equal(t, "SYD", f.responder.actions[0].PayloadString("iata"))
	require.NotNil(t, f.responder.senders[0])
	assert.Equal(t, senderID, f.responder.senders[0].ID)

	t.Run("missing sender is tolerated", func(t *testing.T) {
		events := f.stream(t, fmt.Sprintf(`{"type":"threads.custom_action","params":{"thread_id":%q,"item_id":"msg_gone","action":{"type":"route_selected"}}}`, threadID))
		require.Len(t, events, 1)
		assert.Nil(t, f.responder.senders[1])
	})
}

func TestRetryAfterItem(t *testing.T) {
	f := newFixture(t)
	threadID := f.createThread(t, "try me")
	ctx := context.Background()

	page, err := f.store.LoadThreadItems(ctx, "alice", threadID, "", 10, datatypes.OrderAsc)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	userID, oldAnswer := page.Data[0].ID, page.Data[1].ID

	events := f.stream(t, fmt.Sprintf(`{"type":"threads.retry_after_item","params":{"thread_id":%q,"item_id":%q}}`, threadID, userID))
	require.Equal(t, []string{
		datatypes.EventItemRemoved,
		datatypes.EventItemAdded,
		datatypes.EventItemUpdated,
		datatypes.EventItemDone,
	}, types(events))
	assert.Equal(t, oldAnswer, events[0].ItemID)

	page, err = f.store.LoadThreadItems(ctx, "alice", threadID, "", 10, datatypes.OrderAsc)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, userID, page.Data[0].ID)
	assert.NotEqual(t, oldAnswer, page.Data[1].ID)
	assert.Equal(t, userID, f.responder.responded[1].ID)

	t.Run("only user messages can be retried", func(t *testing.T) {
		_, err := f.server.Process(ctx, "alice", []byte(fmt.Sprintf(
			`{"type":"threads.retry_after_item","params":{"thread_id":%q,"item_id":%q}}`, threadID, page.Data[1].ID)))
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

// =============================================================================
// JSON Requests
// =============================================================================

func TestGetThread(t *testing.T) {
	f := newFixture(t)
	threadID := f.createThread(t, "msg 0")
	for i := 1; i < 13; i++ {
		f.stream(t, fmt.Sprintf(`{"type":"threads.add_user_message","params":{"thread_id":%q,"input":{"content":[{"type":"input_text","text":"msg %d"}]}}}`, threadID, i))
	}

	thread, ok := f.json(t, "alice", fmt.Sprintf(`{"type":"threads.get_by_id","params":{"thread_id":%q}}`, threadID)).(datatypes.Thread)
	require.True(t, ok)
	assert.Equal(t, threadID, thread.ID)
	require.Len(t, thread.Items.Data, threadPageSize)
	assert.True(t, thread.Items.HasMore)
	for i := 1; i < len(thread.Items.Data); i++ {
		assert.False(t, thread.Items.Data[i].CreatedAt.Before(thread.Items.Data[i-1].CreatedAt), "chronological order")
	}
	assert.Equal(t, "echo: msg 12", thread.Items.Data[len(thread.Items.Data)-1].Text())

	_, err := f.server.Process(context.Background(), "bob", []byte(fmt.Sprintf(`{"type":"threads.get_by_id","params":{"thread_id":%q}}`, threadID)))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestThreadManagement(t *testing.T) {
	f := newFixture(t)
	first := f.createThread(t, "one")
	second := f.createThread(t, "two")

	page, ok := f.json(t, "alice", `{"type":"threads.list","params":{"limit":1}}`).(datatypes.Page[datatypes.ThreadMetadata])
	require.True(t, ok)
	require.Len(t, page.Data, 1)
	assert.Equal(t, second, page.Data[0].ID, "newest first by default")
	assert.True(t, page.HasMore)

	updated, ok := f.json(t, "alice", fmt.Sprintf(`{"type":"threads.update","params":{"thread_id":%q,"title":"  Trip to Sydney  "}}`, first)).(datatypes.ThreadMetadata)
	require.True(t, ok)
	assert.Equal(t, "Trip to Sydney", updated.Title)
	stored, err := f.store.LoadThread(context.Background(), "alice", first)
	require.NoError(t, err)
	assert.Equal(t, "Trip to Sydney", stored.Title)

	items, ok := f.json(t, "alice", fmt.Sprintf(`{"type":"items.list","params":{"thread_id":%q,"order":"asc"}}`, first)).(datatypes.Page[datatypes.ThreadItem])
	require.True(t, ok)
	require.Len(t, items.Data, 2)
	assert.Equal(t, datatypes.ItemUserMessage, items.Data[0].Type)

	f.json(t, "alice", fmt.Sprintf(`{"type":"items.feedback","params":{"thread_id":%q,"item_ids":[%q],"kind":"positive"}}`, first, items.Data[1].ID))

	f.json(t, "alice", fmt.Sprintf(`{"type":"threads.delete","params":{"thread_id":%q}}`, first))
	_, err = f.store.LoadThread(context.Background(), "alice", first)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Len(t, f.audit.events, 2)
	assert.Equal(t, "items.feedback", f.audit.events[0].EventType)
	assert.Equal(t, "thread.delete", f.audit.events[1].EventType)
	assert.Equal(t, first, f.audit.events[1].ResourceID)
}

func TestAttachmentRequests(t *testing.T) {
	f := newFixture(t)
	a, ok := f.json(t, "alice", `{"type":"attachments.create","params":{"name":"notes.txt","size":3,"mime_type":"text/plain"}}`).(datatypes.Attachment)
	require.True(t, ok)
	assert.Equal(t, datatypes.AttachmentFile, a.Type)

	f.json(t, "alice", fmt.Sprintf(`{"type":"attachments.delete","params":{"attachment_id":%q}}`, a.ID))
	_, err := f.store.LoadAttachment(context.Background(), "alice", a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInvalidRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{`, ErrInvalidRequest},
		{"unknown type", `{"type":"threads.explode"}`, ErrUnknownRequest},
		{"missing thread id", `{"type":"threads.get_by_id","params":{}}`, ErrInvalidRequest},
		{"path traversal id", `{"type":"threads.delete","params":{"thread_id":"../etc"}}`, ErrInvalidRequest},
		{"bad feedback kind", `{"type":"items.feedback","params":{"thread_id":"thr_1","item_ids":["msg_1"],"kind":"meh"}}`, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.server.Process(context.Background(), "alice", []byte(tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
