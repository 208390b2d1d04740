// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice"
	bob   = "bob"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "chatkit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func message(id string, at time.Time, text string) datatypes.ThreadItem {
	return datatypes.ThreadItem{
		Type:      datatypes.ItemUserMessage,
		ID:        id,
		CreatedAt: at,
		Content:   []datatypes.ContentPart{{Type: datatypes.PartInputText, Text: text}},
	}
}

func TestOpen(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := Open("  ")
		assert.Error(t, err)
	})

	t.Run("reopen keeps data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db.sqlite")
		s, err := Open(path)
		require.NoError(t, err)
		ctx := context.Background()
		require.NoError(t, s.SaveThread(ctx, alice, datatypes.ThreadMetadata{ID: "thr_1"}))
		require.NoError(t, s.Close())

		s, err = Open(path)
		require.NoError(t, err)
		defer s.Close()
		_, err = s.LoadThread(ctx, alice, "thr_1")
		assert.NoError(t, err)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestIDs(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^thr_[0-9a-f]{8}$`), NewThreadID())
	tests := map[string]string{
		"message":    "msg",
		"tool_call":  "tc",
		"task":       "tsk",
		"workflow":   "wf",
		"attachment": "atc",
		"sdk_hidden": "itm",
	}
	for kind, prefix := range tests {
		assert.Regexp(t, regexp.MustCompile(`^`+prefix+`_[0-9a-f]{8}$`), NewItemID(kind), kind)
	}
	assert.NotEqual(t, NewThreadID(), NewThreadID())
}

func TestThreads(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	thread := datatypes.ThreadMetadata{ID: "thr_a", Title: "Flights", CreatedAt: base, Status: datatypes.ThreadStatus{Type: datatypes.ThreadStatusActive}}
	require.NoError(t, s.SaveThread(ctx, alice, thread))

	got, err := s.LoadThread(ctx, alice, "thr_a")
	require.NoError(t, err)
	assert.Equal(t, "Flights", got.Title)
	assert.True(t, got.CreatedAt.Equal(base))

	t.Run("scoped by user", func(t *testing.T) {
		_, err := s.LoadThread(ctx, bob, "thr_a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		thread.Title = "Renamed"
		require.NoError(t, s.SaveThread(ctx, alice, thread))
		got, err := s.LoadThread(ctx, alice, "thr_a")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
	})

	t.Run("list pages", func(t *testing.T) {
		for i, id := range []string{"thr_b", "thr_c"} {
			require.NoError(t, s.SaveThread(ctx, alice, datatypes.ThreadMetadata{ID: id, CreatedAt: base.Add(time.Duration(i+1) * time.Minute)}))
		}
		require.NoError(t, s.SaveThread(ctx, bob, datatypes.ThreadMetadata{ID: "thr_z", CreatedAt: base}))

		page, err := s.LoadThreads(ctx, alice, "", 2, datatypes.OrderDesc)
		require.NoError(t, err)
		require.Len(t, page.Data, 2)
		assert.Equal(t, "thr_c", page.Data[0].ID)
		assert.Equal(t, "thr_b", page.Data[1].ID)
		assert.True(t, page.HasMore)
		assert.Equal(t, "thr_b", page.After)

		page, err = s.LoadThreads(ctx, alice, page.After, 2, datatypes.OrderDesc)
		require.NoError(t, err)
		require.Len(t, page.Data, 1)
		assert.Equal(t, "thr_a", page.Data[0].ID)
		assert.False(t, page.HasMore)
	})

	t.Run("delete removes items", func(t *testing.T) {
		require.NoError(t, s.AddThreadItem(ctx, alice, "thr_a", message("msg_1", base, "hi")))
		require.NoError(t, s.DeleteThread(ctx, alice, "thr_a"))
		_, err := s.LoadThread(ctx, alice, "thr_a")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.LoadItem(ctx, alice, "thr_a", "msg_1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestItems(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveThread(ctx, alice, datatypes.ThreadMetadata{ID: "thr_1", CreatedAt: base}))

	// msg_b and msg_c share a timestamp; the id breaks the tie.
	require.NoError(t, s.AddThreadItem(ctx, alice, "thr_1", message("msg_a", base, "one")))
	require.NoError(t, s.AddThreadItem(ctx, alice, "thr_1", message("msg_c", base.Add(time.Second), "three")))
	require.NoError(t, s.AddThreadItem(ctx, alice, "thr_1", message("msg_b", base.Add(time.Second), "two")))
	require.NoError(t, s.AddThreadItem(ctx, alice, "thr_1", message("msg_d", base.Add(2*time.Second), "four")))

	ids := func(p datatypes.Page[datatypes.ThreadItem]) []string {
		var out []string
		for _, it := range p.Data {
			out = append(out, it.ID)
		}
		return out
	}

	t.Run("asc with cursor", func(t *testing.T) {
		page, err := s.LoadThreadItems(ctx, alice, "thr_1", "", 2, datatypes.OrderAsc)
		require.NoError(t, err)
		assert.Equal(t, []string{"msg_a", "msg_b"}, ids(page))
		assert.True(t, page.HasMore)

		page, err = s.LoadThreadItems(ctx, alice, "thr_1", page.After, 2, datatypes.OrderAsc)
		require.NoError(t, err)
		assert.Equal(t, []string{"msg_c", "msg_d"}, ids(page))
		assert.False(t, page.HasMore)
		assert.Equal(t, "msg_d", page.After)
	})

	t.Run("desc", func(t *testing.T) {
		page, err := s.LoadThreadItems(ctx, alice, "thr_1", "", 10, datatypes.OrderDesc)
		require.NoError(t, err)
		assert.Equal(t, []string{"msg_d", "msg_c", "msg_b", "msg_a"}, ids(page))
		assert.False(t, page.HasMore)
	})

	t.Run("unknown cursor", func(t *testing.T) {
		_, err := s.LoadThreadItems(ctx, alice, "thr_1", "msg_missing", 10, datatypes.OrderAsc)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other user sees nothing", func(t *testing.T) {
		page, err := s.LoadThreadItems(ctx, bob, "thr_1", "", 10, datatypes.OrderAsc)
		require.NoError(t, err)
		assert.Empty(t, page.Data)
		assert.Empty(t, page.After)
		_, err = s.LoadThreadItems(ctx, bob, "thr_1", "msg_a", 10, datatypes.OrderAsc)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save item updates in place", func(t *testing.T) {
		item := message("msg_b", time.Time{}, "edited")
		require.NoError(t, s.SaveItem(ctx, alice, "thr_1", item))
		got, err := s.LoadItem(ctx, alice, "thr_1", "msg_b")
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Text())
		assert.Equal(t, "thr_1", got.ThreadID)

		page, err := s.LoadThreadItems(ctx, alice, "thr_1", "", 10, datatypes.OrderAsc)
		require.NoError(t, err)
		assert.Equal(t, []string{"msg_a", "msg_b", "msg_c", "msg_d"}, ids(page))
	})

	t.Run("save missing item", func(t *testing.T) {
		err := s.SaveItem(ctx, alice, "thr_1", message("msg_zz", base, "x"))
		assert.ErrorIs(t, err, ErrNotFound)
		err = s.SaveItem(ctx, bob, "thr_1", message("msg_a", base, "x"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete item", func(t *testing.T) {
		require.NoError(t, s.DeleteThreadItem(ctx, alice, "thr_1", "msg_d"))
		_, err := s.LoadItem(ctx, alice, "thr_1", "msg_d")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate add fails", func(t *testing.T) {
		assert.Error(t, s.AddThreadItem(ctx, alice, "thr_1", message("msg_a", base, "again")))
	})
}

func TestAttachments(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	a := datatypes.Attachment{ID: "atc_1", Type: datatypes.AttachmentImage, MimeType: "image/png", Name: "sign.png"}
	require.NoError(t, s.SaveAttachment(ctx, alice, a))

	a.Name = "sign-2.png"
	require.NoError(t, s.SaveAttachment(ctx, alice, a))

	got, err := s.LoadAttachment(ctx, alice, "atc_1")
	require.NoError(t, err)
	assert.Equal(t, "sign-2.png", got.Name)

	_, err = s.LoadAttachment(ctx, bob, "atc_1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteAttachment(ctx, alice, "atc_1"))
	_, err = s.LoadAttachment(ctx, alice, "atc_1")
	assert.ErrorIs(t, err, ErrNotFound)
}
