// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists ChatKit threads, items and attachment metadata in
// SQLite.
//
// # Description
//
// Every row carries the id of the user that owns it and every query is
// scoped by that id, so one user can never read or modify another user's
// threads. Payloads are stored as JSON in a "data" column; the columns
// next to it exist only for lookup and ordering.
//
// # Thread Safety
//
// Store is safe for concurrent use; it wraps a *sql.DB.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store/migrations"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a thread, item, attachment or pagination
// cursor does not exist for the calling user.
var ErrNotFound = errors.New("not found")

const defaultLimit = 20

// Store is the SQLite-backed thread store.
type Store struct {
	db *sql.DB
}

// =============================================================================
// Lifecycle
// =============================================================================

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
//
// # Inputs
//
//   - path: Database file. Parent directories are created.
//
// # Outputs
//
//   - *Store: Ready to use.
//   - error: Non-nil if the file cannot be opened or migrated.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + clean + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// runMigrations applies every pending up migration. The migrate instance
// is not closed because closing it would close db.
func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// Identifiers
// =============================================================================

var itemPrefixes = map[string]string{
	"message":    "msg",
	"tool_call":  "tc",
	"task":       "tsk",
	"workflow":   "wf",
	"attachment": "atc",
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewThreadID returns a fresh thread id ("thr_" + 8 hex digits).
func NewThreadID() string {
	return "thr_" + shortID()
}

// NewItemID returns a fresh id for an item of the given kind, for example
// "msg_1a2b3c4d" for "message". Unknown kinds use the "itm" prefix.
func NewItemID(kind string) string {
	prefix, ok := itemPrefixes[kind]
	if !ok {
		prefix = "itm"
	}
	return prefix + "_" + shortID()
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().UnixMicro()
}

// =============================================================================
// Threads
// =============================================================================

// LoadThread returns the metadata of one thread.
func (s *Store) LoadThread(ctx context.Context, userID, threadID string) (datatypes.ThreadMetadata, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM threads WHERE id = ? AND user_id = ?`, threadID, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.ThreadMetadata{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return datatypes.ThreadMetadata{}, fmt.Errorf("load thread: %w", err)
	}
	var t datatypes.ThreadMetadata
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return datatypes.ThreadMetadata{}, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return t, nil
}

// SaveThread inserts or replaces a thread's metadata.
func (s *Store) SaveThread(ctx context.Context, userID string, t datatypes.ThreadMetadata) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM threads WHERE id = ? AND user_id = ?`, t.ID, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO threads (id, user_id, created_at, data) VALUES (?, ?, ?, ?)`,
			t.ID, userID, toMicros(t.CreatedAt), string(data))
		return err
	})
}

// LoadThreads pages through the user's threads by creation time.
func (s *Store) LoadThreads(ctx context.Context, userID, after string, limit int, order string) (datatypes.Page[datatypes.ThreadMetadata], error) {
	rows, hasMore, err := s.paginate(ctx, pageQuery{
		table: "threads",
		where: "user_id = ?",
		args:  []any{userID},
		after: after,
		limit: limit,
		order: order,
	})
	if err != nil {
		return datatypes.Page[datatypes.ThreadMetadata]{}, err
	}
	return decodePage[datatypes.ThreadMetadata](rows, hasMore)
}

// DeleteThread removes a thread and all of its items.
func (s *Store) DeleteThread(ctx context.Context, userID, threadID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM items WHERE thread_id = ? AND user_id = ?`, threadID, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM threads WHERE id = ? AND user_id = ?`, threadID, userID)
		return err
	})
}

// =============================================================================
// Items
// =============================================================================

// LoadThreadItems pages through a thread's items by creation time.
//
// # Inputs
//
//   - after: Id of the last item of the previous page, or "". It must be
//     an item of this thread, otherwise ErrNotFound is returned.
//   - limit: Page size; <= 0 means 20.
//   - order: "asc" or "desc".
func (s *Store) LoadThreadItems(ctx context.Context, userID, threadID, after string, limit int, order string) (datatypes.Page[datatypes.ThreadItem], error) {
	rows, hasMore, err := s.paginate(ctx, pageQuery{
		table: "items",
		where: "user_id = ? AND thread_id = ?",
		args:  []any{userID, threadID},
		after: after,
		limit: limit,
		order: order,
	})
	if err != nil {
		return datatypes.Page[datatypes.ThreadItem]{}, err
	}
	return decodePage[datatypes.ThreadItem](rows, hasMore)
}

// AddThreadItem inserts a new item into a thread.
func (s *Store) AddThreadItem(ctx context.Context, userID, threadID string, item datatypes.ThreadItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.ThreadID = threadID
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, thread_id, user_id, created_at, data) VALUES (?, ?, ?, ?, ?)`,
		item.ID, threadID, userID, toMicros(item.CreatedAt), string(data)); err != nil {
		return fmt.Errorf("add item %s: %w", item.ID, err)
	}
	return nil
}

// SaveItem replaces the payload of an existing item. Its position in the
// thread is unchanged.
func (s *Store) SaveItem(ctx context.Context, userID, threadID string, item datatypes.ThreadItem) error {
	item.ThreadID = threadID
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET data = ? WHERE id = ? AND thread_id = ? AND user_id = ?`,
		string(data), item.ID, threadID, userID)
	if err != nil {
		return fmt.Errorf("save item %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save item %s: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("item %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

// LoadItem returns one item of a thread.
func (s *Store) LoadItem(ctx context.Context, userID, threadID, itemID string) (datatypes.ThreadItem, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM items WHERE id = ? AND thread_id = ? AND user_id = ?`,
		itemID, threadID, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.ThreadItem{}, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return datatypes.ThreadItem{}, fmt.Errorf("load item: %w", err)
	}
	var item datatypes.ThreadItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return datatypes.ThreadItem{}, fmt.Errorf("decode item %s: %w", itemID, err)
	}
	return item, nil
}

// DeleteThreadItem removes one item.
func (s *Store) DeleteThreadItem(ctx context.Context, userID, threadID, itemID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE id = ? AND thread_id = ? AND user_id = ?`,
		itemID, threadID, userID); err != nil {
		return fmt.Errorf("delete item %s: %w", itemID, err)
	}
	return nil
}

// =============================================================================
// Attachments
// =============================================================================

// SaveAttachment inserts or replaces attachment metadata.
func (s *Store) SaveAttachment(ctx context.Context, userID string, a datatypes.Attachment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attachment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attachments (id, user_id, data) VALUES (?, ?, ?)`,
		a.ID, userID, string(data)); err != nil {
		return fmt.Errorf("save attachment %s: %w", a.ID, err)
	}
	return nil
}

// LoadAttachment returns attachment metadata.
func (s *Store) LoadAttachment(ctx context.Context, userID, attachmentID string) (datatypes.Attachment, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM attachments WHERE id = ? AND user_id = ?`, attachmentID, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Attachment{}, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if err != nil {
		return datatypes.Attachment{}, fmt.Errorf("load attachment: %w", err)
	}
	var a datatypes.Attachment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return datatypes.Attachment{}, fmt.Errorf("decode attachment %s: %w", attachmentID, err)
	}
	return a, nil
}

// DeleteAttachment removes attachment metadata.
func (s *Store) DeleteAttachment(ctx context.Context, userID, attachmentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM attachments WHERE id = ? AND user_id = ?`, attachmentID, userID); err != nil {
		return fmt.Errorf("delete attachment %s: %w", attachmentID, err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type pageQuery struct {
	table string
	where string
	args  []any
	after string
	limit int
	order string
}

type row struct {
	id   string
	data string
}

// paginate returns up to limit rows ordered by (created_at, id) plus
// whether more rows follow.
func (s *Store) paginate(ctx context.Context, q pageQuery) ([]row, bool, error) {
	if q.limit <= 0 {
		q.limit = defaultLimit
	}
	dir, cmp := "DESC", "<"
	if strings.EqualFold(q.order, datatypes.OrderAsc) {
		dir, cmp = "ASC", ">"
	}

	where := q.where
	args := append([]any{}, q.args...)
	if q.after != "" {
		var cursorAt int64
		err := s.db.QueryRowContext(ctx,
			`SELECT created_at FROM `+q.table+` WHERE id = ? AND `+q.where,
			append([]any{q.after}, q.args...)...).Scan(&cursorAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("cursor %s: %w", q.after, ErrNotFound)
		}
		if err != nil {
			return nil, false, fmt.Errorf("load cursor: %w", err)
		}
		where += ` AND (created_at ` + cmp + ` ? OR (created_at = ? AND id ` + cmp + ` ?))`
		args = append(args, cursorAt, cursorAt, q.after)
	}
	args = append(args, q.limit+1)

	rs, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM `+q.table+` WHERE `+where+
			` ORDER BY created_at `+dir+`, id `+dir+` LIMIT ?`, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list %s: %w", q.table, err)
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		var r row
		if err := rs.Scan(&r.id, &r.data); err != nil {
			return nil, false, fmt.Errorf("scan %s: %w", q.table, err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, false, fmt.Errorf("list %s: %w", q.table, err)
	}

	hasMore := len(out) > q.limit
	if hasMore {
		out = out[:q.limit]
	}
	return out, hasMore, nil
}

func decodePage[T any](rows []row, hasMore bool) (datatypes.Page[T], error) {
	page := datatypes.Page[T]{Data: make([]T, 0, len(rows)), HasMore: hasMore}
	for _, r := range rows {
		var v T
		if err := json.Unmarshal([]byte(r.data), &v); err != nil {
			return datatypes.Page[T]{}, fmt.Errorf("decode %s: %w", r.id, err)
		}
		page.Data = append(page.Data, v)
	}
	if len(rows) > 0 {
		page.After = rows[len(rows)-1].id
	}
	return page, nil
}
