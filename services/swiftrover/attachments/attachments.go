// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package attachments stores uploaded file bytes on disk, one file per
// attachment id, and registers attachment metadata in the thread store.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store"
	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrNotFound is returned when no bytes have been uploaded for an id.
	ErrNotFound = errors.New("attachment not found")

	// ErrInvalidID is returned for ids that cannot name a file.
	ErrInvalidID = errors.New("invalid attachment id")
)

const defaultContentType = "application/octet-stream"

// MetadataStore is the part of the thread store used for attachment
// metadata.
type MetadataStore interface {
	LoadAttachment(ctx context.Context, userID, attachmentID string) (datatypes.Attachment, error)
	SaveAttachment(ctx context.Context, userID string, a datatypes.Attachment) error
	DeleteAttachment(ctx context.Context, userID, attachmentID string) error
}

// Store keeps attachment bytes under a single directory.
type Store struct {
	dir     string
	baseURL string
	meta    MetadataStore
}

// New creates dir if needed and returns a Store whose upload and preview
// URLs are rooted at baseURL.
func New(dir, baseURL string, meta MetadataStore) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), meta: meta}, nil
}

// Dir returns the directory holding attachment bytes.
func (s *Store) Dir() string { return s.dir }

// CreateAttachment allocates an id for an upload the client is about to
// send and records its metadata. Images get a preview URL as well.
func (s *Store) CreateAttachment(ctx context.Context, userID, name string, size int64, mimeType string) (datatypes.Attachment, error) {
	id := store.NewItemID("attachment")
	a := datatypes.Attachment{
		ID:        id,
		Type:      datatypes.AttachmentFile,
		MimeType:  mimeType,
		Name:      name,
		UploadURL: s.baseURL + "/upload/" + id,
	}
	if strings.HasPrefix(mimeType, "image/") {
		a.Type = datatypes.AttachmentImage
		a.PreviewURL = s.baseURL + "/preview/" + id
	}
	if err := s.meta.SaveAttachment(ctx, userID, a); err != nil {
		return datatypes.Attachment{}, err
	}
	return a, nil
}

func (s *Store) path(id string) (string, error) {
	if !datatypes.IsSafeID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id), nil
}

// StoreBytes writes the uploaded bytes for id, replacing earlier bytes.
func (s *Store) StoreBytes(id string, data []byte) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+id+".*")
	if err != nil {
		return fmt.Errorf("store attachment %s: %w", id, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("store attachment %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("store attachment %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("store attachment %s: %w", id, err)
	}
	return nil
}

// ReadBytes returns the bytes uploaded for id.
func (s *Store) ReadBytes(id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", id, err)
	}
	return data, nil
}

// Delete removes the bytes and the metadata of an attachment owned by
// userID. Unknown or foreign ids return ErrNotFound; missing bytes are not
// an error.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if _, err := s.meta.LoadAttachment(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	return s.meta.DeleteAttachment(ctx, userID, id)
}

// ContentType guesses the media type of an attachment, first from the
// extension of id and then by sniffing data.
func ContentType(id string, data []byte) string {
	if ext := filepath.Ext(id); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if len(data) > 0 {
		return mimetype.Detect(data).String()
	}
	return defaultContentType
}
