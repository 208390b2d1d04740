// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/SwiftRover/services/swiftrover/attachments"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/observability"
	"github.com/gin-gonic/gin"
)

// maxUploadBytes bounds one uploaded attachment.
const maxUploadBytes = 20 << 20

var errNoFilePart = errors.New("multipart body has no file part")

// AttachmentFiles reads and writes attachment bytes.
type AttachmentFiles interface {
	StoreBytes(id string, data []byte) error
	ReadBytes(id string) ([]byte, error)
}

// HandleUpload receives the bytes of an attachment created with
// attachments.create.
//
// # Description
//
// Serves POST /upload/:id. A multipart body contributes its first file
// part; any other body is stored as is. The id is the capability, so the
// route sits outside bearer auth, matching the upload URL handed to the
// browser.
//
// # Outputs
//
//   - 200 {"status":"ok","id":...}
//   - 500 {"status":"error","message":"Failed to store attachment"}
func HandleUpload(files AttachmentFiles, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		data, err := readUpload(c)
		if err == nil {
			err = files.StoreBytes(id, data)
		}
		if err != nil {
			slog.Error("Failed to store attachment", "attachment_id", id, "error", err)
			if metrics != nil {
				metrics.RecordError(observability.EndpointUpload, uploadErrorCode(err))
				metrics.RecordRequest(observability.EndpointUpload, false)
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "Failed to store attachment",
			})
			return
		}

		slog.Info("Attachment uploaded", "attachment_id", id, "bytes", len(data))
		if metrics != nil {
			metrics.RecordRequest(observability.EndpointUpload, true)
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
	}
}

// HandlePreview serves GET /preview/:id with the detected content type.
func HandlePreview(files AttachmentFiles, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		data, err := files.ReadBytes(id)
		if err != nil {
			if errors.Is(err, attachments.ErrNotFound) || errors.Is(err, attachments.ErrInvalidID) {
				if metrics != nil {
					metrics.RecordError(observability.EndpointPreview, observability.ErrorCodeNotFound)
					metrics.RecordRequest(observability.EndpointPreview, false)
				}
				c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
				return
			}
			slog.Error("Failed to read attachment", "attachment_id", id, "error", err)
			if metrics != nil {
				metrics.RecordError(observability.EndpointPreview, observability.ErrorCodeInternal)
				metrics.RecordRequest(observability.EndpointPreview, false)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read attachment"})
			return
		}

		if metrics != nil {
			metrics.RecordRequest(observability.EndpointPreview, true)
		}
		c.Header("Cache-Control", "private, max-age=3600")
		c.Data(http.StatusOK, attachments.ContentType(id, data), data)
	}
}

// readUpload returns the uploaded bytes of the request.
func readUpload(c *gin.Context) ([]byte, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return readLimited(c.Request.Body)
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("read multipart: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFilePart
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		data, err := readLimited(part)
		_ = part.Close()
		return data, err
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
	}
	return data, nil
}

func uploadErrorCode(err error) observability.ErrorCode {
	if errors.Is(err, attachments.ErrInvalidID) || errors.Is(err, errNoFilePart) {
		return observability.ErrorCodeValidation
	}
	return observability.ErrorCodeInternal
}
