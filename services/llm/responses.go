// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/secrets"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Responses API event types consumed by SwiftRover.
const (
	EventReasoningSummaryDelta = "response.reasoning_summary_text.delta"
	EventReasoningSummaryDone  = "response.reasoning_summary_text.done"
	EventOutputTextDelta       = "response.output_text.delta"
	EventOutputTextDone        = "response.output_text.done"
	EventCompleted             = "response.completed"
	EventFailed                = "response.failed"
	EventError                 = "error"
)

// maxSSELineBytes bounds a single SSE line. Completed events echo the whole
// response object and can be large.
const maxSSELineBytes = 4 * 1024 * 1024

// ResponsesInput is one input message.
type ResponsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReasoningOptions controls reasoning effort and summaries.
type ReasoningOptions struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ResponsesRequest is the body of POST /openai/v1/responses.
type ResponsesRequest struct {
	Model           string            `json:"model"`
	Input           []ResponsesInput  `json:"input"`
	Reasoning       *ReasoningOptions `json:"reasoning,omitempty"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Stream          bool              `json:"stream,omitempty"`
}

// ResponsesEvent is one decoded server-sent event.
type ResponsesEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Text  string `json:"text"`

	// Message is set on "error" events.
	Message string `json:"message"`

	Response *struct {
		Status string `json:"status"`
		Error  *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response,omitempty"`
}

// ResponsesHandler receives events in stream order. Returning an error
// stops the stream.
type ResponsesHandler func(event ResponsesEvent) error

// ResponsesClient calls the Azure OpenAI v1 Responses API.
//
// # Description
//
// The Responses API is used for the reasoning deployment (streamed
// reasoning summaries) and for short non-streaming classification calls.
// Requests carry the key both as api-key and as a bearer token, which the
// Azure v1 endpoint accepts interchangeably.
//
// # Thread Safety
//
// Safe for concurrent use.
type ResponsesClient struct {
	httpClient *http.Client
	baseURL    string
	key        *secrets.Secret
}

// NewResponsesClient creates a client for {endpoint}/openai/v1/responses.
// A nil httpClient uses one without an overall timeout, since reasoning
// streams can run for minutes; callers bound requests with ctx.
func NewResponsesClient(endpoint string, key *secrets.Secret, httpClient *http.Client) (*ResponsesClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("azure openai endpoint not set")
	}
	if !key.IsSet() {
		return nil, fmt.Errorf("azure openai api key not set")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ResponsesClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(endpoint, "/") + "/openai/v1",
		key:        key,
	}, nil
}

// Create runs a non-streaming request and returns the concatenated
// output_text parts of every message output item.
func (c *ResponsesClient) Create(ctx context.Context, req ResponsesRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "ResponsesClient.Create")
	defer span.End()
	span.SetAttributes(attribute.String("llm.deployment", req.Model))

	req.Stream = false
	resp, err := c.post(ctx, req, "application/json")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode responses body: %w", err)
	}

	var sb strings.Builder
	for _, item := range body.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), nil
}

// Stream runs a streaming request and delivers each event to handler.
//
// # Description
//
// Parses the text/event-stream body: "event:" and "data:" lines accumulate
// until a blank line dispatches the event. The JSON "type" field wins over
// the SSE event name. A "[DONE]" sentinel ends the stream.
//
// # Outputs
//
//   - error: Transport or HTTP failure, an "error"/"response.failed" event,
//     a handler error, or ctx cancellation.
func (c *ResponsesClient) Stream(ctx context.Context, req ResponsesRequest, handler ResponsesHandler) error {
	ctx, span := tracer.Start(ctx, "ResponsesClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.deployment", req.Model))

	req.Stream = true
	resp, err := c.post(ctx, req, "text/event-stream")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}
	defer resp.Body.Close()

	events := 0
	err = readSSE(ctx, resp.Body, func(name, data string) error {
		if data == "[DONE]" {
			return errStreamDone
		}
		var ev ResponsesEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			slog.Debug("Skipping undecodable responses event", "event", name, "error", err)
			return nil
		}
		if ev.Type == "" {
			ev.Type = name
		}
		events++
		switch ev.Type {
		case EventError:
			return fmt.Errorf("responses stream error: %s", ev.Message)
		case EventFailed:
			msg := "response failed"
			if ev.Response != nil && ev.Response.Error != nil {
				msg = ev.Response.Error.Message
			}
			return fmt.Errorf("responses stream failed: %s", msg)
		}
		return handler(ev)
	})
	span.SetAttributes(attribute.Int("llm.stream_events", events))
	if err != nil && !errors.Is(err, errStreamDone) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		return err
	}
	return nil
}

var errStreamDone = errors.New("stream done")

func (c *ResponsesClient) post(ctx context.Context, req ResponsesRequest, accept string) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build responses request: %w", err)
	}
	key, err := c.key.Reveal()
	if err != nil {
		return nil, fmt.Errorf("reveal api key: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("api-key", key)
	httpReq.Header.Set("Authorization", "Bearer "+key)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("responses request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("responses API returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	slog.Debug("Responses API connected", "model", req.Model, "stream", req.Stream,
		"latency_ms", time.Since(start).Milliseconds())
	return resp, nil
}

// readSSE scans an event stream and calls dispatch for every complete
// event. Comment lines (":") are ignored. A trailing event without a
// terminating blank line is still dispatched.
func readSSE(ctx context.Context, body io.Reader, dispatch func(name, data string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineBytes)

	var name string
	var data []string
	flush := func() error {
		if len(data) == 0 {
			name = ""
			return nil
		}
		err := dispatch(name, strings.Join(data, "\n"))
		name, data = "", data[:0]
		return err
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("scan SSE stream: %w", err)
	}
	return flush()
}
