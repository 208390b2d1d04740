// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package expenses

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/services/llm"
)

// DefaultDeployment is the reasoning deployment used for analysis.
const DefaultDeployment = "o3"

// ErrNotConfigured is reported when no reasoning client is available.
var ErrNotConfigured = errors.New("Azure OpenAI credentials not configured for reasoning model.")

// EventType identifies a stream event.
type EventType string

const (
	// EventReasoningDelta carries a fragment of the reasoning summary.
	EventReasoningDelta EventType = "reasoning_delta"
	// EventReasoningDone marks the end of the reasoning summary.
	EventReasoningDone EventType = "reasoning_done"
	// EventOutputDelta carries a fragment of the final answer.
	EventOutputDelta EventType = "output_delta"
	// EventComplete is the last event of a successful analysis.
	EventComplete EventType = "complete"
	// EventError is the last event of a failed analysis.
	EventError EventType = "error"
)

// Result is the outcome of a completed analysis.
type Result struct {
	Output           string
	ReasoningTime    time.Duration
	ReasoningSummary string
}

// Event is one element of an analysis stream. Text is set for deltas and
// errors; Result only for EventComplete.
type Event struct {
	Type   EventType
	Text   string
	Result *Result
}

// ReasoningStreamer is the subset of llm.ResponsesClient used here.
type ReasoningStreamer interface {
	Stream(ctx context.Context, req llm.ResponsesRequest, handler llm.ResponsesHandler) error
}

// Analyzer runs expense analysis on a reasoning deployment.
type Analyzer struct {
	client     ReasoningStreamer
	deployment string
}

// NewAnalyzer creates an Analyzer. client may be nil, in which case every
// stream ends with a single ErrNotConfigured error event.
func NewAnalyzer(client ReasoningStreamer, deployment string) *Analyzer {
	if deployment == "" {
		deployment = DefaultDeployment
	}
	return &Analyzer{client: client, deployment: deployment}
}

// Stream starts an analysis of the given period and returns its events.
//
// # Description
//
// A producer goroutine runs the streaming Responses call and reshapes
// upstream events into Events. The channel is closed after the final
// EventComplete or EventError. When ctx is cancelled the producer stops
// sending and exits; consumers that stop reading must cancel ctx.
//
// # Outputs
//
//   - <-chan Event: Ordered events, closed exactly once.
//
// # Thread Safety
//
// Each call starts an independent producer.
func (a *Analyzer) Stream(ctx context.Context, period string) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := a.run(ctx, period, send); err != nil {
			send(Event{Type: EventError, Text: err.Error()})
		}
	}()
	return out
}

func (a *Analyzer) run(ctx context.Context, period string, send func(Event) bool) error {
	if a.client == nil {
		return ErrNotConfigured
	}
	report, err := Load(period)
	if err != nil {
		return err
	}
	prompt, err := BuildPrompt(report)
	if err != nil {
		return err
	}

	req := llm.ResponsesRequest{
		Model:     a.deployment,
		Input:     []llm.ResponsesInput{{Role: llm.RoleUser, Content: prompt}},
		Reasoning: &llm.ReasoningOptions{Effort: "low", Summary: "auto"},
		Stream:    true,
	}

	var reasoning, output strings.Builder
	start := time.Now()
	err = a.client.Stream(ctx, req, func(ev llm.ResponsesEvent) error {
		var next Event
		switch ev.Type {
		case llm.EventReasoningSummaryDelta:
			if ev.Delta == "" {
				return nil
			}
			reasoning.WriteString(ev.Delta)
			next = Event{Type: EventReasoningDelta, Text: ev.Delta}
		case llm.EventReasoningSummaryDone:
			slog.Info("Reasoning summary complete")
			next = Event{Type: EventReasoningDone}
		case llm.EventOutputTextDelta:
			if ev.Delta == "" {
				return nil
			}
			output.WriteString(ev.Delta)
			next = Event{Type: EventOutputDelta, Text: ev.Delta}
		default:
			slog.Debug("Streaming event", "type", ev.Type)
			return nil
		}
		if !send(next) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("Error in expense analysis", "error", err)
		return errors.New("Error analysing expenses: " + err.Error())
	}

	result := &Result{
		Output:           output.String(),
		ReasoningTime:    time.Since(start),
		ReasoningSummary: strings.TrimSpace(reasoning.String()),
	}
	if result.Output == "" {
		result.Output = "No analysis generated."
	}
	slog.Info("Expense analysis completed", "seconds", result.ReasoningTime.Seconds(), "period", period)
	send(Event{Type: EventComplete, Result: result})
	return nil
}

// Analyze runs Stream to completion and returns its result.
func (a *Analyzer) Analyze(ctx context.Context, period string) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result *Result
	var streamErr error
	for ev := range a.Stream(ctx, period) {
		switch ev.Type {
		case EventComplete:
			result = ev.Result
		case EventError:
			streamErr = errors.New(ev.Text)
		}
	}
	if streamErr != nil {
		return nil, streamErr
	}
	if result == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("Error analysing expenses: stream ended without a result")
	}
	return result, nil
}
