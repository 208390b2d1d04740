// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package swiftrover

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/SwiftRover/services/expenses"
	"github.com/AleutianAI/SwiftRover/services/llm"
	"github.com/AleutianAI/SwiftRover/services/parking"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/observability"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/responder"
)

// upstreamOutcome labels the result of an upstream call.
func upstreamOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// observedSignAnalyzer records vision calls.
type observedSignAnalyzer struct {
	next    responder.SignAnalyzer
	metrics *observability.Metrics
}

func (o *observedSignAnalyzer) Analyze(ctx context.Context, image []byte, contentType, currentTime string) (*parking.Analysis, error) {
	start := time.Now()
	analysis, err := o.next.Analyze(ctx, image, contentType, currentTime)
	if !errors.Is(err, parking.ErrNotConfigured) {
		o.metrics.RecordUpstream(observability.APIVision, upstreamOutcome(err), time.Since(start))
	}
	return analysis, err
}

// observedReasoning records reasoning streams. Elapsed time covers the
// whole stream, not time to first token.
type observedReasoning struct {
	next    expenses.ReasoningStreamer
	metrics *observability.Metrics
}

func (o *observedReasoning) Stream(ctx context.Context, req llm.ResponsesRequest, handler llm.ResponsesHandler) error {
	start := time.Now()
	err := o.next.Stream(ctx, req, handler)
	o.metrics.RecordUpstream(observability.APIReasoning, upstreamOutcome(err), time.Since(start))
	return err
}
