// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent routes a user message to one of the assistant's
// capabilities.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/SwiftRover/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("swiftrover.intent")

// Intent is the detected purpose of a message.
type Intent string

const (
	Flight  Intent = "flight"
	Parking Intent = "parking"
	Expense Intent = "expense"
	General Intent = "general"
)

// DefaultModel is the deployment used for classification.
const DefaultModel = "gpt-5.1"

// maxOutputTokens is the smallest budget the Responses API accepts (16)
// plus headroom.
const maxOutputTokens = 20

// DefaultTimeout bounds a single classification call. When it expires the
// keyword rules decide.
const DefaultTimeout = 10 * time.Second

const systemPrompt = `You are an intent classifier. Classify the user's message into ONE of these categories:

- flight: Questions about flight status, tracking, routes, airports, airlines, departures, arrivals
- parking: Questions about parking signs, parking rules, where to park, parking restrictions
- expense: Questions about expenses, spending, budgets, cost analysis, Q1/Q2/Q3/Q4 reviews, financial reports
- general: Any other questions or general chat

Respond with ONLY the category name, nothing else.`

// Completer is the subset of llm.ResponsesClient used for classification.
type Completer interface {
	Create(ctx context.Context, req llm.ResponsesRequest) (string, error)
}

// Source records how a classification was made.
type Source string

const (
	SourceImage    Source = "image"
	SourceModel    Source = "model"
	SourceKeywords Source = "keywords"
)

// Observer is notified after each classification.
type Observer func(intent Intent, source Source)

// Classifier detects message intent with a model, falling back to keyword
// rules.
//
// # Thread Safety
//
// Safe for concurrent use. Rules can be swapped while classifying.
type Classifier struct {
	client   Completer
	model    string
	observer Observer
	timeout  time.Duration

	mu    sync.RWMutex
	rules []Rule
}

// NewClassifier creates a Classifier using the embedded keyword rules.
// client may be nil, in which case only keyword rules are used.
func NewClassifier(client Completer, model string, observer Observer) (*Classifier, error) {
	rules, err := ParseRules(DefaultRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded intent rules: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	if observer == nil {
		observer = func(Intent, Source) {}
	}
	return &Classifier{client: client, model: model, observer: observer, timeout: DefaultTimeout, rules: rules}, nil
}

// Classify returns the intent of a message.
//
// # Description
//
// Messages with an image are always parking requests. Otherwise the model is
// asked for a single label which MapLabel converts. Without a model, or when
// the call fails, keyword rules decide.
//
// # Inputs
//
//   - ctx: Bounds the model call, which is further limited to DefaultTimeout.
//   - text: The user's message.
//   - hasImage: Whether the message carries an image attachment.
//
// # Outputs
//
//   - Intent: Never empty.
func (c *Classifier) Classify(ctx context.Context, text string, hasImage bool) Intent {
	if hasImage {
		slog.Info("Image detected - routing to parking analysis")
		c.observer(Parking, SourceImage)
		return Parking
	}
	if c.client == nil {
		slog.Warn("No classification model - falling back to keyword matching")
		return c.fallback(text)
	}

	ctx, span := tracer.Start(ctx, "intent.Classify")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	label, err := c.client.Create(callCtx, llm.ResponsesRequest{
		Model: c.model,
		Input: []llm.ResponsesInput{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: text},
		},
		MaxOutputTokens: maxOutputTokens,
	})
	if err != nil {
		span.RecordError(err)
		slog.Error("Intent classification failed", "error", err)
		return c.fallback(text)
	}

	in := MapLabel(label)
	span.SetAttributes(attribute.String("intent.label", label), attribute.String("intent", string(in)))
	slog.Info("Intent classified", "label", strings.TrimSpace(label), "intent", in)
	c.observer(in, SourceModel)
	return in
}

// KeywordFallback classifies text with the current keyword rules.
func (c *Classifier) KeywordFallback(text string) Intent {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()
	return MatchRules(rules, text)
}

func (c *Classifier) fallback(text string) Intent {
	in := c.KeywordFallback(text)
	c.observer(in, SourceKeywords)
	return in
}

// SetRules replaces the keyword rules.
func (c *Classifier) SetRules(rules []Rule) {
	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
}

// Rules returns the current keyword rules.
func (c *Classifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules
}

// MapLabel converts a model label to an Intent. Unknown labels are General.
func MapLabel(label string) Intent {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "flight", "flights":
		return Flight
	case "parking", "park":
		return Parking
	case "expense", "expenses", "budget":
		return Expense
	default:
		return General
	}
}
