// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package parking reads parking signs from photos with a vision model and
// returns a structured yes/no verdict.
package parking

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/services/llm"
)

// ErrNotConfigured is returned when no vision client is available.
var ErrNotConfigured = errors.New("Azure OpenAI is not configured. Please set AOI_ENDPOINT_SWDN and AOI_KEY_SWDN.")

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Restriction is one rule read from the sign. Empty fields were not present.
type Restriction struct {
	Type     string `json:"type"`
	Hours    string `json:"hours,omitempty"`
	Days     string `json:"days,omitempty"`
	Duration string `json:"duration,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Analysis is the verdict for one sign photo.
type Analysis struct {
	CanPark            bool          `json:"can_park"`
	Verdict            string        `json:"verdict"`
	Confidence         string        `json:"confidence"`
	Restrictions       []Restriction `json:"restrictions"`
	TimeLimit          string        `json:"time_limit,omitempty"`
	DetailedAnalysis   string        `json:"detailed_analysis"`
	Advice             string        `json:"advice"`
	CurrentTimeContext string        `json:"current_time_context,omitempty"`
	SignDescription    string        `json:"sign_description"`
}

// CurrentTimeContext formats t as "Monday, 03:04 PM" for the prompt.
func CurrentTimeContext(t time.Time) string {
	return t.Format("Monday, 03:04 PM")
}

const promptTemplate = `Analyse this parking sign image and determine if parking is allowed.

Provide your analysis in the following JSON format:
{
    "can_park": true/false,
    "verdict": "Short one-sentence verdict",
    "confidence": "high/medium/low",
    "restrictions": [
        {
            "type": "Type of restriction",
            "hours": "Operating hours if applicable",
            "days": "Days if applicable",
            "duration": "Time limit if applicable",
            "notes": "Any additional notes"
        }
    ],
    "time_limit": "Maximum parking duration if any",
    "detailed_analysis": "Detailed explanation of what the sign says",
    "advice": "Practical advice for the driver",
    "sign_description": "Description of signs visible in the image"
}%s

Be thorough but practical. Focus on giving a clear yes/no answer.`

// BuildPrompt returns the vision prompt. A non-empty currentTime is
// appended after the schema as "Current time context: ...".
func BuildPrompt(currentTime string) string {
	timeContext := ""
	if currentTime != "" {
		timeContext = "\nCurrent time context: " + currentTime
	}
	return fmt.Sprintf(promptTemplate, timeContext)
}

// Analyzer runs sign analysis against a vision-capable chat client.
type Analyzer struct {
	client llm.LLMClient
}

// NewAnalyzer creates an Analyzer. A nil client is allowed; Analyze then
// returns ErrNotConfigured.
func NewAnalyzer(client llm.LLMClient) *Analyzer {
	return &Analyzer{client: client}
}

// Analyze sends the image to the vision model and parses its verdict.
//
// # Description
//
// The image is embedded as a base64 data URI with high detail. The model
// is asked for JSON; markdown code fences around the answer are removed
// before decoding.
//
// # Inputs
//
//   - image: Raw image bytes.
//   - contentType: MIME type used in the data URI (image/jpeg if empty).
//   - currentTime: Optional human time context, see CurrentTimeContext.
//
// # Outputs
//
//   - *Analysis: Parsed verdict. Confidence defaults to "medium".
//   - error: ErrNotConfigured, "Failed to parse AI response: ..." or
//     "Error analysing parking sign: ...". Messages are user-presentable.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, contentType, currentTime string) (*Analysis, error) {
	if a == nil || a.client == nil {
		return nil, ErrNotConfigured
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	dataURI := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)
	content, err := a.client.Chat(ctx, []llm.Message{{
		Role:    llm.RoleUser,
		Content: BuildPrompt(currentTime),
		Images:  []string{dataURI},
	}}, llm.GenerationParams{
		Temperature: llm.Float32(0.1),
		MaxTokens:   llm.Int(1500),
		ImageDetail: "high",
	})
	if err != nil {
		slog.Error("Parking sign analysis failed", "error", err)
		return nil, fmt.Errorf("Error analysing parking sign: %w", err)
	}

	analysis, err := ParseAnalysis(content)
	if err != nil {
		return nil, err
	}
	analysis.CurrentTimeContext = currentTime
	slog.Info("Parking sign analysed",
		"can_park", analysis.CanPark,
		"confidence", analysis.Confidence,
		"restrictions", len(analysis.Restrictions))
	return analysis, nil
}

// ParseAnalysis decodes a model answer, tolerating ```json fences.
func ParseAnalysis(content string) (*Analysis, error) {
	raw := stripFences(content)

	var decoded struct {
		CanPark          *bool         `json:"can_park"`
		Verdict          string        `json:"verdict"`
		Confidence       string        `json:"confidence"`
		Restrictions     []Restriction `json:"restrictions"`
		TimeLimit        *string       `json:"time_limit"`
		DetailedAnalysis string        `json:"detailed_analysis"`
		Advice           string        `json:"advice"`
		SignDescription  string        `json:"sign_description"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("Failed to parse AI response: %w", err)
	}

	analysis := &Analysis{
		Verdict:          decoded.Verdict,
		Confidence:       decoded.Confidence,
		Restrictions:     decoded.Restrictions,
		DetailedAnalysis: decoded.DetailedAnalysis,
		Advice:           decoded.Advice,
		SignDescription:  decoded.SignDescription,
	}
	if decoded.CanPark != nil {
		analysis.CanPark = *decoded.CanPark
	}
	if analysis.Confidence == "" {
		analysis.Confidence = ConfidenceMedium
	}
	if decoded.TimeLimit != nil {
		analysis.TimeLimit = *decoded.TimeLimit
	}
	if analysis.Restrictions == nil {
		analysis.Restrictions = []Restriction{}
	}
	return analysis, nil
}

func stripFences(content string) string {
	if _, after, ok := strings.Cut(content, "```json"); ok {
		content, _, _ = strings.Cut(after, "```")
	} else if _, after, ok := strings.Cut(content, "```"); ok {
		content, _, _ = strings.Cut(after, "```")
	}
	return strings.TrimSpace(content)
}
