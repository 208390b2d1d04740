// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package responder

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/SwiftRover/services/llm"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/attachments"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store"
	"github.com/AleutianAI/SwiftRover/services/widgets"
)

// MaxToolRounds bounds the model/tool round trips of one response.
const MaxToolRounds = 5

// NotConfiguredReply is the assistant text when no chat model is set up.
const NotConfiguredReply = "The chat model is not configured. Please set AOI_ENDPOINT_SWDN and AOI_KEY_SWDN."

const agentInstructions = `You are SwiftRover, a smart and helpful AI travel assistant. You help travellers with:

1. **Flight Tracking**: Look up real-time flight status using flight numbers and airport codes.

   CRITICAL: You MUST convert all natural language to IATA codes:
   - City names → 3-letter airport IATA codes (Sydney=SYD, Melbourne=MEL, London Heathrow=LHR, Singapore Changi=SIN, Los Angeles=LAX, JFK=JFK, Dubai=DXB)
   - Flight references → IATA format (Qantas 1=QF1, American 100=AA100)

   IMPORTANT for multi-leg flights: When user says 'QF1 from Sydney', always provide BOTH flight_iata='QF1' AND dep_iata='SYD' to get the correct segment. Without dep_iata, multi-leg flights may return the wrong leg.

2. **Parking Sign Analysis**: When users upload a photo of a parking sign, analyse it to determine if parking is allowed.

3. **Expense Analysis** (Reasoning Demo): Analyse expense reports for policy violations and spending patterns. This uses the o3 reasoning model which thinks through problems step-by-step, showing 'Thought for X seconds' in the UI.

Available tools:
- get_flight_status: Get real-time flight information
- show_airport_selector: Show popular airports to choose from
- show_route_selector: Show popular flight routes
- show_parking_analysis_prompt: Show parking sign upload instructions
- analyse_expense_report: Analyse expense reports with advanced reasoning

Be concise and helpful. For parking questions, give clear yes/no answers.`

// =============================================================================
// History Conversion
// =============================================================================

// toMessages converts thread items into model input. Widgets contribute
// their copy text as context; workflows are skipped.
func (r *Responder) toMessages(items []datatypes.ThreadItem) []llm.Message {
	out := make([]llm.Message, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case datatypes.ItemUserMessage:
			m := llm.Message{Role: llm.RoleUser, Content: it.Text()}
			if it.QuotedText != "" {
				m.Content = strings.TrimSpace(fmt.Sprintf("%s\n\nQuoted: %s", m.Content, it.QuotedText))
			}
			m.Images = r.imageURIs(it)
			if m.Content == "" && len(m.Images) == 0 {
				continue
			}
			out = append(out, m)
		case datatypes.ItemAssistantMessage:
			if text := it.Text(); text != "" {
				out = append(out, llm.Message{Role: llm.RoleAssistant, Content: text})
			}
		case datatypes.ItemWidget:
			if it.CopyText != "" {
				out = append(out, llm.Message{
					Role:    llm.RoleUser,
					Content: "The following widget was displayed to the user:\n" + it.CopyText,
				})
			}
		case datatypes.ItemHiddenContext:
			if it.HiddenContent != "" {
				out = append(out, llm.Message{Role: llm.RoleUser, Content: it.HiddenContent})
			}
		}
	}
	return out
}

// imageURIs returns the images of a user message as data URIs. Images
// whose bytes are gone are skipped.
func (r *Responder) imageURIs(it datatypes.ThreadItem) []string {
	if r.attachments == nil {
		return nil
	}
	var ids []string
	for _, a := range it.Attachments {
		if a.IsImage() {
			ids = append(ids, a.ID)
		}
	}
	for _, p := range it.Content {
		if p.Type == datatypes.PartImage && p.AttachmentID != "" {
			ids = append(ids, p.AttachmentID)
		}
	}
	var uris []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		data, err := r.attachments.ReadBytes(id)
		if err != nil {
			slog.Warn("Skipping unreadable image in history", "attachment_id", id, "error", err)
			continue
		}
		uris = append(uris, "data:"+attachments.ContentType(id, data)+";base64,"+base64.StdEncoding.EncodeToString(data))
	}
	return uris
}

// =============================================================================
// Agent Path
// =============================================================================

// assistantStream emits an assistant message incrementally. The item is
// announced on the first delta.
type assistantStream struct {
	r      *Responder
	thread datatypes.ThreadMetadata
	emit   Emitter
	id     string
	text   strings.Builder
}

func (s *assistantStream) delta(text string) error {
	if text == "" {
		return nil
	}
	if s.id == "" {
		s.id = store.NewItemID("message")
		if err := s.emit(datatypes.ItemAdded(s.item(""))); err != nil {
			return err
		}
	}
	s.text.WriteString(text)
	return s.emit(datatypes.TextDelta(s.id, 0, text))
}

func (s *assistantStream) item(text string) datatypes.ThreadItem {
	return datatypes.ThreadItem{
		Type:      datatypes.ItemAssistantMessage,
		ID:        s.id,
		ThreadID:  s.thread.ID,
		CreatedAt: s.r.now(),
		Content:   []datatypes.ContentPart{datatypes.OutputText(text)},
	}
}

func (s *assistantStream) done() error {
	if s.id == "" {
		return nil
	}
	return s.emit(datatypes.ItemDone(s.item(s.text.String())))
}

func (r *Responder) respondAgent(ctx context.Context, thread datatypes.ThreadMetadata, history []llm.Message, emit Emitter) error {
	slog.Info("Running agent", "messages", len(history), "thread_id", thread.ID)

	out := &assistantStream{r: r, thread: thread, emit: emit}
	if r.chat == nil {
		if err := out.delta(NotConfiguredReply); err != nil {
			return err
		}
		return out.done()
	}

	params := llm.GenerationParams{SystemPrompt: agentInstructions, Tools: toolDefinitions}
	messages := append([]llm.Message{}, history...)
	state := &toolState{}

	for round := 0; round < MaxToolRounds; round++ {
		var (
			calls     []llm.ToolCall
			roundText strings.Builder
		)
		err := r.chat.ChatStream(ctx, messages, params, func(ev llm.StreamEvent) error {
			switch ev.Type {
			case llm.StreamEventToken:
				roundText.WriteString(ev.Content)
				return out.delta(ev.Content)
			case llm.StreamEventToolCalls:
				calls = append(calls, ev.ToolCalls...)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("agent round %d: %w", round+1, err)
		}
		if len(calls) == 0 {
			break
		}

		slog.Info("Agent requested tools", "round", round+1, "count", len(calls))
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: roundText.String(), ToolCalls: calls})
		results, err := r.runTools(ctx, calls, state)
		if err != nil {
			return err
		}
		for i, call := range calls {
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: results[i]})
		}
	}

	if err := out.done(); err != nil {
		return err
	}
	return r.emitToolWidgets(thread, state, emit)
}

// emitToolWidgets sends the widgets requested during the agent run, in a
// fixed order.
func (r *Responder) emitToolWidgets(thread datatypes.ThreadMetadata, state *toolState, emit Emitter) error {
	if state.flight != nil {
		slog.Info("Creating flight widget", "flight", state.flight.Code())
		if err := r.emitWidget(thread, widgets.FlightWidget(state.flight), widgets.FlightCopyText(state.flight), emit); err != nil {
			return err
		}
	}
	if state.airportSelector {
		if err := r.emitWidget(thread, widgets.AirportSelector(), widgets.AirportSelectorCopyText(), emit); err != nil {
			return err
		}
	}
	if state.routeSelector {
		if err := r.emitWidget(thread, widgets.RouteSelector(), "", emit); err != nil {
			return err
		}
	}
	if state.parkingPrompt {
		if err := r.emitWidget(thread, widgets.ParkingUploadPrompt(), "", emit); err != nil {
			return err
		}
	}
	return nil
}
