// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package responder turns a user message into a stream of ChatKit events.
//
// # Description
//
// Each message is routed to one of three paths:
//
//   - Parking: the message carries an image. The image is sent to the
//     vision model and a verdict widget is streamed.
//   - Expense: the intent classifier picked "expense". The reasoning model
//     analyses the sample expense report and its reasoning summary is
//     streamed as a workflow item, followed by the analysis text.
//   - Agent: everything else. The chat model runs a tool-calling loop over
//     the thread history; its text streams as an assistant message and the
//     widgets requested by tools are emitted afterwards.
//
// # Thread Safety
//
// A Responder is safe for concurrent use. Each call keeps its own state.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/services/expenses"
	"github.com/AleutianAI/SwiftRover/services/flights"
	"github.com/AleutianAI/SwiftRover/services/intent"
	"github.com/AleutianAI/SwiftRover/services/llm"
	"github.com/AleutianAI/SwiftRover/services/parking"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/datatypes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store"
	"github.com/AleutianAI/SwiftRover/services/widgets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("swiftrover.responder")

const (
	historyLimit        = 1000
	progressLogInterval = 20
)

// Emitter delivers one event to the client. A non-nil error means the
// client is gone and the response should stop.
type Emitter func(datatypes.Event) error

// =============================================================================
// Collaborators
// =============================================================================

// History loads the items of a thread.
type History interface {
	LoadThreadItems(ctx context.Context, userID, threadID, after string, limit int, order string) (datatypes.Page[datatypes.ThreadItem], error)
}

// AttachmentReader returns uploaded bytes.
type AttachmentReader interface {
	ReadBytes(id string) ([]byte, error)
}

// FlightFetcher looks up flight status.
type FlightFetcher interface {
	FetchStatus(ctx context.Context, q flights.Query) (*flights.FlightStatus, error)
}

// SignAnalyzer reads a parking sign photo.
type SignAnalyzer interface {
	Analyze(ctx context.Context, image []byte, contentType, currentTime string) (*parking.Analysis, error)
}

// ExpenseAnalyzer runs the reasoning model over an expense period.
type ExpenseAnalyzer interface {
	Stream(ctx context.Context, period string) <-chan expenses.Event
	Analyze(ctx context.Context, period string) (*expenses.Result, error)
}

// IntentClassifier routes a message to a path.
type IntentClassifier interface {
	Classify(ctx context.Context, text string, hasImage bool) intent.Intent
}

// Config wires a Responder. Chat may be nil, in which case the agent
// path answers with a configuration message.
type Config struct {
	History     History
	Attachments AttachmentReader
	Flights     FlightFetcher
	Parking     SignAnalyzer
	Expenses    ExpenseAnalyzer
	Classifier  IntentClassifier
	Chat        llm.LLMClient
	Now         func() time.Time
}

// Responder produces response events for user messages and widget actions.
type Responder struct {
	history     History
	attachments AttachmentReader
	flights     FlightFetcher
	parking     SignAnalyzer
	expenses    ExpenseAnalyzer
	classifier  IntentClassifier
	chat        llm.LLMClient
	now         func() time.Time
}

// New creates a Responder.
func New(cfg Config) *Responder {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Responder{
		history:     cfg.History,
		attachments: cfg.Attachments,
		flights:     cfg.Flights,
		parking:     cfg.Parking,
		expenses:    cfg.Expenses,
		classifier:  cfg.Classifier,
		chat:        cfg.Chat,
		now:         now,
	}
}

// =============================================================================
// Respond
// =============================================================================

// Respond streams the answer to msg, a user message already saved in
// thread.
//
// # Outputs
//
//   - error: Non-nil when the response could not be completed: a store
//     failure, a model failure in the agent path, or a failed emit.
//     Failures of the flight, vision and reasoning APIs are reported to
//     the user inside the stream and do not produce an error.
func (r *Responder) Respond(ctx context.Context, userID string, thread datatypes.ThreadMetadata, msg datatypes.ThreadItem, emit Emitter) error {
	ctx, span := tracer.Start(ctx, "Responder.Respond")
	defer span.End()
	span.SetAttributes(attribute.String("thread.id", thread.ID))

	slog.Info("Processing message", "thread_id", thread.ID, "item_id", msg.ID)

	if image, contentType, ok := r.findImage(msg); ok {
		span.SetAttributes(attribute.String("responder.path", "parking"))
		return r.respondParking(ctx, thread, image, contentType, emit)
	}

	text := msg.Text()
	route := intent.General
	if r.classifier != nil {
		route = r.classifier.Classify(ctx, text, msg.HasImage())
	}
	slog.Info("Query intent", "intent", route, "thread_id", thread.ID)
	span.SetAttributes(attribute.String("responder.intent", string(route)))

	if route == intent.Expense {
		span.SetAttributes(attribute.String("responder.path", "expense"))
		return r.respondExpense(ctx, thread, emit)
	}

	span.SetAttributes(attribute.String("responder.path", "agent"))
	page, err := r.history.LoadThreadItems(ctx, userID, thread.ID, "", historyLimit, datatypes.OrderAsc)
	if err != nil {
		return fmt.Errorf("load thread history: %w", err)
	}
	messages := r.toMessages(page.Data)
	if len(messages) == 0 {
		slog.Warn("No messages after conversion", "thread_id", thread.ID)
		return nil
	}
	return r.respondAgent(ctx, thread, messages, emit)
}

// findImage returns the first image of msg: an image attachment, or an
// inline image part that references an attachment.
func (r *Responder) findImage(msg datatypes.ThreadItem) ([]byte, string, bool) {
	if r.attachments == nil {
		return nil, "", false
	}
	for _, a := range msg.Attachments {
		if !a.IsImage() {
			continue
		}
		data, err := r.attachments.ReadBytes(a.ID)
		if err != nil {
			slog.Warn("Image attachment unreadable", "attachment_id", a.ID, "error", err)
			continue
		}
		contentType := a.MimeType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		return data, contentType, true
	}
	for _, p := range msg.Content {
		if p.Type != datatypes.PartImage || p.AttachmentID == "" {
			continue
		}
		data, err := r.attachments.ReadBytes(p.AttachmentID)
		if err != nil {
			slog.Warn("Inline image unreadable", "attachment_id", p.AttachmentID, "error", err)
			continue
		}
		return data, "image/jpeg", true
	}
	return nil, "", false
}

func (r *Responder) widgetItem(thread datatypes.ThreadMetadata, id string, node widgets.Node, copyText string) datatypes.ThreadItem {
	return datatypes.ThreadItem{
		Type:      datatypes.ItemWidget,
		ID:        id,
		ThreadID:  thread.ID,
		CreatedAt: r.now(),
		Widget:    &node,
		CopyText:  copyText,
	}
}

// emitWidget sends a finished widget as a new message item.
func (r *Responder) emitWidget(thread datatypes.ThreadMetadata, node widgets.Node, copyText string, emit Emitter) error {
	return emit(datatypes.ItemDone(r.widgetItem(thread, store.NewItemID("message"), node, copyText)))
}

// =============================================================================
// Parking Path
// =============================================================================

func (r *Responder) respondParking(ctx context.Context, thread datatypes.ThreadMetadata, image []byte, contentType string, emit Emitter) error {
	slog.Info("Analysing parking sign from uploaded image", "thread_id", thread.ID, "content_type", contentType)

	id := store.NewItemID("message")
	if err := emit(datatypes.ItemAdded(r.widgetItem(thread, id, widgets.AnalysingWidget(), ""))); err != nil {
		return err
	}

	var (
		analysis *parking.Analysis
		err      error
	)
	if r.parking == nil {
		err = parking.ErrNotConfigured
	} else {
		analysis, err = r.parking.Analyze(ctx, image, contentType, parking.CurrentTimeContext(r.now()))
	}
	if err != nil {
		slog.Warn("Parking analysis failed", "thread_id", thread.ID, "error", err)
		return emit(datatypes.ItemDone(r.widgetItem(thread, id, widgets.ErrorWidget("Analysis Failed", err.Error()), "")))
	}
	return emit(datatypes.ItemDone(r.widgetItem(thread, id, widgets.ParkingWidget(analysis), widgets.ParkingCopyText(analysis))))
}

// =============================================================================
// Expense Path
// =============================================================================

func (r *Responder) respondExpense(ctx context.Context, thread datatypes.ThreadMetadata, emit Emitter) error {
	slog.Info("Expense intent detected, using reasoning model", "thread_id", thread.ID)
	start := r.now()

	workflowID := store.NewItemID("workflow")
	initial := datatypes.ThreadItem{
		Type:      datatypes.ItemWorkflow,
		ID:        workflowID,
		ThreadID:  thread.ID,
		CreatedAt: start,
		Workflow:  &datatypes.Workflow{Type: datatypes.WorkflowReasoning, Tasks: []datatypes.Task{}, Expanded: true},
	}
	if err := emit(datatypes.ItemAdded(initial)); err != nil {
		return err
	}

	thought := datatypes.Task{Type: datatypes.TaskThought, Title: "Thinking..."}
	if err := emit(datatypes.TaskAdded(workflowID, 0, thought)); err != nil {
		return err
	}

	var (
		reasoning, output strings.Builder
		result            *expenses.Result
		errText           string
		updates           int
	)
	if r.expenses == nil {
		errText = expenses.ErrNotConfigured.Error()
	} else {
		streamCtx, cancel := context.WithCancel(ctx)
		events := r.expenses.Stream(streamCtx, expenses.DefaultPeriod)
		// The producer exits only once it sees the cancel or finishes.
		defer func() {
			cancel()
			for range events {
			}
		}()
		for ev := range events {
			switch ev.Type {
			case expenses.EventReasoningDelta:
				reasoning.WriteString(ev.Text)
				thought.Content = reasoning.String()
				updates++
				if err := emit(datatypes.TaskUpdated(workflowID, 0, thought)); err != nil {
					return err
				}
				if updates%progressLogInterval == 0 {
					slog.Info("Reasoning streaming",
						"chars", reasoning.Len(), "updates", updates,
						"elapsed_s", int(r.now().Sub(start).Seconds()))
				}
			case expenses.EventReasoningDone:
				slog.Info("Reasoning streaming complete", "chars", reasoning.Len())
			case expenses.EventOutputDelta:
				output.WriteString(ev.Text)
			case expenses.EventComplete:
				result = ev.Result
			case expenses.EventError:
				errText = ev.Text
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seconds := int(r.now().Sub(start).Seconds())
	slog.Info("Expense analysis completed", "seconds", seconds, "updates", updates, "thread_id", thread.ID)

	title := fmt.Sprintf("Thought for %ds", seconds)
	content := strings.TrimSpace(reasoning.String())
	if content == "" {
		content = "Analysed expense data"
	}
	final := initial
	final.CreatedAt = r.now()
	final.Workflow = &datatypes.Workflow{
		Type:     datatypes.WorkflowReasoning,
		Tasks:    []datatypes.Task{{Type: datatypes.TaskThought, Title: title, Content: content}},
		Summary:  &datatypes.WorkflowSummary{Title: title, Icon: datatypes.IconSparkle},
		Expanded: false,
	}
	if err := emit(datatypes.ItemDone(final)); err != nil {
		return err
	}

	text := output.String()
	switch {
	case text != "":
	case result != nil && result.Output != "":
		text = result.Output
	case errText != "":
		text = errText
	default:
		text = "Analysis complete."
	}
	return emit(datatypes.ItemDone(datatypes.ThreadItem{
		Type:      datatypes.ItemAssistantMessage,
		ID:        store.NewItemID("message"),
		ThreadID:  thread.ID,
		CreatedAt: r.now(),
		Content:   []datatypes.ContentPart{datatypes.OutputText(text)},
	}))
}

// =============================================================================
// Actions
// =============================================================================

// Widget action types.
const (
	ActionAirportSelected = "airport_selected"
	ActionRouteSelected   = "route_selected"
)

// Action handles a widget button press. Unknown actions are logged and
// ignored.
func (r *Responder) Action(ctx context.Context, thread datatypes.ThreadMetadata, action datatypes.Action, sender *datatypes.ThreadItem, emit Emitter) error {
	ctx, span := tracer.Start(ctx, "Responder.Action")
	defer span.End()
	span.SetAttributes(attribute.String("action.type", action.Type))

	slog.Info("Received action", "type", action.Type, "thread_id", thread.ID)

	var q flights.Query
	switch action.Type {
	case ActionAirportSelected:
		q.DepIATA = action.PayloadString("iata")
		slog.Info("Airport selected", "name", action.PayloadString("name"), "iata", q.DepIATA)
	case ActionRouteSelected:
		q.DepIATA = action.PayloadString("dep_iata")
		q.ArrIATA = action.PayloadString("arr_iata")
		slog.Info("Route selected", "label", action.PayloadString("label"))
	default:
		slog.Warn("Unknown action type", "type", action.Type)
		return nil
	}

	status, err := r.fetchFlight(ctx, q)
	if err != nil {
		return r.emitWidget(thread, widgets.ErrorWidget("Search Failed", err.Error()), "", emit)
	}
	return r.emitWidget(thread, widgets.FlightWidget(status), widgets.FlightCopyText(status), emit)
}

var errFlightsUnavailable = errors.New("Flight lookup is not available.")

func (r *Responder) fetchFlight(ctx context.Context, q flights.Query) (*flights.FlightStatus, error) {
	if r.flights == nil {
		return nil, errFlightsUnavailable
	}
	return r.flights.FetchStatus(ctx, q)
}
