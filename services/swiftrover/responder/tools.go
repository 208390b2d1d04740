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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/SwiftRover/services/expenses"
	"github.com/AleutianAI/SwiftRover/services/flights"
	"github.com/AleutianAI/SwiftRover/services/llm"
	"golang.org/x/sync/errgroup"
)

// Tool names offered to the chat model.
const (
	ToolFlightStatus    = "get_flight_status"
	ToolAirportSelector = "show_airport_selector"
	ToolRouteSelector   = "show_route_selector"
	ToolParkingPrompt   = "show_parking_analysis_prompt"
	ToolExpenseReport   = "analyse_expense_report"
)

const iataDescription = "MUST be a 3-letter uppercase airport code. Convert city names to IATA codes: " +
	"Sydney=SYD, Melbourne=MEL, London Heathrow=LHR, Singapore=SIN, Los Angeles=LAX, New York JFK=JFK, etc."

var noParams = map[string]any{"type": "object", "properties": map[string]any{}}

var toolDefinitions = []llm.ToolDefinition{
	{
		Name: ToolFlightStatus,
		Description: "Get real-time flight status information. For multi-leg flights (e.g. QF1 Sydney→Singapore→London) " +
			"ALWAYS specify dep_iata to get the correct segment. Search by flight number, flight + departure (preferred " +
			"when the user names a departure city), route (dep_iata + arr_iata) or departures only (dep_iata).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"flight_iata": map[string]any{
					"type": "string",
					"description": "Flight IATA code - MUST be uppercase airline code + flight number " +
						"(e.g., 'QF1' for Qantas 1, 'AA100' for American Airlines 100).",
				},
				"dep_iata": map[string]any{
					"type":        "string",
					"description": "Departure airport IATA code - " + iataDescription,
				},
				"arr_iata": map[string]any{
					"type":        "string",
					"description": "Arrival airport IATA code - " + iataDescription,
				},
			},
		},
	},
	{
		Name:        ToolAirportSelector,
		Description: "Show an interactive airport selector widget. Use this when the user wants to browse available airports or select an airport to search flights from.",
		Parameters:  noParams,
	},
	{
		Name:        ToolRouteSelector,
		Description: "Show popular flight routes to search. Use this when the user wants to see popular flight routes.",
		Parameters:  noParams,
	},
	{
		Name:        ToolParkingPrompt,
		Description: "Show instructions for uploading a parking sign image. Use this when the user wants to analyse a parking sign.",
		Parameters:  noParams,
	},
	{
		Name: ToolExpenseReport,
		Description: "Analyse expense reports using advanced reasoning: policy violations, unusual spending patterns, " +
			"budget analysis and compliance issues.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"department": map[string]any{
					"type":        "string",
					"description": "Department name to analyse (e.g., 'Engineering')",
				},
			},
		},
	},
}

// toolState collects the widgets requested by tools during one response.
type toolState struct {
	mu              sync.Mutex
	flight          *flights.FlightStatus
	airportSelector bool
	routeSelector   bool
	parkingPrompt   bool
}

// runTools executes one round of tool calls concurrently. Results are in
// call order. Tool failures become result text for the model; only
// context cancellation is returned as an error.
func (r *Responder) runTools(ctx context.Context, calls []llm.ToolCall, state *toolState) ([]string, error) {
	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.runTool(gctx, call, state)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Responder) runTool(ctx context.Context, call llm.ToolCall, state *toolState) string {
	ctx, span := tracer.Start(ctx, "Responder.Tool."+call.Name)
	defer span.End()

	slog.Info("Running tool", "tool", call.Name, "call_id", call.ID)

	switch call.Name {
	case ToolFlightStatus:
		var q flights.Query
		if err := decodeArgs(call.Arguments, &q); err != nil {
			return err.Error()
		}
		q.FlightIATA = strings.ToUpper(strings.TrimSpace(q.FlightIATA))
		q.DepIATA = strings.ToUpper(strings.TrimSpace(q.DepIATA))
		q.ArrIATA = strings.ToUpper(strings.TrimSpace(q.ArrIATA))
		status, err := r.fetchFlight(ctx, q)
		if err != nil {
			return err.Error()
		}
		state.mu.Lock()
		state.flight = status
		state.mu.Unlock()
		return status.Summary()

	case ToolAirportSelector:
		state.mu.Lock()
		state.airportSelector = true
		state.mu.Unlock()
		return "The airport selector is now shown to the user."

	case ToolRouteSelector:
		state.mu.Lock()
		state.routeSelector = true
		state.mu.Unlock()
		return "The popular routes selector is now shown to the user."

	case ToolParkingPrompt:
		state.mu.Lock()
		state.parkingPrompt = true
		state.mu.Unlock()
		return "Parking sign upload instructions are now shown to the user."

	case ToolExpenseReport:
		var args struct {
			Department string `json:"department"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return err.Error()
		}
		if args.Department != "" {
			slog.Info("Expense report requested", "department", args.Department)
		}
		if r.expenses == nil {
			return expenses.ErrNotConfigured.Error()
		}
		res, err := r.expenses.Analyze(ctx, expenses.DefaultPeriod)
		if err != nil {
			return err.Error()
		}
		report, err := expenses.Load(expenses.DefaultPeriod)
		if err != nil {
			slog.Warn("Expense totals unavailable", "error", err)
			return res.Output
		}
		return res.Output + "\n\n" + report.Totals().Summary()
	}
	slog.Warn("Unknown tool requested", "tool", call.Name)
	return fmt.Sprintf("Unknown tool: %s", call.Name)
}

func decodeArgs(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("Invalid tool arguments: %v", err)
	}
	return nil
}
