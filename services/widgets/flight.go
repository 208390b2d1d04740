// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package widgets

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/services/flights"
)

// StatusColor is the pill colouring of a flight status.
type StatusColor struct {
	Background string
	Text       string
}

// StatusColors maps flight statuses to pill colours. Unknown statuses use
// the scheduled colours.
var StatusColors = map[string]StatusColor{
	flights.StatusScheduled: {Background: "#FEF3C7", Text: "#92400E"},
	flights.StatusActive:    {Background: "#DBEAFE", Text: "#1E40AF"},
	flights.StatusLanded:    {Background: "#D1FAE5", Text: "#065F46"},
	flights.StatusCancelled: {Background: "#FEE2E2", Text: "#991B1B"},
	flights.StatusIncident:  {Background: "#FEE2E2", Text: "#991B1B"},
	flights.StatusDiverted:  {Background: "#FED7AA", Text: "#9A3412"},
}

var flightStages = []string{"Scheduled", "Departing", "In Flight", "Landed"}

// FormatTime renders an ISO-8601 timestamp as "HH:MM" in its own offset.
// Empty input gives "--:--"; unparseable input gives its first five
// characters, or "--:--" when shorter.
func FormatTime(s *string) string {
	if s == nil || *s == "" {
		return "--:--"
	}
	v := *s
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("15:04")
		}
	}
	if len(v) >= 5 {
		return v[:5]
	}
	return "--:--"
}

// StatusIcon picks the header icon for a status.
func StatusIcon(status string, onGround bool) string {
	switch status {
	case flights.StatusScheduled:
		return ClockIcon
	case flights.StatusActive:
		if onGround {
			return TakeoffIcon
		}
		return AirplaneIcon
	case flights.StatusLanded:
		return LandingIcon
	default:
		return AirplaneIcon
	}
}

// StatusLabel is the human label of a status.
func StatusLabel(status string, onGround bool) string {
	switch status {
	case flights.StatusScheduled:
		return "Scheduled"
	case flights.StatusActive:
		if onGround {
			return "Departing"
		}
		return "In Flight"
	case flights.StatusLanded:
		return "Landed"
	case flights.StatusCancelled:
		return "Cancelled"
	case flights.StatusIncident:
		return "Incident"
	case flights.StatusDiverted:
		return "Diverted"
	default:
		return flights.TitleCase(status)
	}
}

// currentStage returns the index into flightStages reached by a flight.
func currentStage(status string, onGround bool) int {
	switch status {
	case flights.StatusActive:
		if onGround {
			return 1
		}
		return 2
	case flights.StatusLanded:
		return 3
	default:
		return 0
	}
}

func detailChip(label, value string) Node {
	return Box(Props{"padding": 3, "radius": "lg", "background": "surface-tertiary", "minWidth": 100},
		Col(Props{"align": "start", "gap": 1},
			Text(label, Props{"size": "xs", "weight": "medium", "color": "tertiary"}),
			Text(value, Props{"weight": "semibold", "size": "sm"}),
		),
	)
}

// FlightWidget renders a flight status card: header with status pill, route,
// progress stages and detail chips.
func FlightWidget(f *flights.FlightStatus) Node {
	status := strings.ToLower(f.Status)
	style, ok := StatusColors[status]
	if !ok {
		style = StatusColors[flights.StatusScheduled]
	}
	onGround := f.Live != nil && f.Live.IsGround

	header := Box(Props{"padding": 5, "background": "surface-tertiary"},
		Row(Props{"justify": "between", "align": "center"},
			Row(Props{"gap": 3, "align": "center"},
				Box(Props{"padding": 2, "radius": "full", "background": "blue-100"},
					Image(StatusIcon(status, onGround), "Flight", 32),
				),
				Col(Props{"align": "start", "gap": 1},
					Title(f.Code(), Props{"size": "md", "weight": "bold"}),
					Text(f.AirlineName, Props{"color": "tertiary", "size": "xs"}),
				),
			),
			Box(Props{"padding": 2, "paddingX": 4, "radius": "full", "background": style.Background},
				Text(StatusLabel(status, onGround), Props{"size": "sm", "weight": "semibold", "color": style.Text}),
			),
		),
	)

	endpoint := func(label, align string, a flights.AirportInfo) Node {
		return Col(Props{"align": align, "gap": 1},
			Text(label, Props{"size": "xs", "color": "tertiary", "weight": "medium"}),
			Title(a.IATA, Props{"size": "lg", "weight": "bold"}),
			Text(a.Airport, Props{"size": "xs", "color": "secondary"}),
			Text(FormatTime(a.Scheduled), Props{"size": "sm", "weight": "semibold"}),
		)
	}
	route := Box(Props{"padding": 5},
		Row(Props{"justify": "between", "align": "center", "gap": 4},
			endpoint("FROM", "start", f.Departure),
			Col(Props{"align": "center"},
				Text("✈️", Props{"size": "lg"}),
				Text("→", Props{"size": "sm", "color": "tertiary"}),
			),
			endpoint("TO", "end", f.Arrival),
		),
	)

	stage := currentStage(status, onGround)
	indicators := make([]Node, 0, len(flightStages))
	for i, name := range flightStages {
		reached := i <= stage
		mark, bg, markColor, labelColor := strconv.Itoa(i+1), "gray-200", "tertiary", "tertiary"
		if reached {
			mark, bg, markColor, labelColor = "✓", "blue-500", "white", "secondary"
		}
		indicators = append(indicators, Col(Props{"align": "center", "gap": 1},
			Box(Props{"padding": 2, "radius": "full", "background": bg},
				Text(mark, Props{"size": "xs", "color": markColor}),
			),
			Text(name, Props{"size": "xs", "color": labelColor}),
		))
	}
	progress := Box(Props{"padding": 4}, Row(Props{"justify": "between", "align": "start"}, indicators...))

	chips := flightDetailChips(f, status)
	if len(chips) == 0 {
		chips = []Node{Text("No additional details available", Props{"size": "xs", "color": "tertiary"})}
	}
	details := Box(Props{"padding": 5, "gap": 3, "background": "surface-secondary"},
		Text("Flight Details", Props{"weight": "semibold", "size": "sm"}),
		Row(Props{"gap": 3, "wrap": "wrap"}, chips...),
	)

	return Card("flight_status", Props{"padding": 0}, header, route, progress, details)
}

func flightDetailChips(f *flights.FlightStatus, status string) []Node {
	var chips []Node
	add := func(label string, v *string) {
		if v != nil && *v != "" {
			chips = append(chips, detailChip(label, *v))
		}
	}
	addDelay := func(label string, d *int) {
		if d != nil && *d > 0 {
			chips = append(chips, detailChip(label, fmt.Sprintf("%d min", *d)))
		}
	}

	add("Dep. Terminal", f.Departure.Terminal)
	add("Dep. Gate", f.Departure.Gate)
	addDelay("Dep. Delay", f.Departure.Delay)
	add("Arr. Terminal", f.Arrival.Terminal)
	add("Arr. Gate", f.Arrival.Gate)
	add("Baggage", f.Arrival.Baggage)
	addDelay("Arr. Delay", f.Arrival.Delay)

	if live := f.Live; live != nil && status == flights.StatusActive && !live.IsGround {
		if live.Altitude != nil && *live.Altitude != 0 {
			chips = append(chips, detailChip("Altitude", groupThousands(int64(*live.Altitude))+"m"))
		}
		if live.SpeedHorizontal != nil && *live.SpeedHorizontal != 0 {
			chips = append(chips, detailChip("Speed", fmt.Sprintf("%d km/h", int64(*live.SpeedHorizontal))))
		}
	}
	return chips
}

// FlightCopyText is the plain text form of a flight widget.
func FlightCopyText(f *flights.FlightStatus) string {
	code := f.FlightIATA
	if code == "" {
		code = f.FlightNumber
	}
	lines := []string{
		"Flight: " + code,
		"Airline: " + f.AirlineName,
		"Status: " + flights.TitleCase(f.Status),
		"",
		fmt.Sprintf("From: %s (%s)", f.Departure.Airport, f.Departure.IATA),
		"  Scheduled: " + FormatTime(f.Departure.Scheduled),
	}
	if v := f.Departure.Terminal; v != nil && *v != "" {
		lines = append(lines, "  Terminal: "+*v)
	}
	if v := f.Departure.Gate; v != nil && *v != "" {
		lines = append(lines, "  Gate: "+*v)
	}
	if d := f.Departure.Delay; d != nil && *d != 0 {
		lines = append(lines, fmt.Sprintf("  Delay: %d min", *d))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("To: %s (%s)", f.Arrival.Airport, f.Arrival.IATA),
		"  Scheduled: "+FormatTime(f.Arrival.Scheduled),
	)
	if v := f.Arrival.Terminal; v != nil && *v != "" {
		lines = append(lines, "  Terminal: "+*v)
	}
	if v := f.Arrival.Gate; v != nil && *v != "" {
		lines = append(lines, "  Gate: "+*v)
	}
	return strings.Join(lines, "\n")
}

func selectorHeader(icon, alt, title, subtitle string) Node {
	return Box(Props{"padding": 5, "background": "surface-tertiary"},
		Row(Props{"gap": 3, "align": "center"},
			Box(Props{"padding": 3, "radius": "full", "background": "blue-100"},
				Image(icon, alt, 28),
			),
			Col(Props{"align": "start", "gap": 1},
				Title(title, Props{"size": "md", "weight": "semibold"}),
				Text(subtitle, Props{"color": "tertiary", "size": "xs"}),
			),
		),
	)
}

// AirportSelector renders buttons for the popular airports, two per row.
// Clicking one sends an "airport_selected" action.
func AirportSelector() Node {
	buttons := make([]Node, 0, len(flights.PopularAirports))
	for _, a := range flights.PopularAirports {
		buttons = append(buttons, Button(a.IATA+" - "+a.Name, ActionConfig{
			Type:    "airport_selected",
			Payload: map[string]any{"iata": a.IATA, "name": a.Name, "country": a.Country},
			Handler: "server",
		}))
	}

	var rows []Node
	for i := 0; i < len(buttons); i += 2 {
		end := min(i+2, len(buttons))
		rows = append(rows, Row(Props{"gap": 3, "wrap": "wrap", "justify": "start"}, buttons[i:end]...))
	}
	rows = append(rows, Box(Props{"padding": 3, "radius": "md", "background": "blue-50"},
		Text("💡 Select an airport or ask about any flight by its number (e.g., QF1, AA100)",
			Props{"size": "xs", "color": "secondary"}),
	))

	return Card("airport_selector", Props{"padding": 0},
		selectorHeader(LocationIcon, "Airport", "Select Airport", "Choose a departure airport to search flights"),
		Box(Props{"padding": 5, "gap": 3}, rows...),
	)
}

// AirportSelectorCopyText lists the popular airports.
func AirportSelectorCopyText() string {
	lines := make([]string, 0, len(flights.PopularAirports))
	for _, a := range flights.PopularAirports {
		lines = append(lines, fmt.Sprintf("• %s - %s, %s", a.IATA, a.Name, a.Country))
	}
	return "Available airports:\n" + strings.Join(lines, "\n")
}

// RouteSelector renders buttons for the popular routes. Clicking one sends
// a "route_selected" action.
func RouteSelector() Node {
	buttons := make([]Node, 0, len(flights.PopularRoutes))
	for _, r := range flights.PopularRoutes {
		buttons = append(buttons, Button(r.Label, ActionConfig{
			Type:    "route_selected",
			Payload: map[string]any{"dep_iata": r.Dep, "arr_iata": r.Arr, "label": r.Label},
			Handler: "server",
		}))
	}
	return Card("route_selector", Props{"padding": 0},
		selectorHeader(AirplaneIcon, "Routes", "Popular Routes", "Quick search for popular flight routes"),
		Box(Props{"padding": 5, "gap": 3},
			Row(Props{"gap": 3, "wrap": "wrap", "justify": "start"}, buttons...),
		),
	)
}

// ErrorWidget renders a red card with a title and message.
func ErrorWidget(title, message string) Node {
	return Card("error", Props{"padding": 0},
		Box(Props{"padding": 5, "background": "red-50"},
			Col(Props{"gap": 2},
				Row(Props{"gap": 2, "align": "center"},
					Text("⚠️", Props{"size": "lg"}),
					Title(title, Props{"size": "md", "weight": "semibold"}),
				),
				Text(message, Props{"size": "sm", "color": "secondary"}),
			),
		),
	)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, d := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
