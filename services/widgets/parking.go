// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package widgets

import (
	"strings"

	"github.com/AleutianAI/SwiftRover/services/flights"
	"github.com/AleutianAI/SwiftRover/services/parking"
)

var confidenceColors = map[string]StatusColor{
	parking.ConfidenceHigh:   {Background: "green-100", Text: "green-700"},
	parking.ConfidenceMedium: {Background: "yellow-100", Text: "yellow-700"},
	parking.ConfidenceLow:    {Background: "red-100", Text: "red-700"},
}

func confidenceBadge(confidence string) Node {
	style, ok := confidenceColors[strings.ToLower(confidence)]
	if !ok {
		style = confidenceColors[parking.ConfidenceMedium]
	}
	return Box(Props{"padding": 2, "paddingX": 3, "radius": "full", "background": style.Background},
		Text(flights.TitleCase(confidence)+" confidence",
			Props{"size": "xs", "weight": "medium", "color": style.Text}),
	)
}

func restrictionChip(r parking.Restriction) Node {
	children := []Node{Text(r.Type, Props{"weight": "semibold", "size": "sm"})}
	for _, d := range []struct{ icon, value string }{
		{"⏰", r.Hours}, {"📅", r.Days}, {"⏱️", r.Duration}, {"📝", r.Notes},
	} {
		if d.value != "" {
			children = append(children, Text(d.icon+" "+d.value, Props{"size": "xs", "color": "secondary"}))
		}
	}
	return Box(Props{"padding": 3, "radius": "lg", "background": "surface-tertiary"},
		Col(Props{"gap": 2}, children...),
	)
}

// ParkingWidget renders a parking verdict card.
func ParkingWidget(a *parking.Analysis) Node {
	icon, headline, headerBG := CrossIcon, "❌ No!", "red-50"
	if a.CanPark {
		icon, headline, headerBG = CheckmarkIcon, "✅ Yes!", "green-50"
	}

	children := []Node{
		Box(Props{"padding": 5, "background": headerBG},
			Row(Props{"justify": "between", "align": "center"},
				Row(Props{"gap": 4, "align": "center"},
					Image(icon, "Verdict", 48),
					Col(Props{"gap": 1},
						Title(headline, Props{"size": "lg", "weight": "bold"}),
						Text(a.Verdict, Props{"size": "sm", "color": "secondary", "weight": "medium"}),
					),
				),
				confidenceBadge(a.Confidence),
			),
		),
	}

	var quick []Node
	if a.TimeLimit != "" {
		quick = append(quick, Box(Props{"padding": 3, "radius": "md", "background": "surface-tertiary"},
			Col(Props{"gap": 1},
				Text("⏱️ Time Limit", Props{"size": "xs", "color": "tertiary", "weight": "medium"}),
				Text(a.TimeLimit, Props{"weight": "semibold", "size": "sm"}),
			),
		))
	}
	if a.CurrentTimeContext != "" {
		quick = append(quick, Box(Props{"padding": 3, "radius": "md", "background": "blue-50"},
			Col(Props{"gap": 1},
				Text("🕐 Current Time", Props{"size": "xs", "color": "tertiary", "weight": "medium"}),
				Text(a.CurrentTimeContext, Props{"size": "xs", "color": "secondary"}),
			),
		))
	}
	if len(quick) > 0 {
		children = append(children, Box(Props{"padding": 5, "gap": 3}, Row(Props{"gap": 3, "wrap": "wrap"}, quick...)))
	}

	if len(a.Restrictions) > 0 {
		chips := make([]Node, 0, len(a.Restrictions))
		for _, r := range a.Restrictions {
			chips = append(chips, restrictionChip(r))
		}
		children = append(children, Box(Props{"padding": 5, "gap": 3, "background": "surface-secondary"},
			Text("📋 Restrictions", Props{"weight": "semibold", "size": "sm"}),
			Row(Props{"gap": 3, "wrap": "wrap"}, chips...),
		))
	}

	children = append(children, Box(Props{"padding": 5, "gap": 3, "background": "surface-tertiary"},
		Text("🔍 Detailed Analysis", Props{"weight": "semibold", "size": "sm"}),
		Text(a.DetailedAnalysis, Props{"size": "sm", "color": "secondary"}),
	))

	if a.Advice != "" {
		children = append(children, Box(Props{"padding": 5},
			Box(Props{"padding": 4, "radius": "lg", "background": "blue-50"},
				Row(Props{"gap": 2},
					Text("💡", Props{"size": "md"}),
					Text(a.Advice, Props{"size": "sm", "color": "secondary"}),
				),
			),
		))
	}

	return Card("parking_analysis", Props{"padding": 0}, children...)
}

// ParkingCopyText is the plain text form of a parking widget.
func ParkingCopyText(a *parking.Analysis) string {
	verdict := "❌ NO - "
	if a.CanPark {
		verdict = "✅ YES - "
	}
	lines := []string{
		"Parking Analysis Result",
		"=======================",
		"Verdict: " + verdict + a.Verdict,
		"Confidence: " + flights.TitleCase(a.Confidence),
	}
	if a.TimeLimit != "" {
		lines = append(lines, "Time Limit: "+a.TimeLimit)
	}
	if len(a.Restrictions) > 0 {
		lines = append(lines, "\nRestrictions:")
		for _, r := range a.Restrictions {
			lines = append(lines, "  • "+r.Type)
			if r.Hours != "" {
				lines = append(lines, "    Hours: "+r.Hours)
			}
			if r.Days != "" {
				lines = append(lines, "    Days: "+r.Days)
			}
			if r.Duration != "" {
				lines = append(lines, "    Duration: "+r.Duration)
			}
		}
	}
	lines = append(lines, "\nDetailed Analysis:", a.DetailedAnalysis)
	if a.Advice != "" {
		lines = append(lines, "\nAdvice:", a.Advice)
	}
	return strings.Join(lines, "\n")
}

// ParkingUploadPrompt explains how to submit a sign photo.
func ParkingUploadPrompt() Node {
	step := func(icon, text string) Node {
		return Row(Props{"gap": 2, "align": "center"},
			Text(icon, Props{"size": "md"}),
			Text(text, Props{"size": "sm"}),
		)
	}
	return Card("parking_upload_prompt", Props{"padding": 0},
		Box(Props{"padding": 5, "background": "surface-tertiary"},
			Row(Props{"gap": 3, "align": "center"},
				Box(Props{"padding": 3, "radius": "full", "background": "blue-100"},
					Image(ParkingSignIcon, "Parking", 32),
				),
				Col(Props{"gap": 1},
					Title("Parking Sign Analysis", Props{"size": "md", "weight": "semibold"}),
					Text("Upload a photo of a parking sign for AI analysis", Props{"color": "tertiary", "size": "xs"}),
				),
			),
		),
		Box(Props{"padding": 5, "gap": 4},
			Col(Props{"gap": 3},
				step("📸", "Take a clear photo of the parking sign"),
				step("📤", "Upload using the attachment button below"),
				step("🤖", "AI will analyse and tell you if you can park"),
			),
			Box(Props{"padding": 3, "radius": "md", "background": "amber-50"},
				Text("⚠️ This is for informational purposes only. Always verify with actual signage.",
					Props{"size": "xs", "color": "secondary"}),
			),
		),
	)
}

// AnalysingWidget is shown while a sign is being analysed.
func AnalysingWidget() Node {
	return Card("analysing", Props{"padding": 0},
		Box(Props{"padding": 5, "background": "surface-tertiary"},
			Row(Props{"gap": 3, "align": "center", "justify": "center"},
				Text("🔍", Props{"size": "lg"}),
				Col(Props{"gap": 1},
					Text("Analysing parking sign...", Props{"weight": "semibold"}),
					Text("Using AI vision to read the sign", Props{"size": "xs", "color": "tertiary"}),
				),
			),
		),
	)
}
