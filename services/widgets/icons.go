// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package widgets

import "fmt"

const (
	flightIconColor  = "#0369A1"
	flightIconAccent = "#E0F2FE"

	canParkColor    = "#059669"
	cannotParkColor = "#DC2626"
	canParkBG       = "#F0FDF4"
	cannotParkBG    = "#FEF2F2"
)

const svgOpen = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 64 64" fill="none">`

// Icons as data URIs.
var (
	AirplaneIcon = encodeSVG(svgOpen + fmt.Sprintf(
		`<path d="M32 8L28 20H16L12 28H24L20 44L8 48V52L20 48L24 56H28L32 44L36 56H40L44 48L56 52V48L44 44L40 28H52L48 20H36L32 8Z" `+
			`fill="%s" stroke="%s" stroke-width="2" stroke-linejoin="round"/>`, flightIconAccent, flightIconColor) + `</svg>`)

	TakeoffIcon = encodeSVG(svgOpen + fmt.Sprintf(
		`<path d="M8 52H56" stroke="%[2]s" stroke-width="3" stroke-linecap="round"/>`+
			`<path d="M12 40L24 32L32 28L48 20L52 22L44 32L36 36L20 44L12 40Z" `+
			`fill="%[1]s" stroke="%[2]s" stroke-width="2" stroke-linejoin="round"/>`, flightIconAccent, flightIconColor) + `</svg>`)

	LandingIcon = encodeSVG(svgOpen + fmt.Sprintf(
		`<path d="M8 52H56" stroke="%[2]s" stroke-width="3" stroke-linecap="round"/>`+
			`<path d="M48 20L40 28L32 32L16 40L12 38L20 28L28 24L44 16L48 20Z" `+
			`fill="%[1]s" stroke="%[2]s" stroke-width="2" stroke-linejoin="round"/>`, flightIconAccent, flightIconColor) + `</svg>`)

	ClockIcon = encodeSVG(svgOpen + fmt.Sprintf(
		`<circle cx="32" cy="32" r="24" fill="%[1]s" stroke="%[2]s" stroke-width="3"/>`+
			`<path d="M32 16V32L44 40" stroke="%[2]s" stroke-width="3" stroke-linecap="round" stroke-linejoin="round"/>`,
		flightIconAccent, flightIconColor) + `</svg>`)

	LocationIcon = encodeSVG(svgOpen + fmt.Sprintf(
		`<path d="M32 8c-8.837 0-16 7.163-16 16 0 12 16 32 16 32s16-20 16-32c0-8.837-7.163-16-16-16z" `+
			`fill="%[1]s" stroke="%[2]s" stroke-width="3" stroke-linejoin="round"/>`+
			`<circle cx="32" cy="24" r="6" fill="%[2]s"/>`, flightIconAccent, flightIconColor) + `</svg>`)

	CheckmarkIcon = encodeSVG(svgOpen + fmt.Sprintf(
		`<circle cx="32" cy="32" r="28" fill="%[1]s" stroke="%[2]s" stroke-width="3"/>`+
			`<path d="M20 32L28 40L44 24" stroke="%[2]s" stroke-width="4" stroke-linecap="round" stroke-linejoin="round"/>`,
		canParkBG, canParkColor) + `</svg>`)

	CrossIcon = encodeSVG(svgOpen + fmt.Sprintf(
		`<circle cx="32" cy="32" r="28" fill="%[1]s" stroke="%[2]s" stroke-width="3"/>`+
			`<path d="M22 22L42 42M42 22L22 42" stroke="%[2]s" stroke-width="4" stroke-linecap="round"/>`,
		cannotParkBG, cannotParkColor) + `</svg>`)

	ParkingSignIcon = encodeSVG(svgOpen +
		`<rect x="12" y="8" width="40" height="48" rx="4" fill="#3B82F6" stroke="#1E40AF" stroke-width="2"/>` +
		`<text x="32" y="42" font-family="Arial, sans-serif" font-size="28" font-weight="bold" fill="white" ` +
		`text-anchor="middle">P</text>` + `</svg>`)
)
