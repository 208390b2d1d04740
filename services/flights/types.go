// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flights

import (
	"fmt"
	"strings"
)

// Flight statuses reported by AviationStack.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusLanded    = "landed"
	StatusCancelled = "cancelled"
	StatusIncident  = "incident"
	StatusDiverted  = "diverted"
)

// AirportInfo describes one end of a flight. Optional fields are nil when
// the API did not report them.
type AirportInfo struct {
	Airport   string  `json:"airport"`
	IATA      string  `json:"iata"`
	ICAO      string  `json:"icao"`
	Terminal  *string `json:"terminal"`
	Gate      *string `json:"gate"`
	Baggage   *string `json:"baggage"`
	Delay     *int    `json:"delay"`
	Scheduled *string `json:"scheduled"`
	Estimated *string `json:"estimated"`
	Actual    *string `json:"actual"`
	Timezone  *string `json:"timezone"`
}

// LiveFlightData is the real-time position of an airborne or taxiing flight.
// Altitude is in meters, speeds in km/h.
type LiveFlightData struct {
	Updated         *string  `json:"updated"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	Altitude        *float64 `json:"altitude"`
	Direction       *float64 `json:"direction"`
	SpeedHorizontal *float64 `json:"speed_horizontal"`
	SpeedVertical   *float64 `json:"speed_vertical"`
	IsGround        bool     `json:"is_ground"`
}

// FlightStatus is the normalised view of one flight leg.
type FlightStatus struct {
	FlightDate   string          `json:"flight_date"`
	Status       string          `json:"flight_status"`
	FlightIATA   string          `json:"flight_iata"`
	FlightNumber string          `json:"flight_number"`
	AirlineName  string          `json:"airline_name"`
	AirlineIATA  string          `json:"airline_iata"`
	Departure    AirportInfo     `json:"departure"`
	Arrival      AirportInfo     `json:"arrival"`
	Live         *LiveFlightData `json:"live,omitempty"`
}

// Summary is the one-line text handed back to the chat model.
func (f *FlightStatus) Summary() string {
	return fmt.Sprintf("Flight %s (%s): %s → %s, Status: %s",
		f.FlightIATA, f.AirlineName, f.Departure.IATA, f.Arrival.IATA, TitleCase(f.Status))
}

// Code returns the IATA flight code, falling back to airline code + number.
func (f *FlightStatus) Code() string {
	if f.FlightIATA != "" {
		return f.FlightIATA
	}
	return f.AirlineIATA + f.FlightNumber
}

// Query selects flights by code, route or departure airport.
type Query struct {
	FlightIATA string `json:"flight_iata,omitempty"`
	DepIATA    string `json:"dep_iata,omitempty"`
	ArrIATA    string `json:"arr_iata,omitempty"`
}

// Airport is an entry of the airport selector.
type Airport struct {
	IATA    string `yaml:"iata" json:"iata"`
	Name    string `yaml:"name" json:"name"`
	Country string `yaml:"country" json:"country"`
}

// Route is an entry of the route selector.
type Route struct {
	Dep   string `json:"dep_iata"`
	Arr   string `json:"arr_iata"`
	Label string `json:"label"`
}

// MultiLegFlights maps flight codes of multi-segment services to the
// departure airport of their first leg. Without dep_iata the API may return
// any leg.
var MultiLegFlights = map[string]string{
	"QF1":   "SYD", // Sydney → Singapore → London
	"QF2":   "LHR",
	"SQ21":  "SIN",
	"SQ22":  "EWR",
	"EK448": "DXB",
	"BA15":  "LHR",
	"BA16":  "SYD",
}

// PopularAirports backs the airport selector widget.
var PopularAirports = []Airport{
	{IATA: "SYD", Name: "Sydney", Country: "Australia"},
	{IATA: "MEL", Name: "Melbourne", Country: "Australia"},
	{IATA: "LAX", Name: "Los Angeles", Country: "USA"},
	{IATA: "JFK", Name: "New York JFK", Country: "USA"},
	{IATA: "LHR", Name: "London Heathrow", Country: "UK"},
	{IATA: "DXB", Name: "Dubai", Country: "UAE"},
	{IATA: "SIN", Name: "Singapore", Country: "Singapore"},
	{IATA: "HKG", Name: "Hong Kong", Country: "China"},
}

// PopularRoutes backs the route selector widget.
var PopularRoutes = []Route{
	{Dep: "SYD", Arr: "MEL", Label: "Sydney → Melbourne"},
	{Dep: "SYD", Arr: "LAX", Label: "Sydney → Los Angeles"},
	{Dep: "LHR", Arr: "JFK", Label: "London → New York"},
	{Dep: "DXB", Arr: "LHR", Label: "Dubai → London"},
	{Dep: "SIN", Arr: "SYD", Label: "Singapore → Sydney"},
}

// TitleCase upper-cases the first letter of each space separated word and
// lower-cases the rest.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		lower := strings.ToLower(w)
		words[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(words, " ")
}
