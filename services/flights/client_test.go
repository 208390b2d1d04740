// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package flights

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const qf1Response = `{
  "pagination": {"limit": 100, "offset": 0, "count": 1, "total": 1},
  "data": [{
    "flight_date": "2025-01-15",
    "flight_status": "scheduled",
    "departure": {"airport": "Kingsford Smith", "timezone": "Australia/Sydney", "iata": "SYD", "icao": "YSSY",
                  "terminal": "1", "gate": "9", "delay": 15,
                  "scheduled": "2025-01-15T16:05:00+00:00", "estimated": "2025-01-15T16:05:00+00:00",
                  "actual": "2025-01-15T16:20:00+00:00"},
    "arrival": {"airport": "Changi", "timezone": "Asia/Singapore", "iata": "SIN", "icao": "WSSS",
                "terminal": "1", "gate": null, "baggage": null, "delay": null,
                "scheduled": "2025-01-15T22:00:00+00:00", "estimated": null, "actual": null},
    "airline": {"name": "Qantas", "iata": "QF", "icao": "QFA"},
    "flight": {"number": "1", "iata": "QF1", "icao": "QFA1"},
    "live": {"updated": "2025-01-15T18:00:00+00:00", "latitude": -10.5, "longitude": 120.1,
             "altitude": 11277.6, "direction": 300, "speed_horizontal": 890.2, "speed_vertical": 0,
             "is_ground": false}
  }]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		APIKey:  secrets.New("av-key"),
		BaseURL: server.URL,
	}), server
}

// =============================================================================
// BuildParams Tests
// =============================================================================

func TestBuildParams(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		want    url.Values
		wantErr error
	}{
		{
			name:  "flight uppercased",
			query: Query{FlightIATA: "aa100"},
			want:  url.Values{"flight_iata": {"AA100"}},
		},
		{
			name:  "multi-leg flight gets first departure",
			query: Query{FlightIATA: "qf1"},
			want:  url.Values{"flight_iata": {"QF1"}, "dep_iata": {"SYD"}},
		},
		{
			name:  "explicit departure wins over multi-leg default",
			query: Query{FlightIATA: "QF1", DepIATA: "sin"},
			want:  url.Values{"flight_iata": {"QF1"}, "dep_iata": {"SIN"}},
		},
		{
			name:  "flight with arrival",
			query: Query{FlightIATA: "VA800", ArrIATA: "mel"},
			want:  url.Values{"flight_iata": {"VA800"}, "arr_iata": {"MEL"}},
		},
		{
			name:  "route",
			query: Query{DepIATA: "syd", ArrIATA: "mel"},
			want:  url.Values{"dep_iata": {"SYD"}, "arr_iata": {"MEL"}},
		},
		{
			name:  "departures only",
			query: Query{DepIATA: "LHR"},
			want:  url.Values{"dep_iata": {"LHR"}},
		},
		{
			name:    "arrival only is rejected",
			query:   Query{ArrIATA: "MEL"},
			wantErr: ErrMissingQuery,
		},
		{
			name:    "empty",
			query:   Query{},
			wantErr: ErrMissingQuery,
		},
		{
			name:  "spaced flight code",
			query: Query{FlightIATA: " va 800 "},
			want:  url.Values{"flight_iata": {"VA800"}},
		},
		{
			name:    "malformed flight code",
			query:   Query{FlightIATA: "QF1&limit=100"},
			wantErr: ErrInvalidCode,
		},
		{
			name:    "malformed airport code",
			query:   Query{DepIATA: "Sydney"},
			wantErr: ErrInvalidCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildParams(tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// DeriveStatus Tests
// =============================================================================

func TestDeriveStatus(t *testing.T) {
	alt := func(v float64) *float64 { return &v }
	ts := func(s string) *string { return &s }

	tests := []struct {
		name string
		raw  string
		live *LiveFlightData
		dep  AirportInfo
		arr  AirportInfo
		want string
	}{
		{name: "no live keeps raw", raw: "cancelled", want: "cancelled"},
		{name: "empty raw defaults to scheduled", raw: "", want: StatusScheduled},
		{name: "airborne is active", raw: "scheduled", live: &LiveFlightData{Altitude: alt(10000)}, want: StatusActive},
		{name: "zero altitude not airborne", raw: "scheduled", live: &LiveFlightData{Altitude: alt(0)}, want: "scheduled"},
		{
			name: "on ground departed and arrived is landed",
			raw:  "active",
			live: &LiveFlightData{IsGround: true},
			dep:  AirportInfo{Actual: ts("2025-01-15T10:00:00+00:00")},
			arr:  AirportInfo{Actual: ts("2025-01-15T12:00:00+00:00")},
			want: StatusLanded,
		},
		{
			name: "on ground departed not arrived is active",
			raw:  "scheduled",
			live: &LiveFlightData{IsGround: true},
			dep:  AirportInfo{Actual: ts("2025-01-15T10:00:00+00:00")},
			want: StatusActive,
		},
		{
			name: "on ground not departed keeps raw",
			raw:  "scheduled",
			live: &LiveFlightData{IsGround: true, Altitude: alt(0)},
			want: "scheduled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.raw, tt.live, tt.dep, tt.arr))
		})
	}
}

// =============================================================================
// FetchStatus Tests
// =============================================================================

func TestFetchStatus_Success(t *testing.T) {
	var gotQuery url.Values
	var gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		fmt.Fprint(w, qf1Response)
	})

	status, err := client.FetchStatus(context.Background(), Query{FlightIATA: "qf1"})
	require.NoError(t, err)

	assert.Equal(t, "/flights", gotPath)
	assert.Equal(t, "av-key", gotQuery.Get("access_key"))
	assert.Equal(t, "QF1", gotQuery.Get("flight_iata"))
	assert.Equal(t, "SYD", gotQuery.Get("dep_iata"))

	assert.Equal(t, StatusActive, status.Status, "live altitude overrides scheduled")
	assert.Equal(t, "QF1", status.FlightIATA)
	assert.Equal(t, "Qantas", status.AirlineName)
	assert.Equal(t, "SYD", status.Departure.IATA)
	require.NotNil(t, status.Departure.Delay)
	assert.Equal(t, 15, *status.Departure.Delay)
	assert.Nil(t, status.Arrival.Gate)
	require.NotNil(t, status.Live)
	assert.InDelta(t, 11277.6, *status.Live.Altitude, 0.01)

	assert.Equal(t, "Flight QF1 (Qantas): SYD → SIN, Status: Active", status.Summary())
}

func TestFetchStatus_Errors(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		status  int
		body    string
		wantMsg string
		wantIs  error
	}{
		{
			name:    "non-200",
			query:   Query{FlightIATA: "QF1"},
			status:  http.StatusBadGateway,
			wantMsg: "AviationStack API error: 502",
		},
		{
			name:    "api error object",
			query:   Query{FlightIATA: "QF1"},
			status:  http.StatusOK,
			body:    `{"error":{"code":"invalid_access_key","message":"You have not supplied a valid API Access Key."}}`,
			wantMsg: "AviationStack error: You have not supplied a valid API Access Key.",
		},
		{
			name:    "api error without message",
			query:   Query{FlightIATA: "QF1"},
			status:  http.StatusOK,
			body:    `{"error":{"code":"x"}}`,
			wantMsg: "AviationStack error: Unknown error",
		},
		{
			name:    "no flight by code",
			query:   Query{FlightIATA: "zz999"},
			status:  http.StatusOK,
			body:    `{"data":[]}`,
			wantMsg: "No flight found with code ZZ999. Please verify the flight number.",
			wantIs:  ErrNotFound,
		},
		{
			name:    "no flight by route",
			query:   Query{DepIATA: "SYD", ArrIATA: "HKG"},
			status:  http.StatusOK,
			body:    `{"data":[]}`,
			wantMsg: "No flights found for the specified route.",
			wantIs:  ErrNotFound,
		},
		{
			name:    "bad json",
			query:   Query{DepIATA: "SYD"},
			status:  http.StatusOK,
			body:    `{not json`,
			wantMsg: "Error fetching flight data: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.FetchStatus(context.Background(), tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestFetchStatus_MissingKey(t *testing.T) {
	client := NewClient(Config{})
	assert.False(t, client.Configured())

	_, err := client.FetchStatus(context.Background(), Query{FlightIATA: "QF1"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, "AVIATIONSTACK_KEY environment variable is not configured. Please set it to use flight tracking.", err.Error())
}

func TestFetchStatus_MissingQuery(t *testing.T) {
	called := false
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := client.FetchStatus(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrMissingQuery)
	assert.False(t, called)
}

type timeoutDoer struct{}

func (timeoutDoer) Do(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}

func TestFetchStatus_Timeout(t *testing.T) {
	client := NewClient(Config{APIKey: secrets.New("k"), HTTPClient: timeoutDoer{}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchStatus(ctx, Query{FlightIATA: "QF1"})
	assert.ErrorIs(t, err, ErrTimeout)
}

type failingDoer struct{ err error }

func (f failingDoer) Do(*http.Request) (*http.Response, error) { return nil, f.err }

func TestFetchStatus_TransportErrorRedactsKey(t *testing.T) {
	client := NewClient(Config{
		APIKey:     secrets.New("sup3rs3cret"),
		HTTPClient: failingDoer{err: errors.New(`Get "http://x/flights?access_key=sup3rs3cret": connection refused`)},
	})

	_, err := client.FetchStatus(context.Background(), Query{FlightIATA: "QF1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error fetching flight data:")
	assert.NotContains(t, err.Error(), "sup3rs3cret")
}

func TestFetchStatus_ObserverAndRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, qf1Response)
	}))
	defer server.Close()

	var mu sync.Mutex
	outcomes := map[string]int{}
	client := NewClient(Config{
		APIKey:            secrets.New("k"),
		BaseURL:           server.URL,
		RequestsPerMinute: 6000,
		Observer: func(outcome string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			outcomes[outcome]++
		},
	})

	for i := 0; i < 3; i++ {
		_, err := client.FetchStatus(context.Background(), Query{DepIATA: "SYD"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, outcomes["success"])
}

// =============================================================================
// Type Helper Tests
// =============================================================================

func TestFlightStatus_Code(t *testing.T) {
	assert.Equal(t, "QF1", (&FlightStatus{FlightIATA: "QF1"}).Code())
	assert.Equal(t, "VA800", (&FlightStatus{AirlineIATA: "VA", FlightNumber: "800"}).Code())
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Scheduled", TitleCase("scheduled"))
	assert.Equal(t, "In Flight", TitleCase("in FLIGHT"))
	assert.Equal(t, "", TitleCase(""))
}

func TestStaticData(t *testing.T) {
	assert.Len(t, MultiLegFlights, 7)
	assert.Equal(t, "EWR", MultiLegFlights["SQ22"])
	assert.Len(t, PopularAirports, 8)
	assert.Equal(t, "HKG", PopularAirports[7].IATA)
	assert.Len(t, PopularRoutes, 5)
	assert.Equal(t, "London → New York", PopularRoutes[2].Label)
}
