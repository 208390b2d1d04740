// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package flights looks up real-time flight status from the AviationStack
// API.
//
// Every error returned by Client.FetchStatus has a message that is safe to
// show to the end user; the chat agent relays it verbatim.
package flights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/secrets"
	"github.com/AleutianAI/SwiftRover/pkg/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("swiftrover.flights")

// DefaultBaseURL is the public AviationStack v1 endpoint.
const DefaultBaseURL = "http://api.aviationstack.com/v1"

// requestTimeout bounds a single flights lookup.
const requestTimeout = 30 * time.Second

var (
	// ErrMissingAPIKey is returned when no AviationStack key is configured.
	ErrMissingAPIKey = errors.New("AVIATIONSTACK_KEY environment variable is not configured. Please set it to use flight tracking.")

	// ErrMissingQuery is returned when neither a flight code nor a departure
	// airport was given.
	ErrMissingQuery = errors.New("Please provide a flight number (e.g., QF1) or departure/arrival airports.")

	// ErrTimeout is returned when the API did not answer within 30s.
	ErrTimeout = errors.New("Flight API request timed out. Please try again.")

	// ErrInvalidCode is returned for malformed flight or airport codes.
	ErrInvalidCode = errors.New("Please use an IATA flight number (e.g., QF1) or 3-letter airport codes (e.g., SYD).")

	// ErrNotFound wraps the "no flight" messages.
	ErrNotFound = errors.New("flight not found")
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer is notified after every upstream call with its outcome
// ("success", "not_found", "error", "timeout", "rate_limited").
type Observer func(outcome string, elapsed time.Duration)

// Config configures a Client.
type Config struct {
	// APIKey is the AviationStack access key. Unset disables lookups.
	APIKey *secrets.Secret

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// RequestsPerMinute caps outbound calls. Zero or less means unlimited.
	RequestsPerMinute int

	// HTTPClient defaults to http.Client with a 30s timeout.
	HTTPClient HTTPClient

	// Observer is optional.
	Observer Observer
}

// Client fetches flight status.
//
// # Thread Safety
//
// Safe for concurrent use. The rate limiter is shared by all callers.
type Client struct {
	apiKey   *secrets.Secret
	baseURL  string
	http     HTTPClient
	limiter  *rate.Limiter
	observer Observer
}

// NewClient creates a Client. It never fails: a missing key is reported
// per call as ErrMissingAPIKey so the assistant can explain the problem.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = func(string, time.Duration) {}
	}
	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		http:     httpClient,
		limiter:  limiter,
		observer: observer,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey.IsSet()
}

// BuildParams converts a query into AviationStack query parameters,
// excluding the access key.
//
// # Description
//
// Codes are upper-cased and validated. When a known multi-leg flight is requested without
// a departure airport, the first leg's departure is added so the API
// returns the expected segment. Without a flight code, dep+arr or dep alone
// are accepted; an arrival alone is not.
//
// # Outputs
//
//   - url.Values: Parameters to send.
//   - error: ErrMissingQuery when nothing usable was given, ErrInvalidCode
//     for a malformed code.
func BuildParams(q Query) (url.Values, error) {
	params := url.Values{}
	flight, err := sanitize(q.FlightIATA, validation.SanitizeFlightCode)
	if err != nil {
		return nil, err
	}
	dep, err := sanitize(q.DepIATA, validation.SanitizeAirportCode)
	if err != nil {
		return nil, err
	}
	arr, err := sanitize(q.ArrIATA, validation.SanitizeAirportCode)
	if err != nil {
		return nil, err
	}

	switch {
	case flight != "":
		params.Set("flight_iata", flight)
		if dep == "" {
			if first, ok := MultiLegFlights[flight]; ok {
				dep = first
				slog.Info("Auto-adding departure for multi-leg flight", "flight_iata", flight, "dep_iata", dep)
			}
		}
		if dep != "" {
			params.Set("dep_iata", dep)
		}
		if arr != "" {
			params.Set("arr_iata", arr)
		}
	case dep != "" && arr != "":
		params.Set("dep_iata", dep)
		params.Set("arr_iata", arr)
	case dep != "":
		params.Set("dep_iata", dep)
	default:
		return nil, ErrMissingQuery
	}
	return params, nil
}

// sanitize applies fn to non-blank codes.
func sanitize(code string, fn func(string) (string, error)) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", nil
	}
	out, err := fn(code)
	if err != nil {
		slog.Warn("Rejected flight query code", "error", err)
		return "", ErrInvalidCode
	}
	return out, nil
}

// FetchStatus returns the first flight matching q.
//
// # Description
//
// Waits for the rate limiter, then calls GET {base}/flights. The status of
// the returned flight is corrected from live telemetry by DeriveStatus.
//
// # Inputs
//
//   - ctx: Bounds the call in addition to the 30s request timeout.
//   - q: Flight code and/or airports.
//
// # Outputs
//
//   - *FlightStatus: The first result.
//   - error: A user-presentable error (see package doc).
func (c *Client) FetchStatus(ctx context.Context, q Query) (*FlightStatus, error) {
	if !c.apiKey.IsSet() {
		return nil, ErrMissingAPIKey
	}
	params, err := BuildParams(q)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "flights.FetchStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("flights.flight_iata", params.Get("flight_iata")),
		attribute.String("flights.dep_iata", params.Get("dep_iata")),
		attribute.String("flights.arr_iata", params.Get("arr_iata")),
	)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	start := time.Now()
	status, outcome, err := c.fetch(ctx, q, params)
	c.observer(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		slog.Warn("Flight lookup failed", "outcome", outcome, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.String("flights.status", status.Status))
	return status, nil
}

func (c *Client) fetch(ctx context.Context, q Query, params url.Values) (*FlightStatus, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if isTimeout(ctx, err) {
			return nil, "timeout", ErrTimeout
		}
		return nil, "rate_limited", fmt.Errorf("Error fetching flight data: %w", err)
	}

	slog.Info("AviationStack API params",
		"flight_iata", params.Get("flight_iata"),
		"dep_iata", params.Get("dep_iata"),
		"arr_iata", params.Get("arr_iata"))

	key, err := c.apiKey.Reveal()
	if err != nil {
		return nil, "error", fmt.Errorf("Error fetching flight data: %w", err)
	}
	params.Set("access_key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/flights?"+params.Encode(), nil)
	if err != nil {
		return nil, "error", fmt.Errorf("Error fetching flight data: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, "timeout", ErrTimeout
		}
		return nil, "error", fmt.Errorf("Error fetching flight data: %w", redactKey(err, key))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "error", fmt.Errorf("AviationStack API error: %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if isTimeout(ctx, err) {
			return nil, "timeout", ErrTimeout
		}
		return nil, "error", fmt.Errorf("Error fetching flight data: %w", err)
	}
	if body.Error != nil {
		msg := body.Error.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, "error", fmt.Errorf("AviationStack error: %s", msg)
	}
	if len(body.Data) == 0 {
		if code := params.Get("flight_iata"); code != "" {
			return nil, "not_found", &notFoundError{msg: fmt.Sprintf("No flight found with code %s. Please verify the flight number.", code)}
		}
		return nil, "not_found", &notFoundError{msg: "No flights found for the specified route."}
	}

	return body.Data[0].toStatus(), "success", nil
}

// DeriveStatus corrects the reported status from live telemetry: airborne
// flights are active, and a flight on the ground that has departed is landed
// once it has an actual arrival time, active otherwise.
func DeriveStatus(raw string, live *LiveFlightData, dep, arr AirportInfo) string {
	if live != nil && live.Altitude != nil && *live.Altitude > 0 && !live.IsGround {
		return StatusActive
	}
	if live != nil && live.IsGround && nonEmpty(dep.Actual) {
		if nonEmpty(arr.Actual) {
			return StatusLanded
		}
		return StatusActive
	}
	if raw == "" {
		return StatusScheduled
	}
	return raw
}

type notFoundError struct {
	msg string
}

func (e *notFoundError) Error() string { return e.msg }
func (e *notFoundError) Unwrap() error { return ErrNotFound }

type apiResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Data []apiFlight `json:"data"`
}

type apiFlight struct {
	FlightDate   string          `json:"flight_date"`
	FlightStatus string          `json:"flight_status"`
	Departure    AirportInfo     `json:"departure"`
	Arrival      AirportInfo     `json:"arrival"`
	Live         *LiveFlightData `json:"live"`
	Flight       struct {
		IATA   string `json:"iata"`
		Number string `json:"number"`
	} `json:"flight"`
	Airline struct {
		Name string `json:"name"`
		IATA string `json:"iata"`
	} `json:"airline"`
}

func (f apiFlight) toStatus() *FlightStatus {
	return &FlightStatus{
		FlightDate:   f.FlightDate,
		Status:       DeriveStatus(f.FlightStatus, f.Live, f.Departure, f.Arrival),
		FlightIATA:   f.Flight.IATA,
		FlightNumber: f.Flight.Number,
		AirlineName:  f.Airline.Name,
		AirlineIATA:  f.Airline.IATA,
		Departure:    f.Departure,
		Arrival:      f.Arrival,
		Live:         f.Live,
	}
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redactKey strips the access key from transport errors, which quote the
// request URL.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "REDACTED"))
}
