// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMetrics registers with a private registry so tests can run in
// parallel without duplicate registration panics.
func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestNewMetrics_RegistersEverything(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordRequest(EndpointChatKit, true)
	m.RecordRequestType("threads.create")
	m.RecordError(EndpointChatKit, ErrorCodeValidation)
	m.StreamStarted(EndpointChatKit)
	m.RecordStreamEvent("thread.created")
	m.RecordStreamDuration(EndpointChatKit, 1.5, true)
	m.RecordKeepAlive(EndpointChatKit)
	m.RecordClientDisconnect(EndpointChatKit)
	m.RecordIntent("flight", "keywords")
	m.RecordUpstream(APIAviationStack, "success", 200*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
		assert.True(t, strings.HasPrefix(f.GetName(), "swiftrover_chatkit_"), f.GetName())
	}
	assert.Len(t, names, 11)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestRecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest(EndpointChatKit, true)
	m.RecordRequest(EndpointChatKit, true)
	m.RecordRequest(EndpointChatKit, false)
	m.RecordRequest(EndpointUpload, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chatkit", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chatkit", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("upload", "success")))
}

func TestActiveStreams(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.StreamStarted(EndpointChatKit)
	m.StreamStarted(EndpointChatKit)
	m.StreamEnded(EndpointChatKit)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams.WithLabelValues("chatkit")))
}

func TestRecordErrorCodes(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrorCodeValidation, "validation"},
		{ErrorCodeNotFound, "not_found"},
		{ErrorCodeStream, "stream_error"},
		{ErrorCodeInternal, "internal"},
		{ErrorCodeClientDisconnect, "client_disconnect"},
	}
	m, _ := newTestMetrics(t)
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			m.RecordError(EndpointChatKit, tt.code)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("chatkit", tt.want)))
		})
	}
}

func TestRecordUpstream(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordUpstream(APIAviationStack, "success", time.Second)
	m.RecordUpstream(APIAviationStack, "timeout", 30*time.Second)
	m.RecordUpstream(APIReasoning, "success", 12*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCallsTotal.WithLabelValues("aviationstack", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamCallsTotal.WithLabelValues("reasoning", "success")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.UpstreamDurationSeconds))
}

func TestRecordIntentAndEvents(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordIntent("expense", "model")
	m.RecordStreamEvent("thread.item.done")
	m.RecordStreamEvent("thread.item.done")
	m.RecordRequestType("threads.list")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntentsTotal.WithLabelValues("expense", "model")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamEventsTotal.WithLabelValues("thread.item.done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestTypesTotal.WithLabelValues("threads.list")))
}
