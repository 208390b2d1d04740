// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/SwiftRover/pkg/extensions"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/attachments"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/chatkit"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/handlers"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/middleware"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type echoProcessor struct{}

func (echoProcessor) Process(_ context.Context, userID string, _ []byte) (chatkit.Result, error) {
	return &chatkit.JSONResult{Type: "threads.list", Value: gin.H{"user": userID}}, nil
}

type memFiles struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memFiles) StoreBytes(id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
	return nil
}

func (m *memFiles) ReadBytes(id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.data[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", attachments.ErrNotFound, id)
}

func newRouter(t *testing.T, opts extensions.ServiceOptions) *gin.Engine {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	router := gin.New()
	SetupRoutes(router, Deps{
		ChatKit:        handlers.NewChatKitHandler(echoProcessor{}, metrics),
		Files:          &memFiles{data: map[string][]byte{}},
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Opts:           opts,
		CORS:           middleware.DefaultCORSConfig(),
	})
	return router
}

func do(router http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersRoutes(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions())

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/chatkit"},
		{"POST", "/upload/:id"},
		{"GET", "/preview/:id"},
	}

	routes := router.Routes()
	for _, e := range expected {
		found := false
		for _, r := range routes {
			if r.Method == e.method && r.Path == e.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", e.method, e.path)
	}
}

func TestSetupRoutes_ChatKitDefaultUser(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions())

	w := do(router, "POST", "/chatkit", `{}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"demo_user"}`, w.Body.String())
}

func TestSetupRoutes_ChatKitRequiresToken(t *testing.T) {
	provider, err := extensions.NewStaticTokenAuthProvider("t0k=alice")
	require.NoError(t, err)
	router := newRouter(t, extensions.DefaultOptions().WithAuth(provider))

	w := do(router, "POST", "/chatkit", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, "POST", "/chatkit", `{}`, map[string]string{"Authorization": "Bearer t0k"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"alice"}`, w.Body.String())
}

func TestSetupRoutes_UploadWithoutToken(t *testing.T) {
	provider, err := extensions.NewStaticTokenAuthProvider("t0k=alice")
	require.NoError(t, err)
	router := newRouter(t, extensions.DefaultOptions().WithAuth(provider))

	w := do(router, "POST", "/upload/att_1", "hello", map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, "GET", "/preview/att_1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestSetupRoutes_Preflight(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions())

	w := do(router, "OPTIONS", "/chatkit", "", map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": "POST",
	})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupRoutes_HealthAndMetrics(t *testing.T) {
	router := newRouter(t, extensions.DefaultOptions())

	w := do(router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	do(router, "POST", "/chatkit", `{}`, nil)
	w = do(router, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `swiftrover_chatkit_request_types_total{request_type="threads.list"} 1`)
}
