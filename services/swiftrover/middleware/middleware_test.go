// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/SwiftRover/pkg/extensions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
}

func (m *mockAuthProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

func whoami(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"mixed case scheme", "BeArEr abc123", "abc123"},
		{"missing", "", ""},
		{"no scheme", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
		{"only bearer", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_Success(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "alice"}}

	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/test", whoami)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"alice"}`, w.Body.String())
}

func TestAuthMiddleware_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
	}{
		{"unauthorized", extensions.ErrUnauthorized, `{"error":"unauthorized"}`},
		{"wrapped unauthorized", errors.Join(errors.New("missing bearer token"), extensions.ErrUnauthorized), `{"error":"unauthorized"}`},
		{"provider error", errors.New("network error"), `{"error":"authentication failed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(AuthMiddleware(&mockAuthProvider{err: tt.err}))
			router.GET("/test", whoami)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestAuthMiddleware_NopProvider(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(&extensions.NopAuthProvider{}))
	router.GET("/test", whoami)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"demo_user"}`, w.Body.String())
}

func TestAuthMiddleware_StaticTokens(t *testing.T) {
	provider, err := extensions.NewStaticTokenAuthProvider("s3cret=alice")
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/test", whoami)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestAuthInfoContext(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))
	assert.Equal(t, "anonymous", UserID(c))

	c.Set(authInfoKey, "not an AuthInfo")
	assert.Nil(t, GetAuthInfo(c))

	SetAuthInfo(c, &extensions.AuthInfo{UserID: "bob", Roles: []string{"viewer"}})
	require.NotNil(t, GetAuthInfo(c))
	assert.Equal(t, "bob", UserID(c))
}

// =============================================================================
// CORS Tests
// =============================================================================

func corsRouter() *gin.Engine {
	router := gin.New()
	router.Use(CORSMiddleware(DefaultCORSConfig()))
	router.POST("/chatkit", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCORS_AllowedOrigin(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/chatkit", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	corsRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestCORS_Preflight(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("OPTIONS", "/chatkit", nil)
	req.Header.Set("Origin", "http://127.0.0.1:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	corsRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://127.0.0.1:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/chatkit", nil)
	req.Header.Set("Origin", "https://evil.example")
	corsRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware(CORSConfig{AllowedOrigins: []string{"*"}}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	router.ServeHTTP(w, req)

	assert.Equal(t, "https://anywhere.example", w.Header().Get("Access-Control-Allow-Origin"))
}
