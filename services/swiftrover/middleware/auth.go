// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the SwiftRover HTTP API.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/AleutianAI/SwiftRover/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the gin context key for authenticated user info.
const authInfoKey = "swiftrover_auth_info"

// SetAuthInfo stores authentication info in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves authentication info from the gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: The authenticated user, or nil when the auth
//     middleware did not run for this route.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// UserID returns the authenticated user id, or "anonymous".
func UserID(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil && info.UserID != "" {
		return info.UserID
	}
	return "anonymous"
}

// =============================================================================
// Middleware
// =============================================================================

// AuthMiddleware validates the bearer token of every request.
//
// # Description
//
// The token from "Authorization: Bearer <token>" is passed to the provider
// (an empty string when the header is missing). With NopAuthProvider every
// request becomes the local demo user. On success the AuthInfo is stored
// in the context for handlers (see GetAuthInfo).
//
// # Outputs
//
//   - 401 {"error":"unauthorized"} when the provider returns
//     extensions.ErrUnauthorized.
//   - 401 {"error":"authentication failed"} for any other provider error.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken returns the token of a "Bearer" Authorization header,
// or "" when the header is missing or uses another scheme.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
