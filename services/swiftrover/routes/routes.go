// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/SwiftRover/pkg/extensions"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/handlers"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/middleware"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the routes dispatch to.
type Deps struct {
	// ChatKit must not be nil.
	ChatKit *handlers.ChatKitHandler

	// Files backs /upload and /preview.
	Files handlers.AttachmentFiles

	// Health is pinged by /health. May be nil.
	Health handlers.Pinger

	// Metrics records upload and preview requests. May be nil.
	Metrics *observability.Metrics

	// MetricsHandler serves /metrics. Nil uses the default registry.
	MetricsHandler http.Handler

	// Opts carries the auth provider for /chatkit.
	Opts extensions.ServiceOptions

	// CORS applies to every route, preflight requests included.
	CORS middleware.CORSConfig
}

// SetupRoutes registers the SwiftRover HTTP API on router.
//
// # Description
//
// Routes:
//   - GET  /health
//   - GET  /metrics
//   - POST /chatkit (bearer auth)
//   - POST /upload/:id
//   - GET  /preview/:id
//
// Upload and preview are addressed by the attachment id issued through
// the authenticated /chatkit endpoint and carry no bearer token, since the
// browser fetches them directly.
func SetupRoutes(router *gin.Engine, deps Deps) {
	opts := deps.Opts.Normalize()

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	router.Use(middleware.CORSMiddleware(deps.CORS))

	router.GET("/health", handlers.HandleHealth(deps.Health))
	router.GET("/metrics", gin.WrapH(metricsHandler))

	router.POST("/chatkit", middleware.AuthMiddleware(opts.AuthProvider), deps.ChatKit.HandleChatKit)

	router.POST("/upload/:id", handlers.HandleUpload(deps.Files, deps.Metrics))
	router.GET("/preview/:id", handlers.HandlePreview(deps.Files, deps.Metrics))
}
