// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package swiftrover wires the SwiftRover travel assistant into an HTTP
// service.
//
// # Description
//
// New builds every component from a Config:
//   - SQLite thread store and attachment files
//   - Azure OpenAI chat, vision and reasoning clients (optional)
//   - AviationStack flight client
//   - Intent classifier with optional hot-reloaded keyword rules
//   - Responder and ChatKit server
//   - Gin router with CORS, bearer auth, tracing and metrics
//
// Missing Azure credentials do not stop the service: the affected paths
// answer with a "not configured" message instead.
package swiftrover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/extensions"
	"github.com/AleutianAI/SwiftRover/services/expenses"
	"github.com/AleutianAI/SwiftRover/services/flights"
	"github.com/AleutianAI/SwiftRover/services/intent"
	"github.com/AleutianAI/SwiftRover/services/llm"
	"github.com/AleutianAI/SwiftRover/services/parking"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/attachments"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/chatkit"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/handlers"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/middleware"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/observability"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/responder"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/routes"
	"github.com/AleutianAI/SwiftRover/services/swiftrover/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName names the service in traces and logs.
const serviceName = "swiftrover"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the SwiftRover service.
//
// # Thread Safety
//
// Run or Serve may be called once per instance. Router is safe to call at
// any time.
type Service interface {
	// Run listens on the configured address and serves until ctx is
	// cancelled, then shuts down gracefully and releases resources.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration with defaults applied
//   - opts: Extension options (auth, audit)
//   - router: Gin HTTP engine
//   - store: SQLite thread store
//   - classifier: Intent classifier, watched for rule changes
//   - tracerCleanup: Function to shutdown tracer on exit
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	store         *store.Store
	classifier    *intent.Classifier
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a Service from cfg.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing (when an endpoint is set)
//  3. Initializes Prometheus metrics
//  4. Opens the store and attachment directory
//  5. Creates the upstream clients and the responder
//  6. Sets up HTTP routes with extension options
//
// If opts is nil, DefaultOptions() is used with audit events going to
// slog. A non-empty cfg.AuthTokens replaces the auth provider.
//
// # Outputs
//
//   - Service: Ready to run.
//   - error: Non-nil if the store, attachments or auth tokens are invalid.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(slog.Default()))
	}
	if s.config.AuthTokens != "" {
		provider, err := extensions.NewStaticTokenAuthProvider(s.config.AuthTokens)
		if err != nil {
			return nil, fmt.Errorf("invalid auth tokens: %w", err)
		}
		s.opts = s.opts.WithAuth(provider)
	}

	gin.SetMode(s.config.GinMode)

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.Metrics
	metricsHandler := promhttp.Handler()
	if reg := s.config.Registry; reg != nil {
		metrics = observability.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		metrics = observability.InitMetrics()
	}

	s.store, err = store.Open(s.config.DBPath)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	files, err := attachments.New(s.config.UploadsDir, s.config.PublicURL, s.store)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize attachments: %w", err)
	}

	resp, err := s.initResponder(files, metrics)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	server := chatkit.NewServer(chatkit.Config{
		Store:       s.store,
		Attachments: files,
		Responder:   resp,
		Audit:       s.opts.AuditLogger,
	})

	s.initRouter(routes.Deps{
		ChatKit:        handlers.NewChatKitHandler(server, metrics),
		Files:          files,
		Health:         s.store,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Opts:           s.opts,
		CORS:           s.corsConfig(),
	})

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run listens on the configured address and serves until ctx is done.
func (s *service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is done.
//
// # Description
//
// Runs the HTTP server, the graceful shutdown watcher and, when
// configured, the intent rule watcher in one errgroup. Cancelling ctx
// drains in-flight requests for up to ShutdownTimeout. Resources are
// released on return.
//
// # Outputs
//
//   - error: nil after a clean shutdown, otherwise the server failure.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting SwiftRover server", "addr", ln.Addr().String(), "public_url", s.config.PublicURL)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		slog.Info("Shutting down SwiftRover server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	if path := s.config.IntentRulesPath; path != "" {
		g.Go(func() error {
			if err := s.classifier.WatchRules(gctx, path); err != nil {
				slog.Warn("Intent rule override disabled", "path", path, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// stdoutTraceEndpoint selects the pretty-printed stderr span exporter.
const stdoutTraceEndpoint = "stdout"

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter to send spans to the configured
// collector, or a stderr exporter when the endpoint is "stdout". With no
// endpoint configured the global no-op provider stays in place and the
// cleanup does nothing.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	if s.config.OTelEndpoint == "" {
		slog.Info("OTLP endpoint not configured, tracing disabled")
		return func(context.Context) {}, nil
	}
	ctx := context.Background()

	traceExporter, closeExporter, err := newSpanExporter(ctx, s.config.OTelEndpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		closeExporter()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("Tracing enabled", "endpoint", s.config.OTelEndpoint)
	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		closeExporter()
	}

	return cleanup, nil
}

// newSpanExporter returns the exporter for endpoint and a function
// releasing its connection.
func newSpanExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, func(), error) {
	if endpoint == stdoutTraceEndpoint {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		return exporter, func() {}, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return exporter, func() { _ = conn.Close() }, nil
}

// initResponder creates the upstream clients and the responder.
//
// # Description
//
// Azure clients that cannot be created (missing endpoint or key) are left
// out; the interfaces stay nil so the responder, the parking analyzer and
// the expense analyzer report "not configured". Upstream calls are
// recorded in metrics.
func (s *service) initResponder(files *attachments.Store, metrics *observability.Metrics) (*responder.Responder, error) {
	cfg := s.config

	var chat llm.LLMClient
	if c, err := llm.NewAzureOpenAIClient(llm.AzureConfig{
		Endpoint:   cfg.AzureEndpoint,
		APIKey:     &s.config.AzureKey,
		APIVersion: cfg.AzureAPIVersion,
		Deployment: cfg.ChatDeployment,
	}); err != nil {
		slog.Warn("Azure OpenAI chat disabled", "error", err)
	} else {
		chat = c
	}

	var reasoning *llm.ResponsesClient
	if c, err := llm.NewResponsesClient(cfg.AzureEndpoint, &s.config.AzureKey, nil); err != nil {
		slog.Warn("Azure OpenAI reasoning disabled", "error", err)
	} else {
		reasoning = c
	}

	var streamer expenses.ReasoningStreamer
	var completer intent.Completer
	if reasoning != nil {
		streamer = &observedReasoning{next: reasoning, metrics: metrics}
		completer = reasoning
	}

	classifier, err := intent.NewClassifier(completer, cfg.ChatDeployment, func(i intent.Intent, src intent.Source) {
		metrics.RecordIntent(string(i), string(src))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize intent classifier: %w", err)
	}
	s.classifier = classifier

	flightClient := flights.NewClient(flights.Config{
		APIKey:            &s.config.AviationStackKey,
		BaseURL:           cfg.AviationStackBaseURL,
		RequestsPerMinute: cfg.AviationStackRPM,
		Observer: func(outcome string, elapsed time.Duration) {
			metrics.RecordUpstream(observability.APIAviationStack, outcome, elapsed)
		},
	})
	if !flightClient.Configured() {
		slog.Warn("AVIATIONSTACK_KEY not set, flight lookups will fail")
	}

	return responder.New(responder.Config{
		History:     s.store,
		Attachments: files,
		Flights:     flightClient,
		Parking:     &observedSignAnalyzer{next: parking.NewAnalyzer(chat), metrics: metrics},
		Expenses:    expenses.NewAnalyzer(streamer, cfg.ReasoningDeployment),
		Classifier:  classifier,
		Chat:        chat,
	}), nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(deps routes.Deps) {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, deps)
}

func (s *service) corsConfig() middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = s.config.CORSOrigins
	return cors
}

// cleanup releases the store, flushes audit events and stops tracing.
func (s *service) cleanup() {
	ctx := context.Background()
	if s.opts.AuditLogger != nil {
		if err := s.opts.AuditLogger.Flush(ctx); err != nil {
			slog.Warn("Failed to flush audit log", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
}
