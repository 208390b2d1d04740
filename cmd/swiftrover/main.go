// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command swiftrover runs the SwiftRover travel assistant backend.
//
// # Environment Variables
//
// Configuration is read from the environment (see swiftrover.Config);
// flags given to "serve" take precedence. The most common ones:
//
//   - SWIFTROVER_HOST / SWIFTROVER_PORT: bind address (default 127.0.0.1:8001)
//   - AOI_ENDPOINT_SWDN / AOI_KEY_SWDN: Azure OpenAI endpoint and key
//   - AVIATIONSTACK_KEY: flight status API key
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector or "stdout" (tracing off when empty)
//
// # Usage
//
//	# Build
//	go build -o swiftrover ./cmd/swiftrover
//
//	# Run
//	./swiftrover serve --port 8001
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
