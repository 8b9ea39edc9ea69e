// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for workbench components.

# Overview

The logger outputs single-line JSON to stdout, making logs consumable by
CloudWatch, ELK, or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, connection-manager, etc.)
  - Instance (hostname, for correlating multi-instance deployments)
  - Session key (ties the entry to a connection lifecycle)
  - Request ID (for HTTP request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("gateway")

Log messages with session and request context:

	log.Info(sessionKey, requestID, "Connection established", map[string]interface{}{
	    "provider": "postgres",
	})

Log errors with the HTTP status returned to the caller:

	log.ErrorWithCode(sessionKey, requestID, "Connect failed", 502, err, nil)

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration(sessionKey, requestID, "Connect completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"gateway","instance":"wb-1",
	 "session_key":"postgres://server=db1;database=;user=app",
	 "request_id":"req-456","message":"Connection established",
	 "fields":{"provider":"postgres"}}

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
