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

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func capture(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	l := New("gateway")
	var buf bytes.Buffer
	l.SetOutput(&buf)
	return l, &buf
}

func parse(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to parse log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew(t *testing.T) {
	l := New("connection-manager")
	if l.Component != "connection-manager" {
		t.Errorf("unexpected component %q", l.Component)
	}
	if l.Instance == "" {
		t.Error("expected instance to be set from hostname")
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"Info", (*Logger).Info, INFO},
		{"Error", (*Logger).Error, ERROR},
		{"Warn", (*Logger).Warn, WARN},
		{"Debug", (*Logger).Debug, DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := capture(t)
			tt.logFunc(l, "postgres://server=db1;database=;user=app", "req-1", "session opened", map[string]interface{}{"provider": "postgres"})

			entry := parse(t, buf)
			if entry.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.SessionKey != "postgres://server=db1;database=;user=app" {
				t.Errorf("unexpected session key %q", entry.SessionKey)
			}
			if entry.RequestID != "req-1" {
				t.Errorf("unexpected request id %q", entry.RequestID)
			}
			if entry.Message != "session opened" {
				t.Errorf("unexpected message %q", entry.Message)
			}
			if entry.Fields["provider"] != "postgres" {
				t.Errorf("unexpected fields %v", entry.Fields)
			}
			if _, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err != nil {
				t.Errorf("invalid timestamp %q", entry.Timestamp)
			}
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	l, buf := capture(t)
	l.InfoWithDuration("", "req-2", "connect completed", 42.5, map[string]interface{}{"endpoint": "/api/connect"})

	entry := parse(t, buf)
	if entry.Level != INFO {
		t.Errorf("expected INFO, got %s", entry.Level)
	}
	if entry.Fields["duration_ms"] != 42.5 {
		t.Errorf("unexpected duration %v", entry.Fields["duration_ms"])
	}
	if entry.Fields["endpoint"] != "/api/connect" {
		t.Errorf("existing fields should be preserved, got %v", entry.Fields)
	}
}

func TestErrorWithCode(t *testing.T) {
	l, buf := capture(t)
	l.ErrorWithCode("key-1", "req-3", "connect rejected", 502, errors.New("token acquisition failed"), nil)

	entry := parse(t, buf)
	if entry.Level != ERROR {
		t.Errorf("expected ERROR, got %s", entry.Level)
	}
	if code, ok := entry.Fields["status_code"].(float64); !ok || int(code) != 502 {
		t.Errorf("unexpected status_code %v", entry.Fields["status_code"])
	}
	if entry.Fields["error"] != "token acquisition failed" {
		t.Errorf("unexpected error field %v", entry.Fields["error"])
	}

	buf.Reset()
	l.ErrorWithCode("key-1", "req-4", "not found", 404, nil, nil)
	entry = parse(t, buf)
	if _, present := entry.Fields["error"]; present {
		t.Error("nil error should not produce an error field")
	}
}

func TestUnmarshalableFieldFallsBack(t *testing.T) {
	l, buf := capture(t)
	l.Info("", "", "bad payload", map[string]interface{}{"ch": make(chan int)})

	if strings.Contains(buf.String(), "bad payload") {
		t.Error("entry with unmarshalable field should not be emitted as JSON")
	}
}

func BenchmarkLog(b *testing.B) {
	l := New("benchmark")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	fields := map[string]interface{}{
		"provider":    "postgres",
		"duration_ms": 45.67,
		"connected":   true,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Info("key-1", "req-1", "processing request", fields)
	}
}
