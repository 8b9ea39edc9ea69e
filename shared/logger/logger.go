// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
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
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger emits JSON log lines annotated with the component name and the
// connection session the entry relates to.
type Logger struct {
	Component string
	Instance  string

	mu  sync.Mutex
	out io.Writer
}

// Entry is one structured log line. SessionKey ties the entry to a
// connection lifecycle; RequestID ties it to an HTTP request.
type Entry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	Instance   string                 `json:"instance"`
	SessionKey string                 `json:"session_key,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the named component writing to stdout.
func New(component string) *Logger {
	instance, err := os.Hostname()
	if err != nil {
		instance = "unknown"
	}
	return &Logger{
		Component: component,
		Instance:  instance,
		out:       os.Stdout,
	}
}

// SetOutput redirects log lines, used by tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

// Log writes one structured entry.
func (l *Logger) Log(level LogLevel, sessionKey, requestID, message string, fields map[string]interface{}) {
	entry := Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		Instance:   l.Instance,
		SessionKey: sessionKey,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(jsonBytes, '\n'))
}

// Info logs an informational message
func (l *Logger) Info(sessionKey, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, sessionKey, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(sessionKey, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, sessionKey, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(sessionKey, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, sessionKey, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(sessionKey, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, sessionKey, requestID, message, fields)
}

// InfoWithDuration logs an info message carrying a duration field, used
// for request timing.
func (l *Logger) InfoWithDuration(sessionKey, requestID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(sessionKey, requestID, message, fields)
}

// ErrorWithCode logs an error with the HTTP status code returned to the
// caller.
func (l *Logger) ErrorWithCode(sessionKey, requestID, message string, statusCode int, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["status_code"] = statusCode
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(sessionKey, requestID, message, fields)
}
