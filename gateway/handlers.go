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

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"axonflow/workbench/connection"
)

// ConnectRequest is the POST /api/v1/connections payload.
type ConnectRequest struct {
	Profile *connection.Profile `json:"profile"`
	Key     string              `json:"key,omitempty"`
	Options ConnectRequestOpts  `json:"options,omitempty"`
}

// ConnectRequestOpts mirrors connection.ConnectOptions on the wire.
type ConnectRequestOpts struct {
	Purpose                 string `json:"purpose,omitempty"`
	UseExistingConnection   bool   `json:"use_existing_connection,omitempty"`
	SaveTheConnection       bool   `json:"save_the_connection,omitempty"`
	ShowDialogOnError       bool   `json:"show_dialog_on_error,omitempty"`
	ShowFirewallRuleOnError bool   `json:"show_firewall_rule_on_error,omitempty"`
}

// KeyRequest carries the session key for POST operations.
type KeyRequest struct {
	Key      string `json:"key"`
	Database string `json:"database,omitempty"`
}

// ParseRequest is the POST /api/v1/connections/parse payload.
type ParseRequest struct {
	ProviderID       string `json:"provider_id"`
	ConnectionString string `json:"connection_string"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"service":   "workbench-gateway",
		"uptime_s":  int(time.Since(s.startedAt).Seconds()),
		"providers": s.registry.Count(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Profile == nil || req.Profile.ProviderID == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("profile with provider_id is required"))
		return
	}

	opts := connection.ConnectOptions{
		Purpose:                 connection.Purpose(req.Options.Purpose),
		UseExistingConnection:   req.Options.UseExistingConnection,
		SaveTheConnection:       req.Options.SaveTheConnection,
		ShowDialogOnError:       req.Options.ShowDialogOnError,
		ShowFirewallRuleOnError: req.Options.ShowFirewallRuleOnError,
	}
	if opts.Purpose == "" {
		opts.Purpose = connection.PurposeConnection
	}

	result, err := s.manager.Connect(r.Context(), req.Profile, req.Key, opts)
	connectDuration.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		connectRequests.WithLabelValues(req.Profile.ProviderID, "error").Inc()
		s.writeError(w, r, statusFor(err), err)
		return
	}

	outcome := "failed"
	if result.Connected {
		outcome = "connected"
		activeConnections.Set(float64(len(s.manager.GetActiveConnectionProfiles(nil))))
	}
	connectRequests.WithLabelValues(req.Profile.ProviderID, outcome).Inc()

	s.log.InfoWithDuration(result.Key, RequestID(r.Context()), "Connect completed",
		float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"provider":  req.Profile.ProviderID,
			"connected": result.Connected,
		})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("key is required"))
		return
	}

	ok, err := s.manager.Disconnect(r.Context(), req.Key)
	if err != nil {
		disconnectRequests.WithLabelValues("error").Inc()
		s.writeError(w, r, statusFor(err), err)
		return
	}
	disconnectRequests.WithLabelValues("ok").Inc()
	activeConnections.Set(float64(len(s.manager.GetActiveConnectionProfiles(nil))))

	s.log.Info(req.Key, RequestID(r.Context()), "Disconnected", nil)
	s.writeJSON(w, http.StatusOK, map[string]bool{"disconnected": ok})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("key is required"))
		return
	}

	ok, err := s.manager.CancelConnection(r.Context(), req.Key)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *Server) handleChangeDatabase(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" || req.Database == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("key and database are required"))
		return
	}

	ok, err := s.manager.ChangeDatabase(r.Context(), req.Key, req.Database)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"changed": ok})
}

func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("key query parameter is required"))
		return
	}

	names, err := s.manager.ListDatabases(r.Context(), key)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"databases": names})
}

func (s *Server) handleConnectionString(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("key query parameter is required"))
		return
	}
	includePassword := r.URL.Query().Get("include_password") == "true"

	cs, err := s.manager.GetConnectionString(r.Context(), key, includePassword)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"connection_string": cs})
}

func (s *Server) handleRebuildIntelliSense(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("key is required"))
		return
	}

	if err := s.manager.RebuildIntelliSenseCache(r.Context(), req.Key); err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleParseConnectionString(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProviderID == "" || req.ConnectionString == "" {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("provider_id and connection_string are required"))
		return
	}

	info, err := s.manager.BuildConnectionInfo(r.Context(), req.ProviderID, req.ConnectionString)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	var filter []string
	if p := r.URL.Query().Get("provider"); p != "" {
		filter = []string{p}
	}

	profiles := s.manager.GetActiveConnectionProfiles(filter)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": profiles})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.List()
	out := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if caps, ok := s.registry.Capabilities(id); ok {
			out = append(out, caps)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("", "", "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.log.ErrorWithCode("", RequestID(r.Context()), "Request failed", status, err, map[string]interface{}{
		"path": r.URL.Path,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusFor maps lifecycle error codes onto HTTP statuses.
func statusFor(err error) int {
	var lcErr *connection.LifecycleError
	if !errors.As(err, &lcErr) {
		return http.StatusInternalServerError
	}
	switch lcErr.Code {
	case connection.ErrCodeUnknownProvider:
		return http.StatusNotFound
	case connection.ErrCodeNotConnected, connection.ErrCodeNotConnecting:
		return http.StatusConflict
	case connection.ErrCodeTokenAcquisition:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
