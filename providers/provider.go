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

package providers

import (
	"context"
)

// Provider defines the interface every workbench backend driver must implement.
// Connect is fire-and-forget: the driver acknowledges the request synchronously
// and reports the real outcome later through the Notifier it was constructed
// with. All other operations are synchronous request/response.
type Provider interface {
	// Connect starts a connection attempt for the given session key.
	// The outcome arrives out-of-band via Notifier.OnConnectionComplete.
	// Every accepted request delivers exactly one completion, even when
	// the attempt is cancelled mid-flight; the core relies on this to
	// pair outcomes with the attempts that requested them.
	Connect(ctx context.Context, key string, params *ConnectParams) error

	// Disconnect tears down the connection for the session key.
	Disconnect(ctx context.Context, key string) (bool, error)

	// CancelConnect asks the driver to abandon an in-flight connect.
	// Best-effort: callers do not wait on the result.
	CancelConnect(ctx context.Context, key string) (bool, error)

	// ChangeDatabase switches the active database for a connected session.
	ChangeDatabase(ctx context.Context, key, database string) (bool, error)

	// ListDatabases enumerates databases visible to the connected session.
	ListDatabases(ctx context.Context, key string) ([]string, error)

	// RebuildIntelliSenseCache refreshes driver-side completion metadata.
	RebuildIntelliSenseCache(ctx context.Context, key string) error

	// GetConnectionString renders the session's connection string,
	// optionally with the password included.
	GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error)

	// BuildConnectionInfo parses a connection string back into its parts.
	BuildConnectionInfo(ctx context.Context, connectionString string) (*ConnectionInfo, error)

	// Type returns the provider type identifier (postgres, mysql, ...).
	Type() string
}

// Notifier receives out-of-band results from providers. The connection
// manager implements this; providers hold a reference and call it from
// whatever goroutine completes the work.
type Notifier interface {
	OnConnectionComplete(summary *CompletionSummary)
	OnConnectionChanged(key, serverName, databaseName, userName string)
	OnLanguageFlavorChanged(key, language, flavor string)
}

// ConnectParams is the option bag handed to a provider for one connect
// attempt. Identifying fields are broken out; everything else rides in
// Options (tokens, TLS modes, pool sizing, driver-specific switches).
type ConnectParams struct {
	Server   string                 `json:"server"`
	Database string                 `json:"database"`
	User     string                 `json:"user"`
	Password string                 `json:"password,omitempty"`
	AuthType string                 `json:"auth_type"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// CompletionSummary is the out-of-band result of a connect attempt.
// A non-empty ErrorMessage means the attempt failed; ErrorCode carries the
// backend's native error number when one exists (used for firewall-rule
// classification).
type CompletionSummary struct {
	Key              string      `json:"key"`
	ConnectionID     string      `json:"connection_id,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	ErrorCode        int         `json:"error_code,omitempty"`
	ServerInfo       *ServerInfo `json:"server_info,omitempty"`
	ResolvedDatabase string      `json:"resolved_database,omitempty"`
}

// ServerInfo describes the server a session ended up connected to.
type ServerInfo struct {
	ServerVersion string `json:"server_version"`
	ServerEdition string `json:"server_edition,omitempty"`
	IsCloud       bool   `json:"is_cloud,omitempty"`
	MachineName   string `json:"machine_name,omitempty"`
}

// ConnectionInfo is the parsed form of a connection string.
type ConnectionInfo struct {
	Server   string                 `json:"server"`
	Database string                 `json:"database"`
	User     string                 `json:"user"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// Capabilities is the metadata a provider publishes about itself before
// (or alongside) its implementation registering.
type Capabilities struct {
	ProviderType            string   `json:"provider_type"`
	DisplayName             string   `json:"display_name"`
	SupportedAuthTypes      []string `json:"supported_auth_types"`
	SupportsChangeDatabase  bool     `json:"supports_change_database"`
	SupportsConnectionPools bool     `json:"supports_connection_pools"`
}
