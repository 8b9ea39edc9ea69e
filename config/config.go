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

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root structure of a workbench configuration file.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Secrets   SecretsConfig   `yaml:"secrets,omitempty"`
	Azure     AzureConfig     `yaml:"azure,omitempty"`
	Providers ProvidersConfig `yaml:"providers,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
}

// ServerConfig holds the HTTP gateway settings.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listen_addr,omitempty"`
	JWTSecret       string   `yaml:"jwt_secret,omitempty"`
	AllowedOrigins  []string `yaml:"allowed_origins,omitempty"`
	ReadTimeoutMs   int      `yaml:"read_timeout_ms,omitempty"`
	WriteTimeoutMs  int      `yaml:"write_timeout_ms,omitempty"`
	ShutdownGraceMs int      `yaml:"shutdown_grace_ms,omitempty"`
}

// SecretsConfig selects the saved-password backend.
type SecretsConfig struct {
	// Backend is "aws", "env", or "memory". Defaults to memory.
	Backend    string `yaml:"backend,omitempty"`
	Region     string `yaml:"region,omitempty"`
	CacheTTLMs int    `yaml:"cache_ttl_ms,omitempty"`
}

// AzureConfig lists the directory accounts available for token auth.
type AzureConfig struct {
	Accounts []AzureAccountConfig `yaml:"accounts,omitempty"`
}

// AzureAccountConfig describes one service principal and its tenants.
type AzureAccountConfig struct {
	AccountID    string   `yaml:"account_id"`
	DisplayName  string   `yaml:"display_name,omitempty"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TenantIDs    []string `yaml:"tenant_ids"`
}

// ProvidersConfig controls which drivers are registered at startup.
type ProvidersConfig struct {
	// Enabled lists provider ids. Empty means all built-in providers.
	Enabled []string `yaml:"enabled,omitempty"`
}

// StoreConfig holds profile store tunables.
type StoreConfig struct {
	MRULimit int           `yaml:"mru_limit,omitempty"`
	Groups   []GroupConfig `yaml:"groups,omitempty"`
}

// GroupConfig describes a connection group profiles can reference by id.
type GroupConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	ParentID string `yaml:"parent_id,omitempty"`
	Color    string `yaml:"color,omitempty"`
}

// Load reads, env-expands, parses, and defaults a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 30000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 60000
	}
	if c.Server.ShutdownGraceMs == 0 {
		c.Server.ShutdownGraceMs = 10000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Secrets.Backend == "" {
		c.Secrets.Backend = "memory"
	}
	if c.Secrets.CacheTTLMs == 0 {
		c.Secrets.CacheTTLMs = 300000
	}
	if c.Store.MRULimit == 0 {
		c.Store.MRULimit = 25
	}
}

func (c *Config) validate() error {
	switch c.Secrets.Backend {
	case "aws", "env", "memory":
	default:
		return fmt.Errorf("unknown secrets backend %q", c.Secrets.Backend)
	}
	for i, acct := range c.Azure.Accounts {
		if acct.AccountID == "" {
			return fmt.Errorf("azure account %d is missing account_id", i)
		}
		if acct.ClientID == "" || acct.ClientSecret == "" {
			return fmt.Errorf("azure account %s is missing client credentials", acct.AccountID)
		}
		if len(acct.TenantIDs) == 0 {
			return fmt.Errorf("azure account %s has no tenants", acct.AccountID)
		}
	}
	return nil
}

// ReadTimeout returns the server read timeout as a duration.
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the server write timeout as a duration.
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMs) * time.Millisecond
}

// ShutdownGrace returns how long in-flight requests get on shutdown.
func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceMs) * time.Millisecond
}

// CacheTTL returns the secrets cache TTL as a duration.
func (s SecretsConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLMs) * time.Millisecond
}

// ProviderEnabled reports whether a provider id should be registered.
func (p ProvidersConfig) ProviderEnabled(id string) bool {
	if len(p.Enabled) == 0 {
		return true
	}
	for _, e := range p.Enabled {
		if e == id {
			return true
		}
	}
	return false
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references in the string.
// Supports ${VAR_NAME}, $VAR_NAME, and ${VAR_NAME:-default} syntax.
// Undefined variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
