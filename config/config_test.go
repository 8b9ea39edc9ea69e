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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullConfig(t *testing.T) {
	yaml := `
version: "1"
server:
  listen_addr: ":9090"
  jwt_secret: topsecret
  allowed_origins:
    - https://workbench.example.com
secrets:
  backend: aws
  region: us-east-1
  cache_ttl_ms: 60000
azure:
  accounts:
    - account_id: corp
      client_id: cid
      client_secret: csec
      tenant_ids: [t1, t2]
providers:
  enabled: [postgres, mysql]
store:
  mru_limit: 10
  groups:
    - id: g1
      name: Production
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "topsecret", cfg.Server.JWTSecret)
	assert.Equal(t, []string{"https://workbench.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "aws", cfg.Secrets.Backend)
	assert.Equal(t, time.Minute, cfg.Secrets.CacheTTL())
	require.Len(t, cfg.Azure.Accounts, 1)
	assert.Equal(t, []string{"t1", "t2"}, cfg.Azure.Accounts[0].TenantIDs)
	assert.Equal(t, 10, cfg.Store.MRULimit)
	assert.Equal(t, "Production", cfg.Store.Groups[0].Name)

	assert.True(t, cfg.Providers.ProviderEnabled("postgres"))
	assert.False(t, cfg.Providers.ProviderEnabled("redis"))
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`version: "1"`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout())
	assert.Equal(t, time.Minute, cfg.Server.WriteTimeout())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownGrace())
	assert.Equal(t, "memory", cfg.Secrets.Backend)
	assert.Equal(t, 25, cfg.Store.MRULimit)
	assert.True(t, cfg.Providers.ProviderEnabled("anything"))
}

func TestParse_EnvExpansion(t *testing.T) {
	os.Setenv("WB_TEST_SECRET", "from-env")
	defer os.Unsetenv("WB_TEST_SECRET")

	yaml := `
server:
  jwt_secret: ${WB_TEST_SECRET}
  listen_addr: "${WB_TEST_ADDR:-:7070}"
secrets:
  region: $WB_TEST_UNSET
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "", cfg.Secrets.Region)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad backend":    "secrets:\n  backend: vault\n",
		"missing id":     "azure:\n  accounts:\n    - client_id: c\n      client_secret: s\n      tenant_ids: [t]\n",
		"missing creds":  "azure:\n  accounts:\n    - account_id: a\n      tenant_ids: [t]\n",
		"no tenants":     "azure:\n  accounts:\n    - account_id: a\n      client_id: c\n      client_secret: s\n",
		"malformed yaml": "server: [not a map",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen_addr: \":6060\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Server.ListenAddr)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "memory", cfg.Secrets.Backend)
}
