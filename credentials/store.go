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

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"axonflow/workbench/connection"
)

// SecretsManager is the backend a SecretsStore reads saved passwords from.
type SecretsManager interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// AWSSecretsManager implements SecretsManager over AWS Secrets Manager
// with a TTL cache in front.
type AWSSecretsManager struct {
	client *secretsmanager.Client
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager.
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager creates an AWS Secrets Manager backed secret source.
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}

	cfgOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// GetSecret retrieves a secret, expected to be a JSON object with string
// values. Raw string secrets come back under the "value" key.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[name]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskSecretName(name), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskSecretName(name))
	}

	var value map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &value); err != nil {
		value = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[name] = &secretCacheEntry{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	s.logger.Printf("Retrieved and cached secret %s", maskSecretName(name))
	return value, nil
}

// Invalidate removes a secret from the cache.
func (s *AWSSecretsManager) Invalidate(name string) {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
}

// MemorySecretsManager implements SecretsManager in memory for development
// and tests.
type MemorySecretsManager struct {
	secrets map[string]map[string]string
	mu      sync.RWMutex
}

// NewMemorySecretsManager creates an empty in-memory secret source.
func NewMemorySecretsManager() *MemorySecretsManager {
	return &MemorySecretsManager{secrets: make(map[string]map[string]string)}
}

// GetSecret retrieves a stored secret.
func (s *MemorySecretsManager) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if secret, ok := s.secrets[name]; ok {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found", name)
}

// SetSecret stores a secret.
func (s *MemorySecretsManager) SetSecret(name string, value map[string]string) {
	s.mu.Lock()
	s.secrets[name] = value
	s.mu.Unlock()
}

// EnvSecretsManager implements SecretsManager over process environment
// variables for container deployments without a secrets service.
type EnvSecretsManager struct{}

// NewEnvSecretsManager creates an environment backed secret source.
func NewEnvSecretsManager() *EnvSecretsManager {
	return &EnvSecretsManager{}
}

// GetSecret reads the secret from the environment. The variable name is
// the secret name uppercased with every non-alphanumeric run collapsed
// to an underscore, e.g. workbench/postgres/db1/app -> WORKBENCH_POSTGRES_DB1_APP.
func (s *EnvSecretsManager) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	v := os.Getenv(EnvVarName(name))
	if v == "" {
		return nil, fmt.Errorf("secret %s not found in environment", maskSecretName(name))
	}
	return map[string]string{"value": v}, nil
}

// EnvVarName maps a secret name onto its environment variable.
func EnvVarName(name string) string {
	out := make([]byte, 0, len(name))
	lastUnderscore := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			out = append(out, c-'a'+'A')
			lastUnderscore = false
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			out = append(out, c)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				out = append(out, '_')
				lastUnderscore = true
			}
		}
	}
	return string(out)
}

// maskSecretName masks a secret name for logging.
func maskSecretName(name string) string {
	if len(name) <= 12 {
		return "***"
	}
	return "..." + name[len(name)-8:]
}

// SecretsStore implements connection.Store: saved passwords come from a
// SecretsManager backend, the MRU list and saved profiles live in memory,
// groups come from configuration.
type SecretsStore struct {
	secrets  SecretsManager
	mu       sync.RWMutex
	mru      []*connection.Profile
	mruMax   int
	profiles map[string]*connection.Profile
	groups   map[string]*connection.Group
	logger   *log.Logger
}

// StoreOption configures a SecretsStore.
type StoreOption func(*SecretsStore)

// WithMRULimit caps the recent-connections list.
func WithMRULimit(n int) StoreOption {
	return func(s *SecretsStore) { s.mruMax = n }
}

// WithGroups seeds the group table.
func WithGroups(groups []*connection.Group) StoreOption {
	return func(s *SecretsStore) {
		for _, g := range groups {
			s.groups[g.ID] = g
		}
	}
}

// WithStoreLogger sets a custom logger.
func WithStoreLogger(logger *log.Logger) StoreOption {
	return func(s *SecretsStore) { s.logger = logger }
}

// NewSecretsStore creates a store over a secrets backend.
func NewSecretsStore(secrets SecretsManager, opts ...StoreOption) *SecretsStore {
	s := &SecretsStore{
		secrets:  secrets,
		mruMax:   25,
		profiles: make(map[string]*connection.Profile),
		groups:   make(map[string]*connection.Group),
		logger:   log.New(os.Stdout, "[CONNECTION_STORE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SecretName derives the secrets-backend key for a profile's saved
// password.
func SecretName(p *connection.Profile) string {
	return fmt.Sprintf("workbench/%s/%s/%s", p.ProviderID, p.Server, p.User)
}

// AddSavedPassword returns a copy of the profile with its saved password
// filled in. A profile that already carries credentials passes through.
func (s *SecretsStore) AddSavedPassword(ctx context.Context, p *connection.Profile) (*connection.Profile, bool, error) {
	if p.Password != "" || p.AuthType != connection.AuthPassword {
		return p, true, nil
	}

	secret, err := s.secrets.GetSecret(ctx, SecretName(p))
	if err != nil {
		return p, false, nil // treated as "no saved password"
	}

	password := secret["password"]
	if password == "" {
		password = secret["value"]
	}
	if password == "" {
		return p, false, nil
	}

	out := p.Copy()
	out.Password = password
	return out, true, nil
}

// IsPasswordRequired reports whether the profile's auth type connects
// with a password.
func (s *SecretsStore) IsPasswordRequired(p *connection.Profile) bool {
	return p.AuthType == connection.AuthPassword
}

// SaveProfile persists the profile without credentials, keyed by identity.
func (s *SecretsStore) SaveProfile(ctx context.Context, p *connection.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("cannot save a profile without an id")
	}
	clean := p.WithoutCredentials()

	s.mu.Lock()
	s.profiles[clean.ID] = clean
	s.mu.Unlock()

	s.logger.Printf("Saved profile %s (%s@%s)", clean.ID, clean.User, clean.Server)
	return nil
}

// SavedProfiles returns all saved profiles.
func (s *SecretsStore) SavedProfiles() []*connection.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*connection.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Copy())
	}
	return out
}

// AddRecentConnection records the profile at the head of the MRU list,
// collapsing earlier entries for the same target.
func (s *SecretsStore) AddRecentConnection(ctx context.Context, p *connection.Profile) error {
	clean := p.WithoutCredentials()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*connection.Profile, 0, len(s.mru)+1)
	kept = append(kept, clean)
	for _, existing := range s.mru {
		if !existing.Matches(clean) {
			kept = append(kept, existing)
		}
	}
	if len(kept) > s.mruMax {
		kept = kept[:s.mruMax]
	}
	s.mru = kept
	return nil
}

// RecentConnections returns the MRU list, most recent first.
func (s *SecretsStore) RecentConnections() []*connection.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*connection.Profile, len(s.mru))
	for i, p := range s.mru {
		out[i] = p.Copy()
	}
	return out
}

// GetGroupFromID resolves a connection group.
func (s *SecretsStore) GetGroupFromID(id string) (*connection.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	return g, ok
}
