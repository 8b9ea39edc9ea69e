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

package cassandra

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"axonflow/workbench/providers"
)

const connectTimeout = 30 * time.Second

// cluster is the slice of *gocql.Session the provider needs. Swapped out
// in tests.
type cluster interface {
	QueryOne(ctx context.Context, stmt string, dest ...interface{}) error
	QueryStrings(ctx context.Context, stmt string) ([]string, error)
	Close()
}

type gocqlCluster struct {
	session *gocql.Session
}

func (c *gocqlCluster) QueryOne(ctx context.Context, stmt string, dest ...interface{}) error {
	return c.session.Query(stmt).WithContext(ctx).Scan(dest...)
}

func (c *gocqlCluster) QueryStrings(ctx context.Context, stmt string) ([]string, error) {
	iter := c.session.Query(stmt).WithContext(ctx).Iter()
	var out []string
	var v string
	for iter.Scan(&v) {
		out = append(out, v)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *gocqlCluster) Close() { c.session.Close() }

func dial(params *providers.ConnectParams, keyspace string) (cluster, error) {
	cfg := gocql.NewCluster(hosts(params.Server)...)
	cfg.Keyspace = keyspace
	cfg.ConnectTimeout = 10 * time.Second
	cfg.Timeout = 10 * time.Second
	if params.User != "" {
		cfg.Authenticator = gocql.PasswordAuthenticator{
			Username: params.User,
			Password: params.Password,
		}
	}
	sess, err := cfg.CreateSession()
	if err != nil {
		return nil, err
	}
	return &gocqlCluster{session: sess}, nil
}

// Provider implements providers.Provider for Cassandra clusters. Keyspaces
// play the role of databases.
type Provider struct {
	notifier providers.Notifier
	logger   *log.Logger
	mu       sync.RWMutex
	sessions map[string]*session
	dial     func(params *providers.ConnectParams, keyspace string) (cluster, error)
}

type session struct {
	cluster  cluster
	params   *providers.ConnectParams
	keyspace string
}

// New creates a Cassandra provider reporting outcomes to notifier.
func New(notifier providers.Notifier) *Provider {
	return &Provider{
		notifier: notifier,
		logger:   log.New(os.Stdout, "[WORKBENCH_CASSANDRA] ", log.LstdFlags),
		sessions: make(map[string]*session),
		dial:     dial,
	}
}

// Type returns the provider type identifier.
func (p *Provider) Type() string { return "cassandra" }

// Connect acknowledges the request and completes in the background.
func (p *Provider) Connect(ctx context.Context, key string, params *providers.ConnectParams) error {
	go p.establish(key, params)
	return nil
}

func (p *Provider) establish(key string, params *providers.ConnectParams) {
	summary := &providers.CompletionSummary{Key: key}

	c, err := p.dial(params, params.Database)
	if err != nil {
		summary.ErrorMessage = err.Error()
		p.notifier.OnConnectionComplete(summary)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	version := ""
	keyspace := params.Database
	if err := c.QueryOne(ctx, "SELECT release_version FROM system.local", &version); err != nil {
		c.Close()
		summary.ErrorMessage = err.Error()
		p.notifier.OnConnectionComplete(summary)
		return
	}
	if keyspace == "" {
		keyspace = "system"
	}

	p.mu.Lock()
	if old, exists := p.sessions[key]; exists {
		old.cluster.Close()
	}
	p.sessions[key] = &session{cluster: c, params: params, keyspace: keyspace}
	p.mu.Unlock()

	summary.ConnectionID = uuid.NewString()
	summary.ServerInfo = &providers.ServerInfo{ServerVersion: version}
	summary.ResolvedDatabase = keyspace
	p.logger.Printf("Connected %s to %s (keyspace %s)", key, params.Server, keyspace)
	p.notifier.OnConnectionComplete(summary)
}

// Disconnect closes the session's cluster connection.
func (p *Provider) Disconnect(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	sess, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()

	if !ok {
		return false, nil
	}
	sess.cluster.Close()
	p.logger.Printf("Disconnected %s", key)
	return true, nil
}

// CancelConnect drops session state for an abandoned attempt.
func (p *Provider) CancelConnect(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	sess, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()

	if ok {
		sess.cluster.Close()
	}
	return true, nil
}

// ChangeDatabase reconnects the session against another keyspace.
func (p *Provider) ChangeDatabase(ctx context.Context, key, database string) (bool, error) {
	p.mu.RLock()
	sess, ok := p.sessions[key]
	p.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no session for %s", key)
	}

	updated := *sess.params
	updated.Database = database
	c, err := p.dial(&updated, database)
	if err != nil {
		return false, fmt.Errorf("failed to switch to keyspace %s: %w", database, err)
	}

	p.mu.Lock()
	sess.cluster.Close()
	p.sessions[key] = &session{cluster: c, params: &updated, keyspace: database}
	p.mu.Unlock()

	p.logger.Printf("Session %s switched to keyspace %s", key, database)
	return true, nil
}

// ListDatabases enumerates keyspace names.
func (p *Provider) ListDatabases(ctx context.Context, key string) ([]string, error) {
	sess, err := p.session(key)
	if err != nil {
		return nil, err
	}
	names, err := sess.cluster.QueryStrings(ctx, "SELECT keyspace_name FROM system_schema.keyspaces")
	if err != nil {
		return nil, fmt.Errorf("failed to list keyspaces: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// RebuildIntelliSenseCache warms table metadata for the session's keyspace.
func (p *Provider) RebuildIntelliSenseCache(ctx context.Context, key string) error {
	sess, err := p.session(key)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("SELECT table_name FROM system_schema.tables WHERE keyspace_name = '%s'",
		strings.ReplaceAll(sess.keyspace, "'", "''"))
	if _, err := sess.cluster.QueryStrings(ctx, stmt); err != nil {
		return fmt.Errorf("failed to refresh table metadata: %w", err)
	}
	return nil
}

// GetConnectionString renders a cassandra:// URL.
func (p *Provider) GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error) {
	sess, err := p.session(key)
	if err != nil {
		return "", err
	}

	auth := ""
	if sess.params.User != "" {
		auth = url.QueryEscape(sess.params.User)
		if includePassword && sess.params.Password != "" {
			auth += ":" + url.QueryEscape(sess.params.Password)
		}
		auth += "@"
	}
	return fmt.Sprintf("cassandra://%s%s/%s", auth, sess.params.Server, sess.keyspace), nil
}

// BuildConnectionInfo parses a cassandra:// URL.
func (p *Provider) BuildConnectionInfo(ctx context.Context, connectionString string) (*providers.ConnectionInfo, error) {
	u, err := url.Parse(connectionString)
	if err != nil || u.Scheme != "cassandra" {
		return nil, fmt.Errorf("malformed connection string %q", connectionString)
	}
	return &providers.ConnectionInfo{
		Server:   u.Host,
		Database: strings.TrimPrefix(u.Path, "/"),
		User:     u.User.Username(),
		Options:  map[string]interface{}{},
	}, nil
}

func (p *Provider) session(key string) (*session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.sessions[key]
	if !ok {
		return nil, fmt.Errorf("no session for %s", key)
	}
	return sess, nil
}

// hosts splits a comma separated contact point list.
func hosts(server string) []string {
	parts := strings.Split(server, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
