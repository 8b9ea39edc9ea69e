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

package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"axonflow/workbench/providers"
)

const connectTimeout = 10 * time.Second

// Provider implements providers.Provider for Redis. Logical databases are
// the numbered keyspaces the server exposes; "changing database" selects
// a different index.
type Provider struct {
	notifier providers.Notifier
	logger   *log.Logger
	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	client *goredis.Client
	params *providers.ConnectParams
	db     int
}

// New creates a Redis provider reporting outcomes to notifier.
func New(notifier providers.Notifier) *Provider {
	return &Provider{
		notifier: notifier,
		logger:   log.New(os.Stdout, "[WORKBENCH_REDIS] ", log.LstdFlags),
		sessions: make(map[string]*session),
	}
}

// Type returns the provider type identifier.
func (p *Provider) Type() string { return "redis" }

// Connect acknowledges the request and completes in the background.
func (p *Provider) Connect(ctx context.Context, key string, params *providers.ConnectParams) error {
	go p.establish(key, params)
	return nil
}

func (p *Provider) establish(key string, params *providers.ConnectParams) {
	summary := &providers.CompletionSummary{Key: key}

	db := databaseIndex(params.Database)
	client := goredis.NewClient(&goredis.Options{
		Addr:     params.Server,
		Username: params.User,
		Password: params.Password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		summary.ErrorMessage = err.Error()
		p.notifier.OnConnectionComplete(summary)
		return
	}

	version := ""
	if info, err := client.Info(ctx, "server").Result(); err == nil {
		version = parseVersion(info)
	} else {
		p.logger.Printf("INFO server failed for %s: %v", key, err)
	}

	p.mu.Lock()
	if old, exists := p.sessions[key]; exists {
		old.client.Close()
	}
	p.sessions[key] = &session{client: client, params: params, db: db}
	p.mu.Unlock()

	summary.ConnectionID = uuid.NewString()
	summary.ServerInfo = &providers.ServerInfo{ServerVersion: version}
	summary.ResolvedDatabase = strconv.Itoa(db)
	p.logger.Printf("Connected %s to %s (db %d)", key, params.Server, db)
	p.notifier.OnConnectionComplete(summary)
}

// Disconnect closes the session's client.
func (p *Provider) Disconnect(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	sess, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := sess.client.Close(); err != nil {
		return false, fmt.Errorf("failed to close client for %s: %w", key, err)
	}
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
		sess.client.Close()
	}
	return true, nil
}

// ChangeDatabase reconnects the client against a different index.
func (p *Provider) ChangeDatabase(ctx context.Context, key, database string) (bool, error) {
	p.mu.RLock()
	sess, ok := p.sessions[key]
	p.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no session for %s", key)
	}

	db, err := strconv.Atoi(database)
	if err != nil {
		return false, fmt.Errorf("redis databases are numeric indexes, got %q", database)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     sess.params.Server,
		Username: sess.params.User,
		Password: sess.params.Password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return false, fmt.Errorf("failed to select db %d: %w", db, err)
	}

	p.mu.Lock()
	sess.client.Close()
	updated := *sess.params
	updated.Database = database
	p.sessions[key] = &session{client: client, params: &updated, db: db}
	p.mu.Unlock()

	p.logger.Printf("Session %s switched to db %d", key, db)
	return true, nil
}

// ListDatabases enumerates the server's numbered keyspaces.
func (p *Provider) ListDatabases(ctx context.Context, key string) ([]string, error) {
	sess, err := p.session(key)
	if err != nil {
		return nil, err
	}

	count := 16
	if res, err := sess.client.ConfigGet(ctx, "databases").Result(); err == nil && len(res) == 2 {
		if s, ok := res[1].(string); ok {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				count = n
			}
		}
	}

	names := make([]string, count)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names, nil
}

// RebuildIntelliSenseCache is a no-op: redis has no schema to warm.
func (p *Provider) RebuildIntelliSenseCache(ctx context.Context, key string) error {
	if _, err := p.session(key); err != nil {
		return err
	}
	return nil
}

// GetConnectionString renders a redis:// URL.
func (p *Provider) GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error) {
	sess, err := p.session(key)
	if err != nil {
		return "", err
	}

	auth := ""
	if sess.params.User != "" || (includePassword && sess.params.Password != "") {
		auth = sess.params.User
		if includePassword && sess.params.Password != "" {
			auth += ":" + sess.params.Password
		}
		auth += "@"
	}
	return fmt.Sprintf("redis://%s%s/%d", auth, sess.params.Server, sess.db), nil
}

// BuildConnectionInfo parses a redis:// URL.
func (p *Provider) BuildConnectionInfo(ctx context.Context, connectionString string) (*providers.ConnectionInfo, error) {
	opts, err := goredis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("malformed connection string: %w", err)
	}
	return &providers.ConnectionInfo{
		Server:   opts.Addr,
		Database: strconv.Itoa(opts.DB),
		User:     opts.Username,
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

// databaseIndex maps the profile's database field to a keyspace index.
// Empty means db 0.
func databaseIndex(database string) int {
	if database == "" {
		return 0
	}
	if n, err := strconv.Atoi(database); err == nil && n >= 0 {
		return n
	}
	return 0
}

func parseVersion(info string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "redis_version:") {
			return strings.TrimPrefix(line, "redis_version:")
		}
	}
	return ""
}
