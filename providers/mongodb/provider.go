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

package mongodb

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

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"axonflow/workbench/providers"
)

const connectTimeout = 30 * time.Second

// connector dials a deployment. Swapped out in tests.
type connector func(ctx context.Context, uri string) (client, error)

// client is the slice of *mongo.Client the provider needs.
type client interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	ListDatabaseNames(ctx context.Context, filter interface{}, opts ...*options.ListDatabasesOptions) ([]string, error)
	RunCommand(ctx context.Context, db string, cmd interface{}) (bson.M, error)
	Disconnect(ctx context.Context) error
}

type mongoClient struct {
	*mongo.Client
}

func (c *mongoClient) RunCommand(ctx context.Context, db string, cmd interface{}) (bson.M, error) {
	var out bson.M
	err := c.Database(db).RunCommand(ctx, cmd).Decode(&out)
	return out, err
}

func dial(ctx context.Context, uri string) (client, error) {
	c, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return &mongoClient{Client: c}, nil
}

// Provider implements providers.Provider for MongoDB deployments.
type Provider struct {
	notifier providers.Notifier
	logger   *log.Logger
	mu       sync.RWMutex
	sessions map[string]*session
	dial     connector
}

type session struct {
	client client
	params *providers.ConnectParams
	db     string
}

// New creates a MongoDB provider reporting outcomes to notifier.
func New(notifier providers.Notifier) *Provider {
	return &Provider{
		notifier: notifier,
		logger:   log.New(os.Stdout, "[WORKBENCH_MONGODB] ", log.LstdFlags),
		sessions: make(map[string]*session),
		dial:     dial,
	}
}

// Type returns the provider type identifier.
func (p *Provider) Type() string { return "mongodb" }

// Connect acknowledges the request and completes in the background.
func (p *Provider) Connect(ctx context.Context, key string, params *providers.ConnectParams) error {
	go p.establish(key, params)
	return nil
}

func (p *Provider) establish(key string, params *providers.ConnectParams) {
	summary := &providers.CompletionSummary{Key: key}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	uri := buildURI(params, true)
	c, err := p.dial(ctx, uri)
	if err != nil {
		summary.ErrorMessage = err.Error()
		p.notifier.OnConnectionComplete(summary)
		return
	}
	if err := c.Ping(ctx, readpref.Primary()); err != nil {
		c.Disconnect(ctx)
		summary.ErrorMessage = err.Error()
		p.notifier.OnConnectionComplete(summary)
		return
	}

	version := ""
	if info, err := c.RunCommand(ctx, "admin", bson.D{{Key: "buildInfo", Value: 1}}); err == nil {
		if v, ok := info["version"].(string); ok {
			version = v
		}
	} else {
		p.logger.Printf("buildInfo failed for %s: %v", key, err)
	}

	db := params.Database
	if db == "" {
		db = "admin"
	}

	p.mu.Lock()
	if old, exists := p.sessions[key]; exists {
		old.client.Disconnect(context.Background())
	}
	p.sessions[key] = &session{client: c, params: params, db: db}
	p.mu.Unlock()

	summary.ConnectionID = uuid.NewString()
	summary.ServerInfo = &providers.ServerInfo{ServerVersion: version}
	summary.ResolvedDatabase = db
	p.logger.Printf("Connected %s to %s", key, params.Server)
	p.notifier.OnConnectionComplete(summary)
}

// Disconnect tears down the session's client.
func (p *Provider) Disconnect(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	sess, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := sess.client.Disconnect(ctx); err != nil {
		return false, fmt.Errorf("failed to disconnect %s: %w", key, err)
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
		sess.client.Disconnect(ctx)
	}
	return true, nil
}

// ChangeDatabase retargets the session's default database. The client is
// deployment-scoped, so no reconnect is needed.
func (p *Provider) ChangeDatabase(ctx context.Context, key, database string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[key]
	if !ok {
		return false, fmt.Errorf("no session for %s", key)
	}
	sess.db = database
	updated := *sess.params
	updated.Database = database
	sess.params = &updated
	p.logger.Printf("Session %s switched to database %s", key, database)
	return true, nil
}

// ListDatabases enumerates database names on the deployment.
func (p *Provider) ListDatabases(ctx context.Context, key string) ([]string, error) {
	sess, err := p.session(key)
	if err != nil {
		return nil, err
	}
	names, err := sess.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// RebuildIntelliSenseCache warms collection metadata for the session's database.
func (p *Provider) RebuildIntelliSenseCache(ctx context.Context, key string) error {
	sess, err := p.session(key)
	if err != nil {
		return err
	}
	if _, err := sess.client.RunCommand(ctx, sess.db, bson.D{{Key: "listCollections", Value: 1}}); err != nil {
		return fmt.Errorf("failed to refresh collection metadata: %w", err)
	}
	return nil
}

// GetConnectionString renders the mongodb:// URI.
func (p *Provider) GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error) {
	sess, err := p.session(key)
	if err != nil {
		return "", err
	}
	return buildURI(sess.params, includePassword), nil
}

// BuildConnectionInfo parses a mongodb:// or mongodb+srv:// URI.
func (p *Provider) BuildConnectionInfo(ctx context.Context, connectionString string) (*providers.ConnectionInfo, error) {
	u, err := url.Parse(connectionString)
	if err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
		return nil, fmt.Errorf("malformed connection string %q", connectionString)
	}

	opts := map[string]interface{}{}
	for k, v := range u.Query() {
		if len(v) > 0 {
			opts[k] = v[0]
		}
	}
	return &providers.ConnectionInfo{
		Server:   u.Host,
		Database: strings.TrimPrefix(u.Path, "/"),
		User:     u.User.Username(),
		Options:  opts,
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

func buildURI(params *providers.ConnectParams, includePassword bool) string {
	var sb strings.Builder
	sb.WriteString("mongodb://")
	if params.User != "" {
		sb.WriteString(url.QueryEscape(params.User))
		if includePassword && params.Password != "" {
			sb.WriteString(":")
			sb.WriteString(url.QueryEscape(params.Password))
		}
		sb.WriteString("@")
	}
	sb.WriteString(params.Server)
	if params.Database != "" {
		sb.WriteString("/")
		sb.WriteString(params.Database)
	}
	return sb.String()
}
