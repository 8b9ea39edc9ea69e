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

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"axonflow/workbench/providers"
)

const connectTimeout = 30 * time.Second

// Provider implements providers.Provider for MySQL over go-sql-driver.
type Provider struct {
	notifier providers.Notifier
	logger   *log.Logger
	mu       sync.RWMutex
	sessions map[string]*session

	open func(dsn string) (*sql.DB, error)
}

type session struct {
	db     *sql.DB
	params *providers.ConnectParams
}

// New creates a MySQL provider reporting outcomes to notifier.
func New(notifier providers.Notifier) *Provider {
	return &Provider{
		notifier: notifier,
		logger:   log.New(os.Stdout, "[WORKBENCH_MYSQL] ", log.LstdFlags),
		sessions: make(map[string]*session),
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		},
	}
}

// Type returns the provider type identifier.
func (p *Provider) Type() string { return "mysql" }

// Connect acknowledges the request and completes in the background.
func (p *Provider) Connect(ctx context.Context, key string, params *providers.ConnectParams) error {
	go p.establish(key, params)
	return nil
}

func (p *Provider) establish(key string, params *providers.ConnectParams) {
	summary := &providers.CompletionSummary{Key: key}

	db, err := p.open(formatDSN(params, true))
	if err != nil {
		summary.ErrorMessage = fmt.Sprintf("failed to open connection: %v", err)
		p.notifier.OnConnectionComplete(summary)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		summary.ErrorMessage = err.Error()
		summary.ErrorCode = errorCode(err)
		p.notifier.OnConnectionComplete(summary)
		return
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		p.logger.Printf("Version query failed for %s: %v", key, err)
	}

	var resolved sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&resolved); err != nil {
		p.logger.Printf("DATABASE() query failed for %s: %v", key, err)
	}

	p.mu.Lock()
	if old, exists := p.sessions[key]; exists {
		old.db.Close()
	}
	p.sessions[key] = &session{db: db, params: params}
	p.mu.Unlock()

	summary.ConnectionID = uuid.NewString()
	summary.ServerInfo = &providers.ServerInfo{ServerVersion: version}
	if resolved.Valid {
		summary.ResolvedDatabase = resolved.String
	}
	p.logger.Printf("Connected %s to %s", key, params.Server)
	p.notifier.OnConnectionComplete(summary)
}

// Disconnect closes the session's pool.
func (p *Provider) Disconnect(ctx context.Context, key string) (bool, error) {
	p.mu.Lock()
	sess, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := sess.db.Close(); err != nil {
		return false, fmt.Errorf("failed to close connection for %s: %w", key, err)
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
		sess.db.Close()
	}
	return true, nil
}

// ChangeDatabase issues USE on the live pool.
func (p *Provider) ChangeDatabase(ctx context.Context, key, database string) (bool, error) {
	p.mu.RLock()
	sess, ok := p.sessions[key]
	p.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no session for %s", key)
	}

	if _, err := sess.db.ExecContext(ctx, "USE "+quoteIdentifier(database)); err != nil {
		return false, fmt.Errorf("failed to switch to %s: %w", database, err)
	}

	p.mu.Lock()
	updated := *sess.params
	updated.Database = database
	sess.params = &updated
	p.mu.Unlock()

	p.logger.Printf("Session %s switched to database %s", key, database)
	return true, nil
}

// ListDatabases enumerates schemas visible to the session.
func (p *Provider) ListDatabases(ctx context.Context, key string) ([]string, error) {
	sess, err := p.session(key)
	if err != nil {
		return nil, err
	}

	rows, err := sess.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RebuildIntelliSenseCache warms schema metadata for completion.
func (p *Provider) RebuildIntelliSenseCache(ctx context.Context, key string) error {
	sess, err := p.session(key)
	if err != nil {
		return err
	}

	rows, err := sess.db.QueryContext(ctx,
		"SELECT table_schema, table_name FROM information_schema.tables")
	if err != nil {
		return fmt.Errorf("failed to refresh schema metadata: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	p.logger.Printf("Refreshed schema metadata for %s (%d tables)", key, count)
	return rows.Err()
}

// GetConnectionString renders the session's DSN.
func (p *Provider) GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error) {
	sess, err := p.session(key)
	if err != nil {
		return "", err
	}
	return formatDSN(sess.params, includePassword), nil
}

// BuildConnectionInfo parses a go-sql-driver DSN.
func (p *Provider) BuildConnectionInfo(ctx context.Context, connectionString string) (*providers.ConnectionInfo, error) {
	cfg, err := mysql.ParseDSN(connectionString)
	if err != nil {
		return nil, fmt.Errorf("malformed connection string: %w", err)
	}

	info := &providers.ConnectionInfo{
		Server:   cfg.Addr,
		Database: cfg.DBName,
		User:     cfg.User,
		Options:  make(map[string]interface{}, len(cfg.Params)),
	}
	for k, v := range cfg.Params {
		info.Options[k] = v
	}
	return info, nil
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

// formatDSN renders a go-sql-driver DSN from connect params.
func formatDSN(params *providers.ConnectParams, includePassword bool) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = params.Server
	cfg.DBName = params.Database
	cfg.User = params.User
	if includePassword {
		cfg.Passwd = params.Password
	}
	cfg.Timeout = connectTimeout
	cfg.ParseTime = true

	if params.Options != nil {
		if v, ok := params.Options["tls"].(string); ok && v != "" {
			cfg.TLSConfig = v
		}
	}

	return cfg.FormatDSN()
}

func quoteIdentifier(name string) string {
	return "`" + name + "`"
}

// errorCode extracts the MySQL server error number, when present.
func errorCode(err error) int {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return int(myErr.Number)
	}
	return 0
}
