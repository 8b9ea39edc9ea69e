// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"axonflow/workbench/providers"
)

const connectTimeout = 30 * time.Second

// Provider implements providers.Provider for PostgreSQL over lib/pq.
type Provider struct {
	notifier providers.Notifier
	logger   *log.Logger
	mu       sync.RWMutex
	sessions map[string]*session

	// open is swapped out in tests.
	open func(dsn string) (*sql.DB, error)
}

type session struct {
	db     *sql.DB
	params *providers.ConnectParams
}

// New creates a PostgreSQL provider reporting outcomes to notifier.
func New(notifier providers.Notifier) *Provider {
	return &Provider{
		notifier: notifier,
		logger:   log.New(os.Stdout, "[WORKBENCH_POSTGRES] ", log.LstdFlags),
		sessions: make(map[string]*session),
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
	}
}

// Type returns the provider type identifier.
func (p *Provider) Type() string { return "postgres" }

// Connect acknowledges the request and completes in the background via
// the notifier.
func (p *Provider) Connect(ctx context.Context, key string, params *providers.ConnectParams) error {
	go p.establish(key, params)
	return nil
}

func (p *Provider) establish(key string, params *providers.ConnectParams) {
	summary := &providers.CompletionSummary{Key: key}

	db, err := p.open(buildDSN(params, true))
	if err != nil {
		summary.ErrorMessage = fmt.Sprintf("failed to open connection: %v", err)
		p.notifier.OnConnectionComplete(summary)
		return
	}

	configurePool(db, params.Options)

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
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		p.logger.Printf("Version query failed for %s: %v", key, err)
	}

	var resolved string
	if err := db.QueryRowContext(ctx, "SELECT current_database()").Scan(&resolved); err != nil {
		p.logger.Printf("current_database query failed for %s: %v", key, err)
	}

	p.mu.Lock()
	if old, exists := p.sessions[key]; exists {
		old.db.Close()
	}
	p.sessions[key] = &session{db: db, params: params}
	p.mu.Unlock()

	summary.ConnectionID = uuid.NewString()
	summary.ServerInfo = &providers.ServerInfo{ServerVersion: version}
	summary.ResolvedDatabase = resolved
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

// CancelConnect drops any session state for a key whose attempt is being
// abandoned. The in-flight dial keeps running; its completion will be
// dropped by the core.
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

// ChangeDatabase reopens the pool against a different database and swaps
// it under the same key.
func (p *Provider) ChangeDatabase(ctx context.Context, key, database string) (bool, error) {
	p.mu.RLock()
	sess, ok := p.sessions[key]
	p.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no session for %s", key)
	}

	params := *sess.params
	params.Database = database

	db, err := p.open(buildDSN(&params, true))
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", database, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return false, fmt.Errorf("failed to reach %s: %w", database, err)
	}

	p.mu.Lock()
	sess.db.Close()
	p.sessions[key] = &session{db: db, params: &params}
	p.mu.Unlock()

	p.logger.Printf("Session %s switched to database %s", key, database)
	return true, nil
}

// ListDatabases enumerates non-template databases.
func (p *Provider) ListDatabases(ctx context.Context, key string) ([]string, error) {
	sess, err := p.session(key)
	if err != nil {
		return nil, err
	}

	rows, err := sess.db.QueryContext(ctx,
		"SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname")
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

// RebuildIntelliSenseCache warms catalog metadata for completion.
func (p *Provider) RebuildIntelliSenseCache(ctx context.Context, key string) error {
	sess, err := p.session(key)
	if err != nil {
		return err
	}

	rows, err := sess.db.QueryContext(ctx,
		"SELECT table_schema, table_name FROM information_schema.tables")
	if err != nil {
		return fmt.Errorf("failed to refresh catalog metadata: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	p.logger.Printf("Refreshed catalog metadata for %s (%d tables)", key, count)
	return rows.Err()
}

// GetConnectionString renders the session's DSN.
func (p *Provider) GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error) {
	sess, err := p.session(key)
	if err != nil {
		return "", err
	}
	return buildDSN(sess.params, includePassword), nil
}

// BuildConnectionInfo parses a key=value DSN.
func (p *Provider) BuildConnectionInfo(ctx context.Context, connectionString string) (*providers.ConnectionInfo, error) {
	info := &providers.ConnectionInfo{Options: make(map[string]interface{})}

	for _, field := range strings.Fields(connectionString) {
		parts := strings.SplitN(field, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed connection string segment %q", field)
		}
		k, v := parts[0], parts[1]
		switch k {
		case "host":
			info.Server = v
		case "port":
			if info.Server != "" {
				info.Server = net.JoinHostPort(info.Server, v)
			} else {
				info.Options[k] = v
			}
		case "dbname":
			info.Database = v
		case "user":
			info.User = v
		case "password":
			// Never surfaced in parsed form.
		default:
			info.Options[k] = v
		}
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

// buildDSN renders lib/pq key=value form from connect params.
func buildDSN(params *providers.ConnectParams, includePassword bool) string {
	host, port := splitHostPort(params.Server, "5432")

	parts := []string{
		"host=" + host,
		"port=" + port,
	}
	if params.Database != "" {
		parts = append(parts, "dbname="+params.Database)
	}
	if params.User != "" {
		parts = append(parts, "user="+params.User)
	}
	if includePassword && params.Password != "" {
		parts = append(parts, "password="+params.Password)
	}

	sslmode := "prefer"
	if v, ok := params.Options["sslmode"].(string); ok && v != "" {
		sslmode = v
	}
	parts = append(parts, "sslmode="+sslmode)

	return strings.Join(parts, " ")
}

func splitHostPort(server, defaultPort string) (string, string) {
	host, port, err := net.SplitHostPort(server)
	if err != nil {
		return server, defaultPort
	}
	return host, port
}

func configurePool(db *sql.DB, options map[string]interface{}) {
	maxOpen := 25
	maxIdle := 5
	lifetime := 5 * time.Minute

	if v, ok := options["max_open_conns"].(int); ok {
		maxOpen = v
	}
	if v, ok := options["max_idle_conns"].(int); ok {
		maxIdle = v
	}
	if v, ok := options["conn_max_lifetime"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil {
			lifetime = d
		}
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

// errorCode extracts a numeric error code from a pq error when its
// SQLSTATE is numeric; non-numeric states yield 0.
func errorCode(err error) int {
	if pqErr, ok := err.(*pq.Error); ok {
		if code, convErr := strconv.Atoi(string(pqErr.Code)); convErr == nil {
			return code
		}
	}
	return 0
}
