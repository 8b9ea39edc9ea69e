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

// Command workbench runs the connection gateway: a registry of database
// providers, the connection lifecycle manager in front of them, and an
// HTTP API for workbench clients.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"axonflow/workbench/config"
	"axonflow/workbench/connection"
	"axonflow/workbench/credentials"
	"axonflow/workbench/gateway"
	"axonflow/workbench/providers"
	"axonflow/workbench/providers/cassandra"
	"axonflow/workbench/providers/mongodb"
	"axonflow/workbench/providers/mysql"
	"axonflow/workbench/providers/postgres"
	"axonflow/workbench/providers/redis"
)

func main() {
	configPath := flag.String("config", "", "path to workbench config file (YAML)")
	flag.Parse()

	logger := log.New(os.Stdout, "[WORKBENCH] ", log.LstdFlags)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize profile store: %v", err)
	}

	registry := providers.NewRegistry()

	managerOpts := []connection.ManagerOption{connection.WithStore(store)}
	if len(cfg.Azure.Accounts) > 0 {
		accounts, err := credentials.NewAzureAccountService(azureAccounts(cfg), nil)
		if err != nil {
			logger.Fatalf("Failed to initialize azure accounts: %v", err)
		}
		managerOpts = append(managerOpts, connection.WithTokenEnsurer(credentials.NewResolver(accounts)))
		logger.Printf("Azure token auth enabled for %d account(s)", len(cfg.Azure.Accounts))
	}

	manager := connection.NewManager(registry, managerOpts...)
	registerProviders(cfg, registry, manager, logger)

	server := gateway.New(cfg.Server, manager, registry)
	if err := server.Run(ctx); err != nil {
		logger.Fatalf("Gateway error: %v", err)
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (*credentials.SecretsStore, error) {
	var secrets credentials.SecretsManager
	switch cfg.Secrets.Backend {
	case "aws":
		sm, err := credentials.NewAWSSecretsManager(ctx, credentials.AWSSecretsManagerOptions{
			Region:   cfg.Secrets.Region,
			CacheTTL: cfg.Secrets.CacheTTL(),
		})
		if err != nil {
			return nil, err
		}
		secrets = sm
		logger.Printf("Saved passwords backed by AWS Secrets Manager (region %s)", cfg.Secrets.Region)
	case "env":
		secrets = credentials.NewEnvSecretsManager()
		logger.Printf("Saved passwords read from environment variables")
	default:
		secrets = credentials.NewMemorySecretsManager()
		logger.Printf("Saved passwords held in memory")
	}

	var groups []*connection.Group
	for _, g := range cfg.Store.Groups {
		groups = append(groups, &connection.Group{ID: g.ID, Name: g.Name, ParentID: g.ParentID, Color: g.Color})
	}

	return credentials.NewSecretsStore(secrets,
		credentials.WithMRULimit(cfg.Store.MRULimit),
		credentials.WithGroups(groups),
	), nil
}

func azureAccounts(cfg *config.Config) []credentials.AzureAccountConfig {
	out := make([]credentials.AzureAccountConfig, 0, len(cfg.Azure.Accounts))
	for _, a := range cfg.Azure.Accounts {
		out = append(out, credentials.AzureAccountConfig{
			AccountID:    a.AccountID,
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			Tenants:      a.TenantIDs,
		})
	}
	return out
}

func registerProviders(cfg *config.Config, registry *providers.Registry, manager *connection.Manager, logger *log.Logger) {
	type builtin struct {
		caps  *providers.Capabilities
		build func(providers.Notifier) providers.Provider
	}

	builtins := map[string]builtin{
		"postgres": {
			caps: &providers.Capabilities{
				ProviderType:            "postgres",
				DisplayName:             "PostgreSQL",
				SupportedAuthTypes:      []string{string(connection.AuthPassword), string(connection.AuthAzureToken)},
				SupportsChangeDatabase:  true,
				SupportsConnectionPools: true,
			},
			build: func(n providers.Notifier) providers.Provider { return postgres.New(n) },
		},
		"mysql": {
			caps: &providers.Capabilities{
				ProviderType:            "mysql",
				DisplayName:             "MySQL",
				SupportedAuthTypes:      []string{string(connection.AuthPassword)},
				SupportsChangeDatabase:  true,
				SupportsConnectionPools: true,
			},
			build: func(n providers.Notifier) providers.Provider { return mysql.New(n) },
		},
		"mongodb": {
			caps: &providers.Capabilities{
				ProviderType:           "mongodb",
				DisplayName:            "MongoDB",
				SupportedAuthTypes:     []string{string(connection.AuthPassword)},
				SupportsChangeDatabase: true,
			},
			build: func(n providers.Notifier) providers.Provider { return mongodb.New(n) },
		},
		"redis": {
			caps: &providers.Capabilities{
				ProviderType:           "redis",
				DisplayName:            "Redis",
				SupportedAuthTypes:     []string{string(connection.AuthPassword)},
				SupportsChangeDatabase: true,
			},
			build: func(n providers.Notifier) providers.Provider { return redis.New(n) },
		},
		"cassandra": {
			caps: &providers.Capabilities{
				ProviderType:           "cassandra",
				DisplayName:            "Cassandra",
				SupportedAuthTypes:     []string{string(connection.AuthPassword)},
				SupportsChangeDatabase: true,
			},
			build: func(n providers.Notifier) providers.Provider { return cassandra.New(n) },
		},
	}

	for id, b := range builtins {
		if !cfg.Providers.ProviderEnabled(id) {
			continue
		}
		registry.RegisterCapabilities(id, b.caps)
		registry.RegisterProvider(id, b.build(manager))
	}
	logger.Printf("Registered %d provider(s)", registry.Count())
}
