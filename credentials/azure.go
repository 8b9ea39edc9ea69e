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
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// AzureAccountConfig describes one service-principal identity and the
// tenants it can mint tokens for.
type AzureAccountConfig struct {
	AccountID    string   `yaml:"account_id" json:"account_id"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	Tenants      []string `yaml:"tenants" json:"tenants"`
}

// AzureAccountService implements AccountService over azidentity. One
// credential is built per (account, tenant) pair at construction; token
// acquisition goes straight to Azure AD with azidentity's own caching
// underneath.
type AzureAccountService struct {
	accounts map[string]*Account
	creds    map[string]azcore.TokenCredential // accountID + "/" + tenantID
	mu       sync.RWMutex
	logger   *log.Logger
}

// NewAzureAccountService builds credentials for every configured account
// and tenant. A config with no tenants is rejected.
func NewAzureAccountService(configs []AzureAccountConfig, logger *log.Logger) (*AzureAccountService, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[AZURE_ACCOUNTS] ", log.LstdFlags)
	}

	s := &AzureAccountService{
		accounts: make(map[string]*Account),
		creds:    make(map[string]azcore.TokenCredential),
		logger:   logger,
	}

	for _, cfg := range configs {
		if cfg.AccountID == "" || len(cfg.Tenants) == 0 {
			return nil, fmt.Errorf("azure account config requires an account id and at least one tenant")
		}

		account := &Account{ID: cfg.AccountID, ProviderKind: "azure"}
		for _, tenant := range cfg.Tenants {
			cred, err := azidentity.NewClientSecretCredential(tenant, cfg.ClientID, cfg.ClientSecret, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to build credential for account %s tenant %s: %w", cfg.AccountID, tenant, err)
			}
			s.creds[credKey(cfg.AccountID, tenant)] = cred
			account.Tenants = append(account.Tenants, Tenant{ID: tenant})
		}
		s.accounts[cfg.AccountID] = account
		logger.Printf("Configured azure account %s (%d tenants)", cfg.AccountID, len(cfg.Tenants))
	}

	return s, nil
}

// GetAccountsForProvider returns the configured accounts for the kind.
func (s *AzureAccountService) GetAccountsForProvider(ctx context.Context, kind string) ([]*Account, error) {
	if kind != "azure" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		copied := *a
		out = append(out, &copied)
	}
	return out, nil
}

// RefreshAccount re-validates a stale account by acquiring a fresh token
// on its first tenant. A context cancellation maps to ErrRefreshCancelled.
func (s *AzureAccountService) RefreshAccount(ctx context.Context, account *Account) (*Account, error) {
	if len(account.Tenants) == 0 {
		return nil, fmt.Errorf("account %s has no tenants", account.ID)
	}

	s.mu.RLock()
	cred, ok := s.creds[credKey(account.ID, account.Tenants[0].ID)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no credential for account %s", account.ID)
	}

	_, err := cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{"https://management.azure.com/.default"},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrRefreshCancelled
		}
		return nil, fmt.Errorf("refresh failed for account %s: %w", account.ID, err)
	}

	refreshed := *account
	refreshed.Stale = false

	s.mu.Lock()
	s.accounts[account.ID] = &refreshed
	s.mu.Unlock()

	out := refreshed
	return &out, nil
}

// GetSecurityToken acquires a resource token for every tenant the account
// spans, keyed by tenant id. Tenants whose acquisition fails are skipped
// with a log line; the call errors only when no tenant yields a token and
// at least one failed.
func (s *AzureAccountService) GetSecurityToken(ctx context.Context, account *Account, resource string) (map[string]SecurityToken, error) {
	scope := resourceScope(resource)
	tokens := make(map[string]SecurityToken, len(account.Tenants))

	var lastErr error
	for _, tenant := range account.Tenants {
		s.mu.RLock()
		cred, ok := s.creds[credKey(account.ID, tenant.ID)]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
		if err != nil {
			s.logger.Printf("Token acquisition failed for account %s tenant %s: %v", account.ID, tenant.ID, err)
			lastErr = err
			continue
		}

		tokens[tenant.ID] = SecurityToken{
			Token:     tok.Token,
			TokenType: "Bearer",
			ExpiresOn: tok.ExpiresOn,
		}
	}

	if len(tokens) == 0 && lastErr != nil {
		return nil, fmt.Errorf("no tenant yielded a token for account %s: %w", account.ID, lastErr)
	}
	return tokens, nil
}

func credKey(accountID, tenantID string) string {
	return accountID + "/" + tenantID
}

// resourceScope converts a resource URI to the v2 scope form.
func resourceScope(resource string) string {
	return strings.TrimSuffix(resource, "/") + "/.default"
}
