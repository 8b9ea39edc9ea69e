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
	"log"
	"os"
	"time"

	"axonflow/workbench/connection"
)

// ErrRefreshCancelled is returned by AccountService.RefreshAccount when
// the user abandons an interactive refresh. Surfaces to callers as a soft
// failure, never as a rejected operation.
var ErrRefreshCancelled = errors.New("account refresh cancelled")

// Tenant is one directory tenant an account can mint tokens for.
type Tenant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Account is a cached cloud identity.
type Account struct {
	ID           string   `json:"id"`
	ProviderKind string   `json:"provider_kind"`
	Stale        bool     `json:"stale"`
	Tenants      []Tenant `json:"tenants"`
}

// SecurityToken is one tenant-scoped access token.
type SecurityToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresOn time.Time `json:"expires_on"`
}

// AccountService is the cloud identity collaborator the resolver consumes.
type AccountService interface {
	// GetAccountsForProvider lists cached accounts for an identity kind.
	GetAccountsForProvider(ctx context.Context, kind string) ([]*Account, error)

	// RefreshAccount re-validates a stale account. Returns
	// ErrRefreshCancelled when the user cancels.
	RefreshAccount(ctx context.Context, account *Account) (*Account, error)

	// GetSecurityToken returns tokens for the resource, keyed by tenant id.
	GetSecurityToken(ctx context.Context, account *Account, resource string) (map[string]SecurityToken, error)
}

// Resolver fills token credentials into profiles before connect attempts.
type Resolver struct {
	accounts AccountService
	kind     string
	resource string
	logger   *log.Logger
}

// ResolverOption configures the resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets a custom logger.
func WithResolverLogger(logger *log.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithResource overrides the token resource (audience).
func WithResource(resource string) ResolverOption {
	return func(r *Resolver) { r.resource = resource }
}

// NewResolver creates a token resolver over an account service.
func NewResolver(accounts AccountService, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		accounts: accounts,
		kind:     "azure",
		resource: "https://database.windows.net/",
		logger:   log.New(os.Stdout, "[TOKEN_RESOLVER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureCredentials injects an access token into the profile when its auth
// type needs one. Profiles that authenticate another way, or already carry
// a token, pass through untouched. ok=false means the connect cannot
// proceed: no matching account, refresh cancelled, or no token for any
// tenant. Only infrastructure failures return an error.
func (r *Resolver) EnsureCredentials(ctx context.Context, p *connection.Profile) (bool, error) {
	if p.AuthType != connection.AuthAzureToken || p.HasToken() {
		return true, nil
	}

	accounts, err := r.accounts.GetAccountsForProvider(ctx, r.kind)
	if err != nil {
		return false, err
	}

	account := findAccount(accounts, p.AccountID())
	if account == nil {
		r.logger.Printf("No cached %s account for profile %s@%s", r.kind, p.User, p.Server)
		return false, nil
	}

	if account.Stale {
		refreshed, err := r.accounts.RefreshAccount(ctx, account)
		if errors.Is(err, ErrRefreshCancelled) {
			r.logger.Printf("Refresh of account %s cancelled by user", account.ID)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		account = refreshed
	}

	tokens, err := r.accounts.GetSecurityToken(ctx, account, r.resource)
	if err != nil {
		return false, err
	}

	token, ok := r.pickToken(p, account, tokens)
	if !ok {
		r.logger.Printf("No token available for account %s on any tenant", account.ID)
		return false, nil
	}

	p.SetToken(token.Token)
	return true, nil
}

// pickToken prefers an exact tenant match. When the requested tenant has
// no token it falls back to the account's first tenant that does, logging
// a warning: the resulting connection may carry wrong-tenant credentials,
// so the fallback is visible in the logs rather than silent.
func (r *Resolver) pickToken(p *connection.Profile, account *Account, tokens map[string]SecurityToken) (SecurityToken, bool) {
	tenant := p.TenantID()
	if tenant != "" {
		if tok, ok := tokens[tenant]; ok && tok.Token != "" {
			return tok, true
		}
	}

	for _, t := range account.Tenants {
		if tok, ok := tokens[t.ID]; ok && tok.Token != "" {
			if tenant != "" {
				r.logger.Printf("Warning: no token for tenant %s, falling back to tenant %s", tenant, t.ID)
			}
			return tok, true
		}
	}
	return SecurityToken{}, false
}

func findAccount(accounts []*Account, id string) *Account {
	if len(accounts) == 0 {
		return nil
	}
	if id == "" {
		return accounts[0]
	}
	for _, a := range accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}
