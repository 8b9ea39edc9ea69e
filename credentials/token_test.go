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
	"testing"

	"axonflow/workbench/connection"
)

// fakeAccounts implements AccountService for resolver tests.
type fakeAccounts struct {
	accounts   []*Account
	listErr    error
	refreshErr error
	tokens     map[string]SecurityToken
	tokenErr   error
	refreshed  int
}

func (f *fakeAccounts) GetAccountsForProvider(ctx context.Context, kind string) ([]*Account, error) {
	return f.accounts, f.listErr
}

func (f *fakeAccounts) RefreshAccount(ctx context.Context, account *Account) (*Account, error) {
	f.refreshed++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	out := *account
	out.Stale = false
	return &out, nil
}

func (f *fakeAccounts) GetSecurityToken(ctx context.Context, account *Account, resource string) (map[string]SecurityToken, error) {
	return f.tokens, f.tokenErr
}

func tokenProfile() *connection.Profile {
	return &connection.Profile{
		ProviderID: "postgres", Server: "s1", User: "u1",
		AuthType: connection.AuthAzureToken,
		Options: map[string]interface{}{
			connection.OptionAccountID: "acct-1",
			connection.OptionTenantID:  "tenant-a",
		},
	}
}

func TestResolver_NonTokenAuthPassesThrough(t *testing.T) {
	r := NewResolver(&fakeAccounts{})

	p := &connection.Profile{AuthType: connection.AuthPassword, Password: "x"}
	ok, err := r.EnsureCredentials(context.Background(), p)
	if err != nil || !ok {
		t.Errorf("EnsureCredentials() = %v, %v, want pass-through", ok, err)
	}
}

func TestResolver_EmbeddedTokenPassesThrough(t *testing.T) {
	r := NewResolver(&fakeAccounts{})

	p := tokenProfile()
	p.SetToken("already-there")
	ok, err := r.EnsureCredentials(context.Background(), p)
	if err != nil || !ok {
		t.Errorf("EnsureCredentials() = %v, %v, want pass-through", ok, err)
	}
}

func TestResolver_ExactTenantPreferred(t *testing.T) {
	accounts := &fakeAccounts{
		accounts: []*Account{{
			ID: "acct-1", ProviderKind: "azure",
			Tenants: []Tenant{{ID: "tenant-b"}, {ID: "tenant-a"}},
		}},
		tokens: map[string]SecurityToken{
			"tenant-a": {Token: "tok-a"},
			"tenant-b": {Token: "tok-b"},
		},
	}
	r := NewResolver(accounts)

	p := tokenProfile()
	ok, err := r.EnsureCredentials(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("EnsureCredentials() = %v, %v", ok, err)
	}
	if p.Options[connection.OptionAccessToken] != "tok-a" {
		t.Errorf("token = %v, want tenant-a's token", p.Options[connection.OptionAccessToken])
	}
	if p.Password != "" {
		t.Error("plaintext password must be cleared after token injection")
	}
}

func TestResolver_FallsBackToFirstTenantWithToken(t *testing.T) {
	accounts := &fakeAccounts{
		accounts: []*Account{{
			ID: "acct-1", ProviderKind: "azure",
			Tenants: []Tenant{{ID: "tenant-b"}, {ID: "tenant-c"}},
		}},
		tokens: map[string]SecurityToken{"tenant-c": {Token: "tok-c"}},
	}
	r := NewResolver(accounts)

	p := tokenProfile() // asks for tenant-a, which has no token
	ok, err := r.EnsureCredentials(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("EnsureCredentials() = %v, %v", ok, err)
	}
	if p.Options[connection.OptionAccessToken] != "tok-c" {
		t.Errorf("token = %v, want the fallback tenant's token", p.Options[connection.OptionAccessToken])
	}
}

func TestResolver_NoMatchingAccountIsSoftFailure(t *testing.T) {
	r := NewResolver(&fakeAccounts{})

	ok, err := r.EnsureCredentials(context.Background(), tokenProfile())
	if err != nil {
		t.Fatalf("expected soft failure, got error %v", err)
	}
	if ok {
		t.Error("expected ok=false with no cached account")
	}
}

func TestResolver_RefreshCancelledIsSoftFailure(t *testing.T) {
	accounts := &fakeAccounts{
		accounts: []*Account{{
			ID: "acct-1", ProviderKind: "azure", Stale: true,
			Tenants: []Tenant{{ID: "tenant-a"}},
		}},
		refreshErr: ErrRefreshCancelled,
	}
	r := NewResolver(accounts)

	ok, err := r.EnsureCredentials(context.Background(), tokenProfile())
	if err != nil {
		t.Fatalf("cancelled refresh must be soft, got error %v", err)
	}
	if ok {
		t.Error("expected ok=false after cancelled refresh")
	}
	if accounts.refreshed != 1 {
		t.Errorf("refresh invoked %d times, want 1", accounts.refreshed)
	}
}

func TestResolver_StaleAccountRefreshedBeforeTokenFetch(t *testing.T) {
	accounts := &fakeAccounts{
		accounts: []*Account{{
			ID: "acct-1", ProviderKind: "azure", Stale: true,
			Tenants: []Tenant{{ID: "tenant-a"}},
		}},
		tokens: map[string]SecurityToken{"tenant-a": {Token: "fresh"}},
	}
	r := NewResolver(accounts)

	ok, err := r.EnsureCredentials(context.Background(), tokenProfile())
	if err != nil || !ok {
		t.Fatalf("EnsureCredentials() = %v, %v", ok, err)
	}
	if accounts.refreshed != 1 {
		t.Errorf("refresh invoked %d times, want 1", accounts.refreshed)
	}
}

func TestResolver_NoTokenForAnyTenantIsSoftFailure(t *testing.T) {
	accounts := &fakeAccounts{
		accounts: []*Account{{
			ID: "acct-1", ProviderKind: "azure",
			Tenants: []Tenant{{ID: "tenant-a"}},
		}},
		tokens: map[string]SecurityToken{},
	}
	r := NewResolver(accounts)

	ok, err := r.EnsureCredentials(context.Background(), tokenProfile())
	if err != nil {
		t.Fatalf("expected soft failure, got error %v", err)
	}
	if ok {
		t.Error("expected ok=false with no tokens")
	}
}

func TestResolver_ServiceErrorPropagates(t *testing.T) {
	r := NewResolver(&fakeAccounts{listErr: errors.New("directory unreachable")})

	_, err := r.EnsureCredentials(context.Background(), tokenProfile())
	if err == nil {
		t.Fatal("infrastructure failure must propagate as an error")
	}
}
