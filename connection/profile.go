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

package connection

import (
	"github.com/google/uuid"
)

// AuthType identifies how a profile authenticates against its server.
type AuthType string

const (
	AuthPassword   AuthType = "password"
	AuthAzureToken AuthType = "azure_token"
	AuthIntegrated AuthType = "integrated"
)

// Option bag keys the core reads and writes. Everything else in the bag is
// provider-specific and passed through untouched.
const (
	OptionAccessToken = "azureAccountToken"
	OptionAccountID   = "azureAccount"
	OptionTenantID    = "azureTenantId"
	OptionGroupID     = "groupId"
)

// Profile describes one connection target. Identity (ID) is immutable once
// assigned; the option bag is mutable during enrichment (group injection,
// token injection).
type Profile struct {
	ID          string                 `json:"id"`
	ProviderID  string                 `json:"provider_id"`
	Server      string                 `json:"server"`
	Database    string                 `json:"database"`
	User        string                 `json:"user"`
	Password    string                 `json:"password,omitempty"`
	AuthType    AuthType               `json:"auth_type"`
	GroupID     string                 `json:"group_id,omitempty"`
	SaveProfile bool                   `json:"save_profile"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

// Group is a named container profiles can belong to.
type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	Color    string `json:"color,omitempty"`
}

// EnsureID assigns a generated identity if the profile has none yet.
func (p *Profile) EnsureID() {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
}

// Copy returns a deep copy of the profile, including the option bag.
func (p *Profile) Copy() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Options != nil {
		out.Options = make(map[string]interface{}, len(p.Options))
		for k, v := range p.Options {
			out.Options[k] = v
		}
	}
	return &out
}

// WithoutCredentials returns a copy with the password and any embedded
// access token removed. The receiver is never mutated: stored profiles keep
// their credentials for the active connection only.
func (p *Profile) WithoutCredentials() *Profile {
	out := p.Copy()
	out.Password = ""
	if out.Options != nil {
		delete(out.Options, OptionAccessToken)
	}
	return out
}

// Matches compares two profiles on identifying fields only. Transient
// material (password, injected token, group membership) is ignored, so a
// profile matches itself before and after credential enrichment.
func (p *Profile) Matches(other *Profile) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ProviderID == other.ProviderID &&
		p.Server == other.Server &&
		p.Database == other.Database &&
		p.User == other.User &&
		p.AuthType == other.AuthType
}

// HasToken reports whether an access token is already embedded in the
// option bag.
func (p *Profile) HasToken() bool {
	if p.Options == nil {
		return false
	}
	token, ok := p.Options[OptionAccessToken].(string)
	return ok && token != ""
}

// SetToken embeds an access token in the option bag and clears any
// plaintext password.
func (p *Profile) SetToken(token string) {
	if p.Options == nil {
		p.Options = make(map[string]interface{})
	}
	p.Options[OptionAccessToken] = token
	p.Password = ""
}

// AccountID returns the cloud account identifier from the option bag, if
// one was recorded when the profile was created.
func (p *Profile) AccountID() string {
	if p.Options == nil {
		return ""
	}
	id, _ := p.Options[OptionAccountID].(string)
	return id
}

// TenantID returns the tenant identifier from the option bag.
func (p *Profile) TenantID() string {
	if p.Options == nil {
		return ""
	}
	id, _ := p.Options[OptionTenantID].(string)
	return id
}
