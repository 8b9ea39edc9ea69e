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
	"fmt"
	"net/url"
	"strings"
)

// Purpose tags why a connection was opened. It participates in session key
// derivation so a dashboard and an editor against the same target hold
// distinct sessions.
type Purpose string

const (
	PurposeConnection Purpose = "connection"
	PurposeDashboard  Purpose = "dashboard"
	PurposeNotebook   Purpose = "notebook"
	PurposeInsights   Purpose = "insights"
)

// GenerateKey derives the session key for a profile and purpose. It is a
// pure function of the identifying fields: the same profile and purpose
// always yield the same key, and two profiles that Match yield the same key
// for the same purpose. Field values are escaped, so distinct targets never
// collide even when a value contains the separator characters.
func GenerateKey(p *Profile, purpose Purpose) string {
	if purpose == "" {
		purpose = PurposeConnection
	}
	return fmt.Sprintf("%s://provider=%s;server=%s;database=%s;user=%s",
		purpose, url.QueryEscape(p.ProviderID), url.QueryEscape(p.Server),
		url.QueryEscape(p.Database), url.QueryEscape(p.User))
}

// KeyWithDatabase derives the key the profile would have with an explicit
// database name, preserving the purpose encoded in the original key. Used
// to alias a "default database" session under its resolved name once the
// server reports it.
func KeyWithDatabase(key string, p *Profile, database string) string {
	resolved := p.Copy()
	resolved.Database = database
	return GenerateKey(resolved, purposeOf(key))
}

// IsDefaultDatabaseKey recognizes keys generated from a profile with no
// explicit database: the server will pick the login's default.
func IsDefaultDatabaseKey(key string) bool {
	return strings.Contains(key, ";database=;")
}

// purposeOf extracts the purpose tag a key was generated with, defaulting
// to PurposeConnection for malformed input.
func purposeOf(key string) Purpose {
	idx := strings.Index(key, "://")
	if idx <= 0 {
		return PurposeConnection
	}
	return Purpose(key[:idx])
}
