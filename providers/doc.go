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

/*
Package providers defines the backend driver contract for the AxonFlow
workbench and the registry that maps provider type identifiers to driver
implementations.

# Overview

A Provider is a pluggable driver for one database engine (postgres, mysql,
mongodb, redis, cassandra). Connection attempts are asynchronous: Connect
acknowledges the request and the real outcome arrives later through the
Notifier the driver was constructed with. Everything else (disconnect,
cancel, database listing, connection-string rendering) is synchronous.

# Registration

Capability metadata and the implementation register independently, in either
order:

	registry := NewRegistry()
	registry.RegisterCapabilities("postgres", &Capabilities{
	    ProviderType:       "postgres",
	    DisplayName:        "PostgreSQL",
	    SupportedAuthTypes: []string{"password"},
	})

	// possibly much later, when the driver finishes loading
	registry.RegisterProvider("postgres", postgres.New(notifier))

Requests issued between the two calls block on a readiness signal:

	provider, err := registry.Ready(ctx, "postgres")

Ready is safe to await from any number of goroutines. An id nothing has
registered under fails immediately instead of waiting forever.

# Completion Notifications

Drivers report connect outcomes by calling Notifier.OnConnectionComplete
with a CompletionSummary. A summary with an empty ErrorMessage is a
success and carries the connection id, server info, and the database the
server actually resolved (which may differ from the one requested when the
profile left it blank).

# Thread Safety

The Registry and all Provider implementations in subpackages are safe for
concurrent use.
*/
package providers
