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
Package connection implements the connection lifecycle core of the AxonFlow
workbench: profiles, session keys, live session tracking, and the manager
that orchestrates connect/disconnect/cancel against pluggable providers.

# Overview

A caller supplies a Profile plus options. The Manager resolves credentials
(saved password, borrowed password from a live session against the same
target, or a cloud token via the TokenEnsurer), creates a Session in the
StatusManager, dispatches the connect to the provider, and waits for the
out-of-band completion notification the provider delivers through the
providers.Notifier interface the Manager implements.

	mgr := connection.NewManager(registry,
	    connection.WithStore(store),
	    connection.WithTokenEnsurer(resolver),
	    connection.WithFirewallHandler(firewall),
	)

	result, err := mgr.Connect(ctx, profile, "", connection.ConnectOptions{
	    SaveTheConnection:       true,
	    ShowFirewallRuleOnError: true,
	})

# Session Keys

Sessions are keyed by a string derived deterministically from identifying
profile fields plus a purpose tag (connection, dashboard, notebook,
insights). Two profiles that Match yield the same key for the same purpose.
When a profile leaves the database blank, the server resolves a default;
the session is then aliased under the explicit-database key as well, with
both keys reaching the same session object. Provider requests made through
the alias carry the original key, which is the one the provider
acknowledged, and removal sweeps alias entries along with the original.

# Races

All operations are safe for concurrent use, but interleavings are real:
a disconnect or cancel can land while a connect for the same key is still
pending. The tombstone flag on the Session object (not presence in the
map) is what in-flight continuations check. A newer connect for a key a
pending attempt already holds supersedes it: the older attempt resolves
with connected=false, errorHandled=true instead of hanging.

Cancellation is optimistic. Local state goes away immediately; the
provider's own cancellation is best-effort. Completions are paired with
the attempt that dispatched the request, in dispatch order per key, so a
late outcome for a removed or superseded attempt is dropped instead of
landing on whatever session currently holds the key.

# Failure Semantics

Expected domain failures (missing credentials, provider-rejected connects)
resolve as structured ConnectResults. Unknown providers and hard token
acquisition failures reject with a LifecycleError. A provider-rejected
attempt whose error code the FirewallHandler recognizes is retried exactly
once after successful remediation.
*/
package connection
