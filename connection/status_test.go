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
	"testing"
	"time"

	"axonflow/workbench/providers"
)

func testProfile(id string) *Profile {
	return &Profile{
		ID: id, ProviderID: "postgres", Server: "s1", Database: "d1",
		User: "u1", AuthType: AuthPassword,
	}
}

func TestStatusManager_AddSessionStartsConnecting(t *testing.T) {
	m := NewStatusManager(nil)

	sess := m.AddSession("key1", testProfile("p1"))
	if sess == nil {
		t.Fatal("expected a session")
	}
	if !m.IsConnecting("key1") {
		t.Error("new session must report connecting")
	}
	if m.IsConnected("key1") {
		t.Error("new session must not report connected")
	}
}

func TestStatusManager_SessionProfileIsSnapshot(t *testing.T) {
	m := NewStatusManager(nil)
	p := testProfile("p1")

	sess := m.AddSession("key1", p)
	p.Server = "mutated"

	if sess.Profile.Server != "s1" {
		t.Error("session must hold a deep copy of the profile")
	}
}

func TestStatusManager_MarkConnected(t *testing.T) {
	m := NewStatusManager(nil)
	sess := m.AddSession("key1", testProfile("p1"))

	m.MarkConnected(sess, "conn-42", &providers.ServerInfo{ServerVersion: "16.1"})

	if !m.IsConnected("key1") {
		t.Error("expected connected after completion")
	}
	if m.IsConnecting("key1") {
		t.Error("expected connecting=false after completion")
	}
}

func TestStatusManager_RemoveSessionSetsTombstone(t *testing.T) {
	m := NewStatusManager(nil)
	sess := m.AddSession("key1", testProfile("p1"))

	m.RemoveSession("key1")

	if !sess.Deleted() {
		t.Error("removed session must carry the tombstone flag")
	}
	if _, ok := m.FindSession("key1"); ok {
		t.Error("removed session must leave the map")
	}

	// A late completion against the tombstoned object must not resurrect
	// the map entry.
	sess.finish(&providers.CompletionSummary{Key: "key1", ConnectionID: "late"})
	if _, ok := m.FindSession("key1"); ok {
		t.Error("late completion resurrected the map entry")
	}
	if m.IsConnected("key1") {
		t.Error("late completion must not mark the key connected")
	}
}

func TestStatusManager_AddSessionSupersedes(t *testing.T) {
	m := NewStatusManager(nil)

	first := m.AddSession("key1", testProfile("p1"))
	second := m.AddSession("key1", testProfile("p2"))

	if !first.Deleted() {
		t.Error("superseded session must be tombstoned")
	}

	// The replaced attempt's waiter resolves instead of hanging.
	select {
	case summary := <-first.Done():
		if summary.ErrorMessage == "" {
			t.Error("superseded completion should carry an error message")
		}
	case <-time.After(time.Second):
		t.Fatal("superseded session's waiter was never resolved")
	}

	got, ok := m.FindSession("key1")
	if !ok || got != second {
		t.Error("map must hold the newer session")
	}
}

func TestStatusManager_RekeyOnDatabaseChange(t *testing.T) {
	m := NewStatusManager(nil)
	p := testProfile("p1")
	p.Database = ""
	key := GenerateKey(p, PurposeConnection)

	sess := m.AddSession(key, p)
	m.MarkConnected(sess, "conn-1", nil)

	alias := m.RekeyOnDatabaseChange(sess, "postgres")
	if alias == key {
		t.Fatal("expected a distinct alias key")
	}

	aliased, ok := m.FindSession(alias)
	if !ok || aliased != sess {
		t.Error("alias key must reach the same session object")
	}
	if _, ok := m.FindSession(key); !ok {
		t.Error("original key must stay mapped")
	}
	if got := m.ResolveCanonicalKey(alias); got != key {
		t.Errorf("alias canonical = %q, want the original key %q", got, key)
	}
}

func TestStatusManager_RemoveSessionSweepsAliases(t *testing.T) {
	m := NewStatusManager(nil)
	p := testProfile("p1")
	p.Database = ""
	key := GenerateKey(p, PurposeConnection)

	sess := m.AddSession(key, p)
	m.MarkConnected(sess, "conn-1", nil)
	alias := m.RekeyOnDatabaseChange(sess, "postgres")

	m.RemoveSession(key)

	if m.IsConnected(alias) {
		t.Error("alias entry must be removed with the session")
	}
	if _, ok := m.FindSession(alias); ok {
		t.Error("alias key must leave the map")
	}
	if got := m.Count(); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}

	// Removal through the alias sweeps the original key too.
	sess2 := m.AddSession(key, testProfile("p2"))
	m.MarkConnected(sess2, "conn-2", nil)
	alias2 := m.RekeyOnDatabaseChange(sess2, "postgres")
	m.RemoveSession(alias2)
	if _, ok := m.FindSession(key); ok {
		t.Error("original key must leave the map on alias removal")
	}
}

func TestStatusManager_DispatchesMatchInOrder(t *testing.T) {
	m := NewStatusManager(nil)

	first := m.AddSession("key1", testProfile("p1"))
	m.BeginDispatch("key1", first)
	second := m.AddSession("key1", testProfile("p2"))
	m.BeginDispatch("key1", second)

	if got := m.CompleteDispatch("key1"); got != first {
		t.Error("oldest dispatch must complete first")
	}
	if got := m.CompleteDispatch("key1"); got != second {
		t.Error("remaining dispatch must complete next")
	}
	if got := m.CompleteDispatch("key1"); got != nil {
		t.Errorf("drained key returned %+v, want nil", got)
	}
}

func TestStatusManager_AbortDispatchWithdrawsOnlyItsEntry(t *testing.T) {
	m := NewStatusManager(nil)

	first := m.AddSession("key1", testProfile("p1"))
	m.BeginDispatch("key1", first)
	second := m.AddSession("key1", testProfile("p2"))
	m.BeginDispatch("key1", second)

	m.AbortDispatch("key1", second)

	if got := m.CompleteDispatch("key1"); got != first {
		t.Error("abort must leave the older dispatch queued")
	}
	if got := m.CompleteDispatch("key1"); got != nil {
		t.Error("aborted dispatch must not be handed back")
	}
}

func TestStatusManager_ResolveCanonicalKey(t *testing.T) {
	m := NewStatusManager(nil)
	sess := m.AddSession("owner-key", testProfile("p1"))

	if got := m.ResolveCanonicalKey("owner-key"); got != "owner-key" {
		t.Errorf("without a service key, canonical = %q, want owner-key", got)
	}

	sess.ServiceKey = "service-key"
	if got := m.ResolveCanonicalKey("owner-key"); got != "service-key" {
		t.Errorf("canonical = %q, want service-key", got)
	}

	if got := m.ResolveCanonicalKey("unknown"); got != "unknown" {
		t.Errorf("unknown keys pass through, got %q", got)
	}
}

func TestStatusManager_ListActiveProfilesDedupes(t *testing.T) {
	m := NewStatusManager(nil)

	// Two sessions sharing one profile identity under different keys.
	p := testProfile("shared")
	m.AddSession("key-editor", p)
	m.AddSession("key-dashboard", p)

	other := testProfile("other")
	other.ProviderID = "mysql"
	m.AddSession("key-other", other)

	all := m.ListActiveProfiles(nil)
	if len(all) != 2 {
		t.Fatalf("ListActiveProfiles() returned %d profiles, want 2", len(all))
	}

	onlyPG := m.ListActiveProfiles([]string{"postgres"})
	if len(onlyPG) != 1 || onlyPG[0].ID != "shared" {
		t.Errorf("provider filter returned %+v, want the shared postgres profile", onlyPG)
	}
}

func TestStatusManager_FindSessionByProfile(t *testing.T) {
	m := NewStatusManager(nil)
	p := testProfile("p1")
	p.Password = "hunter2"
	m.AddSession("key1", p)

	lookup := testProfile("p2") // same identifying fields, different identity
	sess, ok := m.FindSessionByProfile(lookup)
	if !ok {
		t.Fatal("expected to find a session with a matching profile")
	}
	if sess.Profile.Password != "hunter2" {
		t.Error("expected the live session's password to be visible for borrowing")
	}
}
