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

package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"axonflow/workbench/providers"
)

type captureNotifier struct {
	summaries chan *providers.CompletionSummary
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{summaries: make(chan *providers.CompletionSummary, 4)}
}

func (n *captureNotifier) OnConnectionComplete(summary *providers.CompletionSummary) {
	n.summaries <- summary
}

func (n *captureNotifier) OnConnectionChanged(key, serverName, databaseName, userName string) {}

func (n *captureNotifier) OnLanguageFlavorChanged(key, language, flavor string) {}

func (n *captureNotifier) wait(t *testing.T) *providers.CompletionSummary {
	t.Helper()
	select {
	case s := <-n.summaries:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

func TestProvider_ConnectCompletes(t *testing.T) {
	srv := miniredis.RunT(t)

	notifier := newCaptureNotifier()
	p := New(notifier)

	params := &providers.ConnectParams{Server: srv.Addr()}
	if err := p.Connect(context.Background(), "k1", params); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	summary := notifier.wait(t)
	if summary.ErrorMessage != "" {
		t.Fatalf("unexpected error: %s", summary.ErrorMessage)
	}
	if summary.ConnectionID == "" {
		t.Error("expected a connection id")
	}
	if summary.ResolvedDatabase != "0" {
		t.Errorf("expected resolved database 0, got %q", summary.ResolvedDatabase)
	}
}

func TestProvider_ConnectFailure(t *testing.T) {
	notifier := newCaptureNotifier()
	p := New(notifier)

	params := &providers.ConnectParams{Server: "127.0.0.1:1"}
	if err := p.Connect(context.Background(), "k1", params); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	summary := notifier.wait(t)
	if summary.ErrorMessage == "" {
		t.Fatal("expected a connection failure")
	}
	if summary.ConnectionID != "" {
		t.Error("failed attempt should not carry a connection id")
	}
}

func TestProvider_ChangeDatabase(t *testing.T) {
	srv := miniredis.RunT(t)

	notifier := newCaptureNotifier()
	p := New(notifier)

	if err := p.Connect(context.Background(), "k1", &providers.ConnectParams{Server: srv.Addr()}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	notifier.wait(t)

	ok, err := p.ChangeDatabase(context.Background(), "k1", "3")
	if err != nil || !ok {
		t.Fatalf("ChangeDatabase failed: ok=%v err=%v", ok, err)
	}

	cs, err := p.GetConnectionString(context.Background(), "k1", false)
	if err != nil {
		t.Fatalf("GetConnectionString failed: %v", err)
	}
	if !strings.HasSuffix(cs, "/3") {
		t.Errorf("expected connection string to target db 3, got %s", cs)
	}
}

func TestProvider_ChangeDatabaseRejectsNonNumeric(t *testing.T) {
	srv := miniredis.RunT(t)

	notifier := newCaptureNotifier()
	p := New(notifier)

	if err := p.Connect(context.Background(), "k1", &providers.ConnectParams{Server: srv.Addr()}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	notifier.wait(t)

	if ok, err := p.ChangeDatabase(context.Background(), "k1", "analytics"); err == nil || ok {
		t.Fatal("expected non-numeric database to be rejected")
	}
}

func TestProvider_DisconnectUnknownKey(t *testing.T) {
	p := New(newCaptureNotifier())
	ok, err := p.Disconnect(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if ok {
		t.Error("expected false for unknown key")
	}
}

func TestProvider_GetConnectionStringPasswordHandling(t *testing.T) {
	srv := miniredis.RunT(t)

	notifier := newCaptureNotifier()
	p := New(notifier)

	params := &providers.ConnectParams{Server: srv.Addr(), User: "app", Password: "s3cret"}
	// miniredis without requirepass ignores AUTH failures for empty config,
	// so connect against a password-protected instance instead.
	srv.RequireUserAuth("app", "s3cret")
	if err := p.Connect(context.Background(), "k1", params); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	summary := notifier.wait(t)
	if summary.ErrorMessage != "" {
		t.Fatalf("unexpected error: %s", summary.ErrorMessage)
	}

	redacted, err := p.GetConnectionString(context.Background(), "k1", false)
	if err != nil {
		t.Fatalf("GetConnectionString failed: %v", err)
	}
	if strings.Contains(redacted, "s3cret") {
		t.Errorf("redacted string leaked the password: %s", redacted)
	}

	full, err := p.GetConnectionString(context.Background(), "k1", true)
	if err != nil {
		t.Fatalf("GetConnectionString failed: %v", err)
	}
	if !strings.Contains(full, "s3cret") {
		t.Errorf("expected password in full string: %s", full)
	}
}

func TestBuildConnectionInfo(t *testing.T) {
	p := New(newCaptureNotifier())

	info, err := p.BuildConnectionInfo(context.Background(), "redis://app:pw@localhost:6379/2")
	if err != nil {
		t.Fatalf("BuildConnectionInfo failed: %v", err)
	}
	if info.Server != "localhost:6379" {
		t.Errorf("unexpected server: %s", info.Server)
	}
	if info.Database != "2" {
		t.Errorf("unexpected database: %s", info.Database)
	}
	if info.User != "app" {
		t.Errorf("unexpected user: %s", info.User)
	}

	if _, err := p.BuildConnectionInfo(context.Background(), "http://nope"); err == nil {
		t.Error("expected malformed connection string to be rejected")
	}
}

func TestParseVersion(t *testing.T) {
	info := "# Server\r\nredis_version:7.2.4\r\nredis_mode:standalone\r\n"
	if got := parseVersion(info); got != "7.2.4" {
		t.Errorf("parseVersion = %q, want 7.2.4", got)
	}
	if got := parseVersion("no version here"); got != "" {
		t.Errorf("parseVersion on junk = %q, want empty", got)
	}
}
