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

package cassandra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

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

type fakeCluster struct {
	version   string
	keyspaces []string
	queryErr  error
	closed    bool
	stmts     []string
}

func (c *fakeCluster) QueryOne(ctx context.Context, stmt string, dest ...interface{}) error {
	c.stmts = append(c.stmts, stmt)
	if c.queryErr != nil {
		return c.queryErr
	}
	if len(dest) == 1 {
		if s, ok := dest[0].(*string); ok {
			*s = c.version
		}
	}
	return nil
}

func (c *fakeCluster) QueryStrings(ctx context.Context, stmt string) ([]string, error) {
	c.stmts = append(c.stmts, stmt)
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.keyspaces, nil
}

func (c *fakeCluster) Close() { c.closed = true }

func newTestProvider(fc *fakeCluster, dialErr error) (*Provider, *captureNotifier) {
	notifier := newCaptureNotifier()
	p := New(notifier)
	p.dial = func(params *providers.ConnectParams, keyspace string) (cluster, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return fc, nil
	}
	return p, notifier
}

func TestProvider_ConnectCompletes(t *testing.T) {
	fc := &fakeCluster{version: "4.1.3"}
	p, notifier := newTestProvider(fc, nil)

	params := &providers.ConnectParams{Server: "cass1:9042", Database: "metrics"}
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
	if summary.ServerInfo == nil || summary.ServerInfo.ServerVersion != "4.1.3" {
		t.Errorf("unexpected server info: %+v", summary.ServerInfo)
	}
	if summary.ResolvedDatabase != "metrics" {
		t.Errorf("expected keyspace metrics, got %q", summary.ResolvedDatabase)
	}
}

func TestProvider_ConnectDefaultsToSystemKeyspace(t *testing.T) {
	p, notifier := newTestProvider(&fakeCluster{version: "4.1.3"}, nil)

	p.Connect(context.Background(), "k1", &providers.ConnectParams{Server: "cass1:9042"})
	if got := notifier.wait(t).ResolvedDatabase; got != "system" {
		t.Errorf("expected system, got %q", got)
	}
}

func TestProvider_DialFailure(t *testing.T) {
	p, notifier := newTestProvider(nil, errors.New("no hosts available"))

	p.Connect(context.Background(), "k1", &providers.ConnectParams{Server: "cass1:9042"})
	summary := notifier.wait(t)
	if summary.ErrorMessage == "" {
		t.Fatal("expected a failure")
	}
	if summary.ConnectionID != "" {
		t.Error("failed attempt should not carry a connection id")
	}
}

func TestProvider_VersionQueryFailureClosesCluster(t *testing.T) {
	fc := &fakeCluster{queryErr: errors.New("unavailable")}
	p, notifier := newTestProvider(fc, nil)

	p.Connect(context.Background(), "k1", &providers.ConnectParams{Server: "cass1:9042"})
	if notifier.wait(t).ErrorMessage == "" {
		t.Fatal("expected a failure")
	}
	if !fc.closed {
		t.Error("expected the cluster to be closed")
	}
}

func TestProvider_ListDatabases(t *testing.T) {
	fc := &fakeCluster{keyspaces: []string{"system", "metrics", "app"}}
	p, notifier := newTestProvider(fc, nil)

	p.Connect(context.Background(), "k1", &providers.ConnectParams{Server: "cass1:9042"})
	notifier.wait(t)

	names, err := p.ListDatabases(context.Background(), "k1")
	if err != nil {
		t.Fatalf("ListDatabases failed: %v", err)
	}
	want := []string{"app", "metrics", "system"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("expected sorted %v, got %v", want, names)
		}
	}
}

func TestProvider_ChangeDatabaseReconnects(t *testing.T) {
	fc := &fakeCluster{version: "4.1.3"}
	p, notifier := newTestProvider(fc, nil)

	p.Connect(context.Background(), "k1", &providers.ConnectParams{Server: "cass1:9042", Database: "metrics"})
	notifier.wait(t)

	ok, err := p.ChangeDatabase(context.Background(), "k1", "app")
	if err != nil || !ok {
		t.Fatalf("ChangeDatabase failed: ok=%v err=%v", ok, err)
	}

	cs, err := p.GetConnectionString(context.Background(), "k1", false)
	if err != nil {
		t.Fatalf("GetConnectionString failed: %v", err)
	}
	if !strings.HasSuffix(cs, "/app") {
		t.Errorf("expected connection string to target keyspace app, got %s", cs)
	}
}

func TestProvider_GetConnectionStringPasswordHandling(t *testing.T) {
	fc := &fakeCluster{version: "4.1.3"}
	p, notifier := newTestProvider(fc, nil)

	p.Connect(context.Background(), "k1", &providers.ConnectParams{
		Server: "cass1:9042", User: "app", Password: "s3cret", Database: "metrics",
	})
	notifier.wait(t)

	redacted, _ := p.GetConnectionString(context.Background(), "k1", false)
	if strings.Contains(redacted, "s3cret") {
		t.Errorf("redacted string leaked the password: %s", redacted)
	}
	full, _ := p.GetConnectionString(context.Background(), "k1", true)
	if !strings.Contains(full, "s3cret") {
		t.Errorf("expected password in full string: %s", full)
	}
}

func TestBuildConnectionInfo(t *testing.T) {
	p := New(newCaptureNotifier())

	info, err := p.BuildConnectionInfo(context.Background(), "cassandra://app@cass1:9042/metrics")
	if err != nil {
		t.Fatalf("BuildConnectionInfo failed: %v", err)
	}
	if info.Server != "cass1:9042" || info.Database != "metrics" || info.User != "app" {
		t.Errorf("unexpected info: %+v", info)
	}

	if _, err := p.BuildConnectionInfo(context.Background(), "redis://nope"); err == nil {
		t.Error("expected non-cassandra scheme to be rejected")
	}
}

func TestHosts(t *testing.T) {
	got := hosts("cass1:9042, cass2:9042 ,cass3:9042")
	if len(got) != 3 || got[1] != "cass2:9042" {
		t.Errorf("unexpected hosts: %v", got)
	}
}
