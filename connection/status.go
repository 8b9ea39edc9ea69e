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
	"log"
	"os"
	"sync"
	"time"

	"axonflow/workbench/providers"
)

// Session is the live state of one connection attempt or established
// connection, keyed by session key in the StatusManager. The tombstone
// (deleted) flag on the object, not presence in the map, is what in-flight
// continuations check to detect they raced a removal.
type Session struct {
	Key          string
	ServiceKey   string // key the provider acknowledged, when it differs
	ProviderID   string
	Profile      *Profile
	Connecting   bool
	ConnectionID string
	ServerInfo   *providers.ServerInfo
	StartedAt    time.Time

	deleted  bool
	mu       sync.Mutex
	finished sync.Once
	done     chan *providers.CompletionSummary
}

// newSession snapshots the profile and arms the completion channel. The
// channel is buffered so a completion never blocks on an absent waiter.
func newSession(key string, p *Profile) *Session {
	return &Session{
		Key:        key,
		ProviderID: p.ProviderID,
		Profile:    p.Copy(),
		Connecting: true,
		StartedAt:  time.Now(),
		done:       make(chan *providers.CompletionSummary, 1),
	}
}

// finish resolves the session's waiter exactly once. Later calls are
// dropped, which is how late provider notifications for a superseded or
// cancelled attempt disappear.
func (s *Session) finish(summary *providers.CompletionSummary) {
	s.finished.Do(func() {
		s.done <- summary
	})
}

// Done exposes the completion channel for the connect call that created
// the session.
func (s *Session) Done() <-chan *providers.CompletionSummary {
	return s.done
}

// markDeleted sets the tombstone flag.
func (s *Session) markDeleted() {
	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()
}

// Deleted reports whether the session was tombstoned by a removal.
func (s *Session) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// Elapsed returns how long the session has existed.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}

// StatusManager is the in-memory source of truth for live sessions,
// keyed by session key. Thread-safe; every mutation is a single critical
// section so map state is never observed mid-update.
type StatusManager struct {
	sessions map[string]*Session
	// dispatches queues, per key and in dispatch order, the session
	// objects with a provider connect request still outstanding.
	// Completions are matched against this queue, never against the
	// current map occupant, so a late outcome for a superseded or
	// cancelled attempt cannot land on a newer session reusing the key.
	dispatches map[string][]*Session
	mu         sync.RWMutex
	logger     *log.Logger
}

// NewStatusManager creates an empty status manager.
func NewStatusManager(logger *log.Logger) *StatusManager {
	if logger == nil {
		logger = log.New(os.Stdout, "[CONNECTION_STATUS] ", log.LstdFlags)
	}
	return &StatusManager{
		sessions:   make(map[string]*Session),
		dispatches: make(map[string][]*Session),
		logger:     logger,
	}
}

// AddSession creates a connecting session for the key from a deep copy of
// the profile. A pre-existing entry for the key is superseded: it is
// tombstoned and its waiter resolved as a handled failure, then replaced.
// Last writer wins.
func (m *StatusManager) AddSession(key string, p *Profile) *Session {
	sess := newSession(key, p)

	m.mu.Lock()
	old, existed := m.sessions[key]
	m.sessions[key] = sess
	m.mu.Unlock()

	if existed {
		m.logger.Printf("Session for %s superseded by a newer attempt", key)
		old.markDeleted()
		old.finish(&providers.CompletionSummary{
			Key:          key,
			ErrorMessage: "superseded by a newer connection attempt",
		})
	}

	return sess
}

// BeginDispatch records that sess has a provider connect request in
// flight for its key. The entry stays queued until a completion consumes
// it, even if the session is removed in the meantime: the provider still
// owes one outcome for it.
func (m *StatusManager) BeginDispatch(key string, sess *Session) {
	m.mu.Lock()
	m.dispatches[key] = append(m.dispatches[key], sess)
	m.mu.Unlock()
}

// CompleteDispatch pops the oldest outstanding dispatch for key and
// returns the session that made it. Returns nil when nothing is in
// flight for the key.
func (m *StatusManager) CompleteDispatch(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.dispatches[key]
	if len(queue) == 0 {
		return nil
	}
	sess := queue[0]
	if len(queue) == 1 {
		delete(m.dispatches, key)
	} else {
		m.dispatches[key] = queue[1:]
	}
	return sess
}

// AbortDispatch withdraws a dispatch that will never complete because
// the provider rejected the request synchronously.
func (m *StatusManager) AbortDispatch(key string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queue := m.dispatches[key]
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i] == sess {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(m.dispatches, key)
	} else {
		m.dispatches[key] = queue
	}
}

// FindSession returns the session stored under key, if any.
func (m *StatusManager) FindSession(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[key]
	return sess, ok
}

// IsConnected reports whether the key holds a session that completed its
// connect (a connection id has been assigned).
func (m *StatusManager) IsConnected(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[key]
	return ok && sess.ConnectionID != ""
}

// IsConnecting reports whether the key holds a session whose connect is
// still in flight.
func (m *StatusManager) IsConnecting(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[key]
	return ok && sess.Connecting
}

// RemoveSession tombstones the session at key and deletes every map
// entry pointing at the same session object, alias keys included. The
// tombstone is set before deletion so a continuation holding the object
// can never observe "in map but deleted".
func (m *StatusManager) RemoveSession(key string) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		sess.markDeleted()
		for k, s := range m.sessions {
			if s == sess {
				delete(m.sessions, k)
			}
		}
	}
	m.mu.Unlock()

	if ok {
		m.logger.Printf("Removed session %s", key)
	}
}

// MarkConnected records a successful completion on the session.
func (m *StatusManager) MarkConnected(sess *Session, connectionID string, info *providers.ServerInfo) {
	m.mu.Lock()
	sess.Connecting = false
	sess.ConnectionID = connectionID
	sess.ServerInfo = info
	m.mu.Unlock()
}

// RekeyOnDatabaseChange aliases the session under the key it would have
// had with the resolved database name. The original key stays mapped, so
// both the pre-resolution "default database" key and the explicit key
// reach the same session object. The original key is the one the
// provider acknowledged, so it is recorded as the session's service key
// and alias lookups resolve back to it. No-op when the keys already
// agree.
func (m *StatusManager) RekeyOnDatabaseChange(sess *Session, database string) string {
	newKey := KeyWithDatabase(sess.Key, sess.Profile, database)
	if newKey == sess.Key {
		return sess.Key
	}

	m.mu.Lock()
	sess.ServiceKey = sess.Key
	m.sessions[newKey] = sess
	m.mu.Unlock()

	m.logger.Printf("Session %s aliased as %s (resolved database %q)", sess.Key, newKey, database)
	return newKey
}

// ResolveCanonicalKey maps a caller-facing key to the key the provider
// acknowledged at creation, when they differ. Later provider requests must
// use the provider's own key.
func (m *StatusManager) ResolveCanonicalKey(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[key]
	if !ok || sess.ServiceKey == "" || sess.ServiceKey == key {
		return key
	}
	return sess.ServiceKey
}

// ListActiveProfiles returns one profile per distinct profile identity
// across all live sessions, optionally restricted to a set of provider
// ids. Aliased keys pointing at one session, and multiple sessions opened
// from one saved profile, each count once.
func (m *StatusManager) ListActiveProfiles(providerFilter []string) []*Profile {
	allowed := map[string]bool{}
	for _, id := range providerFilter {
		allowed[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	profiles := make([]*Profile, 0, len(m.sessions))
	for _, sess := range m.sessions {
		p := sess.Profile
		if p == nil || p.ID == "" || seen[p.ID] {
			continue
		}
		if len(providerFilter) > 0 && !allowed[p.ProviderID] {
			continue
		}
		seen[p.ID] = true
		profiles = append(profiles, p.Copy())
	}
	return profiles
}

// Count returns the number of keys with live sessions, aliases included.
func (m *StatusManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// FindSessionByProfile returns any live session whose profile matches the
// given one on identifying fields. Used to borrow a password from an
// already-open connection to the same target.
func (m *StatusManager) FindSessionByProfile(p *Profile) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sess := range m.sessions {
		if sess.Profile.Matches(p) {
			return sess, true
		}
	}
	return nil, false
}
