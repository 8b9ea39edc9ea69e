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

package providers

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Registry maps provider type identifiers to backend implementations.
// Capability metadata and the implementation register independently, in
// either order: requests issued before the implementation arrives queue on
// a readiness signal. Thread-safe for concurrent access.
type Registry struct {
	entries map[string]*registration
	mu      sync.RWMutex
	logger  *log.Logger
}

// registration tracks one provider id. ready is closed exactly once when
// the implementation lands, so any number of waiters can block on it.
type registration struct {
	capabilities *Capabilities
	provider     Provider
	ready        chan struct{}
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithLogger sets a custom logger for the registry.
func WithLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*registration),
		logger:  log.New(os.Stdout, "[PROVIDER_REGISTRY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterCapabilities publishes capability metadata for a provider id,
// creating a pending entry when none exists. Calling it twice for the same
// id replaces the metadata but keeps the readiness state.
func (r *Registry) RegisterCapabilities(id string, caps *Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		entry = &registration{ready: make(chan struct{})}
		r.entries[id] = entry
	}
	entry.capabilities = caps
	r.logger.Printf("Registered capabilities for provider '%s'", id)
}

// RegisterProvider attaches the implementation for a provider id and
// releases every caller waiting on Ready. If no capabilities were
// pre-registered the entry is created with nil metadata and a warning is
// logged; registration itself never fails.
func (r *Registry) RegisterProvider(id string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		r.logger.Printf("Warning: provider '%s' registered without capabilities", id)
		entry = &registration{ready: make(chan struct{})}
		r.entries[id] = entry
	}

	if entry.provider != nil {
		r.logger.Printf("Warning: provider '%s' registered twice, replacing implementation", id)
		entry.provider = provider
		return
	}

	entry.provider = provider
	close(entry.ready)
	r.logger.Printf("Registered provider '%s'", id)
}

// IsRegistered reports whether any entry (capabilities or implementation)
// exists for the provider id.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.entries[id]
	return exists
}

// Ready returns the provider implementation for id, blocking until it has
// registered. An id with no entry at all fails immediately rather than
// waiting forever: callers are expected to have seen its capabilities
// first, so an unknown id is a caller bug, not a slow registration.
func (r *Registry) Ready(ctx context.Context, id string) (Provider, error) {
	r.mu.RLock()
	entry, exists := r.entries[id]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("provider '%s' is not registered", id)
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for provider '%s': %w", id, ctx.Err())
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return entry.provider, nil
}

// Capabilities returns the published metadata for a provider id, which may
// be nil when the implementation registered without it.
func (r *Registry) Capabilities(id string) (*Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return nil, false
	}
	return entry.capabilities, true
}

// List returns all known provider ids, sorted for stable output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of known provider ids.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
