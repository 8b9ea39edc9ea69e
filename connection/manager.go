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
	"context"
	"log"
	"os"
	"sync"

	"axonflow/workbench/providers"
)

// Store is the persisted profile/credential collaborator (connection
// store + MRU). The core consumes it; persistence itself lives elsewhere.
type Store interface {
	// AddSavedPassword returns a copy of the profile with any saved
	// password filled in, and whether one was found.
	AddSavedPassword(ctx context.Context, p *Profile) (*Profile, bool, error)

	// IsPasswordRequired reports whether the profile's auth type needs a
	// password to connect.
	IsPasswordRequired(p *Profile) bool

	// SaveProfile persists the profile (without credentials).
	SaveProfile(ctx context.Context, p *Profile) error

	// AddRecentConnection records the profile in the MRU list.
	AddRecentConnection(ctx context.Context, p *Profile) error

	// GetGroupFromID resolves a connection group by id.
	GetGroupFromID(id string) (*Group, bool)
}

// TokenEnsurer resolves cloud credential material into a profile before a
// connect attempt.
type TokenEnsurer interface {
	// EnsureCredentials injects an access token when the profile's auth
	// type needs one. ok=false means the caller cannot proceed (no
	// account, refresh cancelled, no token for any tenant).
	EnsureCredentials(ctx context.Context, p *Profile) (ok bool, err error)
}

// FirewallHandler remediates firewall-blocked connect attempts.
type FirewallHandler interface {
	// CanHandle reports whether the backend error code indicates a
	// firewall rule problem this handler can fix.
	CanHandle(errorCode int) bool

	// Remediate attempts to create the missing rule. ok=true means the
	// connect attempt is worth retrying.
	Remediate(ctx context.Context, p *Profile, errorMessage string) (ok bool, err error)
}

// CredentialPrompter is the dialog-fallback collaborator: asked for a
// completed profile when credentials cannot be resolved silently.
type CredentialPrompter interface {
	// PromptCredentials returns a profile with credentials supplied by
	// the user, or ok=false if the prompt was dismissed.
	PromptCredentials(ctx context.Context, p *Profile) (*Profile, bool, error)
}

// ConnectOptions tune one connect call.
type ConnectOptions struct {
	// Purpose participates in key derivation when no key is supplied.
	Purpose Purpose

	// UseExistingConnection short-circuits to the canonical key when the
	// target is already connected under the derived key.
	UseExistingConnection bool

	// SaveTheConnection records the profile in the MRU on success.
	SaveTheConnection bool

	// ShowDialogOnError falls back to the credential prompter instead of
	// failing when no password or token can be resolved.
	ShowDialogOnError bool

	// ShowFirewallRuleOnError permits one firewall-remediation retry for
	// a provider-rejected attempt.
	ShowFirewallRuleOnError bool
}

// ConnectResult is the structured outcome of a connect call. Expected
// domain failures land here; only unknown providers and token acquisition
// failures surface as errors.
type ConnectResult struct {
	Connected    bool                  `json:"connected"`
	Key          string                `json:"key"`
	ConnectionID string                `json:"connection_id,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	ErrorCode    int                   `json:"error_code,omitempty"`
	ErrorHandled bool                  `json:"error_handled,omitempty"`
	ServerInfo   *providers.ServerInfo `json:"server_info,omitempty"`
}

// LanguageFlavorChange notifies listeners that the language service
// flavor for an editor changed.
type LanguageFlavorChange struct {
	Key      string `json:"key"`
	Language string `json:"language"`
	Flavor   string `json:"flavor"`
}

// Manager orchestrates the end-to-end connect/disconnect/cancel protocol.
// It owns the status manager, consults the provider registry for every
// outbound request, and implements providers.Notifier for the results that
// arrive out-of-band. Thread-safe.
type Manager struct {
	registry *providers.Registry
	statuses *StatusManager
	store    Store
	tokens   TokenEnsurer
	firewall FirewallHandler
	prompter CredentialPrompter
	logger   *log.Logger

	handlerMu       sync.RWMutex
	connectHandlers []func(key string)
	disconnHandlers []func(key string)
	changedHandlers []func(key string)
	flavorHandlers  []func(change LanguageFlavorChange)
}

// ManagerOption configures the manager during creation.
type ManagerOption func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithStore sets the persisted profile/credential store.
func WithStore(store Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithTokenEnsurer sets the cloud token resolver.
func WithTokenEnsurer(t TokenEnsurer) ManagerOption {
	return func(m *Manager) { m.tokens = t }
}

// WithFirewallHandler sets the firewall remediation collaborator.
func WithFirewallHandler(f FirewallHandler) ManagerOption {
	return func(m *Manager) { m.firewall = f }
}

// WithCredentialPrompter sets the dialog-fallback collaborator.
func WithCredentialPrompter(p CredentialPrompter) ManagerOption {
	return func(m *Manager) { m.prompter = p }
}

// NewManager creates a connection manager over a provider registry.
func NewManager(registry *providers.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		logger:   log.New(os.Stdout, "[CONNECTION_MANAGER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.statuses = NewStatusManager(m.logger)
	return m
}

// Statuses exposes the session status manager.
func (m *Manager) Statuses() *StatusManager {
	return m.statuses
}

// Connect runs one connect attempt for the profile. When key is empty it
// is derived from the profile and options.Purpose. The returned result is
// structured: a failed connect is not an error. Errors are reserved for
// unknown providers and hard token-acquisition failures.
func (m *Manager) Connect(ctx context.Context, p *Profile, key string, opts ConnectOptions) (*ConnectResult, error) {
	p.EnsureID()
	if key == "" {
		key = GenerateKey(p, opts.Purpose)
	}

	if opts.UseExistingConnection && m.statuses.IsConnected(key) {
		canonical := m.statuses.ResolveCanonicalKey(key)
		sess, _ := m.statuses.FindSession(key)
		res := &ConnectResult{Connected: true, Key: canonical}
		if sess != nil {
			res.ConnectionID = sess.ConnectionID
			res.ServerInfo = sess.ServerInfo
		}
		return res, nil
	}

	resolved, result, err := m.resolvePassword(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	if result != nil {
		result.Key = key
		return result, nil
	}
	p = resolved

	if m.tokens != nil {
		ok, err := m.tokens.EnsureCredentials(ctx, p)
		if err != nil {
			return nil, &LifecycleError{
				Key: key, Provider: p.ProviderID, Code: ErrCodeTokenAcquisition,
				Message: "failed to resolve access token", Cause: err,
			}
		}
		if !ok {
			return nil, &LifecycleError{
				Key: key, Provider: p.ProviderID, Code: ErrCodeTokenAcquisition,
				Message: "no access token available for profile",
			}
		}
	}

	return m.attempt(ctx, p, key, opts)
}

// resolvePassword loads or borrows a saved password. It returns either an
// enriched profile to proceed with, or a terminal ConnectResult when
// credentials cannot be resolved and the prompt is unavailable/dismissed.
func (m *Manager) resolvePassword(ctx context.Context, p *Profile, opts ConnectOptions) (*Profile, *ConnectResult, error) {
	if m.store != nil {
		enriched, found, err := m.store.AddSavedPassword(ctx, p)
		if err != nil {
			m.logger.Printf("Saved password lookup failed for %s@%s: %v", p.User, p.Server, err)
		} else if found {
			p = enriched
		}
	}

	required := p.AuthType == AuthPassword && p.Password == ""
	if required && m.store != nil {
		required = m.store.IsPasswordRequired(p)
	}

	if required {
		// Borrow from any live session against the same target.
		if sess, ok := m.statuses.FindSessionByProfile(p); ok && sess.Profile.Password != "" {
			p = p.Copy()
			p.Password = sess.Profile.Password
			required = false
		}
	}

	if !required {
		return p, nil, nil
	}

	if opts.ShowDialogOnError && m.prompter != nil {
		completed, ok, err := m.prompter.PromptCredentials(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return completed, nil, nil
		}
		return nil, &ConnectResult{Connected: false, ErrorHandled: true, ErrorMessage: "connection prompt dismissed"}, nil
	}

	return nil, &ConnectResult{Connected: false, ErrorMessage: "connection not accepted: no credentials available"}, nil
}

// attempt creates the session, dispatches the provider request, and waits
// for the out-of-band completion. Retries once through the firewall path
// when permitted.
func (m *Manager) attempt(ctx context.Context, p *Profile, key string, opts ConnectOptions) (*ConnectResult, error) {
	if !m.registry.IsRegistered(p.ProviderID) {
		return nil, &LifecycleError{
			Key: key, Provider: p.ProviderID, Code: ErrCodeUnknownProvider,
			Message: "no provider registered for profile",
		}
	}

	sess := m.statuses.AddSession(key, p)

	provider, err := m.registry.Ready(ctx, p.ProviderID)
	if err != nil {
		m.statuses.RemoveSession(key)
		return nil, &LifecycleError{
			Key: key, Provider: p.ProviderID, Code: ErrCodeUnknownProvider,
			Message: "provider did not become ready", Cause: err,
		}
	}

	m.statuses.BeginDispatch(key, sess)
	if err := provider.Connect(ctx, key, connectParams(p)); err != nil {
		m.statuses.AbortDispatch(key, sess)
		m.statuses.RemoveSession(key)
		return &ConnectResult{Connected: false, Key: key, ErrorMessage: err.Error()}, nil
	}

	var summary *providers.CompletionSummary
	select {
	case summary = <-sess.Done():
	case <-ctx.Done():
		// Caller-supplied deadline or cancellation: tear down optimistically.
		m.teardownPending(key, sess, provider)
		return nil, ctx.Err()
	}

	if sess.Deleted() {
		// Raced a cancel/disconnect or was superseded by a newer attempt.
		return &ConnectResult{Connected: false, Key: key, ErrorHandled: true}, nil
	}

	if summary.ErrorMessage != "" {
		result := &ConnectResult{
			Connected:    false,
			Key:          key,
			ErrorMessage: summary.ErrorMessage,
			ErrorCode:    summary.ErrorCode,
		}

		if opts.ShowFirewallRuleOnError && m.firewall != nil && summary.ErrorCode != 0 && m.firewall.CanHandle(summary.ErrorCode) {
			handled, ferr := m.firewall.Remediate(ctx, p, summary.ErrorMessage)
			if ferr != nil {
				m.logger.Printf("Firewall remediation for %s failed: %v", key, ferr)
			} else if handled {
				retry := opts
				retry.ShowFirewallRuleOnError = false
				return m.attempt(ctx, p, key, retry)
			}
		}

		return result, nil
	}

	canonical := m.statuses.ResolveCanonicalKey(key)
	if opts.SaveTheConnection && m.store != nil {
		if err := m.store.AddRecentConnection(ctx, p.WithoutCredentials()); err != nil {
			m.logger.Printf("Failed to record recent connection for %s: %v", key, err)
		}
		if p.SaveProfile {
			if err := m.store.SaveProfile(ctx, p.WithoutCredentials()); err != nil {
				m.logger.Printf("Failed to save profile for %s: %v", key, err)
			}
		}
	}

	m.fireConnect(key)

	return &ConnectResult{
		Connected:    true,
		Key:          canonical,
		ConnectionID: summary.ConnectionID,
		ServerInfo:   summary.ServerInfo,
	}, nil
}

// teardownPending removes a still-pending session and fires a best-effort
// cancel at the provider.
func (m *Manager) teardownPending(key string, sess *Session, provider providers.Provider) {
	m.statuses.RemoveSession(key)
	sess.finish(&providers.CompletionSummary{Key: key, ErrorMessage: "connection cancelled"})
	go func() {
		if _, err := provider.CancelConnect(context.Background(), key); err != nil {
			m.logger.Printf("Best-effort cancel for %s returned error: %v", key, err)
		}
	}()
}

// OnConnectionComplete receives a provider's out-of-band connect outcome.
// The outcome is matched to the attempt that dispatched the request, in
// dispatch order, never to the current occupant of the key: after a
// supersede or a cancel the stale attempt's late outcome resolves only
// its own tombstoned session. Completions with no dispatch outstanding
// are dropped.
func (m *Manager) OnConnectionComplete(summary *providers.CompletionSummary) {
	sess := m.statuses.CompleteDispatch(summary.Key)
	if sess == nil {
		m.logger.Printf("Dropping completion for %s: no attempt in flight", summary.Key)
		return
	}

	if sess.Deleted() {
		// The attempt was torn down while the provider was still working.
		// Resolve the waiter but leave the map alone.
		sess.finish(summary)
		return
	}

	if summary.ErrorMessage != "" {
		m.statuses.RemoveSession(summary.Key)
		sess.finish(summary)
		return
	}

	m.statuses.MarkConnected(sess, summary.ConnectionID, summary.ServerInfo)

	if summary.ResolvedDatabase != "" && summary.ResolvedDatabase != sess.Profile.Database {
		m.statuses.RekeyOnDatabaseChange(sess, summary.ResolvedDatabase)
		sess.Profile.Database = summary.ResolvedDatabase
	}

	sess.finish(summary)
}

// OnConnectionChanged receives a provider notification that the target of
// a live session moved (server failover, database switch, user change).
func (m *Manager) OnConnectionChanged(key, serverName, databaseName, userName string) {
	sess, ok := m.statuses.FindSession(key)
	if !ok {
		return
	}
	if serverName != "" {
		sess.Profile.Server = serverName
	}
	if databaseName != "" {
		sess.Profile.Database = databaseName
	}
	if userName != "" {
		sess.Profile.User = userName
	}
	m.fireChanged(key)
}

// OnLanguageFlavorChanged fans a provider's language-flavor notification
// out to listeners.
func (m *Manager) OnLanguageFlavorChanged(key, language, flavor string) {
	m.handlerMu.RLock()
	handlers := append([]func(LanguageFlavorChange){}, m.flavorHandlers...)
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(LanguageFlavorChange{Key: key, Language: language, Flavor: flavor})
	}
}

// Disconnect tears down the connection for key. Idempotent: a key with no
// connected session succeeds without side effects.
func (m *Manager) Disconnect(ctx context.Context, key string) (bool, error) {
	if !m.statuses.IsConnected(key) {
		return true, nil
	}

	canonical := m.statuses.ResolveCanonicalKey(key)
	sess, _ := m.statuses.FindSession(key)

	provider, err := m.providerFor(ctx, key, sess.ProviderID)
	if err != nil {
		return false, err
	}

	ok, err := provider.Disconnect(ctx, canonical)
	if err != nil {
		return false, &LifecycleError{
			Key: key, Provider: sess.ProviderID, Code: ErrCodeProviderCall,
			Message: "disconnect failed", Cause: err,
		}
	}
	if ok {
		// Removes the alias entries along with the key itself.
		m.statuses.RemoveSession(key)
		m.fireDisconnect(key)
	}
	return ok, nil
}

// CancelConnection abandons an in-flight connect attempt. Local state is
// removed immediately; the provider's cancellation is best-effort and any
// late outcome is discarded. Only valid while the key is connecting.
func (m *Manager) CancelConnection(ctx context.Context, key string) (bool, error) {
	if !m.statuses.IsConnecting(key) {
		return false, &LifecycleError{
			Key: key, Code: ErrCodeNotConnecting,
			Message: "no connection attempt in flight",
		}
	}

	sess, ok := m.statuses.FindSession(key)
	if !ok {
		return false, &LifecycleError{Key: key, Code: ErrCodeNotConnecting, Message: "no connection attempt in flight"}
	}

	m.statuses.RemoveSession(key)
	sess.finish(&providers.CompletionSummary{Key: key, ErrorMessage: "connection cancelled"})

	if provider, err := m.providerFor(ctx, key, sess.ProviderID); err == nil {
		go func() {
			if _, err := provider.CancelConnect(context.Background(), key); err != nil {
				m.logger.Printf("Provider cancel for %s returned error: %v", key, err)
			}
		}()
	}

	return true, nil
}

// ChangeDatabase switches the active database for a connected session.
// The session key is unchanged; only the in-memory profile moves.
func (m *Manager) ChangeDatabase(ctx context.Context, key, database string) (bool, error) {
	if !m.statuses.IsConnected(key) {
		return false, &LifecycleError{Key: key, Code: ErrCodeNotConnected, Message: "not connected"}
	}

	canonical := m.statuses.ResolveCanonicalKey(key)
	sess, _ := m.statuses.FindSession(key)

	provider, err := m.providerFor(ctx, key, sess.ProviderID)
	if err != nil {
		return false, err
	}

	ok, err := provider.ChangeDatabase(ctx, canonical, database)
	if err != nil {
		return false, &LifecycleError{
			Key: key, Provider: sess.ProviderID, Code: ErrCodeProviderCall,
			Message: "change database failed", Cause: err,
		}
	}
	if ok {
		sess.Profile.Database = database
	}
	return ok, nil
}

// ListDatabases enumerates databases for a connected session.
func (m *Manager) ListDatabases(ctx context.Context, key string) ([]string, error) {
	sess, ok := m.statuses.FindSession(key)
	if !ok {
		return nil, &LifecycleError{Key: key, Code: ErrCodeNotConnected, Message: "not connected"}
	}
	provider, err := m.providerFor(ctx, key, sess.ProviderID)
	if err != nil {
		return nil, err
	}
	return provider.ListDatabases(ctx, m.statuses.ResolveCanonicalKey(key))
}

// GetConnectionString renders the connection string for a live session.
func (m *Manager) GetConnectionString(ctx context.Context, key string, includePassword bool) (string, error) {
	sess, ok := m.statuses.FindSession(key)
	if !ok {
		return "", &LifecycleError{Key: key, Code: ErrCodeNotConnected, Message: "not connected"}
	}
	provider, err := m.providerFor(ctx, key, sess.ProviderID)
	if err != nil {
		return "", err
	}
	return provider.GetConnectionString(ctx, m.statuses.ResolveCanonicalKey(key), includePassword)
}

// RebuildIntelliSenseCache asks the provider to refresh completion
// metadata for a live session.
func (m *Manager) RebuildIntelliSenseCache(ctx context.Context, key string) error {
	sess, ok := m.statuses.FindSession(key)
	if !ok {
		return &LifecycleError{Key: key, Code: ErrCodeNotConnected, Message: "not connected"}
	}
	provider, err := m.providerFor(ctx, key, sess.ProviderID)
	if err != nil {
		return err
	}
	return provider.RebuildIntelliSenseCache(ctx, m.statuses.ResolveCanonicalKey(key))
}

// BuildConnectionInfo parses a connection string with the named provider.
func (m *Manager) BuildConnectionInfo(ctx context.Context, providerID, connectionString string) (*providers.ConnectionInfo, error) {
	provider, err := m.providerFor(ctx, "", providerID)
	if err != nil {
		return nil, err
	}
	return provider.BuildConnectionInfo(ctx, connectionString)
}

// GetActiveConnectionProfiles returns one profile per distinct identity
// across all live sessions.
func (m *Manager) GetActiveConnectionProfiles(providerFilter []string) []*Profile {
	return m.statuses.ListActiveProfiles(providerFilter)
}

// providerFor resolves the ready provider for an id, failing fast on an
// unregistered id.
func (m *Manager) providerFor(ctx context.Context, key, providerID string) (providers.Provider, error) {
	if !m.registry.IsRegistered(providerID) {
		return nil, &LifecycleError{
			Key: key, Provider: providerID, Code: ErrCodeUnknownProvider,
			Message: "no provider registered",
		}
	}
	return m.registry.Ready(ctx, providerID)
}

// HandleConnect registers a listener for successful connects.
func (m *Manager) HandleConnect(h func(key string)) {
	m.handlerMu.Lock()
	m.connectHandlers = append(m.connectHandlers, h)
	m.handlerMu.Unlock()
}

// HandleDisconnect registers a listener for disconnects.
func (m *Manager) HandleDisconnect(h func(key string)) {
	m.handlerMu.Lock()
	m.disconnHandlers = append(m.disconnHandlers, h)
	m.handlerMu.Unlock()
}

// HandleConnectionChanged registers a listener for target changes.
func (m *Manager) HandleConnectionChanged(h func(key string)) {
	m.handlerMu.Lock()
	m.changedHandlers = append(m.changedHandlers, h)
	m.handlerMu.Unlock()
}

// HandleLanguageFlavorChanged registers a listener for flavor changes.
func (m *Manager) HandleLanguageFlavorChanged(h func(change LanguageFlavorChange)) {
	m.handlerMu.Lock()
	m.flavorHandlers = append(m.flavorHandlers, h)
	m.handlerMu.Unlock()
}

func (m *Manager) fireConnect(key string) {
	m.handlerMu.RLock()
	handlers := append([]func(string){}, m.connectHandlers...)
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(key)
	}
}

func (m *Manager) fireDisconnect(key string) {
	m.handlerMu.RLock()
	handlers := append([]func(string){}, m.disconnHandlers...)
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(key)
	}
}

func (m *Manager) fireChanged(key string) {
	m.handlerMu.RLock()
	handlers := append([]func(string){}, m.changedHandlers...)
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(key)
	}
}

// connectParams flattens a profile into the option bag a provider consumes.
func connectParams(p *Profile) *providers.ConnectParams {
	params := &providers.ConnectParams{
		Server:   p.Server,
		Database: p.Database,
		User:     p.User,
		Password: p.Password,
		AuthType: string(p.AuthType),
	}
	if p.Options != nil {
		params.Options = make(map[string]interface{}, len(p.Options))
		for k, v := range p.Options {
			params.Options[k] = v
		}
	}
	return params
}
