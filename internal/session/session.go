// Package session resolves who this client is: the session token, the
// display name and the nation it has claimed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/credstore"
	"github.com/missileglobe/globe-client/internal/dispatcher"
	"github.com/missileglobe/globe-client/internal/nation"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

var (
	// ErrIdentityResolution means a stored identity could not be restored.
	// Callers fall back to manual nation selection.
	ErrIdentityResolution = errors.New("identity resolution failed")
	ErrNationTaken        = errors.New("nation already taken")
	ErrAlreadyClaimed     = errors.New("nation already claimed")
	// ErrClaimUnconfirmed means the server never assigned bases for a
	// pending claim.
	ErrClaimUnconfirmed = errors.New("nation claim not confirmed")
)

// Identity is who this client is on the server.
type Identity struct {
	SessionToken  string `json:"sessionToken"`
	DisplayName   string `json:"displayName"`
	ClaimedNation string `json:"claimedNation,omitempty"`
}

// Claimed reports whether a nation claim has been confirmed.
func (i Identity) Claimed() bool { return i.ClaimedNation != "" }

// Handshaker opens the handshake phase of the connection.
type Handshaker interface {
	Handshake(ctx context.Context, listeners connection.Listeners) (*connection.Subscription, error)
	Emit(event string, payload any) error
}

// SessionSource hands out new session tokens.
type SessionSource interface {
	Session(ctx context.Context) (string, error)
}

// CredentialStore persists credentials between runs.
type CredentialStore interface {
	Load() (credstore.Credentials, bool, error)
	Save(c credstore.Credentials) error
	Clear() error
}

// Config configures a Manager.
type Config struct {
	ServerURL        string
	HandshakeTimeout time.Duration
}

type whoamiResult struct {
	name string
	err  error
}

// Manager owns the identity lifecycle.
type Manager struct {
	cfg     Config
	conn    Handshaker
	source  SessionSource
	creds   CredentialStore
	catalog *nation.Catalog
	store   *store.Store
	logger  *slog.Logger

	rosterOnce sync.Once
	rosterSeen chan struct{}

	mu        sync.Mutex
	identity  Identity
	pending   string
	confirmed chan struct{}
	whoami    chan whoamiResult
}

// NewManager creates a manager without an identity.
func NewManager(cfg Config, conn Handshaker, source SessionSource, creds CredentialStore, catalog *nation.Catalog, st *store.Store, logger *slog.Logger) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		conn:    conn,
		source:  source,
		creds:   creds,
		catalog: catalog,
		store:   st,
		logger:  logger.With("component", "session"),

		rosterSeen: make(chan struct{}),
		confirmed:  make(chan struct{}),
	}
}

// Identity returns the current identity.
func (m *Manager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// PendingClaim returns the nation selected but not yet confirmed.
func (m *Manager) PendingClaim() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// ResolveIdentity opens the handshake and, when a token was persisted for
// this server, asks the server who it belongs to. Any failure leaves an
// identity without a claim and an error wrapping ErrIdentityResolution.
func (m *Manager) ResolveIdentity(ctx context.Context) (Identity, error) {
	results := make(chan whoamiResult, 1)
	m.mu.Lock()
	m.whoami = results
	m.mu.Unlock()

	if _, err := m.conn.Handshake(ctx, m.handshakeListeners()); err != nil {
		return m.Identity(), fmt.Errorf("%w: %v", ErrIdentityResolution, err)
	}

	creds, ok, err := m.creds.Load()
	if err != nil {
		m.logger.Warn("Failed to load credentials", "error", err)
		return m.Identity(), nil
	}
	if !ok {
		m.logger.Info("No stored session, manual selection required")
		return m.Identity(), nil
	}
	if creds.ServerURL != "" && creds.ServerURL != m.cfg.ServerURL {
		m.logger.Info("Stored session belongs to another server", "stored", creds.ServerURL, "server", m.cfg.ServerURL)
		return m.Identity(), nil
	}

	if err := m.conn.Emit(protocol.EventWhoami, creds.SessionToken); err != nil {
		return m.Identity(), fmt.Errorf("%w: %v", ErrIdentityResolution, err)
	}

	timer := time.NewTimer(m.cfg.HandshakeTimeout)
	defer timer.Stop()

	var res whoamiResult
	select {
	case res = <-results:
	case <-timer.C:
		res.err = fmt.Errorf("no whoami answer after %s", m.cfg.HandshakeTimeout)
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		m.logger.Info("Stored session not recognized, manual selection required", "error", res.err)
		return m.Identity(), fmt.Errorf("%w: %v", ErrIdentityResolution, res.err)
	}

	m.mu.Lock()
	m.identity = Identity{SessionToken: creds.SessionToken, DisplayName: res.name, ClaimedNation: res.name}
	m.pending = ""
	id := m.identity
	m.mu.Unlock()

	m.store.SetLocalSession(id.SessionToken)
	m.store.SetClaimedNation(id.ClaimedNation)
	m.logger.Info("Identity restored", "nation", id.ClaimedNation)
	return id, nil
}

func (m *Manager) handshakeListeners() connection.Listeners {
	return connection.Listeners{
		protocol.EventWhoamiSuccess: func(e dispatcher.Event) error {
			p, err := protocol.Decode[protocol.WhoamiSuccess](e.Name, e.Payload)
			if err != nil {
				m.deliverWhoami(whoamiResult{err: err})
				return err
			}
			if _, err := m.catalog.Get(p.Name); err != nil {
				m.deliverWhoami(whoamiResult{err: err})
				return nil
			}
			m.deliverWhoami(whoamiResult{name: p.Name})
			return nil
		},
		protocol.EventWhoamiFailure: func(dispatcher.Event) error {
			m.deliverWhoami(whoamiResult{err: errors.New("server rejected stored session")})
			return nil
		},
		protocol.EventTakenStates: m.HandleTakenStates,
	}
}

func (m *Manager) deliverWhoami(r whoamiResult) {
	m.mu.Lock()
	ch := m.whoami
	m.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// HandleTakenStates applies a selection:takenStates event.
func (m *Manager) HandleTakenStates(e dispatcher.Event) error {
	taken, err := protocol.Decode[[]string](e.Name, e.Payload)
	if err != nil {
		return err
	}
	m.ApplyRoster(taken)
	return nil
}

// RequestSession fetches a fresh session token and persists it.
func (m *Manager) RequestSession(ctx context.Context) (string, error) {
	token, err := m.source.Session(ctx)
	if err != nil {
		return "", fmt.Errorf("request session: %w", err)
	}
	if err := m.creds.Save(credstore.Credentials{ServerURL: m.cfg.ServerURL, SessionToken: token}); err != nil {
		m.logger.Warn("Failed to persist session", "error", err)
	}

	m.mu.Lock()
	m.identity.SessionToken = token
	m.mu.Unlock()

	m.store.SetLocalSession(token)
	m.logger.Info("Session acquired")
	return token, nil
}

// SelectNation claims a nation. The claim stays pending until ConfirmClaim.
// The taken check uses the local roster and is only optimistic.
func (m *Manager) SelectNation(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := m.catalog.Get(id); err != nil {
		return err
	}

	m.mu.Lock()
	if m.identity.Claimed() {
		claimed := m.identity.ClaimedNation
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyClaimed, claimed)
	}
	m.mu.Unlock()

	if slices.Contains(m.store.TakenNations(), id) {
		return fmt.Errorf("%w: %s", ErrNationTaken, id)
	}

	if err := m.conn.Emit(protocol.EventSelectState, id); err != nil {
		return fmt.Errorf("select nation: %w", err)
	}

	m.mu.Lock()
	m.pending = id
	m.identity.DisplayName = id
	m.confirmed = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("Nation selected", "nation", id)
	return nil
}

// ConfirmClaim promotes the pending claim once the server has assigned
// bases to this session. It reports whether a claim was confirmed.
func (m *Manager) ConfirmClaim() bool {
	m.mu.Lock()
	if m.pending == "" {
		m.mu.Unlock()
		return false
	}
	m.identity.ClaimedNation = m.pending
	m.pending = ""
	claimed := m.identity.ClaimedNation
	close(m.confirmed)
	m.mu.Unlock()

	m.store.SetClaimedNation(claimed)
	m.logger.Info("Nation claim confirmed", "nation", claimed)
	return true
}

// ApplyRoster accepts the server roster as truth, even when it contradicts
// a pending claim.
func (m *Manager) ApplyRoster(taken []string) {
	m.store.ApplyRoster(taken)
	m.rosterOnce.Do(func() { close(m.rosterSeen) })

	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()
	if pending != "" && slices.Contains(taken, pending) {
		m.logger.Debug("Pending nation appears in roster", "nation", pending)
	}
}

// AwaitRoster blocks until the first roster has been applied, the
// handshake timeout passes or ctx is done. It reports whether a roster
// arrived.
func (m *Manager) AwaitRoster(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-m.rosterSeen:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	return false
}

// AwaitClaim blocks until the pending claim is confirmed. It returns
// ErrClaimUnconfirmed when no confirmation arrives within the handshake
// timeout.
func (m *Manager) AwaitClaim(ctx context.Context) error {
	m.mu.Lock()
	if m.identity.Claimed() {
		m.mu.Unlock()
		return nil
	}
	pending, confirmed := m.pending, m.confirmed
	m.mu.Unlock()
	if pending == "" {
		return fmt.Errorf("%w: nothing selected", ErrClaimUnconfirmed)
	}

	timer := time.NewTimer(m.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-confirmed:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrClaimUnconfirmed, pending, m.cfg.HandshakeTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AbandonClaim drops the pending claim and returns the nation it named.
func (m *Manager) AbandonClaim() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pending
	m.pending = ""
	return pending
}

// Reopen starts a fresh handshake after the connection was dropped, so
// the next selection travels ahead of the next join.
func (m *Manager) Reopen(ctx context.Context) error {
	if _, err := m.conn.Handshake(ctx, m.handshakeListeners()); err != nil {
		return fmt.Errorf("reopen handshake: %w", err)
	}
	return nil
}

// Forget clears the persisted and in-memory identity.
func (m *Manager) Forget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.creds.Clear(); err != nil {
		return fmt.Errorf("forget identity: %w", err)
	}

	m.mu.Lock()
	m.identity = Identity{}
	m.pending = ""
	m.mu.Unlock()

	m.store.SetLocalSession("")
	m.store.SetClaimedNation("")
	m.logger.Info("Identity forgotten")
	return nil
}
