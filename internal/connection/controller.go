// Package connection owns the single persistent connection to the game
// server and its listener lifecycle.
//
// Phases move Unconnected -> Handshaking -> Joined -> TornDown. Each phase
// attaches its listener set through the dispatcher, which keeps at most one
// handler per event, and every attached set is detached before the transport
// it belongs to is closed. Deliveries from the transport are serialized
// through one mailbox goroutine, so handlers run to completion one at a time.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/missileglobe/globe-client/internal/dispatcher"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrConnectionLost = errors.New("connection lost")
	ErrClosed         = errors.New("connection controller closed")
	ErrInvalidPhase   = errors.New("invalid connection phase")
)

// Phase of the connection lifecycle.
type Phase int

const (
	Unconnected Phase = iota
	Handshaking
	Joined
	TornDown
)

func (p Phase) String() string {
	switch p {
	case Unconnected:
		return "unconnected"
	case Handshaking:
		return "handshaking"
	case Joined:
		return "joined"
	case TornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// Listeners maps event names to handlers.
type Listeners map[string]dispatcher.HandlerFunc

// Subscription is an attached listener set. Cancel detaches it and is safe
// to call more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel detaches the listener set.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Config configures a Controller.
type Config struct {
	URL         string
	Jar         http.CookieJar
	Reconnect   ReconnectPolicy
	MailboxSize int
	// LoggedEvents are registered with per-delivery debug logging.
	LoggedEvents []string
	// OnLost is called when reconnection gives up.
	OnLost func(error)
}

type delivery struct {
	generation uint64
	env        protocol.Envelope
	received   time.Time
}

// Controller owns the persistent connection for one identity.
type Controller struct {
	cfg        Config
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger

	// phase and degraded are written under mu but read without it, so
	// loggers whose context provider reports the phase never block on mu.
	phase    atomic.Int32
	degraded atomic.Bool

	mu         sync.Mutex
	transport  *transport
	handshake  *Subscription
	joined     *Subscription
	generation uint64

	mailbox chan delivery
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates an unconnected controller and starts its mailbox goroutine.
func New(cfg Config, d *dispatcher.Dispatcher, logger *slog.Logger) *Controller {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.With("component", "connection"),
		mailbox:    make(chan delivery, cfg.MailboxSize),
		done:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Controller) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

// Degraded reports whether reconnection gave up on the current transport.
func (c *Controller) Degraded() bool {
	return c.degraded.Load()
}

// Handshake opens the transport and attaches the handshake listener set.
// Calling it again while handshaking replaces the previous set.
func (c *Controller) Handshake(ctx context.Context, listeners Listeners) (*Subscription, error) {
	sub, err := c.beginHandshake(ctx, listeners)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Handshake started", "url", c.cfg.URL)
	return sub, nil
}

func (c *Controller) beginHandshake(ctx context.Context, listeners Listeners) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch phase := c.Phase(); phase {
	case TornDown:
		return nil, ErrClosed
	case Joined:
		return nil, fmt.Errorf("%w: handshake while %s", ErrInvalidPhase, phase)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.transport == nil {
		if err := c.openLocked(); err != nil {
			return nil, err
		}
	}

	c.handshake.Cancel()
	c.handshake = c.attachLocked(listeners)
	c.setPhase(Handshaking)
	return c.handshake, nil
}

// Join detaches the handshake listeners, tears down any previous joined
// connection, sends the join announcement and attaches the join listeners.
// A transport opened by Handshake is reused.
func (c *Controller) Join(ctx context.Context, ann protocol.JoinAnnouncement, listeners Listeners) (*Subscription, error) {
	data, err := protocol.Marshal(protocol.EventPlayerJoin, ann)
	if err != nil {
		return nil, err
	}

	sub, err := c.attachJoin(ctx, data, listeners)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Joined", "session", ann.Session, "nation", ann.Name)
	return sub, nil
}

func (c *Controller) attachJoin(ctx context.Context, data []byte, listeners Listeners) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Phase() == TornDown {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.handshake.Cancel()
	c.handshake = nil

	if c.Phase() == Joined {
		_ = c.teardownLocked()
	}
	if c.transport == nil {
		if err := c.openLocked(); err != nil {
			c.setPhase(Unconnected)
			return nil, err
		}
	}

	if err := c.transport.sendJoin(data); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}
	c.joined = c.attachLocked(listeners)
	c.setPhase(Joined)
	return c.joined, nil
}

// Emit sends one event on the live transport.
func (c *Controller) Emit(event string, payload any) error {
	data, err := protocol.Marshal(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}
	if err := t.send(data); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Disconnect tears down the current connection and returns to Unconnected.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.Phase() == TornDown {
		c.mu.Unlock()
		return
	}
	c.handshake.Cancel()
	c.handshake = nil
	closeErr := c.teardownLocked()
	c.setPhase(Unconnected)
	c.mu.Unlock()

	if closeErr != nil {
		c.logger.Debug("Transport close error", "error", closeErr)
	}
}

// Close detaches all listeners, closes the transport and stops the mailbox.
// It must not be called from a listener.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.Phase() == TornDown {
		c.mu.Unlock()
		return nil
	}
	c.handshake.Cancel()
	c.handshake = nil
	closeErr := c.teardownLocked()
	c.setPhase(TornDown)
	close(c.done)
	c.mu.Unlock()

	if closeErr != nil {
		c.logger.Debug("Transport close error", "error", closeErr)
	}

	c.wg.Wait()
	c.logger.Info("Connection torn down")
	return nil
}

// openLocked dials a new transport tagged with a fresh generation.
func (c *Controller) openLocked() error {
	c.generation++
	gen := c.generation

	t := newTransport(c.cfg.URL, c.cfg.Jar, c.cfg.Reconnect, c.logger)
	t.onMessage = func(env protocol.Envelope) { c.enqueue(gen, env) }
	t.onLost = func(err error) { c.lost(gen, err) }
	t.onReconnect = func(attempt int) {
		c.logger.Info("Transport recovered", "attempt", attempt)
	}

	if err := t.dial(); err != nil {
		return err
	}
	c.transport = t
	c.degraded.Store(false)
	return nil
}

// teardownLocked detaches the join listeners, then closes the transport.
// The close error is returned so callers can log it after releasing mu.
func (c *Controller) teardownLocked() error {
	c.joined.Cancel()
	c.joined = nil
	var err error
	if c.transport != nil {
		err = c.transport.close()
		c.transport = nil
	}
	// Deliveries already queued from the old transport are dropped.
	c.generation++
	return err
}

func (c *Controller) attachLocked(listeners Listeners) *Subscription {
	regs := make([]dispatcher.Registration, 0, len(listeners))
	for name, h := range listeners {
		var opts []dispatcher.Option
		if slices.Contains(c.cfg.LoggedEvents, name) {
			opts = append(opts, dispatcher.Logged())
		}
		regs = append(regs, c.dispatcher.Register(name, h, opts...))
	}
	return &Subscription{cancel: func() {
		for _, reg := range regs {
			c.dispatcher.Unregister(reg)
		}
	}}
}

func (c *Controller) enqueue(gen uint64, env protocol.Envelope) {
	select {
	case c.mailbox <- delivery{generation: gen, env: env, received: time.Now()}:
	case <-c.done:
	}
}

func (c *Controller) lost(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.degraded.Store(true)
	c.mu.Unlock()

	c.logger.Error("Connection lost", "error", err)
	if c.cfg.OnLost != nil {
		c.cfg.OnLost(err)
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case d := <-c.mailbox:
			c.deliver(d)
		}
	}
}

func (c *Controller) deliver(d delivery) {
	c.mu.Lock()
	current := d.generation == c.generation
	c.mu.Unlock()
	if !current {
		return
	}

	err := c.dispatcher.Dispatch(dispatcher.Event{
		Name:     d.env.Type,
		Payload:  d.env.Payload,
		Received: d.received,
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrUnknownEvent):
		c.logger.Debug("No listener for event", "event", d.env.Type)
	case errors.Is(err, protocol.ErrMalformedPayload):
		c.logger.Warn("Ignoring malformed payload", "event", d.env.Type, "error", err)
	default:
		c.logger.Warn("Listener failed", "event", d.env.Type, "error", err)
	}
}
