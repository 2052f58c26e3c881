// Package client wires the session, connection, store, flights, launch
// pipeline and persistence into one running game client.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/missileglobe/globe-client/internal/api"
	"github.com/missileglobe/globe-client/internal/automation"
	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/control"
	"github.com/missileglobe/globe-client/internal/credstore"
	"github.com/missileglobe/globe-client/internal/database"
	"github.com/missileglobe/globe-client/internal/dispatcher"
	"github.com/missileglobe/globe-client/internal/influx"
	"github.com/missileglobe/globe-client/internal/launch"
	"github.com/missileglobe/globe-client/internal/logging"
	"github.com/missileglobe/globe-client/internal/monitor"
	"github.com/missileglobe/globe-client/internal/nation"
	"github.com/missileglobe/globe-client/internal/queue"
	"github.com/missileglobe/globe-client/internal/session"
	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
	"github.com/rs/zerolog"
)

var ErrNoNationAvailable = errors.New("no nation available")

// evictInterval is how often finished missiles are checked for retention.
const evictInterval = time.Second

// loggedEvents get per-delivery debug logs from the dispatcher.
var loggedEvents = []string{
	protocol.EventAllBases,
	protocol.EventBasePosition,
	protocol.EventMissileLaunched,
}

// Dependencies holds what the client does not build itself.
type Dependencies struct {
	Logger   *slog.Logger
	DBLogger zerolog.Logger
	Catalog  *nation.Catalog
	// Flusher is flushed after every persistence cycle. Optional.
	Flusher monitor.Flusher
}

// Client is one running game client.
type Client struct {
	cfg    Config
	logger *slog.Logger

	catalog    *nation.Catalog
	store      *store.Store
	api        *api.Client
	creds      *credstore.Store
	dispatcher *dispatcher.Dispatcher
	conn       *connection.Controller
	session    *session.Manager
	launcher   *launch.Pipeline
	fleet      *ballistics.Fleet
	impacts    *queue.Queue[storage.Impact]
	backend    storage.Backend
	db         *database.Manager
	monitor    *monitor.Service
	influx     *influx.Manager
	control    *control.Server
	poller     *automation.Poller

	mu      sync.Mutex
	joinSub *connection.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// New builds every component. Nothing touches the network until Start.
func New(cfg Config, deps Dependencies) (*Client, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Catalog == nil {
		deps.Catalog = nation.Default()
	}
	if err := cfg.Physics.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		logger:  deps.Logger,
		catalog: deps.Catalog,
		store:   store.New(cfg.Retention),
		impacts: queue.New[storage.Impact](cfg.Persist.ImpactQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	var err error
	defer func() {
		if err != nil {
			cancel()
			c.closeResources()
		}
	}()

	c.creds, err = credstore.Open(cfg.CredentialsPath, deps.DBLogger)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}

	c.api = api.New(cfg.Server.URL, nil, cfg.Server.Timeout)

	c.dispatcher, err = dispatcher.New(logging.NewDispatcherLogger(deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	c.conn = connection.New(connection.Config{
		URL: cfg.WebsocketURL(),
		Jar: c.api.Jar(),
		Reconnect: connection.ReconnectPolicy{
			MaxAttempts:    cfg.Reconnect.MaxAttempts,
			InitialBackoff: cfg.Reconnect.InitialBackoff,
			MaxBackoff:     cfg.Reconnect.MaxBackoff,
		},
		LoggedEvents: loggedEvents,
		OnLost: func(err error) {
			c.logger.Error("Connection lost, live updates stopped", "error", err)
		},
	}, c.dispatcher, deps.Logger)

	c.session = session.NewManager(session.Config{
		ServerURL:        cfg.Server.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, c.conn, c.api, c.creds, c.catalog, c.store, deps.Logger)

	c.launcher = launch.New(c.conn, c.store, c.catalog, deps.Logger)
	c.fleet = ballistics.NewFleet(nil)

	c.backend, c.db, err = createStorageBackend(cfg.Persist, c.api, cfg.Physics.Radius, deps.Logger, deps.DBLogger)
	if err != nil {
		return nil, err
	}

	c.influx = influx.NewManager(deps.DBLogger, cfg.Influx)

	mdeps := monitor.Dependencies{
		Store:      c.store,
		Backend:    c.backend,
		Impacts:    c.impacts,
		Connection: c.conn,
		Flusher:    deps.Flusher,
		StatusFile: cfg.Persist.StatusFile,
		Interval:   cfg.Persist.Interval,
		Logger:     deps.Logger,
	}
	if cfg.Influx.Enabled {
		mdeps.Telemetry = c.influx
	}
	c.monitor = monitor.NewService(mdeps)

	if cfg.Control.Enabled {
		c.control = control.NewServer(control.SetupRoutes(control.Dependencies{
			Store:    c.store,
			Launcher: c.launcher,
			Catalog:  c.catalog,
			Status:   func() any { return c.monitor.Status() },
		}), deps.Logger)
	}

	if cfg.Automation.Enabled {
		c.poller = automation.NewPoller(automation.NewHTTPSource(c.api), c.launcher, cfg.Automation.Interval, deps.Logger)
	}

	return c, nil
}

// Store returns the reconciliation store.
func (c *Client) Store() *store.Store { return c.store }

// Session returns the identity manager.
func (c *Client) Session() *session.Manager { return c.session }

// Connection returns the connection controller.
func (c *Client) Connection() *connection.Controller { return c.conn }

// Launcher returns the launch pipeline.
func (c *Client) Launcher() *launch.Pipeline { return c.launcher }

// Monitor returns the persistence monitor.
func (c *Client) Monitor() *monitor.Service { return c.monitor }

// ControlAddr returns the control API address, or "" when disabled.
func (c *Client) ControlAddr() string {
	if c.control == nil {
		return ""
	}
	return c.control.Addr()
}

// LogAttrs returns the attributes added to every log record.
func (c *Client) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("nation", c.store.ClaimedNation()),
		slog.String("phase", c.conn.Phase().String()),
	}
}

// Start brings up persistence and telemetry, joins the game and starts the
// background loops.
func (c *Client) Start(ctx context.Context) error {
	if err := c.backend.Init(); err != nil {
		return fmt.Errorf("init storage backend: %w", err)
	}

	if c.cfg.Influx.Enabled {
		if err := c.influx.Connect(ctx); err != nil {
			c.logger.Warn("InfluxDB unavailable", "error", err)
		}
	}

	if c.control != nil {
		if err := c.control.Start(c.cfg.Control.Listen); err != nil {
			return fmt.Errorf("start control API: %w", err)
		}
	}

	if err := c.api.Healthcheck(ctx); err != nil {
		c.logger.Warn("Server healthcheck failed", "error", err)
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}

	if err := c.monitor.Start(c.ctx); err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.evictLoop(c.ctx)
	}()

	if c.poller != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.poller.Run(c.ctx)
		}()
	}
	return nil
}

// Connect resolves the identity, claims a nation when none is restored and
// joins the game.
func (c *Client) Connect(ctx context.Context) error {
	id, err := c.session.ResolveIdentity(ctx)
	if err != nil {
		if !errors.Is(err, session.ErrIdentityResolution) {
			return err
		}
		c.logger.Info("Falling back to manual nation selection", "error", err)
	}

	if id.Claimed() {
		return c.Join(ctx)
	}
	if id.SessionToken == "" {
		if _, err := c.session.RequestSession(ctx); err != nil {
			return err
		}
	}
	if !c.session.AwaitRoster(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.logger.Warn("No roster received, choosing from catalog")
	}
	return c.claimAndJoin(ctx)
}

// claimAndJoin selects a nation, joins and waits for the server to confirm
// the claim. An unconfirmed or taken nation is skipped for the next free
// one unless the nation was configured explicitly.
func (c *Client) claimAndJoin(ctx context.Context) error {
	refused := make(map[string]struct{})
	for {
		nationID, err := c.chooseNation(refused)
		if err != nil {
			return err
		}

		err = c.session.SelectNation(ctx, nationID)
		if errors.Is(err, session.ErrNationTaken) && c.cfg.Nation == "" {
			refused[nationID] = struct{}{}
			continue
		}
		if err != nil {
			return err
		}

		if err := c.Join(ctx); err != nil {
			return err
		}
		err = c.session.AwaitClaim(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, session.ErrClaimUnconfirmed) || c.cfg.Nation != "" {
			return err
		}

		c.session.AbandonClaim()
		refused[nationID] = struct{}{}
		c.logger.Warn("Nation claim not confirmed, choosing another", "nation", nationID)

		c.conn.Disconnect()
		if err := c.session.Reopen(ctx); err != nil {
			return err
		}
	}
}

// chooseNation returns the configured nation, or the first one neither
// taken nor refused.
func (c *Client) chooseNation(refused map[string]struct{}) (string, error) {
	if c.cfg.Nation != "" {
		return c.cfg.Nation, nil
	}
	for _, n := range c.catalog.Available(c.store.TakenNations()) {
		if _, ok := refused[n.ID]; !ok {
			return n.ID, nil
		}
	}
	return "", ErrNoNationAvailable
}

// Join announces the current identity and attaches the game listeners. A
// previous join is torn down first.
func (c *Client) Join(ctx context.Context) error {
	id := c.session.Identity()
	name := id.ClaimedNation
	if name == "" {
		name = c.session.PendingClaim()
	}
	if id.SessionToken == "" || name == "" {
		return fmt.Errorf("join: %w", session.ErrIdentityResolution)
	}

	sub, err := c.conn.Join(ctx, protocol.JoinAnnouncement{Session: id.SessionToken, Name: name}, c.joinListeners())
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	c.mu.Lock()
	c.joinSub = sub
	c.mu.Unlock()
	return nil
}

func (c *Client) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.evict(now)
		}
	}
}

func (c *Client) evict(now time.Time) {
	for _, id := range c.store.Evict(now) {
		c.fleet.Cancel(id)
	}
}

// Run starts the client and blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Close stops every loop, flushes pending persistence and releases all
// resources. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub := c.joinSub
	c.joinSub = nil
	c.mu.Unlock()

	sub.Cancel()
	c.cancel()
	c.wg.Wait()

	var errs []error
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	if c.fleet != nil {
		c.fleet.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if c.monitor != nil {
		errs = append(errs, c.monitor.Stop(ctx))
	}
	if c.control != nil {
		errs = append(errs, c.control.Shutdown(ctx))
	}
	errs = append(errs, c.closeResources())
	return errors.Join(errs...)
}

func (c *Client) closeResources() error {
	var errs []error
	if c.backend != nil {
		errs = append(errs, c.backend.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	if c.influx != nil {
		errs = append(errs, c.influx.Close())
	}
	if c.creds != nil {
		errs = append(errs, c.creds.Close())
	}
	return errors.Join(errs...)
}
