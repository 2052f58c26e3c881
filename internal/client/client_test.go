package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/config"
	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/credstore"
	"github.com/missileglobe/globe-client/internal/dispatcher"
	"github.com/missileglobe/globe-client/internal/geo"
	"github.com/missileglobe/globe-client/internal/launch"
	"github.com/missileglobe/globe-client/internal/session"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gameServer is a minimal game server speaking the event protocol over a
// websocket plus the side-channel HTTP endpoints.
type gameServer struct {
	t     *testing.T
	token string

	mu       sync.Mutex
	conns    map[*ws.Conn]struct{}
	received []protocol.Envelope
	sessions int
	saves    []protocol.SaveCoordinates
	claimed  map[string]string
	taken    []string
	refused  map[string]bool
}

var franceBases = map[string]protocol.LatLon{
	"Paris": {48.85, 2.35},
	"Lyon":  {45.76, 4.84},
}

func newGameServer(t *testing.T) (*gameServer, *httptest.Server) {
	t.Helper()
	g := &gameServer{t: t, token: "tok-1", conns: make(map[*ws.Conn]struct{}), claimed: map[string]string{"tok-1": "France"}}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.sessions++
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(protocol.SessionResponse{Session: g.token})
	})
	mux.HandleFunc("/api/save-coordinates", func(w http.ResponseWriter, r *http.Request) {
		var body protocol.SaveCoordinates
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			g.mu.Lock()
			g.saves = append(g.saves, body)
			g.mu.Unlock()
		}
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns[c] = struct{}{}
		taken := append([]string{}, g.taken...)
		g.mu.Unlock()
		g.send(c, protocol.EventTakenStates, taken)
		defer func() {
			g.mu.Lock()
			delete(g.conns, c)
			g.mu.Unlock()
			c.Close()
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if json.Unmarshal(msg, &env) != nil {
				continue
			}
			g.mu.Lock()
			g.received = append(g.received, env)
			g.mu.Unlock()
			g.handle(c, env)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return g, srv
}

func (g *gameServer) handle(c *ws.Conn, env protocol.Envelope) {
	switch env.Type {
	case protocol.EventWhoami:
		var token string
		_ = json.Unmarshal(env.Payload, &token)
		g.mu.Lock()
		name, ok := g.claimed[token]
		g.mu.Unlock()
		if ok {
			g.send(c, protocol.EventWhoamiSuccess, protocol.WhoamiSuccess{Name: name})
		} else {
			g.send(c, protocol.EventWhoamiFailure, struct{}{})
		}
	case protocol.EventPlayerJoin:
		var ann protocol.JoinAnnouncement
		_ = json.Unmarshal(env.Payload, &ann)
		g.mu.Lock()
		refused := g.refused[ann.Name]
		g.mu.Unlock()
		if refused {
			return
		}
		g.send(c, protocol.EventBasePosition, protocol.BasePosition{Session: ann.Session, BasesPositions: franceBases})
		g.broadcast(protocol.EventAllBases, []protocol.BaseRecord{
			{Session: "tok-2", Name: "Egypt", City: "Cairo", Position: protocol.LatLon{30.04, 31.24}},
		})
	case protocol.EventMissileLaunch:
		var req protocol.LaunchRequest
		_ = json.Unmarshal(env.Payload, &req)
		g.broadcast(protocol.EventMissileLaunched, protocol.MissileLaunched{Session: g.token, MissileData: req})
	}
}

func (g *gameServer) send(c *ws.Conn, event string, payload any) {
	data, err := protocol.Marshal(event, payload)
	require.NoError(g.t, err)
	g.mu.Lock()
	defer g.mu.Unlock()
	_ = c.WriteMessage(ws.TextMessage, data)
}

func (g *gameServer) broadcast(event string, payload any) {
	data, err := protocol.Marshal(event, payload)
	require.NoError(g.t, err)
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.conns {
		_ = c.WriteMessage(ws.TextMessage, data)
	}
}

func (g *gameServer) count(event string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, env := range g.received {
		if env.Type == event {
			n++
		}
	}
	return n
}

func (g *gameServer) sessionRequests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions
}

func (g *gameServer) saveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.saves)
}

func testConfig(t *testing.T, srv *httptest.Server) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Server:    config.ServerConfig{URL: srv.URL, WebsocketPath: "/ws", Timeout: 2 * time.Second},
		Reconnect: config.ReconnectConfig{MaxAttempts: 2, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
		Physics:   ballistics.DefaultConfig(),
		Retention: store.DefaultConfig(),
		Persist: config.PersistConfig{
			Backend:         BackendAPI,
			Interval:        time.Hour,
			StatusFile:      filepath.Join(dir, "status.json"),
			ImpactQueueSize: 16,
		},
		CredentialsPath:  filepath.Join(dir, "creds.db"),
		Nation:           "France",
		HandshakeTimeout: time.Second,
	}
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, Dependencies{DBLogger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		url, path, want string
	}{
		{"http://localhost:3000", "/ws", "ws://localhost:3000/ws"},
		{"https://globe.example/", "socket", "wss://globe.example/socket"},
		{"http://localhost:3000", "", "ws://localhost:3000"},
	}
	for _, tt := range tests {
		cfg := Config{Server: config.ServerConfig{URL: tt.url, WebsocketPath: tt.path}}
		assert.Equal(t, tt.want, cfg.WebsocketURL())
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, srv := newGameServer(t)
	cfg := testConfig(t, srv)
	cfg.Persist.Backend = "s3"
	_, err := New(cfg, Dependencies{DBLogger: zerolog.Nop()})
	assert.ErrorContains(t, err, "unknown persist backend")
}

func TestStart_FreshClientSelectsAndJoins(t *testing.T) {
	g, srv := newGameServer(t)
	c := newClient(t, testConfig(t, srv))

	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return c.Session().Identity().Claimed() }, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, c.Store().OwnBases(), 2)
	assert.Equal(t, connection.Joined, c.Connection().Phase())
	assert.Equal(t, "France", c.Session().Identity().ClaimedNation)
	assert.Equal(t, "tok-1", c.Store().LocalSession())
	assert.Equal(t, 1, g.sessionRequests())
	assert.Equal(t, 0, g.count(protocol.EventWhoami), "no stored token, no whoami")
	assert.Equal(t, 1, g.count(protocol.EventSelectState))
	assert.Equal(t, 1, g.count(protocol.EventPlayerJoin))

	require.Eventually(t, func() bool { return len(c.Store().RemoteBases()) == 1 }, 3*time.Second, 10*time.Millisecond)

	creds, ok, err := c.creds.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-1", creds.SessionToken)
	assert.Equal(t, srv.URL, creds.ServerURL)
}

func TestStart_SkipsNationAlreadyInRoster(t *testing.T) {
	g, srv := newGameServer(t)
	g.taken = []string{"USA"}
	cfg := testConfig(t, srv)
	cfg.Nation = ""
	c := newClient(t, cfg)

	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, "Roman Empire", c.Session().Identity().ClaimedNation)
	assert.Equal(t, 1, g.count(protocol.EventSelectState))
	assert.Contains(t, c.Store().TakenNations(), "USA")
}

func TestStart_UnconfirmedClaimSelectsNextNation(t *testing.T) {
	g, srv := newGameServer(t)
	g.refused = map[string]bool{"USA": true}
	cfg := testConfig(t, srv)
	cfg.Nation = ""
	cfg.HandshakeTimeout = 200 * time.Millisecond
	c := newClient(t, cfg)

	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, "Roman Empire", c.Session().Identity().ClaimedNation)
	assert.Empty(t, c.Session().PendingClaim())
	assert.Equal(t, 2, g.count(protocol.EventSelectState))
	assert.Equal(t, 2, g.count(protocol.EventPlayerJoin))
	assert.Equal(t, connection.Joined, c.Connection().Phase())
}

func TestStart_ConfiguredNationUnconfirmed(t *testing.T) {
	g, srv := newGameServer(t)
	g.refused = map[string]bool{"France": true}
	cfg := testConfig(t, srv)
	cfg.HandshakeTimeout = 200 * time.Millisecond
	c := newClient(t, cfg)

	err := c.Start(context.Background())
	require.ErrorIs(t, err, session.ErrClaimUnconfirmed)
	assert.False(t, c.Session().Identity().Claimed())
	assert.Equal(t, 1, g.count(protocol.EventSelectState))
}

func TestStart_ConfiguredNationTaken(t *testing.T) {
	g, srv := newGameServer(t)
	g.taken = []string{"France"}
	c := newClient(t, testConfig(t, srv))

	err := c.Start(context.Background())
	require.ErrorIs(t, err, session.ErrNationTaken)
	assert.Equal(t, 0, g.count(protocol.EventSelectState))
}

func TestStart_RestoresStoredIdentity(t *testing.T) {
	g, srv := newGameServer(t)
	cfg := testConfig(t, srv)
	cfg.Nation = ""

	cs, err := credstore.Open(cfg.CredentialsPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, cs.Save(credstore.Credentials{ServerURL: srv.URL, SessionToken: "tok-1"}))
	require.NoError(t, cs.Close())

	c := newClient(t, cfg)
	require.NoError(t, c.Start(context.Background()))

	assert.Equal(t, "France", c.Session().Identity().ClaimedNation)
	assert.Equal(t, 1, g.count(protocol.EventWhoami))
	assert.Equal(t, 0, g.count(protocol.EventSelectState))
	assert.Equal(t, 0, g.sessionRequests())
	require.Eventually(t, func() bool { return len(c.Store().OwnBases()) == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestLaunch_EchoFliesAndPersists(t *testing.T) {
	g, srv := newGameServer(t)
	c := newClient(t, testConfig(t, srv))
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return len(c.Store().OwnBases()) == 2 }, 3*time.Second, 10*time.Millisecond)

	msg, err := c.Launcher().Launch(context.Background(), launch.Request{Velocity: [3]float64{1, 90, 45}})
	require.NoError(t, err)
	assert.Equal(t, "Paris", msg.City)

	require.Eventually(t, func() bool {
		ms := c.Store().Snapshot().Missiles
		return len(ms) == 1 && ms[0].State == store.MissileImpacted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, g.count(protocol.EventMissileLaunch))

	require.NoError(t, c.Close())
	assert.GreaterOrEqual(t, g.saveCount(), 1)
	assert.Equal(t, 1, c.Monitor().Status().ImpactsWritten)
}

func TestHandlers_IgnoreMalformed(t *testing.T) {
	_, srv := newGameServer(t)
	c := newClient(t, testConfig(t, srv))
	c.Store().SetLocalSession("me")

	raw := func(s string) json.RawMessage { return json.RawMessage(s) }

	assert.ErrorIs(t, c.handleBasePosition(eventOf(protocol.EventBasePosition, raw(`{"session":"me","basesPositions":{"Paris":[120,0]}}`))), protocol.ErrMalformedPayload)
	assert.Empty(t, c.Store().OwnBases())

	assert.ErrorIs(t, c.handleAllBases(eventOf(protocol.EventAllBases, raw(`{"not":"a list"}`))), protocol.ErrMalformedPayload)
	assert.ErrorIs(t, c.handleMissileLaunched(eventOf(protocol.EventMissileLaunched, raw(`{"session":"x","missileData":{"startLatLon":[0,500]}}`))), protocol.ErrMalformedPayload)
	assert.Empty(t, c.Store().ActiveMissiles())
}

func TestHandlers_RosterAndOutcome(t *testing.T) {
	_, srv := newGameServer(t)
	c := newClient(t, testConfig(t, srv))
	c.Store().SetLocalSession("me")

	joined := `{"session":"s2","name":"Japan","basesPositions":{"Tokyo":[35.7,139.7]}}`
	require.NoError(t, c.handlePlayerJoined(eventOf(protocol.EventPlayerJoined, json.RawMessage(joined))))
	require.NoError(t, c.handlePlayerJoined(eventOf(protocol.EventPlayerJoined, json.RawMessage(joined))))
	require.Len(t, c.Store().AllBases(), 1)
	assert.Equal(t, geo.LatLon{Lat: 35.7, Lon: 139.7}, c.Store().AllBases()[0].Position)

	own := `{"session":"me","name":"France","basesPositions":{"Paris":[48.85,2.35]}}`
	require.NoError(t, c.handlePlayerJoined(eventOf(protocol.EventPlayerJoined, json.RawMessage(own))))
	assert.Len(t, c.Store().AllBases(), 1, "own join broadcast is not a remote base")

	require.NoError(t, c.handlePlayerDisconnected(eventOf(protocol.EventPlayerDisconnected, json.RawMessage(`{"session":"s2"}`))))
	assert.Empty(t, c.Store().AllBases())

	require.NoError(t, c.handleOutcome(store.Victory)(eventOf(protocol.EventGameWin, nil)))
	require.NoError(t, c.handleOutcome(store.Defeat)(eventOf(protocol.EventGameOver, nil)))
	assert.Equal(t, store.Victory, c.Store().Outcome())
}

func TestEvict_CancelsFinishedFlights(t *testing.T) {
	_, srv := newGameServer(t)
	cfg := testConfig(t, srv)
	cfg.Retention.RetainAfterImpact = 0
	c := newClient(t, cfg)

	m, _ := c.Store().ApplyMissileBroadcast(store.Launch{Session: "s2", Origin: geo.LatLon{Lat: 1, Lon: 1}})
	require.True(t, c.Store().MarkExpired(m.ID, time.Now()))

	c.evict(time.Now().Add(time.Second))
	assert.Empty(t, c.Store().Snapshot().Missiles)
}

func eventOf(name string, payload json.RawMessage) dispatcher.Event {
	return dispatcher.Event{Name: name, Payload: payload}
}
