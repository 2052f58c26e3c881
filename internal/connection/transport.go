package connection

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

const (
	sendChSize = 1024
	writeWait  = 10 * time.Second
	dialWait   = 10 * time.Second
)

// ReconnectPolicy bounds transport reconnection.
type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconnectPolicy returns the default policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    10,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// transport manages one websocket with a single write goroutine per socket.
type transport struct {
	mu     sync.Mutex
	conn   *ws.Conn
	stop   chan struct{} // closed when conn is replaced
	sendCh chan []byte
	done   chan struct{} // closed on shutdown
	closed bool
	lost   bool

	url    string
	dialer *ws.Dialer
	policy ReconnectPolicy

	// Cached join announcement for reconnect replay.
	cachedJoin []byte

	onMessage   func(protocol.Envelope)
	onLost      func(error)
	onReconnect func(attempt int)

	logger *slog.Logger
}

func newTransport(url string, jar http.CookieJar, policy ReconnectPolicy, logger *slog.Logger) *transport {
	return &transport{
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
		url:    url,
		dialer: &ws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialWait,
			Jar:              jar,
		},
		policy: policy,
		logger: logger,
	}
}

// dial connects to the websocket server and starts read/write loops.
func (t *transport) dial() error {
	conn, _, err := t.dialer.Dial(t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	t.attach(conn)
	return nil
}

func (t *transport) attach(conn *ws.Conn) {
	stop := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.stop = stop
	t.mu.Unlock()

	go t.writeLoop(conn, stop)
	go t.readLoop(conn)
}

// writeLoop drains sendCh and writes messages to conn.
// It returns on error, on shutdown, or when conn is replaced.
func (t *transport) writeLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		select {
		case <-t.done:
			return
		case <-stop:
			return
		case data := <-t.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				t.requeue(data)
				go t.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				t.logger.Warn("WebSocket write error", "error", err)
				t.requeue(data)
				go t.reconnect(conn)
				return
			}
		}
	}
}

// readLoop reads envelopes from conn and hands them to onMessage.
func (t *transport) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.logger.Warn("WebSocket read error", "error", err)
			go t.reconnect(conn)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			t.logger.Warn("Malformed envelope received", "raw", string(message))
			continue
		}
		if t.onMessage != nil {
			t.onMessage(env)
		}
	}
}

// requeue puts a message that failed to write back on the queue.
func (t *transport) requeue(data []byte) {
	select {
	case t.sendCh <- data:
	default:
		t.logger.Warn("WebSocket send channel full, dropping message")
	}
}

// reconnect re-establishes the websocket after the failed socket broke, with
// exponential backoff plus jitter. On success it replays the cached join
// announcement and restarts the read/write loops. Only the first caller for
// a given socket reconnects.
func (t *transport) reconnect(failed *ws.Conn) {
	t.mu.Lock()
	if t.closed || t.conn != failed {
		t.mu.Unlock()
		return
	}
	close(t.stop)
	_ = t.conn.Close()
	t.conn = nil
	t.mu.Unlock()

	backoff := t.policy.InitialBackoff
	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		wait := backoff
		if half := int64(backoff / 2); half > 0 {
			wait += time.Duration(rand.Int64N(half))
		}
		t.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", wait)

		select {
		case <-t.done:
			return
		case <-time.After(wait):
		}

		conn, _, err := t.dialer.Dial(t.url, nil)
		if err != nil {
			t.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > t.policy.MaxBackoff {
				backoff = t.policy.MaxBackoff
			}
			continue
		}

		t.mu.Lock()
		cached := t.cachedJoin
		t.mu.Unlock()

		// Replay the join so the server rebinds this socket to our session.
		if cached != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				t.logger.Warn("Failed to set deadline for join replay", "error", err)
				_ = conn.Close()
				continue
			}
			if err := conn.WriteMessage(ws.TextMessage, cached); err != nil {
				t.logger.Warn("Failed to replay join after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.mu.Unlock()

		t.logger.Info("WebSocket reconnected", "attempt", attempt)
		t.attach(conn)
		if t.onReconnect != nil {
			t.onReconnect(attempt)
		}
		return
	}

	t.mu.Lock()
	t.lost = true
	t.mu.Unlock()
	t.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", t.policy.MaxAttempts)
	if t.onLost != nil {
		t.onLost(fmt.Errorf("%w: after %d attempts", ErrConnectionLost, t.policy.MaxAttempts))
	}
}

// send pushes data to the write loop. Non-blocking.
func (t *transport) send(data []byte) error {
	t.mu.Lock()
	closed, lost := t.closed, t.lost
	t.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	if lost {
		return ErrConnectionLost
	}
	select {
	case t.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

// sendJoin caches the join announcement for reconnect replay and sends it.
func (t *transport) sendJoin(data []byte) error {
	t.mu.Lock()
	t.cachedJoin = data
	t.mu.Unlock()
	return t.send(data)
}

// close sends a websocket close frame and shuts down all goroutines.
func (t *transport) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}
