// Package hub implements the client side of the ERP hub's stateful duplex
// protocol: the WebSocket transport with its handshake and keepalive, and the
// invocation layer that correlates responses to calls.
package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultKeepaliveInterval = 30 * time.Second
	defaultReconnectMinDelay = 1 * time.Second
	defaultReconnectMaxDelay = 30 * time.Second

	// The hub rejects connections that skip protocol negotiation.
	handshakeProtocol = "json"
	handshakeVersion  = 1

	maxFrameSize = 32 << 20
)

// Options configures the hub transport. Zero durations fall back to the
// defaults above.
type Options struct {
	URL      string
	Tenant   string
	Company  string
	Token    string
	Username string
	Password string

	HandshakeTimeout  time.Duration
	KeepaliveInterval time.Duration

	// ReconnectAttempts 0 disables auto-reconnect; -1 retries forever.
	ReconnectAttempts int
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

// FrameRecorder receives a copy of every frame crossing the wire plus
// transport-level events, for the trace files.
type FrameRecorder interface {
	RecordFrame(direction string, payload []byte)
	RecordEvent(kind, detail string)
}

// Transport owns one WebSocket connection to the hub. The read loop is the
// only receive point; every inbound frame goes to OnFrame in arrival order.
type Transport struct {
	opts Options

	// Set before Connect; not synchronized after.
	OnFrame      func(payload []byte)
	OnDisconnect func(err error)
	OnReconnect  func(connectionID string)
	Recorder     FrameRecorder

	mu           sync.RWMutex
	conn         *websocket.Conn
	connectionID string
	pumpCancel   context.CancelFunc
	closed       bool
	reconnecting bool

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

func NewTransport(opts Options) *Transport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	if opts.ReconnectMinDelay <= 0 {
		opts.ReconnectMinDelay = defaultReconnectMinDelay
	}
	if opts.ReconnectMaxDelay < opts.ReconnectMinDelay {
		opts.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Transport{opts: opts, lifeCtx: lifeCtx, lifeCancel: lifeCancel}
}

// Connect dials the hub, runs the protocol handshake, and starts the read
// and keepalive loops. It fails with a TransportError when the server is
// unreachable or rejects the negotiation.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &TransportError{Op: "connect", Err: fmt.Errorf("transport closed")}
	}
	if t.conn != nil {
		t.mu.Unlock()
		return &TransportError{Op: "connect", Err: fmt.Errorf("already connected")}
	}
	t.mu.Unlock()

	return t.establish(ctx)
}

func (t *Transport) establish(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.opts.HandshakeTimeout)
	defer cancel()

	header := http.Header{}
	switch {
	case t.opts.Token != "":
		header.Set("Authorization", "Bearer "+t.opts.Token)
	case t.opts.Username != "":
		creds := base64.StdEncoding.EncodeToString([]byte(t.opts.Username + ":" + t.opts.Password))
		header.Set("Authorization", "Basic "+creds)
	}
	if t.opts.Tenant != "" {
		header.Set("X-Tenant", t.opts.Tenant)
	}
	if t.opts.Company != "" {
		header.Set("X-Company", t.opts.Company)
	}

	conn, _, err := websocket.Dial(dialCtx, t.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxFrameSize)

	if err := t.handshake(dialCtx, conn); err != nil {
		conn.Close(websocket.StatusProtocolError, "handshake failed")
		return err
	}

	pumpCtx, pumpCancel := context.WithCancel(t.lifeCtx)
	connectionID := uuid.NewString()

	t.mu.Lock()
	t.conn = conn
	t.connectionID = connectionID
	t.pumpCancel = pumpCancel
	t.mu.Unlock()

	if t.Recorder != nil {
		t.Recorder.RecordEvent("connected", connectionID)
	}
	log.Printf("[hub] connected to %s (connection %s)", t.opts.URL, connectionID)

	go t.readLoop(pumpCtx, conn)
	go t.keepaliveLoop(pumpCtx, conn)
	return nil
}

// handshake sends the protocol negotiation frame and waits for the server's
// ack. Any readable frame counts as the ack; a remote error in it fails the
// connect.
func (t *Transport) handshake(ctx context.Context, conn *websocket.Conn) error {
	frame, _ := json.Marshal(map[string]interface{}{
		"protocol": handshakeProtocol,
		"version":  handshakeVersion,
	})
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return &TransportError{Op: "handshake", Err: err}
	}

	_, ack, err := conn.Read(ctx)
	if err != nil {
		return &TransportError{Op: "handshake", Err: err}
	}
	var ackBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(ack, &ackBody); err != nil {
		return &TransportError{Op: "handshake", Err: fmt.Errorf("unreadable ack: %w", err)}
	}
	if ackBody.Error != "" {
		return &TransportError{Op: "handshake", Err: fmt.Errorf("server rejected negotiation: %s", ackBody.Error)}
	}
	return nil
}

// Send writes one frame. The lock only snapshots the connection pointer;
// coder/websocket serializes concurrent writers internally.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	if t.Recorder != nil {
		t.Recorder.RecordFrame("out", payload)
	}
	return nil
}

// Connected reports whether a connection is currently established.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// ConnectionID identifies the current connection; it changes on reconnect.
func (t *Transport) ConnectionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connectionID
}

// readLoop is the transport's single receive point.
func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			t.handleReadFailure(ctx, conn, err)
			return
		}
		if t.Recorder != nil {
			t.Recorder.RecordFrame("in", payload)
		}
		if t.OnFrame != nil {
			t.OnFrame(payload)
		}
	}
}

func (t *Transport) handleReadFailure(ctx context.Context, conn *websocket.Conn, err error) {
	t.mu.Lock()
	// A stale loop from a replaced connection must not tear down the new one.
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.pumpCancel != nil {
		t.pumpCancel()
	}
	closed := t.closed
	t.mu.Unlock()

	conn.Close(websocket.StatusAbnormalClosure, "read loop terminated")

	if closed || ctx.Err() != nil {
		return
	}

	log.Printf("[hub] connection lost: %v", err)
	if t.Recorder != nil {
		t.Recorder.RecordEvent("disconnected", err.Error())
	}
	if t.OnDisconnect != nil {
		t.OnDisconnect(err)
	}
	if t.opts.ReconnectAttempts != 0 {
		go t.reconnectLoop()
	}
}

// keepaliveLoop pings on a fixed interval so half-open connections surface
// as read failures instead of silent timeouts minutes later.
func (t *Transport) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, t.opts.KeepaliveInterval/2)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[hub] keepalive ping failed: %v", err)
					conn.Close(websocket.StatusAbnormalClosure, "keepalive failed")
				}
				return
			}
		}
	}
}

// reconnectLoop retries with exponential backoff and jitter until a
// connection sticks, attempts run out, or the transport is closed.
func (t *Transport) reconnectLoop() {
	t.mu.Lock()
	if t.reconnecting || t.closed {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.reconnecting = false
		t.mu.Unlock()
	}()

	delay := t.opts.ReconnectMinDelay
	for attempt := 1; ; attempt++ {
		if t.opts.ReconnectAttempts > 0 && attempt > t.opts.ReconnectAttempts {
			log.Printf("[hub] giving up after %d reconnect attempts", t.opts.ReconnectAttempts)
			if t.Recorder != nil {
				t.Recorder.RecordEvent("reconnect_exhausted", "")
			}
			return
		}

		sleep := delay + time.Duration(rand.Int63n(int64(delay)/4+1))
		select {
		case <-t.lifeCtx.Done():
			return
		case <-time.After(sleep):
		}

		log.Printf("[hub] reconnect attempt %d", attempt)
		err := t.establish(t.lifeCtx)
		if err == nil {
			t.mu.RLock()
			connectionID := t.connectionID
			t.mu.RUnlock()
			log.Printf("[hub] reconnected (connection %s)", connectionID)
			if t.OnReconnect != nil {
				t.OnReconnect(connectionID)
			}
			return
		}

		log.Printf("[hub] reconnect attempt %d failed: %v", attempt, err)
		delay *= 2
		if delay > t.opts.ReconnectMaxDelay {
			delay = t.opts.ReconnectMaxDelay
		}
	}
}

// Close tears the connection down permanently; no reconnect follows.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	if t.pumpCancel != nil {
		t.pumpCancel()
	}
	t.mu.Unlock()

	t.lifeCancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	if t.Recorder != nil {
		t.Recorder.RecordEvent("closed", "")
	}
	return nil
}
