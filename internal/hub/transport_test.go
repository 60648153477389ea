package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// hubStub accepts one connection, answers the negotiation frame, and hands
// the connection to the test.
type hubStub struct {
	t         *testing.T
	rejectMsg string
	authSeen  chan string

	mu   sync.Mutex
	conn *websocket.Conn
}

func newHubStub(t *testing.T) (*hubStub, *httptest.Server) {
	stub := &hubStub{t: t, authSeen: make(chan string, 4)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.authSeen <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		ctx := r.Context()
		_, handshake, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var neg struct {
			Protocol string `json:"protocol"`
			Version  int    `json:"version"`
		}
		if err := json.Unmarshal(handshake, &neg); err != nil || neg.Protocol != "json" {
			conn.Write(ctx, websocket.MessageText, []byte(`{"error": "bad negotiation"}`))
			return
		}
		if stub.rejectMsg != "" {
			conn.Write(ctx, websocket.MessageText, []byte(`{"error": "`+stub.rejectMsg+`"}`))
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{}`)); err != nil {
			return
		}

		stub.mu.Lock()
		stub.conn = conn
		stub.mu.Unlock()

		// Keep the connection alive until the client goes away.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *hubStub) push(t *testing.T, payload string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			if err := conn.Write(context.Background(), websocket.MessageText, []byte(payload)); err != nil {
				t.Fatalf("push frame: %v", err)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("server never completed the handshake")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransportConnectAndReceive(t *testing.T) {
	stub, srv := newHubStub(t)

	frames := make(chan []byte, 4)
	tr := NewTransport(Options{URL: wsURL(srv), Token: "secret-token"})
	tr.OnFrame = func(payload []byte) { frames <- payload }
	t.Cleanup(func() { tr.Close() })

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !tr.Connected() {
		t.Fatalf("transport does not report connected")
	}
	if tr.ConnectionID() == "" {
		t.Fatalf("missing connection id")
	}
	if auth := <-stub.authSeen; auth != "Bearer secret-token" {
		t.Fatalf("authorization header = %q", auth)
	}

	stub.push(t, `{"callbackId": "9", "result": []}`)
	select {
	case payload := <-frames:
		if !strings.Contains(string(payload), `"callbackId"`) {
			t.Fatalf("unexpected frame: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never delivered")
	}

	if err := tr.Send(context.Background(), []byte(`{"interactionName": "OpenForm"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestTransportHandshakeRejected(t *testing.T) {
	stub, srv := newHubStub(t)
	stub.rejectMsg = "unsupported client"

	tr := NewTransport(Options{URL: wsURL(srv)})
	t.Cleanup(func() { tr.Close() })

	err := tr.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "handshake" {
		t.Fatalf("expected handshake TransportError, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("rejected handshake left transport connected")
	}
}

func TestTransportDialFailure(t *testing.T) {
	tr := NewTransport(Options{URL: "ws://127.0.0.1:1", HandshakeTimeout: 500 * time.Millisecond})
	t.Cleanup(func() { tr.Close() })

	err := tr.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Fatalf("expected dial TransportError, got %v", err)
	}
}

func TestTransportDisconnectCallback(t *testing.T) {
	stub, srv := newHubStub(t)

	disconnected := make(chan error, 1)
	tr := NewTransport(Options{URL: wsURL(srv)})
	tr.OnDisconnect = func(err error) { disconnected <- err }
	t.Cleanup(func() { tr.Close() })

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Force the handshake to finish so the stub holds the live connection,
	// then kill it from the server side.
	stub.push(t, `{}`)
	stub.mu.Lock()
	stub.conn.Close(websocket.StatusGoingAway, "server restart")
	stub.mu.Unlock()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect never reported")
	}
	if tr.Connected() {
		t.Fatalf("transport still reports connected after server close")
	}
}

func TestTransportSendWhileDisconnected(t *testing.T) {
	tr := NewTransport(Options{URL: "ws://unused"})
	if err := tr.Send(context.Background(), []byte(`{}`)); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

