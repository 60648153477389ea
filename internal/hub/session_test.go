package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"erpnerd-mcp-server/internal/protocol"
)

func TestSessionInvokeRoundTrip(t *testing.T) {
	stub, srv := newHubStub(t)

	s := NewSession(Options{URL: wsURL(srv)}, 2*time.Second, nil)
	t.Cleanup(func() { s.Disconnect() })

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !s.Connected() || s.ConnectionID() == "" {
		t.Fatalf("session does not report a live connection")
	}

	done := make(chan struct {
		handlers []protocol.Handler
		err      error
	}, 1)
	go func() {
		handlers, err := s.Invoke(context.Background(), "OpenForm", map[string]interface{}{"page": "21"})
		done <- struct {
			handlers []protocol.Handler
			err      error
		}{handlers, err}
	}()

	waitForPending(t, s.Client(), 1)
	// Fresh session, first call, so the callback id is known.
	stub.push(t, `{"callbackId": "1", "result": [{"name": "FormToShow", "parameters": [{"serverId": "form_1", "cacheKey": "21:pagemode(Edit)"}]}]}`)

	res := <-done
	if res.err != nil {
		t.Fatalf("invoke: %v", res.err)
	}
	if len(res.handlers) != 1 || res.handlers[0].Name != protocol.HandlerFormToShow {
		t.Fatalf("unexpected handlers: %+v", res.handlers)
	}
}

func TestSessionConnectDisconnectCycle(t *testing.T) {
	_, srv := newHubStub(t)

	s := NewSession(Options{URL: wsURL(srv)}, time.Second, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}

	// A second Connect on a live session must be rejected.
	if err := s.Connect(context.Background()); err == nil {
		t.Fatalf("double connect succeeded")
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if s.Connected() {
		t.Fatalf("session still connected after disconnect")
	}
	if _, err := s.Invoke(context.Background(), "OpenForm", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	// Disconnect makes room for a fresh connection.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	s.Disconnect()
}

func TestSessionDisconnectWhileIdle(t *testing.T) {
	s := NewSession(Options{URL: "ws://unused"}, time.Second, nil)
	if err := s.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
