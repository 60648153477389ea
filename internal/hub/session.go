package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"erpnerd-mcp-server/internal/protocol"
)

// Session is the long-lived hub link the tools drive. A Transport is
// single-use (Close is permanent), so the session builds a fresh one per
// Connect and keeps the invocation client across connect cycles.
type Session struct {
	opts   Options
	client *Client

	// Wiring, set before the first Connect.
	Recorder     FrameRecorder
	OnDisconnect func(err error)
	OnReconnect  func(connectionID string)

	mu        sync.Mutex
	transport *Transport
}

func NewSession(opts Options, invokeTimeout time.Duration, sink EventSink) *Session {
	s := &Session{opts: opts}
	s.client = NewClient(s, invokeTimeout, sink)
	return s
}

// Client exposes the invocation layer for wiring (OpenForms, status).
func (s *Session) Client() *Client {
	return s.client
}

// Connect dials the hub and starts the pump loops. A connected session
// rejects a second Connect; disconnect first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		return &TransportError{Op: "connect", Err: fmt.Errorf("session already connected")}
	}
	s.mu.Unlock()

	t := NewTransport(s.opts)
	t.Recorder = s.Recorder
	t.OnFrame = s.client.HandleFrame
	t.OnDisconnect = func(err error) {
		s.client.FailPending(err)
		if s.OnDisconnect != nil {
			s.OnDisconnect(err)
		}
	}
	t.OnReconnect = s.OnReconnect

	if err := t.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	return nil
}

// Disconnect tears the link down deliberately. In-flight calls fail with
// ErrConnectionLost; the deliberate close path never auto-reconnects.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}
	err := t.Close()
	s.client.FailPending(ErrConnectionLost)
	return err
}

// Send implements Sender against whichever transport is current.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Send(ctx, payload)
}

// Invoke runs one interaction through the current connection.
func (s *Session) Invoke(ctx context.Context, interaction string, params map[string]interface{}) ([]protocol.Handler, error) {
	return s.client.Invoke(ctx, interaction, params)
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	return t != nil && t.Connected()
}

func (s *Session) ConnectionID() string {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return ""
	}
	return t.ConnectionID()
}

// PendingCount reports in-flight invocations, for the status surface.
func (s *Session) PendingCount() int {
	return s.client.PendingCount()
}
