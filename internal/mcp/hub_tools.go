package mcp

import (
	"context"
	"errors"

	"erpnerd-mcp-server/internal/facts"
	"erpnerd-mcp-server/internal/hub"
	"erpnerd-mcp-server/internal/page"
)

// ConnectHubTool dials the configured hub endpoint.
type ConnectHubTool struct {
	session *hub.Session
}

func (t *ConnectHubTool) Name() string { return "connect-hub" }
func (t *ConnectHubTool) Description() string {
	return `Connect to the ERP application server hub.

CALL THIS FIRST before requesting page metadata.

WHAT IT DOES:
- Opens the WebSocket to the configured hub URL with the configured credentials
- Runs the protocol negotiation handshake
- Starts the keepalive and auto-reconnect machinery

WHEN TO USE:
- Start of a session (unless the server was started with auto_connect)
- After disconnect-hub to re-establish the link
- Idempotent: reports already_connected if the link is up

Returns: {status: "connected"|"already_connected", connection_id}`
}
func (t *ConnectHubTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ConnectHubTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.session.Connected() {
		return map[string]interface{}{
			"status":        "already_connected",
			"connection_id": t.session.ConnectionID(),
		}, nil
	}

	if err := t.session.Connect(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":        "connected",
		"connection_id": t.session.ConnectionID(),
	}, nil
}

// DisconnectHubTool tears the hub link down and releases the tracked form.
type DisconnectHubTool struct {
	session   *hub.Session
	lifecycle *page.Lifecycle
}

func (t *DisconnectHubTool) Name() string { return "disconnect-hub" }
func (t *DisconnectHubTool) Description() string {
	return `Disconnect from the ERP application server hub.

WHAT IT DOES:
- Closes the tracked form on the server (best-effort) while the socket is up
- Tears down the WebSocket; no auto-reconnect follows
- Fails any in-flight invocations

WHEN TO USE:
- End of a session to release server resources
- Before reconnecting with different intent

NOTE: The diagnostic fact buffer persists across disconnects.

Returns: {status: "disconnected"|"not_connected"}`
}
func (t *DisconnectHubTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *DisconnectHubTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if !t.session.Connected() {
		return map[string]interface{}{"status": "not_connected"}, nil
	}

	// Release the tracked form while we can still talk to the server.
	t.lifecycle.Close(ctx)

	if err := t.session.Disconnect(); err != nil && !errors.Is(err, hub.ErrNotConnected) {
		return nil, err
	}
	return map[string]interface{}{"status": "disconnected"}, nil
}

// HubStatusTool reports connection, lifecycle, and fact-engine state.
type HubStatusTool struct {
	session   *hub.Session
	lifecycle *page.Lifecycle
	engine    *facts.Engine
}

func (t *HubStatusTool) Name() string { return "hub-status" }
func (t *HubStatusTool) Description() string {
	return `Report the current hub session state.

USE THIS to check connectivity before page metadata requests, or to debug a
stuck session.

Returns: {connected, connection_id, pending_calls,
          lifecycle: {state, open_form, open_page},
          facts: {ready, buffered}}`
}
func (t *HubStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *HubStatusTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	state, openForm, openPage := t.lifecycle.Status()

	return map[string]interface{}{
		"connected":     t.session.Connected(),
		"connection_id": t.session.ConnectionID(),
		"pending_calls": t.session.PendingCount(),
		"lifecycle": map[string]interface{}{
			"state":     string(state),
			"open_form": openForm,
			"open_page": openPage,
		},
		"facts": map[string]interface{}{
			"ready":    t.engine.Ready(),
			"buffered": len(t.engine.Facts()),
		},
	}, nil
}
