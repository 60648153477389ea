package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"erpnerd-mcp-server/internal/config"
	"erpnerd-mcp-server/internal/facts"
	"erpnerd-mcp-server/internal/hub"
	"erpnerd-mcp-server/internal/page"
	"erpnerd-mcp-server/internal/protocol"
)

// scriptedInvoker answers OpenForm/CloseForm from a canned form table.
type scriptedInvoker struct {
	forms map[string]protocol.LogicalForm
	calls []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, interaction string, params map[string]interface{}) ([]protocol.Handler, error) {
	s.calls = append(s.calls, interaction)
	if interaction == "CloseForm" {
		return nil, nil
	}
	pageID, _ := params["page"].(string)
	form, ok := s.forms[pageID]
	if !ok {
		return nil, &protocol.RemoteError{Code: 404, Message: "no such page"}
	}
	return []protocol.Handler{
		{Name: protocol.HandlerCallbackCompletion, Callback: &protocol.CallbackCompletion{
			Completed: []protocol.CompletedInteraction{{CallbackID: "1", Result: json.RawMessage(`"` + form.ServerID + `"`)}},
		}},
		{Name: protocol.HandlerFormToShow, Form: &form},
	}, nil
}

func newTestServer(t *testing.T) (*Server, *scriptedInvoker) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Facts.SchemaPath = "../../schemas/hub.mg"

	engine, err := facts.NewEngine(cfg.Facts)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	invoker := &scriptedInvoker{forms: map[string]protocol.LogicalForm{
		"21": {
			ServerID: "form_100",
			Caption:  "Customer Card",
			CacheKey: "21:pagemode(Edit):embedded(False)",
			Children: []protocol.Control{
				{ID: "name", Type: "se", Caption: "Name"},
				{ID: "post", Type: "ab", Caption: "Post"},
			},
		},
	}}

	catalog := page.NewCatalog([]page.PageRef{{PageID: "42", Caption: "Seeded Page"}})
	lifecycle := page.NewLifecycle(invoker, catalog, engine)
	session := hub.NewSession(hub.Options{URL: "ws://127.0.0.1:1", HandshakeTimeout: 200 * time.Millisecond}, time.Second, engine)

	srv, err := NewServer(cfg, session, lifecycle, catalog, engine)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, invoker
}

func TestServerRegistersTools(t *testing.T) {
	srv, _ := newTestServer(t)

	expected := []string{
		"connect-hub", "disconnect-hub", "hub-status",
		"get-page-metadata", "list-pages",
		"read-facts", "query-facts", "query-temporal",
		"submit-rule", "evaluate-rule",
	}
	for _, name := range expected {
		if _, ok := srv.tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
	if len(srv.tools) != len(expected) {
		t.Errorf("expected %d tools, got %d", len(expected), len(srv.tools))
	}
}

func TestExecuteToolUnknown(t *testing.T) {
	srv, _ := newTestServer(t)
	if _, err := srv.ExecuteTool("no-such-tool", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	// Channels are not JSON-serializable; the fallback envelope must still be
	// valid JSON.
	payload := marshalToolPayload("broken-tool", map[string]interface{}{"ch": make(chan int)})
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("fallback payload unreadable: %v", err)
	}
	if decoded["success"] != false {
		t.Errorf("fallback payload missing failure marker: %s", payload)
	}
	if !strings.Contains(decoded["error"].(string), "broken-tool") {
		t.Errorf("fallback payload missing tool name: %s", payload)
	}
}
