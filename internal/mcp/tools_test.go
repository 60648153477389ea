package mcp

import (
	"testing"

	"erpnerd-mcp-server/internal/page"
)

func TestGetPageMetadataTool(t *testing.T) {
	srv, invoker := newTestServer(t)

	result, err := srv.ExecuteTool("get-page-metadata", map[string]interface{}{"page_id": "21"})
	if err != nil {
		t.Fatalf("get-page-metadata: %v", err)
	}

	payload := result.(map[string]interface{})
	meta := payload["page"].(*page.PageMetadata)
	if meta.PageID != "21" {
		t.Errorf("page id = %q, want 21", meta.PageID)
	}
	if len(meta.Fields) != 1 || meta.Fields[0].Name != "name" {
		t.Errorf("fields = %+v", meta.Fields)
	}
	if len(meta.Actions) != 1 || meta.Actions[0].Name != "post" {
		t.Errorf("actions = %+v", meta.Actions)
	}
	if !meta.CorrelationConfirmed {
		t.Error("correlation should be confirmed for a matching handle")
	}
	if len(invoker.calls) != 2 || invoker.calls[0] != "OpenForm" || invoker.calls[1] != "CloseForm" {
		t.Errorf("interaction sequence = %v", invoker.calls)
	}
}

func TestGetPageMetadataToolValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	if _, err := srv.ExecuteTool("get-page-metadata", map[string]interface{}{}); err == nil {
		t.Fatal("missing page_id accepted")
	}
	if _, err := srv.ExecuteTool("get-page-metadata", map[string]interface{}{"page_id": "999"}); err == nil {
		t.Fatal("unknown page did not surface the remote error")
	}
}

func TestListPagesTool(t *testing.T) {
	srv, _ := newTestServer(t)

	// Opening a page enriches the catalog beyond the config seed.
	if _, err := srv.ExecuteTool("get-page-metadata", map[string]interface{}{"page_id": "21"}); err != nil {
		t.Fatalf("get-page-metadata: %v", err)
	}

	result, err := srv.ExecuteTool("list-pages", map[string]interface{}{})
	if err != nil {
		t.Fatalf("list-pages: %v", err)
	}
	payload := result.(map[string]interface{})
	if payload["count"] != 2 {
		t.Fatalf("count = %v, want 2 (seed + opened)", payload["count"])
	}

	result, err = srv.ExecuteTool("list-pages", map[string]interface{}{"query": "customer"})
	if err != nil {
		t.Fatalf("list-pages with query: %v", err)
	}
	payload = result.(map[string]interface{})
	pages := payload["pages"].([]page.PageRef)
	if len(pages) != 1 || pages[0].PageID != "21" {
		t.Errorf("query result = %+v", pages)
	}
}

func TestHubStatusToolDisconnected(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.ExecuteTool("hub-status", nil)
	if err != nil {
		t.Fatalf("hub-status: %v", err)
	}
	payload := result.(map[string]interface{})
	if payload["connected"] != false {
		t.Errorf("connected = %v while no link exists", payload["connected"])
	}
	lifecycle := payload["lifecycle"].(map[string]interface{})
	if lifecycle["state"] != string(page.StateClosed) {
		t.Errorf("lifecycle state = %v", lifecycle["state"])
	}
}

func TestConnectHubToolDialFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	// The test session points at an unreachable endpoint.
	if _, err := srv.ExecuteTool("connect-hub", nil); err == nil {
		t.Fatal("connect against unreachable hub succeeded")
	}
}

func TestDisconnectHubToolIdle(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.ExecuteTool("disconnect-hub", nil)
	if err != nil {
		t.Fatalf("disconnect-hub: %v", err)
	}
	payload := result.(map[string]interface{})
	if payload["status"] != "not_connected" {
		t.Errorf("status = %v", payload["status"])
	}
}

func TestFactToolsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	// Generate facts through the real path: one open, one fallback-free close.
	if _, err := srv.ExecuteTool("get-page-metadata", map[string]interface{}{"page_id": "21"}); err != nil {
		t.Fatalf("get-page-metadata: %v", err)
	}

	result, err := srv.ExecuteTool("read-facts", map[string]interface{}{"predicate": "form_opened"})
	if err != nil {
		t.Fatalf("read-facts: %v", err)
	}
	if result.(map[string]interface{})["count"] != 1 {
		t.Errorf("read-facts count = %v", result.(map[string]interface{})["count"])
	}

	result, err = srv.ExecuteTool("query-facts", map[string]interface{}{"query": "form_opened(PageId, FormId, Confirmed)."})
	if err != nil {
		t.Fatalf("query-facts: %v", err)
	}
	if result.(map[string]interface{})["count"] != 1 {
		t.Errorf("query-facts count = %v", result.(map[string]interface{})["count"])
	}

	result, err = srv.ExecuteTool("query-temporal", map[string]interface{}{"predicate": "form_opened", "last_seconds": 60})
	if err != nil {
		t.Fatalf("query-temporal: %v", err)
	}
	if result.(map[string]interface{})["count"] != 1 {
		t.Errorf("query-temporal count = %v", result.(map[string]interface{})["count"])
	}

	if _, err := srv.ExecuteTool("query-facts", map[string]interface{}{}); err == nil {
		t.Error("query-facts without query accepted")
	}
}

func TestRuleToolsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	rule := `
Decl opened_page(PageId).

opened_page(PageId) :- form_opened(PageId, FormId, Confirmed).
`
	if _, err := srv.ExecuteTool("submit-rule", map[string]interface{}{"rule": rule}); err != nil {
		t.Fatalf("submit-rule: %v", err)
	}

	if _, err := srv.ExecuteTool("get-page-metadata", map[string]interface{}{"page_id": "21"}); err != nil {
		t.Fatalf("get-page-metadata: %v", err)
	}

	result, err := srv.ExecuteTool("evaluate-rule", map[string]interface{}{"predicate": "opened_page"})
	if err != nil {
		t.Fatalf("evaluate-rule: %v", err)
	}
	if result.(map[string]interface{})["count"] != 1 {
		t.Errorf("evaluate-rule count = %v", result.(map[string]interface{})["count"])
	}
}
