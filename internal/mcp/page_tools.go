package mcp

import (
	"context"
	"fmt"

	"erpnerd-mcp-server/internal/page"
)

// GetPageMetadataTool opens a page and extracts its field/action metadata.
type GetPageMetadataTool struct {
	lifecycle *page.Lifecycle
}

func (t *GetPageMetadataTool) Name() string { return "get-page-metadata" }
func (t *GetPageMetadataTool) Description() string {
	return `Open an ERP page and return its fields and actions.

PREREQUISITE: hub must be connected (use connect-hub first).

WHAT IT DOES:
- Sends OpenForm for the requested page id and waits for the response
- Walks the control tree and classifies every control by its type tag
- Closes the form again before returning (leaving it open makes the server
  hand back a stale cached instance on the next request)

WHEN TO USE:
- Discovering what fields a page exposes before reasoning about it
- Verifying a page's action surface (buttons, menu items)

RESULT NOTES:
- page_id comes from the form's cache key, never from the request; a mismatch
  with the requested id means the server substituted a different page
- correlation_confirmed=false means the form was picked by fallback and may
  not be the requested one (also recorded as a correlation_fallback fact)

Returns: {page: {page_id, caption, fields, actions, control_count,
                 correlation_confirmed}}`
}
func (t *GetPageMetadataTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"page_id": map[string]interface{}{
				"type":        "string",
				"description": "Numeric page id to open, e.g. \"22\"",
			},
		},
		"required": []string{"page_id"},
	}
}
func (t *GetPageMetadataTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pageID := getStringArg(args, "page_id")
	if pageID == "" {
		return nil, fmt.Errorf("page_id is required")
	}

	meta, err := t.lifecycle.GetPageMetadata(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"page": meta}, nil
}

// ListPagesTool queries the page catalog.
type ListPagesTool struct {
	catalog *page.Catalog
}

func (t *ListPagesTool) Name() string { return "list-pages" }
func (t *ListPagesTool) Description() string {
	return `List known ERP pages from the catalog.

The catalog is seeded from configuration and grows as pages are opened; it is
a directory of what this server has seen, not the server's full page list.

WHEN TO USE:
- Finding a page id by caption before get-page-metadata
- Checking what has already been explored this session

Returns: {pages: [{page_id, caption}], count}`
}
func (t *ListPagesTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Optional case-insensitive substring over page id and caption",
			},
		},
	}
}
func (t *ListPagesTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	pages := t.catalog.List(query)
	return map[string]interface{}{
		"pages": pages,
		"count": len(pages),
	}, nil
}
