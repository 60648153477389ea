package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"erpnerd-mcp-server/internal/facts"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"erpnerd://about",
			"ERPNerd About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("High-level server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"erpnerd://pages",
			"Known Pages",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("The page catalog: config seeds plus every page opened this run."),
		),
		s.handlePagesResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"erpnerd://facts{?predicate,limit}",
			"Diagnostic Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Read a token-efficient slice of recorded protocol facts (optionally filtered by predicate)."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"Resources are read-only context endpoints; use tools for actions/mutations.",
			"Page metadata requests go through get-page-metadata; the hub allows one tracked form at a time.",
			"Protocol events are recorded as Mangle facts; query them via query-facts or the facts resource.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handlePagesResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.catalog == nil {
		return nil, fmt.Errorf("page catalog unavailable")
	}

	pages := s.catalog.List("")
	payload := map[string]interface{}{
		"pages": pages,
		"count": len(pages),
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("fact engine unavailable")
	}

	predicate := argString(request.Params.Arguments["predicate"])
	limit := clampLimit(asInt(request.Params.Arguments["limit"]))

	found := selectRecentFacts(s.engine, predicate, limit)

	payload := map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(found),
		"facts":     found,
	}
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentFacts returns the newest facts in chronological order.
func selectRecentFacts(engine *facts.Engine, predicate string, limit int) []facts.Fact {
	if engine == nil || limit <= 0 {
		return []facts.Fact{}
	}

	var source []facts.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}
	if len(source) > limit {
		source = source[len(source)-limit:]
	}
	return source
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		var n int
		fmt.Sscanf(value, "%d", &n)
		return n
	default:
		return 0
	}
}
