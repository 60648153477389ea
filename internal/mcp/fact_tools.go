package mcp

import (
	"context"
	"fmt"
	"time"

	"erpnerd-mcp-server/internal/facts"
)

// ReadFactsTool returns a recent slice of the fact buffer.
type ReadFactsTool struct {
	engine *facts.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read recent diagnostic facts from the buffer.

Every protocol event is recorded as a fact: transport_event, interaction_event,
handler_batch, unsolicited_frame, form_opened, form_closed,
correlation_fallback.

WHEN TO USE:
- Inspecting what the hub session actually did, in order
- Checking for correlation fallbacks or unclean form closes after a request

Returns: {facts: [{predicate, args, timestamp}], count} in chronological order.`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Optional predicate filter, e.g. form_opened",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max facts to return (default 25, cap 500)",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	limit := clampLimit(getIntArg(args, "limit", 25))

	var source []facts.Fact
	if predicate != "" {
		source = t.engine.FactsByPredicate(predicate)
	} else {
		source = t.engine.Facts()
	}
	if len(source) > limit {
		source = source[len(source)-limit:]
	}

	return map[string]interface{}{
		"predicate": predicate,
		"facts":     source,
		"count":     len(source),
	}, nil
}

// QueryFactsTool runs a Mangle query with variable bindings.
type QueryFactsTool struct {
	engine *facts.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query against the fact store.

Variables bind to matching fact arguments. Examples:
- form_opened(PageId, FormId, Confirmed).
- correlation_fallback(PageId, FormId).
- interaction_event("OpenForm", CallbackId, Outcome).

Returns: {bindings: [{Var: value, ...}], count}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query, e.g. form_opened(PageId, FormId, Confirmed).",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"bindings": results,
		"count":    len(results),
	}, nil
}

// QueryTemporalTool reads facts inside a time window.
type QueryTemporalTool struct {
	engine *facts.Engine
}

func (t *QueryTemporalTool) Name() string { return "query-temporal" }
func (t *QueryTemporalTool) Description() string {
	return `Read facts for one predicate within a recent time window.

WHEN TO USE:
- "What happened in the last N seconds" style debugging
- Correlating fallbacks or disconnects with a specific request

Returns: {facts: [{predicate, args, timestamp}], count}`
}
func (t *QueryTemporalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to read, e.g. transport_event",
			},
			"last_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Window size in seconds (default 300)",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *QueryTemporalTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	lastSeconds := getIntArg(args, "last_seconds", 300)
	if lastSeconds <= 0 {
		lastSeconds = 300
	}

	after := time.Now().Add(-time.Duration(lastSeconds) * time.Second)
	found := t.engine.QueryTemporal(predicate, after, time.Time{})
	return map[string]interface{}{
		"predicate":    predicate,
		"last_seconds": lastSeconds,
		"facts":        found,
		"count":        len(found),
	}, nil
}

// SubmitRuleTool adds a Mangle rule to the engine.
type SubmitRuleTool struct {
	engine *facts.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Mangle rule deriving new predicates from recorded facts.

Example:
  Decl leaked_form(FormId).
  leaked_form(FormId) :- form_opened(PageId, FormId, Confirmed),
                         unclean_close(FormId).

Use evaluate-rule afterwards to materialize the derived predicate.

Returns: {status: "added"}`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle rule source including its Decl",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "added"}, nil
}

// EvaluateRuleTool materializes a derived predicate.
type EvaluateRuleTool struct {
	engine *facts.Engine
}

func (t *EvaluateRuleTool) Name() string { return "evaluate-rule" }
func (t *EvaluateRuleTool) Description() string {
	return `Evaluate a derived predicate over the current fact buffer.

Built-in derived predicates (schemas/hub.mg):
- suspect_page(PageId): pages whose form was picked by correlation fallback
- unclean_close(FormId): forms whose close the server never acknowledged

Returns: {facts: [{predicate, args}], count}`
}
func (t *EvaluateRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Derived predicate name, e.g. suspect_page",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *EvaluateRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	derived, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"predicate": predicate,
		"facts":     derived,
		"count":     len(derived),
	}, nil
}
