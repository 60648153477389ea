// Package facts wraps the Mangle deductive database with hub-specific fact
// management: every notable protocol event becomes a fact, and the MCP
// surface exposes Datalog queries over the buffer.
package facts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"erpnerd-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Fact represents a normalized event emitted by the hub client.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult represents a binding of variables to values from a Mangle query.
type QueryResult map[string]interface{}

// Engine holds the Mangle program plus a bounded temporal fact buffer with a
// per-predicate index.
type Engine struct {
	cfg          config.FactsConfig
	mu           sync.RWMutex
	schemaLoaded bool

	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	// Fact buffer for temporal queries
	facts []Fact

	// Predicate index for O(m) lookup instead of O(n)
	index map[string][]int
}

func NewEngine(cfg config.FactsConfig) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		facts: make([]Fact, 0, cfg.FactBufferLimit),
		index: make(map[string][]int),
		store: factstore.NewSimpleInMemoryStore(),
	}

	if cfg.Enable && cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// LoadSchema parses a Mangle schema file, analyzes it, and prepares the
// engine for evaluation.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	sourceUnit, err := parse.Unit(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}

	// Analyze the program (stratification, safety checks)
	programInfo, err := analysis.AnalyzeOneUnit(sourceUnit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.programInfo = programInfo
	e.schemaLoaded = true

	return nil
}

// AddRule dynamically adds a Mangle rule to the program for runtime
// assertions.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(ruleSource)))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	// Analyze with existing program's declarations as context
	e.mu.Lock()
	defer e.mu.Unlock()

	existingDecls := make(map[ast.PredicateSym]ast.Decl)
	if e.programInfo != nil && e.programInfo.Decls != nil {
		for k, v := range e.programInfo.Decls {
			if v != nil {
				existingDecls[k] = *v
			}
		}
	}

	newProgramInfo, err := analysis.AnalyzeOneUnit(sourceUnit, existingDecls)
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	if e.programInfo == nil {
		e.programInfo = newProgramInfo
	} else {
		for k, v := range newProgramInfo.Decls {
			e.programInfo.Decls[k] = v
		}
	}

	return nil
}

// AddFacts appends incoming facts to both the temporal buffer and the Mangle
// store, then runs incremental evaluation when a schema is loaded.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Add to temporal buffer with circular buffering
	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trimCount := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = e.facts[trimCount:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	// Add to Mangle store for rule evaluation
	for _, f := range facts {
		atom, err := e.factToAtom(f)
		if err != nil {
			continue // Skip malformed facts
		}
		e.store.Add(atom)
	}

	if e.schemaLoaded && e.programInfo != nil {
		// Incremental evaluation (semi-naive)
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
	}

	return nil
}

// Query executes a Mangle query with variable binding and returns all
// satisfying assignments. Falls back to direct buffer search if the Mangle
// store query returns no results.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}

	// In Mangle v0.4.0, queries are just Clauses with a Head atom
	queryAtom := sourceUnit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)

	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)

		// Bind variables from the query to fact arguments
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if varArg, ok := arg.(ast.Variable); ok {
				result[varArg.Symbol] = e.convertConstant(atom.Args[i])
			}
		}

		results = append(results, result)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	// Fallback: if the Mangle store returned nothing, search the temporal
	// buffer directly. This handles facts whose arity never matched a
	// declared predicate.
	if len(results) == 0 {
		results = append(results, e.queryBufferDirect(queryAtom.Predicate.Symbol, queryAtom.Args)...)
	}

	return results, nil
}

// queryBufferDirect searches the temporal buffer for facts matching predicate
// and args pattern.
func (e *Engine) queryBufferDirect(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)

	indices, exists := e.index[predicate]
	if !exists {
		return results
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]

		if len(queryArgs) > 0 && len(f.Args) < len(queryArgs) {
			continue
		}

		result := make(QueryResult)
		matches := true

		for i, qArg := range queryArgs {
			if i >= len(f.Args) {
				break
			}

			if varArg, ok := qArg.(ast.Variable); ok {
				result[varArg.Symbol] = f.Args[i]
			} else if constArg, ok := qArg.(ast.Constant); ok {
				// Constant - must match exactly
				factVal := fmt.Sprintf("%v", f.Args[i])
				queryVal := e.convertConstant(constArg)
				if factVal != fmt.Sprintf("%v", queryVal) {
					matches = false
					break
				}
			}
		}

		if matches {
			results = append(results, result)
		}
	}

	return results
}

// Evaluate runs full program evaluation and returns derived facts for a
// specific predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	// Find the correct arity from declarations
	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}

	predSym := ast.PredicateSym{Symbol: predicate, Arity: arity}
	facts := make([]Fact, 0)

	var queryAtom ast.Atom
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := 0; i < arity; i++ {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom = ast.Atom{Predicate: predSym, Args: args}
	} else {
		queryAtom = ast.Atom{Predicate: predSym}
	}

	err := e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		fact, err := e.atomToFact(atom)
		if err != nil {
			return nil // Skip malformed atoms
		}
		facts = append(facts, fact)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}

	return facts, nil
}

// QueryTemporal queries facts within a time window (temporal reasoning).
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	indices, exists := e.index[predicate]
	if !exists {
		return results
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}

	return results
}

// FactsByPredicate returns matching facts using the index (O(m) instead of O(n)).
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices, exists := e.index[predicate]
	if !exists {
		return []Fact{}
	}

	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			results = append(results, e.facts[idx])
		}
	}

	return results
}

// Facts returns a shallow copy of buffered facts for debugging.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// MatchesAll checks whether every condition has at least one matching fact.
func (e *Engine) MatchesAll(conds []Fact) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cond := range conds {
		indices, exists := e.index[cond.Predicate]
		if !exists {
			return false
		}

		found := false
		for _, idx := range indices {
			if idx < 0 || idx >= len(e.facts) {
				continue
			}
			f := e.facts[idx]

			if len(cond.Args) == 0 {
				found = true
				break
			}

			if len(f.Args) < len(cond.Args) {
				continue
			}

			ok := true
			for i := range cond.Args {
				if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", cond.Args[i]) {
					ok = false
					break
				}
			}

			if ok {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// Ready reports whether the engine has a usable query context.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

// record adds one event fact best-effort; recording must never fail the
// operation that produced the event.
func (e *Engine) record(predicate string, args ...interface{}) {
	fact := Fact{Predicate: predicate, Args: args, Timestamp: time.Now()}
	if err := e.AddFacts(context.Background(), []Fact{fact}); err != nil {
		log.Printf("[facts] record %s: %v", predicate, err)
	}
}

// FormOpened implements the page lifecycle sink.
func (e *Engine) FormOpened(pageID, formID string, confirmed bool) {
	e.record("form_opened", pageID, formID, boolArg(confirmed))
}

// FormClosed implements the page lifecycle sink.
func (e *Engine) FormClosed(formID string, clean bool) {
	e.record("form_closed", formID, boolArg(clean))
}

// CorrelationFallback implements the page lifecycle sink. Every fallback is
// worth an audit trail entry; it is where misattributed pages come from.
func (e *Engine) CorrelationFallback(pageID, formID string) {
	e.record("correlation_fallback", pageID, formID)
}

// UnsolicitedFrame implements the invocation event sink.
func (e *Engine) UnsolicitedFrame(callbackID string) {
	e.record("unsolicited_frame", callbackID)
}

// HandlerBatch implements the invocation event sink.
func (e *Engine) HandlerBatch(callbackID string, handlers int) {
	e.record("handler_batch", callbackID, int64(handlers))
}

// InteractionEvent implements the invocation event sink.
func (e *Engine) InteractionEvent(interaction, callbackID string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = err.Error()
	}
	e.record("interaction_event", interaction, callbackID, outcome)
}

// TransportEvent records connection-level state changes.
func (e *Engine) TransportEvent(kind, detail string) {
	e.record("transport_event", kind, detail)
}

func boolArg(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Helper: Convert Fact to Mangle Atom
func (e *Engine) factToAtom(f Fact) (ast.Atom, error) {
	predSym := ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}

	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = e.toConstant(arg)
	}

	return ast.Atom{
		Predicate: predSym,
		Args:      args,
	}, nil
}

// Helper: Convert Mangle Atom to Fact
func (e *Engine) atomToFact(atom ast.Atom) (Fact, error) {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = e.convertConstant(arg)
	}

	return Fact{
		Predicate: atom.Predicate.Symbol,
		Args:      args,
		Timestamp: time.Now(),
	}, nil
}

// Helper: Convert Go value to Mangle Constant
func (e *Engine) toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

// Helper: Convert Mangle Constant to Go value
func (e *Engine) convertConstant(c ast.BaseTerm) interface{} {
	if c == nil {
		return nil
	}

	switch term := c.(type) {
	case ast.Constant:
		// StringValue is a function returning (string, error) in this
		// version of Mangle.
		if term.Type == ast.StringType {
			val, _ := term.StringValue()
			return val
		} else if term.Type == ast.NumberType {
			return term.NumberValue
		} else if term.Type == ast.Float64Type {
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

// Helper: Rebuild predicate index after circular buffer trim
func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
