// Package page turns a decoded LogicalForm into caller-facing page metadata
// and owns the form lifecycle discipline against the hub's session-scoped
// form cache.
package page

import "erpnerd-mcp-server/internal/protocol"

// Visitor is called once per control in pre-order. Returning false stops the
// traversal early; the walker never revisits a node.
type Visitor func(c *protocol.Control, depth int) bool

// Walk performs a depth-first pre-order traversal of the form's control tree:
// each node before its children, children in declaration order. Controls with
// no children field are leaves. The server contract says tree, not graph, but
// a seen-set guards against a malformed payload smuggling a cycle in.
func Walk(form *protocol.LogicalForm, visit Visitor) {
	if form == nil {
		return
	}
	seen := make(map[*protocol.Control]bool)
	walkControls(form.Children, 0, seen, visit)
}

func walkControls(controls []protocol.Control, depth int, seen map[*protocol.Control]bool, visit Visitor) bool {
	for i := range controls {
		c := &controls[i]
		if seen[c] {
			continue
		}
		seen[c] = true
		if !visit(c, depth) {
			return false
		}
		if !walkControls(c.Children, depth+1, seen, visit) {
			return false
		}
	}
	return true
}

// CollectAll flattens the tree into pre-order.
func CollectAll(form *protocol.LogicalForm) []*protocol.Control {
	var out []*protocol.Control
	Walk(form, func(c *protocol.Control, _ int) bool {
		out = append(out, c)
		return true
	})
	return out
}

// FilterByType flattens the tree keeping only controls whose type tag is in
// the given set, preserving pre-order.
func FilterByType(form *protocol.LogicalForm, tags map[string]bool) []*protocol.Control {
	var out []*protocol.Control
	Walk(form, func(c *protocol.Control, _ int) bool {
		if tags[c.Type] {
			out = append(out, c)
		}
		return true
	})
	return out
}

// FindByID returns the first control with the given identifier, stopping the
// traversal as soon as it is found.
func FindByID(form *protocol.LogicalForm, id string) (*protocol.Control, bool) {
	var found *protocol.Control
	Walk(form, func(c *protocol.Control, _ int) bool {
		if c.ID == id {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// TreeStats aggregates per-type counts, total size, and maximum depth in a
// single traversal.
type TreeStats struct {
	Total    int
	MaxDepth int
	ByType   map[string]int
}

// Stats computes TreeStats for the form's control tree. Depth is 1 for the
// form's direct children.
func Stats(form *protocol.LogicalForm) TreeStats {
	stats := TreeStats{ByType: make(map[string]int)}
	Walk(form, func(c *protocol.Control, depth int) bool {
		stats.Total++
		stats.ByType[c.Type]++
		if depth+1 > stats.MaxDepth {
			stats.MaxDepth = depth + 1
		}
		return true
	})
	return stats
}
