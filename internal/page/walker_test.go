package page

import (
	"reflect"
	"testing"

	"erpnerd-mcp-server/internal/protocol"
)

func sampleForm() *protocol.LogicalForm {
	return &protocol.LogicalForm{
		ServerID: "form_10",
		Caption:  "Customer Card",
		CacheKey: "21:pagemode(Edit):embedded(False)",
		Children: []protocol.Control{
			{ID: "general", Type: "sg", Caption: "General", Children: []protocol.Control{
				{ID: "no", Type: "se", Caption: "No."},
				{ID: "name", Type: "se", Caption: "Name", Editable: true},
				{ID: "balance", Type: "de", Caption: "Balance (LCY)"},
			}},
			{ID: "actions", Type: "sc", Children: []protocol.Control{
				{ID: "post", Type: "ab", Caption: "Post", Enabled: true},
			}},
		},
	}
}

func TestWalkPreOrder(t *testing.T) {
	var order []string
	Walk(sampleForm(), func(c *protocol.Control, _ int) bool {
		order = append(order, c.ID)
		return true
	})

	want := []string{"general", "no", "name", "balance", "actions", "post"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("visit order = %v, want %v", order, want)
	}
}

func TestWalkEarlyStop(t *testing.T) {
	var visited int
	Walk(sampleForm(), func(c *protocol.Control, _ int) bool {
		visited++
		return c.ID != "name"
	})
	if visited != 3 {
		t.Fatalf("expected traversal to stop after 3 visits, got %d", visited)
	}
}

func TestFindByIDShortCircuits(t *testing.T) {
	c, ok := FindByID(sampleForm(), "balance")
	if !ok || c.Caption != "Balance (LCY)" {
		t.Fatalf("find balance: ok=%v c=%#v", ok, c)
	}

	if _, ok := FindByID(sampleForm(), "missing"); ok {
		t.Fatalf("found a control that does not exist")
	}
}

func TestFilterByType(t *testing.T) {
	fields := FilterByType(sampleForm(), map[string]bool{"se": true, "de": true})
	if len(fields) != 3 {
		t.Fatalf("expected 3 value controls, got %d", len(fields))
	}
	if fields[0].ID != "no" || fields[2].ID != "balance" {
		t.Fatalf("filter lost pre-order: %v", fields)
	}
}

func TestStats(t *testing.T) {
	stats := Stats(sampleForm())
	if stats.Total != 6 {
		t.Fatalf("total = %d, want 6", stats.Total)
	}
	if stats.MaxDepth != 2 {
		t.Fatalf("max depth = %d, want 2", stats.MaxDepth)
	}
	if stats.ByType["se"] != 2 || stats.ByType["ab"] != 1 {
		t.Fatalf("per-type counts wrong: %v", stats.ByType)
	}
}

func TestWalkCycleGuard(t *testing.T) {
	form := &protocol.LogicalForm{
		Children: []protocol.Control{{ID: "a", Type: "sg"}},
	}
	// Splice the node into its own children to simulate a corrupted tree.
	form.Children[0].Children = form.Children

	done := make(chan int, 1)
	go func() {
		var n int
		Walk(form, func(*protocol.Control, int) bool {
			n++
			return n < 1000
		})
		done <- n
	}()

	n := <-done
	if n >= 1000 {
		t.Fatalf("traversal did not terminate on a cyclic tree")
	}
}
