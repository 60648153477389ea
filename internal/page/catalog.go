package page

import (
	"sort"
	"strings"
	"sync"
)

// PageRef is one entry in the known-page catalog.
type PageRef struct {
	PageID  string `json:"pageId"`
	Caption string `json:"caption"`
}

// Catalog tracks the pages this session knows about: seeded from config and
// grown as pages are opened and report their real captions. Discovery is
// observational, the hub has no page enumeration call.
type Catalog struct {
	mu    sync.RWMutex
	pages map[string]PageRef
}

func NewCatalog(seed []PageRef) *Catalog {
	c := &Catalog{pages: make(map[string]PageRef)}
	for _, ref := range seed {
		if ref.PageID == "" {
			continue
		}
		c.pages[ref.PageID] = ref
	}
	return c
}

// Record upserts a page. A caption learned from a live form wins over the
// seeded one; an empty caption never overwrites a known one.
func (c *Catalog) Record(pageID, caption string) {
	if pageID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.pages[pageID]
	if ok && caption == "" {
		return
	}
	existing.PageID = pageID
	if caption != "" {
		existing.Caption = caption
	}
	c.pages[pageID] = existing
}

// List returns catalog entries whose id or caption contains the query,
// case-insensitively, sorted by page id. An empty query returns everything.
func (c *Catalog) List(query string) []PageRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	needle := strings.ToLower(query)
	out := make([]PageRef, 0, len(c.pages))
	for _, ref := range c.pages {
		if needle != "" &&
			!strings.Contains(strings.ToLower(ref.PageID), needle) &&
			!strings.Contains(strings.ToLower(ref.Caption), needle) {
			continue
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}
