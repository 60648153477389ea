package page

import (
	"fmt"
	"strings"

	"erpnerd-mcp-server/internal/protocol"
)

// fieldTags maps the hub's control type tags to the semantic value types we
// expose. The table is fixed: tags observed on real pages but not listed here
// are structural or exotic and are deliberately skipped, never guessed at.
var fieldTags = map[string]string{
	"se":  "text",
	"ie":  "integer",
	"de":  "decimal",
	"dte": "date",
	"tme": "time",
	"be":  "boolean",
	"oe":  "option",
}

// actionTags are the control types that surface as invokable actions.
var actionTags = map[string]bool{
	"ab":  true,
	"ami": true,
	"asb": true,
}

// FieldMetadata describes one data-bound control on a page.
type FieldMetadata struct {
	Name     string `json:"name"`
	Caption  string `json:"caption"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Editable bool   `json:"editable"`
}

// ActionMetadata describes one invokable action on a page.
type ActionMetadata struct {
	Name        string `json:"name"`
	Caption     string `json:"caption"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

// PageMetadata is the caller-facing summary of an opened page.
type PageMetadata struct {
	PageID               string           `json:"pageId"`
	Caption              string           `json:"caption"`
	PageMode             string           `json:"pageMode,omitempty"`
	Embedded             bool             `json:"embedded,omitempty"`
	Fields               []FieldMetadata  `json:"fields"`
	Actions              []ActionMetadata `json:"actions"`
	ControlCount         int              `json:"controlCount"`
	CorrelationConfirmed bool             `json:"correlationConfirmed"`
}

// MalformedCacheKeyError reports a form whose cache key does not carry a page
// identifier in the expected leading position.
type MalformedCacheKeyError struct {
	CacheKey string
}

func (e *MalformedCacheKeyError) Error() string {
	return fmt.Sprintf("cache key %q has no page id prefix", e.CacheKey)
}

// PageIDFromCacheKey extracts the page identifier from a form cache key. The
// key is colon-delimited with the page id first, e.g.
// "22:pagemode(Edit):embedded(False)" identifies page 22. An empty or
// id-less key is a MalformedCacheKeyError; the rest of the key is ignored.
func PageIDFromCacheKey(cacheKey string) (string, error) {
	id, _, _ := strings.Cut(cacheKey, ":")
	if id == "" {
		return "", &MalformedCacheKeyError{CacheKey: cacheKey}
	}
	return id, nil
}

// BuildPageMetadata walks the form's control tree once and classifies every
// control by its type tag. Pre-order gives fields and actions in the order the
// page declares them. The page id comes from the form's cache key, never from
// what the caller asked for, so a wrong form cannot masquerade as the right
// page.
func BuildPageMetadata(form *protocol.LogicalForm, confirmed bool) (*PageMetadata, error) {
	pageID, err := PageIDFromCacheKey(form.CacheKey)
	if err != nil {
		return nil, err
	}

	meta := &PageMetadata{
		PageID:               pageID,
		Caption:              form.Caption,
		PageMode:             PageModeFromCacheKey(form.CacheKey),
		Embedded:             EmbeddedFromCacheKey(form.CacheKey),
		CorrelationConfirmed: confirmed,
	}

	Walk(form, func(c *protocol.Control, _ int) bool {
		meta.ControlCount++
		if semantic, ok := fieldTags[c.Type]; ok {
			meta.Fields = append(meta.Fields, FieldMetadata{
				Name:     c.ID,
				Caption:  c.Caption,
				Type:     semantic,
				Required: c.Required,
				Editable: c.Editable,
			})
			return true
		}
		if actionTags[c.Type] {
			meta.Actions = append(meta.Actions, ActionMetadata{
				Name:        c.ID,
				Caption:     c.Caption,
				Enabled:     c.Enabled,
				Description: c.Tooltip,
			})
		}
		return true
	})

	return meta, nil
}
