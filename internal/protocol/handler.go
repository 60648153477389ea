// Package protocol decodes the hub's response envelopes into typed handler
// records. The wire format is reverse-engineered: each response carries an
// ordered array of "handlers", tagged events describing what happened on the
// server side of the session.
package protocol

import "encoding/json"

// Handler discriminant values the core understands. Every other tag is
// preserved as an opaque pass-through record.
const (
	HandlerCallbackCompletion = "CallbackCompletion"
	HandlerFormToShow         = "FormToShow"
)

// Handler is one tagged event record from a response batch. Exactly one of
// Callback/Form is set for the known kinds; Raw always holds the original
// record so opaque handlers survive round-trips unchanged.
type Handler struct {
	Name     string
	Callback *CallbackCompletion
	Form     *LogicalForm
	Raw      json.RawMessage
}

// IsOpaque reports whether this handler is one the core does not interpret.
func (h Handler) IsOpaque() bool {
	return h.Callback == nil && h.Form == nil
}

// CallbackCompletion carries the results of interactions the server has just
// finished processing. For form-open interactions the first completed entry's
// result is the server-side form handle.
type CallbackCompletion struct {
	Completed []CompletedInteraction `json:"completedInteractions"`
}

// CompletedInteraction is one finished interaction inside a CallbackCompletion.
type CompletedInteraction struct {
	CallbackID string          `json:"callbackId"`
	Result     json.RawMessage `json:"result"`
}

// LogicalForm is the server's representation of one open page instance.
// ServerID is the form handle: unique per open instance, reused across
// interactions until the form is explicitly closed.
type LogicalForm struct {
	ServerID string    `json:"serverId"`
	Caption  string    `json:"caption"`
	CacheKey string    `json:"cacheKey"`
	Children []Control `json:"children"`
}

// Control is one node of the recursive UI control tree. Type is a short tag
// from a closed set; the classification table in internal/page decides whether
// a tag is field-bearing, action-bearing, or structural.
type Control struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Caption  string    `json:"caption"`
	Tooltip  string    `json:"tooltip,omitempty"`
	Enabled  bool      `json:"enabled"`
	Required bool      `json:"required,omitempty"`
	Editable bool      `json:"editable,omitempty"`
	Children []Control `json:"children,omitempty"`
}
