package page

import (
	"context"
	"fmt"
	"log"
	"sync"

	"erpnerd-mcp-server/internal/protocol"
)

// Invoker issues one hub interaction and returns the decoded handler batch.
// Implemented by hub.Client; tests script it.
type Invoker interface {
	Invoke(ctx context.Context, interaction string, params map[string]interface{}) ([]protocol.Handler, error)
}

// Sink receives lifecycle events for the diagnostic fact store. All methods
// are fire-and-forget from the lifecycle's point of view.
type Sink interface {
	FormOpened(pageID, formID string, confirmed bool)
	FormClosed(formID string, clean bool)
	CorrelationFallback(pageID, formID string)
}

// State is the form lifecycle phase of the session.
type State string

const (
	StateClosed     State = "closed"
	StateOpening    State = "opening"
	StateOpen       State = "open"
	StateExtracting State = "extracting"
	StateClosing    State = "closing"
)

// FormLifecycleError reports a lifecycle step that failed, with the form
// handle involved when one exists.
type FormLifecycleError struct {
	Op     string
	FormID string
	Err    error
}

func (e *FormLifecycleError) Error() string {
	if e.FormID != "" {
		return fmt.Sprintf("form lifecycle %s (form %s): %v", e.Op, e.FormID, e.Err)
	}
	return fmt.Sprintf("form lifecycle %s: %v", e.Op, e.Err)
}

func (e *FormLifecycleError) Unwrap() error { return e.Err }

// Lifecycle serializes form operations for one hub session. The hub caches
// open forms server-side per session and hands the cached instance back on a
// repeated open, so the previous form is always closed before a new one is
// opened. A session holds at most one tracked form at a time.
type Lifecycle struct {
	// mu serializes form operations; the open-extract-close cycle runs as
	// one critical section.
	mu      sync.Mutex
	invoker Invoker
	catalog *Catalog
	sink    Sink

	// stateMu guards the observable state separately. The invocation layer
	// reads the tracked handle on every outbound call, including the calls
	// this type issues itself, so Status must never wait on mu.
	stateMu  sync.Mutex
	state    State
	openForm string
	openPage string
}

func NewLifecycle(invoker Invoker, catalog *Catalog, sink Sink) *Lifecycle {
	return &Lifecycle{
		invoker: invoker,
		catalog: catalog,
		sink:    sink,
		state:   StateClosed,
	}
}

// Status reports the current phase and tracked form. It only takes the state
// lock, never the operation lock, so it is safe to call from inside an
// in-flight operation.
func (l *Lifecycle) Status() (State, string, string) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state, l.openForm, l.openPage
}

func (l *Lifecycle) setPhase(s State) {
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
}

func (l *Lifecycle) setTracked(s State, form, page string) {
	l.stateMu.Lock()
	l.state = s
	l.openForm = form
	l.openPage = page
	l.stateMu.Unlock()
}

func (l *Lifecycle) trackedForm() string {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.openForm
}

// GetPageMetadata opens the requested page, extracts its metadata, and closes
// the form again before returning. Leaving a handle open across requests is
// what triggers the server's stale-form cache, so the close is proactive, with
// a defensive close of any remembered handle up front. The whole
// open-extract-close sequence runs under the lifecycle lock; concurrent
// callers are serialized, never interleaved.
func (l *Lifecycle) GetPageMetadata(ctx context.Context, pageID string) (*PageMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.trackedForm() != "" {
		l.closeTrackedLocked(ctx)
	}

	l.setPhase(StateOpening)
	handlers, err := l.invoker.Invoke(ctx, "OpenForm", map[string]interface{}{"page": pageID})
	if err != nil {
		l.setPhase(StateClosed)
		return nil, &FormLifecycleError{Op: "open", Err: err}
	}

	correlation, hasCorrelation := protocol.ExtractCorrelationValue(handlers)
	match, err := protocol.ExtractLogicalForm(handlers, correlation)
	if err != nil {
		l.setPhase(StateClosed)
		return nil, &FormLifecycleError{Op: "open", Err: fmt.Errorf("page %s: %w", pageID, err)}
	}
	form := match.Form

	if !match.Confirmed {
		if hasCorrelation {
			log.Printf("[page] correlation value %q matched no form, using first of batch (form %s)", correlation, form.ServerID)
		} else {
			log.Printf("[page] no correlation value in response, using first form of batch (form %s)", form.ServerID)
		}
		if l.sink != nil {
			l.sink.CorrelationFallback(pageID, form.ServerID)
		}
	}

	l.setTracked(StateExtracting, form.ServerID, "")
	meta, err := BuildPageMetadata(form, match.Confirmed)
	if err != nil {
		// The form did open; close it so the session does not leak a handle
		// we can no longer attribute to a page.
		l.closeTrackedLocked(ctx)
		return nil, &FormLifecycleError{Op: "extract", FormID: form.ServerID, Err: err}
	}

	if meta.PageID != pageID {
		log.Printf("[page] requested page %s but form %s reports page %s", pageID, form.ServerID, meta.PageID)
	}

	l.setTracked(StateOpen, form.ServerID, meta.PageID)
	l.catalog.Record(meta.PageID, meta.Caption)
	if l.sink != nil {
		l.sink.FormOpened(meta.PageID, form.ServerID, match.Confirmed)
	}

	l.closeTrackedLocked(ctx)
	return meta, nil
}

// Close releases the tracked form, if any. Used on shutdown and by the
// explicit disconnect path.
func (l *Lifecycle) Close(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.trackedForm() != "" {
		l.closeTrackedLocked(ctx)
	}
}

// HandleReconnect runs after the transport re-established its connection.
// Server-side session continuity is not guaranteed across a network
// interruption, so any remembered handle is closed best-effort; a handle the
// new session does not know answers with a remote error and that is fine.
func (l *Lifecycle) HandleReconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if form := l.trackedForm(); form != "" {
		log.Printf("[page] closing remembered form %s after reconnect, server state is not trusted", form)
		l.closeTrackedLocked(context.Background())
	}
	l.setTracked(StateClosed, "", "")
}

// closeTrackedLocked closes the remembered form best-effort. Close failures
// are logged and recorded, never surfaced: the next open must proceed whether
// or not the server acknowledged the close, and the server drops orphaned
// forms when the session ends.
func (l *Lifecycle) closeTrackedLocked(ctx context.Context) {
	formID := l.trackedForm()
	l.setPhase(StateClosing)
	_, err := l.invoker.Invoke(ctx, "CloseForm", map[string]interface{}{"formId": formID})
	if err != nil {
		log.Printf("[page] close of form %s failed: %v", formID, err)
	}
	if l.sink != nil {
		l.sink.FormClosed(formID, err == nil)
	}
	l.setTracked(StateClosed, "", "")
}
