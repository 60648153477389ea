package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"erpnerd-mcp-server/internal/protocol"
)

const defaultInvokeTimeout = 30 * time.Second

// Sender is the transport surface the invocation layer needs.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// EventSink receives invocation-level events for the diagnostic fact store.
type EventSink interface {
	UnsolicitedFrame(callbackID string)
	InteractionEvent(interaction, callbackID string, err error)
	HandlerBatch(callbackID string, handlers int)
}

// CallFrame is the wire shape of one interaction request. The hub requires
// the session bookkeeping fields on every call, not just the interaction
// itself.
type CallFrame struct {
	InteractionName       string                 `json:"interactionName"`
	NamedParameters       map[string]interface{} `json:"namedParameters"`
	CallbackID            string                 `json:"callbackId"`
	OpenFormIDs           []string               `json:"openFormIds"`
	LastClientAckSequence int64                  `json:"lastClientAckSequenceNumber"`
}

type invokeResult struct {
	handlers []protocol.Handler
	err      error
}

// Client correlates hub responses to the calls that caused them. Callback
// ids are session-scoped monotonic integers; the pending table maps each one
// to the waiter that owns it.
type Client struct {
	transport Sender
	timeout   time.Duration
	sink      EventSink

	// OpenForms supplies the form handles to report on every call. Set at
	// wiring time; nil means no tracked forms.
	OpenForms func() []string

	seq    atomic.Int64
	ackSeq atomic.Int64

	mu      sync.Mutex
	pending map[string]chan invokeResult
	// reap holds callback ids of abandoned form-opens. Their late responses
	// carry a live server-side handle that must not leak.
	reap map[string]struct{}
}

func NewClient(transport Sender, timeout time.Duration, sink EventSink) *Client {
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	return &Client{
		transport: transport,
		timeout:   timeout,
		sink:      sink,
		pending:   make(map[string]chan invokeResult),
		reap:      make(map[string]struct{}),
	}
}

// Invoke sends one interaction and blocks until its response arrives, the
// per-call timeout fires, or ctx is cancelled. The decoded handler batch is
// returned as-is; remote errors and malformed responses surface as errors.
func (c *Client) Invoke(ctx context.Context, interaction string, params map[string]interface{}) ([]protocol.Handler, error) {
	callbackID := strconv.FormatInt(c.seq.Add(1), 10)
	if params == nil {
		params = map[string]interface{}{}
	}

	var openForms []string
	if c.OpenForms != nil {
		openForms = c.OpenForms()
	}
	frame := CallFrame{
		InteractionName:       interaction,
		NamedParameters:       params,
		CallbackID:            callbackID,
		OpenFormIDs:           openForms,
		LastClientAckSequence: c.ackSeq.Load(),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode call %s: %w", interaction, err)
	}

	ch := make(chan invokeResult, 1)
	c.mu.Lock()
	c.pending[callbackID] = ch
	c.mu.Unlock()

	if err := c.transport.Send(ctx, payload); err != nil {
		c.removePending(callbackID)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var res invokeResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		// The response may still arrive; HandleFrame discards or reaps it then.
		if !c.abandon(interaction, callbackID) {
			c.discardDelivered(interaction, callbackID, ch)
		}
		res = invokeResult{err: fmt.Errorf("call %s (callback %s): %w", interaction, callbackID, ctx.Err())}
	case <-timer.C:
		if !c.abandon(interaction, callbackID) {
			c.discardDelivered(interaction, callbackID, ch)
		}
		log.Printf("[hub] call %s (callback %s) timed out after %v", interaction, callbackID, c.timeout)
		res = invokeResult{err: fmt.Errorf("call %s (callback %s): %w", interaction, callbackID, ErrTimeout)}
	}

	if c.sink != nil {
		c.sink.InteractionEvent(interaction, callbackID, res.err)
	}
	return res.handlers, res.err
}

// HandleFrame routes one inbound frame. Frames answering a pending call are
// decoded and delivered to the waiter; everything else, including responses
// whose waiter already gave up, is discarded after being logged and
// recorded. Wired as the transport's OnFrame.
func (c *Client) HandleFrame(payload []byte) {
	c.ackSeq.Add(1)

	var head struct {
		CallbackID string `json:"callbackId"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		log.Printf("[hub] dropping unreadable frame: %v", err)
		return
	}

	if head.CallbackID == "" {
		// Server push with no call behind it. Session state broadcasts are
		// expected here; nothing in the core consumes them yet.
		if c.sink != nil {
			c.sink.UnsolicitedFrame("")
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[head.CallbackID]
	if ok {
		delete(c.pending, head.CallbackID)
	}
	c.mu.Unlock()

	if !ok {
		c.mu.Lock()
		_, doomed := c.reap[head.CallbackID]
		if doomed {
			delete(c.reap, head.CallbackID)
		}
		c.mu.Unlock()

		if c.sink != nil {
			c.sink.UnsolicitedFrame(head.CallbackID)
		}
		if doomed {
			go c.reapForm(head.CallbackID, payload)
			return
		}
		log.Printf("[hub] discarding frame for callback %s with no pending call (late or unsolicited)", head.CallbackID)
		return
	}

	handlers, err := protocol.DecodeResponse(payload)
	if err == nil && c.sink != nil {
		c.sink.HandlerBatch(head.CallbackID, len(handlers))
	}
	ch <- invokeResult{handlers: handlers, err: err}
}

// FailPending fails every in-flight call. Wired as the transport's
// OnDisconnect; the calls cannot outlive the session their callback ids
// belong to.
func (c *Client) FailPending(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan invokeResult)
	// Reap entries die with the session: their callback ids can never be
	// answered on a new connection.
	c.reap = make(map[string]struct{})
	c.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("[hub] failing %d pending calls: %v", len(pending), cause)
	}
	for id, ch := range pending {
		ch <- invokeResult{err: fmt.Errorf("call (callback %s): %w", id, ErrConnectionLost)}
	}
}

// PendingCount reports in-flight calls, for the status surface.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) removePending(callbackID string) {
	c.mu.Lock()
	delete(c.pending, callbackID)
	c.mu.Unlock()
}

// abandon drops a call the waiter gave up on. Abandoned form-opens are marked
// for reaping: the server may still open a form and answer later, and that
// handle would otherwise stay live in the session's cache slot. Returns false
// when the response won the race and was already taken off the pending table;
// the caller must then consume the delivered result from its channel.
func (c *Client) abandon(interaction, callbackID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[callbackID]; !ok {
		return false
	}
	delete(c.pending, callbackID)
	if interaction == "OpenForm" {
		c.reap[callbackID] = struct{}{}
	}
	return true
}

// discardDelivered consumes a response that arrived just as its waiter gave
// up. The result goes nowhere, but a form opened by it would stay live in the
// session's cache slot, so it is reaped like any other late form-open answer.
func (c *Client) discardDelivered(interaction, callbackID string, ch chan invokeResult) {
	res := <-ch
	if interaction != "OpenForm" || res.err != nil {
		return
	}
	go c.reapHandlers(callbackID, res.handlers)
}

// reapForm closes the form handle carried by a late response to an abandoned
// form-open. Fire and forget: the caller is long gone, failures only get
// logged.
func (c *Client) reapForm(callbackID string, payload []byte) {
	handlers, err := protocol.DecodeResponse(payload)
	if err != nil {
		log.Printf("[hub] late response for abandoned call %s is undecodable, nothing to reap: %v", callbackID, err)
		return
	}
	c.reapHandlers(callbackID, handlers)
}

func (c *Client) reapHandlers(callbackID string, handlers []protocol.Handler) {
	correlation, _ := protocol.ExtractCorrelationValue(handlers)
	match, err := protocol.ExtractLogicalForm(handlers, correlation)
	if err != nil {
		log.Printf("[hub] late response for abandoned call %s carries no form, nothing to reap", callbackID)
		return
	}

	formID := match.Form.ServerID
	log.Printf("[hub] reaping form %s from abandoned call %s", formID, callbackID)
	if _, err := c.Invoke(context.Background(), "CloseForm", map[string]interface{}{"formId": formID}); err != nil {
		log.Printf("[hub] reap close of form %s failed: %v", formID, err)
	}
}
