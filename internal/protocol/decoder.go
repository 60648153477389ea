package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// maxDecompressedSize caps how much we inflate from a single response.
// Observed pages stay well under 4 MiB; anything larger is a corrupt stream.
const maxDecompressedSize = 16 << 20

type envelope struct {
	Error  *remoteErrorBody `json:"error"`
	Result json.RawMessage  `json:"result"`
}

type remoteErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DecodeResponse turns a raw response payload into an ordered handler
// sequence. The stages each fail distinctly: envelope parse, remote-reported
// error, decompression, handler array validation, per-entry validation.
func DecodeResponse(raw []byte) ([]Handler, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Error != nil {
		return nil, &RemoteError{Code: env.Error.Code, Message: env.Error.Message}
	}
	if len(env.Result) == 0 {
		return nil, fmt.Errorf("%w: missing result", ErrMalformedEnvelope)
	}

	result := env.Result
	if compressed, payload := detectCompressed(result); compressed {
		inflated, err := inflate(payload)
		if err != nil {
			return nil, &DecompressionError{Err: err}
		}
		result = inflated
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandlerArray, err)
	}

	handlers := make([]Handler, 0, len(entries))
	for i, entry := range entries {
		h, err := decodeHandler(i, entry)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// detectCompressed reports whether the result payload is the compressed
// variant: a JSON string whose content is base64 text. The decoded bytes are
// returned so the caller can inflate them.
func detectCompressed(result json.RawMessage) (bool, []byte) {
	var text string
	if err := json.Unmarshal(result, &text); err != nil {
		return false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		// A JSON string that is not base64 is still the compressed marker as
		// far as shape detection goes; inflate will reject it with a proper
		// DecompressionError via the empty payload below.
		return true, nil
	}
	return true, payload
}

// inflate reverses the hub's deflate-family framing. Responses captured in the
// wild use gzip; older server builds emitted a bare deflate stream, so fall
// back to that before giving up.
func inflate(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty compressed payload")
	}

	if gz, err := gzip.NewReader(bytes.NewReader(payload)); err == nil {
		defer gz.Close()
		out, err := io.ReadAll(io.LimitReader(gz, maxDecompressedSize))
		if err != nil {
			return nil, fmt.Errorf("gzip stream: %w", err)
		}
		return out, nil
	}

	fl := flate.NewReader(bytes.NewReader(payload))
	defer fl.Close()
	out, err := io.ReadAll(io.LimitReader(fl, maxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("deflate stream: %w", err)
	}
	return out, nil
}

// decodeHandler validates one array entry and, for the two kinds the core
// interprets, parses the typed payload out of the parameters list.
func decodeHandler(index int, entry json.RawMessage) (Handler, error) {
	var record struct {
		Name       string            `json:"name"`
		Parameters []json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(entry, &record); err != nil {
		return Handler{}, &InvalidHandlerEntryError{Index: index, Reason: "not an object"}
	}
	if record.Name == "" {
		return Handler{}, &InvalidHandlerEntryError{Index: index, Reason: "missing name tag"}
	}

	h := Handler{Name: record.Name, Raw: entry}

	switch record.Name {
	case HandlerCallbackCompletion:
		// Completion payloads are best-effort: an empty or missing parameter
		// list just means there is no correlation value to extract.
		cb := &CallbackCompletion{}
		if len(record.Parameters) > 0 {
			if err := json.Unmarshal(record.Parameters[0], &cb.Completed); err != nil {
				// Some captures wrap the array in an object.
				var wrapped CallbackCompletion
				if err := json.Unmarshal(record.Parameters[0], &wrapped); err != nil {
					return Handler{}, &InvalidHandlerEntryError{Index: index, Reason: "unreadable completion payload"}
				}
				cb = &wrapped
			}
		}
		h.Callback = cb
	case HandlerFormToShow:
		if len(record.Parameters) == 0 {
			return Handler{}, &InvalidHandlerEntryError{Index: index, Reason: "FormToShow without form payload"}
		}
		form := &LogicalForm{}
		if err := json.Unmarshal(record.Parameters[0], form); err != nil {
			return Handler{}, &InvalidHandlerEntryError{Index: index, Reason: "unreadable form payload"}
		}
		h.Form = form
	}

	return h, nil
}
