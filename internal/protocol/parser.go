package protocol

import "encoding/json"

// FormMatch is the outcome of correlating a response batch to its form.
// Confirmed is false when the correlation value matched no ServerID and the
// first collected form was used instead; callers must keep that degradation
// visible, it is the known source of silent page misattribution.
type FormMatch struct {
	Form      *LogicalForm
	Confirmed bool
}

// ExtractCorrelationValue reads the form handle out of the batch's
// CallbackCompletion handler, when there is one. Correlation is best-effort:
// a missing handler, an empty completion list, or a non-string result all
// mean "no value", not an error, because not every call shape completes with
// a form handle.
func ExtractCorrelationValue(handlers []Handler) (string, bool) {
	for _, h := range handlers {
		if h.Callback == nil {
			continue
		}
		if len(h.Callback.Completed) == 0 {
			return "", false
		}
		var value string
		if err := json.Unmarshal(h.Callback.Completed[0].Result, &value); err != nil {
			return "", false
		}
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}

// ExtractLogicalForm selects the form this response batch answers for. The
// hub reports full session form state, not just the delta for one call, so a
// batch may carry several FormToShow handlers; the correlation value picks
// the right one. With no correlation value the first form is used, matching
// the observed behavior of call shapes that omit completion results.
func ExtractLogicalForm(handlers []Handler, correlation string) (FormMatch, error) {
	var forms []*LogicalForm
	for _, h := range handlers {
		if h.Form != nil {
			forms = append(forms, h.Form)
		}
	}
	if len(forms) == 0 {
		return FormMatch{}, ErrNoFormToShow
	}

	if correlation == "" {
		return FormMatch{Form: forms[0], Confirmed: false}, nil
	}

	var matched []*LogicalForm
	for _, f := range forms {
		if f.ServerID == correlation {
			matched = append(matched, f)
		}
	}
	switch len(matched) {
	case 1:
		return FormMatch{Form: matched[0], Confirmed: true}, nil
	case 0:
		// Accepted degradation: fall back to the first collected form rather
		// than failing the whole call. The unconfirmed flag is the caller's
		// signal to log and record the fallback.
		return FormMatch{Form: forms[0], Confirmed: false}, nil
	default:
		// Duplicate ServerIDs violate the one-handle-per-form contract; treat
		// the selection as unconfirmed rather than trusting it silently.
		return FormMatch{Form: matched[0], Confirmed: false}, nil
	}
}
