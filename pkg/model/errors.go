package model

import "fmt"

// ExtractionError indicates that page-model extraction could not complete,
// typically because the page handle was detached or the page navigated away
// mid-extraction. The exploration agent retries extraction once before
// surfacing this error.
type ExtractionError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed for %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %s", e.URL, e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NoStableLocatorError indicates that every candidate locator for an element
// was disqualified during live re-validation. This is a structural error:
// it is never retried, the affected step is marked unresolved and surfaced
// to the human reviewer.
type NoStableLocatorError struct {
	ElementID string
	Tried     int
}

func (e *NoStableLocatorError) Error() string {
	return fmt.Sprintf("no stable locator for element %s after trying %d candidates", e.ElementID, e.Tried)
}

// StaleReferenceError indicates that a proposal step references an element
// that no longer resolves against the live page. Approval is blocked until
// the page is re-extracted.
type StaleReferenceError struct {
	ProposalID string
	StepIndex  int
	ElementID  string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("proposal %s step %d references stale element %s", e.ProposalID, e.StepIndex, e.ElementID)
}

// ReasoningTimeoutError indicates that a call to the reasoning component
// exceeded its configured timeout. Callers may retry with backoff up to a
// bounded attempt count before surfacing.
type ReasoningTimeoutError struct {
	Stage   string
	Timeout string
}

func (e *ReasoningTimeoutError) Error() string {
	return fmt.Sprintf("reasoning call timed out in stage %s after %s", e.Stage, e.Timeout)
}
