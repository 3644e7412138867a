package selfcorrect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// assertionError marks an expected-outcome check that did not hold.
type assertionError struct {
	kind     string
	expected string
	observed string
}

func (e *assertionError) Error() string {
	return fmt.Sprintf("assertion %s expected %q, observed %q", e.kind, e.expected, e.observed)
}

// Classify maps an execution error to its failure class. The class
// selects the correction strategy for the next generation attempt, so
// misclassifying as UnknownRuntimeError is safe but wasteful; the
// matchers below cover what the browser collaborator actually reports.
func Classify(err error, action model.ActionVerb) model.FailureClass {
	if err == nil {
		return model.FailureNone
	}

	var assertErr *assertionError
	if errors.As(err, &assertErr) {
		return model.FailureAssertion
	}
	var noStable *model.NoStableLocatorError
	if errors.As(err, &noStable) {
		return model.FailureLocatorNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return model.FailureTimeout
	case strings.Contains(msg, "no element") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no node found") ||
		strings.Contains(msg, "failed to find"):
		return model.FailureLocatorNotFound
	case action == model.ActionNavigate,
		strings.Contains(msg, "navigation"),
		strings.Contains(msg, "net::"),
		strings.Contains(msg, "dns"):
		return model.FailureNavigation
	default:
		return model.FailureUnknownRuntime
	}
}
