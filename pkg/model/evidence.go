package model

import "time"

// FailureClass classifies why an execution attempt failed. Each class
// maps to a distinct correction strategy in the self-correction loop.
type FailureClass string

const (
	FailureNone            FailureClass = ""
	FailureLocatorNotFound FailureClass = "LocatorNotFound"
	FailureTimeout         FailureClass = "Timeout"
	FailureAssertion       FailureClass = "AssertionMismatch"
	FailureNavigation      FailureClass = "NavigationError"
	FailureUnknownRuntime  FailureClass = "UnknownRuntimeError"
)

// StepLogEntry records the outcome of one executed step.
type StepLogEntry struct {
	StepIndex     int           `json:"step_index"`
	Action        ActionVerb    `json:"action"`
	Locator       string        `json:"locator,omitempty"`
	OK            bool          `json:"ok"`
	Error         string        `json:"error,omitempty"`
	ScreenshotRef string        `json:"screenshot_ref,omitempty"`
	Duration      time.Duration `json:"duration"`
	At            time.Time     `json:"at"`
}

// ExecutionEvidence is the per-attempt audit record: outcome, captured
// screenshots and video references, the step-by-step log, and the failure
// classification when the attempt did not pass. Evidence is immutable once
// recorded; a re-run never reuses an attempt index.
type ExecutionEvidence struct {
	ID             string         `json:"id"`
	ArtifactID     string         `json:"artifact_id"`
	ProposalID     string         `json:"proposal_id"`
	Attempt        int            `json:"attempt"`
	Passed         bool           `json:"passed"`
	Failure        FailureClass   `json:"failure,omitempty"`
	FailureDetail  string         `json:"failure_detail,omitempty"`
	FailedStep     int            `json:"failed_step,omitempty"`
	StepLog        []StepLogEntry `json:"step_log"`
	ScreenshotRefs []string       `json:"screenshot_refs,omitempty"`
	VideoRef       string         `json:"video_ref,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// CorrectionContext carries structured failure context from a failed
// attempt back into the code generator, biasing regeneration toward the
// remediation class for the observed failure.
type CorrectionContext struct {
	Failure       FailureClass `json:"failure"`
	FailureDetail string       `json:"failure_detail"`
	FailedStep    int          `json:"failed_step"`
	LogExcerpt    string       `json:"log_excerpt,omitempty"`
	PriorAttempt  int          `json:"prior_attempt"`
}

// Remediation returns the generation hint for the failure class.
func (c *CorrectionContext) Remediation() string {
	switch c.Failure {
	case FailureLocatorNotFound:
		return "the locator did not match; switch the failed step to the next-ranked locator strategy"
	case FailureTimeout:
		return "the step timed out; add an explicit wait for the target element before acting"
	case FailureAssertion:
		return "the assertion did not match the observed page; re-check the expected value against the page state"
	case FailureNavigation:
		return "navigation failed; verify the target URL and wait for the page load to settle"
	default:
		return "an unclassified runtime error occurred; regenerate the step conservatively"
	}
}
