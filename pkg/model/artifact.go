package model

import (
	"fmt"
	"sync"
	"time"
)

// ArtifactStatus is the execution status of one generated artifact version.
type ArtifactStatus string

const (
	ArtifactPending   ArtifactStatus = "pending"
	ArtifactPassed    ArtifactStatus = "passed"
	ArtifactFailed    ArtifactStatus = "failed"
	ArtifactExhausted ArtifactStatus = "exhausted"
)

// CompiledStep is one executable step of a generated artifact. Unresolved
// steps (no locator survived re-validation) are retained for the audit
// trail but excluded from execution.
type CompiledStep struct {
	Index      int              `json:"index"`
	Action     ActionVerb       `json:"action"`
	Locator    LocatorCandidate `json:"locator,omitempty"`
	Value      string           `json:"value,omitempty"`
	Target     string           `json:"target,omitempty"`
	Unresolved bool             `json:"unresolved,omitempty"`
	// WaitBefore adds an explicit wait for the locator before acting,
	// injected by timeout-class corrections.
	WaitBefore time.Duration `json:"wait_before,omitempty"`
}

// GeneratedArtifact is one version of the executable code produced for an
// approved proposal. Each correction attempt produces a new version with
// an incremented Attempt counter; prior versions are never overwritten.
type GeneratedArtifact struct {
	ID         string         `json:"id"`
	ProposalID string         `json:"proposal_id"`
	Attempt    int            `json:"attempt"`
	Status     ArtifactStatus `json:"status"`
	Steps      []CompiledStep `json:"steps"`
	Assertions []Assertion    `json:"assertions"`
	// Script is the rendered Playwright test for human export; execution
	// runs the compiled steps through the browser contract instead.
	Script      string    `json:"script"`
	GeneratedAt time.Time `json:"generated_at"`
	LLMTokens   int       `json:"llm_tokens,omitempty"`
}

// UnresolvedCount returns how many steps were excluded from the
// executable body, reported to the reviewer as a coverage gap.
func (a *GeneratedArtifact) UnresolvedCount() int {
	n := 0
	for _, s := range a.Steps {
		if s.Unresolved {
			n++
		}
	}
	return n
}

// ExecutableSteps returns the steps that participate in execution.
func (a *GeneratedArtifact) ExecutableSteps() []CompiledStep {
	out := make([]CompiledStep, 0, len(a.Steps))
	for _, s := range a.Steps {
		if !s.Unresolved {
			out = append(out, s)
		}
	}
	return out
}

// ArtifactLineage is the append-only version history of artifacts for one
// proposal. Appends are guarded so parallel evidence writers and readers
// never race; versions are never removed or rewritten.
type ArtifactLineage struct {
	mu         sync.RWMutex
	proposalID string
	versions   []*GeneratedArtifact
}

// NewArtifactLineage creates an empty lineage for a proposal.
func NewArtifactLineage(proposalID string) *ArtifactLineage {
	return &ArtifactLineage{proposalID: proposalID}
}

// ProposalID returns the owning proposal.
func (l *ArtifactLineage) ProposalID() string { return l.proposalID }

// Append adds the next artifact version. The attempt counter must be
// exactly one past the current head; this keeps versions monotonic and
// prevents a retried attempt from overwriting history.
func (l *ArtifactLineage) Append(a *GeneratedArtifact) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a.ProposalID != l.proposalID {
		return fmt.Errorf("artifact belongs to proposal %s, lineage is for %s", a.ProposalID, l.proposalID)
	}
	want := len(l.versions) + 1
	if a.Attempt != want {
		return fmt.Errorf("artifact attempt %d out of order, want %d", a.Attempt, want)
	}
	l.versions = append(l.versions, a)
	return nil
}

// Current returns the highest-attempt artifact, or nil for an empty
// lineage.
func (l *ArtifactLineage) Current() *GeneratedArtifact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.versions) == 0 {
		return nil
	}
	return l.versions[len(l.versions)-1]
}

// Versions returns all artifact versions in attempt order.
func (l *ArtifactLineage) Versions() []*GeneratedArtifact {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*GeneratedArtifact, len(l.versions))
	copy(out, l.versions)
	return out
}

// Len returns the number of versions.
func (l *ArtifactLineage) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.versions)
}
