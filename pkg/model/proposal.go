package model

import (
	"fmt"
	"time"
)

// ProposalState is the review lifecycle state of a test-case proposal.
type ProposalState string

const (
	ProposalDraft    ProposalState = "draft"
	ProposalApproved ProposalState = "approved"
	ProposalRejected ProposalState = "rejected"
	ProposalRevised  ProposalState = "revised"
)

// ActionVerb is the kind of step a test case performs.
type ActionVerb string

const (
	ActionClick    ActionVerb = "click"
	ActionFill     ActionVerb = "fill"
	ActionAssert   ActionVerb = "assert"
	ActionNavigate ActionVerb = "navigate"
)

// Step is one ordered action of a test-case proposal. Element-addressing
// steps reference an element candidate from the knowledge graph and the
// locator chosen for it; navigate steps carry a target URL instead.
type Step struct {
	Index       int              `json:"index"`
	Action      ActionVerb       `json:"action"`
	ElementID   string           `json:"element_id,omitempty"`
	Locator     LocatorCandidate `json:"locator,omitempty"`
	Value       string           `json:"value,omitempty"`
	Target      string           `json:"target,omitempty"`
	Description string           `json:"description,omitempty"`
}

// NeedsElement reports whether the step must reference a resolvable
// element candidate.
func (s Step) NeedsElement() bool {
	return s.Action == ActionClick || s.Action == ActionFill || s.Action == ActionAssert
}

// Assertion is an expected-outcome check evaluated after the steps run.
type Assertion struct {
	Kind     string `json:"kind"` // url_contains, text_visible, element_visible
	Target   string `json:"target,omitempty"`
	Expected string `json:"expected"`
}

// TestCaseProposal is a reviewable test case: an ordered step sequence
// plus expected outcomes. Proposals are created in draft state and change
// state only through explicit human action; an approved proposal is
// immutable and revisions always create a new version with lineage intact.
type TestCaseProposal struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	LineageID   string        `json:"lineage_id"`
	Revision    int           `json:"revision"`
	ParentID    string        `json:"parent_id,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	State       ProposalState `json:"state"`
	Steps       []Step        `json:"steps"`
	Assertions  []Assertion   `json:"assertions"`
	// CoverageTags names the elements and flows this case exercises, for
	// the human reviewer's coverage view.
	CoverageTags []string  `json:"coverage_tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	DecidedAt    time.Time `json:"decided_at,omitempty"`
}

// transition validates and applies a state change. Approved proposals are
// terminal; draft and revised proposals accept any human decision.
func (p *TestCaseProposal) transition(to ProposalState) error {
	switch p.State {
	case ProposalDraft, ProposalRevised:
		// any decision allowed
	case ProposalApproved:
		return fmt.Errorf("proposal %s is approved and immutable", p.ID)
	case ProposalRejected:
		return fmt.Errorf("proposal %s is rejected", p.ID)
	default:
		return fmt.Errorf("proposal %s in unknown state %q", p.ID, p.State)
	}
	p.State = to
	p.DecidedAt = time.Now()
	return nil
}

// Approve marks the proposal approved. Callers must validate locator
// freshness first; this method only enforces the lifecycle.
func (p *TestCaseProposal) Approve() error { return p.transition(ProposalApproved) }

// Reject marks the proposal rejected.
func (p *TestCaseProposal) Reject() error { return p.transition(ProposalRejected) }

// MarkRevised marks this version superseded by a newer revision.
func (p *TestCaseProposal) MarkRevised() error { return p.transition(ProposalRevised) }

// ElementIDs returns the distinct element candidates the proposal touches.
func (p *TestCaseProposal) ElementIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range p.Steps {
		if s.ElementID == "" {
			continue
		}
		if _, ok := seen[s.ElementID]; ok {
			continue
		}
		seen[s.ElementID] = struct{}{}
		ids = append(ids, s.ElementID)
	}
	return ids
}

// Coverage computes the fraction of the graph's interactive elements that
// a set of proposals references, for the reviewer's coverage display.
func Coverage(proposals []*TestCaseProposal, g *KnowledgeGraph) float64 {
	total := 0
	for _, n := range g.Snapshots() {
		total += len(n.Elements)
	}
	if total == 0 {
		return 0
	}
	covered := make(map[string]struct{})
	for _, p := range proposals {
		for _, id := range p.ElementIDs() {
			covered[id] = struct{}{}
		}
	}
	return float64(len(covered)) / float64(total)
}
