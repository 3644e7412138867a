// Package design is the test-design collaborator: it turns accumulated
// page knowledge plus a human intent statement into reviewable test-case
// proposals, and gates the approved transition on every referenced
// element still resolving against the live page.
package design

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/llm"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/locator"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/logging"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// Collaborator drives the propose/revise/approve cycle. Proposals stay
// drafts until a human decides; approval re-validates element references
// so a stale graph cannot leak into generation.
type Collaborator struct {
	reasoner llm.Client
	llmCfg   llm.Config
	retry    llm.RetryOptions
	log      *logging.Logger
}

// New creates a collaborator backed by the given reasoning client.
func New(reasoner llm.Client, llmCfg llm.Config, retry llm.RetryOptions) *Collaborator {
	log, _ := logging.NewLogger("design")
	return &Collaborator{
		reasoner: reasoner,
		llmCfg:   llmCfg,
		retry:    retry,
		log:      log,
	}
}

// Propose drafts test-case proposals covering the intent against the
// knowledge graph. Each proposal carries coverage tags naming the
// elements and flows it exercises.
func (c *Collaborator) Propose(ctx context.Context, kg *model.KnowledgeGraph, intent string) ([]*model.TestCaseProposal, error) {
	catalog := buildCatalog(kg)
	prompt := proposePrompt(kg, catalog, intent)

	completion, err := llm.CompleteWithRetry(ctx, c.reasoner, prompt, c.llmCfg, "design", c.retry)
	if err != nil {
		return nil, fmt.Errorf("proposal drafting failed: %w", err)
	}

	var resp proposalResponse
	if err := llm.UnmarshalResponse(completion.Text, &resp); err != nil {
		return nil, fmt.Errorf("could not parse proposal response: %w", err)
	}
	if len(resp.TestCases) == 0 {
		return nil, fmt.Errorf("reasoner produced no test cases for intent %q", intent)
	}

	proposals := make([]*model.TestCaseProposal, 0, len(resp.TestCases))
	for _, tc := range resp.TestCases {
		p, err := c.materialize(kg, catalog, tc)
		if err != nil {
			c.log.Warnf("dropping malformed test case %q: %v", tc.Name, err)
			continue
		}
		proposals = append(proposals, p)
	}
	if len(proposals) == 0 {
		return nil, fmt.Errorf("all drafted test cases were malformed")
	}

	c.log.Infof("drafted %d proposals for intent %q", len(proposals), intent)
	return proposals, nil
}

// Revise creates a new draft revision of the proposal incorporating the
// reviewer's feedback. The prior version is marked revised; lineage and
// revision numbering are preserved.
func (c *Collaborator) Revise(ctx context.Context, kg *model.KnowledgeGraph, p *model.TestCaseProposal, feedback string) (*model.TestCaseProposal, error) {
	if p.State == model.ProposalApproved {
		return nil, fmt.Errorf("proposal %s is approved and immutable", p.ID)
	}

	catalog := buildCatalog(kg)
	prompt := revisePrompt(kg, catalog, p, feedback)

	completion, err := llm.CompleteWithRetry(ctx, c.reasoner, prompt, c.llmCfg, "design", c.retry)
	if err != nil {
		return nil, fmt.Errorf("revision drafting failed: %w", err)
	}

	var tc testCaseSpec
	if err := llm.UnmarshalResponse(completion.Text, &tc); err != nil {
		return nil, fmt.Errorf("could not parse revision response: %w", err)
	}

	revised, err := c.materialize(kg, catalog, tc)
	if err != nil {
		return nil, fmt.Errorf("revision is malformed: %w", err)
	}
	revised.LineageID = p.LineageID
	revised.Revision = p.Revision + 1
	revised.ParentID = p.ID
	if revised.Name == "" {
		revised.Name = p.Name
	}

	if err := p.MarkRevised(); err != nil {
		return nil, err
	}
	c.log.Infof("proposal %s revised to %s (revision %d)", p.ID, revised.ID, revised.Revision)
	return revised, nil
}

// Approve re-validates every element the proposal references against the
// live page before permitting the approved transition. Any reference
// that has gone stale fails with StaleReferenceError; the caller is
// expected to re-extract and revise.
func (c *Collaborator) Approve(ctx context.Context, page browser.Page, kg *model.KnowledgeGraph, p *model.TestCaseProposal) error {
	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !step.NeedsElement() {
			continue
		}
		el, _ := kg.Element(step.ElementID)
		if el == nil {
			return &model.StaleReferenceError{
				ProposalID: p.ID,
				StepIndex:  step.Index,
				ElementID:  step.ElementID,
			}
		}
		// The gate checks the exact locator recorded at design time, not
		// whether any candidate still resolves. A lower-ranked candidate
		// surviving while the recorded one is gone would bind the step to
		// a different strategy than the one the reviewer signed off on.
		loc := step.Locator
		if loc.Expression == "" {
			loc = bestLocator(el)
		}
		n, err := page.Count(locator.Selector(loc))
		if err != nil || n != 1 {
			return &model.StaleReferenceError{
				ProposalID: p.ID,
				StepIndex:  step.Index,
				ElementID:  step.ElementID,
			}
		}
	}

	if err := p.Approve(); err != nil {
		return err
	}
	c.log.Infof("proposal %s approved (%d steps, %d assertions)", p.ID, len(p.Steps), len(p.Assertions))
	return nil
}

// bestLocator returns the element's highest-ranked locator candidate,
// ranking on the fly for elements that carry none.
func bestLocator(el *model.ElementCandidate) model.LocatorCandidate {
	if best, ok := el.BestLocator(); ok {
		return best
	}
	return locator.Rank(el)[0]
}

// Reject marks the proposal rejected.
func (c *Collaborator) Reject(p *model.TestCaseProposal) error {
	if err := p.Reject(); err != nil {
		return err
	}
	c.log.Infof("proposal %s rejected", p.ID)
	return nil
}

// materialize converts a parsed test-case spec into a draft proposal,
// mapping catalog indexes back to real element candidate IDs.
func (c *Collaborator) materialize(kg *model.KnowledgeGraph, catalog []catalogEntry, tc testCaseSpec) (*model.TestCaseProposal, error) {
	if tc.Name == "" {
		return nil, fmt.Errorf("test case has no name")
	}
	if len(tc.Steps) == 0 {
		return nil, fmt.Errorf("test case %q has no steps", tc.Name)
	}

	steps := make([]model.Step, 0, len(tc.Steps))
	for i, s := range tc.Steps {
		verb := model.ActionVerb(s.Action)
		step := model.Step{
			Index:       i,
			Action:      verb,
			Value:       s.Value,
			Target:      s.Target,
			Description: s.Description,
		}
		switch verb {
		case model.ActionNavigate:
			if s.Target == "" {
				return nil, fmt.Errorf("step %d: navigate without a target URL", i)
			}
		case model.ActionClick, model.ActionFill, model.ActionAssert:
			if s.ElementIndex < 0 || s.ElementIndex >= len(catalog) {
				return nil, fmt.Errorf("step %d: element index %d out of range", i, s.ElementIndex)
			}
			el := catalog[s.ElementIndex].element
			step.ElementID = el.ID
			// Record the locator the reviewer will see; approval later
			// re-validates this exact expression against the live page.
			step.Locator = bestLocator(el)
		default:
			return nil, fmt.Errorf("step %d: unknown action %q", i, s.Action)
		}
		steps = append(steps, step)
	}

	assertions := make([]model.Assertion, 0, len(tc.Assertions))
	for i, a := range tc.Assertions {
		switch a.Kind {
		case "url_contains", "text_visible", "element_visible":
		default:
			return nil, fmt.Errorf("assertion %d: unknown kind %q", i, a.Kind)
		}
		assertions = append(assertions, model.Assertion{Kind: a.Kind, Target: a.Target, Expected: a.Expected})
	}

	id := uuid.New().String()
	return &model.TestCaseProposal{
		ID:           id,
		SessionID:    kg.SessionID(),
		LineageID:    id,
		Revision:     1,
		Name:         tc.Name,
		Description:  tc.Description,
		State:        model.ProposalDraft,
		Steps:        steps,
		Assertions:   assertions,
		CoverageTags: tc.CoverageTags,
		CreatedAt:    time.Now(),
	}, nil
}
