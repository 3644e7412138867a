// Package codegen compiles an approved test-case proposal into a
// generated artifact: the executable step program run through the
// browser collaborator, plus a rendered Playwright script for export.
//
// Generation is locator-grounded: every compiled step's locator is
// re-validated against the live page at generation time, and a step
// whose element no longer resolves is marked unresolved and excluded
// from the executable body rather than emitted broken.
package codegen

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/locator"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/logging"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// correctionWait is the explicit wait injected before a step that a
// prior attempt saw time out or land on an unsettled page.
const correctionWait = 2 * time.Second

// Generator compiles approved proposals into artifact versions.
type Generator struct {
	log *logging.Logger
}

// New creates a generator.
func New() *Generator {
	log, _ := logging.NewLogger("codegen")
	return &Generator{log: log}
}

// Generate compiles the proposal into attempt number `attempt`. A
// correction context from a failed prior attempt biases compilation
// toward that failure's remediation: locator failures force the failed
// step onto its next-ranked strategy, timeout and navigation failures
// inject an explicit wait, assertion failures re-check after settling.
// prior is the artifact the correction context refers to; nil on the
// first attempt.
func (g *Generator) Generate(page browser.Page, kg *model.KnowledgeGraph, p *model.TestCaseProposal, attempt int, corr *model.CorrectionContext, prior *model.GeneratedArtifact) (*model.GeneratedArtifact, error) {
	if p.State != model.ProposalApproved {
		return nil, fmt.Errorf("proposal %s is %s, only approved proposals generate code", p.ID, p.State)
	}
	if attempt < 1 {
		return nil, fmt.Errorf("attempt counter must start at 1, got %d", attempt)
	}
	if corr != nil && prior == nil {
		return nil, fmt.Errorf("correction context for attempt %d without the prior artifact", corr.PriorAttempt)
	}

	steps := make([]model.CompiledStep, 0, len(p.Steps))
	for _, step := range p.Steps {
		compiled, err := g.compileStep(page, kg, step, corr, prior)
		if err != nil {
			return nil, err
		}
		steps = append(steps, compiled)
	}

	if corr != nil && corr.Failure == model.FailureAssertion {
		// Let the page settle before re-checking the expectations the
		// prior attempt saw mismatch.
		for i := range steps {
			if steps[i].Action == model.ActionAssert {
				steps[i].WaitBefore = correctionWait
			}
		}
	}

	artifact := &model.GeneratedArtifact{
		ID:          uuid.New().String(),
		ProposalID:  p.ID,
		Attempt:     attempt,
		Status:      model.ArtifactPending,
		Steps:       steps,
		Assertions:  append([]model.Assertion(nil), p.Assertions...),
		GeneratedAt: time.Now(),
	}
	artifact.Script = RenderScript(p, artifact)

	if n := artifact.UnresolvedCount(); n > 0 {
		g.log.Warnf("artifact %s attempt %d: %d of %d steps unresolved", artifact.ID, attempt, n, len(steps))
	} else {
		g.log.Infof("artifact %s attempt %d: %d steps compiled", artifact.ID, attempt, len(steps))
	}
	return artifact, nil
}

func (g *Generator) compileStep(page browser.Page, kg *model.KnowledgeGraph, step model.Step, corr *model.CorrectionContext, prior *model.GeneratedArtifact) (model.CompiledStep, error) {
	compiled := model.CompiledStep{
		Index:  step.Index,
		Action: step.Action,
		Value:  step.Value,
		Target: step.Target,
	}

	corrected := corr != nil && corr.FailedStep == step.Index

	if step.Action == model.ActionNavigate {
		if corrected && (corr.Failure == model.FailureTimeout || corr.Failure == model.FailureNavigation) {
			compiled.WaitBefore = correctionWait
		}
		return compiled, nil
	}

	el, _ := kg.Element(step.ElementID)
	if el == nil {
		// The element vanished from the graph between approval and
		// generation; emitting a fabricated locator is never an option.
		g.log.Warnf("step %d references unknown element %s, marking unresolved", step.Index, step.ElementID)
		compiled.Unresolved = true
		return compiled, nil
	}

	exclude := ""
	if corrected && corr.Failure == model.FailureLocatorNotFound {
		exclude = priorLocator(prior, step.Index)
	}

	chosen, err := locator.ResolveExcluding(page, el, exclude)
	if err != nil {
		var noStable *model.NoStableLocatorError
		if !errors.As(err, &noStable) {
			return model.CompiledStep{}, fmt.Errorf("resolving step %d: %w", step.Index, err)
		}
		g.log.Warnf("step %d: no stable locator for element %s after %d candidates", step.Index, el.ID, noStable.Tried)
		compiled.Unresolved = true
		return compiled, nil
	}
	compiled.Locator = chosen

	if corrected && (corr.Failure == model.FailureTimeout || corr.Failure == model.FailureNavigation) {
		compiled.WaitBefore = correctionWait
	}
	return compiled, nil
}

// priorLocator returns the expression the prior attempt used for the
// step, so the correction can rule it out.
func priorLocator(prior *model.GeneratedArtifact, stepIndex int) string {
	if prior == nil {
		return ""
	}
	for _, s := range prior.Steps {
		if s.Index == stepIndex {
			return s.Locator.Expression
		}
	}
	return ""
}
