// Package selfcorrect runs generated artifacts against the live browser
// and, on failure, feeds the classified failure back into the code
// generator until the test passes or the attempt budget is exhausted.
package selfcorrect

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/codegen"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/logging"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// LoopState is the correction state machine state.
type LoopState string

const (
	StatePending      LoopState = "pending"
	StateExecuting    LoopState = "executing"
	StateAnalyzing    LoopState = "analyzing"
	StateRegenerating LoopState = "regenerating"
	StatePassed       LoopState = "passed"
	StateExhausted    LoopState = "exhausted"
)

// DefaultMaxAttempts is the attempt budget per proposal.
const DefaultMaxAttempts = 3

// logExcerptEntries bounds how much step log is fed back into the
// generation prompt context.
const logExcerptEntries = 5

// Outcome is the terminal result of one proposal's correction loop: the
// full artifact version history and the evidence of every attempt. No
// failed attempt's evidence is ever discarded.
type Outcome struct {
	Lineage  *model.ArtifactLineage
	Evidence []*model.ExecutionEvidence
	State    LoopState
}

// Passed reports whether the loop terminated with a passing artifact.
func (o *Outcome) Passed() bool { return o.State == StatePassed }

// Loop drives generate → execute → classify → regenerate for one
// approved proposal.
type Loop struct {
	controller  browser.Controller
	generator   *codegen.Generator
	runner      *Runner
	maxAttempts int
	log         *logging.Logger
	state       LoopState
}

// NewLoop creates a correction loop. maxAttempts <= 0 selects the
// default budget of 3.
func NewLoop(controller browser.Controller, generator *codegen.Generator, runner *Runner, maxAttempts int) *Loop {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	log, _ := logging.NewLogger("selfcorrect")
	return &Loop{
		controller:  controller,
		generator:   generator,
		runner:      runner,
		maxAttempts: maxAttempts,
		log:         log,
		state:       StatePending,
	}
}

// State returns the current state machine state.
func (l *Loop) State() LoopState { return l.state }

// Run executes the correction loop for an approved proposal. startURL is
// where each attempt's fresh browser context begins; generation-time
// locator re-validation and execution share that context.
//
// Exhaustion is terminal but not fatal: the outcome flags the proposal
// for manual authoring and the session continues, so Run only returns an
// error for infrastructure failures and cancellation. Two consecutive
// UnknownRuntimeError attempts escalate straight to exhausted instead of
// retrying blindly.
func (l *Loop) Run(ctx context.Context, kg *model.KnowledgeGraph, p *model.TestCaseProposal, startURL string) (*Outcome, error) {
	outcome := &Outcome{Lineage: model.NewArtifactLineage(p.ID)}

	var corr *model.CorrectionContext
	var prior *model.GeneratedArtifact
	unknownStreak := 0

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		artifact, evidence, err := l.attempt(ctx, kg, p, startURL, attempt, corr, prior)
		if artifact != nil {
			if appendErr := outcome.Lineage.Append(artifact); appendErr != nil {
				return outcome, appendErr
			}
		}
		if evidence != nil {
			outcome.Evidence = append(outcome.Evidence, evidence)
		}
		if err != nil {
			l.state = StateExhausted
			outcome.State = StateExhausted
			return outcome, err
		}

		if evidence.Passed {
			artifact.Status = model.ArtifactPassed
			l.state = StatePassed
			outcome.State = StatePassed
			l.log.Infof("proposal %s passed on attempt %d", p.ID, attempt)
			return outcome, nil
		}
		artifact.Status = model.ArtifactFailed

		l.state = StateAnalyzing
		if evidence.Failure == model.FailureUnknownRuntime {
			unknownStreak++
		} else {
			unknownStreak = 0
		}
		if unknownStreak >= 2 {
			l.log.Warnf("proposal %s: two consecutive unclassified failures, escalating", p.ID)
			break
		}
		if attempt == l.maxAttempts {
			break
		}

		l.state = StateRegenerating
		corr = &model.CorrectionContext{
			Failure:       evidence.Failure,
			FailureDetail: evidence.FailureDetail,
			FailedStep:    evidence.FailedStep,
			LogExcerpt:    excerpt(evidence.StepLog),
			PriorAttempt:  attempt,
		}
		prior = artifact
	}

	if current := outcome.Lineage.Current(); current != nil {
		current.Status = model.ArtifactExhausted
	}
	l.state = StateExhausted
	outcome.State = StateExhausted
	l.log.Warnf("proposal %s exhausted after %d attempts, flagged for manual authoring", p.ID, outcome.Lineage.Len())
	return outcome, nil
}

// attempt runs one generate+execute cycle in a fresh browser context.
func (l *Loop) attempt(ctx context.Context, kg *model.KnowledgeGraph, p *model.TestCaseProposal, startURL string, attempt int, corr *model.CorrectionContext, prior *model.GeneratedArtifact) (*model.GeneratedArtifact, *model.ExecutionEvidence, error) {
	page, err := l.controller.OpenPage(ctx, startURL)
	if err != nil {
		return nil, nil, fmt.Errorf("attempt %d could not open a browser context: %w", attempt, err)
	}
	defer page.Close()

	l.state = StateRegenerating
	artifact, err := l.generator.Generate(page, kg, p, attempt, corr, prior)
	if err != nil {
		return nil, nil, fmt.Errorf("attempt %d generation failed: %w", attempt, err)
	}

	l.state = StateExecuting
	evidence, err := l.runner.Execute(ctx, page, artifact)
	if err != nil {
		return artifact, evidence, err
	}
	return artifact, evidence, nil
}

// excerpt renders the tail of a step log for the correction context.
func excerpt(entries []model.StepLogEntry) string {
	if len(entries) > logExcerptEntries {
		entries = entries[len(entries)-logExcerptEntries:]
	}
	var b strings.Builder
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed: " + e.Error
		}
		fmt.Fprintf(&b, "step %d %s %s %s\n", e.StepIndex, e.Action, e.Locator, status)
	}
	return b.String()
}
