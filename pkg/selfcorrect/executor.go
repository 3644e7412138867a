package selfcorrect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/locator"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/logging"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// Runner executes one artifact attempt against a live page and records
// the evidence: step-by-step log, failure screenshots, video reference.
// Evidence is produced for every attempt regardless of outcome.
type Runner struct {
	shotDir     string
	stepTimeout time.Duration
	log         *logging.Logger
}

// NewRunner creates a runner. shotDir receives failure screenshots;
// empty disables capture. stepTimeout bounds each performed action,
// zero means 10s.
func NewRunner(shotDir string, stepTimeout time.Duration) *Runner {
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	log, _ := logging.NewLogger("execute")
	return &Runner{shotDir: shotDir, stepTimeout: stepTimeout, log: log}
}

// Execute runs the artifact's executable steps and assertions on the
// page. The returned evidence is complete even when the attempt failed;
// a non-nil error means the run infrastructure itself broke, not the
// test.
func (r *Runner) Execute(ctx context.Context, page browser.Page, a *model.GeneratedArtifact) (*model.ExecutionEvidence, error) {
	ev := &model.ExecutionEvidence{
		ID:         uuid.New().String(),
		ArtifactID: a.ID,
		ProposalID: a.ProposalID,
		Attempt:    a.Attempt,
		FailedStep: -1,
		StartedAt:  time.Now(),
	}

	failed := false
	for _, step := range a.ExecutableSteps() {
		if err := ctx.Err(); err != nil {
			ev.FinishedAt = time.Now()
			return ev, err
		}

		entry, stepErr := r.runStep(ctx, page, step)
		ev.StepLog = append(ev.StepLog, entry)
		if entry.ScreenshotRef != "" {
			ev.ScreenshotRefs = append(ev.ScreenshotRefs, entry.ScreenshotRef)
		}
		if stepErr != nil {
			ev.Failure = Classify(stepErr, step.Action)
			ev.FailureDetail = entry.Error
			ev.FailedStep = step.Index
			failed = true
			break
		}
	}

	if !failed {
		for _, assertion := range a.Assertions {
			entry, err := r.checkAssertion(page, assertion)
			ev.StepLog = append(ev.StepLog, entry)
			if entry.ScreenshotRef != "" {
				ev.ScreenshotRefs = append(ev.ScreenshotRefs, entry.ScreenshotRef)
			}
			if err != nil {
				ev.Failure = Classify(err, model.ActionAssert)
				ev.FailureDetail = err.Error()
				ev.FailedStep = entry.StepIndex
				failed = true
				break
			}
		}
	}

	ev.Passed = !failed
	if video, err := page.VideoPath(); err == nil {
		ev.VideoRef = video
	}
	ev.FinishedAt = time.Now()

	if ev.Passed {
		r.log.Infof("attempt %d of artifact %s passed (%d steps)", a.Attempt, a.ID, len(ev.StepLog))
	} else {
		r.log.Warnf("attempt %d of artifact %s failed at step %d: %s [%s]",
			a.Attempt, a.ID, ev.FailedStep, ev.FailureDetail, ev.Failure)
	}
	return ev, nil
}

func (r *Runner) runStep(ctx context.Context, page browser.Page, step model.CompiledStep) (model.StepLogEntry, error) {
	start := time.Now()
	entry := model.StepLogEntry{
		StepIndex: step.Index,
		Action:    step.Action,
		At:        start,
	}

	selector := ""
	if step.Action != model.ActionNavigate {
		selector = locator.Selector(step.Locator)
		entry.Locator = selector
	}

	err := r.waitBefore(ctx, page, step, selector)
	if err == nil {
		err = r.perform(ctx, page, step, selector)
	}

	entry.Duration = time.Since(start)
	if err != nil {
		entry.Error = err.Error()
		entry.ScreenshotRef = r.captureFailure(page)
		return entry, err
	}
	entry.OK = true
	return entry, nil
}

func (r *Runner) waitBefore(ctx context.Context, page browser.Page, step model.CompiledStep, selector string) error {
	if step.WaitBefore <= 0 {
		return nil
	}
	if selector != "" {
		_, err := page.Perform(ctx, browser.Action{
			Kind:     browser.ActionWait,
			Selector: selector,
			Timeout:  step.WaitBefore,
		})
		return err
	}
	select {
	case <-time.After(step.WaitBefore):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) perform(ctx context.Context, page browser.Page, step model.CompiledStep, selector string) error {
	switch step.Action {
	case model.ActionNavigate:
		_, err := page.Perform(ctx, browser.Action{Kind: browser.ActionNavigate, URL: step.Target, Timeout: r.stepTimeout})
		return err
	case model.ActionClick:
		_, err := page.Perform(ctx, browser.Action{Kind: browser.ActionClick, Selector: selector, Timeout: r.stepTimeout})
		return err
	case model.ActionFill:
		_, err := page.Perform(ctx, browser.Action{Kind: browser.ActionFill, Selector: selector, Value: step.Value, Timeout: r.stepTimeout})
		return err
	case model.ActionAssert:
		n, err := page.Count(selector)
		if err != nil {
			return err
		}
		if n == 0 {
			return &assertionError{kind: "element_visible", expected: selector, observed: "no match"}
		}
		return nil
	default:
		return fmt.Errorf("unsupported step action %q", step.Action)
	}
}

// checkAssertion evaluates one expected-outcome assertion after the
// steps have run. Assertion log entries index past the step list.
func (r *Runner) checkAssertion(page browser.Page, assertion model.Assertion) (model.StepLogEntry, error) {
	start := time.Now()
	entry := model.StepLogEntry{
		StepIndex: -1,
		Action:    model.ActionAssert,
		At:        start,
	}

	var err error
	switch assertion.Kind {
	case "url_contains":
		if !strings.Contains(page.URL(), assertion.Expected) {
			err = &assertionError{kind: assertion.Kind, expected: assertion.Expected, observed: page.URL()}
		}
	case "text_visible":
		err = r.countAssertion(page, "text="+assertion.Expected, assertion)
	case "element_visible":
		err = r.countAssertion(page, assertion.Target, assertion)
	default:
		err = fmt.Errorf("unknown assertion kind %q", assertion.Kind)
	}

	entry.Duration = time.Since(start)
	if err != nil {
		entry.Error = err.Error()
		entry.ScreenshotRef = r.captureFailure(page)
		return entry, err
	}
	entry.OK = true
	return entry, nil
}

func (r *Runner) countAssertion(page browser.Page, selector string, assertion model.Assertion) error {
	n, err := page.Count(selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return &assertionError{kind: assertion.Kind, expected: assertion.Expected, observed: "no match"}
	}
	return nil
}

// captureFailure screenshots the page at the point of failure, best
// effort.
func (r *Runner) captureFailure(page browser.Page) string {
	if r.shotDir == "" {
		return ""
	}
	shot, err := page.Screenshot()
	if err != nil || len(shot) == 0 {
		return ""
	}
	if err := os.MkdirAll(r.shotDir, 0750); err != nil {
		return ""
	}
	path := filepath.Join(r.shotDir, fmt.Sprintf("fail-%s.png", uuid.New().String()))
	if err := os.WriteFile(path, shot, 0600); err != nil {
		return ""
	}
	return path
}
