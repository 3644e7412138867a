// Package explore drives site exploration: it navigates a live page,
// extracts page models, and accumulates them into a knowledge graph,
// consulting the reasoning component to decide each next action.
package explore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/extract"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/llm"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/locator"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/logging"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// State is the exploration state machine state.
type State string

const (
	StateIdle         State = "idle"
	StateNavigating   State = "navigating"
	StateExtracting   State = "extracting"
	StateDecidingNext State = "deciding_next"
	StateDone         State = "done"
)

// Options bounds one exploration session.
type Options struct {
	// MaxSteps caps the number of navigation/interaction transitions.
	MaxSteps int

	// MaxDepth caps how many interaction-driven transitions deep the
	// agent goes from the start page. Zero means unlimited.
	MaxDepth int

	// IncludeGlobs restricts navigation to matching URLs when non-empty;
	// ExcludeGlobs always wins over includes.
	IncludeGlobs []string
	ExcludeGlobs []string

	// AnalyzePages asks the reasoner for a functional analysis of every
	// newly observed page and stores it on the snapshot for later design
	// prompts. Costs one completion per page.
	AnalyzePages bool

	// OnSnapshot is called for every snapshot added to the graph, so the
	// session can persist progress incrementally. Optional.
	OnSnapshot func(*model.PageSnapshot)

	// OnEdge is called for every recorded transition. Optional.
	OnEdge func(model.Edge)
}

// Agent is the exploration state machine.
type Agent struct {
	controller browser.Controller
	extractor  *extract.Extractor
	reasoner   llm.Client
	llmCfg     llm.Config
	retry      llm.RetryOptions
	opts       Options
	include    []glob.Glob
	exclude    []glob.Glob
	log        *logging.Logger

	state State
}

// New creates an exploration agent. Include/exclude URL patterns are
// compiled eagerly so a bad pattern fails at construction, not mid-run.
func New(controller browser.Controller, extractor *extract.Extractor, reasoner llm.Client, llmCfg llm.Config, retry llm.RetryOptions, opts Options) (*Agent, error) {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 20
	}

	include, err := compileGlobs(opts.IncludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exclude, err := compileGlobs(opts.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	log, _ := logging.NewLogger("explore")
	return &Agent{
		controller: controller,
		extractor:  extractor,
		reasoner:   reasoner,
		llmCfg:     llmCfg,
		retry:      retry,
		opts:       opts,
		include:    include,
		exclude:    exclude,
		log:        log,
		state:      StateIdle,
	}, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// State returns the current state machine state.
func (a *Agent) State() State { return a.state }

// inScope reports whether a URL may be visited.
func (a *Agent) inScope(url string) bool {
	for _, g := range a.exclude {
		if g.Match(url) {
			return false
		}
	}
	if len(a.include) == 0 {
		return true
	}
	for _, g := range a.include {
		if g.Match(url) {
			return true
		}
	}
	return false
}

// Explore runs the state machine from startURL, appending every
// observation to kg. The graph may already contain snapshots from a
// prior session; previously extracted pages are deduplicated by URL plus
// structural hash and not re-added.
//
// The browser page is released on every exit path. Cancellation between
// state transitions returns ctx.Err() with everything accumulated so far
// still in kg.
func (a *Agent) Explore(ctx context.Context, kg *model.KnowledgeGraph, startURL string) error {
	if !a.inScope(startURL) {
		return fmt.Errorf("start URL %s is out of exploration scope", startURL)
	}

	a.state = StateNavigating
	page, err := a.controller.OpenPage(ctx, startURL)
	if err != nil {
		a.state = StateIdle
		return fmt.Errorf("failed to open start page: %w", err)
	}
	defer page.Close()

	current, err := a.observe(ctx, kg, page)
	if err != nil {
		a.state = StateIdle
		return err
	}

	depth := 0
	lastFailure := ""
	for step := 0; step < a.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.opts.MaxDepth > 0 && depth >= a.opts.MaxDepth {
			a.log.Infof("depth budget %d reached", a.opts.MaxDepth)
			break
		}

		a.state = StateDecidingNext
		dec, err := a.decide(ctx, kg, current, lastFailure)
		if err != nil {
			a.state = StateIdle
			return err
		}
		if dec.Action == actionDone {
			a.log.Infof("reasoner declared exploration complete: %s", dec.Reason)
			break
		}

		next, edge, err := a.apply(ctx, page, current, dec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Record the failure for the next decision instead of
			// aborting the whole session over one bad action.
			lastFailure = err.Error()
			a.log.Warnf("step %d action %s failed: %v", step, dec.Action, err)
			continue
		}
		lastFailure = ""

		a.state = StateExtracting
		snap, err := a.observeAfter(ctx, kg, page, next)
		if err != nil {
			a.state = StateIdle
			return err
		}
		if snap.ID != current.ID {
			edge.FromSnapshotID = current.ID
			edge.ToSnapshotID = snap.ID
			if err := kg.AddEdge(edge); err == nil && a.opts.OnEdge != nil {
				a.opts.OnEdge(edge)
			}
			depth++
		}
		current = snap
	}

	a.state = StateDone
	return nil
}

// observe extracts the current page and adds it to the graph, retrying a
// failed extraction once before surfacing.
func (a *Agent) observe(ctx context.Context, kg *model.KnowledgeGraph, page browser.Page) (*model.PageSnapshot, error) {
	a.state = StateExtracting
	snap, err := a.extractWithRetry(ctx, page, kg.SessionID())
	if err != nil {
		return nil, err
	}
	node, added := kg.AddSnapshot(snap)
	if added {
		if a.opts.AnalyzePages {
			a.analyze(ctx, node)
		}
		// Analysis lands before persistence so the stored snapshot
		// carries it.
		if a.opts.OnSnapshot != nil {
			a.opts.OnSnapshot(node)
		}
	}
	return node, nil
}

func (a *Agent) observeAfter(ctx context.Context, kg *model.KnowledgeGraph, page browser.Page, _ *browser.ActionResult) (*model.PageSnapshot, error) {
	return a.observe(ctx, kg, page)
}

func (a *Agent) extractWithRetry(ctx context.Context, page browser.Page, sessionID string) (*model.PageSnapshot, error) {
	snap, err := a.extractor.Extract(ctx, page, sessionID)
	if err == nil {
		return snap, nil
	}
	var ee *model.ExtractionError
	if !errors.As(err, &ee) {
		return nil, err
	}
	a.log.Warnf("extraction failed, retrying once: %v", err)
	return a.extractor.Extract(ctx, page, sessionID)
}

// apply performs the decided action against the live page.
func (a *Agent) apply(ctx context.Context, page browser.Page, current *model.PageSnapshot, dec *decision) (*browser.ActionResult, model.Edge, error) {
	now := time.Now()
	switch dec.Action {
	case actionNavigate:
		if !a.inScope(dec.URL) {
			return nil, model.Edge{}, fmt.Errorf("target URL %s is out of exploration scope", dec.URL)
		}
		res, err := page.Perform(ctx, browser.Action{Kind: browser.ActionNavigate, URL: dec.URL})
		return res, model.Edge{Kind: model.TransitionNavigate, RecordedAt: now}, err

	case actionClick, actionFill:
		if dec.ElementIndex < 0 || dec.ElementIndex >= len(current.Elements) {
			return nil, model.Edge{}, fmt.Errorf("element index %d out of range", dec.ElementIndex)
		}
		el := &current.Elements[dec.ElementIndex]
		chosen, err := locator.Resolve(page, el)
		if err != nil {
			return nil, model.Edge{}, err
		}

		action := browser.Action{Kind: browser.ActionClick, Selector: locator.Selector(chosen)}
		kind := model.TransitionClick
		if dec.Action == actionFill {
			action.Kind = browser.ActionFill
			action.Value = dec.Value
			kind = model.TransitionFill
		}
		res, err := page.Perform(ctx, action)
		return res, model.Edge{Kind: kind, ElementID: el.ID, RecordedAt: now}, err

	default:
		return nil, model.Edge{}, fmt.Errorf("unsupported exploration action %q", dec.Action)
	}
}
