// Package session owns one end-to-end test-generation session: explore,
// design, approve, generate, verify. All session state lives on the
// explicit Session object and is persisted append-only as it
// accumulates, so cancellation never loses progress and a session can be
// resumed by ID.
//
// Human gating is modeled as synchronous commands (Approve, Revise,
// Reject, Cancel) rather than UI callbacks; any front end drives the
// session by calling them.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/codegen"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/config"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/design"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/explore"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/extract"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/llm"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/logging"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/selfcorrect"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/store"
)

// Session is one test-generation session. Methods are safe for
// concurrent use; the verification phase runs approved proposals in
// parallel workers, each attempt in its own browser context.
type Session struct {
	id         string
	cfg        *config.Config
	controller browser.Controller
	reasoner   llm.Client
	db         *store.Store

	collaborator *design.Collaborator
	extractor    *extract.Extractor
	log          *logging.Logger

	mu        sync.RWMutex
	kg        *model.KnowledgeGraph
	startURL  string
	proposals map[string]*model.TestCaseProposal
	order     []string
	outcomes  map[string]*selfcorrect.Outcome
	cancel    context.CancelFunc
}

// New creates a fresh session. db may be nil to run without persistence.
func New(cfg *config.Config, controller browser.Controller, reasoner llm.Client, db *store.Store) *Session {
	id := uuid.New().String()
	return newSession(id, cfg, controller, reasoner, db, model.NewKnowledgeGraph(id))
}

// Resume reopens a persisted session: the knowledge graph and proposals
// are reloaded, evidence and artifact history stay queryable through the
// store.
func Resume(ctx context.Context, id string, cfg *config.Config, controller browser.Controller, reasoner llm.Client, db *store.Store) (*Session, error) {
	if db == nil {
		return nil, fmt.Errorf("resuming session %s requires a store", id)
	}
	kg, err := db.LoadGraph(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", id, err)
	}
	s := newSession(id, cfg, controller, reasoner, db, kg)

	startURL, err := db.LoadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", id, err)
	}
	s.startURL = startURL

	proposals, err := db.LoadProposals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", id, err)
	}
	for _, p := range proposals {
		s.proposals[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	s.log.Infof("session %s resumed: %d snapshots, %d proposals", id, len(kg.Snapshots()), len(proposals))
	return s, nil
}

func newSession(id string, cfg *config.Config, controller browser.Controller, reasoner llm.Client, db *store.Store, kg *model.KnowledgeGraph) *Session {
	log, _ := logging.NewLogger("session")
	retry := llm.DefaultRetryOptions()

	return &Session{
		id:         id,
		cfg:        cfg,
		controller: controller,
		reasoner:   reasoner,
		db:         db,
		collaborator: design.New(reasoner, llm.Config{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, retry),
		extractor: extract.New(extract.Options{
			Mode:          extract.Mode(cfg.Extract.Mode),
			MaxDepth:      cfg.Extract.MaxDepth,
			IncludeHidden: cfg.Extract.IncludeHidden,
			IoUThreshold:  cfg.Extract.IoUThreshold,
		}, nil, cfg.Browser.EvidenceDir),
		log:       log,
		kg:        kg,
		proposals: make(map[string]*model.TestCaseProposal),
		outcomes:  make(map[string]*selfcorrect.Outcome),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Graph returns the session's knowledge graph.
func (s *Session) Graph() *model.KnowledgeGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kg
}

// Explore runs the exploration stage from startURL, persisting every
// snapshot and transition as it lands. Cancelling mid-exploration keeps
// everything accumulated so far.
func (s *Session) Explore(ctx context.Context, startURL string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.startURL = startURL
	s.cancel = cancel
	kg := s.kg
	s.mu.Unlock()
	defer cancel()
	s.persistSession(startURL)

	agent, err := explore.New(s.controller, s.extractor, s.reasoner, s.llmConfig(), llm.DefaultRetryOptions(), explore.Options{
		MaxSteps:     s.cfg.Explore.MaxSteps,
		MaxDepth:     s.cfg.Explore.MaxDepth,
		IncludeGlobs: s.cfg.Explore.IncludeGlobs,
		ExcludeGlobs: s.cfg.Explore.ExcludeGlobs,
		AnalyzePages: s.cfg.Explore.AnalyzePages,
		OnSnapshot:   func(snap *model.PageSnapshot) { s.persistSnapshot(snap) },
		OnEdge:       func(e model.Edge) { s.persistEdge(e) },
	})
	if err != nil {
		return err
	}

	s.log.Infof("session %s exploring from %s", s.id, startURL)
	return agent.Explore(ctx, kg, startURL)
}

// Propose drafts test cases for the intent against the explored graph.
func (s *Session) Propose(ctx context.Context, intent string) ([]*model.TestCaseProposal, error) {
	proposals, err := s.collaborator.Propose(ctx, s.Graph(), intent)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, p := range proposals {
		s.proposals[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	s.mu.Unlock()

	for _, p := range proposals {
		s.persistProposal(p)
	}
	return proposals, nil
}

// Revise applies reviewer feedback to a proposal, producing the next
// revision in its lineage.
func (s *Session) Revise(ctx context.Context, proposalID, feedback string) (*model.TestCaseProposal, error) {
	p, err := s.proposal(proposalID)
	if err != nil {
		return nil, err
	}

	revised, err := s.collaborator.Revise(ctx, s.Graph(), p, feedback)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.proposals[revised.ID] = revised
	s.order = append(s.order, revised.ID)
	s.mu.Unlock()

	s.persistProposal(p)
	s.persistProposal(revised)
	return revised, nil
}

// Approve validates the proposal's element references against the live
// page and marks it approved. Validation always runs against the latest
// revision the caller names; a stale reference blocks the approval.
func (s *Session) Approve(ctx context.Context, proposalID string) error {
	p, err := s.proposal(proposalID)
	if err != nil {
		return err
	}

	entry, err := s.entryURL(p)
	if err != nil {
		return err
	}
	page, err := s.controller.OpenPage(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to open validation page: %w", err)
	}
	defer page.Close()

	if err := s.collaborator.Approve(ctx, page, s.Graph(), p); err != nil {
		return err
	}
	s.persistProposal(p)
	return nil
}

// Reject marks the proposal rejected.
func (s *Session) Reject(ctx context.Context, proposalID string) error {
	p, err := s.proposal(proposalID)
	if err != nil {
		return err
	}
	if err := s.collaborator.Reject(p); err != nil {
		return err
	}
	s.persistProposal(p)
	return nil
}

// Verify generates and executes every approved proposal through the
// self-correction loop. Proposals run in parallel, one worker each; every
// attempt gets its own isolated browser context. Artifacts and evidence
// are persisted as they are produced.
func (s *Session) Verify(ctx context.Context) (map[string]*selfcorrect.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	var approved []*model.TestCaseProposal
	for _, id := range s.order {
		if p := s.proposals[id]; p.State == model.ProposalApproved {
			approved = append(approved, p)
		}
	}
	s.mu.Unlock()
	defer cancel()

	if len(approved) == 0 {
		return nil, fmt.Errorf("session %s has no approved proposals to verify", s.id)
	}

	generator := codegen.New()
	var wg sync.WaitGroup
	for _, p := range approved {
		wg.Add(1)
		go func(p *model.TestCaseProposal) {
			defer wg.Done()

			entry, err := s.entryURL(p)
			if err != nil {
				s.log.Errorf("proposal %s verification skipped: %v", p.ID, err)
				return
			}

			runner := selfcorrect.NewRunner(s.cfg.Browser.EvidenceDir, s.cfg.SelfCorrect.StepTimeout)
			loop := selfcorrect.NewLoop(s.controller, generator, runner, s.cfg.SelfCorrect.MaxAttempts)

			outcome, err := loop.Run(ctx, s.Graph(), p, entry)
			if err != nil && ctx.Err() == nil {
				s.log.Errorf("proposal %s verification failed: %v", p.ID, err)
			}
			if outcome != nil {
				s.recordOutcome(p.ID, outcome)
			}
		}(p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Whatever completed before cancellation is already recorded.
		return s.Outcomes(), err
	}
	return s.Outcomes(), nil
}

// Outcomes returns the verification results recorded so far.
func (s *Session) Outcomes() map[string]*selfcorrect.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*selfcorrect.Outcome, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

// Proposals returns the session's proposals in creation order.
func (s *Session) Proposals() []*model.TestCaseProposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.TestCaseProposal, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.proposals[id])
	}
	return out
}

// Coverage reports the fraction of discovered interactive elements the
// session's proposals exercise.
func (s *Session) Coverage() float64 {
	return model.Coverage(s.Proposals(), s.Graph())
}

// Cancel stops the running stage, if any. Accumulated state stays
// persisted.
func (s *Session) Cancel() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) proposal(id string) (*model.TestCaseProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, fmt.Errorf("session %s has no proposal %s", s.id, id)
	}
	return p, nil
}

// entryURL picks the page a proposal starts from: its first navigate
// step's target, falling back to the exploration start URL. Errors when
// neither exists so callers never open a page at an empty URL.
func (s *Session) entryURL(p *model.TestCaseProposal) (string, error) {
	for _, step := range p.Steps {
		if step.Action == model.ActionNavigate && step.Target != "" {
			return step.Target, nil
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startURL == "" {
		return "", fmt.Errorf("proposal %s has no navigate step and session %s has no recorded start URL", p.ID, s.id)
	}
	return s.startURL, nil
}

func (s *Session) llmConfig() llm.Config {
	return llm.Config{
		Model:       s.cfg.LLM.Model,
		Temperature: s.cfg.LLM.Temperature,
		MaxTokens:   s.cfg.LLM.MaxTokens,
	}
}

func (s *Session) persistSession(startURL string) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveSession(context.Background(), s.id, startURL); err != nil {
		s.log.Errorf("failed to persist session %s: %v", s.id, err)
	}
}

func (s *Session) persistSnapshot(snap *model.PageSnapshot) {
	if s.db == nil {
		return
	}
	// Persistence outlives stage cancellation on purpose: an interrupted
	// stage must not lose what it already observed.
	if err := s.db.SaveSnapshot(context.Background(), snap); err != nil {
		s.log.Errorf("failed to persist snapshot %s: %v", snap.ID, err)
	}
}

func (s *Session) persistEdge(e model.Edge) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveEdge(context.Background(), s.id, e); err != nil {
		s.log.Errorf("failed to persist edge: %v", err)
	}
}

func (s *Session) persistProposal(p *model.TestCaseProposal) {
	if s.db == nil {
		return
	}
	if err := s.db.SaveProposal(context.Background(), p); err != nil {
		s.log.Errorf("failed to persist proposal %s: %v", p.ID, err)
	}
}

func (s *Session) recordOutcome(proposalID string, outcome *selfcorrect.Outcome) {
	s.mu.Lock()
	s.outcomes[proposalID] = outcome
	s.mu.Unlock()

	if s.db == nil {
		return
	}
	for _, a := range outcome.Lineage.Versions() {
		if err := s.db.SaveArtifact(context.Background(), a); err != nil {
			s.log.Errorf("failed to persist artifact %s: %v", a.ID, err)
		}
	}
	for _, ev := range outcome.Evidence {
		if err := s.db.SaveEvidence(context.Background(), ev); err != nil {
			s.log.Errorf("failed to persist evidence %s: %v", ev.ID, err)
		}
	}
}
