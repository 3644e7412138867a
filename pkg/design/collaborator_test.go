package design

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/llm"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

type scriptedReasoner struct {
	responses []string
	calls     int
}

func (s *scriptedReasoner) Complete(ctx context.Context, prompt string, cfg llm.Config) (*llm.Completion, error) {
	if s.calls >= len(s.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", s.calls)
	}
	r := s.responses[s.calls]
	s.calls++
	return &llm.Completion{Text: r, Tokens: 5}, nil
}

// countingPage implements just enough of the page contract for locator
// re-validation: Count answers from a selector map, everything else is
// inert.
type countingPage struct {
	counts map[string]int
}

func (p *countingPage) URL() string                     { return "https://shop.test/checkout" }
func (p *countingPage) Title() (string, error)          { return "Checkout", nil }
func (p *countingPage) Content() (string, error)        { return "", nil }
func (p *countingPage) Screenshot() ([]byte, error)     { return nil, nil }
func (p *countingPage) Evaluate(string) (string, error) { return "[]", nil }
func (p *countingPage) Detached() bool                  { return false }
func (p *countingPage) VideoPath() (string, error)      { return "", nil }
func (p *countingPage) Close() error                    { return nil }
func (p *countingPage) Count(selector string) (int, error) {
	return p.counts[selector], nil
}
func (p *countingPage) Perform(ctx context.Context, a browser.Action) (*browser.ActionResult, error) {
	return &browser.ActionResult{URL: p.URL()}, nil
}

func checkoutGraph(t *testing.T) *model.KnowledgeGraph {
	t.Helper()
	kg := model.NewKnowledgeGraph("sess-1")
	snap := &model.PageSnapshot{
		ID:             "snap-1",
		SessionID:      "sess-1",
		URL:            "https://shop.test/checkout",
		Title:          "Checkout",
		StructuralHash: model.StructuralHash("0:html;1:body;"),
		CapturedAt:     time.Now(),
		Elements: []model.ElementCandidate{
			{
				ID: "el-qty", Tag: "input", Role: model.RoleInput,
				Attributes: map[string]string{"id": "quantity"},
				Locators: []model.LocatorCandidate{
					{Strategy: model.StrategyID, Expression: "#quantity", Score: model.ScoreID},
				},
			},
			{
				ID: "el-pay", Tag: "button", Role: model.RoleButton, Text: "Pay now",
				Attributes: map[string]string{"id": "pay"},
				Locators: []model.LocatorCandidate{
					{Strategy: model.StrategyID, Expression: "#pay", Score: model.ScoreID},
				},
			},
		},
	}
	_, added := kg.AddSnapshot(snap)
	require.True(t, added)
	return kg
}

const proposeResponse = `{
  "test_cases": [
    {
      "name": "complete a purchase",
      "description": "fills quantity and pays",
      "coverage_tags": ["checkout-flow", "pay-button"],
      "steps": [
        {"action": "navigate", "target": "https://shop.test/checkout"},
        {"action": "fill", "element_index": 0, "value": "2"},
        {"action": "click", "element_index": 1}
      ],
      "assertions": [
        {"kind": "url_contains", "expected": "/confirmation"}
      ]
    },
    {
      "name": "broken case",
      "steps": [{"action": "click", "element_index": 99}]
    }
  ]
}`

func TestPropose_MaterializesDraftsAndDropsMalformed(t *testing.T) {
	kg := checkoutGraph(t)
	c := New(&scriptedReasoner{responses: []string{proposeResponse}}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	proposals, err := c.Propose(context.Background(), kg, "cover the checkout flow")
	require.NoError(t, err)
	require.Len(t, proposals, 1, "the out-of-range case is dropped")

	p := proposals[0]
	assert.Equal(t, model.ProposalDraft, p.State)
	assert.Equal(t, "complete a purchase", p.Name)
	assert.Equal(t, 1, p.Revision)
	assert.Equal(t, p.ID, p.LineageID)
	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, []string{"checkout-flow", "pay-button"}, p.CoverageTags)

	require.Len(t, p.Steps, 3)
	assert.Equal(t, model.ActionNavigate, p.Steps[0].Action)
	assert.Equal(t, "el-qty", p.Steps[1].ElementID)
	assert.Equal(t, "#quantity", p.Steps[1].Locator.Expression)
	assert.Equal(t, "2", p.Steps[1].Value)
	assert.Equal(t, "el-pay", p.Steps[2].ElementID)
	assert.Equal(t, "#pay", p.Steps[2].Locator.Expression)
	require.Len(t, p.Assertions, 1)
	assert.Equal(t, "url_contains", p.Assertions[0].Kind)
}

func TestPropose_AllMalformedIsAnError(t *testing.T) {
	kg := checkoutGraph(t)
	c := New(&scriptedReasoner{responses: []string{
		`{"test_cases": [{"name": "bad", "steps": [{"action": "hover", "element_index": 0}]}]}`,
	}}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	_, err := c.Propose(context.Background(), kg, "anything")
	assert.Error(t, err)
}

func TestRevise_PreservesLineage(t *testing.T) {
	kg := checkoutGraph(t)
	c := New(&scriptedReasoner{responses: []string{
		proposeResponse,
		`{"name": "complete a purchase with coupon", "steps": [
			{"action": "fill", "element_index": 0, "value": "5"},
			{"action": "click", "element_index": 1}
		], "assertions": [{"kind": "url_contains", "expected": "/confirmation"}]}`,
	}}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	proposals, err := c.Propose(context.Background(), kg, "cover the checkout flow")
	require.NoError(t, err)
	original := proposals[0]

	revised, err := c.Revise(context.Background(), kg, original, "also try a larger quantity")
	require.NoError(t, err)

	assert.Equal(t, model.ProposalRevised, original.State)
	assert.Equal(t, model.ProposalDraft, revised.State)
	assert.Equal(t, original.LineageID, revised.LineageID)
	assert.Equal(t, original.ID, revised.ParentID)
	assert.Equal(t, 2, revised.Revision)
	assert.NotEqual(t, original.ID, revised.ID)
	assert.Equal(t, "5", revised.Steps[0].Value)
}

func TestRevise_ApprovedIsImmutable(t *testing.T) {
	kg := checkoutGraph(t)
	c := New(&scriptedReasoner{}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	p := &model.TestCaseProposal{ID: "p1", LineageID: "p1", Revision: 1, State: model.ProposalApproved}
	_, err := c.Revise(context.Background(), kg, p, "change it")
	assert.Error(t, err)
}

func approvableProposal() *model.TestCaseProposal {
	return &model.TestCaseProposal{
		ID:        "p1",
		SessionID: "sess-1",
		LineageID: "p1",
		Revision:  1,
		Name:      "complete a purchase",
		State:     model.ProposalDraft,
		Steps: []model.Step{
			{Index: 0, Action: model.ActionNavigate, Target: "https://shop.test/checkout"},
			{Index: 1, Action: model.ActionFill, ElementID: "el-qty", Value: "2"},
			{Index: 2, Action: model.ActionClick, ElementID: "el-pay"},
		},
		Assertions: []model.Assertion{{Kind: "url_contains", Expected: "/confirmation"}},
	}
}

func TestApprove_ValidatesAndTransitions(t *testing.T) {
	kg := checkoutGraph(t)
	page := &countingPage{counts: map[string]int{"#quantity": 1, "#pay": 1}}
	c := New(&scriptedReasoner{}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	p := approvableProposal()
	require.NoError(t, c.Approve(context.Background(), page, kg, p))
	assert.Equal(t, model.ProposalApproved, p.State)
	assert.False(t, p.DecidedAt.IsZero())
}

func TestApprove_StaleLocatorBlocksApproval(t *testing.T) {
	kg := checkoutGraph(t)
	// The pay button lost its id attribute in a deploy: its stored
	// locator no longer matches anything on the live page.
	page := &countingPage{counts: map[string]int{"#quantity": 1, "#pay": 0}}
	c := New(&scriptedReasoner{}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	p := approvableProposal()
	err := c.Approve(context.Background(), page, kg, p)

	var stale *model.StaleReferenceError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "p1", stale.ProposalID)
	assert.Equal(t, 2, stale.StepIndex)
	assert.Equal(t, "el-pay", stale.ElementID)
	assert.Equal(t, model.ProposalDraft, p.State, "failed validation must not change state")
}

func TestApprove_SurvivingFallbackLocatorIsStillStale(t *testing.T) {
	kg := model.NewKnowledgeGraph("sess-1")
	snap := &model.PageSnapshot{
		ID:             "snap-1",
		SessionID:      "sess-1",
		URL:            "https://shop.test/login",
		StructuralHash: model.StructuralHash("0:html;1:body;"),
		CapturedAt:     time.Now(),
		Elements: []model.ElementCandidate{
			{
				ID: "el-login", Tag: "button", Role: model.RoleButton, Text: "Log in",
				Attributes: map[string]string{"id": "login"},
				Locators: []model.LocatorCandidate{
					{Strategy: model.StrategyID, Expression: "#login", Score: model.ScoreID},
					{Strategy: model.StrategySemantic, Expression: `text="Log in"`, Score: model.ScoreUniqueText},
				},
			},
		},
	}
	_, added := kg.AddSnapshot(snap)
	require.True(t, added)

	// The id the reviewer saw is gone; only the text locator still
	// matches. Approval must not quietly accept the weaker strategy.
	page := &countingPage{counts: map[string]int{"#login": 0, `text="Log in"`: 1}}
	c := New(&scriptedReasoner{}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	p := &model.TestCaseProposal{
		ID: "p1", SessionID: "sess-1", LineageID: "p1", Revision: 1,
		Name: "log in", State: model.ProposalDraft,
		Steps: []model.Step{
			{
				Index: 0, Action: model.ActionClick, ElementID: "el-login",
				Locator: model.LocatorCandidate{Strategy: model.StrategyID, Expression: "#login", Score: model.ScoreID},
			},
		},
		Assertions: []model.Assertion{{Kind: "url_contains", Expected: "/account"}},
	}

	var stale *model.StaleReferenceError
	require.ErrorAs(t, c.Approve(context.Background(), page, kg, p), &stale)
	assert.Equal(t, 0, stale.StepIndex)
	assert.Equal(t, "el-login", stale.ElementID)
	assert.Equal(t, model.ProposalDraft, p.State)
}

func TestApprove_UnknownElementIsStale(t *testing.T) {
	kg := checkoutGraph(t)
	page := &countingPage{counts: map[string]int{}}
	c := New(&scriptedReasoner{}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})

	p := approvableProposal()
	p.Steps[1].ElementID = "el-vanished"

	var stale *model.StaleReferenceError
	require.ErrorAs(t, c.Approve(context.Background(), page, kg, p), &stale)
	assert.Equal(t, "el-vanished", stale.ElementID)
}

func TestProposePrompt_CarriesPageNotes(t *testing.T) {
	kg := checkoutGraph(t)
	snap := kg.Snapshots()[0]
	snap.Analysis = "Checkout page collecting quantity and payment."
	catalog := buildCatalog(kg)

	prompt := proposePrompt(kg, catalog, "cover checkout")
	assert.Contains(t, prompt, "Checkout page collecting quantity and payment.")

	// Without an analysis the markdown rendition stands in.
	snap.Analysis = ""
	snap.Markdown = "# Checkout\n\nEnter a quantity and pay."
	prompt = proposePrompt(kg, catalog, "cover checkout")
	assert.Contains(t, prompt, "Enter a quantity and pay.")
}

func TestReject(t *testing.T) {
	c := New(&scriptedReasoner{}, llm.Config{}, llm.RetryOptions{MaxAttempts: 1})
	p := approvableProposal()
	require.NoError(t, c.Reject(p))
	assert.Equal(t, model.ProposalRejected, p.State)
}
