package selfcorrect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/codegen"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// loopPage is a scriptable page: clicking the pay button either fails
// with the injected error or lands on the confirmation URL.
type loopPage struct {
	url      string
	counts   map[string]int
	clickErr error
	waits    []browser.Action
}

func (p *loopPage) URL() string                     { return p.url }
func (p *loopPage) Title() (string, error)          { return "Checkout", nil }
func (p *loopPage) Content() (string, error)        { return "", nil }
func (p *loopPage) Screenshot() ([]byte, error)     { return []byte{1}, nil }
func (p *loopPage) Evaluate(string) (string, error) { return "[]", nil }
func (p *loopPage) Detached() bool                  { return false }
func (p *loopPage) VideoPath() (string, error)      { return "", nil }
func (p *loopPage) Close() error                    { return nil }
func (p *loopPage) Count(selector string) (int, error) {
	return p.counts[selector], nil
}
func (p *loopPage) Perform(ctx context.Context, a browser.Action) (*browser.ActionResult, error) {
	switch a.Kind {
	case browser.ActionNavigate:
		p.url = a.URL
	case browser.ActionClick:
		if p.clickErr != nil {
			return nil, p.clickErr
		}
		p.url = "https://shop.test/confirmation"
	case browser.ActionWait:
		p.waits = append(p.waits, a)
	}
	return &browser.ActionResult{URL: p.url}, nil
}

// fakeController hands each attempt a fresh page built for that attempt
// number.
type fakeController struct {
	opens int
	build func(attempt int) *loopPage
	pages []*loopPage
}

func (c *fakeController) OpenPage(ctx context.Context, url string) (browser.Page, error) {
	c.opens++
	p := c.build(c.opens)
	p.url = url
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *fakeController) Close() error { return nil }

func defaultCounts() map[string]int {
	return map[string]int{"#quantity": 1, "#pay": 1, `button[data-test="pay-now"]`: 1}
}

func checkoutGraph(t *testing.T) *model.KnowledgeGraph {
	t.Helper()
	kg := model.NewKnowledgeGraph("sess-1")
	snap := &model.PageSnapshot{
		ID:             "snap-1",
		SessionID:      "sess-1",
		URL:            "https://shop.test/checkout",
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
				Attributes: map[string]string{"id": "pay", "data-test": "pay-now"},
				Locators: []model.LocatorCandidate{
					{Strategy: model.StrategyID, Expression: "#pay", Score: model.ScoreID},
					{Strategy: model.StrategyCSS, Expression: `button[data-test="pay-now"]`, Score: model.ScoreDataTest},
				},
			},
		},
	}
	_, added := kg.AddSnapshot(snap)
	require.True(t, added)
	return kg
}

func approvedProposal() *model.TestCaseProposal {
	return &model.TestCaseProposal{
		ID:        "p1",
		SessionID: "sess-1",
		LineageID: "p1",
		Revision:  1,
		Name:      "complete a purchase",
		State:     model.ProposalApproved,
		Steps: []model.Step{
			{Index: 0, Action: model.ActionNavigate, Target: "https://shop.test/checkout"},
			{Index: 1, Action: model.ActionFill, ElementID: "el-qty", Value: "2"},
			{Index: 2, Action: model.ActionClick, ElementID: "el-pay"},
		},
		Assertions: []model.Assertion{{Kind: "url_contains", Expected: "/confirmation"}},
	}
}

func newLoop(c *fakeController, maxAttempts int) *Loop {
	return NewLoop(c, codegen.New(), NewRunner("", time.Second), maxAttempts)
}

func TestRun_PassesFirstAttempt(t *testing.T) {
	c := &fakeController{build: func(int) *loopPage {
		return &loopPage{counts: defaultCounts()}
	}}
	loop := newLoop(c, 3)

	outcome, err := loop.Run(context.Background(), checkoutGraph(t), approvedProposal(), "https://shop.test/checkout")
	require.NoError(t, err)

	assert.True(t, outcome.Passed())
	assert.Equal(t, StatePassed, loop.State())
	assert.Equal(t, 1, outcome.Lineage.Len())
	assert.Equal(t, model.ArtifactPassed, outcome.Lineage.Current().Status)
	require.Len(t, outcome.Evidence, 1)
	assert.True(t, outcome.Evidence[0].Passed)
}

func TestRun_TimeoutCorrectedOnSecondAttempt(t *testing.T) {
	c := &fakeController{build: func(attempt int) *loopPage {
		p := &loopPage{counts: defaultCounts()}
		if attempt == 1 {
			p.clickErr = fmt.Errorf("timeout 1000ms exceeded waiting for element")
		}
		return p
	}}
	loop := newLoop(c, 3)

	outcome, err := loop.Run(context.Background(), checkoutGraph(t), approvedProposal(), "https://shop.test/checkout")
	require.NoError(t, err)

	assert.True(t, outcome.Passed())
	assert.Equal(t, 2, outcome.Lineage.Len(), "passed before spending the third attempt")

	assert.Equal(t, model.FailureTimeout, outcome.Evidence[0].Failure)
	assert.Equal(t, 2, outcome.Evidence[0].FailedStep)

	// The regenerated attempt waits for the element that timed out.
	second := outcome.Lineage.Current()
	assert.Equal(t, 2*time.Second, second.Steps[2].WaitBefore)
	require.Len(t, c.pages, 2)
	require.Len(t, c.pages[1].waits, 1)
	assert.Equal(t, "#pay", c.pages[1].waits[0].Selector)
}

func TestRun_ExhaustsAttemptBudget(t *testing.T) {
	c := &fakeController{build: func(int) *loopPage {
		p := &loopPage{counts: defaultCounts()}
		p.clickErr = fmt.Errorf("timeout 1000ms exceeded waiting for element")
		return p
	}}
	loop := newLoop(c, 0) // default budget

	outcome, err := loop.Run(context.Background(), checkoutGraph(t), approvedProposal(), "https://shop.test/checkout")
	require.NoError(t, err, "exhaustion is terminal but not fatal")

	assert.False(t, outcome.Passed())
	assert.Equal(t, StateExhausted, outcome.State)
	assert.Equal(t, DefaultMaxAttempts, outcome.Lineage.Len())
	assert.Equal(t, model.ArtifactExhausted, outcome.Lineage.Current().Status)

	// Every failed attempt keeps its evidence, one record per attempt.
	require.Len(t, outcome.Evidence, DefaultMaxAttempts)
	for i, ev := range outcome.Evidence {
		assert.Equal(t, i+1, ev.Attempt)
		assert.False(t, ev.Passed)
	}
	versions := outcome.Lineage.Versions()
	assert.Equal(t, model.ArtifactFailed, versions[0].Status)
	assert.Equal(t, model.ArtifactFailed, versions[1].Status)
}

func TestRun_ConsecutiveUnknownFailuresEscalate(t *testing.T) {
	c := &fakeController{build: func(int) *loopPage {
		p := &loopPage{counts: defaultCounts()}
		p.clickErr = errors.New("flux capacitor discharged")
		return p
	}}
	loop := newLoop(c, 5)

	outcome, err := loop.Run(context.Background(), checkoutGraph(t), approvedProposal(), "https://shop.test/checkout")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, outcome.State)
	assert.Equal(t, 2, outcome.Lineage.Len(), "escalates instead of burning the full budget")
	assert.Equal(t, model.FailureUnknownRuntime, outcome.Evidence[0].Failure)
	assert.Equal(t, model.FailureUnknownRuntime, outcome.Evidence[1].Failure)
}

func TestRun_AssertionMismatchClassified(t *testing.T) {
	// Click succeeds but the site never reaches the confirmation URL.
	c := &fakeController{build: func(int) *loopPage {
		return &loopPage{counts: defaultCounts()}
	}}
	proposal := approvedProposal()
	proposal.Assertions = []model.Assertion{{Kind: "url_contains", Expected: "/receipt"}}
	loop := newLoop(c, 1)

	outcome, err := loop.Run(context.Background(), checkoutGraph(t), proposal, "https://shop.test/checkout")
	require.NoError(t, err)

	assert.False(t, outcome.Passed())
	assert.Equal(t, model.FailureAssertion, outcome.Evidence[0].Failure)
	assert.Contains(t, outcome.Evidence[0].FailureDetail, "/receipt")
}

func TestRun_CancellationKeepsEvidence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	c := &fakeController{build: func(int) *loopPage {
		attempts++
		if attempts == 1 {
			// Fail the first attempt, then cancel before the retry.
			p := &loopPage{counts: defaultCounts()}
			p.clickErr = fmt.Errorf("timeout waiting for element")
			return p
		}
		cancel()
		return &loopPage{counts: defaultCounts()}
	}}
	// Cancel fires when the second page opens; the loop notices at its
	// next boundary.
	loop := newLoop(c, 3)

	outcome, err := loop.Run(ctx, checkoutGraph(t), approvedProposal(), "https://shop.test/checkout")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, outcome.Evidence, "evidence from completed attempts survives cancellation")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		action model.ActionVerb
		want   model.FailureClass
	}{
		{"nil", nil, model.ActionClick, model.FailureNone},
		{"deadline", context.DeadlineExceeded, model.ActionClick, model.FailureTimeout},
		{"timeout text", errors.New("timeout 30s exceeded"), model.ActionClick, model.FailureTimeout},
		{"missing element", errors.New("no element matches selector"), model.ActionClick, model.FailureLocatorNotFound},
		{"stale locator", &model.NoStableLocatorError{ElementID: "el-1", Tried: 3}, model.ActionClick, model.FailureLocatorNotFound},
		{"assertion", &assertionError{kind: "url_contains", expected: "/done", observed: "/cart"}, model.ActionAssert, model.FailureAssertion},
		{"navigate error", errors.New("connection refused"), model.ActionNavigate, model.FailureNavigation},
		{"net error", errors.New("net::ERR_NAME_NOT_RESOLVED"), model.ActionClick, model.FailureNavigation},
		{"anything else", errors.New("flux capacitor discharged"), model.ActionClick, model.FailureUnknownRuntime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err, tc.action))
		})
	}
}
