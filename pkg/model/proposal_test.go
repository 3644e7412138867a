package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCaseProposal_Lifecycle(t *testing.T) {
	p := &TestCaseProposal{ID: "tc-1", State: ProposalDraft}

	require.NoError(t, p.Approve())
	assert.Equal(t, ProposalApproved, p.State)

	// Approved proposals are immutable.
	assert.Error(t, p.Reject())
	assert.Error(t, p.MarkRevised())
	assert.Equal(t, ProposalApproved, p.State)
}

func TestTestCaseProposal_RejectAndRevise(t *testing.T) {
	p := &TestCaseProposal{ID: "tc-1", State: ProposalDraft}
	require.NoError(t, p.MarkRevised())
	assert.Equal(t, ProposalRevised, p.State)

	// A superseded version can still be rejected by the reviewer.
	require.NoError(t, p.Reject())
	assert.Error(t, p.Approve())
}

func TestTestCaseProposal_ElementIDs(t *testing.T) {
	p := &TestCaseProposal{
		Steps: []Step{
			{Index: 0, Action: ActionNavigate, Target: "https://example.com"},
			{Index: 1, Action: ActionFill, ElementID: "el-user"},
			{Index: 2, Action: ActionFill, ElementID: "el-pass"},
			{Index: 3, Action: ActionClick, ElementID: "el-user"}, // duplicate
		},
	}
	assert.Equal(t, []string{"el-user", "el-pass"}, p.ElementIDs())
}

func TestCoverage(t *testing.T) {
	g := NewKnowledgeGraph("sess-1")
	s := snap("a", "https://example.com/", "h1")
	s.Elements = []ElementCandidate{{ID: "el-1"}, {ID: "el-2"}, {ID: "el-3"}, {ID: "el-4"}}
	g.AddSnapshot(s)

	proposals := []*TestCaseProposal{
		{Steps: []Step{{Action: ActionClick, ElementID: "el-1"}}},
		{Steps: []Step{{Action: ActionFill, ElementID: "el-2"}, {Action: ActionClick, ElementID: "el-1"}}},
	}
	assert.InDelta(t, 0.5, Coverage(proposals, g), 1e-9)
	assert.Zero(t, Coverage(nil, NewKnowledgeGraph("empty")))
}

func TestArtifactLineage_AppendOnly(t *testing.T) {
	l := NewArtifactLineage("tc-1")
	assert.Nil(t, l.Current())

	require.NoError(t, l.Append(&GeneratedArtifact{ID: "a1", ProposalID: "tc-1", Attempt: 1}))
	require.NoError(t, l.Append(&GeneratedArtifact{ID: "a2", ProposalID: "tc-1", Attempt: 2}))

	// Out-of-order and duplicate attempts are rejected, history is kept.
	assert.Error(t, l.Append(&GeneratedArtifact{ID: "a2b", ProposalID: "tc-1", Attempt: 2}))
	assert.Error(t, l.Append(&GeneratedArtifact{ID: "a4", ProposalID: "tc-1", Attempt: 4}))
	assert.Error(t, l.Append(&GeneratedArtifact{ID: "x", ProposalID: "other", Attempt: 3}))

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, "a2", l.Current().ID)
	assert.Len(t, l.Versions(), 2)
}

func TestGeneratedArtifact_UnresolvedSteps(t *testing.T) {
	a := &GeneratedArtifact{
		Steps: []CompiledStep{
			{Index: 0, Action: ActionNavigate, Target: "https://example.com"},
			{Index: 1, Action: ActionClick, Unresolved: true},
			{Index: 2, Action: ActionAssert},
		},
	}
	assert.Equal(t, 1, a.UnresolvedCount())
	assert.Len(t, a.ExecutableSteps(), 2)
}
