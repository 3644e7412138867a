package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(id, url string) *model.PageSnapshot {
	return &model.PageSnapshot{
		ID:             id,
		SessionID:      "sess-1",
		URL:            url,
		Title:          "Page",
		StructuralHash: model.StructuralHash("0:html;1:body;" + url),
		CapturedAt:     time.Now(),
		Elements: []model.ElementCandidate{
			{ID: id + "-el", SnapshotID: id, Tag: "button", Role: model.RoleButton, Text: "Go"},
		},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	url, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, url, "unexplored session has no start URL")

	require.NoError(t, s.SaveSession(ctx, "sess-1", "https://shop.test/"))
	url, err = s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/", url)

	// Restarting exploration from another URL updates the record.
	require.NoError(t, s.SaveSession(ctx, "sess-1", "https://shop.test/catalog"))
	url, err = s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/catalog", url)
}

func TestGraphRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	home := sampleSnapshot("snap-1", "https://shop.test/")
	catalog := sampleSnapshot("snap-2", "https://shop.test/catalog")
	require.NoError(t, s.SaveSnapshot(ctx, home))
	require.NoError(t, s.SaveSnapshot(ctx, catalog))
	require.NoError(t, s.SaveEdge(ctx, "sess-1", model.Edge{
		FromSnapshotID: "snap-1",
		ToSnapshotID:   "snap-2",
		Kind:           model.TransitionClick,
		ElementID:      "snap-1-el",
		RecordedAt:     time.Now(),
	}))

	kg, err := s.LoadGraph(ctx, "sess-1")
	require.NoError(t, err)

	assert.Len(t, kg.Snapshots(), 2)
	require.Len(t, kg.Edges(), 1)
	assert.Equal(t, model.TransitionClick, kg.Edges()[0].Kind)

	el, owner := kg.Element("snap-1-el")
	require.NotNil(t, el)
	assert.Equal(t, "https://shop.test/", owner.URL)

	// Resumed sessions re-save what they already had; saving the same
	// snapshot twice is a no-op.
	require.NoError(t, s.SaveSnapshot(ctx, home))
	kg2, err := s.LoadGraph(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, kg2.Snapshots(), 2)
}

func TestLoadGraph_OtherSessionInvisible(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := sampleSnapshot("snap-1", "https://shop.test/")
	require.NoError(t, s.SaveSnapshot(ctx, snap))

	kg, err := s.LoadGraph(ctx, "sess-other")
	require.NoError(t, err)
	assert.Empty(t, kg.Snapshots())
}

func TestProposalVersionHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &model.TestCaseProposal{
		ID:        "p1",
		SessionID: "sess-1",
		LineageID: "p1",
		Revision:  1,
		Name:      "checkout",
		State:     model.ProposalDraft,
		Steps:     []model.Step{{Index: 0, Action: model.ActionNavigate, Target: "https://shop.test/"}},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveProposal(ctx, p))

	// The human approves; the decision lands as a new version row.
	require.NoError(t, p.Approve())
	require.NoError(t, s.SaveProposal(ctx, p))

	loaded, err := s.LoadProposals(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1, "latest version per proposal, not every row")
	assert.Equal(t, model.ProposalApproved, loaded[0].State)

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM proposal_versions WHERE proposal_id = 'p1'`).Scan(&count))
	assert.Equal(t, 2, count, "history keeps both versions")
}

func TestLineageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		a := &model.GeneratedArtifact{
			ID:         "art-" + string(rune('0'+attempt)),
			ProposalID: "p1",
			Attempt:    attempt,
			Status:     model.ArtifactFailed,
			Steps: []model.CompiledStep{
				{Index: 0, Action: model.ActionNavigate, Target: "https://shop.test/"},
			},
			Script:      "import { test } from '@playwright/test';",
			GeneratedAt: time.Now(),
		}
		require.NoError(t, s.SaveArtifact(ctx, a))
	}

	lineage, err := s.LoadLineage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, lineage.Len())
	assert.Equal(t, 2, lineage.Current().Attempt)
}

func TestEvidenceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := &model.ExecutionEvidence{
		ID:         "ev-1",
		ArtifactID: "art-1",
		ProposalID: "p1",
		Attempt:    1,
		Passed:     false,
		Failure:    model.FailureTimeout,
		FailedStep: 2,
		StepLog: []model.StepLogEntry{
			{StepIndex: 0, Action: model.ActionNavigate, OK: true},
			{StepIndex: 2, Action: model.ActionClick, Locator: "#pay", Error: "timeout"},
		},
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	require.NoError(t, s.SaveEvidence(ctx, ev))

	loaded, err := s.LoadEvidence(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, model.FailureTimeout, loaded[0].Failure)
	require.Len(t, loaded[0].StepLog, 2)
	assert.Equal(t, "#pay", loaded[0].StepLog[1].Locator)

	// Evidence rows are immutable; re-saving the same ID never
	// overwrites what was recorded.
	ev.Passed = true
	require.NoError(t, s.SaveEvidence(ctx, ev))
	loaded, err = s.LoadEvidence(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, loaded[0].Passed)
}
