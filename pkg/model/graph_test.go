package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(id, url, hash string) *PageSnapshot {
	return &PageSnapshot{
		ID:             id,
		URL:            url,
		StructuralHash: hash,
		CapturedAt:     time.Now(),
	}
}

func TestKnowledgeGraph_AddSnapshotDeduplicates(t *testing.T) {
	g := NewKnowledgeGraph("sess-1")

	first, added := g.AddSnapshot(snap("a", "https://example.com/login", "h1"))
	require.True(t, added)

	// Same URL, same structural hash: unchanged page must not duplicate.
	dup, added := g.AddSnapshot(snap("b", "https://example.com/login", "h1"))
	assert.False(t, added)
	assert.Same(t, first, dup)
	assert.Len(t, g.Snapshots(), 1)

	// Same URL with a different hash is a genuinely changed page.
	_, added = g.AddSnapshot(snap("c", "https://example.com/login", "h2"))
	assert.True(t, added)
	assert.Len(t, g.Snapshots(), 2)

	assert.True(t, g.HasPage("https://example.com/login", "h1"))
	assert.False(t, g.HasPage("https://example.com/login", "h9"))
}

func TestKnowledgeGraph_AddEdgeValidatesEndpoints(t *testing.T) {
	g := NewKnowledgeGraph("sess-1")
	g.AddSnapshot(snap("a", "https://example.com/", "h1"))
	g.AddSnapshot(snap("b", "https://example.com/about", "h2"))

	err := g.AddEdge(Edge{FromSnapshotID: "a", ToSnapshotID: "b", Kind: TransitionClick, ElementID: "el-1"})
	require.NoError(t, err)

	err = g.AddEdge(Edge{FromSnapshotID: "a", ToSnapshotID: "missing", Kind: TransitionNavigate})
	assert.Error(t, err)
	assert.Len(t, g.Edges(), 1)
}

func TestKnowledgeGraph_ElementLookup(t *testing.T) {
	g := NewKnowledgeGraph("sess-1")
	s := snap("a", "https://example.com/", "h1")
	s.Elements = []ElementCandidate{
		{ID: "el-1", SnapshotID: "a", Role: RoleButton, Text: "Submit"},
	}
	g.AddSnapshot(s)

	el, owner := g.Element("el-1")
	require.NotNil(t, el)
	assert.Equal(t, RoleButton, el.Role)
	assert.Equal(t, "a", owner.ID)

	el, _ = g.Element("nope")
	assert.Nil(t, el)
}

func TestRect_IoU(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}

	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.Zero(t, a.IoU(Rect{X: 20, Y: 20, Width: 5, Height: 5}))

	// Half-overlapping boxes: intersection 50, union 150.
	b := Rect{X: 5, Y: 0, Width: 10, Height: 10}
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-9)

	assert.Zero(t, a.IoU(Rect{Width: 0, Height: 10}))
}

func TestStructuralHash_Deterministic(t *testing.T) {
	h1 := StructuralHash("html>body>div>button")
	h2 := StructuralHash("html>body>div>button")
	h3 := StructuralHash("html>body>div>a")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
