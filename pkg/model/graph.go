package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TransitionKind describes how the agent moved between two snapshots.
type TransitionKind string

const (
	TransitionNavigate TransitionKind = "navigate"
	TransitionClick    TransitionKind = "click"
	TransitionFill     TransitionKind = "fill"
	TransitionSubmit   TransitionKind = "submit"
)

// Edge is a navigation or interaction transition between two snapshots,
// recording the element that triggered it (empty for direct navigation).
type Edge struct {
	FromSnapshotID string         `json:"from_snapshot_id"`
	ToSnapshotID   string         `json:"to_snapshot_id"`
	Kind           TransitionKind `json:"kind"`
	ElementID      string         `json:"element_id,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
}

// KnowledgeGraph is the cumulative structured memory of a site built
// during one exploration session. Nodes are page snapshots, edges are the
// transitions between them. The graph grows monotonically; it is reset
// only at session start.
//
// The graph is owned by a single exploration session but is guarded
// because evidence and design workers read it while exploration may still
// be appending.
type KnowledgeGraph struct {
	mu        sync.RWMutex
	sessionID string
	nodes     []*PageSnapshot
	byKey     map[string]*PageSnapshot
	edges     []Edge
}

// NewKnowledgeGraph creates an empty graph for a session.
func NewKnowledgeGraph(sessionID string) *KnowledgeGraph {
	return &KnowledgeGraph{
		sessionID: sessionID,
		byKey:     make(map[string]*PageSnapshot),
	}
}

// SessionID returns the owning session.
func (g *KnowledgeGraph) SessionID() string { return g.sessionID }

// AddSnapshot appends a snapshot node. Re-extracting an unchanged page
// (same URL and structural hash) returns the existing node and false
// instead of duplicating it.
func (g *KnowledgeGraph) AddSnapshot(s *PageSnapshot) (*PageSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.byKey[s.Key()]; ok {
		return existing, false
	}
	g.nodes = append(g.nodes, s)
	g.byKey[s.Key()] = s
	return s, true
}

// AddEdge records a transition between two known snapshots.
func (g *KnowledgeGraph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.findLocked(e.FromSnapshotID) == nil {
		return fmt.Errorf("unknown source snapshot %s", e.FromSnapshotID)
	}
	if g.findLocked(e.ToSnapshotID) == nil {
		return fmt.Errorf("unknown target snapshot %s", e.ToSnapshotID)
	}
	g.edges = append(g.edges, e)
	return nil
}

// Snapshot returns a node by ID, or nil.
func (g *KnowledgeGraph) Snapshot(id string) *PageSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findLocked(id)
}

func (g *KnowledgeGraph) findLocked(id string) *PageSnapshot {
	for _, n := range g.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// HasPage reports whether a page with the given URL and structural hash is
// already part of the graph.
func (g *KnowledgeGraph) HasPage(url, structuralHash string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.byKey[url+"#"+structuralHash]
	return ok
}

// Snapshots returns all nodes in insertion order.
func (g *KnowledgeGraph) Snapshots() []*PageSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*PageSnapshot, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns all transitions in insertion order.
func (g *KnowledgeGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Element resolves an element candidate by ID across all snapshots.
func (g *KnowledgeGraph) Element(id string) (*ElementCandidate, *PageSnapshot) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		for i := range n.Elements {
			if n.Elements[i].ID == id {
				return &n.Elements[i], n
			}
		}
	}
	return nil, nil
}

// Summary renders a compact textual view of the graph for reasoning
// prompts and coverage display: one line per page with its element count,
// then the transition list.
func (g *KnowledgeGraph) Summary() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Pages explored: %d\n", len(g.nodes))
	for i, n := range g.nodes {
		fmt.Fprintf(&b, "[%d] %s %q (%d interactive elements)\n", i, n.URL, n.Title, len(n.Elements))
	}
	if len(g.edges) > 0 {
		b.WriteString("Transitions:\n")
		for _, e := range g.edges {
			fmt.Fprintf(&b, "  %s -> %s via %s", shortID(e.FromSnapshotID), shortID(e.ToSnapshotID), e.Kind)
			if e.ElementID != "" {
				fmt.Fprintf(&b, " (element %s)", shortID(e.ElementID))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// VisitedURLs returns the distinct URLs in the graph, sorted.
func (g *KnowledgeGraph) VisitedURLs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, n := range g.nodes {
		seen[n.URL] = struct{}{}
	}
	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
