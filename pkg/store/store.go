// Package store persists session state to SQLite so an interrupted
// session can resume. Records are append-only: proposal decisions,
// artifact versions, and evidence are inserted as new rows, never
// updated, preserving the full audit trail.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// Schema for the session tables. Applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	start_url TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	structural_hash TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id);

CREATE TABLE IF NOT EXISTS edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	from_snapshot TEXT NOT NULL,
	to_snapshot TEXT NOT NULL,
	kind TEXT NOT NULL,
	element_id TEXT,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_session ON edges(session_id);

CREATE TABLE IF NOT EXISTS proposal_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	proposal_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	lineage_id TEXT NOT NULL,
	revision INTEGER NOT NULL,
	state TEXT NOT NULL,
	payload TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposal_versions_session ON proposal_versions(session_id);
CREATE INDEX IF NOT EXISTS idx_proposal_versions_proposal ON proposal_versions(proposal_id);

CREATE TABLE IF NOT EXISTS artifact_versions (
	id TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifact_versions_proposal ON artifact_versions(proposal_id);

CREATE TABLE IF NOT EXISTS evidence (
	id TEXT PRIMARY KEY,
	artifact_id TEXT NOT NULL,
	proposal_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	passed INTEGER NOT NULL,
	payload TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_proposal ON evidence(proposal_id);
`

// Store is the SQLite-backed session persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveSession records the session's exploration start URL. Restarting
// exploration from a different URL updates the record; the rest of the
// session history stays append-only.
func (s *Store) SaveSession(ctx context.Context, id, startURL string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, start_url, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET start_url = excluded.start_url`,
		id, startURL, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

// LoadSession returns the recorded start URL of a session, empty when
// the session was never explored.
func (s *Store) LoadSession(ctx context.Context, id string) (string, error) {
	var startURL string
	err := s.db.QueryRowContext(ctx,
		`SELECT start_url FROM sessions WHERE id = ?`, id).Scan(&startURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return startURL, nil
}

// SaveSnapshot persists one page snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *model.PageSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", snap.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (id, session_id, url, structural_hash, captured_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SessionID, snap.URL, snap.StructuralHash, snap.CapturedAt.UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// SaveEdge persists one recorded transition.
func (s *Store) SaveEdge(ctx context.Context, sessionID string, e model.Edge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edges (session_id, from_snapshot, to_snapshot, kind, element_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, e.FromSnapshotID, e.ToSnapshotID, string(e.Kind), e.ElementID, e.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save edge: %w", err)
	}
	return nil
}

// SaveProposal appends the proposal's current version. Every state
// change is a new row; history is never rewritten.
func (s *Store) SaveProposal(ctx context.Context, p *model.TestCaseProposal) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode proposal %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO proposal_versions (proposal_id, session_id, lineage_id, revision, state, payload, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.LineageID, p.Revision, string(p.State), string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save proposal %s: %w", p.ID, err)
	}
	return nil
}

// SaveArtifact persists one artifact version.
func (s *Store) SaveArtifact(ctx context.Context, a *model.GeneratedArtifact) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO artifact_versions (id, proposal_id, attempt, status, payload, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProposalID, a.Attempt, string(a.Status), string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save artifact %s: %w", a.ID, err)
	}
	return nil
}

// SaveEvidence persists one execution evidence record.
func (s *Store) SaveEvidence(ctx context.Context, ev *model.ExecutionEvidence) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode evidence %s: %w", ev.ID, err)
	}
	passed := 0
	if ev.Passed {
		passed = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO evidence (id, artifact_id, proposal_id, attempt, passed, payload, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ArtifactID, ev.ProposalID, ev.Attempt, passed, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save evidence %s: %w", ev.ID, err)
	}
	return nil
}

// LoadGraph rebuilds the knowledge graph of a session for resumption.
func (s *Store) LoadGraph(ctx context.Context, sessionID string) (*model.KnowledgeGraph, error) {
	kg := model.NewKnowledgeGraph(sessionID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM snapshots WHERE session_id = ? ORDER BY captured_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var snap model.PageSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		kg.AddSnapshot(&snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx,
		`SELECT from_snapshot, to_snapshot, kind, element_id, recorded_at
		 FROM edges WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e model.Edge
		var kind string
		var recordedAt int64
		if err := edgeRows.Scan(&e.FromSnapshotID, &e.ToSnapshotID, &kind, &e.ElementID, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Kind = model.TransitionKind(kind)
		e.RecordedAt = time.UnixMilli(recordedAt)
		if err := kg.AddEdge(e); err != nil {
			return nil, fmt.Errorf("stored edge no longer valid: %w", err)
		}
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}

	return kg, nil
}

// LoadProposals returns the latest saved version of each proposal in the
// session, in creation order.
func (s *Store) LoadProposals(ctx context.Context, sessionID string) ([]*model.TestCaseProposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM proposal_versions pv
		 WHERE session_id = ?
		   AND id = (SELECT MAX(id) FROM proposal_versions WHERE proposal_id = pv.proposal_id)
		 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposals: %w", err)
	}
	defer rows.Close()

	var out []*model.TestCaseProposal
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		var p model.TestCaseProposal
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("failed to decode proposal: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// LoadLineage rebuilds the artifact version history of a proposal.
func (s *Store) LoadLineage(ctx context.Context, proposalID string) (*model.ArtifactLineage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM artifact_versions WHERE proposal_id = ? ORDER BY attempt`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	defer rows.Close()

	lineage := model.NewArtifactLineage(proposalID)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		var a model.GeneratedArtifact
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("failed to decode artifact: %w", err)
		}
		if err := lineage.Append(&a); err != nil {
			return nil, fmt.Errorf("stored lineage is inconsistent: %w", err)
		}
	}
	return lineage, rows.Err()
}

// LoadEvidence returns every execution evidence record for a proposal in
// attempt order.
func (s *Store) LoadEvidence(ctx context.Context, proposalID string) ([]*model.ExecutionEvidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM evidence WHERE proposal_id = ? ORDER BY attempt`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence: %w", err)
	}
	defer rows.Close()

	var out []*model.ExecutionEvidence
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		var ev model.ExecutionEvidence
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode evidence: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
