// Package model defines the shared data model for the test-generation
// pipeline: page snapshots and element candidates produced by exploration,
// the knowledge graph they accumulate into, test-case proposals, generated
// artifacts, and execution evidence.
//
// Everything in this package is plain data. Behavior that touches a live
// browser or the reasoning component lives in the stage packages
// (extract, locator, explore, design, codegen, selfcorrect).
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// LocatorStrategy identifies how a locator expression addresses an element.
type LocatorStrategy string

const (
	StrategyID       LocatorStrategy = "id"
	StrategyCSS      LocatorStrategy = "css"
	StrategyXPath    LocatorStrategy = "xpath"
	StrategySemantic LocatorStrategy = "semantic"
)

// Stability scores per locator source, highest first. Any monotonic
// ordering works as long as attribute-backed locators outrank positional
// ones; these values follow the original priority table.
const (
	ScoreDataTest   = 100
	ScoreID         = 100
	ScoreName       = 80
	ScoreAriaLabel  = 70
	ScoreUniqueText = 60
	ScoreShortCSS   = 40
	ScoreRole       = 35
	ScoreXPath      = 10
)

// LocatorCandidate is one proposed way to find an element at execution
// time, with a stability score estimating how likely the expression keeps
// matching across minor page changes.
type LocatorCandidate struct {
	Strategy   LocatorStrategy `json:"strategy"`
	Expression string          `json:"expression"`
	Score      int             `json:"score"`
}

// Rect is an element bounding box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the rectangle area, zero for degenerate boxes.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// IoU computes intersection-over-union between two rectangles. Returns 0
// when either rectangle is degenerate or they do not overlap.
func (r Rect) IoU(o Rect) float64 {
	ix := overlap(r.X, r.X+r.Width, o.X, o.X+o.Width)
	iy := overlap(r.Y, r.Y+r.Height, o.Y, o.Y+o.Height)
	inter := ix * iy
	if inter <= 0 {
		return 0
	}
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func overlap(a1, a2, b1, b2 float64) float64 {
	lo := a1
	if b1 > lo {
		lo = b1
	}
	hi := a2
	if b2 < hi {
		hi = b2
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// ElementRole classifies an interactive element.
type ElementRole string

const (
	RoleButton   ElementRole = "button"
	RoleInput    ElementRole = "input"
	RoleLink     ElementRole = "link"
	RoleSelect   ElementRole = "select"
	RoleCheckbox ElementRole = "checkbox"
	RoleTextarea ElementRole = "textarea"
	RoleOther    ElementRole = "other"
)

// ElementCandidate is one discovered interactive element. It belongs to
// exactly one PageSnapshot (SnapshotID is a back-reference, not an
// ownership link).
type ElementCandidate struct {
	ID         string             `json:"id"`
	SnapshotID string             `json:"snapshot_id"`
	Role       ElementRole        `json:"role"`
	Tag        string             `json:"tag"`
	Text       string             `json:"text"`
	Attributes map[string]string  `json:"attributes"`
	Bounds     Rect               `json:"bounds"`
	Visible    bool               `json:"visible"`
	Locators   []LocatorCandidate `json:"locators"`
	// VisualOnly marks candidates that came from visual segmentation and
	// had no structural counterpart during a hybrid merge.
	VisualOnly bool `json:"visual_only,omitempty"`
}

// BestLocator returns the highest-scoring locator candidate, or false when
// the element carries none.
func (e *ElementCandidate) BestLocator() (LocatorCandidate, bool) {
	if len(e.Locators) == 0 {
		return LocatorCandidate{}, false
	}
	return e.Locators[0], true
}

// PageSnapshot is an immutable record of one exploration observation.
// Created on each navigation or interaction step, never mutated afterwards.
type PageSnapshot struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	DOM            string    `json:"dom"`
	StructuralHash string    `json:"structural_hash"`
	ScreenshotRef  string    `json:"screenshot_ref,omitempty"`
	Markdown       string    `json:"markdown,omitempty"`
	Analysis       string    `json:"analysis,omitempty"`
	Elements       []ElementCandidate `json:"elements"`
	CapturedAt     time.Time `json:"captured_at"`
	// Metrics for the reasoning calls that contributed to this snapshot.
	LLMTokens     int           `json:"llm_tokens,omitempty"`
	LLMDuration   time.Duration `json:"llm_duration,omitempty"`
	NavigationDur time.Duration `json:"navigation_duration,omitempty"`
}

// Key identifies a snapshot for deduplication: same URL plus same
// structural hash means the page is unchanged and must not produce a
// second knowledge-graph node.
func (s *PageSnapshot) Key() string {
	return s.URL + "#" + s.StructuralHash
}

// StructuralHash hashes a structural serialization of a page (tag paths,
// not text) so that cosmetic content changes do not defeat deduplication.
func StructuralHash(structure string) string {
	sum := sha256.Sum256([]byte(structure))
	return hex.EncodeToString(sum[:])
}
