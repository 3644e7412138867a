// Package extract turns a live page into a structured, locator-annotated
// PageSnapshot: DOM analysis, interactive-element candidates, screenshot
// references, and a markdown rendition for reasoning prompts.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/locator"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/logging"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// Mode selects how element candidates are derived.
type Mode string

const (
	// ModeDOM derives candidates purely from structural and attribute
	// analysis of the serialized DOM.
	ModeDOM Mode = "dom"

	// ModeScreenshot derives candidates from visual segmentation of a
	// page screenshot, delegated to an external vision capability.
	ModeScreenshot Mode = "screenshot"

	// ModeHybrid computes both and merges them, preferring DOM-derived
	// stability when both refer to the same bounding region.
	ModeHybrid Mode = "hybrid"
)

// Options is the extraction mode configuration.
type Options struct {
	Mode          Mode
	MaxDepth      int
	IncludeHidden bool
	IoUThreshold  float64
}

// VisionSegmenter is the external vision capability used in screenshot
// and hybrid modes. It proposes element candidates from pixels alone.
type VisionSegmenter interface {
	Segment(ctx context.Context, screenshot []byte) ([]model.ElementCandidate, error)
}

// Extractor produces PageSnapshots from live pages.
type Extractor struct {
	opts    Options
	vision  VisionSegmenter
	merge   MergeStrategy
	shotDir string
	log     *logging.Logger
}

// New creates an extractor. vision may be nil for ModeDOM; shotDir is
// where screenshots are written (empty disables screenshot capture in
// dom mode).
func New(opts Options, vision VisionSegmenter, shotDir string) *Extractor {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	log, _ := logging.NewLogger("extract")
	return &Extractor{
		opts:    opts,
		vision:  vision,
		merge:   IoUMerge{Threshold: opts.IoUThreshold},
		shotDir: shotDir,
		log:     log,
	}
}

// SetMergeStrategy swaps the hybrid merge implementation.
func (e *Extractor) SetMergeStrategy(m MergeStrategy) {
	e.merge = m
}

// Extract captures one PageSnapshot with its element candidate set.
// Fails with ExtractionError when the page handle is detached or the page
// navigates away mid-extraction; the exploration agent retries once
// before surfacing that.
func (e *Extractor) Extract(ctx context.Context, page browser.Page, sessionID string) (*model.PageSnapshot, error) {
	if page.Detached() {
		return nil, &model.ExtractionError{URL: page.URL(), Reason: "page handle detached"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	urlBefore := page.URL()
	start := time.Now()

	title, err := page.Title()
	if err != nil {
		return nil, &model.ExtractionError{URL: urlBefore, Reason: "failed to read title", Err: err}
	}

	rawDOM, err := page.Content()
	if err != nil {
		return nil, &model.ExtractionError{URL: urlBefore, Reason: "failed to read DOM", Err: err}
	}

	var structural []model.ElementCandidate
	var structure string
	if e.opts.Mode == ModeDOM || e.opts.Mode == ModeHybrid {
		// Parse with hidden elements included so geometry enrichment can
		// align against the live document, then filter afterwards.
		parsed, err := parseDOM(rawDOM, e.opts.MaxDepth, true)
		if err != nil {
			return nil, &model.ExtractionError{URL: urlBefore, Reason: "DOM analysis failed", Err: err}
		}
		structural = parsed.elements
		structure = parsed.structure
		if title == "" {
			title = parsed.title
		}
		e.enrichGeometry(page, structural)
		if !e.opts.IncludeHidden {
			structural = visibleOnly(structural)
		}
	} else {
		// Screenshot-only mode still hashes structure for dedup.
		parsed, err := parseDOM(rawDOM, e.opts.MaxDepth, true)
		if err != nil {
			return nil, &model.ExtractionError{URL: urlBefore, Reason: "DOM analysis failed", Err: err}
		}
		structure = parsed.structure
	}

	var shotRef string
	var visual []model.ElementCandidate
	if e.opts.Mode == ModeScreenshot || e.opts.Mode == ModeHybrid {
		shot, err := page.Screenshot()
		if err != nil {
			return nil, &model.ExtractionError{URL: urlBefore, Reason: "screenshot failed", Err: err}
		}
		shotRef = e.saveScreenshot(shot)

		if e.vision != nil {
			visual, err = e.vision.Segment(ctx, shot)
			if err != nil {
				return nil, &model.ExtractionError{URL: urlBefore, Reason: "visual segmentation failed", Err: err}
			}
		} else if e.opts.Mode == ModeScreenshot {
			return nil, &model.ExtractionError{URL: urlBefore, Reason: "screenshot mode requires a vision segmenter"}
		}
	}

	elements := structural
	if e.opts.Mode == ModeHybrid && len(visual) > 0 {
		elements = e.merge.Merge(structural, visual)
	} else if e.opts.Mode == ModeScreenshot {
		elements = visual
	}

	// The page navigating away mid-extraction invalidates everything we
	// just read.
	if page.Detached() || page.URL() != urlBefore {
		return nil, &model.ExtractionError{URL: urlBefore, Reason: "navigation occurred mid-extraction"}
	}

	markdown, err := htmltomarkdown.ConvertString(rawDOM)
	if err != nil {
		// Markdown is prompt sugar, not a structural requirement.
		e.log.Warnf("markdown conversion failed for %s: %v", urlBefore, err)
		markdown = ""
	}

	snapshot := &model.PageSnapshot{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		URL:            urlBefore,
		Title:          title,
		DOM:            rawDOM,
		StructuralHash: model.StructuralHash(structure),
		ScreenshotRef:  shotRef,
		Markdown:       markdown,
		CapturedAt:     time.Now(),
		NavigationDur:  time.Since(start),
	}

	for i := range elements {
		elements[i].ID = uuid.New().String()
		elements[i].SnapshotID = snapshot.ID
		if len(elements[i].Locators) == 0 && !elements[i].VisualOnly {
			elements[i].Locators = locator.Rank(&elements[i])
		}
	}
	snapshot.Elements = elements

	e.log.Infof("extracted %s: %d candidates, hash %.8s", urlBefore, len(elements), snapshot.StructuralHash)
	return snapshot, nil
}

// geometryScript collects bounding boxes and effective visibility for the
// same interactive selector set, in document order, so results align with
// the parsed DOM candidates.
const geometryScript = `(() => {
	const sel = 'a[href], button, input, select, textarea, [onclick], ' +
		'[role="button"], [role="link"], [role="checkbox"], [role="textbox"], [role="menuitem"], [role="tab"]';
	return Array.from(document.querySelectorAll(sel)).map(el => {
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height,
			visible: !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length)};
	});
})()`

type geometryEntry struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Visible bool    `json:"visible"`
}

// enrichGeometry annotates structural candidates with live bounding boxes.
// Best effort: when the live element list no longer lines up with the
// parsed DOM, the candidates keep zero bounds and hybrid merge degrades
// to appending visual candidates.
func (e *Extractor) enrichGeometry(page browser.Page, elements []model.ElementCandidate) {
	raw, err := page.Evaluate(geometryScript)
	if err != nil {
		e.log.Debugf("geometry enrichment skipped: %v", err)
		return
	}
	var entries []geometryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		e.log.Debugf("geometry enrichment skipped: %v", err)
		return
	}
	if len(entries) != len(elements) {
		e.log.Debugf("geometry enrichment skipped: %d live vs %d parsed", len(entries), len(elements))
		return
	}
	for i := range elements {
		elements[i].Bounds = model.Rect{
			X:      entries[i].X,
			Y:      entries[i].Y,
			Width:  entries[i].Width,
			Height: entries[i].Height,
		}
		elements[i].Visible = entries[i].Visible
	}
}

func visibleOnly(elements []model.ElementCandidate) []model.ElementCandidate {
	out := elements[:0]
	for _, el := range elements {
		if el.Visible {
			out = append(out, el)
		}
	}
	return out
}

// saveScreenshot writes screenshot bytes to the evidence directory and
// returns the file reference, or empty on failure.
func (e *Extractor) saveScreenshot(data []byte) string {
	if e.shotDir == "" || len(data) == 0 {
		return ""
	}
	if err := os.MkdirAll(e.shotDir, 0750); err != nil {
		e.log.Warnf("failed to create screenshot dir: %v", err)
		return ""
	}
	path := filepath.Join(e.shotDir, fmt.Sprintf("%s.png", uuid.New().String()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		e.log.Warnf("failed to write screenshot: %v", err)
		return ""
	}
	return path
}
