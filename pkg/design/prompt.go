package design

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/llm"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

const (
	// maxCatalogElements bounds the element catalog offered to the
	// reasoner; pages beyond the cap are represented by the graph summary
	// only.
	maxCatalogElements = 50

	// promptTokenBudget caps the graph summary portion of the prompt.
	promptTokenBudget = 6000

	// pageNoteBudget caps the per-page note included alongside the
	// element catalog.
	pageNoteBudget = 400
)

// catalogEntry pairs an element with the snapshot it was observed on, in
// the stable order the prompt presents it.
type catalogEntry struct {
	element  *model.ElementCandidate
	snapshot *model.PageSnapshot
}

// proposalResponse is the reasoner's drafted test cases.
type proposalResponse struct {
	TestCases []testCaseSpec `json:"test_cases"`
}

type testCaseSpec struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	CoverageTags []string        `json:"coverage_tags,omitempty"`
	Steps        []stepSpec      `json:"steps"`
	Assertions   []assertionSpec `json:"assertions,omitempty"`
}

type stepSpec struct {
	Action       string `json:"action"`
	ElementIndex int    `json:"element_index"`
	Value        string `json:"value,omitempty"`
	Target       string `json:"target,omitempty"`
	Description  string `json:"description,omitempty"`
}

type assertionSpec struct {
	Kind     string `json:"kind"`
	Target   string `json:"target,omitempty"`
	Expected string `json:"expected"`
}

// buildCatalog flattens the graph's element candidates into the indexed
// list the prompt references, in snapshot order.
func buildCatalog(kg *model.KnowledgeGraph) []catalogEntry {
	var catalog []catalogEntry
	for _, snap := range kg.Snapshots() {
		for i := range snap.Elements {
			if len(catalog) >= maxCatalogElements {
				return catalog
			}
			catalog = append(catalog, catalogEntry{element: &snap.Elements[i], snapshot: snap})
		}
	}
	return catalog
}

func catalogText(catalog []catalogEntry) string {
	var b strings.Builder
	for i, entry := range catalog {
		el := entry.element
		fmt.Fprintf(&b, "[%d] %s", i, el.Tag)
		if el.Role != "" {
			fmt.Fprintf(&b, " role=%s", el.Role)
		}
		if v, ok := el.Attributes["id"]; ok {
			fmt.Fprintf(&b, " id=%s", v)
		}
		if v, ok := el.Attributes["name"]; ok {
			fmt.Fprintf(&b, " name=%s", v)
		}
		if el.Text != "" {
			fmt.Fprintf(&b, " %q", el.Text)
		}
		fmt.Fprintf(&b, " on %s\n", entry.snapshot.URL)
	}
	return b.String()
}

// pageNotes renders what exploration learned about each page: the
// reasoner's analysis when one was captured, otherwise the markdown
// rendition of the page itself.
func pageNotes(kg *model.KnowledgeGraph) string {
	var b strings.Builder
	for _, snap := range kg.Snapshots() {
		note := snap.Analysis
		if note == "" {
			note = snap.Markdown
		}
		if note == "" {
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", snap.URL, llm.TruncateToTokens(note, pageNoteBudget))
	}
	return b.String()
}

const responseSchema = `Respond with JSON only:
{
  "test_cases": [
    {
      "name": "short test name",
      "description": "what the test verifies",
      "coverage_tags": ["element or flow names this case exercises"],
      "steps": [
        {"action": "navigate", "target": "url"},
        {"action": "click|fill|assert", "element_index": N, "value": "fill value if any", "description": "why"}
      ],
      "assertions": [
        {"kind": "url_contains|text_visible|element_visible", "target": "selector or url fragment", "expected": "expected value"}
      ]
    }
  ]
}
Rules:
- element_index must reference the interactive element list exactly.
- Every test case needs at least one assertion.
- Prefer short, independent test cases over one long scenario.`

func proposePrompt(kg *model.KnowledgeGraph, catalog []catalogEntry, intent string) string {
	var b strings.Builder
	b.WriteString("You are designing browser test cases for a web application.\n\n")
	b.WriteString("Explored site structure:\n")
	b.WriteString(llm.TruncateToTokens(kg.Summary(), promptTokenBudget/2))
	if notes := pageNotes(kg); notes != "" {
		b.WriteString("\n\nPage notes:\n")
		b.WriteString(notes)
	}
	b.WriteString("\n\nInteractive elements:\n")
	b.WriteString(catalogText(catalog))
	fmt.Fprintf(&b, "\nTesting intent from the reviewer:\n%s\n\n", intent)
	b.WriteString(responseSchema)
	return b.String()
}

func revisePrompt(kg *model.KnowledgeGraph, catalog []catalogEntry, p *model.TestCaseProposal, feedback string) string {
	prior, _ := json.MarshalIndent(p, "", "  ")

	var b strings.Builder
	b.WriteString("You are revising one browser test case after reviewer feedback.\n\n")
	b.WriteString("Explored site structure:\n")
	b.WriteString(llm.TruncateToTokens(kg.Summary(), promptTokenBudget/2))
	if notes := pageNotes(kg); notes != "" {
		b.WriteString("\n\nPage notes:\n")
		b.WriteString(notes)
	}
	b.WriteString("\n\nInteractive elements:\n")
	b.WriteString(catalogText(catalog))
	fmt.Fprintf(&b, "\nCurrent test case:\n%s\n", prior)
	fmt.Fprintf(&b, "\nReviewer feedback:\n%s\n\n", feedback)
	b.WriteString(`Respond with JSON only: one revised test case object with the same shape as
{"name": ..., "description": ..., "coverage_tags": [...], "steps": [...], "assertions": [...]}
using element_index references into the interactive element list.`)
	return b.String()
}
