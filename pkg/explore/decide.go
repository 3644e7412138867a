package explore

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/llm"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

const (
	actionClick    = "click"
	actionFill     = "fill"
	actionNavigate = "navigate"
	actionDone     = "done"
)

// decision is the reasoner's choice of next exploration action.
type decision struct {
	Action       string `json:"action"`
	ElementIndex int    `json:"element_index"`
	URL          string `json:"url,omitempty"`
	Value        string `json:"value,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// maxSummaryElements caps the element list handed to the reasoner so a
// large page cannot blow the prompt budget.
const maxSummaryElements = 50

// promptTokenBudget bounds the whole decision prompt.
const promptTokenBudget = 6000

// elementSummary renders a compact indexed element list for the prompt.
func elementSummary(elements []model.ElementCandidate) string {
	var b strings.Builder
	limit := len(elements)
	if limit > maxSummaryElements {
		limit = maxSummaryElements
	}
	for i := 0; i < limit; i++ {
		el := elements[i]
		fmt.Fprintf(&b, "[%d] %s", i, el.Tag)
		if t := el.Attributes["type"]; t != "" {
			fmt.Fprintf(&b, " type=%s", t)
		}
		if id := el.Attributes["id"]; id != "" {
			fmt.Fprintf(&b, " id=%s", id)
		}
		if el.Text != "" {
			fmt.Fprintf(&b, " %q", truncate(el.Text, 30))
		}
		b.WriteString("\n")
	}
	if len(elements) > limit {
		fmt.Fprintf(&b, "... and %d more elements\n", len(elements)-limit)
	}
	return b.String()
}

// truncate caps s at n runes, never splitting a multi-byte sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// analyze asks the reasoning component what the page does and keeps the
// answer on the snapshot, where later design prompts pick it up. The
// analysis is advisory: a failed call is logged and exploration goes on.
func (a *Agent) analyze(ctx context.Context, snap *model.PageSnapshot) {
	var b strings.Builder
	b.WriteString("Describe the purpose and testable functionality of this web page in one short paragraph.\n\n")
	fmt.Fprintf(&b, "URL: %s\nTitle: %q\n", snap.URL, snap.Title)
	if snap.Markdown != "" {
		b.WriteString("\nPage content:\n")
		b.WriteString(llm.TruncateToTokens(snap.Markdown, promptTokenBudget/2))
		b.WriteString("\n")
	}
	b.WriteString("\nInteractive elements:\n")
	b.WriteString(elementSummary(snap.Elements))

	completion, err := llm.CompleteWithRetry(ctx, a.reasoner, b.String(), a.llmCfg, "exploration", a.retry)
	if err != nil {
		a.log.Warnf("page analysis failed for %s: %v", snap.URL, err)
		return
	}
	snap.Analysis = strings.TrimSpace(completion.Text)
	snap.LLMTokens += completion.Tokens
	snap.LLMDuration += completion.Duration
}

// decide asks the reasoning component for the next action given the
// accumulated graph and the current page.
func (a *Agent) decide(ctx context.Context, kg *model.KnowledgeGraph, current *model.PageSnapshot, lastFailure string) (*decision, error) {
	var b strings.Builder
	b.WriteString("You are exploring a web application to map its testable functionality.\n\n")
	b.WriteString("Knowledge so far:\n")
	b.WriteString(llm.TruncateToTokens(kg.Summary(), promptTokenBudget/2))
	b.WriteString("\nCurrent page: ")
	b.WriteString(current.URL)
	fmt.Fprintf(&b, " %q\n", current.Title)
	if current.Analysis != "" {
		fmt.Fprintf(&b, "\nPage analysis:\n%s\n", current.Analysis)
	}
	if current.Markdown != "" {
		b.WriteString("\nPage content:\n")
		b.WriteString(llm.TruncateToTokens(current.Markdown, promptTokenBudget/4))
		b.WriteString("\n")
	}
	b.WriteString("\nInteractive elements:\n")
	b.WriteString(elementSummary(current.Elements))
	if lastFailure != "" {
		fmt.Fprintf(&b, "\nThe previous action failed: %s\nChoose a different action.\n", lastFailure)
	}
	b.WriteString(`
Choose the next exploration action. Prefer unexplored, high-value flows;
respond "done" when no unexplored high-value candidate remains.

Respond with JSON only:
{"action": "click" | "fill" | "navigate" | "done",
 "element_index": <index from the list, for click/fill>,
 "value": "<text to fill, for fill>",
 "url": "<target, for navigate>",
 "reason": "<one sentence>"}`)

	prompt := llm.TruncateToTokens(b.String(), promptTokenBudget)
	completion, err := llm.CompleteWithRetry(ctx, a.reasoner, prompt, a.llmCfg, "exploration", a.retry)
	if err != nil {
		return nil, err
	}
	current.LLMTokens += completion.Tokens
	current.LLMDuration += completion.Duration

	var dec decision
	if err := llm.UnmarshalResponse(completion.Text, &dec); err != nil {
		return nil, fmt.Errorf("could not parse exploration decision: %w", err)
	}
	switch dec.Action {
	case actionClick, actionFill, actionNavigate, actionDone:
		return &dec, nil
	default:
		return nil, fmt.Errorf("reasoner chose unknown action %q", dec.Action)
	}
}
