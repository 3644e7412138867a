// Package locator ranks candidate locator strategies for page elements
// and re-validates them against live page state before use.
//
// Ranking is a pure, deterministic function over an element's attributes:
// attribute presence beats semantic text uniqueness beats short CSS paths
// beats absolute XPath. Before a candidate is used for code generation it
// must match exactly one live element; anything else disqualifies it and
// the next-ranked candidate is tried.
package locator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/browser"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// maxTextLocatorLen bounds text-based locator expressions; long text is
// both fragile and noisy in generated code.
const maxTextLocatorLen = 50

var safeCSSIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Rank enumerates applicable locator strategies for an element and
// returns them ordered by descending stability score. The element itself
// is not modified.
func Rank(el *model.ElementCandidate) []model.LocatorCandidate {
	var out []model.LocatorCandidate
	attrs := el.Attributes

	// Test hooks and ids are the most permanent attributes a page offers.
	for _, key := range []string{"data-test", "data-testid", "data-test-id"} {
		if v := attrs[key]; v != "" {
			out = append(out, model.LocatorCandidate{
				Strategy:   model.StrategyCSS,
				Expression: fmt.Sprintf(`[%s=%q]`, key, v),
				Score:      model.ScoreDataTest,
			})
			break
		}
	}

	if id := attrs["id"]; id != "" {
		expr := "#" + id
		if !safeCSSIdent.MatchString(id) {
			expr = fmt.Sprintf(`[id=%q]`, id)
		}
		out = append(out, model.LocatorCandidate{
			Strategy:   model.StrategyID,
			Expression: expr,
			Score:      model.ScoreID,
		})
	}

	if name := attrs["name"]; name != "" {
		out = append(out, model.LocatorCandidate{
			Strategy:   model.StrategyCSS,
			Expression: fmt.Sprintf(`%s[name=%q]`, el.Tag, name),
			Score:      model.ScoreName,
		})
	}

	if label := attrs["aria-label"]; label != "" {
		out = append(out, model.LocatorCandidate{
			Strategy:   model.StrategySemantic,
			Expression: fmt.Sprintf(`[aria-label=%q]`, label),
			Score:      model.ScoreAriaLabel,
		})
	}

	if text := strings.TrimSpace(el.Text); text != "" && len(text) <= maxTextLocatorLen {
		out = append(out, model.LocatorCandidate{
			Strategy:   model.StrategySemantic,
			Expression: fmt.Sprintf("text=%q", text),
			Score:      model.ScoreUniqueText,
		})
	}

	if fields := strings.Fields(attrs["class"]); len(fields) > 0 {
		first := fields[0]
		if safeCSSIdent.MatchString(first) {
			out = append(out, model.LocatorCandidate{
				Strategy:   model.StrategyCSS,
				Expression: el.Tag + "." + first,
				Score:      model.ScoreShortCSS,
			})
		}
	}

	if role := attrs["role"]; role != "" {
		out = append(out, model.LocatorCandidate{
			Strategy:   model.StrategySemantic,
			Expression: fmt.Sprintf(`[role=%q]`, role),
			Score:      model.ScoreRole,
		})
	}

	// Absolute XPath is the positional last resort.
	out = append(out, model.LocatorCandidate{
		Strategy:   model.StrategyXPath,
		Expression: xpathFor(el),
		Score:      model.ScoreXPath,
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// xpathFor builds a simple attribute-anchored XPath, falling back to the
// bare tag expression.
func xpathFor(el *model.ElementCandidate) string {
	tag := el.Tag
	if tag == "" {
		tag = "*"
	}
	if id := el.Attributes["id"]; id != "" {
		return fmt.Sprintf("//%s[@id='%s']", tag, id)
	}
	if name := el.Attributes["name"]; name != "" {
		return fmt.Sprintf("//%s[@name='%s']", tag, name)
	}
	if class := el.Attributes["class"]; class != "" {
		return fmt.Sprintf("//%s[@class='%s']", tag, class)
	}
	return "//" + tag
}

// Selector renders a locator candidate as a selector the browser
// collaborator understands.
func Selector(c model.LocatorCandidate) string {
	if c.Strategy == model.StrategyXPath {
		return "xpath=" + c.Expression
	}
	return c.Expression
}

// Resolve picks the highest-ranked candidate that uniquely matches
// exactly one element on the live page. Candidates matching zero or
// multiple elements are disqualified and the next-ranked one is tried.
// Returns NoStableLocatorError when the list is exhausted; callers must
// degrade the affected step rather than emit broken code.
func Resolve(page browser.Page, el *model.ElementCandidate) (model.LocatorCandidate, error) {
	return ResolveExcluding(page, el, "")
}

// ResolveExcluding works like Resolve but disqualifies the named
// expression up front. Correction attempts use it to force the failed
// step onto the next-ranked strategy instead of retrying the locator
// that just failed.
func ResolveExcluding(page browser.Page, el *model.ElementCandidate, exclude string) (model.LocatorCandidate, error) {
	candidates := el.Locators
	if len(candidates) == 0 {
		candidates = Rank(el)
	}

	tried := 0
	for _, c := range candidates {
		if exclude != "" && c.Expression == exclude {
			continue
		}
		tried++
		n, err := page.Count(Selector(c))
		if err != nil {
			// A selector the engine rejects is as disqualified as a
			// non-matching one.
			continue
		}
		if n == 1 {
			return c, nil
		}
	}
	return model.LocatorCandidate{}, &model.NoStableLocatorError{ElementID: el.ID, Tried: tried}
}
