package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// domResult is the structural analysis of one serialized DOM.
type domResult struct {
	title     string
	elements  []model.ElementCandidate
	structure string
}

// interactive tags considered element candidates regardless of attributes.
var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

// roles that make an otherwise plain element interactive.
var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"checkbox": true,
	"textbox":  true,
	"menuitem": true,
	"tab":      true,
}

// parseDOM walks the serialized DOM and returns the interactive element
// candidates, the page title, and a structural serialization (tag paths
// only, no text) used for change-detection hashing.
func parseDOM(rawDOM string, maxDepth int, includeHidden bool) (*domResult, error) {
	doc, err := html.Parse(strings.NewReader(rawDOM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DOM: %w", err)
	}

	res := &domResult{}
	var structure strings.Builder
	walkDOM(doc, 0, maxDepth, includeHidden, res, &structure)
	res.structure = structure.String()
	return res, nil
}

func walkDOM(n *html.Node, depth, maxDepth int, includeHidden bool, res *domResult, structure *strings.Builder) {
	if maxDepth > 0 && depth > maxDepth {
		return
	}

	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)

		fmt.Fprintf(structure, "%d:%s;", depth, tag)

		if tag == "title" && res.title == "" {
			res.title = strings.TrimSpace(textContent(n))
		}

		attrs := attributeBag(n)
		if isInteractive(tag, attrs) {
			hidden := isHidden(attrs)
			if includeHidden || !hidden {
				res.elements = append(res.elements, model.ElementCandidate{
					Role:       roleFor(tag, attrs),
					Tag:        tag,
					Text:       truncateText(textContent(n), 80),
					Attributes: attrs,
					Visible:    !hidden,
				})
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkDOM(c, depth+1, maxDepth, includeHidden, res, structure)
	}
}

func attributeBag(n *html.Node) map[string]string {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[strings.ToLower(a.Key)] = a.Val
	}
	return attrs
}

func isInteractive(tag string, attrs map[string]string) bool {
	// Anchors without a target are not actionable by tag alone.
	if interactiveTags[tag] && (tag != "a" || attrs["href"] != "") {
		return true
	}
	if _, ok := attrs["onclick"]; ok {
		return true
	}
	return interactiveRoles[attrs["role"]]
}

func isHidden(attrs map[string]string) bool {
	if _, ok := attrs["hidden"]; ok {
		return true
	}
	if attrs["type"] == "hidden" {
		return true
	}
	if attrs["aria-hidden"] == "true" {
		return true
	}
	style := strings.ReplaceAll(attrs["style"], " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func roleFor(tag string, attrs map[string]string) model.ElementRole {
	switch tag {
	case "a":
		return model.RoleLink
	case "button":
		return model.RoleButton
	case "select":
		return model.RoleSelect
	case "textarea":
		return model.RoleTextarea
	case "input":
		switch attrs["type"] {
		case "checkbox", "radio":
			return model.RoleCheckbox
		case "button", "submit", "reset":
			return model.RoleButton
		default:
			return model.RoleInput
		}
	}
	switch attrs["role"] {
	case "button":
		return model.RoleButton
	case "link":
		return model.RoleLink
	case "checkbox":
		return model.RoleCheckbox
	case "textbox":
		return model.RoleInput
	}
	return model.RoleOther
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncateText caps s at maxLen runes. Cutting on a byte index could
// split a multi-byte sequence and feed invalid UTF-8 to the reasoner.
func truncateText(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
