package codegen

import (
	"fmt"
	"strings"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/locator"
	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// RenderScript renders the artifact as a Playwright test for human
// export. The rendered text mirrors the compiled step program exactly;
// unresolved steps appear as comments so the reviewer sees the coverage
// gap in the exported file too.
func RenderScript(p *model.TestCaseProposal, a *model.GeneratedArtifact) string {
	var b strings.Builder
	b.WriteString("import { test, expect } from '@playwright/test';\n\n")
	fmt.Fprintf(&b, "test(%s, async ({ page }) => {\n", jsString(p.Name))

	for _, step := range a.Steps {
		if step.Unresolved {
			fmt.Fprintf(&b, "  // step %d (%s) excluded: no stable locator\n", step.Index, step.Action)
			continue
		}
		if step.WaitBefore > 0 {
			fmt.Fprintf(&b, "  await page.waitForTimeout(%d);\n", step.WaitBefore.Milliseconds())
		}
		switch step.Action {
		case model.ActionNavigate:
			fmt.Fprintf(&b, "  await page.goto(%s);\n", jsString(step.Target))
		case model.ActionClick:
			fmt.Fprintf(&b, "  await page.click(%s);\n", jsString(locator.Selector(step.Locator)))
		case model.ActionFill:
			fmt.Fprintf(&b, "  await page.fill(%s, %s);\n", jsString(locator.Selector(step.Locator)), jsString(step.Value))
		case model.ActionAssert:
			fmt.Fprintf(&b, "  await expect(page.locator(%s)).toBeVisible();\n", jsString(locator.Selector(step.Locator)))
		}
	}

	for _, assertion := range a.Assertions {
		switch assertion.Kind {
		case "url_contains":
			fmt.Fprintf(&b, "  await expect(page).toHaveURL(new RegExp(%s));\n", jsString(regexpEscape(assertion.Expected)))
		case "text_visible":
			fmt.Fprintf(&b, "  await expect(page.getByText(%s)).toBeVisible();\n", jsString(assertion.Expected))
		case "element_visible":
			fmt.Fprintf(&b, "  await expect(page.locator(%s)).toBeVisible();\n", jsString(assertion.Target))
		}
	}

	b.WriteString("});\n")
	return b.String()
}

// jsString renders a single-quoted JavaScript string literal.
func jsString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)
	return "'" + r.Replace(s) + "'"
}

// regexpEscape escapes regexp metacharacters in a URL fragment.
func regexpEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		if strings.ContainsRune(`.+*?()[]{}^$|\/`, c) {
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
