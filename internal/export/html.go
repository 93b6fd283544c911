package export

import (
	"fmt"
	"html"
	"strings"

	"github.com/saffronlab/loom/internal/domain"
)

// reportHTML builds the grounded-theory report: theory, categories with
// their contained codes, then each code's highlighted evidence.
func reportHTML(p domain.Project) string {
	var b strings.Builder
	b.WriteString("<h1>Grounded Theory Analysis Report</h1>\n")

	b.WriteString("<h2>Theory (Selective Coding)</h2>\n")
	coreName := "Not selected"
	if core := p.CategoryByID(p.CoreCategoryID); core != nil {
		coreName = core.Name
	}
	fmt.Fprintf(&b, "<p>Core Category: %s</p>\n", html.EscapeString(coreName))
	theory := p.TheoryDescription
	if strings.TrimSpace(theory) == "" {
		theory = "No theory description provided."
	}
	fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(theory))

	b.WriteString("<h2>Categories (Axial Coding)</h2>\n<ul>\n")
	for _, cat := range p.Categories {
		fmt.Fprintf(&b, "<li>%s\n", html.EscapeString(cat.Name))
		if len(cat.ContainedCodeIDs) > 0 {
			b.WriteString("<ul>\n")
			for _, codeID := range cat.ContainedCodeIDs {
				if code := p.CodeByID(codeID); code != nil {
					fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(code.Name))
				}
			}
			b.WriteString("</ul>\n")
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n")

	b.WriteString("<h2>Evidence (Open Coding)</h2>\n")
	for _, code := range p.Codes {
		fmt.Fprintf(&b, "<h3>%s</h3>\n<ul>\n", html.EscapeString(code.Name))
		found := false
		for _, hl := range p.Highlights {
			if hl.CodeID != code.ID {
				continue
			}
			doc := p.DocumentByID(hl.DocumentID)
			if doc == nil {
				continue
			}
			q := slice(doc.Text(), hl.StartIndex, hl.EndIndex)
			if q == "" {
				continue
			}
			found = true
			fmt.Fprintf(&b, "<li>&quot;%s&quot; (%s)</li>\n",
				html.EscapeString(q), html.EscapeString(doc.Title))
		}
		if !found {
			b.WriteString("<li>No quotes yet.</li>\n")
		}
		b.WriteString("</ul>\n")
	}
	return b.String()
}

// slice extracts a highlight's quote by character offsets, clamped to the
// document bounds.
func slice(text string, start, end int) string {
	r := []rune(text)
	if start < 0 {
		start = 0
	}
	if end > len(r) {
		end = len(r)
	}
	if start >= end {
		return ""
	}
	return string(r[start:end])
}
