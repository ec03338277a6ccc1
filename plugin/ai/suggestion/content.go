package suggestion

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	minContentWords      = 15
	structuredAboveWords = 80
)

// ContentReport is the structural summary of a template's markdown content.
type ContentReport struct {
	Words      int      `json:"words"`
	Headings   int      `json:"headings"`
	ListItems  int      `json:"list_items"`
	CodeBlocks int      `json:"code_blocks"`
	Issues     []string `json:"issues,omitempty"`
}

// ContentAnalyzer inspects template content independently of usage volume.
type ContentAnalyzer struct {
	md goldmark.Markdown
}

// NewContentAnalyzer creates a new content analyzer.
func NewContentAnalyzer() *ContentAnalyzer {
	return &ContentAnalyzer{md: goldmark.New()}
}

// Analyze parses content as markdown and reports structural issues.
func (a *ContentAnalyzer) Analyze(content string) *ContentReport {
	source := []byte(content)
	doc := a.md.Parser().Parse(text.NewReader(source))

	report := &ContentReport{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			report.Headings++
		case ast.KindListItem:
			report.ListItems++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			report.CodeBlocks++
		case ast.KindText:
			report.Words += len(strings.Fields(string(n.(*ast.Text).Segment.Value(source))))
		}
		return ast.WalkContinue, nil
	})

	if report.Words < minContentWords {
		report.Issues = append(report.Issues, "content is too short to describe the intent")
	}
	if report.CodeBlocks == 0 {
		report.Issues = append(report.Issues, "no example query in a code block")
	}
	if report.Words >= structuredAboveWords && report.Headings == 0 && report.ListItems == 0 {
		report.Issues = append(report.Issues, "long content without headings or lists")
	}
	return report
}

// contentRule turns a report with issues into a content-quality heuristic.
func contentRule(report *ContentReport) Rule {
	return Rule{
		Category:            CategoryContentQuality,
		Title:               "Restructure the template content",
		ExpectedImprovement: 5,
		Confidence:          0.5,
		Description:         "Content issues: " + strings.Join(report.Issues, "; ") + ".",
		Guidance:            "## Example\n```sql\n-- expected shape of the answer\nSELECT ...\n```\n",
	}
}
