// Package report turns generated markdown into the subject and HTML body of
// a delivered report.
package report

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/Seal1026/roosterProj/internal/model"
)

const maxSubjectPrompt = 60

type Report struct {
	Subject string
	Body    string
}

var titles = map[model.Frequency]string{
	model.Hourly:  "Hourly",
	model.Daily:   "Daily",
	model.BiDaily: "Bi-daily",
	model.Weekly:  "Weekly",
	model.Monthly: "Monthly",
}

func Render(p model.ScheduledPrompt, content string, at time.Time) Report {
	title, ok := titles[p.Frequency]
	if !ok {
		title = "Scheduled"
	}

	subject := fmt.Sprintf("%s report: %s", title, truncate(oneLine(p.PromptText), maxSubjectPrompt))

	var b strings.Builder
	b.WriteString("<html><body>\n")
	fmt.Fprintf(&b, "<p><em>%s</em></p>\n", html.EscapeString(p.PromptText))
	b.Write(toHTML(content))
	fmt.Fprintf(&b, "<hr><p><small>Generated %s</small></p>\n", at.Format("2006-01-02 15:04 MST"))
	b.WriteString("</body></html>\n")

	return Report{Subject: subject, Body: b.String()}
}

func toHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	r := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.SkipHTML})
	return markdown.ToHTML([]byte(md), p, r)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
