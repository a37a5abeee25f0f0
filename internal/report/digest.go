// Package report renders and delivers the run digest.
package report

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #222;">
<h2>Position Scout Digest for {{.Date}}</h2>

{{if .NewJobs}}
<h3>New Openings ({{len .NewJobs}})</h3>
<ul>
{{range .NewJobs}}  <li><a href="{{.URL}}">{{.Title}}</a> &mdash; {{.University}}{{if .Country}}, {{.Country}}{{end}} <em>({{.Source}})</em></li>
{{end}}</ul>
{{else}}
<p>No new openings today.</p>
{{end}}

{{if .OldJobs}}
<h3>Still Open ({{len .OldJobs}})</h3>
<ul>
{{range .OldJobs}}  <li><a href="{{.URL}}">{{.Title}}</a> &mdash; {{.University}} (first seen {{.FoundDate}})</li>
{{end}}</ul>
{{end}}

{{if .Inquiries}}
<h3>Inquiry Opportunities ({{len .Inquiries}})</h3>
<ul>
{{range .Inquiries}}  <li><a href="{{.URL}}">{{.Professor}}</a> &mdash; {{.University}}{{if .Email}} ({{.Email}}){{end}}<br/>
  <small>{{.ContextSnippet}}</small></li>
{{end}}</ul>
{{end}}

{{if .Professors}}
<h3>Matching Faculty ({{len .Professors}})</h3>
<ul>
{{range .Professors}}  <li><a href="{{.URL}}">{{.Name}}</a> &mdash; {{.University}}<br/>
  <small>{{.ResearchAreas}}</small></li>
{{end}}</ul>
{{end}}

<p style="color: #888; font-size: 12px;">Generated by scholarhunt.</p>
</body>
</html>
`))

// RenderDigest produces the HTML body for a digest email.
func RenderDigest(r hunter.Report) (string, error) {
	var sb strings.Builder
	if err := digestTemplate.Execute(&sb, r); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return sb.String(), nil
}

// DigestSubject builds the subject line from the section counts.
func DigestSubject(r hunter.Report) string {
	parts := []string{}
	if n := len(r.NewJobs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new", n))
	}
	if n := len(r.Inquiries); n > 0 {
		parts = append(parts, fmt.Sprintf("%d inquiries", n))
	}
	if n := len(r.Professors); n > 0 {
		parts = append(parts, fmt.Sprintf("%d faculty", n))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Position scout %s: nothing new", r.Date)
	}
	return fmt.Sprintf("Position scout %s: %s", r.Date, strings.Join(parts, ", "))
}

// Summary is the one line result string recorded on job status files.
func Summary(r hunter.Report) string {
	return fmt.Sprintf("%d new, %d still open, %d inquiries, %d faculty",
		len(r.NewJobs), len(r.OldJobs), len(r.Inquiries), len(r.Professors))
}
