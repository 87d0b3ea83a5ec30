package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"BreachWatch/internal/domain"
)

var funcs = template.FuncMap{
	"date":  formatDate,
	"count": groupDigits,
	"join":  strings.Join,
}

var alertTemplate = template.Must(template.New("alert").Funcs(funcs).Parse(`<h2>New Data Breach Alert</h2>
<p>New breach(es) have been detected for: <strong>{{.Address}}</strong></p>
<ul>
{{- range .Breaches}}
<li>
<strong>{{.DisplayTitle}}</strong>{{if .Domain}} ({{.Domain}}){{end}}
<br/>
<small>{{if .BreachDate}}Breach date: {{date .BreachDate}}{{end}}{{if .PwnCount}} | {{count .PwnCount}} accounts affected{{end}}</small>
<br/>
<small>Exposed data: {{join .DataClasses ", "}}</small>
<br/>
<small>Risk: {{.Risk}}</small>
</li>
{{- end}}
</ul>
<hr/>
<p><small>This alert was sent by {{.Product}}.</small></p>
`))

var summaryTemplate = template.Must(template.New("summary").Funcs(funcs).Parse(`<h2>Scan Complete</h2>
<p>Your scheduled breach scan has completed.</p>
<ul>
<li>Emails scanned: {{.EmailsScanned}}</li>
<li>New breaches found: {{.NewBreaches}}</li>
{{- if .Errors}}
<li>Errors: {{len .Errors}}</li>
{{- end}}
</ul>
{{- if .Errors}}
<h3>Errors</h3>
<pre>{{join .Errors "\n"}}</pre>
{{- end}}
<hr/>
<p><small>This summary was sent by {{.Product}}.</small></p>
`))

// Rendered is a ready-to-send message.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// RenderAlert renders the alert for every breach of one address.
func RenderAlert(product string, alert domain.BreachAlert) (Rendered, error) {
	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, struct {
		domain.BreachAlert
		Product string
	}{alert, product})
	if err != nil {
		return Rendered{}, fmt.Errorf("render alert: %w", err)
	}
	return finish(
		fmt.Sprintf("Alert: %d new breach(es) detected for %s", len(alert.Breaches), alert.Address),
		buf.String(),
	)
}

// RenderSummary renders the end-of-run report.
func RenderSummary(product string, summary domain.ScanSummary) (Rendered, error) {
	var buf bytes.Buffer
	err := summaryTemplate.Execute(&buf, struct {
		domain.ScanSummary
		Product string
	}{summary, product})
	if err != nil {
		return Rendered{}, fmt.Errorf("render summary: %w", err)
	}
	return finish(
		fmt.Sprintf("Scan Complete: %d new breach(es) found", summary.NewBreaches),
		buf.String(),
	)
}

func finish(subject, html string) (Rendered, error) {
	text, err := PlainText(html)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Subject: subject, HTML: html, Text: text}, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

// groupDigits formats n with comma thousands separators.
func groupDigits(n int64) string {
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + b.String()
}
