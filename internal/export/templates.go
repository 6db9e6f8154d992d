package export

import (
	"bytes"
	"html/template"
)

var reportTemplate = template.Must(template.New("reach-report").Parse(reportHTML))

// renderReportHTML renders the reach report page fed to headless Chrome.
func renderReportHTML(report Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Reach report: {{.Subject.Name}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
    th { background: #f5f5f5; }
    td.num { text-align: right; }
    .totals { background: #fafafa; font-weight: bold; }
  </style>
</head>
<body>
  <h1>Reach report: {{.Subject.Name}}</h1>
  <div class="meta">
    {{.Subject.TrackingNumber}}{{if .Subject.County}} | {{.Subject.County}}{{end}}
    | computed {{.ComputedAt.Format "Jan 2, 2006 15:04"}} (generation {{.Generation}})
    | generated {{.GeneratedAt.Format "Jan 2, 2006 15:04"}}
  </div>
  <table>
    <tr>
      <th>Person</th><th>County</th><th>Stage</th>
      <th>Downstream people</th><th>Downstream voters</th><th>Weighted score</th>
    </tr>
    <tr class="totals">
      <td>{{.Subject.Name}}</td><td>{{.Subject.County}}</td><td>{{.Subject.Stage}}</td>
      <td class="num">{{.Subject.DownstreamPeople}}</td>
      <td class="num">{{.Subject.DownstreamVoters}}</td>
      <td class="num">{{.Subject.WeightedScore}}</td>
    </tr>
    {{range .Children}}
    <tr>
      <td>{{.Name}}</td><td>{{.County}}</td><td>{{.Stage}}</td>
      <td class="num">{{.DownstreamPeople}}</td>
      <td class="num">{{.DownstreamVoters}}</td>
      <td class="num">{{.WeightedScore}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>`
