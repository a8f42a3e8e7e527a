package report

import (
	"bytes"
	"html/template"
	"time"

	"github.com/pkg/errors"
)

// ReportFileName is the name the printable fallback is saved or sent under.
const ReportFileName = "signature-analysis-report.html"

var printable = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Signature Analysis Report</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 30px; }
    h1 { text-align: center; margin-bottom: 30px; }
    h2 { margin-top: 30px; color: #6d28d9; }
    table { width: 100%; border-collapse: collapse; margin: 20px 0; }
    table, th, td { border: 1px solid #ddd; }
    th, td { padding: 12px; text-align: left; }
    th { background-color: #f8f8f8; }
    .metrics { display: flex; flex-wrap: wrap; }
    .metric { width: 50%; padding: 10px 0; }
    .valid { color: green; }
    .invalid { color: red; }
    .footer { margin-top: 50px; font-size: 12px; color: #666; }
  </style>
</head>
<body>
  <h1>Signature Analysis Report</h1>

  <h2>Validation Result</h2>
  <p>Status: <strong class="{{if .View.Valid}}valid{{else}}invalid{{end}}">{{.View.Status}}</strong> ({{.View.ConfidenceText}} confidence)</p>

  <h2>Confusion Matrix</h2>
  <table>
    <tr>
      <th></th>
      <th>Predicted Positive</th>
      <th>Predicted Negative</th>
    </tr>
    <tr>
      <th>Actual Positive</th>
      {{range index .View.Matrix 0}}<td>{{.Count}}</td>{{end}}
    </tr>
    <tr>
      <th>Actual Negative</th>
      {{range index .View.Matrix 1}}<td>{{.Count}}</td>{{end}}
    </tr>
  </table>

  <h2>Performance Metrics</h2>
  <div class="metrics">
  {{- range .View.Metrics}}
    <div class="metric">
      <p><strong>{{.Name}}:</strong> {{.Text}}</p>
      <p><em>Formula: {{.Formula}}</em></p>
    </div>
  {{- end}}
  </div>

  <h2>Definitions</h2>
  {{- range .View.Terms}}
  <p><strong>{{.Name}}:</strong> {{.Description}}</p>
  {{- end}}

  <div class="footer">
    <p>Generated on: {{.Generated}}</p>
    <p>Signature Verification System</p>
  </div>
  <script>
    window.onload = function() { window.print(); };
  </script>
</body>
</html>
`))

// HTML renders the self-contained printable report. It prints itself when opened.
func HTML(v View, generated time.Time) ([]byte, error) {
	var buf bytes.Buffer
	err := printable.Execute(&buf, struct {
		View      View
		Generated string
	}{v, generated.Format("2006-01-02 15:04:05")})
	if err != nil {
		return nil, errors.Wrap(err, "render report")
	}
	return buf.Bytes(), nil
}
