package httphandler

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

var runPageTemplate = template.Must(template.New("run").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Run {{.ID}} · #{{.PRNumber}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; }
pre { background: #f6f8fa; padding: .75rem; overflow-x: auto; }
.succeeded { color: #1a7f37; } .failed { color: #cf222e; }
</style>
</head>
<body>
<h1>/{{.Command}} on #{{.PRNumber}}</h1>
<p>
  State: <strong>{{.State}}</strong>
  {{if .Environment}}· Environment: <code>{{.Environment}}</code>{{end}}
  {{if .DeploymentID}}· Deployment {{.DeploymentID}}{{end}}
</p>
<p>Started {{.StartedAt}}{{if .FinishedAt}} · finished {{.FinishedAt}}{{end}}</p>
{{if .Message}}<p>{{.Message}}</p>{{end}}
{{if .CommentURL}}<p><a href="{{.CommentURL}}">Tracking comment on GitHub</a></p>{{end}}
<section>{{.Comment}}</section>
{{if .Stages}}
<h2>Stages</h2>
{{range .Stages}}
<details>
<summary class="{{.Outcome}}">{{.Stage}} · {{.Outcome}} · {{.DurationMS}}ms</summary>
<pre>{{.Output}}</pre>
</details>
{{end}}
{{end}}
</body>
</html>
`))

type runPage struct {
	RunResponse
	Comment template.HTML
}

// renderRunPage buffers the page so a template error still yields a clean 500.
func renderRunPage(w http.ResponseWriter, run model.Run) error {
	page := runPage{
		RunResponse: toRunResponse(run),
		Comment:     template.HTML(RenderMarkdown(run.CommentBody)), //nolint:gosec // sanitized by bluemonday
	}

	var buf bytes.Buffer
	if err := runPageTemplate.Execute(&buf, page); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return err
}
