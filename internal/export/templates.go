package export

import (
	"bytes"
	"html/template"
	"time"
)

var artifactTemplate = template.Must(template.New("artifact").Funcs(template.FuncMap{
	"safeHTML": func(s string) template.HTML { return template.HTML(s) },
	"formatDate": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("January 2, 2006")
	},
}).Parse(artifactTemplateHTML))

type templateData struct {
	Title       string
	ProjectName string
	Author      string
	CreatedAt   time.Time
	ContentHTML string
}

// renderArtifactHTML produces the printable page for one artifact.
func renderArtifactHTML(data templateData) (string, error) {
	var buf bytes.Buffer
	if err := artifactTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const artifactTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.7; max-width: 720px; margin: 2rem auto; color: #222; }
    h1 { font-family: Arial, sans-serif; border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2, h3 { font-family: Arial, sans-serif; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    ul { padding-left: 1.4rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.ProjectName}}{{if .Author}} | {{.Author}}{{end}}{{if not .CreatedAt.IsZero}} | {{formatDate .CreatedAt}}{{end}}</div>
  <div>{{.ContentHTML | safeHTML}}</div>
</body>
</html>`
