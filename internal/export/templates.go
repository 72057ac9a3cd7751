package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var postTemplate = template.Must(template.New("post").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(postTemplateText))

// TemplateData is the view rendered into the export HTML.
type TemplateData struct {
	Title     string
	Body      string
	Author    string
	Tags      []string
	UpdatedAt time.Time
	Comments  []Comment
}

// RenderPostHTML renders the export template. Post bodies are plain text;
// the template escapes them and preserves line breaks with CSS.
func RenderPostHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := postTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const postTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .tag { background: #eef; border-radius: 3px; padding: 0.1rem 0.4rem; margin-right: 0.3rem; font-size: 0.85em; }
    .body { white-space: pre-wrap; }
    .comment { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .reply { margin: 0.5rem 0 0 1.5rem; padding: 0.5rem; border-left: 2px solid #999; }
    .byline { color: #666; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    {{.Author}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}
    {{range .Tags}}<span class="tag">{{.}}</span>{{end}}
  </div>
  <div class="body">{{.Body}}</div>
  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}
  <div class="comment">
    <div class="byline">{{.Author}} | {{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</div>
    <div>{{.Message}}</div>
    {{range .Replies}}
    <div class="reply">
      <div class="byline">{{.Author}} | {{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</div>
      <div>{{.Message}}</div>
    </div>
    {{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
