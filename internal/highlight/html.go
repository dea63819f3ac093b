package highlight

import (
	"bytes"
	"html/template"
)

// segmentTemplate relies on html/template for escaping: segment text is HTML
// escaped and color values pass through the CSS value filter.
var segmentTemplate = template.Must(template.New("segments").Parse(
	`{{range .}}{{if .IsHighlighted}}<span class="highlight" style="color: {{.Color}}; transform: rotate({{.Rotation}}deg)">{{.Text}}</span>{{else}}<span>{{.Text}}</span>{{end}}{{end}}`,
))

// HTML renders segments as inline spans.
func HTML(segments []Segment) (template.HTML, error) {
	var buf bytes.Buffer
	if err := segmentTemplate.Execute(&buf, segments); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
