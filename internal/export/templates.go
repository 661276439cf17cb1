package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
)

//go:embed templates/*.html
var templateFS embed.FS

var postTemplate = template.Must(template.New("post.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
	"comma": func(n int) string {
		return humanize.Comma(int64(n))
	},
	"plural": func(n int, singular, plural string) string {
		return english.PluralWord(n, singular, plural)
	},
	"ago": humanize.Time,
}).ParseFS(templateFS, "templates/post.html"))

// RenderHTML renders a post export. Text is escaped by html/template, so
// highlighted chunks can only ever produce <mark> markup.
func RenderHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := postTemplate.Execute(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}
