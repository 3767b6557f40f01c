// Package templates holds the embedded HTML pages for the auth and
// dashboard surfaces.
package templates

import (
	"embed"
	"html/template"
	"io"
)

//go:embed pages/*.html
var pagesFS embed.FS

var pages = template.Must(template.ParseFS(pagesFS, "pages/*.html"))

// Render writes the named page with the given view data.
func Render(w io.Writer, name string, data any) error {
	return pages.ExecuteTemplate(w, name, data)
}
