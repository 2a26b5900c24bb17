package web

import (
	"embed"
	"html/template"
	"io/fs"
)

// Embed the 'templates' and 'static' directories.
// The paths are relative to this file (internal/web/web.go).
//
//go:embed templates static
var Assets embed.FS

// Templates parses every page template.
func Templates() (*template.Template, error) {
	return template.ParseFS(Assets, "templates/*.html")
}

// StaticFS returns the static directory rooted at its own top.
func StaticFS() fs.FS {
	sub, err := fs.Sub(Assets, "static")
	if err != nil {
		// The directory is embedded at compile time.
		panic(err)
	}
	return sub
}
