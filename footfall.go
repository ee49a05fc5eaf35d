// Package footfall holds the dashboard assets embedded into the footfall
// binary.
package footfall

import (
	"embed"
	"io/fs"
)

//go:embed static/*
var staticFiles embed.FS

// StaticFiles returns the dashboard rooted at the static directory, so
// index.html is served at /.
func StaticFiles() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
