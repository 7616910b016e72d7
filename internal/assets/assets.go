// Package assets holds the scripts bundled with the compiler: a minimal
// browser environment and the LESS engine itself.
package assets

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
)

const (
	// DefaultShim is the browser environment loaded before the engine.
	DefaultShim = "env.js"
	// DefaultEngine is the LESS engine script.
	DefaultEngine = "less.js"
)

//go:embed scripts/*.js
var scripts embed.FS

// Open returns a reader over the bundled script with the given name.
func Open(name string) (io.ReadCloser, error) {
	file, err := scripts.Open(path.Join("scripts", name))
	if err != nil {
		return nil, fmt.Errorf("open bundled script %q: %w", name, err)
	}
	return file, nil
}

// Names lists the bundled scripts in lexical order.
func Names() []string {
	entries, err := fs.ReadDir(scripts, "scripts")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
