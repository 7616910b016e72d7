// Package source loads LESS files together with the files they import.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrImportCycle is returned when a file imports itself, directly or not.
var ErrImportCycle = errors.New("import cycle")

// importPattern matches @import statements with an optional option list, an
// optional url() wrapper and an optional media query.
var importPattern = regexp.MustCompile(`@import\s*(\([^)]*\))?\s*(?:url\(\s*)?["']([^"']+)["']\s*\)?([^;\n]*);`)

// LessSource is a LESS file and its resolved import closure.
type LessSource struct {
	path       string
	content    string
	normalized string
	modified   time.Time
	imports    map[string]*LessSource
}

// New reads path and every LESS file it imports. A missing or unreadable file
// is reported with the *fs.PathError from the os package.
func New(path string) (*LessSource, error) {
	return load(path, nil)
}

func load(path string, stack []string) (*LessSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for i, seen := range stack {
		if seen == abs {
			chain := append(append([]string(nil), stack[i:]...), abs)
			return nil, fmt.Errorf("%w: %s", ErrImportCycle, strings.Join(chain, " -> "))
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- stylesheet paths come from the caller or from its imports.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	src := &LessSource{
		path:     path,
		content:  strings.TrimPrefix(string(data), "\uFEFF"),
		modified: info.ModTime(),
		imports:  make(map[string]*LessSource),
	}
	if err := src.resolve(append(stack, abs)); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *LessSource) resolve(stack []string) error {
	var b strings.Builder
	last := 0
	for _, m := range importPattern.FindAllStringSubmatchIndex(s.content, -1) {
		var options, media string
		if m[2] >= 0 {
			options = s.content[m[2]:m[3]]
		}
		target := s.content[m[4]:m[5]]
		if m[6] >= 0 {
			media = strings.TrimSpace(s.content[m[6]:m[7]])
		}
		if !inlinable(target, options, media) {
			continue
		}

		name := target
		if filepath.Ext(name) == "" {
			name += ".less"
		}
		imported, err := load(filepath.Join(filepath.Dir(s.path), filepath.FromSlash(name)), stack)
		if err != nil {
			return err
		}
		s.imports[target] = imported

		b.WriteString(s.content[last:m[0]])
		b.WriteString(imported.normalized)
		last = m[1]
	}
	b.WriteString(s.content[last:])
	s.normalized = b.String()
	return nil
}

// inlinable reports whether an import names a LESS file on disk. CSS files,
// URLs and media-qualified imports are left for the browser.
func inlinable(target, options, media string) bool {
	if media != "" || strings.Contains(options, "css") {
		return false
	}
	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		return false
	}
	return !strings.EqualFold(filepath.Ext(target), ".css")
}

// Path returns the path the source was loaded from.
func (s *LessSource) Path() string { return s.path }

// Content returns the file content without its byte order mark.
func (s *LessSource) Content() string { return s.content }

// NormalizedContent returns the content with every LESS import replaced by
// the normalized content of the imported file.
func (s *LessSource) NormalizedContent() string { return s.normalized }

// LastModified returns the modification time of this file alone.
func (s *LessSource) LastModified() time.Time { return s.modified }

// LastModifiedIncludingImports returns the latest modification time across
// this file and its import closure.
func (s *LessSource) LastModifiedIncludingImports() time.Time {
	latest := s.modified
	for _, imported := range s.imports {
		if candidate := imported.LastModifiedIncludingImports(); candidate.After(latest) {
			latest = candidate
		}
	}
	return latest
}

// Imports returns the directly imported sources keyed by import target as
// written in the file.
func (s *LessSource) Imports() map[string]*LessSource {
	out := make(map[string]*LessSource, len(s.imports))
	for name, imported := range s.imports {
		out[name] = imported
	}
	return out
}

// ImportNames returns the direct import targets in sorted order.
func (s *LessSource) ImportNames() []string {
	names := make([]string, 0, len(s.imports))
	for name := range s.imports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
