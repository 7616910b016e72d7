package lesscss

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// NeedsRebuild reports whether outputPath must be regenerated from a source
// last modified at sourceModified. It is true when force is set, when the
// output is missing, or when the output is strictly older than the source.
func NeedsRebuild(force bool, outputPath string, sourceModified time.Time) (bool, error) {
	if force {
		return true, nil
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	return info.ModTime().Before(sourceModified), nil
}

// LookupEncoding resolves an IANA charset name or alias such as "UTF-8",
// "ISO-8859-1" or "latin1". ISO-8859-1 is the strict Latin-1 table, not the
// windows-1252 superset browsers substitute for it.
func LookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported output encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported output encoding %q: no encoder available", name)
	}
	return enc, nil
}

// encodeOutput converts css to the named encoding; an empty name keeps UTF-8.
// Characters the target cannot represent are replaced with the encoding's
// substitution byte.
func encodeOutput(css, name string) ([]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return []byte(css), nil
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	encoded, err := encoding.ReplaceUnsupported(enc.NewEncoder()).String(css)
	if err != nil {
		return nil, fmt.Errorf("encode output as %s: %w", name, err)
	}
	return []byte(encoded), nil
}

// writeOutput replaces path with data through a temporary file in the same
// directory so readers never observe a partial file.
func writeOutput(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	// #nosec G302 -- generated stylesheets are meant to be world-readable.
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
