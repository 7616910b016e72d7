package lesscss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/lesscss/lesscss-go/internal/assets"
	"github.com/mitchellh/go-homedir"
)

// ScriptLocator resolves a script to a readable stream and names it for
// diagnostics.
type ScriptLocator interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// BundledScript locates one of the scripts shipped with the package, such as
// "env.js" or "less.js".
func BundledScript(name string) ScriptLocator {
	return bundledScript(name)
}

type bundledScript string

func (s bundledScript) Name() string { return "bundled:" + string(s) }

func (s bundledScript) Open(context.Context) (io.ReadCloser, error) {
	return assets.Open(string(s))
}

// FileScript locates a script on disk. A leading ~ expands to the home
// directory.
func FileScript(path string) ScriptLocator {
	return fileScript(path)
}

type fileScript string

func (s fileScript) Name() string { return string(s) }

func (s fileScript) Open(context.Context) (io.ReadCloser, error) {
	path, err := homedir.Expand(string(s))
	if err != nil {
		return nil, fmt.Errorf("expand script path %q: %w", string(s), err)
	}
	// #nosec G304 -- script paths are supplied by the embedding program.
	return os.Open(path)
}

// StringScript is an in-memory script.
func StringScript(name, body string) ScriptLocator {
	return stringScript{name: name, body: body}
}

type stringScript struct {
	name string
	body string
}

func (s stringScript) Name() string { return s.name }

func (s stringScript) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.body)), nil
}

// URLScript locates a script by URL. file URLs read from disk; http and https
// URLs are fetched on Open.
func URLScript(rawURL string) (ScriptLocator, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse script url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		if u.Path == "" {
			return nil, fmt.Errorf("script url %q has no path", rawURL)
		}
		return FileScript(u.Path), nil
	case "http", "https":
		return &urlScript{url: u, client: cleanhttp.DefaultClient()}, nil
	case "":
		return nil, errors.New("script url must have a scheme")
	default:
		return nil, fmt.Errorf("unsupported script url scheme %q", u.Scheme)
	}
}

type urlScript struct {
	url    *url.URL
	client *http.Client
}

func (s *urlScript) Name() string { return s.url.Redacted() }

func (s *urlScript) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", s.Name(), resp.Status)
	}
	return resp.Body, nil
}
