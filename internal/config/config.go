package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	// DirName is the per-user and per-project configuration directory.
	DirName = ".lessc"
	// FileName is the configuration file inside DirName.
	FileName = "config.toml"

	defaultLogLevel = "info"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Config stores compiler and CLI settings loaded from TOML files.
type Config struct {
	Compress     bool
	Encoding     string
	Force        bool
	EnvJs        string
	LessJs       string
	CustomJs     []string
	LogLevel     string
	OTELEndpoint string
	Builds       []BuildTarget

	builds []buildConfig
}

// BuildTarget is one input/output pair compiled by `lessc build`.
type BuildTarget struct {
	Input    string
	Output   string
	Force    bool
	Compress bool
}

type fileConfig struct {
	Compress *bool         `toml:"compress"`
	Encoding *string       `toml:"encoding"`
	Force    *bool         `toml:"force"`
	EnvJs    *string       `toml:"env_js"`
	LessJs   *string       `toml:"less_js"`
	CustomJs []string      `toml:"custom_js"`
	LogLevel *string       `toml:"log_level"`
	OTEL     *otelConfig   `toml:"otel"`
	Build    []buildConfig `toml:"build"`
}

type otelConfig struct {
	Endpoint *string `toml:"endpoint"`
}

type buildConfig struct {
	Input    string `toml:"input"`
	Output   string `toml:"output"`
	Force    *bool  `toml:"force"`
	Compress *bool  `toml:"compress"`
}

// Load reads config from ~/.lessc/config.toml and overlays a project-local .lessc/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, DirName, FileName),
		filepath.Join(workingDir, DirName, FileName),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path, false); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return finalize(&cfg)
}

// LoadFile reads exactly one config file. Unlike Load, a missing file is an error.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	cfg := defaults()
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand config path %q: %w", path, err)
	}
	if err := overlayFromFile(&cfg, expanded, true); err != nil {
		return nil, err
	}
	_ = ctx
	return finalize(&cfg)
}

func defaults() Config {
	return Config{
		LogLevel: defaultLogLevel,
	}
}

func overlayFromFile(cfg *Config, path string, required bool) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	meta, err := toml.DecodeFile(path, &decoded)
	if err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse %s in %q: unsupported key", undecoded[0].String(), path)
	}

	base := baseDir(path)
	if err := applyScalarOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyScriptOverrides(cfg, decoded, base); err != nil {
		return err
	}
	return applyBuildOverrides(cfg, decoded, base, path)
}

// baseDir is the directory relative paths in the file at path resolve
// against: the project root for files under .lessc, otherwise the file's
// own directory.
func baseDir(path string) string {
	dir := filepath.Dir(path)
	if filepath.Base(dir) == DirName {
		return filepath.Dir(dir)
	}
	return dir
}

func applyScalarOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.Compress != nil {
		cfg.Compress = *decoded.Compress
	}
	if decoded.Force != nil {
		cfg.Force = *decoded.Force
	}
	if decoded.Encoding != nil {
		encoding := strings.TrimSpace(*decoded.Encoding)
		if encoding != "" {
			if enc, err := ianaindex.IANA.Encoding(encoding); err != nil || enc == nil {
				return fmt.Errorf("parse encoding in %q: unknown encoding %q", path, encoding)
			}
		}
		cfg.Encoding = encoding
	}
	if decoded.LogLevel != nil {
		level := normalizeKey(*decoded.LogLevel)
		if !validLogLevels[level] {
			return fmt.Errorf("parse log_level in %q: must be one of debug, info, warn, error", path)
		}
		cfg.LogLevel = level
	}
	if decoded.OTEL != nil && decoded.OTEL.Endpoint != nil {
		cfg.OTELEndpoint = strings.TrimSpace(*decoded.OTEL.Endpoint)
	}
	return nil
}

func applyScriptOverrides(cfg *Config, decoded fileConfig, base string) error {
	if decoded.EnvJs != nil {
		resolved, err := resolveLocation(*decoded.EnvJs, base)
		if err != nil {
			return err
		}
		cfg.EnvJs = resolved
	}
	if decoded.LessJs != nil {
		resolved, err := resolveLocation(*decoded.LessJs, base)
		if err != nil {
			return err
		}
		cfg.LessJs = resolved
	}
	if decoded.CustomJs != nil {
		scripts := make([]string, 0, len(decoded.CustomJs))
		for _, location := range decoded.CustomJs {
			resolved, err := resolveLocation(location, base)
			if err != nil {
				return err
			}
			if resolved != "" {
				scripts = append(scripts, resolved)
			}
		}
		cfg.CustomJs = scripts
	}
	return nil
}

func applyBuildOverrides(cfg *Config, decoded fileConfig, base, path string) error {
	if len(decoded.Build) == 0 {
		return nil
	}
	builds := make([]buildConfig, 0, len(decoded.Build))
	for i, build := range decoded.Build {
		if strings.TrimSpace(build.Input) == "" || strings.TrimSpace(build.Output) == "" {
			return fmt.Errorf("parse build[%d] in %q: input and output are required", i, path)
		}
		input, err := resolvePath(build.Input, base)
		if err != nil {
			return err
		}
		output, err := resolvePath(build.Output, base)
		if err != nil {
			return err
		}
		build.Input = input
		build.Output = output
		builds = append(builds, build)
	}
	cfg.builds = builds
	return nil
}

func finalize(cfg *Config) (*Config, error) {
	cfg.Builds = make([]BuildTarget, 0, len(cfg.builds))
	for _, build := range cfg.builds {
		target := BuildTarget{
			Input:    build.Input,
			Output:   build.Output,
			Force:    cfg.Force,
			Compress: cfg.Compress,
		}
		if build.Force != nil {
			target.Force = *build.Force
		}
		if build.Compress != nil {
			target.Compress = *build.Compress
		}
		cfg.Builds = append(cfg.Builds, target)
	}
	return cfg, nil
}

// resolveLocation leaves URLs untouched and resolves everything else as a path.
func resolveLocation(value, base string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.Contains(value, "://") {
		return value, nil
	}
	return resolvePath(value, base)
}

func resolvePath(value, base string) (string, error) {
	expanded, err := homedir.Expand(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("expand path %q: %w", value, err)
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Join(base, expanded), nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
