package setup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted after the configuration file.
const (
	TmpDirEnv       = "ISOFORGE_TMPDIR"
	ShellEnv        = "SHELL"
	IncludeDepthEnv = "ISOFORGE_MAX_INCLUDE_DEPTH"
)

const (
	appName                = "isoforge"
	defaultTmpDir          = "/var/tmp"
	defaultShell           = "/bin/sh"
	defaultMaxIncludeDepth = 32
)

var ConfigDir = "/etc"

// Version is overridden at link time.
var Version = "dev"

// Settings holds process-wide configuration shared by the parser, the
// runner and the built-in strategies.
type Settings struct {
	TmpDir          string `yaml:"tmp_dir"`
	Shell           string `yaml:"shell"`
	MaxIncludeDepth int    `yaml:"max_include_depth"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`

	Version    string `yaml:"-"`
	ConfigFile string `yaml:"-"`
}

// Defaults returns the built-in settings, before any file or environment override.
func Defaults() Settings {
	return Settings{
		TmpDir:          defaultTmpDir,
		Shell:           defaultShell,
		MaxIncludeDepth: defaultMaxIncludeDepth,
		LogLevel:        "info",
		LogFormat:       "cli",
		Version:         Version,
	}
}

// ConfigPaths lists the configuration files searched when no explicit path is given.
func ConfigPaths() []string {
	return []string{
		filepath.Join(ConfigDir, appName+".yaml"),
		filepath.Join(xdg.ConfigHome, appName, "config.yaml"),
	}
}

// Load resolves settings from defaults, the configuration file and the
// environment, in that order. An explicit path must exist; the default
// search paths are optional.
func Load(path string) (Settings, error) {
	settings := Defaults()

	if path != "" {
		if err := settings.readFile(path); err != nil {
			return Settings{}, err
		}
	} else {
		for _, candidate := range ConfigPaths() {
			err := settings.readFile(candidate)
			if err == nil {
				break
			}
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Settings{}, err
		}
	}

	if err := settings.applyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.ConfigFile = path
	getLogger().Debug("loaded settings", "path", path)
	return nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	if value, ok := lookup(TmpDirEnv); ok && strings.TrimSpace(value) != "" {
		s.TmpDir = strings.TrimSpace(value)
	}
	if value, ok := lookup(ShellEnv); ok && strings.TrimSpace(value) != "" {
		s.Shell = strings.TrimSpace(value)
	}
	if value, ok := lookup(IncludeDepthEnv); ok && strings.TrimSpace(value) != "" {
		depth, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: %w", IncludeDepthEnv, err)
		}
		s.MaxIncludeDepth = depth
	}
	return nil
}

// Validate reports settings that cannot be used.
func (s Settings) Validate() error {
	if s.TmpDir == "" {
		return errors.New("tmp_dir must not be empty")
	}
	if !filepath.IsAbs(s.TmpDir) {
		return fmt.Errorf("tmp_dir %q must be an absolute path", s.TmpDir)
	}
	if s.MaxIncludeDepth <= 0 {
		return fmt.Errorf("max_include_depth must be positive, got %d", s.MaxIncludeDepth)
	}
	return nil
}

// MkdirTemp creates a scratch directory named isoforge*<suffix> under TmpDir.
func (s Settings) MkdirTemp(suffix string) (string, error) {
	root := s.TmpDir
	if root == "" {
		root = defaultTmpDir
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create tmp root: %w", err)
	}
	dir, err := os.MkdirTemp(root, appName+"*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}
