// Package config resolves unravel settings from built-in defaults, optional
// YAML files and UNRAVEL_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RowanDark/unravel/internal/env"
	"github.com/RowanDark/unravel/internal/extract"
	"github.com/RowanDark/unravel/internal/seer"
)

// File names searched by Load.
const (
	HomeDir   = ".unravel"
	HomeFile  = "config.yml"
	LocalFile = "unravel.yml"
)

// Config captures the resolved settings shared by unravelctl and unraveld.
type Config struct {
	ServerAddr     string `yaml:"server_addr"`
	AuthToken      string `yaml:"auth_token"`
	OutputDir      string `yaml:"output_dir"`
	DatabasePath   string `yaml:"database_path"`
	MaxInputBytes  int64  `yaml:"max_input_bytes"`
	MaxConnections int    `yaml:"max_connections"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`

	Analysis extract.Options `yaml:"analysis"`
	Seer     seer.Config     `yaml:"seer"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerAddr:     "127.0.0.1:50061",
		OutputDir:      "/out",
		DatabasePath:   defaultDatabasePath(),
		MaxInputBytes:  64 << 20,
		MaxConnections: 64,
		LogLevel:       "info",
		LogFormat:      "json",
		Analysis:       extract.DefaultOptions(),
		Seer:           seer.DefaultConfig(),
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "unravel.db"
	}
	return filepath.Join(home, HomeDir, "history.db")
}

// Load resolves the configuration. Files are applied in order, each
// overriding only the keys it sets:
//  1. ~/.unravel/config.yml
//  2. ./unravel.yml
//
// UNRAVEL_* environment variables have the highest precedence.
func Load() (Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if err := applyFile(&cfg, filepath.Join(home, HomeDir, HomeFile)); err != nil {
			return Config{}, err
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("determine working directory: %w", err)
	}
	if err := applyFile(&cfg, filepath.Join(wd, LocalFile)); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile applies a single explicit file on top of the defaults and the
// environment, skipping the search path.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := decode(&cfg, data); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := decode(cfg, data); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// decode unmarshals into the already populated cfg so absent keys keep
// their current value. Unknown keys are rejected.
func decode(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if val, ok := env.Lookup(env.Prefix+"SERVER", ""); ok && strings.TrimSpace(val) != "" {
		cfg.ServerAddr = strings.TrimSpace(val)
	}
	if val, ok := env.String("AUTH_TOKEN"); ok && val != "" {
		cfg.AuthToken = val
	}
	if val, ok := env.Lookup(env.Prefix+"OUT", env.Prefix+"OUTPUT_DIR"); ok && strings.TrimSpace(val) != "" {
		cfg.OutputDir = strings.TrimSpace(val)
	}
	if val, ok := env.Lookup(env.Prefix+"DB", env.Prefix+"DATABASE"); ok && strings.TrimSpace(val) != "" {
		cfg.DatabasePath = strings.TrimSpace(val)
	}
	if val, ok := env.String("LOG_LEVEL"); ok && val != "" {
		cfg.LogLevel = val
	}
	if val, ok := env.String("LOG_FORMAT"); ok && val != "" {
		cfg.LogFormat = val
	}
	if list, ok := env.List("DISABLED_TRANSFORMS"); ok {
		cfg.Analysis.DisabledTransforms = list
	}
	if list, ok := env.List("SEER_KEYWORDS"); ok {
		cfg.Seer.Keywords = list
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"WORKERS", &cfg.Analysis.Workers},
		{"MAX_CONNECTIONS", &cfg.MaxConnections},
		{"MAX_CANDIDATES", &cfg.Analysis.Limits.MaxCandidates},
		{"MAX_CANDIDATE_BYTES", &cfg.Analysis.Limits.MaxCandidateBytes},
		{"FINAL_CAP", &cfg.Analysis.Caps.Final},
	}
	for _, entry := range ints {
		n, ok, err := env.Int(entry.name)
		if err != nil {
			return err
		}
		if ok {
			*entry.dst = n
		}
	}
	n, ok, err := env.Int("MAX_INPUT_BYTES")
	if err != nil {
		return err
	}
	if ok {
		cfg.MaxInputBytes = int64(n)
	}
	return nil
}

// Validate rejects configurations the tools cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerAddr) == "" {
		return errors.New("server_addr is required")
	}
	if c.MaxInputBytes <= 0 {
		return fmt.Errorf("max_input_bytes must be positive, got %d", c.MaxInputBytes)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	return nil
}

// AnalysisOptions returns the extract options described by the config.
func (c Config) AnalysisOptions() extract.Options {
	opts := c.Analysis
	opts.DisabledTransforms = append([]string(nil), c.Analysis.DisabledTransforms...)
	return opts
}
