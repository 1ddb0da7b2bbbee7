// Package config loads pipeline settings from a TOML file, falling back
// to defaults when no file is present.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir             string  `koanf:"data_dir"`
	TopN                int     `koanf:"top_n"`
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	Resolver            string  `koanf:"resolver"` // auto | interactive | oracle

	Oracle   OracleConfig   `koanf:"oracle"`
	Postgres PostgresConfig `koanf:"postgres"`
	Spotify  SpotifyConfig  `koanf:"spotify"`
}

// OracleConfig points at a local text-generation endpoint used by the
// oracle resolver.
type OracleConfig struct {
	URL       string `koanf:"url"`
	Model     string `koanf:"model"`
	BatchSize int    `koanf:"batch_size"`
	PauseMs   int    `koanf:"pause_ms"`
}

// PostgresConfig is optional; an empty DSN disables database persistence.
type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// SpotifyConfig covers fetch behavior; credentials come from the
// environment, not the config file.
type SpotifyConfig struct {
	ExportDir string `koanf:"export_dir"`
	MaxPages  int    `koanf:"max_pages"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		DataDir:             "data",
		TopN:                500,
		ConfidenceThreshold: 0.7,
		Resolver:            "auto",
		Oracle: OracleConfig{
			URL:       "http://localhost:11434",
			Model:     "llama3",
			BatchSize: 5,
			PauseMs:   500,
		},
		Spotify: SpotifyConfig{MaxPages: 10},
	}
}

// Load reads configuration from the first existing path among the
// standard locations: $SPINTALLY_CONFIG, ./config.toml, then
// ~/.config/spintally/config.toml.
func Load() (Config, error) {
	var paths []string
	if p := os.Getenv("SPINTALLY_CONFIG"); p != "" {
		paths = append(paths, p)
	}
	paths = append(paths, "config.toml")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "spintally", "config.toml"))
	}
	return LoadFrom(paths...)
}

// LoadFrom reads configuration from the first path that exists. Missing
// files are skipped; a malformed file is an error.
func LoadFrom(paths ...string) (Config, error) {
	cfg := Default()
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		k := koanf.New(".")
		if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
			return cfg, fmt.Errorf("loading config %s: %w", p, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", p, err)
		}
		break
	}
	return cfg, nil
}
