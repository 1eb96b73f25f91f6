package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PANEL_DISCORD_TOKEN.
const EnvPrefix = "PANEL_"

// ConfigPath returns the default configuration file path: ~/.panel/config.json.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// DataDir returns the panel data directory: ~/.panel.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".panel"
	}
	return filepath.Join(home, ".panel")
}

// Load reads and parses the config file at path, then applies environment
// overrides. If path is empty, ConfigPath() is used.
// A missing file yields the defaults. On parse failure it logs a warning and
// continues from the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	loadDotEnv(path)

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := decode(path, data, &cfg); err != nil {
			slog.Warn("config: parse failed, using defaults", "path", path, "err", err)
			cfg = DefaultConfig()
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg to path as indented JSON, or YAML for .yaml/.yml paths.
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		// Append a trailing newline for POSIX compliance.
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// loadDotEnv loads .env from the working directory and from beside the config
// file. Variables already set in the environment win.
func loadDotEnv(configPath string) {
	candidates := []string{".env", filepath.Join(filepath.Dir(configPath), ".env")}
	seen := map[string]bool{}
	for _, p := range candidates {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil && !os.IsNotExist(err) {
			slog.Warn("config: .env not loaded", "path", abs, "err", err)
		}
	}
}
