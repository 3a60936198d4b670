// Package settings persists client-side configuration (API key, output
// directory) as a JSON file in the user config directory.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrInvalidAPIKey means the key does not have the provider credential
// shape and was rejected before touching disk or the network.
var ErrInvalidAPIKey = errors.New("invalid API key: expected UUID form")

// Settings holds everything the CLI keeps between runs
type Settings struct {
	APIKey    string `json:"api_key"`
	OutputDir string `json:"output_dir"`
}

// ValidateAPIKey checks the provider credential shape. The key itself is
// stored verbatim; only its shape is checked here.
func ValidateAPIKey(key string) error {
	if _, err := uuid.Parse(key); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// DefaultSettings returns baseline configuration for first launch
func DefaultSettings() Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return Settings{
		OutputDir: filepath.Join(homeDir, "Documents", "voscribe"),
	}
}

// DefaultPath locates settings.json inside the user config directory
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(configDir, "voscribe", "settings.json"), nil
}

// Store persists settings in a single JSON file on disk
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads settings from disk or returns defaults when missing
func (s *Store) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var cfg Settings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	return cfg, nil
}

// Save validates and writes settings as indented JSON, creating parent
// directories. An empty API key is allowed and means "not configured".
func (s *Store) Save(cfg Settings) error {
	if cfg.APIKey != "" {
		if err := ValidateAPIKey(cfg.APIKey); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	return nil
}
