package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// EngineConfig holds the shared-region sizing and transport defaults.
type EngineConfig struct {
	Capacity     int   `json:"capacity,omitempty"`
	Tempo        int   `json:"tempo,omitempty"`
	PPQ          int   `json:"ppq,omitempty"`
	SafeZone     int   `json:"safeZone,omitempty"`
	Seed         int64 `json:"seed,omitempty"`
	SynapseQuota int   `json:"synapseQuota,omitempty"`
	LearnStep    int   `json:"learnStep,omitempty"`
}

// MIDIConfig defines the output port the player drives.
type MIDIConfig struct {
	PortName string `json:"portName,omitempty"`
	Channel  int    `json:"channel,omitempty"`
}

// UIConfig stores monitor preferences.
type UIConfig struct {
	RefreshMillis int `json:"refreshMillis,omitempty"`
}

// Config is the main configuration structure.
type Config struct {
	Engine EngineConfig `json:"engine,omitempty"`
	MIDI   MIDIConfig   `json:"midi,omitempty"`
	UI     UIConfig     `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Capacity:     1024,
			Tempo:        120,
			PPQ:          480,
			SafeZone:     960,
			SynapseQuota: 16,
			LearnStep:    25,
		},
		UI: UIConfig{
			RefreshMillis: 250,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "neuroseq"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
