package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the crosstalk configuration. Every field has a macOS
// default; the file only exists to override paths on non-standard setups.
type Config struct {
	Messages MessagesConfig `yaml:"messages"`
	Telegram TelegramConfig `yaml:"telegram"`
	Send     SendConfig     `yaml:"send"`
}

// MessagesConfig locates the Messages store and its contact sources.
type MessagesConfig struct {
	ChatDB      string `yaml:"chat_db,omitempty"`
	ContactsDir string `yaml:"contacts_dir,omitempty"`
}

// TelegramConfig locates the Telegram postbox container.
type TelegramConfig struct {
	Container string `yaml:"container,omitempty"`
}

// SendConfig bounds the networked send path.
type SendConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// Timeout returns the bounded send timeout.
func (s SendConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// GetConfigDir returns the XDG-compliant config directory.
func GetConfigDir() (string, error) {
	// Explicit override (useful for tests and portable installs)
	if override := os.Getenv("CROSSTALK_CONFIG_DIR"); override != "" {
		return override, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "crosstalk"), nil
}

// Load loads config from the config file, applying defaults for anything
// unset. A missing file is not an error.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	var cfg Config
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Save saves the config to the config file.
func (c *Config) Save() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if c.Messages.ChatDB == "" {
		c.Messages.ChatDB = filepath.Join(home, "Library", "Messages", "chat.db")
	}
	if c.Messages.ContactsDir == "" {
		c.Messages.ContactsDir = filepath.Join(home, "Library", "Application Support", "AddressBook", "Sources")
	}
	if c.Telegram.Container == "" {
		c.Telegram.Container = filepath.Join(home, "Library", "Group Containers", "6N38VWS5BX.ru.keepcoder.Telegram")
	}
}
