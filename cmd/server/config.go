package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashnegiii/chadoc/internal/handlers"
	"github.com/ashnegiii/chadoc/internal/services"
	"gopkg.in/yaml.v3"
)

const defaultPort = "3000"

type config struct {
	Port     string        `yaml:"port"`
	LogLevel string        `yaml:"logLevel"`
	Backend  backendConfig `yaml:"backend"`
	Chat     chatConfig    `yaml:"chat"`
	Upload   uploadConfig  `yaml:"upload"`
}

type backendConfig struct {
	BaseURL string `yaml:"baseURL"`
	ChatURL string `yaml:"chatURL"`
}

type chatConfig struct {
	RevealInterval time.Duration `yaml:"revealInterval"`
	HistorySize    int           `yaml:"historySize"`
	MaxSessions    int           `yaml:"maxSessions"`
}

type uploadConfig struct {
	MaxBytes          int64 `yaml:"maxBytes"`
	MetadataCacheSize int   `yaml:"metadataCacheSize"`
}

// configPath returns the location of the config file. CHADOC_CONFIG wins over the user config dir.
func configPath() (string, error) {
	if p := os.Getenv("CHADOC_CONFIG"); p != "" {
		return p, nil
	}
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "chadoc", "config.yaml"), nil
}

// loadConfig reads the config file at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("BACKEND_CHAT_URL"); v != "" {
		c.Backend.ChatURL = v
	}
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = services.DefaultBaseURL
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.ChatURL == "" {
		c.Backend.ChatURL = c.Backend.BaseURL + "/query"
	}
}

func (c config) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c config) handlers() handlers.Config {
	return handlers.Config{
		RevealInterval:    c.Chat.RevealInterval,
		HistorySize:       c.Chat.HistorySize,
		MaxSessions:       c.Chat.MaxSessions,
		MaxUploadBytes:    c.Upload.MaxBytes,
		MetadataCacheSize: c.Upload.MetadataCacheSize,
	}
}
