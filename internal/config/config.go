package config

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Reader          string                `yaml:"reader"`
	Exclusive       bool                  `yaml:"exclusive"`
	ChainBlockSize  int                   `yaml:"chain_block_size"`
	SecureMessaging SecureMessagingConfig `yaml:"secure_messaging"`
	Log             LogConfig             `yaml:"log"`
}

type SecureMessagingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TrustAnchors string `yaml:"trust_anchors"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var (
	logLevels = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	logFormats = []string{"text", "json"}
)

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ChainBlockSize:  255,
		SecureMessaging: SecureMessagingConfig{Enabled: true},
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/openpgp-card/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "openpgp-card", "config.yaml"), nil
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value, unknown keys are an error.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.SecureMessaging.TrustAnchors = resolvePath(filepath.Dir(path), cfg.SecureMessaging.TrustAnchors)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or the default path when path is empty. A
// missing default file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	def, err := DefaultPath()
	if err != nil {
		return Default(), nil
	}
	cfg, err := Load(def)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.ChainBlockSize < 1 || c.ChainBlockSize > 255 {
		return fmt.Errorf("config.chain_block_size must be within [1, 255], got %d", c.ChainBlockSize)
	}
	if _, ok := logLevels[strings.ToLower(c.Log.Level)]; !ok {
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("config.log.format must be text or json, got %q", c.Log.Format)
	}
	if c.SecureMessaging.TrustAnchors != "" {
		if _, err := c.TrustAnchorPool(); err != nil {
			return err
		}
	}
	return nil
}

// SlogLevel maps log.level, validated beforehand.
func (c *Config) SlogLevel() slog.Level {
	return logLevels[strings.ToLower(c.Log.Level)]
}

// TrustAnchorPool parses the PEM bundle named by secure_messaging.trust_anchors.
// It returns nil when none is configured.
func (c *Config) TrustAnchorPool() (*x509.CertPool, error) {
	path := c.SecureMessaging.TrustAnchors
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.secure_messaging.trust_anchors: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("config.secure_messaging.trust_anchors: no PEM certificate in %s", path)
	}
	return pool, nil
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}
