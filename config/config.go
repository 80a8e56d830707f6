// Package config loads server settings from defaults, an optional YAML
// file, a .env file and the environment, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen   string  `yaml:"listen"`
	LogLevel string  `yaml:"log_level"`
	Storage  Storage `yaml:"storage"`
	Fetch    Fetch   `yaml:"fetch"`
	Editor   Editor  `yaml:"editor"`
	Auth     Auth    `yaml:"auth"`
}

type Storage struct {
	// Type is one of memory, filesystem, sqlite or s3.
	Type           string `yaml:"type"`
	LocalPath      string `yaml:"local_path"`
	DataSourceName string `yaml:"data_source_name"`
	S3Bucket       string `yaml:"s3_bucket"`
}

type Fetch struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
	Retries  uint          `yaml:"retries"`
	// FileRoot enables file:// backgrounds below this directory.
	FileRoot string `yaml:"file_root"`
	// S3 enables s3:// backgrounds using the default AWS credentials.
	S3 bool `yaml:"s3"`
}

type Editor struct {
	UndoLimit        int           `yaml:"undo_limit"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}

type Auth struct {
	// JWTSecret enables bearer authentication of mutating routes.
	JWTSecret string `yaml:"jwt_secret"`
}

func Default() *Config {
	return &Config{
		Listen:   ":3002",
		LogLevel: "info",
		Storage: Storage{
			Type: "memory",
		},
		Fetch: Fetch{
			Timeout:  30 * time.Second,
			MaxBytes: 32 << 20,
			Retries:  3,
		},
	}
}

// Load builds the configuration. path may be empty. Variables from a .env
// file in the working directory are applied unless already set in the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strVars := map[string]*string{
		"LISTEN":             &cfg.Listen,
		"LOG_LEVEL":          &cfg.LogLevel,
		"STORAGE_TYPE":       &cfg.Storage.Type,
		"LOCAL_STORAGE_PATH": &cfg.Storage.LocalPath,
		"DATA_SOURCE_NAME":   &cfg.Storage.DataSourceName,
		"S3_BUCKET_NAME":     &cfg.Storage.S3Bucket,
		"FILE_FETCH_ROOT":    &cfg.Fetch.FileRoot,
		"JWT_SECRET":         &cfg.Auth.JWTSecret,
	}
	for name, dst := range strVars {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FETCH_TIMEOUT: %w", err)
		}
		cfg.Fetch.Timeout = d
	}
	if v, ok := os.LookupEnv("FETCH_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FETCH_MAX_BYTES: %w", err)
		}
		cfg.Fetch.MaxBytes = n
	}
	if v, ok := os.LookupEnv("FETCH_RETRIES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("FETCH_RETRIES: %w", err)
		}
		cfg.Fetch.Retries = uint(n)
	}
	if v, ok := os.LookupEnv("FETCH_S3"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FETCH_S3: %w", err)
		}
		cfg.Fetch.S3 = b
	}
	if v, ok := os.LookupEnv("UNDO_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UNDO_LIMIT: %w", err)
		}
		cfg.Editor.UndoLimit = n
	}
	if v, ok := os.LookupEnv("AUTOSAVE_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AUTOSAVE_INTERVAL: %w", err)
		}
		cfg.Editor.AutosaveInterval = d
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "", "memory":
		c.Storage.Type = "memory"
	case "filesystem":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("config: filesystem storage requires LOCAL_STORAGE_PATH")
		}
	case "sqlite":
		if c.Storage.DataSourceName == "" {
			return fmt.Errorf("config: sqlite storage requires DATA_SOURCE_NAME")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("config: s3 storage requires S3_BUCKET_NAME")
		}
	default:
		return fmt.Errorf("config: unknown storage type %q", c.Storage.Type)
	}

	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("config: fetch timeout must be positive")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("config: fetch max bytes must be positive")
	}
	if c.Editor.UndoLimit < 0 {
		return fmt.Errorf("config: undo limit must not be negative")
	}
	if c.Editor.AutosaveInterval < 0 {
		return fmt.Errorf("config: autosave interval must not be negative")
	}
	return nil
}
