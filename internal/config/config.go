// Package config holds the configuration of the execution engine.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"github.com/inoxlang/lenivm/internal/vmlog"

	_ "embed"
)

const (
	APP_NAME = "lenivm"

	CONFIG_FILE_NAME    = "config.yaml"
	CONFIG_FILE_RELPATH = APP_NAME + "/" + CONFIG_FILE_NAME
	CONFIG_FILE_PERM    = 0o600

	DEFAULT_FAILURE_CONTEXT_POOL_CAPACITY = 32
	DEFAULT_MAX_FRAMES                    = 1000
)

var (
	//go:embed default_config.yaml
	DEFAULT_CONFIG_FILE_CONTENT string

	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	// FailureContextPoolCapacity is the number of finished failure contexts kept for reuse,
	// 0 disables reuse.
	FailureContextPoolCapacity int
	InlineCaching              bool
	TraceExecution             bool
	MaxFrames                  int
	LogLevel                   zerolog.Level
}

// fileConfig is the YAML representation of Config, absent keys keep their default.
type fileConfig struct {
	FailureContextPoolCapacity *int    `yaml:"failure-context-pool-capacity"`
	InlineCaching              *bool   `yaml:"inline-caching"`
	TraceExecution             *bool   `yaml:"trace-execution"`
	MaxFrames                  *int    `yaml:"max-frames"`
	LogLevel                   *string `yaml:"log-level"`
}

func Default() Config {
	return Config{
		FailureContextPoolCapacity: DEFAULT_FAILURE_CONTEXT_POOL_CAPACITY,
		InlineCaching:              true,
		MaxFrames:                  DEFAULT_MAX_FRAMES,
		LogLevel:                   zerolog.InfoLevel,
	}
}

// Parse decodes a YAML configuration, unknown keys are an error.
func Parse(data []byte) (Config, error) {
	config := Default()

	var file fileConfig
	if err := yaml.UnmarshalWithOptions(data, &file, yaml.DisallowUnknownField()); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if file.FailureContextPoolCapacity != nil {
		config.FailureContextPoolCapacity = *file.FailureContextPoolCapacity
	}
	if file.InlineCaching != nil {
		config.InlineCaching = *file.InlineCaching
	}
	if file.TraceExecution != nil {
		config.TraceExecution = *file.TraceExecution
	}
	if file.MaxFrames != nil {
		config.MaxFrames = *file.MaxFrames
	}
	if file.LogLevel != nil {
		level, err := vmlog.ParseLevel(*file.LogLevel)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		config.LogLevel = level
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if c.FailureContextPoolCapacity < 0 {
		return fmt.Errorf("%w: negative failure context pool capacity", ErrInvalidConfig)
	}
	if c.MaxFrames <= 0 {
		return fmt.Errorf("%w: max-frames should be positive", ErrInvalidConfig)
	}
	return nil
}

// Load reads and decodes the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	config, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// SearchFile searches for the configuration file in the XDG configuration directories,
// creates it with the default content if it does not exist and returns its path.
func SearchFile() (string, error) {
	path, err := xdg.SearchConfigFile(CONFIG_FILE_RELPATH)
	if err != nil {
		path, err = xdg.ConfigFile(CONFIG_FILE_RELPATH)
		if err != nil {
			return "", err
		}

		if err := os.WriteFile(path, []byte(DEFAULT_CONFIG_FILE_CONTENT), CONFIG_FILE_PERM); err != nil {
			return "", err
		}
	}

	return path, nil
}

// LoadUserConfig loads the configuration file found by SearchFile.
func LoadUserConfig() (Config, error) {
	path, err := SearchFile()
	if err != nil {
		return Config{}, err
	}
	return Load(path)
}
