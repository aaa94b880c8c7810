// Package config holds client configuration for the Neuroscout API:
// the server base URL and optional credentials. Configuration can come from
// a YAML file, from the environment, or be assembled in code.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultAPIBase is the public Neuroscout API root.
const DefaultAPIBase = "https://neuroscout.org/api"

// DefaultConfigFile is the default name of the config file.
const DefaultConfigFile = "config.yaml"

// Environment variables consulted when credentials are not set explicitly.
const (
	EnvEmail    = "NEUROSCOUT_EMAIL"
	EnvPassword = "NEUROSCOUT_PASSWORD"
	EnvAPIBase  = "NEUROSCOUT_API_BASE"
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Config represents the client configuration. Credentials are optional;
// without them the client operates unauthenticated.
type Config struct {
	// APIBase is the root URL of the Neuroscout API.
	APIBase string `yaml:"api_base" validate:"required,url"`
	// Email is the account email used for authentication.
	Email string `yaml:"email" validate:"omitempty,email"`
	// Password is the account password (stored for re-authentication).
	Password string `yaml:"password"`
}

// Default returns a configuration pointing at the public API with
// credentials sourced from the environment, if present.
func Default() *Config {
	c := &Config{APIBase: DefaultAPIBase}
	c.FillFromEnv()
	return c
}

// FillFromEnv populates unset fields from the process environment. A .env
// file in the working directory is loaded first when present, matching how
// the CLI resolves credentials.
func (cfg *Config) FillFromEnv() {
	_ = godotenv.Load() // no error if .env doesn't exist

	if cfg.Email == "" {
		cfg.Email = os.Getenv(EnvEmail)
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv(EnvPassword)
	}
	if base := os.Getenv(EnvAPIBase); base != "" && cfg.APIBase == DefaultAPIBase {
		cfg.APIBase = MorphServer(base)
	}
}

// Validate checks the configuration for required fields and formatting.
func (cfg *Config) Validate() error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// GetDefaultConfigPath returns the default path for the config file,
// using the OS-specific config directory (e.g. ~/.config/neuroscout on Linux).
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "neuroscout", DefaultConfigFile), nil
}

// LoadConfig loads a configuration from the specified file.
// If file is empty, the default config location is used. Fields not present
// in the file fall back to the environment.
func LoadConfig(file string) (*Config, error) {
	if file == "" {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	yamlStr, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	var c Config
	if err = yaml.Unmarshal(yamlStr, &c); err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	c.APIBase = MorphServer(c.APIBase)
	c.FillFromEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteConfig writes the configuration to the specified file, creating the
// parent directory when needed.
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		return errors.New("file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(file), os.ModePerm); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}

	if err := os.WriteFile(file, yamlStr, os.FileMode(0600)); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}

	return nil
}

// MorphServer normalizes a server URL: trailing slashes are removed and a
// https:// prefix is added when no protocol is specified.
func MorphServer(server string) string {
	if server == "" {
		return server
	}

	server = strings.TrimRight(server, "/")

	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "https://" + server
	}

	return server
}
