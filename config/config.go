// Package config loads the viber configuration from YAML and the environment.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/scenic-viber/viber/inference/providers"
	"github.com/scenic-viber/viber/logging"
	"github.com/scenic-viber/viber/models/postprocess"
)

// DefaultPath is read when no explicit config path is given and the file exists.
const DefaultPath = "viber.yaml"

// TokenEnv names the environment variable holding the Mapillary access token.
const TokenEnv = "MAPILLARY_TOKEN"

// Config is the main configuration.
type Config struct {
	Model     ModelConfig      `yaml:"model"`
	Provider  providers.Config `yaml:"provider"`
	Log       logging.Config   `yaml:"log"`
	Mapillary MapillaryConfig  `yaml:"mapillary"`
	Store     StoreConfig      `yaml:"store"`
	Render    RenderConfig     `yaml:"render"`
}

// ModelConfig selects the segmentation model.
type ModelConfig struct {
	Backbone   string                 `yaml:"backbone"`
	Path       string                 `yaml:"path"`
	Dir        string                 `yaml:"dir"`
	Task       string                 `yaml:"task"`
	InputSize  int                    `yaml:"input_size"`
	Thresholds postprocess.Thresholds `yaml:"thresholds"`
}

// MapillaryConfig configures the street imagery lookup.
type MapillaryConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Radius  float64       `yaml:"radius"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig configures the score record database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RenderConfig configures the overlay images.
type RenderConfig struct {
	OverlayDir string  `yaml:"overlay_dir"`
	Alpha      float64 `yaml:"alpha"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Backbone:   "swin-large",
			Dir:        "models",
			Task:       string(postprocess.TaskSemantic),
			Thresholds: postprocess.DefaultThresholds(),
		},
		Provider: providers.DefaultConfig(),
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
		Mapillary: MapillaryConfig{
			BaseURL: "https://graph.mapillary.com",
			Radius:  0.001,
			Timeout: 30 * time.Second,
		},
		Render: RenderConfig{
			Alpha: 0.5,
		},
	}
}

// Load reads the configuration.
//
// Values in the file override the defaults. An empty path reads DefaultPath
// when it exists. A .env file in the working directory is loaded into the
// environment first, and MAPILLARY_TOKEN fills the token when the file leaves
// it empty.
//
// Arguments:
//   - path: The YAML file, may be empty.
//
// Returns:
//   - *Config: The loaded configuration.
//   - error: An error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	if cfg.Mapillary.Token == "" {
		cfg.Mapillary.Token = os.Getenv(TokenEnv)
	}
	cfg.Model.Thresholds = cfg.Model.Thresholds.WithDefaults()

	return cfg, nil
}
