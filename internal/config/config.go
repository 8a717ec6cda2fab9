package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/vit-tracker/pkg/tracker"
)

// Config holds the application configuration
type Config struct {
	Tracker tracker.Config `json:"tracker"`
	Model   ModelConfig    `json:"model"`
	Locate  LocateConfig   `json:"locate"`
	Output  OutputConfig   `json:"output"`
	Store   StoreConfig    `json:"store"`
	Server  ServerConfig   `json:"server"`
}

// ModelConfig selects and configures the inference backend
type ModelConfig struct {
	// Backend is "worker" or "opencv"
	Backend       string   `json:"backend"`
	WorkerCommand []string `json:"worker_command"`
	ONNXPath      string   `json:"onnx_path"`
	CUDA          bool     `json:"cuda"`
}

// LocateConfig configures the vision model that finds the initial box
type LocateConfig struct {
	// Backend is "ollama", "llamacpp" or "saliency" (offline, no model)
	Backend       string  `json:"backend"`
	URL           string  `json:"url"`
	Model         string  `json:"model"`
	MaxDim        int     `json:"max_dim"`
	Quality       int     `json:"quality"`
	MinConfidence float64 `json:"min_confidence"`
}

// OutputConfig holds configuration for overlay frames and reports
type OutputConfig struct {
	OverlayDir string `json:"overlay_dir"`
	Format     string `json:"format"`
	Quality    int    `json:"quality"`
	Prefix     string `json:"prefix"`
	Suffix     string `json:"suffix"`
	RawLogDir  string `json:"rawlog_dir"`
	ReportPath string `json:"report_path"`
}

// StoreConfig selects where per-frame results are recorded
type StoreConfig struct {
	// Driver is "", "sqlite" or "postgres"
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// ServerConfig configures the live result stream
type ServerConfig struct {
	Addr string `json:"addr"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Tracker: tracker.DefaultConfig(),
		Model: ModelConfig{
			Backend:       "worker",
			WorkerCommand: []string{"python3", "-u", "scripts/worker.py"},
			ONNXPath:      "object_tracking_vittrack_2023sep.onnx",
		},
		Locate: LocateConfig{
			Backend:       "ollama",
			URL:           "http://localhost:11434",
			Model:         "llava",
			MaxDim:        1024,
			Quality:       85,
			MinConfidence: 0.2,
		},
		Output: OutputConfig{
			Format:  "jpg",
			Quality: 90,
			Suffix:  "_tracked",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}

	switch c.Model.Backend {
	case "worker":
		if len(c.Model.WorkerCommand) == 0 {
			return fmt.Errorf("model.worker_command cannot be empty")
		}
	case "opencv":
		if c.Model.ONNXPath == "" {
			return fmt.Errorf("model.onnx_path cannot be empty")
		}
	default:
		return fmt.Errorf("model.backend must be worker or opencv, got %q", c.Model.Backend)
	}

	switch c.Locate.Backend {
	case "ollama", "llamacpp", "saliency":
	default:
		return fmt.Errorf("locate.backend must be ollama, llamacpp or saliency, got %q", c.Locate.Backend)
	}
	if c.Locate.MinConfidence < 0 || c.Locate.MinConfidence > 1 {
		return fmt.Errorf("locate.min_confidence must be between 0 and 1")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}
	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpg, png or webp, got %q", c.Output.Format)
	}

	switch c.Store.Driver {
	case "":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "vit-tracker", "config.json")
}
