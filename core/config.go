package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all process-scoped configuration for the diffusion backend.
// It is built once at startup and passed explicitly to the components that
// need it; nothing reads configuration from ambient globals after startup.
type Config struct {
	// Host is the listen address for the HTTP server
	Host string `yaml:"host"`
	// Port is the listen port for the HTTP server
	Port int `yaml:"port"`

	// GenerateModelPath is the local model file for text-to-image.
	// Empty means the capability is served by the remote pipeline if an
	// OpenAI key is configured, otherwise reported as not loaded.
	GenerateModelPath string `yaml:"generate_model_path"`
	// InpaintModelPath is the local model file for inpainting/erasure
	InpaintModelPath string `yaml:"inpaint_model_path"`
	// SketchModelPath is the local model file for img2img sketch conversion
	SketchModelPath string `yaml:"sketch_model_path"`
	// ModelFamily selects the working resolution of the local models
	// ("sdxl" for 1024, "sd2" for 512)
	ModelFamily string `yaml:"model_family"`

	// OpenAIAPIKey enables the remote text-to-image pipeline when set
	OpenAIAPIKey string `yaml:"openai_api_key"`
	// OpenAIBaseURL overrides the OpenAI API endpoint
	OpenAIBaseURL string `yaml:"openai_base_url"`
	// OpenAIModel is the image model for the remote pipeline
	OpenAIModel string `yaml:"openai_model"`

	// HistoryDBPath is the SQLite file for generation history
	HistoryDBPath string `yaml:"history_db_path"`
	// MigrationsPath is the golang-migrate source URL for the history schema
	MigrationsPath string `yaml:"migrations_path"`

	// LogFilePath is where rotated log files are written
	LogFilePath string `yaml:"log_file_path"`
	// DevMode enables debug-level colored console logging
	DevMode bool `yaml:"dev_mode"`

	// MonitorInterval is the background resource-sampling period
	MonitorInterval time.Duration `yaml:"-"`
	// NvidiaSMIPath is the nvidia-smi executable used by the fallback
	// accelerator reader
	NvidiaSMIPath string `yaml:"nvidia_smi_path"`

	// APIKeyHash is a bcrypt hash of the bearer key required on POST
	// routes. Empty disables authentication.
	APIKeyHash string `yaml:"api_key_hash"`

	// AllowedOrigins are the CORS origins permitted to call the API
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds the graceful shutdown sequence
	ShutdownTimeout time.Duration `yaml:"-"`
}

// Default configuration values
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
	DefaultHistoryDBPath   = "data/history.db"
	DefaultMigrationsPath  = "file://history/migrations"
	DefaultLogFilePath     = "app.log"
	DefaultMonitorSeconds  = 10
	DefaultShutdownSeconds = 30
	DefaultNvidiaSMIPath   = "nvidia-smi"
	DefaultOpenAIModel     = "dall-e-3"
	DefaultModelFamily     = "sdxl"
)

// DefaultAllowedOrigins matches the frontend origins the service was
// originally deployed against.
func DefaultAllowedOrigins() []string {
	return []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
		"http://0.0.0.0:3000",
	}
}

// LoadConfig builds the process configuration.
//
// Sources, in increasing precedence:
//  1. built-in defaults
//  2. optional YAML file (SD_CONFIG_FILE, default "config.yaml" if present)
//  3. environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		HistoryDBPath:   DefaultHistoryDBPath,
		MigrationsPath:  DefaultMigrationsPath,
		LogFilePath:     DefaultLogFilePath,
		MonitorInterval: DefaultMonitorSeconds * time.Second,
		NvidiaSMIPath:   DefaultNvidiaSMIPath,
		ModelFamily:     DefaultModelFamily,
		OpenAIModel:     DefaultOpenAIModel,
		AllowedOrigins:  DefaultAllowedOrigins(),
		ShutdownTimeout: DefaultShutdownSeconds * time.Second,
	}

	if err := cfg.applyYAMLFile(GetEnvOrDefault("SD_CONFIG_FILE", "config.yaml")); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyYAMLFile overlays values from a YAML config file onto cfg.
// A missing file is not an error; a malformed file is.
func (c *Config) applyYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	// Durations are flat seconds in YAML
	var durations struct {
		MonitorSeconds  int `yaml:"monitor_interval_seconds"`
		ShutdownSeconds int `yaml:"shutdown_timeout_seconds"`
	}
	if err := yaml.Unmarshal(data, &durations); err == nil {
		if durations.MonitorSeconds > 0 {
			c.MonitorInterval = time.Duration(durations.MonitorSeconds) * time.Second
		}
		if durations.ShutdownSeconds > 0 {
			c.ShutdownTimeout = time.Duration(durations.ShutdownSeconds) * time.Second
		}
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func (c *Config) applyEnv() {
	c.Host = GetEnvOrDefault("SD_HOST", c.Host)
	c.Port = ParseIntEnv("SD_PORT", c.Port)
	c.GenerateModelPath = GetEnvOrDefault("SD_GENERATE_MODEL", c.GenerateModelPath)
	c.InpaintModelPath = GetEnvOrDefault("SD_INPAINT_MODEL", c.InpaintModelPath)
	c.SketchModelPath = GetEnvOrDefault("SD_SKETCH_MODEL", c.SketchModelPath)
	c.ModelFamily = GetEnvOrDefault("SD_MODEL_FAMILY", c.ModelFamily)
	c.OpenAIAPIKey = GetEnvOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = GetEnvOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = GetEnvOrDefault("OPENAI_IMAGE_MODEL", c.OpenAIModel)
	c.HistoryDBPath = GetEnvOrDefault("SD_HISTORY_DB", c.HistoryDBPath)
	c.MigrationsPath = GetEnvOrDefault("SD_MIGRATIONS_PATH", c.MigrationsPath)
	c.LogFilePath = GetEnvOrDefault("SD_LOG_FILE", c.LogFilePath)
	c.DevMode = ParseBoolEnv("DEV_MODE", c.DevMode)
	c.MonitorInterval = ParseDurationEnv("SD_MONITOR_INTERVAL_SECONDS", int(c.MonitorInterval/time.Second))
	c.NvidiaSMIPath = GetEnvOrDefault("SD_NVIDIA_SMI", c.NvidiaSMIPath)
	c.APIKeyHash = GetEnvOrDefault("SD_API_KEY_HASH", c.APIKeyHash)
	c.ShutdownTimeout = ParseDurationEnv("SD_SHUTDOWN_TIMEOUT_SECONDS", int(c.ShutdownTimeout/time.Second))
}

// Validate checks the configuration for values that would prevent startup.
// Model files are deliberately NOT required to exist here: startup load
// failures degrade the service instead of aborting it.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.MonitorInterval < time.Second {
		return fmt.Errorf("invalid monitor interval %s: must be at least 1s", c.MonitorInterval)
	}
	if c.HistoryDBPath == "" {
		return fmt.Errorf("history database path must not be empty")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HasLocalModel reports whether any local model path is configured.
func (c *Config) HasLocalModel() bool {
	return c.GenerateModelPath != "" || c.InpaintModelPath != "" || c.SketchModelPath != ""
}
