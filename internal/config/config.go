package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"DeepResearch/internal/storage/mysql"
	"DeepResearch/pkg/logger"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath    = "DEEPRESEARCH_CONFIG"
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"
	EnvOllamaModel   = "OLLAMA_MODEL"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Browser   BrowserConfig   `yaml:"browser"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
	TaskQueue TaskQueueConfig `yaml:"task_queue"`
	Events    EventsConfig    `yaml:"events"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Log       logger.Config   `yaml:"log"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Address string `yaml:"address"`
	// MetricsAddress serves /metrics for the interactive and one-shot
	// commands, which have no API server. Empty disables it.
	MetricsAddress string `yaml:"metrics_address"`
}

// LLMConfig selects the language model backend.
type LLMConfig struct {
	// Provider is "ollama" (native API) or "openai" (any OpenAI-compatible endpoint).
	Provider         string        `yaml:"provider"`
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	APIKeyEnv        string        `yaml:"api_key_env"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxIterations    int           `yaml:"max_iterations"`
	ObservationLimit int           `yaml:"observation_limit"`
}

// APIKey reads the key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// BrowserConfig configures page fetching.
type BrowserConfig struct {
	// Driver is "rod" (headless Chromium) or "http" (plain GET).
	Driver            string        `yaml:"driver"`
	Headless          *bool         `yaml:"headless"`
	Bin               string        `yaml:"bin"`
	ControlURL        string        `yaml:"control_url"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	IdleWait          time.Duration `yaml:"idle_wait"`
	PreviewChars      int           `yaml:"preview_chars"`
}

// IsHeadless defaults to true.
func (c BrowserConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// PipelineConfig tunes stage execution.
type PipelineConfig struct {
	StageRetries int           `yaml:"stage_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// StorageConfig selects where reports and queued tasks are kept.
type StorageConfig struct {
	Reports StoreConfig `yaml:"reports"`
	Tasks   StoreConfig `yaml:"tasks"`
}

// StoreConfig is "memory" or "mysql".
type StoreConfig struct {
	Driver string       `yaml:"driver"`
	MySQL  mysql.Config `yaml:"mysql"`
}

// TaskQueueConfig configures asynchronous research runs.
type TaskQueueConfig struct {
	// Driver is "memory", "redis" or "rabbitmq".
	Driver     string         `yaml:"driver"`
	Workers    int            `yaml:"workers"`
	MaxRetries int            `yaml:"max_retries"`
	Buffer     int            `yaml:"buffer"`
	Redis      RedisConfig    `yaml:"redis"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RabbitMQConfig addresses a RabbitMQ queue.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

// EventsConfig configures mirroring of bus events to Redis.
type EventsConfig struct {
	Mirror MirrorConfig `yaml:"mirror"`
}

// MirrorConfig enables the Redis event mirror.
type MirrorConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
	Channel string      `yaml:"channel"`
}

// AlertingConfig configures failure notifications.
type AlertingConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RuntimeConfig holds process-wide paths.
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	cfg.applyEnv()
	return cfg
}

// Load reads path, or the file named by DEEPRESEARCH_CONFIG when path is
// empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return Default(), nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown drivers and providers.
func (c *Config) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unsupported value %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}
	check("llm.provider", c.LLM.Provider, "ollama", "openai")
	check("browser.driver", c.Browser.Driver, "rod", "http")
	check("storage.reports.driver", c.Storage.Reports.Driver, "memory", "mysql")
	check("storage.tasks.driver", c.Storage.Tasks.Driver, "memory", "mysql")
	check("task_queue.driver", c.TaskQueue.Driver, "memory", "redis", "rabbitmq")
	if c.Storage.Reports.Driver == "mysql" && strings.TrimSpace(c.Storage.Reports.MySQL.DSN) == "" {
		errs = append(errs, errors.New("storage.reports.mysql.dsn is required"))
	}
	if c.Storage.Tasks.Driver == "mysql" && strings.TrimSpace(c.Storage.Tasks.MySQL.DSN) == "" {
		errs = append(errs, errors.New("storage.tasks.mysql.dsn is required"))
	}
	if c.TaskQueue.Driver == "rabbitmq" && strings.TrimSpace(c.TaskQueue.RabbitMQ.URL) == "" {
		errs = append(errs, errors.New("task_queue.rabbitmq.url is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.BaseURL == "" {
		if c.LLM.Provider == "openai" {
			c.LLM.BaseURL = "https://api.openai.com/v1"
		} else {
			c.LLM.BaseURL = "http://localhost:11434"
		}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "deepseek-r1:8b"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 5 * time.Minute
	}
	if c.LLM.MaxIterations <= 0 {
		c.LLM.MaxIterations = 5
	}
	if c.LLM.ObservationLimit <= 0 {
		c.LLM.ObservationLimit = 8000
	}

	c.Browser.Driver = strings.ToLower(strings.TrimSpace(c.Browser.Driver))
	if c.Browser.Driver == "" {
		c.Browser.Driver = "rod"
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.IdleWait <= 0 {
		c.Browser.IdleWait = 500 * time.Millisecond
	}
	if c.Browser.PreviewChars <= 0 {
		c.Browser.PreviewChars = 500
	}

	if c.Pipeline.StageRetries < 0 {
		c.Pipeline.StageRetries = 0
	}
	if c.Pipeline.RetryBackoff <= 0 {
		c.Pipeline.RetryBackoff = 2 * time.Second
	}

	if c.Storage.Reports.Driver == "" {
		c.Storage.Reports.Driver = "memory"
	}
	if c.Storage.Tasks.Driver == "" {
		c.Storage.Tasks.Driver = "memory"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 1
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 64
	}
	if c.TaskQueue.Redis.Address == "" {
		c.TaskQueue.Redis.Address = "127.0.0.1:6379"
	}
	if c.TaskQueue.Redis.Key == "" {
		c.TaskQueue.Redis.Key = "deepresearch:tasks"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "deepresearch.tasks"
	}
	if c.TaskQueue.RabbitMQ.Prefetch <= 0 {
		c.TaskQueue.RabbitMQ.Prefetch = c.TaskQueue.Workers
	}

	if c.Events.Mirror.Redis.Address == "" {
		c.Events.Mirror.Redis.Address = c.TaskQueue.Redis.Address
	}
	if c.Events.Mirror.Channel == "" {
		c.Events.Mirror.Channel = "deepresearch:events"
	}

	if c.Alerting.Timeout <= 0 {
		c.Alerting.Timeout = 5 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func (c *Config) applyEnv() {
	if c.LLM.Provider != "ollama" {
		return
	}
	if v := strings.TrimSpace(os.Getenv(EnvOllamaBaseURL)); v != "" {
		c.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOllamaModel)); v != "" {
		c.LLM.Model = v
	}
}
