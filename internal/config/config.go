// Package config loads runtime settings from an optional YAML file and PAW_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pgainullin/pa-workflow/internal/retry"
)

// DefaultRunTimeout bounds a plan run when no positive timeout is configured.
const DefaultRunTimeout = 5 * time.Minute

// Config is the complete runtime configuration.
type Config struct {
	LLM         LLM         `yaml:"llm"`
	Retry       Retry       `yaml:"retry"`
	Batch       Batch       `yaml:"batch"`
	Executor    Executor    `yaml:"executor"`
	Search      Search      `yaml:"search"`
	Callback    Callback    `yaml:"callback"`
	Attachments Attachments `yaml:"attachments"`
	Log         Log         `yaml:"log"`
	// ArtifactsDir is where run results are written when saving is enabled.
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// LLM configures the OpenAI-compatible completion backend.
type LLM struct {
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	Temperature       float64 `yaml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Retry mirrors retry.Config in file form.
type Retry struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// Batch holds per-capability input ceilings in characters.
type Batch struct {
	ExtractMaxChars   int `yaml:"extract_max_chars"`
	TranslateMaxChars int `yaml:"translate_max_chars"`
	SummarizeMaxChars int `yaml:"summarize_max_chars"`
}

// Executor bounds one plan run.
type Executor struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Search configures the web search capability.
type Search struct {
	MaxResults int    `yaml:"max_results"`
	UserAgent  string `yaml:"user_agent"`
}

// Callback is where synthesized responses are delivered.
type Callback struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Attachments configures file lookup for attachments referenced by id.
type Attachments struct {
	Dir string `yaml:"dir"`
}

// Log configures zerolog output.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns working defaults for everything except credentials.
func DefaultConfig() *Config {
	r := retry.DefaultConfig()
	return &Config{
		LLM: LLM{
			Model:             "gpt-4o-mini",
			Temperature:       0.2,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Retry: Retry{
			MaxAttempts:   r.MaxAttempts,
			InitialDelay:  r.InitialDelay,
			MaxDelay:      r.MaxDelay,
			BackoffFactor: r.BackoffFactor,
		},
		Batch: Batch{
			ExtractMaxChars:   4000,
			TranslateMaxChars: 8000,
			SummarizeMaxChars: 12000,
		},
		Executor:     Executor{Timeout: DefaultRunTimeout},
		Search:       Search{MaxResults: 5},
		Callback:     Callback{Timeout: 30 * time.Second},
		Log:          Log{Level: "info", Format: "console"},
		ArtifactsDir: ".paworkflow",
	}
}

// Load reads path (when non-empty) over the defaults, then applies the
// environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overrides fields from PAW_* variables. OPENAI_API_KEY is
// honored when PAW_LLM_API_KEY is unset.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("PAW_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("PAW_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PAW_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("PAW_LLM_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PAW_LLM_RPS: %w", err)
		}
		c.LLM.RequestsPerSecond = f
	}
	if v := os.Getenv("PAW_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PAW_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.MaxAttempts = n
	}
	if v := os.Getenv("PAW_EXECUTOR_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PAW_EXECUTOR_TIMEOUT: %w", err)
		}
		c.Executor.Timeout = d
	}
	if v := os.Getenv("PAW_CALLBACK_URL"); v != "" {
		c.Callback.URL = v
	}
	if v := os.Getenv("PAW_CALLBACK_TOKEN"); v != "" {
		c.Callback.Token = v
	}
	if v := os.Getenv("PAW_ATTACHMENTS_DIR"); v != "" {
		c.Attachments.Dir = v
	}
	if v := os.Getenv("PAW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PAW_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

// RunTimeout returns the executor timeout, falling back to DefaultRunTimeout
// when the configured value is zero or negative.
func (c *Config) RunTimeout() time.Duration {
	if c.Executor.Timeout <= 0 {
		return DefaultRunTimeout
	}
	return c.Executor.Timeout
}

// RetryConfig converts the file form into a retry.Config.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   c.Retry.MaxAttempts,
		InitialDelay:  c.Retry.InitialDelay,
		MaxDelay:      c.Retry.MaxDelay,
		BackoffFactor: c.Retry.BackoffFactor,
	}
}
