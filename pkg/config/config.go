// Package config loads pipeline configuration from a YAML file with
// sensible defaults and environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the reasoning component client.
type LLMConfig struct {
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// BrowserConfig configures the browser-automation collaborator.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	Timeout        time.Duration `yaml:"timeout"`
	EvidenceDir    string        `yaml:"evidence_dir"`
	RecordVideo    bool          `yaml:"record_video"`
}

// ExtractConfig configures page-model extraction.
type ExtractConfig struct {
	Mode          string  `yaml:"mode"` // dom, screenshot, hybrid
	MaxDepth      int     `yaml:"max_depth"`
	IncludeHidden bool    `yaml:"include_hidden"`
	IoUThreshold  float64 `yaml:"iou_threshold"`
}

// ExploreConfig bounds the exploration agent.
type ExploreConfig struct {
	MaxSteps     int      `yaml:"max_steps"`
	MaxDepth     int      `yaml:"max_depth"`
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
	AnalyzePages bool     `yaml:"analyze_pages"`
}

// SelfCorrectConfig bounds the self-correction loop.
type SelfCorrectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// Config is the full pipeline configuration.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Browser     BrowserConfig     `yaml:"browser"`
	Extract     ExtractConfig     `yaml:"extract"`
	Explore     ExploreConfig     `yaml:"explore"`
	SelfCorrect SelfCorrectConfig `yaml:"self_correct"`
	StorePath   string            `yaml:"store_path"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			Timeout:        30 * time.Second,
			EvidenceDir:    "evidence",
		},
		Extract: ExtractConfig{
			Mode:         "hybrid",
			MaxDepth:     25,
			IoUThreshold: 0.8,
		},
		Explore: ExploreConfig{
			MaxSteps:     20,
			MaxDepth:     3,
			AnalyzePages: true,
		},
		SelfCorrect: SelfCorrectConfig{
			MaxAttempts: 3,
			StepTimeout: 10 * time.Second,
		},
		StorePath: "sessions.db",
	}
}

// Load reads configuration from a YAML file, applies defaults for unset
// fields, and resolves the API key from the environment when the file
// does not carry one.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv resolves secrets and overrides from the environment. Secrets
// never belong in the YAML file in normal use.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = v
	}
}

// Validate checks config invariants that would otherwise fail deep inside
// the pipeline.
func (c *Config) Validate() error {
	switch c.Extract.Mode {
	case "dom", "screenshot", "hybrid":
	default:
		return fmt.Errorf("unknown extraction mode %q", c.Extract.Mode)
	}
	if c.Extract.IoUThreshold <= 0 || c.Extract.IoUThreshold > 1 {
		return fmt.Errorf("iou_threshold must be in (0, 1], got %v", c.Extract.IoUThreshold)
	}
	if c.SelfCorrect.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.SelfCorrect.MaxAttempts)
	}
	if c.Explore.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.Explore.MaxSteps)
	}
	return nil
}
