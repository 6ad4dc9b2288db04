// Package config loads the assistant's YAML configuration with
// environment expansion, .env support, defaults, and live reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Search    SearchConfig    `yaml:"search"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AgentConfig tunes the supervisor loop.
type AgentConfig struct {
	MaxSteps      int               `yaml:"max_steps"`
	RetryAttempts int               `yaml:"retry_attempts"`
	RetryDelay    time.Duration     `yaml:"retry_delay"`
	Personality   PersonalityConfig `yaml:"personality"`
}

type PersonalityConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Traits      []string `yaml:"traits"`
}

// LLMProviderConfig describes one upstream model endpoint.
type LLMProviderConfig struct {
	Provider    string  `yaml:"provider"` // openai, anthropic, ollama
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type LLMConfig struct {
	Primary  LLMProviderConfig  `yaml:"primary"`
	Backup   *LLMProviderConfig `yaml:"backup"`
	Failover FailoverConfig     `yaml:"failover"`
}

type FailoverConfig struct {
	Strategy         string `yaml:"strategy"` // fail_fast, fallback_once, always_fallback
	CircuitThreshold int    `yaml:"circuit_threshold"`
}

type MemoryConfig struct {
	DBPath      string                `yaml:"db_path"`
	FallbackDir string                `yaml:"fallback_dir"`
	Working     WorkingMemoryConfig   `yaml:"working"`
	Retrieval   RetrievalConfig       `yaml:"retrieval"`
	Consolidate AutoConsolidateConfig `yaml:"auto_consolidate"`
}

type WorkingMemoryConfig struct {
	MaxMessages int `yaml:"max_messages"`
	MaxTokens   int `yaml:"max_tokens"`
	KeepRecent  int `yaml:"keep_recent"`
}

type RetrievalConfig struct {
	TokenBudget int `yaml:"token_budget"`
	TopK        int `yaml:"top_k"`
}

type AutoConsolidateConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type TasksConfig struct {
	Path string `yaml:"path"`
}

type SearchConfig struct {
	Backend            string `yaml:"backend"` // duckduckgo, searxng
	SearXNGURL         string `yaml:"searxng_url"`
	DefaultResultCount int    `yaml:"default_result_count"`
	CacheTTL           int    `yaml:"cache_ttl"`
}

type SchedulerConfig struct {
	Enabled     bool              `yaml:"enabled"`
	DailyReport DailyReportConfig `yaml:"daily_report"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
}

type DailyReportConfig struct {
	Enabled bool `yaml:"enabled"`
	Hour    int  `yaml:"hour"`
	Minute  int  `yaml:"minute"`
}

type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// Load reads the config file, expanding ${VAR} references from the
// environment (a .env file beside the config is honored first). A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 10
	}
	if cfg.Agent.RetryAttempts == 0 {
		cfg.Agent.RetryAttempts = 3
	}
	if cfg.Agent.RetryDelay == 0 {
		cfg.Agent.RetryDelay = time.Second
	}
	if cfg.LLM.Primary.Provider == "" {
		cfg.LLM.Primary.Provider = "openai"
	}
	if cfg.LLM.Primary.MaxTokens == 0 {
		cfg.LLM.Primary.MaxTokens = 2048
	}
	if cfg.LLM.Failover.Strategy == "" {
		cfg.LLM.Failover.Strategy = "fallback_once"
	}
	if cfg.LLM.Failover.CircuitThreshold == 0 {
		cfg.LLM.Failover.CircuitThreshold = 3
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(cfg.DataDir, "memory.db")
	}
	if cfg.Memory.FallbackDir == "" {
		cfg.Memory.FallbackDir = filepath.Join(cfg.DataDir, "memory_fallback")
	}
	if cfg.Memory.Working.MaxMessages == 0 {
		cfg.Memory.Working.MaxMessages = 50
	}
	if cfg.Memory.Working.MaxTokens == 0 {
		cfg.Memory.Working.MaxTokens = 4000
	}
	if cfg.Memory.Working.KeepRecent == 0 {
		cfg.Memory.Working.KeepRecent = 5
	}
	if cfg.Memory.Retrieval.TokenBudget == 0 {
		cfg.Memory.Retrieval.TokenBudget = 500
	}
	if cfg.Memory.Retrieval.TopK == 0 {
		cfg.Memory.Retrieval.TopK = 5
	}
	if cfg.Memory.Consolidate.Interval == 0 {
		cfg.Memory.Consolidate.Interval = time.Hour
	}
	if cfg.Tasks.Path == "" {
		cfg.Tasks.Path = filepath.Join(cfg.DataDir, "tasks.jsonl")
	}
	if cfg.Search.Backend == "" {
		if cfg.Search.SearXNGURL != "" {
			cfg.Search.Backend = "searxng"
		} else {
			cfg.Search.Backend = "duckduckgo"
		}
	}
	if cfg.Search.DefaultResultCount == 0 {
		cfg.Search.DefaultResultCount = 5
	}
	if cfg.Search.CacheTTL == 0 {
		cfg.Search.CacheTTL = 300
	}
	if cfg.Scheduler.DailyReport.Hour == 0 && cfg.Scheduler.DailyReport.Minute == 0 {
		cfg.Scheduler.DailyReport.Hour = 23
	}
	if cfg.Scheduler.Heartbeat.Interval == 0 {
		cfg.Scheduler.Heartbeat.Interval = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	switch cfg.LLM.Primary.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unknown llm provider: %q", cfg.LLM.Primary.Provider)
	}
	if cfg.LLM.Backup != nil {
		switch cfg.LLM.Backup.Provider {
		case "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("unknown backup llm provider: %q", cfg.LLM.Backup.Provider)
		}
	}
	switch cfg.LLM.Failover.Strategy {
	case "fail_fast", "fallback_once", "always_fallback":
	default:
		return fmt.Errorf("unknown failover strategy: %q", cfg.LLM.Failover.Strategy)
	}
	switch cfg.Search.Backend {
	case "duckduckgo", "searxng":
	default:
		return fmt.Errorf("unknown search backend: %q", cfg.Search.Backend)
	}
	return nil
}
