package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	JobStartLimit   int           `yaml:"job_start_limit"` // per account per window; needs redis
	JobStartWindow  time.Duration `yaml:"job_start_window"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | memory
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	OpenAIKey       string            `yaml:"openai_key"`
	OpenAIBaseURL   string            `yaml:"openai_base_url"`
	GeminiKey       string            `yaml:"gemini_key"`
	GeminiURL       string            `yaml:"gemini_url"`
	DefaultModel    string            `yaml:"default_model"`
	DefaultProvider string            `yaml:"default_provider"`
	ModelProviders  map[string]string `yaml:"model_providers"`  // model -> provider
	ConcurrentLimit int               `yaml:"concurrent_limit"` // max concurrent AI calls
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	CallTimeout     time.Duration     `yaml:"call_timeout"` // per work item
}

type BatchConfig struct {
	DefaultSize      int           `yaml:"default_size"`
	MaxSize          int           `yaml:"max_size"`
	InterBatchDelay  time.Duration `yaml:"inter_batch_delay"`
	ErrorLogCap      int           `yaml:"error_log_cap"`
	FailWhenAllFail  bool          `yaml:"fail_when_all_items_fail"`
	BacklogPageLimit int           `yaml:"backlog_page_limit"`
}

// PricingConfig is the credit cost of one generated item per content kind.
type PricingConfig struct {
	Article    int64 `yaml:"article"`
	SocialPost int64 `yaml:"social_post"`
	Video      int64 `yaml:"video"`
}

type StorageConfig struct {
	Backend   string `yaml:"backend"` // minio | memory
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type PublishConfig struct {
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
}

type SchedulerConfig struct {
	BacklogCron      string `yaml:"backlog_cron"` // empty disables the sweeper
	BacklogAccountID string `yaml:"backlog_account_id"`
}

type SecurityConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AI        AIConfig        `yaml:"ai"`
	Batch     BatchConfig     `yaml:"batch"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Storage   StorageConfig   `yaml:"storage"`
	Publish   PublishConfig   `yaml:"publish"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.JobStartLimit <= 0 {
		cfg.HTTP.JobStartLimit = 30
	}
	if cfg.HTTP.JobStartWindow <= 0 {
		cfg.HTTP.JobStartWindow = time.Minute
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "openai"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 2048
	}
	if cfg.AI.CallTimeout <= 0 {
		cfg.AI.CallTimeout = 2 * time.Minute
	}

	if cfg.Batch.DefaultSize <= 0 {
		cfg.Batch.DefaultSize = 20
	}
	if cfg.Batch.MaxSize <= 0 {
		cfg.Batch.MaxSize = 100
	}
	if cfg.Batch.InterBatchDelay < 0 {
		cfg.Batch.InterBatchDelay = 0
	}
	if cfg.Batch.ErrorLogCap <= 0 {
		cfg.Batch.ErrorLogCap = 50
	}
	if cfg.Batch.BacklogPageLimit <= 0 {
		cfg.Batch.BacklogPageLimit = 200
	}

	if cfg.Pricing.Article <= 0 {
		cfg.Pricing.Article = 5
	}
	if cfg.Pricing.SocialPost <= 0 {
		cfg.Pricing.SocialPost = 1
	}
	if cfg.Pricing.Video <= 0 {
		cfg.Pricing.Video = 20
	}

	if cfg.Security.TokenTTL <= 0 {
		cfg.Security.TokenTTL = 24 * time.Hour
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "content-artifacts"
	}
}

func (cfg *Config) validate() error {
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver %q not supported", cfg.Database.Driver)
	}
	if cfg.Batch.DefaultSize > cfg.Batch.MaxSize {
		return errors.New("batch.default_size must not exceed batch.max_size")
	}
	if cfg.Storage.Backend == "minio" && cfg.Storage.Endpoint == "" {
		return errors.New("storage.endpoint is required for minio backend")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
