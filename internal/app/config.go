package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alouette-a11y/alouette/internal/archive"
	"github.com/alouette-a11y/alouette/internal/browser"
	"github.com/alouette-a11y/alouette/internal/crawler"
	"github.com/alouette-a11y/alouette/internal/mailer"
	"github.com/alouette-a11y/alouette/internal/queue"
	"github.com/alouette-a11y/alouette/internal/report"
	"github.com/alouette-a11y/alouette/internal/store"
	"github.com/alouette-a11y/alouette/internal/webclient"
)

// Config is the whole runtime configuration. Sections mirror the packages
// they feed.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Server    ServerConfig     `yaml:"server"`
	Store     store.Config     `yaml:"store"`
	Queue     QueueConfig      `yaml:"queue"`
	Worker    WorkerConfig     `yaml:"worker"`
	Crawler   crawler.Config   `yaml:"crawler"`
	Browser   browser.Config   `yaml:"browser"`
	Rules     RulesConfig      `yaml:"rules"`
	Narrative NarrativeConfig  `yaml:"narrative"`
	SMTP      mailer.Config    `yaml:"smtp"`
	Archive   archive.Config   `yaml:"archive"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	WebClient webclient.Config `yaml:"webclient"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`

	// APIToken guards the full-report trigger. Empty disables the check.
	APIToken string `yaml:"api_token"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

type QueueConfig struct {
	// Backend is "memory" or "redis".
	Backend  string            `yaml:"backend"`
	Redis    queue.RedisConfig `yaml:"redis"`
	DedupTTL time.Duration     `yaml:"dedup_ttl"`
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`

	// MaxAttempts bounds how often a job body runs before the scan is failed.
	MaxAttempts          int           `yaml:"max_attempts"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
}

type RulesConfig struct {
	// AxeScript is a local path or an http(s) URL to axe.min.js.
	AxeScript      string        `yaml:"axe_script"`
	Timeout        time.Duration `yaml:"timeout"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

type NarrativeConfig struct {
	// Enabled turns on the LLM narrator; it also needs an API key.
	Enabled bool             `yaml:"enabled"`
	LLM     report.LLMConfig `yaml:"llm"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: store.DefaultConfig(),
		Queue: QueueConfig{
			Backend:  "memory",
			Redis:    queue.DefaultRedisConfig(),
			DedupTTL: queue.DefaultDedupTTL,
		},
		Worker: WorkerConfig{
			Concurrency:          2,
			MaxAttempts:          3,
			RetryInitialInterval: 5 * time.Second,
			RetryMaxInterval:     time.Minute,
		},
		Crawler: crawler.DefaultConfig(),
		Browser: browser.DefaultConfig(),
		Rules: RulesConfig{
			AxeScript:      "https://cdn.jsdelivr.net/npm/axe-core@4.10.2/axe.min.js",
			Timeout:        30 * time.Second,
			CaptureTimeout: 10 * time.Second,
		},
		Narrative: NarrativeConfig{
			Enabled: true,
			LLM:     report.DefaultLLMConfig(),
		},
		SMTP:    mailer.DefaultConfig(),
		Archive: archive.DefaultConfig(),
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Interval: time.Hour,
		},
		WebClient: webclient.Config{
			Timeout:   30 * time.Second,
			UserAgent: "AlouetteBot/1.0 (+https://alouette-a11y.fr)",
		},
	}
}

// LoadConfig layers the defaults, the YAML file at path (optional), the
// given .env files (missing ones are ignored) and ALOUETTE_* variables.
// Variables already set in the environment win over .env files.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envBinding ties one environment variable to a config field.
type envBinding struct {
	name string
	set  func(string) error
}

func envString(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func envInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func envBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func (c *Config) envBindings() []envBinding {
	return []envBinding{
		{"ALOUETTE_LOG_LEVEL", envString(&c.LogLevel)},
		{"ALOUETTE_SERVER_ADDR", envString(&c.Server.Addr)},
		{"ALOUETTE_API_TOKEN", envString(&c.Server.APIToken)},
		{"ALOUETTE_DATABASE_DRIVER", envString(&c.Store.Driver)},
		{"ALOUETTE_DATABASE_DSN", envString(&c.Store.DSN)},
		{"ALOUETTE_QUEUE_BACKEND", envString(&c.Queue.Backend)},
		{"ALOUETTE_REDIS_URL", envString(&c.Queue.Redis.URL)},
		{"ALOUETTE_WORKER_ID", envString(&c.Queue.Redis.Consumer)},
		{"ALOUETTE_WORKER_CONCURRENCY", envInt(&c.Worker.Concurrency)},
		{"ALOUETTE_WORKER_MAX_ATTEMPTS", envInt(&c.Worker.MaxAttempts)},
		{"ALOUETTE_CHROME_PATH", envString(&c.Browser.ExecPath)},
		{"ALOUETTE_AXE_SCRIPT", envString(&c.Rules.AxeScript)},
		{"ALOUETTE_NARRATIVE_ENABLED", envBool(&c.Narrative.Enabled)},
		{"ALOUETTE_OPENROUTER_API_KEY", envString(&c.Narrative.LLM.APIKey)},
		{"ALOUETTE_LLM_MODEL", envString(&c.Narrative.LLM.Model)},
		{"ALOUETTE_SMTP_HOST", envString(&c.SMTP.Host)},
		{"ALOUETTE_SMTP_PORT", envInt(&c.SMTP.Port)},
		{"ALOUETTE_SMTP_USER", envString(&c.SMTP.Username)},
		{"ALOUETTE_SMTP_PASSWORD", envString(&c.SMTP.Password)},
		{"ALOUETTE_SMTP_FROM", envString(&c.SMTP.From)},
		{"ALOUETTE_DASHBOARD_URL", envString(&c.SMTP.DashboardURL)},
		{"ALOUETTE_ARCHIVE_BACKEND", envString(&c.Archive.Backend)},
		{"ALOUETTE_ARCHIVE_DIR", envString(&c.Archive.Dir)},
		{"ALOUETTE_S3_ENDPOINT", envString(&c.Archive.Endpoint)},
		{"ALOUETTE_S3_ACCESS_KEY", envString(&c.Archive.AccessKey)},
		{"ALOUETTE_S3_SECRET_KEY", envString(&c.Archive.SecretKey)},
		{"ALOUETTE_S3_BUCKET", envString(&c.Archive.Bucket)},
		{"ALOUETTE_S3_REGION", envString(&c.Archive.Region)},
		{"ALOUETTE_S3_USE_SSL", envBool(&c.Archive.UseSSL)},
		{"ALOUETTE_SCHEDULER_ENABLED", envBool(&c.Scheduler.Enabled)},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.envBindings() {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(v); err != nil {
			return fmt.Errorf("invalid %s: %w", b.name, err)
		}
	}
	return nil
}

// Validate rejects settings the runtime cannot start with.
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Store.Driver)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker max attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if c.Queue.DedupTTL > 0 && c.Queue.DedupTTL < maxJobElapsed {
		return fmt.Errorf("queue dedup ttl must be at least %s, got %s", maxJobElapsed, c.Queue.DedupTTL)
	}
	return nil
}
