package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for the chart service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	ChartSite ChartSiteConfig `mapstructure:"chart_site"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Session   SessionConfig   `mapstructure:"session"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool    `mapstructure:"debug"`
	LogLevel  string  `mapstructure:"log_level"`
	LogFormat string  `mapstructure:"log_format"` // json or console
	AdminIDs  []int64 `mapstructure:"admin_ids"`
}

// IsAdmin reports whether the requester may read service statistics.
func (g GeneralConfig) IsAdmin(requesterID int64) bool {
	for _, id := range g.AdminIDs {
		if id == requesterID {
			return true
		}
	}
	return false
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ChartSiteConfig describes the third-party form that renders charts.
type ChartSiteConfig struct {
	URL             string        `mapstructure:"url"`
	RequesterName   string        `mapstructure:"requester_name"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
	LoadTimeout     time.Duration `mapstructure:"load_timeout"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
	ResultTimeout   time.Duration `mapstructure:"result_timeout"`
	// AcquireTimeout bounds a whole run, from browser launch to the artifact.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

func (c ChartSiteConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("chart_site.url required")
	}
	if c.NavigateTimeout <= 0 || c.LoadTimeout <= 0 || c.SubmitTimeout <= 0 || c.ResultTimeout <= 0 {
		return fmt.Errorf("chart_site timeouts must be > 0")
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("chart_site.acquire_timeout must be > 0")
	}
	return nil
}

// BrowserConfig controls the headless Chrome allocator.
type BrowserConfig struct {
	Headless     bool   `mapstructure:"headless"`
	ExecPath     string `mapstructure:"exec_path"`
	UserAgent    string `mapstructure:"user_agent"`
	WindowWidth  int    `mapstructure:"window_width"`
	WindowHeight int    `mapstructure:"window_height"`
	NoSandbox    bool   `mapstructure:"no_sandbox"`
	// StepTimeout bounds browser steps that have no timeout of their own.
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

// Normalize applies defaults for unset window and step values.
func (b BrowserConfig) Normalize() BrowserConfig {
	if b.StepTimeout <= 0 {
		b.StepTimeout = 15 * time.Second
	}
	if b.WindowWidth <= 0 {
		b.WindowWidth = 1920
	}
	if b.WindowHeight <= 0 {
		b.WindowHeight = 1080
	}
	return b
}

// LLMConfig configures the OpenAI-compatible completion endpoint.
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Temperature  float32       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	AnalysisMode string        `mapstructure:"analysis_mode"` // structured or freetext
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

func (l LLMConfig) Validate() error {
	switch l.AnalysisMode {
	case "structured", "freetext":
	default:
		return fmt.Errorf("llm.analysis_mode must be structured or freetext, got %q", l.AnalysisMode)
	}
	if l.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be > 0")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Assets   AssetsConfig   `mapstructure:"assets"`
}

// PostgresConfig contains Postgres connection settings. Leaving it empty
// disables the chart cache.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether any connection setting was provided.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the configured URL or one assembled from the parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings. Redis is optional; without
// it locks and analysis caching stay in process.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// AssetsConfig controls where artifacts are written and how long they live.
type AssetsConfig struct {
	Dir       string        `mapstructure:"dir"`
	Retention time.Duration `mapstructure:"retention"`
	SweepCron string        `mapstructure:"sweep_cron"`
}

func (a AssetsConfig) Validate() error {
	if strings.TrimSpace(a.Dir) == "" {
		return fmt.Errorf("storage.assets.dir required")
	}
	if a.Retention <= 0 {
		return fmt.Errorf("storage.assets.retention must be > 0")
	}
	switch a.SweepCron {
	case "@daily", "@hourly":
	default:
		if _, err := cronexpr.Parse(a.SweepCron); err != nil {
			return fmt.Errorf("storage.assets.sweep_cron: %w", err)
		}
	}
	return nil
}

// SessionConfig bounds conversational state.
type SessionConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// ChatConfig holds transport limits.
type ChatConfig struct {
	MaxMessageLen int `mapstructure:"max_message_len"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("general.admin_ids", []int64{})
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("chart_site.url", "https://tuvivietnam.vn/lasotuvi/")
	v.SetDefault("chart_site.requester_name", "Học Tử Vi Bot")
	v.SetDefault("chart_site.navigate_timeout", 20*time.Second)
	v.SetDefault("chart_site.load_timeout", 10*time.Second)
	v.SetDefault("chart_site.submit_timeout", 20*time.Second)
	v.SetDefault("chart_site.result_timeout", 20*time.Second)
	v.SetDefault("chart_site.acquire_timeout", 90*time.Second)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.step_timeout", 15*time.Second)
	v.SetDefault("llm.base_url", "https://api.airouter.io/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "auto")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.analysis_mode", "structured")
	v.SetDefault("llm.cache_ttl", 24*time.Hour)
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 3*time.Second)
	v.SetDefault("storage.assets.dir", "assets")
	v.SetDefault("storage.assets.retention", 7*24*time.Hour)
	v.SetDefault("storage.assets.sweep_cron", "@daily")
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.lock_ttl", 2*time.Minute)
	v.SetDefault("chat.max_message_len", 4000)
}

// Load reads config from path (or the default search paths when empty) and
// environment variables prefixed with TUVI_. A missing config file is not an
// error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("TUVI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Browser = cfg.Browser.Normalize()

	if err := cfg.ChartSite.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Assets.Validate(); err != nil {
		return nil, err
	}
	if cfg.Session.LockTTL <= cfg.ChartSite.AcquireTimeout {
		return nil, fmt.Errorf("session.lock_ttl (%s) must exceed chart_site.acquire_timeout (%s)",
			cfg.Session.LockTTL, cfg.ChartSite.AcquireTimeout)
	}
	if cfg.Chat.MaxMessageLen <= 0 {
		return nil, fmt.Errorf("chat.max_message_len must be > 0")
	}
	return &cfg, nil
}

// LoadConfig loads config and panics on error, for command start-up.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
