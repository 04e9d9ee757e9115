// Package config loads settings for the digest server and CLI.
// Values come from defaults, then the YAML config file, then the environment;
// command-line flags are applied by the caller before Validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/yf-hk/ai-meeting-digest/pkg/ai"
	"github.com/yf-hk/ai-meeting-digest/pkg/db"
	"github.com/yf-hk/ai-meeting-digest/pkg/locks"
	"github.com/yf-hk/ai-meeting-digest/pkg/orchestrator"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Default configuration values.
const (
	DefaultHTTPAddr        = ":3000"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultOutputFormat    = OutputFormatText
	DefaultConfigDir       = ".meeting-digest"
	DefaultConfigFile      = "config.yaml"
	DefaultFilesRoot       = "."
	DefaultLogLevel        = "info"
)

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	// DevToken, when set, authenticates bearer requests carrying it as
	// DevUser without a session lookup.
	DevToken string
	DevUser  string
}

// AIConfig holds provider and orchestration settings.
type AIConfig struct {
	BaseURL       string
	PrimaryModel  string
	FallbackModel string
	Timeout       time.Duration
	MaxRetries    int
	Temperature   float64
	StageDelay    time.Duration
}

// RedisConfig enables the distributed lock and event publishing. Both are
// skipped when URL and Addr are empty.
type RedisConfig struct {
	URL      string
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Addr != ""
}

// Options builds go-redis options. URL wins over the discrete fields.
func (r RedisConfig) Options() (*redis.Options, error) {
	if r.URL != "" {
		opts, err := redis.ParseURL(r.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB}, nil
}

// FilesConfig locates uploaded transcript files.
type FilesConfig struct {
	Root     string
	MaxBytes int64
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string
	JSON  bool
}

// Config is the complete configuration.
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Database db.Config
	Redis    RedisConfig
	Files    FilesConfig
	Log      LogConfig
	// RunLogDSN enables the lib/pq run log when set.
	RunLogDSN    string
	OutputFormat OutputFormat

	// APIKey is resolved at startup from OPENROUTER_API_KEY or the
	// credential store. It is never written to the config file.
	APIKey string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        DefaultHTTPAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		AI: AIConfig{
			BaseURL:       aiDefaults.BaseURL,
			PrimaryModel:  aiDefaults.PrimaryModel,
			FallbackModel: aiDefaults.FallbackModel,
			Timeout:       aiDefaults.Timeout,
			MaxRetries:    aiDefaults.MaxRetries,
			Temperature:   ai.DefaultTemperature,
			StageDelay:    orchestrator.DefaultStageDelay,
		},
		Database:     *db.DefaultConfig(),
		Redis:        RedisConfig{LockTTL: locks.DefaultTTL},
		Files:        FilesConfig{Root: DefaultFilesRoot},
		Log:          LogConfig{Level: DefaultLogLevel},
		OutputFormat: DefaultOutputFormat,
	}
}

// AIClientConfig converts the AI section into a client config carrying key.
func (c *Config) AIClientConfig() ai.Config {
	cfg := ai.DefaultConfig()
	cfg.APIKey = c.APIKey
	cfg.BaseURL = c.AI.BaseURL
	cfg.PrimaryModel = c.AI.PrimaryModel
	cfg.FallbackModel = c.AI.FallbackModel
	cfg.Timeout = c.AI.Timeout
	cfg.MaxRetries = c.AI.MaxRetries
	if cfg.MaxRetries == 0 {
		// max_retries: 0 in the file means no retries.
		cfg.MaxRetries = -1
	}
	return cfg
}

// ConfigDir returns $DIGEST_CONFIG_DIR, or ~/.meeting-digest.
func ConfigDir() (string, error) {
	if dir := os.Getenv("DIGEST_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load reads the config file (if present) and the environment. It does not
// validate, so callers can apply flags first.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return LoadFrom(path, os.Getenv)
}

// LoadFrom is Load with an explicit file path and environment lookup.
func LoadFrom(path string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFromFile(cfg, path); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	if err := loadFromEnv(cfg, getenv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

// configFile is the YAML layout; durations are strings.
type configFile struct {
	Server struct {
		HTTPAddr        string   `yaml:"http_addr,omitempty"`
		GRPCAddr        string   `yaml:"grpc_addr,omitempty"`
		CORSOrigins     []string `yaml:"cors_origins,omitempty"`
		ShutdownTimeout string   `yaml:"shutdown_timeout,omitempty"`
	} `yaml:"server"`
	AI struct {
		BaseURL       string   `yaml:"base_url,omitempty"`
		PrimaryModel  string   `yaml:"primary_model,omitempty"`
		FallbackModel string   `yaml:"fallback_model,omitempty"`
		Timeout       string   `yaml:"timeout,omitempty"`
		MaxRetries    *int     `yaml:"max_retries,omitempty"`
		Temperature   *float64 `yaml:"temperature,omitempty"`
		StageDelay    string   `yaml:"stage_delay,omitempty"`
	} `yaml:"ai"`
	Database *db.Config `yaml:"database,omitempty"`
	Redis    struct {
		URL     string `yaml:"url,omitempty"`
		Addr    string `yaml:"addr,omitempty"`
		DB      int    `yaml:"db,omitempty"`
		LockTTL string `yaml:"lock_ttl,omitempty"`
	} `yaml:"redis"`
	Files struct {
		Root     string `yaml:"root,omitempty"`
		MaxBytes int64  `yaml:"max_bytes,omitempty"`
	} `yaml:"files"`
	Log struct {
		Level string `yaml:"level,omitempty"`
		JSON  bool   `yaml:"json,omitempty"`
	} `yaml:"log"`
	RunLogDSN    string       `yaml:"runlog_dsn,omitempty"`
	OutputFormat OutputFormat `yaml:"output_format,omitempty"`
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	setString(&cfg.Server.HTTPAddr, f.Server.HTTPAddr)
	setString(&cfg.Server.GRPCAddr, f.Server.GRPCAddr)
	if len(f.Server.CORSOrigins) > 0 {
		cfg.Server.CORSOrigins = f.Server.CORSOrigins
	}
	if err := setDuration(&cfg.Server.ShutdownTimeout, f.Server.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
		return err
	}

	setString(&cfg.AI.BaseURL, f.AI.BaseURL)
	setString(&cfg.AI.PrimaryModel, f.AI.PrimaryModel)
	setString(&cfg.AI.FallbackModel, f.AI.FallbackModel)
	if err := setDuration(&cfg.AI.Timeout, f.AI.Timeout, "ai.timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.AI.StageDelay, f.AI.StageDelay, "ai.stage_delay"); err != nil {
		return err
	}
	if f.AI.MaxRetries != nil {
		cfg.AI.MaxRetries = *f.AI.MaxRetries
	}
	if f.AI.Temperature != nil {
		cfg.AI.Temperature = *f.AI.Temperature
	}

	if f.Database != nil {
		mergeDatabase(&cfg.Database, f.Database)
	}

	setString(&cfg.Redis.URL, f.Redis.URL)
	setString(&cfg.Redis.Addr, f.Redis.Addr)
	if f.Redis.DB != 0 {
		cfg.Redis.DB = f.Redis.DB
	}
	if err := setDuration(&cfg.Redis.LockTTL, f.Redis.LockTTL, "redis.lock_ttl"); err != nil {
		return err
	}

	setString(&cfg.Files.Root, f.Files.Root)
	if f.Files.MaxBytes > 0 {
		cfg.Files.MaxBytes = f.Files.MaxBytes
	}

	setString(&cfg.Log.Level, f.Log.Level)
	cfg.Log.JSON = f.Log.JSON
	setString(&cfg.RunLogDSN, f.RunLogDSN)
	if f.OutputFormat != "" {
		cfg.OutputFormat = f.OutputFormat
	}
	return nil
}

func mergeDatabase(dst, src *db.Config) {
	setString(&dst.URL, src.URL)
	setString(&dst.Host, src.Host)
	setString(&dst.Database, src.Database)
	setString(&dst.User, src.User)
	setString(&dst.Password, src.Password)
	setString(&dst.SSLMode, src.SSLMode)
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.MaxConns != 0 {
		dst.MaxConns = src.MaxConns
	}
	if src.MinConns != 0 {
		dst.MinConns = src.MinConns
	}
}

func loadFromEnv(cfg *Config, getenv func(string) string) error {
	setString(&cfg.Server.HTTPAddr, getenv("DIGEST_HTTP_ADDR"))
	setString(&cfg.Server.GRPCAddr, getenv("DIGEST_GRPC_ADDR"))
	if v := firstNonEmpty(getenv("DIGEST_CORS_ORIGINS"), getenv("CORS_ORIGINS")); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	setString(&cfg.Server.DevToken, getenv("DIGEST_DEV_TOKEN"))
	setString(&cfg.Server.DevUser, getenv("DIGEST_DEV_USER"))

	setString(&cfg.AI.BaseURL, getenv("DIGEST_AI_BASE_URL"))
	setString(&cfg.AI.PrimaryModel, getenv("DIGEST_AI_PRIMARY_MODEL"))
	setString(&cfg.AI.FallbackModel, getenv("DIGEST_AI_FALLBACK_MODEL"))
	if err := setDuration(&cfg.AI.Timeout, getenv("DIGEST_AI_TIMEOUT"), "DIGEST_AI_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.AI.StageDelay, getenv("DIGEST_STAGE_DELAY"), "DIGEST_STAGE_DELAY"); err != nil {
		return err
	}

	cfg.Database.ApplyEnv(getenv)

	setString(&cfg.Redis.URL, getenv("REDIS_URL"))
	setString(&cfg.Redis.Addr, getenv("REDIS_ADDR"))
	setString(&cfg.Redis.Password, getenv("REDIS_PASSWORD"))
	if v := getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}

	setString(&cfg.Files.Root, getenv("DIGEST_FILES_ROOT"))
	setString(&cfg.RunLogDSN, getenv("DIGEST_RUNLOG_DSN"))
	setString(&cfg.Log.Level, getenv("DIGEST_LOG_LEVEL"))
	if v := getenv("DIGEST_LOG_JSON"); v == "true" || v == "1" {
		cfg.Log.JSON = true
	}
	if v := getenv("DIGEST_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	setString(&cfg.APIKey, strings.TrimSpace(getenv("OPENROUTER_API_KEY")))
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Server.DevToken != "" && c.Server.DevUser == "" {
		return fmt.Errorf("DIGEST_DEV_USER is required with DIGEST_DEV_TOKEN")
	}
	if c.AI.BaseURL == "" {
		return fmt.Errorf("ai.base_url is required")
	}
	if c.AI.PrimaryModel == "" || c.AI.FallbackModel == "" {
		return fmt.Errorf("ai.primary_model and ai.fallback_model are required")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}
	if c.AI.StageDelay < 0 {
		return fmt.Errorf("ai.stage_delay must not be negative")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		return fmt.Errorf("ai.temperature must be between 0 and 2")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text or json)", c.OutputFormat)
	}
	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON:
		return true
	default:
		return false
	}
}

// Save writes the non-secret settings to path, creating its directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var f configFile
	f.Server.HTTPAddr = cfg.Server.HTTPAddr
	f.Server.GRPCAddr = cfg.Server.GRPCAddr
	f.Server.CORSOrigins = cfg.Server.CORSOrigins
	f.Server.ShutdownTimeout = cfg.Server.ShutdownTimeout.String()
	f.AI.BaseURL = cfg.AI.BaseURL
	f.AI.PrimaryModel = cfg.AI.PrimaryModel
	f.AI.FallbackModel = cfg.AI.FallbackModel
	f.AI.Timeout = cfg.AI.Timeout.String()
	f.AI.MaxRetries = &cfg.AI.MaxRetries
	f.AI.Temperature = &cfg.AI.Temperature
	f.AI.StageDelay = cfg.AI.StageDelay.String()
	dbCopy := cfg.Database
	dbCopy.Password = ""
	f.Database = &dbCopy
	f.Redis.URL = cfg.Redis.URL
	f.Redis.Addr = cfg.Redis.Addr
	f.Redis.DB = cfg.Redis.DB
	f.Redis.LockTTL = cfg.Redis.LockTTL.String()
	f.Files.Root = cfg.Files.Root
	f.Files.MaxBytes = cfg.Files.MaxBytes
	f.Log.Level = cfg.Log.Level
	f.Log.JSON = cfg.Log.JSON
	f.RunLogDSN = cfg.RunLogDSN
	f.OutputFormat = cfg.OutputFormat

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, name string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
