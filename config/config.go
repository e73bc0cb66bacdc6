package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the planner service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Models    ModelsConfig    `mapstructure:"models"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

func (g GeneralConfig) Normalize() GeneralConfig {
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	if g.Debug {
		g.LogLevel = "debug"
	}
	return g
}

func (g GeneralConfig) Validate() error {
	switch g.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("general.log_level must be one of debug, info, warn, error (got %q)", g.LogLevel)
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AllowAnonymous  bool          `mapstructure:"allow_anonymous"`
	DryRunEnabled   bool          `mapstructure:"dry_run_enabled"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Normalize trims and de-duplicates CORS origins.
func (s ServerConfig) Normalize() ServerConfig {
	s.Address = strings.TrimSpace(s.Address)
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
	seen := make(map[string]struct{}, len(s.CORSOrigins))
	var origins []string
	for _, o := range s.CORSOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.CORSOrigins = origins
	return s
}

func (s ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("server.address required")
	}
	if !s.AllowAnonymous && strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required unless server.allow_anonymous is set")
	}
	return nil
}

const (
	LLMTypeOpenAI = "openai"
	LLMTypeHTTP   = "http"
)

// LLMConfig selects and configures the model stream provider
type LLMConfig struct {
	Type        string        `mapstructure:"type"` // openai or http
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PlannerURL  string        `mapstructure:"planner_url"` // http provider endpoint
}

func (l LLMConfig) Normalize() LLMConfig {
	l.Type = strings.ToLower(strings.TrimSpace(l.Type))
	if l.Type == "" {
		l.Type = LLMTypeOpenAI
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	return l
}

func (l LLMConfig) Validate() error {
	switch l.Type {
	case LLMTypeOpenAI:
		if strings.TrimSpace(l.Model) == "" {
			return fmt.Errorf("llm.model required for the openai provider")
		}
		if l.BaseURL != "" {
			if _, err := url.ParseRequestURI(l.BaseURL); err != nil {
				return fmt.Errorf("llm.base_url: %w", err)
			}
		}
	case LLMTypeHTTP:
		if _, err := url.ParseRequestURI(l.PlannerURL); err != nil {
			return fmt.Errorf("llm.planner_url required for the http provider: %w", err)
		}
	default:
		return fmt.Errorf("llm.type must be %q or %q (got %q)", LLMTypeOpenAI, LLMTypeHTTP, l.Type)
	}
	if l.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens cannot be negative")
	}
	return nil
}

// PlannerConfig controls how each generation run behaves
type PlannerConfig struct {
	SearchMode          bool          `mapstructure:"search_mode"`
	Model               string        `mapstructure:"model"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	FallbackTitle       string        `mapstructure:"fallback_title"`
	FallbackDescription string        `mapstructure:"fallback_description"`
	// IdleTimeout drops a caller's pipeline and state after this long without
	// use. Zero keeps them for the life of the process.
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
}

func (p PlannerConfig) Validate() error {
	if p.RequestTimeout < 0 {
		return fmt.Errorf("planner.request_timeout cannot be negative")
	}
	if p.IdleTimeout < 0 {
		return fmt.Errorf("planner.idle_timeout cannot be negative")
	}
	return nil
}

// ModelsConfig points at the remote model catalog
type ModelsConfig struct {
	RemoteURL    string        `mapstructure:"remote_url"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings. An empty host disables the
// model catalog cache.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when storage.redis.host is set")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings. With neither url nor
// host set the run log is disabled.
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

func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN returns url verbatim or builds one from the discrete fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	if !p.Enabled() {
		return ""
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	return u.String()
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" || !p.Enabled() {
		return nil
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.allow_anonymous", false)
	v.SetDefault("server.dry_run_enabled", true)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("llm.type", LLMTypeOpenAI)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.planner_url", "")
	v.SetDefault("planner.search_mode", false)
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.request_timeout", "90s")
	v.SetDefault("planner.fallback_title", "")
	v.SetDefault("planner.fallback_description", "")
	v.SetDefault("planner.idle_timeout", "30m")
	v.SetDefault("models.remote_url", "http://localhost:3000")
	v.SetDefault("models.cache_ttl", "5m")
	v.SetDefault("models.fetch_timeout", "10s")
	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", "5s")
	v.SetDefault("telemetry.metrics_enabled", true)
}

// LoadConfig loads config from file. With an empty path the usual locations
// are searched and a missing file is not an error: defaults and CHATPLAN_*
// environment variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config") // path to look for the config file in
		v.AddConfigPath(".")        // optionally look for config in the working directory
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)                                // bin/
			v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CHATPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (CHATPLAN_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.General = config.General.Normalize()
	config.Server = config.Server.Normalize()
	config.LLM = config.LLM.Normalize()

	validators := []func() error{
		config.General.Validate,
		config.Server.Validate,
		config.LLM.Validate,
		config.Planner.Validate,
		config.Storage.Redis.Validate,
		config.Storage.Postgres.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}
