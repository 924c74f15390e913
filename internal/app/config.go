package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CANDOR_SERVER_PORT.
const EnvPrefix = "CANDOR"

// Config represents the full application configuration loaded from file and environment.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	AI          AIConfig          `mapstructure:"ai"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Feedback    FeedbackConfig    `mapstructure:"feedback"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int             `mapstructure:"port"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
	BaseURL     string          `mapstructure:"base_url"`
	CORSOrigins []string        `mapstructure:"cors_origins"`
	DevMode     bool            `mapstructure:"dev_mode"`
	CSRF        CSRFConfig      `mapstructure:"csrf"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// CSRFConfig toggles the double-submit cookie middleware.
type CSRFConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RateLimitConfig bounds requests per client IP and route.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig captures connection details for server databases.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig configures the optional Redis cache.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig defines connection parameters for Redis.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig groups sign-in and session settings.
type AuthConfig struct {
	JWT        JWTSettings        `mapstructure:"jwt"`
	Session    SessionSettings    `mapstructure:"session"`
	MagicLink  MagicLinkSettings  `mapstructure:"magic_link"`
	Invitation InvitationSettings `mapstructure:"invitation"`
	// IPHashKey keys the hash stored instead of submitter IP addresses.
	IPHashKey string `mapstructure:"ip_hash_key"`
}

// JWTSettings configure token signing.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// SessionSettings configure session lifetime and the session cookie.
type SessionSettings struct {
	TTL          time.Duration `mapstructure:"ttl"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

// MagicLinkSettings configure emailed sign-in links.
type MagicLinkSettings struct {
	TTL           time.Duration `mapstructure:"ttl"`
	TokenBytes    int           `mapstructure:"token_bytes"`
	RequestLimit  int           `mapstructure:"request_limit"`
	RequestWindow time.Duration `mapstructure:"request_window"`
}

// InvitationSettings configure invitation expiry.
type InvitationSettings struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// EmailConfig describes outbound email configuration.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig configures SMTP delivery.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AIConfig selects the language model used for analysis.
type AIConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// AnalysisConfig tunes the analysis outbox worker.
type AnalysisConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
	Lease        time.Duration `mapstructure:"lease"`
}

// FeedbackConfig bounds feedback intake.
type FeedbackConfig struct {
	MaxLength     int `mapstructure:"max_length"`
	ChatThreshold int `mapstructure:"chat_threshold"`
}

// MaintenanceConfig controls background cleanup.
type MaintenanceConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days"`
	InvitationGrace    time.Duration `mapstructure:"invitation_grace"`
}

// MonitoringConfig toggles the metrics and health endpoints.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig controls the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig controls readiness probes.
type HealthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timeout     time.Duration `mapstructure:"timeout"`
	AnalysisLag time.Duration `mapstructure:"analysis_lag"`
}

// LoadConfig reads config.yaml from ./config and the supplied paths, then
// applies CANDOR_ environment overrides. A missing file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.csrf.enabled", false)
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/candor.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "candor")
	v.SetDefault("auth.jwt.ttl", "12h")
	v.SetDefault("auth.session.ttl", "12h")
	v.SetDefault("auth.session.idle_timeout", "30m")
	v.SetDefault("auth.session.secure_cookie", true)
	v.SetDefault("auth.magic_link.ttl", "15m")
	v.SetDefault("auth.magic_link.token_bytes", 32)
	v.SetDefault("auth.magic_link.request_limit", 5)
	v.SetDefault("auth.magic_link.request_window", "15m")
	v.SetDefault("auth.invitation.ttl", "168h")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.from", "Candor <no-reply@localhost>")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("ai.provider", "genai")
	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.requests_per_minute", 30)

	v.SetDefault("analysis.workers", 2)
	v.SetDefault("analysis.poll_interval", "15s")
	v.SetDefault("analysis.max_attempts", 5)
	v.SetDefault("analysis.retry_base", "30s")
	v.SetDefault("analysis.retry_max", "30m")
	v.SetDefault("analysis.lease", "2m")

	v.SetDefault("feedback.max_length", 5000)
	v.SetDefault("feedback.chat_threshold", 6)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.audit_retention_days", 365)
	v.SetDefault("maintenance.invitation_grace", "720h")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "2s")
	v.SetDefault("monitoring.health_check.analysis_lag", "15m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
