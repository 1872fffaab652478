package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	OAuth     OAuthConfig
	Crypto    CryptoConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds JWT settings for API authentication
type JWTConfig struct {
	Secret           string
	Issuer           string
	AccessExpiration time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
	AllowedOrigins    []string
}

// OAuthConfig holds the accounting platform's OAuth client settings
type OAuthConfig struct {
	ClientID           string
	ClientSecret       string
	AuthorizeEndpoint  string
	TokenEndpoint      string
	RevokeEndpoint     string
	RedirectURI        string
	Scopes             []string
	RefreshSkew        time.Duration
	MaxRefreshFailures int
	StateTTL           time.Duration
}

// CryptoConfig holds token encryption settings
type CryptoConfig struct {
	// TokenKey is a hex-encoded 256-bit AES key used to encrypt OAuth
	// tokens at rest. Required outside development.
	TokenKey string
}

// SyncConfig holds sync dispatcher and retry configuration
type SyncConfig struct {
	Workers           int
	QueueDepth        int
	AttemptTimeout    time.Duration
	CallTimeout       time.Duration
	RetryPollInterval time.Duration
	RetryPollBatch    int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
}

// RateLimitConfig holds the per-tenant platform call budget
type RateLimitConfig struct {
	CallsPerSecond float64
	Burst          int
}

// BreakerConfig holds the per-tenant circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with VRITTI_ prefix (e.g., VRITTI_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("VRITTI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Build config struct
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:           v.GetString("jwt.secret"),
			Issuer:           v.GetString("jwt.issuer"),
			AccessExpiration: v.GetDuration("jwt.access_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			AllowedOrigins:    v.GetStringSlice("http.allowed_origins"),
		},
		OAuth: OAuthConfig{
			ClientID:           v.GetString("oauth.client_id"),
			ClientSecret:       v.GetString("oauth.client_secret"),
			AuthorizeEndpoint:  v.GetString("oauth.authorize_endpoint"),
			TokenEndpoint:      v.GetString("oauth.token_endpoint"),
			RevokeEndpoint:     v.GetString("oauth.revoke_endpoint"),
			RedirectURI:        v.GetString("oauth.redirect_uri"),
			Scopes:             v.GetStringSlice("oauth.scopes"),
			RefreshSkew:        v.GetDuration("oauth.refresh_skew"),
			MaxRefreshFailures: v.GetInt("oauth.max_refresh_failures"),
			StateTTL:           v.GetDuration("oauth.state_ttl"),
		},
		Crypto: CryptoConfig{
			TokenKey: v.GetString("crypto.token_key"),
		},
		Sync: SyncConfig{
			Workers:           v.GetInt("sync.workers"),
			QueueDepth:        v.GetInt("sync.queue_depth"),
			AttemptTimeout:    v.GetDuration("sync.attempt_timeout"),
			CallTimeout:       v.GetDuration("sync.call_timeout"),
			RetryPollInterval: v.GetDuration("sync.retry_poll_interval"),
			RetryPollBatch:    v.GetInt("sync.retry_poll_batch"),
			BackoffBase:       v.GetDuration("sync.backoff_base"),
			BackoffCap:        v.GetDuration("sync.backoff_cap"),
			MaxAttempts:       v.GetInt("sync.max_attempts"),
		},
		RateLimit: RateLimitConfig{
			CallsPerSecond: v.GetFloat64("rate_limit.calls_per_second"),
			Burst:          v.GetInt("rate_limit.burst"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			FailureWindow:    v.GetDuration("breaker.failure_window"),
			Cooldown:         v.GetDuration("breaker.cooldown"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "vritti-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "vritti"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "vritti-backend"
	}
	if cfg.JWT.AccessExpiration == 0 {
		cfg.JWT.AccessExpiration = 15 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.OAuth.AuthorizeEndpoint == "" {
		cfg.OAuth.AuthorizeEndpoint = "https://appcenter.intuit.com/connect/oauth2"
	}
	if cfg.OAuth.TokenEndpoint == "" {
		cfg.OAuth.TokenEndpoint = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	}
	if cfg.OAuth.RevokeEndpoint == "" {
		cfg.OAuth.RevokeEndpoint = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
	}
	if len(cfg.OAuth.Scopes) == 0 {
		cfg.OAuth.Scopes = []string{"com.intuit.quickbooks.accounting"}
	}
	if cfg.OAuth.RefreshSkew == 0 {
		cfg.OAuth.RefreshSkew = 60 * time.Second
	}
	if cfg.OAuth.MaxRefreshFailures == 0 {
		cfg.OAuth.MaxRefreshFailures = 3
	}
	if cfg.OAuth.StateTTL == 0 {
		cfg.OAuth.StateTTL = 10 * time.Minute
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 8
	}
	if cfg.Sync.QueueDepth == 0 {
		cfg.Sync.QueueDepth = 1000
	}
	if cfg.Sync.AttemptTimeout == 0 {
		cfg.Sync.AttemptTimeout = 2 * time.Minute
	}
	if cfg.Sync.CallTimeout == 0 {
		cfg.Sync.CallTimeout = 30 * time.Second
	}
	if cfg.Sync.RetryPollInterval == 0 {
		cfg.Sync.RetryPollInterval = 5 * time.Second
	}
	if cfg.Sync.RetryPollBatch == 0 {
		cfg.Sync.RetryPollBatch = 100
	}
	if cfg.Sync.BackoffBase == 0 {
		cfg.Sync.BackoffBase = 2 * time.Second
	}
	if cfg.Sync.BackoffCap == 0 {
		cfg.Sync.BackoffCap = 5 * time.Minute
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.RateLimit.CallsPerSecond == 0 {
		cfg.RateLimit.CallsPerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.FailureWindow == 0 {
		cfg.Breaker.FailureWindow = 10 * time.Minute
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 5 * time.Minute
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	// Validate connection pool settings
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}
	if c.Sync.BackoffBase > c.Sync.BackoffCap {
		return fmt.Errorf("sync.backoff_base (%s) cannot exceed sync.backoff_cap (%s)",
			c.Sync.BackoffBase, c.Sync.BackoffCap)
	}
	if c.RateLimit.CallsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.calls_per_second must be positive")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Crypto.TokenKey == "" {
			return fmt.Errorf("crypto.token_key is required in production")
		}
		if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
			return fmt.Errorf("oauth.client_id and oauth.client_secret are required in production")
		}
		if c.OAuth.RedirectURI == "" {
			return fmt.Errorf("oauth.redirect_uri is required in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
