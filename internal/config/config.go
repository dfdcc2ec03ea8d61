package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Remote API
	APIBaseURL string
	WSURL      string
	APIToken   string

	// Request gateway
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	CacheTTL       time.Duration
	CacheMaxItems  int
	CacheSweep     time.Duration

	// Offline queue
	QueueMaxAttempts int
	QueueDrainDelay  time.Duration
	HealthInterval   time.Duration

	// Local durable storage
	StorageBackend string
	SQLiteDBPath   string

	// Real-time channel
	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration

	// Notifications
	NotificationPollInterval  time.Duration
	NotificationCheckInterval time.Duration
	LowBalanceThreshold       string

	// Server
	Port             string
	Environment      string
	IdentityProvider string
	JWTSecret        string
	StaticTokens     string
	PushRateLimit    int
	AllowedOrigins   []string
	ShutdownTimeout  time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		APIBaseURL: getEnv("WEALTHFLOW_API_URL", "http://localhost:3000"),
		WSURL:      getEnv("WEALTHFLOW_WS_URL", ""),
		APIToken:   getEnv("WEALTHFLOW_TOKEN", ""),

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		RetryAttempts:  getEnvInt("RETRY_ATTEMPTS", 3),
		RetryDelay:     getEnvDuration("RETRY_DELAY", time.Second),
		CacheTTL:       getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheMaxItems:  getEnvInt("CACHE_MAX_ITEMS", 100),
		CacheSweep:     getEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),

		QueueMaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueDrainDelay:  getEnvDuration("QUEUE_DRAIN_DELAY", 500*time.Millisecond),
		HealthInterval:   getEnvDuration("HEALTH_INTERVAL", 15*time.Second),

		StorageBackend: getEnv("STORAGE_BACKEND", "sqlite"),
		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/wealthflow.db"),

		ReconnectAttempts: getEnvInt("WS_RECONNECT_ATTEMPTS", 10),
		ReconnectBase:     getEnvDuration("WS_RECONNECT_BASE", time.Second),
		ReconnectMax:      getEnvDuration("WS_RECONNECT_MAX", 30*time.Second),

		NotificationPollInterval:  getEnvDuration("NOTIFICATION_POLL_INTERVAL", 60*time.Second),
		NotificationCheckInterval: getEnvDuration("NOTIFICATION_CHECK_INTERVAL", 30*time.Second),
		LowBalanceThreshold:       getEnv("LOW_BALANCE_THRESHOLD", "100"),

		Port:             getEnv("PORT", "3000"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		IdentityProvider: getEnv("IDENTITY_PROVIDER", "jwt"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		StaticTokens:     getEnv("STATIC_TOKENS", ""),
		PushRateLimit:    getEnvInt("PUSH_RATE_LIMIT", 60),
		AllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:10000"),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "wealthflow"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "user_events"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.APIBaseURL)
	}

	return cfg
}

// DeriveWSURL turns an http(s) API base into the matching ws(s) socket URL
func DeriveWSURL(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

var scheduleTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidScheduleTime reports whether s is a HH:MM wall-clock time
func ValidScheduleTime(s string) bool {
	return scheduleTimePattern.MatchString(s)
}

// ValidateClient checks the settings the client binary depends on
func (c *Config) ValidateClient() error {
	var errors []string
	errors = append(errors, c.validateCommon()...)

	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid API URL '%s': must be an absolute http(s) URL", c.APIBaseURL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	}

	if c.WSURL != "" {
		if u, err := url.Parse(c.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errors = append(errors, fmt.Sprintf("invalid websocket URL '%s': scheme must be 'ws' or 'wss'", c.WSURL))
		}
	}

	if c.RequestTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be at least 1 second", c.RequestTimeout))
	}
	if c.RetryAttempts < 0 || c.RetryAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid retry attempts %d: must be between 0 and 10", c.RetryAttempts))
	}
	if c.RetryDelay < 0 {
		errors = append(errors, fmt.Sprintf("invalid retry delay %v: must not be negative", c.RetryDelay))
	}
	if c.CacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be positive", c.CacheTTL))
	}
	if c.CacheMaxItems < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheMaxItems))
	}
	if c.QueueMaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid queue max attempts %d: must be at least 1", c.QueueMaxAttempts))
	}
	if c.QueueDrainDelay < 0 {
		errors = append(errors, fmt.Sprintf("invalid queue drain delay %v: must not be negative", c.QueueDrainDelay))
	}
	if c.ReconnectAttempts < 0 {
		errors = append(errors, fmt.Sprintf("invalid reconnect attempts %d: must not be negative", c.ReconnectAttempts))
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		errors = append(errors, fmt.Sprintf("invalid reconnect backoff %v..%v", c.ReconnectBase, c.ReconnectMax))
	}
	if c.NotificationCheckInterval < time.Second || c.NotificationPollInterval < time.Second {
		errors = append(errors, "notification intervals must be at least 1 second")
	}
	if _, err := strconv.ParseFloat(c.LowBalanceThreshold, 64); err != nil {
		errors = append(errors, fmt.Sprintf("invalid low balance threshold '%s': must be a number", c.LowBalanceThreshold))
	}

	return joinErrors(errors)
}

// ValidateServer checks the settings the server binary depends on
func (c *Config) ValidateServer() error {
	var errors []string
	errors = append(errors, c.validateCommon()...)

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.IdentityProvider {
	case "jwt":
		if c.JWTSecret == "" {
			errors = append(errors, "JWT_SECRET is required when using the jwt identity provider")
		}
	case "static":
		if c.StaticTokens == "" {
			errors = append(errors, "STATIC_TOKENS is required when using the static identity provider")
		}
	case "google":
	default:
		errors = append(errors, fmt.Sprintf("invalid identity provider '%s': must be one of [jwt google static]", c.IdentityProvider))
	}

	if c.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be positive", c.ShutdownTimeout))
	}

	if c.PushRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid push rate limit %d: must be at least 1", c.PushRateLimit))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	return joinErrors(errors)
}

func (c *Config) validateCommon() []string {
	var errors []string

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.StorageBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid storage backend '%s': must be one of %v", c.StorageBackend, validBackends))
	}

	if c.StorageBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	return errors
}

func joinErrors(errors []string) error {
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
