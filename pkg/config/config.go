package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"coachcall-server/pkg/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Coaching  CoachingConfig  `json:"coaching"`
	Database  DatabaseConfig  `json:"database"`
	Messaging MessagingConfig `json:"messaging"`
	Logging   LoggingConfig   `json:"logging"`
}

// HTTPConfig holds the HTTP server configuration
type HTTPConfig struct {
	Port          int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
	EnableMetrics bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
}

// CoachingConfig holds the coaching engine configuration
type CoachingConfig struct {
	// PollInterval is the fixed cadence at which coach panels refetch call state
	PollInterval time.Duration `json:"poll_interval" env:"COACHING_POLL_INTERVAL" default:"3s"`

	// MaxActivePrompts caps the number of unacknowledged prompts surfaced per call
	MaxActivePrompts int `json:"max_active_prompts" env:"COACHING_MAX_ACTIVE_PROMPTS" default:"5"`

	// SessionRetention is how long a completed call stays in the registry
	// before it is evicted (it remains in the database afterwards)
	SessionRetention time.Duration `json:"session_retention" env:"COACHING_SESSION_RETENTION" default:"1h"`

	// CleanupInterval is how often the registry sweeps for expired sessions
	CleanupInterval time.Duration `json:"cleanup_interval" env:"COACHING_CLEANUP_INTERVAL" default:"10m"`
}

// DatabaseConfig holds the SQLite persistence configuration
type DatabaseConfig struct {
	Path string `json:"path" env:"DATABASE_PATH" default:"coachcall.db"`
}

// MessagingConfig holds the AMQP event publishing configuration
type MessagingConfig struct {
	// URL is the AMQP broker URL; messaging is disabled when empty
	URL          string `json:"url" env:"AMQP_URL"`
	ExchangeName string `json:"exchange_name" env:"AMQP_EXCHANGE" default:"coaching.events"`
	RoutingKey   string `json:"routing_key" env:"AMQP_ROUTING_KEY" default:"coaching"`
}

// LoggingConfig holds the logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
}

// Enabled reports whether AMQP event publishing is configured
func (m MessagingConfig) Enabled() bool {
	return m.URL != ""
}

// Load loads the configuration from .env files and environment variables
func Load(logger *logrus.Logger) (*Config, error) {
	loadDotEnv(logger)

	config := &Config{
		HTTP: HTTPConfig{
			Port:          getEnvInt("HTTP_PORT", 8080),
			ReadTimeout:   getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			EnableMetrics: getEnvBool("HTTP_ENABLE_METRICS", true),
		},
		Coaching: CoachingConfig{
			PollInterval:     getEnvDuration("COACHING_POLL_INTERVAL", 3*time.Second),
			MaxActivePrompts: getEnvInt("COACHING_MAX_ACTIVE_PROMPTS", 5),
			SessionRetention: getEnvDuration("COACHING_SESSION_RETENTION", time.Hour),
			CleanupInterval:  getEnvDuration("COACHING_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "coachcall.db"),
		},
		Messaging: MessagingConfig{
			URL:          getEnv("AMQP_URL", ""),
			ExchangeName: getEnv("AMQP_EXCHANGE", "coaching.events"),
			RoutingKey:   getEnv("AMQP_ROUTING_KEY", "coaching"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return config, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.NewInvalidInput("HTTP port must be between 1 and 65535",
			map[string]interface{}{"port": c.HTTP.Port})
	}

	if c.Coaching.PollInterval < 500*time.Millisecond {
		return errors.NewInvalidInput("poll interval must be at least 500ms",
			map[string]interface{}{"poll_interval": c.Coaching.PollInterval.String()})
	}

	if c.Coaching.MaxActivePrompts < 1 {
		return errors.NewInvalidInput("max active prompts must be at least 1",
			map[string]interface{}{"max_active_prompts": c.Coaching.MaxActivePrompts})
	}

	if c.Database.Path == "" {
		return errors.NewInvalidInput("database path must not be empty")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "invalid log level",
			map[string]interface{}{"level": c.Logging.Level})
	}

	return nil
}

// ConfigureLogger applies the logging configuration to a logger
func (c *Config) ConfigureLogger(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// loadDotEnv loads a .env file if one can be found
func loadDotEnv(logger *logrus.Logger) {
	possibleEnvFiles := []string{".env", "../.env"}

	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if err := godotenv.Load(envFile); err == nil {
				absPath, _ := filepath.Abs(envFile)
				logger.WithField("path", absPath).Debug("Loaded .env file")
				return
			}
		}
	}

	logger.Debug("No .env file found, using environment variables only")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
