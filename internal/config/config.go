package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
	Unsubscribe UnsubscribeConfig `mapstructure:"unsubscribe"`
	Client      ClientConfig      `mapstructure:"client"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration.
// Driver is mysql or sqlite; Path is only used by sqlite.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// AuthConfig lists the bearer tokens accepted by the API
type AuthConfig struct {
	Tokens       []string `mapstructure:"tokens"`
	WorkerTokens []string `mapstructure:"worker_tokens"`
}

// SweeperConfig controls the periodic cleanup of task records
type SweeperConfig struct {
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	Retention       time.Duration `mapstructure:"retention"`
}

// UnsubscribeConfig controls the synchronous unsubscribe endpoint
type UnsubscribeConfig struct {
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
}

// ClientConfig holds CLI client configuration
type ClientConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxWaitAttempts int           `mapstructure:"max_wait_attempts"`
	PageSize        int           `mapstructure:"page_size"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// LogConfig selects the log level and format (json or text)
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from environment variables and config file.
// An empty path searches for config.yaml in . and ./config.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigWith(viper.New(), path)
}

// LoadConfigWith is LoadConfig on a caller-supplied viper instance, so
// command-line flags bound to v take precedence.
func LoadConfigWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Set defaults
	setDefaults(v)

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()

	// Bind environment variables
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Auth.Tokens = splitList(config.Auth.Tokens)
	config.Auth.WorkerTokens = splitList(config.Auth.WorkerTokens)

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.path", "emailtidy.db")

	v.SetDefault("sweeper.interval_minutes", 5)
	v.SetDefault("sweeper.stale_after", "1h")
	v.SetDefault("sweeper.retention", "168h")

	v.SetDefault("unsubscribe.sync_timeout", "20s")

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.poll_interval", "1s")
	v.SetDefault("client.max_wait_attempts", 15)
	v.SetDefault("client.page_size", 10)
	v.SetDefault("client.request_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Auth
	v.BindEnv("auth.tokens", "AUTH_TOKENS")
	v.BindEnv("auth.worker_tokens", "WORKER_TOKENS")

	// Sweeper
	v.BindEnv("sweeper.interval_minutes", "SWEEPER_INTERVAL_MINUTES")
	v.BindEnv("sweeper.stale_after", "SWEEPER_STALE_AFTER")
	v.BindEnv("sweeper.retention", "SWEEPER_RETENTION")

	v.BindEnv("unsubscribe.sync_timeout", "UNSUBSCRIBE_SYNC_TIMEOUT")

	// Client
	v.BindEnv("client.base_url", "EMAILTIDY_BASE_URL")
	v.BindEnv("client.token", "EMAILTIDY_TOKEN")
	v.BindEnv("client.poll_interval", "EMAILTIDY_POLL_INTERVAL")
	v.BindEnv("client.max_wait_attempts", "EMAILTIDY_MAX_WAIT_ATTEMPTS")
	v.BindEnv("client.page_size", "EMAILTIDY_PAGE_SIZE")
	v.BindEnv("client.request_timeout", "EMAILTIDY_REQUEST_TIMEOUT")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
}

// splitList accepts both YAML lists and comma separated env values
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if len(c.Auth.Tokens) == 0 {
		return fmt.Errorf("at least one auth token is required")
	}

	if c.Sweeper.IntervalMinutes <= 0 {
		return fmt.Errorf("sweeper interval must be greater than 0")
	}

	if c.Unsubscribe.SyncTimeout <= 0 {
		return fmt.Errorf("unsubscribe sync timeout must be greater than 0")
	}

	return nil
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be greater than 0")
	}
	if c.MaxWaitAttempts <= 0 {
		return fmt.Errorf("max wait attempts must be greater than 0")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be greater than 0")
	}
	return nil
}
