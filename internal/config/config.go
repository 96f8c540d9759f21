package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// IMAPConfig holds the inbound mailbox account configuration.
// When UseOAuth is set, the poller logs in with OAUTHBEARER using the
// OAuth client credentials and refresh token; otherwise it uses a
// plain password login.
type IMAPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	UseOAuth     bool          `mapstructure:"use_oauth"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RefreshToken string        `mapstructure:"refresh_token"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

// Configured reports whether the account has enough credentials to
// attempt a connection. An unconfigured account makes the poller a
// silent no-op, not an error.
func (c *IMAPConfig) Configured() bool {
	if c.Host == "" || c.Username == "" {
		return false
	}
	if c.UseOAuth {
		return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
	}
	return c.Password != ""
}

// SMTPConfig holds the outbound mail transport configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Security string `mapstructure:"security"` // "ssl" or "starttls"
}

// SchedulerConfig holds default scheduler settings used to seed the
// polling config row on first startup
type SchedulerConfig struct {
	DefaultIntervalSeconds int    `mapstructure:"default_interval_seconds"`
	Mailbox                string `mapstructure:"mailbox"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set defaults
	setDefaults()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()

	// Bind environment variables
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("imap.port", 993)
	viper.SetDefault("imap.use_oauth", false)
	viper.SetDefault("imap.dial_timeout", "30s")

	viper.SetDefault("smtp.port", 465)
	viper.SetDefault("smtp.security", "ssl")

	viper.SetDefault("scheduler.default_interval_seconds", 60)
	viper.SetDefault("scheduler.mailbox", "INBOX")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// IMAP
	viper.BindEnv("imap.host", "IMAP_HOST")
	viper.BindEnv("imap.port", "IMAP_PORT")
	viper.BindEnv("imap.username", "IMAP_USERNAME")
	viper.BindEnv("imap.password", "IMAP_PASSWORD")
	viper.BindEnv("imap.use_oauth", "IMAP_USE_OAUTH")
	viper.BindEnv("imap.client_id", "IMAP_CLIENT_ID")
	viper.BindEnv("imap.client_secret", "IMAP_CLIENT_SECRET")
	viper.BindEnv("imap.refresh_token", "IMAP_REFRESH_TOKEN")

	// SMTP
	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.from", "SMTP_FROM")
	viper.BindEnv("smtp.security", "SMTP_SECURITY")

	// Scheduler
	viper.BindEnv("scheduler.default_interval_seconds", "SCHEDULER_DEFAULT_INTERVAL_SECONDS")
	viper.BindEnv("scheduler.mailbox", "SCHEDULER_MAILBOX")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp from address is required when smtp host is set")
	}

	if c.Scheduler.DefaultIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler default interval must be greater than 0")
	}

	// The IMAP account may legitimately be absent: the poller treats an
	// unconfigured account as a no-op rather than a startup failure.
	return nil
}
