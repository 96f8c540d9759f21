package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			User:   "test",
			DBName: "test",
		},
		Scheduler: SchedulerConfig{
			DefaultIntervalSeconds: 60,
			Mailbox:                "INBOX",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	config := validConfig()
	assert.NoError(t, config.Validate())

	// Missing server port
	invalid := validConfig()
	invalid.Server.Port = ""
	assert.Error(t, invalid.Validate())

	// Missing database settings
	invalid = validConfig()
	invalid.Database.User = ""
	assert.Error(t, invalid.Validate())

	// SMTP host without a from address
	invalid = validConfig()
	invalid.SMTP.Host = "smtp.example.com"
	assert.Error(t, invalid.Validate())

	invalid.SMTP.From = "support@example.com"
	assert.NoError(t, invalid.Validate())

	// Interval must be positive
	invalid = validConfig()
	invalid.Scheduler.DefaultIntervalSeconds = 0
	assert.Error(t, invalid.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := config.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, dsn)
}

func TestIMAPConfigured(t *testing.T) {
	// Absent account is legal and simply not configured
	empty := IMAPConfig{}
	assert.False(t, empty.Configured())

	password := IMAPConfig{
		Host:     "imap.example.com",
		Username: "support@example.com",
		Password: "secret",
	}
	assert.True(t, password.Configured())

	missingPassword := password
	missingPassword.Password = ""
	assert.False(t, missingPassword.Configured())

	oauth := IMAPConfig{
		Host:         "imap.example.com",
		Username:     "support@example.com",
		UseOAuth:     true,
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "token",
	}
	assert.True(t, oauth.Configured())

	missingToken := oauth
	missingToken.RefreshToken = ""
	assert.False(t, missingToken.Configured())
}
