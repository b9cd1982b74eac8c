package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		JWTSecret:                "secure-secret-at-least-32-chars-long",
		DBPassword:               "secure-password",
		Port:                     "8080",
		DBConnMaxLifetimeMinutes: 1,
		RedisURL:                 "redis://localhost:6379",
		DBSchemaMode:             SchemaModeHybrid,
		DispatchQueueSize:        16,
		TracingSampleRatio:       1,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with empty SSL mode", "prod", "", true},
		{"Prod with disable SSL mode", "prod", "disable", true},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateSchemaMode(t *testing.T) {
	c := validConfig()
	for _, mode := range []string{"", SchemaModeHybrid, SchemaModeSQL, SchemaModeAuto} {
		c.DBSchemaMode = mode
		assert.NoError(t, c.Validate(), mode)
	}
	c.DBSchemaMode = "yolo"
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateRejectsDestructiveAutoMigrateInProduction(t *testing.T) {
	c := validConfig()
	c.Env = "production"
	c.DBSSLMode = "require"
	c.DBAutoMigrateAllowDestructive = true
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateSampleRatio(t *testing.T) {
	c := validConfig()
	c.TracingSampleRatio = 1.5
	assert.Error(t, c.Validate())
}

func TestLoadConfig_Defaults(t *testing.T) {
	defer viper.Reset()
	defer os.Unsetenv("APP_ENV")
	os.Setenv("APP_ENV", "development")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, SchemaModeHybrid, c.DBSchemaMode)
	assert.Equal(t, 1024, c.DispatchQueueSize)
	assert.Equal(t, 500, c.ChatMigrationBatchSize)
	assert.Equal(t, "parley_bot", c.AssistantUsername)
	assert.True(t, c.AssistantEnabled)
}

func TestLoadConfig_SSLModeNormalization(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_SSLMODE")
	defer viper.Reset()

	os.Setenv("APP_ENV", "development")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")

	c, err := LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
}
