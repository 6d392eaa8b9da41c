package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, cfg.JWTSecret, cfg.RefreshJWTSecret)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL())
	assert.Equal(t, 30*24*time.Hour, cfg.RefreshTTL())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("REFRESH_JWT_SECRET", "another-secret")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DEPLOY_POLL_SECONDS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "another-secret", cfg.RefreshJWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 2*time.Second, cfg.DeployPollInterval())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateAzureNeedsConnectionString(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "azblob")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AZURE_STORAGE_CONNECTION_STRING")
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "n", DBPort: "5433", DBSSLMode: "require"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5433 sslmode=require TimeZone=UTC", cfg.DSN())
}
