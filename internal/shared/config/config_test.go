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

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "0 8 * * *", cfg.Reminders.Schedule)
	assert.Equal(t, 30, cfg.Reminders.LeadDays)
	assert.Equal(t, int64(10<<20), cfg.Storage.MaxPhotoBytes)
	assert.Empty(t, cfg.Regions.Path)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CACHE_DRIVER", "redis")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("REMINDERS_LEAD_DAYS", "14")
	t.Setenv("PRIVACY_EXEMPT_PREFIXES", " /a, ,/b ")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 14, cfg.Reminders.LeadDays)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Privacy.ExemptPrefixes)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
}

func TestValidate(t *testing.T) {
	t.Setenv("CACHE_DRIVER", "memcached")
	_, err := Load()
	assert.ErrorContains(t, err, "CACHE_DRIVER")
}

func TestValidateProductionSecrets(t *testing.T) {
	t.Setenv("ENV", "production")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a-real-secret")
	_, err = Load()
	assert.NoError(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "aed", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=aed sslmode=disable", d.DSN())
}
