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

	assert.Equal(t, "sqlite3", cfg.DB.Driver)
	assert.Equal(t, 60*time.Second, cfg.Cache.LotsTTL)
	assert.Equal(t, 30*time.Second, cfg.Cache.SpotsTTL)
	assert.Equal(t, "local", cfg.Jobs.Transport)
	assert.Equal(t, 4, cfg.Engine.MaxAttempts)
	assert.Equal(t, 1025, cfg.Mail.Port)
	assert.True(t, cfg.App.IsDev())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PARKING_DB_DRIVER", "mysql")
	t.Setenv("PARKING_DB_HOST", "db")
	t.Setenv("PARKING_DB_NAME", "parking")
	t.Setenv("PARKING_JOBS_TRANSPORT", "amqp")
	t.Setenv("PARKING_SCHEDULER_INTERVAL", "2m")
	t.Setenv("PARKING_CACHE_PREFIX", "stage")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.DB.Driver)
	assert.Equal(t, "db", cfg.DB.Host)
	assert.Equal(t, "amqp", cfg.Jobs.Transport)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "stage", cfg.Cache.Prefix)
}

func TestLoadRejectsBadCombinations(t *testing.T) {
	cases := map[string]map[string]string{
		"mysql without host": {"PARKING_DB_DRIVER": "mysql"},
		"unknown driver":     {"PARKING_DB_DRIVER": "oracle"},
		"unknown transport":  {"PARKING_JOBS_TRANSPORT": "kafka"},
		"zero workers":       {"PARKING_JOBS_WORKERS": "0"},
		"prod default jwt":   {"PARKING_APP_ENV": "prod"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
