package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "social.events", cfg.Kafka.Topic)
	assert.Equal(t, "notifygw-delivery", cfg.Kafka.GroupID)
	assert.Equal(t, 5, cfg.Gateway.MaxConnsPerUser)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Delivery.BackoffBase)
	assert.Equal(t, 5*time.Minute, cfg.Delivery.BackoffCap)
	assert.Equal(t, 30*time.Second, cfg.Delivery.AckTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Delivery.Retention)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9999"
delivery:
  max_attempts: 7
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.Delivery.MaxAttempts)
	// untouched keys keep embedded defaults
	assert.Equal(t, "social.events", cfg.Kafka.Topic)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}
