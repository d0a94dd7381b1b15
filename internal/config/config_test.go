package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 10, cfg.Batch.MunicipalitiesPerBatch)
	assert.Equal(t, 150.0, cfg.Spatial.MaxDistanceMeters)
	require.Len(t, cfg.Geocoder.Providers, 1)
	assert.True(t, cfg.Geocoder.Providers[0].Public)
	assert.Equal(t, time.Second, cfg.Geocoder.Providers[0].MinDelay)
	assert.Equal(t, 2*time.Second, cfg.Geocoder.Retry.InitialDelay)
	assert.Equal(t, "127.0.0.1:9108", cfg.Metrics.Listen)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
geocoder:
  providers:
    - name: local
      url: http://localhost:8080
      public: false
      min_delay: 0s
      timeout: 5s
  retry:
    max_retries: 5
    initial_delay: 100ms
    max_delay: 1s
    multiplier: 1.5
spatial:
  max_distance_meters: 75
control:
  mode: auto
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("PARCEL_BATCH_WORKERS", "12")
	t.Setenv("PGHOST", "db.internal")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Batch.Workers)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 75.0, cfg.Spatial.MaxDistanceMeters)
	assert.Equal(t, "auto", cfg.Control.Mode)
	require.Len(t, cfg.Geocoder.Providers, 1)
	assert.Equal(t, "local", cfg.Geocoder.Providers[0].Name)
	assert.False(t, cfg.Geocoder.Providers[0].Public)
	assert.Equal(t, 5, cfg.Geocoder.Retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Geocoder.Retry.InitialDelay)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown gate mode", func(c *Config) { c.Control.Mode = "carrier-pigeon" }},
		{"zero batch size", func(c *Config) { c.Batch.MunicipalitiesPerBatch = 0 }},
		{"no providers", func(c *Config) { c.Geocoder.Providers = nil }},
		{"provider url", func(c *Config) { c.Geocoder.Providers[0].URL = "not a url" }},
		{"max below initial", func(c *Config) { c.Geocoder.Retry.MaxDelay = time.Millisecond }},
		{"write batch over bind limit", func(c *Config) { c.Batch.WriteBatchSize = 2600 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=n sslmode=disable", d.DSN())
}
