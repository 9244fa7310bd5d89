package config

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCacheKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ccbp.yaml")
	content := `
license:
  api_url: https://license.example.com/verify
  secret_key: test-secret
  cache_key: ` + validCacheKey(t) + `
  cache_path: ` + filepath.Join(dir, "license.dat") + `
  offline_grace_days: 7
rules:
  path: config/path_mapping_rules.json
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "https://license.example.com/verify", cfg.License.APIURL)
	assert.Equal(t, 7, cfg.License.OfflineGraceDays)
	assert.Equal(t, 7*24*time.Hour, cfg.License.OfflineGracePeriod())
	assert.Equal(t, 10*time.Second, cfg.License.RequestTimeout, "default should fill zero value")
	assert.Equal(t, 1, cfg.Batch.Parallelism)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing api url",
			mutate:  func(c *Config) { c.License.APIURL = "" },
			wantErr: "api_url is required",
		},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.License.SecretKey = "" },
			wantErr: "secret_key is required",
		},
		{
			name:    "missing cache key",
			mutate:  func(c *Config) { c.License.CacheKey = "" },
			wantErr: "cache_key is required",
		},
		{
			name:    "cache key not base64",
			mutate:  func(c *Config) { c.License.CacheKey = "not-base64!!!" },
			wantErr: "not valid base64",
		},
		{
			name: "cache key wrong length",
			mutate: func(c *Config) {
				c.License.CacheKey = base64.StdEncoding.EncodeToString([]byte("short"))
			},
			wantErr: "32 bytes",
		},
		{
			name:    "negative grace period",
			mutate:  func(c *Config) { c.License.OfflineGraceDays = -1 },
			wantErr: "must not be negative",
		},
		{
			name:    "zero parallelism",
			mutate:  func(c *Config) { c.Batch.Parallelism = 0 },
			wantErr: "at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			cfg.License.APIURL = "https://license.example.com/verify"
			cfg.License.SecretKey = "secret"
			cfg.License.CacheKey = validCacheKey(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodedCacheKey(t *testing.T) {
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	lc := LicenseConfig{CacheKey: base64.StdEncoding.EncodeToString(raw)}
	decoded, err := lc.DecodedCacheKey()
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ccbp.yaml")
	content := `
license:
  api_url: https://file.example.com/verify
  secret_key: file-secret
  cache_key: ` + validCacheKey(t) + `
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	t.Setenv("CCBP_LICENSE_API_URL", "https://env.example.com/verify")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com/verify", cfg.License.APIURL)
	assert.Equal(t, "file-secret", cfg.License.SecretKey)
}
