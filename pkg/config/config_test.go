package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc := `
api_key: abc123
fields: [ip_str, port, org]
separator: ","
stream_timeout: 90s
cache_duration: 1h
status_poll_interval: 2m
scan_feed_timeout: 5m
`
	cfg, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "abc123", cfg.GetAPIKey())
	assert.Equal(t, []string{"ip_str", "port", "org"}, cfg.GetFields())
	assert.Equal(t, ",", cfg.GetSeparator())
	assert.Equal(t, 90*time.Second, cfg.GetStreamTimeout())
	assert.Equal(t, time.Hour, cfg.GetCacheDuration())
	assert.Equal(t, 2*time.Minute, cfg.GetStatusPollInterval())
	assert.Equal(t, 5*time.Minute, cfg.GetScanFeedTimeout())

	// untouched keys keep their defaults
	assert.Equal(t, ProviderShodan, cfg.GetProvider())
	assert.Equal(t, DefaultStatusPollEvery, cfg.GetStatusPollEvery())
	assert.Equal(t, DefaultReconnectBackoff, cfg.GetReconnectBackoff())
	assert.Equal(t, DefaultWorkers, cfg.GetWorkers())
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, record.DefaultFields, cfg.GetFields())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(strings.NewReader("fields: {nope"))
	assert.Error(t, err)
}

func TestNilConfig(t *testing.T) {
	var cfg *Config

	assert.Empty(t, cfg.GetAPIKey())
	assert.Equal(t, DefaultProvider, cfg.GetProvider())
	assert.Equal(t, record.DefaultFields, cfg.GetFields())
	assert.Equal(t, DefaultSeparator, cfg.GetSeparator())
	assert.Equal(t, DefaultCompressLevel, cfg.GetCompressLevel())
	assert.Equal(t, DefaultCacheDuration, cfg.GetCacheDuration())
	assert.Zero(t, cfg.GetStreamTimeout())
	assert.Equal(t, DefaultStatusPollInterval, cfg.GetStatusPollInterval())
	assert.Equal(t, DefaultScanFeedTimeout, cfg.GetScanFeedTimeout())
}

func TestNewConfig_Options(t *testing.T) {
	cfg := NewConfig(
		WithAPIKey("k"),
		WithProvider(ProviderCensys),
		WithOrganizationID("org"),
		WithWorkdir("/tmp/x"),
		WithFields([]string{"ip_str"}),
		WithSeparator("|"),
		WithCacheDuration(0),
		WithWorkers(8),
	)

	assert.Equal(t, "k", cfg.GetAPIKey())
	assert.Equal(t, ProviderCensys, cfg.GetProvider())
	assert.Equal(t, "org", cfg.GetOrganizationID())
	assert.Equal(t, filepath.Join("/tmp/x", "cache"), cfg.CacheDir())
	assert.Equal(t, []string{"ip_str"}, cfg.GetFields())
	assert.Equal(t, "|", cfg.GetSeparator())
	assert.Zero(t, cfg.GetCacheDuration())
	assert.Equal(t, 8, cfg.GetWorkers())
}

func TestSaveLoad(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvCensysOrgID, "")

	path := filepath.Join(t.TempDir(), "nested", FileName)

	require.NoError(t, NewConfig(WithAPIKey("secret")).Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.GetAPIKey())
	assert.Equal(t, DefaultCacheDuration, cfg.GetCacheDuration())
}

func TestLoad_Missing(t *testing.T) {
	t.Setenv(EnvAPIKey, "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GetAPIKey())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIKey:      "shodan-key",
		EnvCensysToken: "censys-token",
		EnvCensysOrgID: "org-1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	shodan := NewConfig(WithAPIKey("file-key"))
	shodan.applyEnv(lookup)
	assert.Equal(t, "shodan-key", shodan.GetAPIKey())

	censys := NewConfig(WithProvider(ProviderCensys))
	censys.applyEnv(lookup)
	assert.Equal(t, "censys-token", censys.GetAPIKey())
	assert.Equal(t, "org-1", censys.GetOrganizationID())
}
