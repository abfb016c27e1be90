package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/censys-research/shodan-ng/pkg/record"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIKey           string        `yaml:"api_key,omitempty"`
	Provider         string        `yaml:"provider,omitempty"`
	OrganizationID   string        `yaml:"organization_id,omitempty"`
	Workdir          string        `yaml:"workdir,omitempty"`
	Fields           []string      `yaml:"fields,omitempty"`
	Separator        string        `yaml:"separator,omitempty"`
	StreamTimeout    time.Duration `yaml:"stream_timeout,omitempty"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff,omitempty"`
	StatusPollEvery  int           `yaml:"status_poll_every,omitempty"`
	StatusPollPeriod time.Duration `yaml:"status_poll_interval,omitempty"`
	ScanFeedTimeout  time.Duration `yaml:"scan_feed_timeout,omitempty"`
	CompressLevel    int           `yaml:"compress_level,omitempty"`
	CacheDuration    time.Duration `yaml:"cache_duration,omitempty"`
	Workers          int           `yaml:"workers,omitempty"`
}

func (c *Config) GetAPIKey() string {
	if c == nil {
		return ""
	}
	return c.APIKey
}

func (c *Config) GetProvider() string {
	if c == nil || c.Provider == "" {
		return DefaultProvider
	}
	return c.Provider
}

func (c *Config) GetOrganizationID() string {
	if c == nil {
		return ""
	}
	return c.OrganizationID
}

// GetWorkdir returns the directory holding the config file and caches (~/.shodan-ng by default).
func (c *Config) GetWorkdir() string {
	if c == nil || c.Workdir == "" {
		return DefaultWorkdir()
	}
	return c.Workdir
}

func (c *Config) GetFields() []string {
	if c == nil || len(c.Fields) == 0 {
		return record.DefaultFields
	}
	return c.Fields
}

func (c *Config) GetSeparator() string {
	if c == nil || c.Separator == "" {
		return DefaultSeparator
	}
	return c.Separator
}

func (c *Config) GetStreamTimeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.StreamTimeout
}

func (c *Config) GetReconnectBackoff() time.Duration {
	if c == nil || c.ReconnectBackoff <= 0 {
		return DefaultReconnectBackoff
	}
	return c.ReconnectBackoff
}

func (c *Config) GetStatusPollEvery() int {
	if c == nil || c.StatusPollEvery <= 0 {
		return DefaultStatusPollEvery
	}
	return c.StatusPollEvery
}

// GetStatusPollInterval is the wall-clock time between status polls of a submitted scan.
func (c *Config) GetStatusPollInterval() time.Duration {
	if c == nil || c.StatusPollPeriod <= 0 {
		return DefaultStatusPollInterval
	}
	return c.StatusPollPeriod
}

// GetScanFeedTimeout is the idle timeout requested for the port feed of an internet scan.
func (c *Config) GetScanFeedTimeout() time.Duration {
	if c == nil || c.ScanFeedTimeout <= 0 {
		return DefaultScanFeedTimeout
	}
	return c.ScanFeedTimeout
}

func (c *Config) GetCompressLevel() int {
	if c == nil || c.CompressLevel == 0 {
		return DefaultCompressLevel
	}
	return c.CompressLevel
}

func (c *Config) GetCacheDuration() time.Duration {
	if c == nil {
		return DefaultCacheDuration
	}
	return c.CacheDuration
}

func (c *Config) GetWorkers() int {
	if c == nil || c.Workers <= 0 {
		return DefaultWorkers
	}
	return c.Workers
}

// CacheDir is where cached API answers live.
func (c *Config) CacheDir() string {
	return filepath.Join(c.GetWorkdir(), "cache")
}

type ConfigOption func(*Config)

func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

func WithProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

func WithOrganizationID(org string) ConfigOption {
	return func(c *Config) {
		c.OrganizationID = org
	}
}

func WithWorkdir(workdir string) ConfigOption {
	return func(c *Config) {
		c.Workdir = workdir
	}
}

func WithFields(fields []string) ConfigOption {
	return func(c *Config) {
		c.Fields = fields
	}
}

func WithSeparator(sep string) ConfigOption {
	return func(c *Config) {
		c.Separator = sep
	}
}

func WithCacheDuration(duration time.Duration) ConfigOption {
	return func(c *Config) {
		c.CacheDuration = duration
	}
}

func WithWorkers(workers int) ConfigOption {
	return func(c *Config) {
		c.Workers = workers
	}
}

// NewConfig returns the defaults. Fields and Separator stay empty so each command keeps its own
// columns unless the config file sets them.
func NewConfig(options ...ConfigOption) *Config {
	config := &Config{
		Provider:         DefaultProvider,
		ReconnectBackoff: DefaultReconnectBackoff,
		StatusPollEvery:  DefaultStatusPollEvery,
		CompressLevel:    DefaultCompressLevel,
		CacheDuration:    DefaultCacheDuration,
		Workers:          DefaultWorkers,
	}

	for _, option := range options {
		option(config)
	}

	return config
}

// Parse reads a config document. Keys left out of the document keep their defaults.
func Parse(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	config := NewConfig()

	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

func ParseFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}
