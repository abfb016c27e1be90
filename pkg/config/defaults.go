package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/censys-research/shodan-ng/pkg/record"
)

const (
	ProviderShodan = "shodan"
	ProviderCensys = "censys"

	DefaultProvider           = ProviderShodan
	DefaultSeparator          = record.DefaultSeparator
	DefaultReconnectBackoff   = 2 * time.Second
	DefaultStatusPollEvery    = 10000
	DefaultStatusPollInterval = time.Minute
	DefaultScanFeedTimeout    = 90 * time.Second
	DefaultCompressLevel      = 9
	DefaultCacheDuration      = 23 * time.Hour
	DefaultWorkers            = 4

	// FileName is the config file inside the workdir.
	FileName = "config.yaml"
)

// Environment variables that override the config file.
const (
	EnvAPIKey      = "SHODAN_API_KEY"
	EnvCensysToken = "CENSYS_PLATFORM_TOKEN"
	EnvCensysOrgID = "CENSYS_PLATFORM_ORGID"
	EnvWorkdir     = "SHODAN_NG_HOME"
)


// DefaultWorkdir is ~/.shodan-ng, or SHODAN_NG_HOME when set.
func DefaultWorkdir() string {
	if dir := os.Getenv(EnvWorkdir); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".shodan-ng"
	}

	return filepath.Join(home, ".shodan-ng")
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() string {
	return filepath.Join(DefaultWorkdir(), FileName)
}
