package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load reads the config at path (DefaultPath when empty) and applies environment overrides. A
// missing file is not an error: defaults plus the environment are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg, err := ParseFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debugf("no config at %s, using defaults", path)
		cfg = NewConfig()
	case err != nil:
		return nil, err
	}

	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	keyVar := EnvAPIKey
	if c.GetProvider() == ProviderCensys {
		keyVar = EnvCensysToken
	}

	if v, ok := lookup(keyVar); ok && v != "" {
		c.APIKey = v
	}

	if v, ok := lookup(EnvCensysOrgID); ok && v != "" {
		c.OrganizationID = v
	}
}

// Save writes the config to path (DefaultPath when empty), readable by the owner only.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, 0o600)
}
