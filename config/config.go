// Package config loads and watches the relying-party configuration
// file.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/oidcrp/observability"
	"github.com/vyrodovalexey/oidcrp/oidc"
)

// Config is the root configuration.
type Config struct {
	Logging   observability.LogConfig `yaml:"logging"`
	Cache     CacheConfig             `yaml:"cache"`
	Providers []ProviderConfig        `yaml:"providers"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	// Backend is either memory or redis.
	Backend string `yaml:"backend"`

	// RedisURL is the redis connection URL, required for the redis
	// backend.
	RedisURL string `yaml:"redisUrl"`

	// MaxEntries bounds the memory backend.
	MaxEntries int `yaml:"maxEntries"`
}

// ProviderConfig describes one identity provider.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	DiscoveryURL string   `yaml:"discoveryUrl"`
	Issuer       string   `yaml:"issuer"`
	Audience     string   `yaml:"audience"`
	AllowedAlgs  []string `yaml:"allowedAlgs"`
	ClockSkew    Duration `yaml:"clockSkew"`
	CacheTTL     Duration `yaml:"cacheTtl"`
}

// ToOIDC converts the provider block into the oidc package's config.
func (p *ProviderConfig) ToOIDC() *oidc.Config {
	return &oidc.Config{
		Name:         p.Name,
		DiscoveryURL: p.DiscoveryURL,
		Issuer:       p.Issuer,
		Audience:     p.Audience,
		AllowedAlgs:  p.AllowedAlgs,
		ClockSkew:    p.ClockSkew.Duration(),
		CacheTTL:     p.CacheTTL.Duration(),
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates configuration bytes. Unknown fields are
// rejected so typos surface at load time.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache: redisUrl is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Cache.Backend)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.DiscoveryURL == "" {
			return fmt.Errorf("provider %q: discoveryUrl is required", p.Name)
		}
		if p.Issuer == "" {
			return fmt.Errorf("provider %q: issuer is required", p.Name)
		}
		if p.Audience == "" {
			return fmt.Errorf("provider %q: audience is required", p.Name)
		}
	}

	return nil
}

// Provider returns the provider block with the given name.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}
