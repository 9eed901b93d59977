package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	mdns "github.com/miekg/dns"
	"go.yaml.in/yaml/v3"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	DefaultListen   = "0.0.0.0:3000"
	DefaultProvider = "porkbun"
)

// Config holds the service settings and the provider-specific connection settings.
type Config struct {
	Listen         string            `yaml:"listen"`
	Domain         string            `yaml:"domain"`
	Token          string            `yaml:"token"`
	TrustedProxies []string          `yaml:"trusted_proxies"`
	Provider       string            `yaml:"provider"`
	Settings       map[string]string `yaml:"settings"`
}

// Default returns a Config with defaults applied and nothing else set.
func Default() *Config {
	return &Config{
		Listen:   DefaultListen,
		Provider: DefaultProvider,
		Settings: map[string]string{},
	}
}

// Load reads the configuration from the path in the DYNDNS_CONFIG environment
// variable. When the variable is unset the defaults are returned.
func Load() (*Config, error) {
	path := os.Getenv("DYNDNS_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from the given YAML file. Unset keys keep
// their defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Settings == nil {
		cfg.Settings = map[string]string{}
	}

	// Expand ${ENV_VAR} references in secrets and setting values.
	cfg.Token = os.ExpandEnv(cfg.Token)
	for k, v := range cfg.Settings {
		cfg.Settings[k] = os.ExpandEnv(v)
	}

	return cfg, nil
}

// Validate checks that the configuration can serve requests.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: missing listen address")
	}
	if err := validateListen(c.Listen); err != nil {
		return err
	}
	if c.Provider == "" {
		return fmt.Errorf("config: missing required field 'provider'")
	}
	if c.Domain == "" {
		return fmt.Errorf("config: missing required field 'domain'")
	}
	if _, ok := mdns.IsDomainName(c.Domain); !ok {
		return fmt.Errorf("config: %q is not a valid domain name", c.Domain)
	}
	if mdns.CountLabel(c.Domain) < 2 {
		return fmt.Errorf("config: domain %q must have at least two labels", c.Domain)
	}
	return nil
}

func validateListen(listen string) error {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("config: invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("config: invalid listen port %q", portStr)
	}
	if errs := validation.IsValidPortNum(port); len(errs) > 0 {
		return fmt.Errorf("config: invalid listen port %d: %s", port, strings.Join(errs, "; "))
	}
	return nil
}
