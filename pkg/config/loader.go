package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/veesix-networks/dpsync/pkg/dplane"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/dpsync/dpsync.yaml"

	DefaultAPISocket      = "/run/vpp/api.sock"
	DefaultReplyTimeout   = 2 * time.Second
	DefaultRetryInterval  = time.Second
	DefaultIfIndexOffset  = 1000
	DefaultProviderName   = "dplane_vpp"
	DefaultWorkLimit      = 100
	DefaultFPMListen      = "127.0.0.1:2620"
	DefaultAPIAddress     = "127.0.0.1:50051"
	DefaultMetricsAddress = "127.0.0.1:9105"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Dataplane.APISocket == "" {
		c.Dataplane.APISocket = DefaultAPISocket
	}
	if c.Dataplane.ReplyTimeout == 0 {
		c.Dataplane.ReplyTimeout = DefaultReplyTimeout
	}
	if c.Dataplane.RetryInterval == 0 {
		c.Dataplane.RetryInterval = DefaultRetryInterval
	}
	if c.Dataplane.IfIndexOffset == 0 {
		c.Dataplane.IfIndexOffset = DefaultIfIndexOffset
	}

	if c.Provider.Name == "" {
		c.Provider.Name = DefaultProviderName
	}
	if c.Provider.Priority == "" {
		c.Provider.Priority = dplane.PrioKernel.String()
	}
	if c.Provider.WorkLimit == 0 {
		c.Provider.WorkLimit = DefaultWorkLimit
	}

	if c.FPM.Listen == "" {
		c.FPM.Listen = DefaultFPMListen
	}
	if c.API.Address == "" {
		c.API.Address = DefaultAPIAddress
	}
	if c.Monitoring.MetricsAddress == "" {
		c.Monitoring.MetricsAddress = DefaultMetricsAddress
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	if c.Dataplane.ReplyTimeout < 0 {
		errs = append(errs, fmt.Errorf("dataplane.reply_timeout must be positive, got %s", c.Dataplane.ReplyTimeout))
	}
	if c.Dataplane.RetryInterval < 0 {
		errs = append(errs, fmt.Errorf("dataplane.retry_interval must be positive, got %s", c.Dataplane.RetryInterval))
	}
	if c.Dataplane.IfIndexOffset < 0 {
		errs = append(errs, fmt.Errorf("dataplane.ifindex_offset must be positive, got %d", c.Dataplane.IfIndexOffset))
	}

	if _, err := dplane.ParsePriority(c.Provider.Priority); err != nil {
		errs = append(errs, fmt.Errorf("provider.priority: %w", err))
	}
	if c.Provider.WorkLimit < 0 {
		errs = append(errs, fmt.Errorf("provider.work_limit must be positive, got %d", c.Provider.WorkLimit))
	}

	return errors.Join(errs...)
}
