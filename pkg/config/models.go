package config

import "time"

type Config struct {
	Logging    Logging    `yaml:"logging"`
	Dataplane  Dataplane  `yaml:"dataplane"`
	Provider   Provider   `yaml:"provider"`
	FPM        FPM        `yaml:"fpm"`
	Kernel     Kernel     `yaml:"kernel"`
	API        API        `yaml:"api,omitempty"`
	Monitoring Monitoring `yaml:"monitoring,omitempty"`
}

type Logging struct {
	Format     string            `yaml:"format"`
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components,omitempty"`
}

type Dataplane struct {
	APISocket     string        `yaml:"api_socket"`
	ReplyTimeout  time.Duration `yaml:"reply_timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	// IfIndexOffset is added to a dataplane id to form the control-plane index.
	IfIndexOffset int `yaml:"ifindex_offset"`
}

type Provider struct {
	Name      string `yaml:"name"`
	Priority  string `yaml:"priority"`
	WorkLimit int    `yaml:"work_limit"`
}

type FPM struct {
	Listen string `yaml:"listen"`
}

type Kernel struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	NetNS   string `yaml:"netns,omitempty"`
}

func (k Kernel) IsEnabled() bool {
	return k.Enabled == nil || *k.Enabled
}

type API struct {
	Address string `yaml:"address"`
}

type Monitoring struct {
	MetricsAddress string `yaml:"metrics_address"`
}
