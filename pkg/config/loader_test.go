package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DefaultAPISocket, cfg.Dataplane.APISocket)
	assert.Equal(t, 2*time.Second, cfg.Dataplane.ReplyTimeout)
	assert.Equal(t, time.Second, cfg.Dataplane.RetryInterval)
	assert.Equal(t, 1000, cfg.Dataplane.IfIndexOffset)
	assert.Equal(t, "dplane_vpp", cfg.Provider.Name)
	assert.Equal(t, "kernel", cfg.Provider.Priority)
	assert.Equal(t, 100, cfg.Provider.WorkLimit)
	assert.Equal(t, DefaultFPMListen, cfg.FPM.Listen)
	assert.True(t, cfg.Kernel.IsEnabled())
	assert.Equal(t, DefaultAPIAddress, cfg.API.Address)
	assert.Equal(t, DefaultMetricsAddress, cfg.Monitoring.MetricsAddress)
	assert.Equal(t, cfg, Default())
}

func TestLoad(t *testing.T) {
	data := `
logging:
  format: json
  level: debug
  components:
    provider.conn: warn
dataplane:
  api_socket: /tmp/api.sock
  reply_timeout: 500ms
  retry_interval: 3s
  ifindex_offset: 2000
provider:
  priority: post-kernel
  work_limit: 16
kernel:
  enabled: false
  netns: frr
`
	path := filepath.Join(t.TempDir(), "dpsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, map[string]string{"provider.conn": "warn"}, cfg.Logging.Components)
	assert.Equal(t, "/tmp/api.sock", cfg.Dataplane.APISocket)
	assert.Equal(t, 500*time.Millisecond, cfg.Dataplane.ReplyTimeout)
	assert.Equal(t, 3*time.Second, cfg.Dataplane.RetryInterval)
	assert.Equal(t, 2000, cfg.Dataplane.IfIndexOffset)
	assert.Equal(t, "post-kernel", cfg.Provider.Priority)
	assert.Equal(t, 16, cfg.Provider.WorkLimit)
	assert.False(t, cfg.Kernel.IsEnabled())
	assert.Equal(t, "frr", cfg.Kernel.NetNS)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "priority", data: "provider: {priority: first}", want: "provider.priority"},
		{name: "work limit", data: "provider: {work_limit: -1}", want: "provider.work_limit"},
		{name: "retry interval", data: "dataplane: {retry_interval: -1s}", want: "dataplane.retry_interval"},
		{name: "reply timeout", data: "dataplane: {reply_timeout: -2s}", want: "dataplane.reply_timeout"},
		{name: "offset", data: "dataplane: {ifindex_offset: -5}", want: "dataplane.ifindex_offset"},
		{name: "log format", data: "logging: {format: xml}", want: "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, Default()))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
