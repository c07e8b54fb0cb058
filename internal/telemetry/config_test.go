package telemetry

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/profiled/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "profiled", cfg.ServiceName)
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Metrics.Prometheus)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())
	require.NoError(t, cfg.Validate())
}

func validConfig() *Config {
	return &Config{
		Enabled:        true,
		Endpoint:       "localhost:4317",
		ServiceName:    "test",
		ServiceVersion: "0.1.0",
		Sampling:       SamplingConfig{Rate: 1.0},
		Shutdown:       ShutdownConfig{Timeout: config.Duration(time.Second)},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "disabled skips validation", mutate: func(c *Config) { *c = Config{} }},
		{name: "missing endpoint", mutate: func(c *Config) { c.Endpoint = "" }, errMsg: "endpoint is required"},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, errMsg: "service_name is required"},
		{name: "missing service version", mutate: func(c *Config) { c.ServiceVersion = "" }, errMsg: "service_version is required"},
		{name: "unknown protocol", mutate: func(c *Config) { c.Protocol = "thrift" }, errMsg: "protocol must be"},
		{name: "http protocol", mutate: func(c *Config) { c.Protocol = ProtocolHTTP }},
		{name: "sampling rate too low", mutate: func(c *Config) { c.Sampling.Rate = -0.1 }, errMsg: "sampling.rate must be between 0 and 1"},
		{name: "sampling rate too high", mutate: func(c *Config) { c.Sampling.Rate = 1.1 }, errMsg: "sampling.rate must be between 0 and 1"},
		{
			name: "invalid metrics export interval",
			mutate: func(c *Config) {
				c.Metrics = MetricsConfig{Enabled: true, ExportInterval: config.Duration(0)}
			},
			errMsg: "metrics.export_interval must be positive",
		},
		{
			name:   "prometheus only needs no interval",
			mutate: func(c *Config) { c.Metrics = MetricsConfig{Prometheus: true} },
		},
		{name: "invalid shutdown timeout", mutate: func(c *Config) { c.Shutdown.Timeout = 0 }, errMsg: "shutdown.timeout must be positive"},
		{
			name: "TLS to remote endpoint",
			mutate: func(c *Config) {
				c.Endpoint = "collector.prod:4317"
				c.Insecure = false
			},
		},
		{
			name: "insecure to remote endpoint",
			mutate: func(c *Config) {
				c.Endpoint = "collector.prod:4317"
				c.Insecure = true
			},
			errMsg: "insecure connections to remote endpoints are not allowed",
		},
		{
			name: "insecure to loopback",
			mutate: func(c *Config) {
				c.Endpoint = "127.0.0.1:4317"
				c.Insecure = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		isLocal  bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"http://localhost:4318", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.1", true},
		{"127.0.1.1:4317", true},
		{"[::1]:4317", true},
		{"::1:4317", true},
		{"::1", true},
		{"collector.prod:4317", false},
		{"https://otel.example.com:4318", false},
		{"192.168.1.1:4317", false},
		{"10.0.0.1:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.isLocal, cfg.isLocalEndpoint())
		})
	}
}
