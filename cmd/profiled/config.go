package main

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/profiled/internal/config"
	httpserver "github.com/fyrsmithlabs/profiled/internal/http"
	"github.com/fyrsmithlabs/profiled/internal/logging"
	"github.com/fyrsmithlabs/profiled/internal/reports"
	"github.com/fyrsmithlabs/profiled/internal/telemetry"
	"github.com/fyrsmithlabs/profiled/internal/workload"
)

// appConfig is the full profiled configuration.
type appConfig struct {
	Server    httpserver.Config       `koanf:"server"`
	Telemetry telemetry.Config        `koanf:"telemetry"`
	Logging   logging.Config          `koanf:"logging"`
	Workload  workload.Config         `koanf:"workload"`
	Limits    httpserver.LimitsConfig `koanf:"limits"`
	Reports   reports.Config          `koanf:"reports"`
}

func newDefaultAppConfig() *appConfig {
	return &appConfig{
		Server:    *httpserver.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Logging:   *logging.NewDefaultConfig(),
		Workload:  workload.NewDefaultConfig(),
		Limits: httpserver.LimitsConfig{
			ProfileRate:  5,
			ProfileBurst: 10,
		},
		Reports: reports.NewDefaultConfig(),
	}
}

// loadConfig layers the config file and PROFILED_* environment variables
// over the defaults and validates every section.
func loadConfig(path string) (*appConfig, error) {
	cfg := newDefaultAppConfig()
	if err := config.Load(path, config.DefaultEnvPrefix, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and reports all failures.
func (c *appConfig) Validate() error {
	var errs []error
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Workload.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("workload: %w", err))
	}
	if c.Limits.ProfileRate < 0 || c.Limits.ProfileBurst < 0 {
		errs = append(errs, fmt.Errorf("limits: profile_rate and profile_burst must be >= 0"))
	}
	if err := c.Reports.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("reports: %w", err))
	}
	return errors.Join(errs...)
}
