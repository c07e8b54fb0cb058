// Package reports fans profile reports out to subscribers over NATS.
//
// Publishing is best-effort: reports are fire-and-forget messages and a
// failed publish never affects the request that produced the report.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/profiled/internal/config"
	"github.com/fyrsmithlabs/profiled/internal/stats"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config controls report publishing.
type Config struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Subject string        `koanf:"subject"`
	Token   config.Secret `koanf:"token"`
}

// NewDefaultConfig returns publishing disabled, pointed at a local server.
func NewDefaultConfig() Config {
	return Config{
		Enabled: false,
		URL:     nats.DefaultURL,
		Subject: "profiled.reports",
	}
}

// Validate checks config for errors.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return fmt.Errorf("url is required when reports are enabled")
	}
	if c.Subject == "" {
		return fmt.Errorf("subject is required when reports are enabled")
	}
	return nil
}

// Function is one row of a Report.
type Function struct {
	Name                  string  `json:"name"`
	File                  string  `json:"file,omitempty"`
	Line                  int     `json:"line,omitempty"`
	Calls                 uint64  `json:"calls"`
	PrimitiveCalls        uint64  `json:"primitive_calls"`
	TotalTimeSeconds      float64 `json:"total_time"`
	CumulativeTimeSeconds float64 `json:"cumulative_time"`
}

// Report is the published form of a snapshot.
type Report struct {
	ID         string     `json:"id"`
	Service    string     `json:"service"`
	TakenAt    time.Time  `json:"taken_at"`
	TraceID    string     `json:"trace_id,omitempty"`
	TotalCalls uint64     `json:"total_calls"`
	TotalTime  float64    `json:"total_time"`
	Functions  []Function `json:"functions"`
}

// NewReport converts snap. The trace ID is taken from ctx when present.
func NewReport(ctx context.Context, service string, snap stats.Snapshot) Report {
	r := Report{
		ID:         snap.ID().String(),
		Service:    service,
		TakenAt:    snap.TakenAt().UTC(),
		TotalCalls: snap.TotalCalls(),
		TotalTime:  snap.TotalTimeSeconds(),
		Functions:  make([]Function, 0, snap.Len()),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		r.TraceID = sc.TraceID().String()
	}

	entries := snap.Records()
	stats.SortByCumulative(entries)
	for _, e := range entries {
		f := Function{
			Name:                  e.Key.Name,
			Calls:                 e.Record.CallCount,
			PrimitiveCalls:        e.Record.PrimitiveCallCount,
			TotalTimeSeconds:      e.Record.TotalTimeSeconds,
			CumulativeTimeSeconds: e.Record.CumulativeTimeSeconds,
		}
		if loc, ok := e.Key.Location(); ok {
			f.File = loc.File
			f.Line = loc.Line
		}
		r.Functions = append(r.Functions, f)
	}
	return r
}

// Publisher delivers reports.
type Publisher interface {
	Publish(ctx context.Context, r Report) error
	Close() error
}

// NopPublisher discards reports.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Report) error { return nil }
func (NopPublisher) Close() error                          { return nil }

// NATSPublisher publishes reports as JSON on a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
	owned   bool
}

// NewNATSPublisher publishes on an existing connection. Close does not
// close nc.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}
}

// Connect dials cfg.URL and returns a publisher that owns the connection.
// The connection retries in the background if the server is not yet up.
func Connect(cfg Config, logger *zap.Logger) (*NATSPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reports config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("profiled"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	p := NewNATSPublisher(nc, cfg.Subject, logger)
	p.owned = true
	return p, nil
}

// Publish marshals r and publishes it on the configured subject.
func (p *NATSPublisher) Publish(ctx context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}

	p.logger.Debug("report published",
		zap.String("subject", p.subject),
		zap.String("report_id", r.ID),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Close flushes pending reports and closes the connection if the
// publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
