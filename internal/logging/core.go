package logging

import (
	"errors"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/fyrsmithlabs/profiled"

// buildCore tees the enabled outputs. The otelzap core ignores zap levels,
// so it is gated on level explicitly.
func buildCore(cfg *Config, level zap.AtomicLevel, w io.Writer, provider log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core
	if cfg.Output.Stdout {
		if w == nil {
			w = os.Stdout
		}
		cores = append(cores, zapcore.NewCore(encoderFor(cfg.Format), zapcore.AddSync(w), level))
	}
	if cfg.Output.OTEL && provider != nil {
		bridge := otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(provider))
		cores = append(cores, gate(bridge, level))
	}

	switch len(cores) {
	case 0:
		return nil, errors.New("at least one output must be enabled and available")
	case 1:
		return sample(cores[0], cfg.Sampling), nil
	default:
		return sample(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}

func encoderFor(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// sample applies cfg to entries below Error. Errors always pass.
func sample(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	errs := gate(core, zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel }))
	rest := gate(core, zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l < zapcore.ErrorLevel }))
	return zapcore.NewTee(errs, zapcore.NewSamplerWithOptions(rest, cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter))
}

// gatedCore drops entries its enabler rejects before they reach Core.
type gatedCore struct {
	zapcore.Core
	enabler zapcore.LevelEnabler
}

func gate(core zapcore.Core, enabler zapcore.LevelEnabler) zapcore.Core {
	return &gatedCore{Core: core, enabler: enabler}
}

func (c *gatedCore) Enabled(l zapcore.Level) bool {
	return c.enabler.Enabled(l) && c.Core.Enabled(l)
}

func (c *gatedCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *gatedCore) With(fields []zapcore.Field) zapcore.Core {
	return gate(c.Core.With(fields), c.enabler)
}
