// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic context field injection (trace_id, span_id, request id)
//   - Sampling below Error (errors never sampled)
//   - A runtime-adjustable level shared by child loggers
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, global.GetLoggerProvider())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info(ctx, "profile exported", zap.Int("functions", n))
//
// Components that take a *zap.Logger receive logger.Underlying().
//
// # Configuration Precedence
//
//  1. Defaults (NewDefaultConfig)
//  2. Config file (logging section)
//  3. Environment variables (PROFILED_LOGGING_*)
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "session finished", zap.Int("functions", 2))
//	tl.AssertField(t, "session finished", "functions", int64(2))
package logging
