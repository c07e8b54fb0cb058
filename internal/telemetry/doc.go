// Package telemetry provides OpenTelemetry instrumentation for profiled.
//
// # Overview
//
// Traces and metrics are exported over OTLP (gRPC by default, HTTP/protobuf
// optional) to a collector. Spans go through a batch span processor and
// metrics through a periodic reader, so recording never waits on the
// network. Metrics can additionally be scraped from a Prometheus registry
// exposed by MetricsHandler.
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg, telemetry.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("github.com/fyrsmithlabs/profiled/internal/export")
//	meter := tel.Meter("github.com/fyrsmithlabs/profiled/internal/export")
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: "grpc"          # or "http/protobuf"
//	  service_name: "profiled"
//	  service_version: "1.0.0"
//	  insecure: true
//	  sampling:
//	    rate: 1.0
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//	    prometheus: true
//
// # Error Handling
//
// Telemetry failures do not crash the application. If a provider cannot be
// initialized, the instance is marked degraded and returns no-op providers.
// Delivery errors reported by the SDK are logged through RouteErrors.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
