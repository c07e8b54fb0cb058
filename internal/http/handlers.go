package http

import (
	"context"
	"net/http"

	"github.com/fyrsmithlabs/profiled/internal/reports"
	"github.com/fyrsmithlabs/profiled/internal/stats"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// HeaderSnapshotID carries the id of the snapshot behind a profile response.
const HeaderSnapshotID = "X-Snapshot-ID"

const helloMessage = "Hello World!"

// ProfileResponse is the response body for GET /profile.
type ProfileResponse struct {
	ProfileData string  `json:"profile_data"`
	TotalCalls  uint64  `json:"total_calls"`
	TotalTime   float64 `json:"total_time"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// handleHello runs one unit of instrumented work.
func (s *Server) handleHello(c echo.Context) error {
	ctx, span := s.tracer.Start(c.Request().Context(), "hello-operation")
	defer span.End()

	result, err := s.deps.Worker.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "work interrupted")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "work interrupted").SetInternal(err)
	}

	span.SetAttributes(
		attribute.String("custom.attribute", helloMessage),
		attribute.Int64("calculation.result", result),
	)
	return c.String(http.StatusOK, helloMessage)
}

// handleProfile snapshots the collector, exports the snapshot to telemetry
// and returns a text report. The report is then handed to the publisher.
func (s *Server) handleProfile(c echo.Context) error {
	ctx, span := s.tracer.Start(c.Request().Context(), "profile-generation")
	defer span.End()

	snap := stats.Build(s.deps.Collector)
	s.deps.Exporter.Export(ctx, snap)

	span.SetAttributes(
		attribute.String("profile.snapshot_id", snap.ID().String()),
		attribute.Int("profile.functions", snap.Len()),
	)

	c.Response().Header().Set(HeaderSnapshotID, snap.ID().String())
	err := c.JSON(http.StatusOK, ProfileResponse{
		ProfileData: stats.Table(snap),
		TotalCalls:  snap.TotalCalls(),
		TotalTime:   snap.TotalTimeSeconds(),
	})

	s.publish(ctx, snap)
	return err
}

// publish hands the report to the publisher; failures are logged only.
func (s *Server) publish(ctx context.Context, snap stats.Snapshot) {
	report := reports.NewReport(ctx, s.deps.ServiceName, snap)
	if err := s.deps.Publisher.Publish(ctx, report); err != nil {
		s.logger.Warn("failed to publish profile report",
			zap.String("snapshot_id", report.ID),
			zap.Error(err),
		)
	}
}

// handleProfilePprof returns the snapshot as a gzipped pprof profile.
func (s *Server) handleProfilePprof(c echo.Context) error {
	_, span := s.tracer.Start(c.Request().Context(), "profile-dump")
	defer span.End()

	snap := stats.Build(s.deps.Collector)

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, echo.MIMEOctetStream)
	h.Set(echo.HeaderContentDisposition, `attachment; filename="profile.pb.gz"`)
	h.Set(HeaderSnapshotID, snap.ID().String())
	c.Response().WriteHeader(http.StatusOK)

	if err := stats.WritePprof(c.Response(), snap); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to write pprof profile", zap.Error(err))
	}
	return nil
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: s.deps.ServiceName})
}
