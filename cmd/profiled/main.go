// Profiled is a demonstration server that profiles its own work and exports
// the resulting call statistics as OpenTelemetry spans and metrics.
//
// Usage:
//
//	# Start the server with defaults (0.0.0.0:8080, OTLP to localhost:4317)
//	profiled serve
//
//	# Override via environment
//	PROFILED_SERVER_PORT=9090 PROFILED_TELEMETRY_ENDPOINT=collector:4317 profiled serve
//
//	# Fetch the current profile report from a running server
//	profiled report --server http://localhost:8080
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "profiled",
		Short: "Profile-to-telemetry demonstration server",
		Long: `profiled serves an instrumented unit of work at GET / and exports the
accumulated call statistics to OpenTelemetry on every GET /profile.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "profiled by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
