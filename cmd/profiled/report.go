package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	httpserver "github.com/fyrsmithlabs/profiled/internal/http"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		serverURL string
		pprofOut  string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the profile report of a running server",
		Long: `Fetch GET /profile from a running profiled server and print the text
report. Every fetch also exports the snapshot to telemetry on the server.

Examples:
  # Print the report
  profiled report

  # Save the pprof profile instead
  profiled report --pprof profile.pb.gz
  go tool pprof -top profile.pb.gz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: timeout}
			base := strings.TrimRight(serverURL, "/")
			if pprofOut != "" {
				return fetchPprof(client, base, pprofOut, cmd.OutOrStdout())
			}
			return fetchReport(client, base, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "profiled server URL")
	cmd.Flags().StringVar(&pprofOut, "pprof", "", "write the gzipped pprof profile to this file instead")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

func fetchReport(client *http.Client, base string, w io.Writer) error {
	resp, err := get(client, base+"/profile")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var report httpserver.ProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprint(w, report.ProfileData)
	fmt.Fprintf(w, "\ntotal calls: %d, total time: %.6fs\n", report.TotalCalls, report.TotalTime)
	return nil
}

func fetchPprof(client *http.Client, base, path string, w io.Writer) error {
	resp, err := get(client, base+"/profile/pprof")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(w, "wrote %d bytes to %s (snapshot %s)\n", n, path, resp.Header.Get(httpserver.HeaderSnapshotID))
	return nil
}

// get performs a GET and returns the response only on 200.
func get(client *http.Client, url string) (*http.Response, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return nil, fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}
