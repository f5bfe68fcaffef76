package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type healthcheckOptions struct {
	url     string
	timeout time.Duration
	retries int
	delay   time.Duration
}

// healthResponse mirrors the /readyz body.
type healthResponse struct {
	Status string                     `json:"status"`
	Checks map[string]json.RawMessage `json:"checks,omitempty"`
}

func newHealthcheckCommand() *cobra.Command {
	opts := &healthcheckOptions{}
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is ready",
		Long: `Performs a readiness check by calling the /readyz endpoint.

This command is used by Docker HEALTHCHECK to monitor container health.
A degraded server (for example, Redis unreachable) still counts as healthy.

Exit codes:
  0 - Server is healthy or degraded
  1 - Server is unhealthy or unreachable
  2 - Invalid response from server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := opts.url
			if url == "" {
				url = defaultHealthcheckURL()
			}

			var err error
			for attempt := 0; attempt <= opts.retries; attempt++ {
				if attempt > 0 {
					time.Sleep(opts.delay)
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				err = performHealthCheck(ctx, url)
				cancel()
				if err == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "ok")
					return nil
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "readiness URL (default: http://localhost:{SERVER_PORT}/readyz)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "timeout per attempt")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "additional attempts after a failure")
	cmd.Flags().DurationVar(&opts.delay, "retry-delay", time.Second, "delay between attempts")
	return cmd
}

func defaultHealthcheckURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return fmt.Sprintf("http://localhost:%s/readyz", port)
}

// performHealthCheck returns nil for a healthy or degraded server and an
// *exitError otherwise.
func performHealthCheck(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("health check failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	var body healthResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		status := body.Status
		if status == "" {
			status = http.StatusText(resp.StatusCode)
		}
		return &exitError{code: 1, err: fmt.Errorf("unhealthy: status %d (%s)", resp.StatusCode, status)}
	}
	if decodeErr != nil {
		return &exitError{code: 2, err: fmt.Errorf("parse health response: %w", decodeErr)}
	}

	switch body.Status {
	case "healthy", "degraded":
		return nil
	default:
		return &exitError{code: 1, err: fmt.Errorf("unhealthy: status=%s", body.Status)}
	}
}
