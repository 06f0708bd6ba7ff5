package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/harun/llmsession/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	Long: `Show the local PID file state and the providers whose browser
sessions have come up, as reported by the running service.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type healthBody struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if pid, err := daemon.ReadPID(pidFile); err == nil && daemon.ProcessAlive(pid) {
		fmt.Fprintf(out, "Process: running (PID %d", pid)
		if info, err := os.Stat(pidFile); err == nil {
			fmt.Fprintf(out, ", uptime %s", formatDuration(time.Since(info.ModTime())))
		}
		fmt.Fprintln(out, ")")
	} else {
		fmt.Fprintln(out, "Process: no local PID file")
	}

	client, err := newClient(cmd, 5*time.Second)
	if err != nil {
		return err
	}

	var health healthBody
	if err := client.do(cmd.Context(), http.MethodGet, "/health", nil, &health); err != nil {
		fmt.Fprintf(out, "Service: unreachable at %s\n", client.base)
		return err
	}

	var ready healthBody
	readyErr := client.do(cmd.Context(), http.MethodGet, "/ready", nil, &ready)
	var apiErr *apiError
	switch {
	case readyErr == nil:
		fmt.Fprintln(out, "Service: ready")
	case errors.As(readyErr, &apiErr) && apiErr.Status == http.StatusServiceUnavailable:
		fmt.Fprintln(out, "Service: starting")
	case errors.Is(readyErr, context.Canceled):
		return readyErr
	default:
		fmt.Fprintf(out, "Service: %s\n", health.Status)
	}

	if len(health.Providers) == 0 {
		fmt.Fprintln(out, "Providers: none ready")
	} else {
		fmt.Fprintf(out, "Providers: %s\n", strings.Join(health.Providers, ", "))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
