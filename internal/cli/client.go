package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harun/llmsession/internal/config"
	"github.com/spf13/cobra"
)

var serverURL string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "service base URL for client commands (default derived from config)")
}

// apiError carries the detail of a non-2xx response.
type apiError struct {
	Status int
	Detail string
	Body   map[string]any
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

type apiClient struct {
	base string
	http *http.Client
}

func newClient(cmd *cobra.Command, timeout time.Duration) (*apiClient, error) {
	base := serverURL
	if base == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		base = baseURL(cfg)
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}, nil
}

// baseURL points at the configured listener, using loopback for wildcard hosts.
func baseURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

func (c *apiClient) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
		if json.Unmarshal(data, &apiErr.Body) == nil {
			if detail, ok := apiErr.Body["detail"].(string); ok {
				apiErr.Detail = detail
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
