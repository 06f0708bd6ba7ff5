package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/llmsession/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with fresh flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, serverURL, logLevel = "", "", "info"
	generateProvider, generateChain, generateTimeout = "", false, 15*time.Minute

	cmd := GetRootCmd()
	cmd.SetArgs(args)
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	return output.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llmsession.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, err := execute(t, "--version")
		require.NoError(t, err)
		assert.Contains(t, out, "llmsession version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		out, err := execute(t, "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "browser session")
		for _, name := range []string{"serve", "stop", "status", "reset", "generate", "config"} {
			assert.Contains(t, out, name)
		}
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)

		require.NotNil(t, cmd.PersistentFlags().Lookup("server"))
	})
}

func TestGenerateCommand(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		got = nil
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		if prompts, ok := got["prompt"].([]any); ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "mode": "chain", "result": prompts})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "mode": "single", "result": "pong"})
	}))
	defer srv.Close()

	t.Run("single", func(t *testing.T) {
		out, err := execute(t, "generate", "--server", srv.URL, "-p", "claude", "ping")
		require.NoError(t, err)
		assert.Equal(t, "pong\n", out)
		assert.Equal(t, "ping", got["prompt"])
		assert.Equal(t, "claude", got["provider"])
	})

	t.Run("chain", func(t *testing.T) {
		out, err := execute(t, "generate", "--server", srv.URL, "one", "two")
		require.NoError(t, err)
		assert.Equal(t, "[1] one\n[2] two\n", out)
		assert.NotContains(t, got, "provider")
	})

	t.Run("single prompt as chain", func(t *testing.T) {
		_, err := execute(t, "generate", "--server", srv.URL, "--chain", "solo")
		require.NoError(t, err)
		assert.Equal(t, []any{"solo"}, got["prompt"])
	})

	t.Run("requires a prompt", func(t *testing.T) {
		_, err := execute(t, "generate", "--server", srv.URL)
		assert.Error(t, err)
	})
}

func TestGenerateCommand_ReportsDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"detail": "Automation failed: boom", "failed_step": 1})
	}))
	defer srv.Close()

	_, err := execute(t, "generate", "--server", srv.URL, "x")
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "Automation failed: boom", apiErr.Detail)
	assert.Equal(t, float64(1), apiErr.Body["failed_step"])
}

func TestResetCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path != "/session/claude" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"Invalid provider: bogus"}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":"claude browser closed."}`))
	}))
	defer srv.Close()

	out, err := execute(t, "reset", "--server", srv.URL, "claude")
	require.NoError(t, err)
	assert.Equal(t, "claude browser closed.\n", out)

	_, err = execute(t, "reset", "--server", srv.URL, "bogus")
	assert.ErrorContains(t, err, "Invalid provider: bogus")

	_, err = execute(t, "reset", "--server", srv.URL)
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	ready := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"ok","providers":["chatgpt"]}`))
		case "/ready":
			if !ready {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"starting","providers":["chatgpt"]}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"ok","providers":["chatgpt"]}`))
		}
	}))
	defer srv.Close()

	cfgPath := writeConfig(t, "data_dir: "+t.TempDir()+"\n")

	out, err := execute(t, "status", "--config", cfgPath, "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Process: no local PID file")
	assert.Contains(t, out, "Service: starting")
	assert.Contains(t, out, "Providers: chatgpt")

	ready = true
	out, err = execute(t, "status", "--config", cfgPath, "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Service: ready")
}

func TestStatusCommand_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfgPath := writeConfig(t, "data_dir: "+t.TempDir()+"\n")
	out, err := execute(t, "status", "--config", cfgPath, "--server", url)
	assert.Error(t, err)
	assert.Contains(t, out, "Service: unreachable")
}

func TestStopCommand_NotRunning(t *testing.T) {
	cfgPath := writeConfig(t, "data_dir: "+t.TempDir()+"\n")

	out, err := execute(t, "stop", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestConfigCommands(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeConfig(t, `data_dir: `+dataDir+`
server:
  port: 9100
providers:
  - id: claude
`)

	out, err := execute(t, "config", "show", "--config", cfgPath)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, dataDir, cfg.DataDir)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "claude", cfg.Providers[0].ID)

	out, err = execute(t, "config", "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration OK")

	badPath := writeConfig(t, "server:\n  port: 0\n")
	_, err = execute(t, "config", "validate", "--config", badPath)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestBaseURL(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "http://127.0.0.1:8000", baseURL(cfg))

	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 9000
	assert.Equal(t, "http://10.0.0.5:9000", baseURL(cfg))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
