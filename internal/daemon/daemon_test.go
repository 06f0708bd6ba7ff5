package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/harun/llmsession/internal/config"
	"github.com/harun/llmsession/internal/logger"
	"github.com/harun/llmsession/pkg/driver/drivertest"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestDaemon creates a daemon on an ephemeral port backed by fake drivers.
func createTestDaemon(t *testing.T) (*Daemon, *drivertest.Factory) {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Session.StepTimeout = time.Second
	cfg.Ledger.Path = filepath.Join(tmpDir, "jobs.db")
	cfg.Audit.Path = filepath.Join(tmpDir, "logs", "audit.log")
	cfg.Providers = []config.ProviderConfig{
		{ID: "chatgpt"},
		{ID: "claude"},
		{ID: "aistudio", Disabled: true},
	}

	log, err := logger.New(logger.Config{Level: "error", File: filepath.Join(tmpDir, "llmsession.log")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	f := drivertest.NewFactory()
	d, err := New(cfg, log, WithDriverFactory(f))
	require.NoError(t, err)
	return d, f
}

func TestNew(t *testing.T) {
	d, _ := createTestDaemon(t)
	defer d.release()

	assert.NotNil(t, d.orchestrator)
	assert.NotNil(t, d.server)
	assert.NotNil(t, d.jobs)
	assert.NotNil(t, d.lifecycle)
	assert.Equal(t, []provider.Provider{provider.ChatGPT, provider.Claude}, d.orchestrator.Providers())
}

func TestDaemonStartStop(t *testing.T) {
	d, f := createTestDaemon(t)

	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))

	require.Eventually(t, func() bool { return d.Status().Ready }, 2*time.Second, 10*time.Millisecond)
	status := d.Status()
	assert.True(t, status.Running)
	assert.Equal(t, []provider.Provider{provider.ChatGPT, provider.Claude}, status.Providers)

	pidFile := d.lifecycle.PIDFile()
	pid, err := ReadPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	resp, err := http.Post("http://"+d.Addr()+"/generate", "application/json",
		strings.NewReader(`{"provider":"claude","prompt":["a","b"]}`))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"claude:a", "claude:b"}, body["result"])

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.Error(t, d.Stop())

	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	for _, drv := range f.Drivers(provider.Claude) {
		assert.True(t, drv.Closed())
	}

	audit, err := os.ReadFile(d.config.Audit.Path)
	require.NoError(t, err)
	assert.Contains(t, string(audit), "job.finished")
}

func TestDaemonWait_StopsOnContextCancel(t *testing.T) {
	d, _ := createTestDaemon(t)
	require.NoError(t, d.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Wait(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
	assert.False(t, d.Status().Running)
}

func TestBrowserOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = "/var/lib/llmsession"
	cfg.Browser.Headless = true
	cfg.Providers = []config.ProviderConfig{
		{ID: "claude", URL: "https://claude.example.com/new", InputSelector: "textarea"},
		{ID: "aistudio", Disabled: true},
	}

	opts := browserOptions(cfg)
	assert.True(t, opts.Headless)
	assert.Equal(t, "/var/lib/llmsession", opts.DataDir)
	require.Len(t, opts.Profiles, 1)
	assert.Equal(t, "https://claude.example.com/new", opts.Profiles[provider.Claude].URL)
	assert.Equal(t, "textarea", opts.Profiles[provider.Claude].InputSelector)
}

func TestLifecycleManager_RefusesLivePIDFile(t *testing.T) {
	d, _ := createTestDaemon(t)
	defer d.release()

	// The parent test process is alive and is not us.
	pidFile := d.lifecycle.PIDFile()
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getppid())), 0644))

	err := d.lifecycle.Start()
	assert.ErrorContains(t, err, "already running")
}

func TestLifecycleManager_ReplacesStalePIDFile(t *testing.T) {
	d, _ := createTestDaemon(t)
	defer d.release()

	pidFile := d.lifecycle.PIDFile()
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0644))

	require.NoError(t, d.lifecycle.Start())
	pid, err := ReadPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, d.lifecycle.Stop())
	require.NoError(t, d.lifecycle.Stop())
}

func TestPIDHelpers(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "llmsession.pid"), PIDFilePath("/data"))

	_, err := ReadPID(filepath.Join(t.TempDir(), "missing.pid"))
	assert.Error(t, err)

	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
}
