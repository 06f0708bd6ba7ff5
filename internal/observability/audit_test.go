package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAuditLogger_DiscardsUntilConfigured(t *testing.T) {
	auditMu.Lock()
	auditInst = nil
	auditMu.Unlock()

	a := GetAuditLogger()
	assert.Equal(t, zerolog.Disabled, a.logger.GetLevel())
	assert.Same(t, a, GetAuditLogger())

	var buf bytes.Buffer
	SetAuditLogger(zerolog.New(&buf))
	RecordSessionAudit(context.Background(), "session_reset", "claude", "success", nil)
	assert.Contains(t, buf.String(), `"action":"session_reset"`)

	SetAuditLogger(zerolog.Nop())
}

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	SetAuditLogger(zerolog.New(&buf))

	RecordJobAudit(context.Background(), "job_submitted", "claude", "pending", map[string]interface{}{
		"job_id": "abc",
		"steps":  2,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job", entry["type"])
	assert.Equal(t, "claude", entry["actor"])
	assert.Equal(t, "job_submitted", entry["action"])
	assert.Equal(t, "pending", entry["status"])

	meta, ok := entry["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc", meta["job_id"])
}

func TestInitAuditLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))

	RecordSessionAudit(context.Background(), "session_reset", "chatgpt", "success", nil)
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"session_reset"`)

	SetAuditLogger(zerolog.Nop())
}
