package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_Redact(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name     string
		input    string
		contains string
		hidden   string
	}{
		{
			name:   "anthropic session key",
			input:  "cookie sessionKey=sk-ant-REDACTED",
			hidden: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name:   "next auth cookie",
			input:  "__Secure-next-auth.session-token=eyJhbGciOi.xyz; Path=/",
			hidden: "eyJhbGciOi",
		},
		{
			name:   "bearer",
			input:  "Authorization: Bearer abc.def.ghi",
			hidden: "abc.def.ghi",
		},
		{
			name:   "password field",
			input:  `{"password":"hunter2"}`,
			hidden: "hunter2",
		},
		{
			name:     "plain text untouched",
			input:    "prompt submitted to chatgpt",
			contains: "prompt submitted to chatgpt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			if tt.hidden != "" {
				assert.NotContains(t, out, tt.hidden)
				assert.Contains(t, out, "[REDACTED]")
			}
			if tt.contains != "" {
				assert.Contains(t, out, tt.contains)
			}
		})
	}
}

func TestRedactor_AddPattern(t *testing.T) {
	r := NewRedactor()
	require.NoError(t, r.AddPattern(`acct-\d+`))
	assert.Equal(t, "id [REDACTED]", r.Redact("id acct-12345"))

	assert.Error(t, r.AddPattern(`(`))
}

func TestRedactingWriter_ReportsFullLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactor().Wrap(&buf)

	payload := []byte("Bearer abcdefghijklmnop\n")
	n, err := w.Write(payload)

	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, "[REDACTED]\n", buf.String())
}
