package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Provider
		wantErr bool
	}{
		{name: "empty defaults to chatgpt", input: "", want: ChatGPT},
		{name: "chatgpt", input: "chatgpt", want: ChatGPT},
		{name: "claude mixed case", input: "Claude", want: Claude},
		{name: "aistudio padded", input: "  aistudio ", want: AIStudio},
		{name: "unknown", input: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknown)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	all := All()
	require.Len(t, all, 3)
	all[0] = "mutated"

	assert.Equal(t, ChatGPT, All()[0])
}

func TestValid(t *testing.T) {
	assert.True(t, Claude.Valid())
	assert.False(t, Provider("gemini").Valid())
}
