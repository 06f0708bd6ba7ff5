package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/harun/llmsession/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"single", Single("hello"), false},
		{"chain", Chain("a", "b"), false},
		{"chain of one", Chain("a"), false},
		{"empty single", Single(""), true},
		{"blank single", Single("  \n"), true},
		{"empty chain", Chain(), true},
		{"chain with empty step", Chain("a", ""), true},
		{"zero payload", Payload{}, true},
		{"single with two prompts", Payload{Mode: ModeSingle, Prompts: []string{"a", "b"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChain_CopiesPrompts(t *testing.T) {
	prompts := []string{"a", "b"}
	p := Chain(prompts...)
	prompts[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, p.Prompts)
}

func TestJob_FinishDeliversOnce(t *testing.T) {
	job := newJob(context.Background(), provider.Claude, Single("x"))
	require.NotEmpty(t, job.ID)

	assert.True(t, job.finish(Outcome{JobID: job.ID, Results: []string{"first"}}))
	assert.False(t, job.finish(Outcome{JobID: job.ID, Results: []string{"second"}}))

	out, err := (&Handle{job: job}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", out.Result())
}

func TestHandle_WaitTimesOut(t *testing.T) {
	job := newJob(context.Background(), provider.Claude, Single("x"))
	h := &Handle{job: job}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, job.ID, out.JobID)
	assert.Equal(t, job.ID, h.ID())
}

func TestOutcome_Helpers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := Outcome{SubmittedAt: start, FinishedAt: start.Add(3 * time.Second), Results: []string{"a", "b"}}

	assert.Equal(t, "b", o.Result())
	assert.Equal(t, 3*time.Second, o.Duration())
	assert.Equal(t, "", Outcome{}.Result())
}
