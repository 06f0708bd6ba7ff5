package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplyTracker_WaitsForNewStableReply(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }

	tr := newReplyTracker(2, time.Second)

	// Old reply still last; nothing new yet.
	assert.False(t, tr.observe(at(0), pageSnapshot{Count: 2, Text: "previous answer"}))
	// New block appears while generating.
	assert.False(t, tr.observe(at(500), pageSnapshot{Count: 3, Text: "Hel", Busy: true}))
	assert.False(t, tr.observe(at(1000), pageSnapshot{Count: 3, Text: "Hello wor", Busy: true}))
	// Text stops changing but generation marker is still present.
	assert.False(t, tr.observe(at(2500), pageSnapshot{Count: 3, Text: "Hello wor", Busy: true}))
	// Text changes again, resets the stability window.
	assert.False(t, tr.observe(at(3000), pageSnapshot{Count: 3, Text: "Hello world"}))
	assert.False(t, tr.observe(at(3500), pageSnapshot{Count: 3, Text: "Hello world"}))
	assert.True(t, tr.observe(at(4000), pageSnapshot{Count: 3, Text: "Hello world"}))
	assert.Equal(t, "Hello world", tr.text())
}

func TestReplyTracker_IgnoresEmptyText(t *testing.T) {
	start := time.Now()
	tr := newReplyTracker(0, 0)

	assert.False(t, tr.observe(start, pageSnapshot{Count: 1, Text: "   "}))
	assert.False(t, tr.observe(start.Add(time.Second), pageSnapshot{Count: 1, Text: ""}))
	assert.False(t, tr.observe(start.Add(2*time.Second), pageSnapshot{Count: 1, Text: "  done \n"}))
	assert.True(t, tr.observe(start.Add(3*time.Second), pageSnapshot{Count: 1, Text: "  done \n"}))
	assert.Equal(t, "done", tr.text())
}

func TestReplyTracker_ZeroStabilityNeedsTwoMatchingPolls(t *testing.T) {
	start := time.Now()
	tr := newReplyTracker(0, 0)

	assert.False(t, tr.observe(start, pageSnapshot{Count: 1, Text: "x"}))
	assert.True(t, tr.observe(start, pageSnapshot{Count: 1, Text: "x"}))
}
