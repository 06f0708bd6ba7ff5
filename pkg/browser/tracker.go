package browser

import (
	"strings"
	"time"
)

// pageSnapshot is what one poll of the chat page reports.
type pageSnapshot struct {
	Busy  bool   `json:"busy"`
	Count int    `json:"count"`
	Text  string `json:"text"`
}

// replyTracker decides when a reply is complete: a new response block exists,
// generation is no longer in progress and the last block's text has not
// changed for stableFor.
type replyTracker struct {
	baseline  int
	stableFor time.Duration

	lastText string
	since    time.Time
}

func newReplyTracker(baseline int, stableFor time.Duration) *replyTracker {
	return &replyTracker{baseline: baseline, stableFor: stableFor}
}

func (t *replyTracker) observe(now time.Time, snap pageSnapshot) bool {
	if snap.Count <= t.baseline || strings.TrimSpace(snap.Text) == "" {
		t.lastText = ""
		t.since = time.Time{}
		return false
	}
	if snap.Text != t.lastText {
		t.lastText = snap.Text
		t.since = now
		return false
	}
	if snap.Busy {
		return false
	}
	return now.Sub(t.since) >= t.stableFor
}

func (t *replyTracker) text() string {
	return strings.TrimSpace(t.lastText)
}
