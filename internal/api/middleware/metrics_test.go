package middleware

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/healthz":               "/healthz",
		"/api/chat":              "/api/chat",
		"/api/chat/ws":           "/api/chat/ws",
		"/api/history/session_1": "/api/history/:sessionId",
		"/favicon.ico":           "/favicon.ico",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
	long := "/" + strings.Repeat("x", 80)
	assert.Equal(t, long[:50]+"...", normalizePath(long))
}

func TestRecordersAreNoopsWhenDisabled(t *testing.T) {
	SetMetricsEnabled(false)
	assert.NotPanics(t, func() {
		RecordUpstreamRequest("generate", "m", "ok")
		RecordTokenUsage("m", "input", 3)
		RecordEvent("text")
		RecordSpeechUnit("ok")
		RecordCacheLookup("history", true)
		SetCacheSize("history", 1)
		RecordHistoryWrite("ok", time.Millisecond)
	})
}

func TestConnectionTrackerWaitIdle(t *testing.T) {
	ct := &ConnectionTracker{}
	assert.True(t, ct.WaitIdle(nil, time.Millisecond))

	ct.Increment()
	done := make(chan struct{})
	close(done)
	assert.False(t, ct.WaitIdle(done, time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		ct.Decrement()
	}()
	assert.True(t, ct.WaitIdle(nil, time.Millisecond))
	assert.Equal(t, int64(0), ct.Count())
}
