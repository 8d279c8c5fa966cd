package posestream

import (
	"sync"
	"time"
)

// StreamStats tracks frame statistics with thread-safe operations.
type StreamStats struct {
	mu           sync.Mutex
	frameCount   int64
	byteCount    int64
	decodeErrors int64
	lastReset    time.Time
}

// NewStreamStats creates a new StreamStats instance.
func NewStreamStats() *StreamStats {
	return &StreamStats{
		lastReset: time.Now(),
	}
}

// AddFrame increments frame count and byte count.
func (st *StreamStats) AddFrame(bytes int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.frameCount++
	st.byteCount += int64(bytes)
}

// AddDecodeError increments the undecodable-datagram count.
func (st *StreamStats) AddDecodeError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.decodeErrors++
}

// GetAndReset returns current stats and resets counters.
func (st *StreamStats) GetAndReset() (frames, bytes, decodeErrors int64, duration time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	duration = now.Sub(st.lastReset)
	frames = st.frameCount
	bytes = st.byteCount
	decodeErrors = st.decodeErrors

	st.frameCount = 0
	st.byteCount = 0
	st.decodeErrors = 0
	st.lastReset = now

	return
}

// LogStats logs one interval summary and resets the counters.
func (st *StreamStats) LogStats() {
	frames, bytes, decodeErrors, duration := st.GetAndReset()
	if frames == 0 && decodeErrors == 0 {
		return
	}
	framesPerSec := float64(frames) / duration.Seconds()
	kbPerSec := float64(bytes) / duration.Seconds() / 1024
	if decodeErrors > 0 {
		Opsf("pose stream (/sec): %.1f frames, %.1f KB; %d undecodable datagrams", framesPerSec, kbPerSec, decodeErrors)
		return
	}
	Diagf("pose stream (/sec): %.1f frames, %.1f KB", framesPerSec, kbPerSec)
}
