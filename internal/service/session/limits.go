package session

import (
	"fmt"
	"time"
)

// Limits are safety guardrails for a single call.
// They prevent unbounded resource usage from a stream that never stops.
type Limits struct {
	MaxAudioBytes int64         // max decoded PCM per session, 0 disables
	MaxDuration   time.Duration // max wall clock since the session started, 0 disables
}

// DefaultLimits returns four hours of 8 kHz PCM16 audio.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 4 * 60 * 60 * 16000, // 230.4MB
		MaxDuration:   4 * time.Hour,
	}
}

// check returns the limit type and a description when usage exceeds l.
func (l Limits) check(audioBytes int64, elapsed time.Duration) (string, string, bool) {
	if l.MaxAudioBytes > 0 && audioBytes > l.MaxAudioBytes {
		return "max_audio_bytes", fmt.Sprintf("max audio bytes exceeded: %d > %d", audioBytes, l.MaxAudioBytes), true
	}
	if l.MaxDuration > 0 && elapsed > l.MaxDuration {
		return "max_duration", fmt.Sprintf("max duration exceeded: %v > %v", elapsed.Round(time.Second), l.MaxDuration), true
	}
	return "", "", false
}
