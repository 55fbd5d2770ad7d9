// Package audio owns decoded speech buffers and their gapless playback
// scheduling. Buffers arrive at unpredictable times relative to each other;
// the scheduler pins each buffer's start to the previous buffer's end so
// playback never overlaps and never gaps.
package audio

import "time"

// Buffer is an in-memory little-endian 16-bit PCM clip with a known format.
// It is owned by the scheduler from the moment synthesis returns it until
// playback completes.
type Buffer struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration returns the buffer's play time at its native format.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.PCM) / (2 * b.Channels)
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// Empty reports whether the buffer carries no samples.
func (b *Buffer) Empty() bool {
	return b == nil || len(b.PCM) == 0
}
