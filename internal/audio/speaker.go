package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// SpeakerSink plays buffers on the local audio device. The speaker is a
// process-wide singleton underneath, so the sink is initialized once for a
// fixed sample rate and resamples nothing: synthesis output is requested at
// the same rate.
type SpeakerSink struct {
	sampleRate beep.SampleRate
	logger     *slog.Logger
	mu         sync.Mutex
	closed     bool
}

func NewSpeakerSink(sampleRate int, bufDuration time.Duration, log *slog.Logger) (*SpeakerSink, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(bufDuration)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	return &SpeakerSink{
		sampleRate: sr,
		logger:     log.With(slog.String("component", "speaker")),
	}, nil
}

func (s *SpeakerSink) Play(buf *Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || buf.Empty() {
		return
	}
	if buf.SampleRate != int(s.sampleRate) {
		s.logger.Warn("buffer sample rate differs from speaker",
			slog.Int("buffer", buf.SampleRate), slog.Int("speaker", int(s.sampleRate)))
	}
	speaker.Play(&pcmStreamer{buf: buf})
}

func (s *SpeakerSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	speaker.Clear()
}

func (s *SpeakerSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	speaker.Clear()
	speaker.Close()
}

// pcmStreamer adapts a little-endian int16 PCM buffer to a beep streamer.
type pcmStreamer struct {
	buf *Buffer
	pos int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frameBytes := 2 * p.buf.Channels
	total := len(p.buf.PCM) / frameBytes
	if p.pos >= total {
		return 0, false
	}
	n := 0
	for n < len(samples) && p.pos < total {
		off := p.pos * frameBytes
		left := float64(int16(binary.LittleEndian.Uint16(p.buf.PCM[off:]))) / 32768
		right := left
		if p.buf.Channels > 1 {
			right = float64(int16(binary.LittleEndian.Uint16(p.buf.PCM[off+2:]))) / 32768
		}
		samples[n][0] = left
		samples[n][1] = right
		p.pos++
		n++
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }
