package synth

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-audio/wav"

	"github.com/eburonlabs/orbit-relay/internal/audio"
	"github.com/eburonlabs/orbit-relay/internal/config"
)

// Request describes one synthesis turn as the orchestrator sees it.
type Request struct {
	Text         string
	LanguageName string
	Voice        string
	Backend      string
}

// Gateway binds a credential to the registered backends and decodes their
// payloads into playable buffers. A single gateway never runs two synthesize
// calls concurrently.
type Gateway struct {
	cfg      config.SynthesisConfig
	backends map[string]Backend
	logger   *slog.Logger

	mu         sync.Mutex
	credential string
	inflight   bool
}

func NewGateway(cfg config.SynthesisConfig, log *slog.Logger) (*Gateway, error) {
	backends, err := buildAll(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		cfg:      cfg,
		backends: backends,
		logger:   log.With(slog.String("component", "synth-gateway")),
	}, nil
}

// UpdateCredential swaps the bound credential. In-flight work and any
// scheduled playback are unaffected; only future calls see the new value.
func (g *Gateway) UpdateCredential(credential string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.credential = credential
}

// Synthesize turns one request into zero or one decoded buffers. A nil
// buffer with nil error means the backend completed the turn without audio.
func (g *Gateway) Synthesize(ctx context.Context, req Request) (*audio.Buffer, error) {
	g.mu.Lock()
	if g.inflight {
		g.mu.Unlock()
		return nil, ErrBusy
	}
	if g.credential == "" {
		g.mu.Unlock()
		return nil, &AuthError{Reason: "no credential bound"}
	}
	credential := g.credential
	g.inflight = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inflight = false
		g.mu.Unlock()
	}()

	name := req.Backend
	if name == "" {
		name = g.cfg.Backend
	}
	backend, ok := g.backends[name]
	if !ok {
		return nil, &ProviderError{Backend: name, Err: fmt.Errorf("unknown backend")}
	}

	payload, err := backend.Synthesize(ctx, BackendRequest{
		Prompt:     BuildPrompt(req.LanguageName, req.Text),
		Voice:      req.Voice,
		Credential: credential,
	})
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}
	return g.decode(payload)
}

// decode accepts either a RIFF/WAV container or raw little-endian 16-bit
// PCM at the configured format.
func (g *Gateway) decode(payload []byte) (*audio.Buffer, error) {
	if len(payload) > 12 && bytes.HasPrefix(payload, []byte("RIFF")) {
		return decodeWAV(payload)
	}
	if len(payload)%2 != 0 {
		return nil, &DecodeError{Reason: "pcm payload not sample-aligned"}
	}
	return &audio.Buffer{
		PCM:        payload,
		SampleRate: g.cfg.SampleRate,
		Channels:   g.cfg.Channels,
	}, nil
}

func decodeWAV(payload []byte) (*audio.Buffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(payload))
	pcmBuf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("wav payload: %v", err)}
	}
	if pcmBuf.Format == nil || pcmBuf.Format.SampleRate <= 0 || pcmBuf.Format.NumChannels <= 0 {
		return nil, &DecodeError{Reason: "wav payload missing format"}
	}

	pcm := make([]byte, len(pcmBuf.Data)*2)
	for i, sample := range pcmBuf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return &audio.Buffer{
		PCM:        pcm,
		SampleRate: pcmBuf.Format.SampleRate,
		Channels:   pcmBuf.Format.NumChannels,
	}, nil
}
