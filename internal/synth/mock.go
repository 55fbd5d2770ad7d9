package synth

import (
	"context"
	"log/slog"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

func init() {
	Register("mock", newMockBackend)
}

// mockBackend emits silence whose duration scales with the input length.
// Useful for wiring tests and headless deployments.
type mockBackend struct {
	sampleRate int
	channels   int
}

func newMockBackend(cfg config.SynthesisConfig, _ func(string) (Backend, bool), _ *slog.Logger) (Backend, error) {
	return &mockBackend{sampleRate: cfg.SampleRate, channels: cfg.Channels}, nil
}

func (b *mockBackend) Synthesize(ctx context.Context, req BackendRequest) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	// Silence scaled to prompt length, capped so tests stay fast.
	ms := 100 + len(req.Prompt)/2
	if ms > 2000 {
		ms = 2000
	}
	frames := b.sampleRate * ms / 1000
	return make([]byte, frames*2*b.channels), nil
}
