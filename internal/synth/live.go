package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

func init() {
	Register("live", newLiveBackend)
}

// liveBackend is a shim: it presents the live-session backend name but
// delegates every call to the inline backend. The upstream live session API
// does not yet offer the single-shot emotion-synthesis path this relay
// needs, so live mode degrades gracefully to per-turn inline synthesis.
type liveBackend struct {
	delegate Backend
}

func newLiveBackend(_ config.SynthesisConfig, lookup func(string) (Backend, bool), _ *slog.Logger) (Backend, error) {
	delegate, ok := lookup("inline")
	if !ok {
		return nil, fmt.Errorf("live backend requires the inline backend")
	}
	return &liveBackend{delegate: delegate}, nil
}

func (b *liveBackend) Synthesize(ctx context.Context, req BackendRequest) ([]byte, error) {
	return b.delegate.Synthesize(ctx, req)
}
