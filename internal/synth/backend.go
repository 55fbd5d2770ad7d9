// Package synth turns one text segment into at most one decoded audio
// buffer, with emotion and dialect guidance baked into every request.
// Backends register themselves in a dispatch table keyed by name, so adding
// a provider never touches orchestration code.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

// BackendRequest carries everything a backend needs for one synthesis call.
// The prompt already fuses the system preamble, target-language name, and
// literal input text.
type BackendRequest struct {
	Prompt     string
	Voice      string
	Credential string
}

// Backend produces one raw audio payload, or nil when the provider returned
// no audio for the turn. All backends share this contract.
type Backend interface {
	Synthesize(ctx context.Context, req BackendRequest) ([]byte, error)
}

// Factory builds a backend from configuration. The lookup function resolves
// already-constructed sibling backends, which lets one backend delegate to
// another.
type Factory func(cfg config.SynthesisConfig, lookup func(name string) (Backend, bool), log *slog.Logger) (Backend, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register adds a backend factory to the dispatch table. Called from init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildAll(cfg config.SynthesisConfig, log *slog.Logger) (map[string]Backend, error) {
	registryMu.Lock()
	factories := make(map[string]Factory, len(registry))
	for name, f := range registry {
		factories[name] = f
	}
	registryMu.Unlock()

	built := make(map[string]Backend, len(factories))
	lookup := func(name string) (Backend, bool) {
		b, ok := built[name]
		return b, ok
	}

	// Two passes so delegating backends can resolve their targets.
	var deferred []string
	for name, factory := range factories {
		b, err := factory(cfg, lookup, log)
		if err != nil {
			deferred = append(deferred, name)
			continue
		}
		built[name] = b
	}
	for _, name := range deferred {
		b, err := factories[name](cfg, lookup, log)
		if err != nil {
			return nil, fmt.Errorf("build backend %s: %w", name, err)
		}
		built[name] = b
	}
	return built, nil
}
