// Package runtime assembles the relay from configuration and owns its
// lifecycle: telemetry, the message bus, the credential pool, the synthesis
// and playback pipeline, and whichever segment source the operating mode
// selects. In relay mode the poll adapter feeds the queue; in capture mode a
// live capture session does, publishing its own text back to the shared
// channel.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/audio"
	"github.com/eburonlabs/orbit-relay/internal/bus"
	"github.com/eburonlabs/orbit-relay/internal/capture"
	"github.com/eburonlabs/orbit-relay/internal/config"
	"github.com/eburonlabs/orbit-relay/internal/credential"
	"github.com/eburonlabs/orbit-relay/internal/events"
	"github.com/eburonlabs/orbit-relay/internal/natsserver"
	"github.com/eburonlabs/orbit-relay/internal/orchestrator"
	"github.com/eburonlabs/orbit-relay/internal/protocol"
	"github.com/eburonlabs/orbit-relay/internal/source"
	"github.com/eburonlabs/orbit-relay/internal/synth"
	"github.com/eburonlabs/orbit-relay/internal/transcript"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Embedded {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		defer embedded.Shutdown()
	}

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	publisher := events.NewBusPublisher(busClient, r.cfg.Relay.ChannelID, r.logger)

	store, err := transcript.Open(ctx, r.cfg.Transcript, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript log: %w", err)
	}
	defer store.Close()

	pool, keyStore := r.buildCredentials(ctx)

	gateway, err := synth.NewGateway(r.cfg.Synthesis, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build synthesis gateway: %w", err)
	}
	if current, ok := pool.Current(); ok {
		gateway.UpdateCredential(current)
	}

	sink, err := r.buildSink()
	if err != nil {
		return fmt.Errorf("failed to open playback sink: %w", err)
	}
	scheduler := audio.NewScheduler(sink, r.logger)
	defer scheduler.Close()

	turns := orchestrator.New(ctx, r.cfg.Relay, gateway, scheduler, pool, publisher, store, r.logger)
	defer turns.Close()

	segments := source.NewClient(r.cfg.Segments)

	var poller *source.Poller
	var engine *capture.Engine
	switch r.cfg.Relay.Mode {
	case "capture":
		engine, err = r.startCapture(ctx, segments, turns, publisher)
		if err != nil {
			return fmt.Errorf("failed to start capture session: %w", err)
		}
		defer engine.Stop()
	default:
		if r.cfg.Poll.Enabled {
			poller = source.NewPoller(r.cfg.Poll, r.cfg.Relay.ChannelID, segments, turns.Enqueue, r.logger)
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				poller.Run(ctx)
			}()
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "status=%s queue=%d\n", turns.Status(), turns.QueueLen())
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("relay started",
		slog.String("addr", addr),
		slog.String("mode", r.cfg.Relay.Mode),
		slog.String("channel", r.cfg.Relay.ChannelID),
		slog.Int("credentials", pool.Len()))

	<-ctx.Done()
	r.logger.Info("relay stopping")
	r.ready.Store(false)

	// Hard disconnect: silence everything immediately rather than letting
	// scheduled buffers finish.
	scheduler.StopAll()
	turns.Clear()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if keyStore != nil {
		r.persistCredentials(shutdownCtx, keyStore, pool)
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildCredentials seeds the pool from configuration and merges in whatever
// the remote store holds. The store is optional; without a segments base URL
// the pool runs on seed keys alone.
func (r *Runtime) buildCredentials(ctx context.Context) (*credential.Pool, *credential.Store) {
	pool := credential.NewPool(r.cfg.Credentials.MaxKeys)
	for _, key := range r.cfg.Credentials.Seed {
		pool.Add(key)
	}

	if r.cfg.Segments.BaseURL == "" {
		return pool, nil
	}
	store := credential.NewStore(r.cfg.Segments.BaseURL, r.cfg.Segments.APIKey, r.cfg.Credentials, r.logger)

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	keys, err := store.Fetch(fetchCtx)
	if err != nil {
		r.logger.Warn("failed to fetch credential store, using seed keys", slog.String("error", err.Error()))
		return pool, store
	}
	for _, key := range keys {
		pool.Add(key)
	}
	return pool, store
}

func (r *Runtime) persistCredentials(ctx context.Context, store *credential.Store, pool *credential.Pool) {
	for _, key := range pool.Snapshot() {
		if err := store.Append(ctx, key); err != nil {
			r.logger.Warn("failed to persist credential", slog.String("error", err.Error()))
			return
		}
	}
}

func (r *Runtime) buildSink() (audio.Sink, error) {
	switch r.cfg.Playback.Sink {
	case "speaker":
		bufDur := time.Duration(r.cfg.Playback.SpeakerBufMS) * time.Millisecond
		return audio.NewSpeakerSink(r.cfg.Synthesis.SampleRate, bufDur, r.logger)
	default:
		return audio.DiscardSink{}, nil
	}
}

// startCapture brings up a live capture session feeding the turn queue.
// Captured text is also pushed back to the shared channel store so relay
// peers polling the same channel can speak it.
func (r *Runtime) startCapture(ctx context.Context, segments *source.Client, turns *orchestrator.Orchestrator, publisher events.Publisher) (*capture.Engine, error) {
	channelID := r.cfg.Relay.ChannelID
	handlers := capture.Handlers{
		OnSegment: func(sessionID, text string, final bool) {
			turns.Enqueue(protocol.Segment{Text: text, Timestamp: time.Now().UTC()})
			publisher.Transcript(protocol.Transcript{
				SessionID: sessionID,
				Text:      text,
				Final:     final,
			})
			if r.cfg.Segments.BaseURL != "" {
				pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := segments.Push(pushCtx, channelID, text); err != nil {
					r.logger.Warn("failed to push captured segment", slog.String("error", err.Error()))
				}
			}
		},
		OnError: func(sessionID string, err error) {
			publisher.Error("capture", err.Error())
			r.logger.Warn("capture session ended",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
		},
		OnState: func(state capture.State) {
			if state == capture.StateActive {
				publisher.StatusChanged(protocol.StatusRecording)
			}
		},
	}

	engine := capture.NewEngine(r.cfg.Capture, handlers, r.logger)
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
