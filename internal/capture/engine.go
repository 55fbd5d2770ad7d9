// Package capture produces finalized text segments from live audio, hiding
// three interchangeable transcription backends behind one lifecycle. A
// session moves Stopped to Starting to Active; starting over an active
// session fully tears the old one down first so the input device is never
// leaked across backend switches.
package capture

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

// State is the capture lifecycle.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateActive   State = "active"
)

// Handlers receive engine output. OnSegment runs for every emitted
// transcript; the socket and device backends emit only finalized utterances,
// the duplex backend emits fragments with final=false.
type Handlers struct {
	OnSegment func(sessionID, text string, final bool)
	OnError   func(sessionID string, err error)
	OnState   func(state State)
}

type emitFunc func(text string, final bool)

// backend connects to one transcription provider. start returns once the
// connection is established; audio pumping and transcript delivery continue
// on internal goroutines until stop is called or fail reports a fatal error.
type backend interface {
	start(ctx context.Context, stream io.Reader, emit emitFunc, fail func(error)) (stop func(), err error)
	name() string
}

func newBackend(cfg config.CaptureConfig, log *slog.Logger) (backend, error) {
	switch cfg.Engine {
	case "socket":
		return newSocketBackend(cfg, log), nil
	case "duplex":
		return newDuplexBackend(cfg, log), nil
	case "device":
		return newDeviceBackend(cfg, log), nil
	default:
		return nil, &BackendUnavailableError{Backend: cfg.Engine, Reason: "unknown engine"}
	}
}

type session struct {
	id     string
	cancel context.CancelFunc
	stream io.Closer
	stop   func()
}

type Engine struct {
	cfg      config.CaptureConfig
	handlers Handlers
	logger   *slog.Logger

	// newSource is swapped by tests.
	newSource func(config.CaptureConfig) (Source, error)

	mu      sync.Mutex
	state   State
	current *session
}

func NewEngine(cfg config.CaptureConfig, handlers Handlers, log *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		handlers:  handlers,
		logger:    log.With(slog.String("component", "capture")),
		newSource: NewSource,
		state:     StateStopped,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the active session's id, or empty when stopped.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return ""
	}
	return e.current.id
}

// Start brings up a capture session. If one is already active it is fully
// torn down first, including its audio device. On failure the engine returns
// to Stopped and does not retry; the error is returned, not delivered to
// OnError.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.teardownLocked()
	e.setStateLocked(StateStarting)

	bk, err := newBackend(e.cfg, e.logger)
	if err != nil {
		e.setStateLocked(StateStopped)
		e.mu.Unlock()
		return err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{id: uuid.NewString(), cancel: cancel}
	e.current = sess
	e.mu.Unlock()

	// The on-device backend owns its own platform capture; every other
	// backend consumes a PCM stream from the configured source.
	var stream io.ReadCloser
	if e.cfg.Engine != "device" {
		src, err := e.newSource(e.cfg)
		if err != nil {
			e.abandon(sess)
			return err
		}
		stream, err = src.Open(sessCtx)
		if err != nil {
			e.abandon(sess)
			return err
		}
		sess.stream = stream
	}

	emit := func(text string, final bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		if !e.owns(sess) {
			return
		}
		if e.handlers.OnSegment != nil {
			e.handlers.OnSegment(sess.id, text, final)
		}
	}
	fail := func(err error) {
		e.fatal(sess, err)
	}

	stop, err := bk.start(sessCtx, stream, emit, fail)
	if err != nil {
		e.abandon(sess)
		return err
	}

	e.mu.Lock()
	if e.current != sess {
		// A concurrent Start or Stop won; unwind quietly.
		e.mu.Unlock()
		stop()
		cancel()
		if stream != nil {
			stream.Close()
		}
		return nil
	}
	sess.stop = stop
	e.setStateLocked(StateActive)
	e.mu.Unlock()

	e.logger.Info("capture session active",
		slog.String("session_id", sess.id),
		slog.String("engine", bk.name()),
		slog.String("source", e.cfg.Source))
	return nil
}

// Stop tears down the active session and releases the input device.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.teardownLocked()
	e.mu.Unlock()
}

func (e *Engine) owns(sess *session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current == sess
}

// fatal handles an asynchronous backend failure: the session is terminal,
// the device is released, and the error is surfaced once.
func (e *Engine) fatal(sess *session, err error) {
	e.mu.Lock()
	if e.current != sess {
		e.mu.Unlock()
		return
	}
	e.teardownLocked()
	e.mu.Unlock()

	e.logger.Warn("capture session failed",
		slog.String("session_id", sess.id),
		slog.String("error", err.Error()))
	if e.handlers.OnError != nil {
		e.handlers.OnError(sess.id, err)
	}
}

// abandon unwinds a session that never reached Active.
func (e *Engine) abandon(sess *session) {
	e.mu.Lock()
	if e.current == sess {
		e.teardownLocked()
	}
	e.mu.Unlock()
}

// teardownLocked releases the current session in full: cancel its context,
// stop the backend, close the stream. Callers hold e.mu.
func (e *Engine) teardownLocked() {
	sess := e.current
	e.current = nil
	if sess != nil {
		sess.cancel()
		if sess.stop != nil {
			sess.stop()
		}
		if sess.stream != nil {
			sess.stream.Close()
		}
	}
	e.setStateLocked(StateStopped)
}

func (e *Engine) setStateLocked(state State) {
	if e.state == state {
		return
	}
	e.state = state
	if e.handlers.OnState != nil {
		// Handlers must not call back into the engine from OnState.
		e.handlers.OnState(state)
	}
}

// frameSize returns the byte length of one fixed-duration audio frame.
func frameSize(cfg config.CaptureConfig) int {
	frameDur := time.Duration(cfg.FrameDurationMS) * time.Millisecond
	if frameDur <= 0 {
		frameDur = 250 * time.Millisecond
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	frames := int(frameDur.Seconds() * float64(rate))
	return frames * channels * 2
}
