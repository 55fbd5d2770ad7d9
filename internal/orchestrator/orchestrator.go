// Package orchestrator drives the translation turn loop: it owns the FIFO
// queue of pending segments, keeps exactly one synthesis in flight, hands
// decoded buffers to the playback scheduler, and walks the status state
// machine. Provider quota failures rotate the credential pool before the next
// turn; every failure path releases the in-flight lock.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eburonlabs/orbit-relay/internal/audio"
	"github.com/eburonlabs/orbit-relay/internal/config"
	"github.com/eburonlabs/orbit-relay/internal/credential"
	"github.com/eburonlabs/orbit-relay/internal/events"
	"github.com/eburonlabs/orbit-relay/internal/language"
	"github.com/eburonlabs/orbit-relay/internal/protocol"
	"github.com/eburonlabs/orbit-relay/internal/synth"
)

// Synthesizer is the slice of the synthesis gateway the orchestrator needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (*audio.Buffer, error)
	UpdateCredential(credential string)
}

// Player is the slice of the playback scheduler the orchestrator needs.
type Player interface {
	Schedule(buf *audio.Buffer) (time.Duration, bool)
	OnDrained(fn func())
}

// Recorder appends completed turns to a transcript log. Optional.
type Recorder interface {
	Record(turn protocol.TurnComplete) error
}

type pendingTurn struct {
	id       string
	text     string
	language string
	duration time.Duration
}

type Orchestrator struct {
	cfg    config.RelayConfig
	synth  Synthesizer
	player Player
	pool   *credential.Pool
	pub    events.Publisher
	rec    Recorder
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queue   []protocol.Segment
	busy    bool
	status  protocol.Status
	pending *pendingTurn
	closed  bool

	cooldown time.Duration
	debounce time.Duration
}

func New(parent context.Context, cfg config.RelayConfig, gateway Synthesizer, player Player, pool *credential.Pool, pub events.Publisher, rec Recorder, logger *slog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(parent)
	if pub == nil {
		pub = events.Nop{}
	}
	o := &Orchestrator{
		cfg:      cfg,
		synth:    gateway,
		player:   player,
		pool:     pool,
		pub:      pub,
		rec:      rec,
		logger:   logger.With(slog.String("component", "orchestrator")),
		ctx:      ctx,
		cancel:   cancel,
		status:   protocol.StatusIdle,
		cooldown: time.Duration(cfg.CooldownMS) * time.Millisecond,
		debounce: time.Duration(cfg.DebounceMS) * time.Millisecond,
	}
	if o.cooldown <= 0 {
		o.cooldown = 5 * time.Second
	}
	player.OnDrained(o.drained)
	return o
}

// Enqueue appends one segment to the turn queue and begins processing if no
// synthesis is in flight. Blank segments are discarded; watermark and
// duplicate filtering is the feeding source's job.
func (o *Orchestrator) Enqueue(seg protocol.Segment) {
	if strings.TrimSpace(seg.Text) == "" {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, seg)
	o.mu.Unlock()

	o.processNext()
}

// Clear empties the turn queue without touching an in-flight synthesis or
// any scheduled playback.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.queue = nil
	o.mu.Unlock()
}

// Status returns the current state machine value.
func (o *Orchestrator) Status() protocol.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// QueueLen reports the number of segments waiting for a turn.
func (o *Orchestrator) QueueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Busy reports whether a turn is in flight or cooling down after an error.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Close stops the turn loop. Queued segments are dropped; an in-flight
// synthesis is cancelled through the context.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.queue = nil
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// processNext pops the head segment and starts a turn. No-op while busy or
// when the queue is empty.
func (o *Orchestrator) processNext() {
	o.mu.Lock()
	if o.busy || o.closed || len(o.queue) == 0 {
		o.mu.Unlock()
		return
	}
	seg := o.queue[0]
	o.queue = o.queue[1:]
	o.busy = true
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runTurn(seg)
	}()
}

func (o *Orchestrator) runTurn(seg protocol.Segment) {
	o.setStatus(protocol.StatusFetching)

	langName := language.Resolve(o.cfg.TargetLanguage)
	turnID := uuid.NewString()
	o.logger.Debug("turn started",
		slog.String("turn_id", turnID),
		slog.String("language", langName),
		slog.Int("text_len", len(seg.Text)))

	o.setStatus(protocol.StatusTranslating)
	buf, err := o.synth.Synthesize(o.ctx, synth.Request{
		Text:         seg.Text,
		LanguageName: langName,
		Voice:        o.cfg.Voice,
		Backend:      o.cfg.Backend,
	})
	if err != nil {
		o.failTurn(turnID, err)
		return
	}
	if buf == nil || buf.Empty() {
		// The provider finished the turn without audio. Still a
		// completed turn.
		o.completeTurn(pendingTurn{id: turnID, text: seg.Text, language: o.cfg.TargetLanguage})
		return
	}

	o.setStatus(protocol.StatusBuffering)
	o.mu.Lock()
	o.pending = &pendingTurn{
		id:       turnID,
		text:     seg.Text,
		language: o.cfg.TargetLanguage,
		duration: buf.Duration(),
	}
	o.mu.Unlock()

	if _, ok := o.player.Schedule(buf); !ok {
		o.mu.Lock()
		o.pending = nil
		o.mu.Unlock()
		o.completeTurn(pendingTurn{id: turnID, text: seg.Text, language: o.cfg.TargetLanguage})
		return
	}
	o.setStatus(protocol.StatusSpeaking)
}

// drained fires when the scheduler's last active buffer finishes playing.
func (o *Orchestrator) drained() {
	o.mu.Lock()
	turn := o.pending
	o.pending = nil
	o.mu.Unlock()
	if turn == nil {
		return
	}
	o.completeTurn(*turn)
}

// completeTurn publishes the turn, records it, returns to Idle, and resumes
// draining the queue after a short debounce.
func (o *Orchestrator) completeTurn(turn pendingTurn) {
	complete := protocol.TurnComplete{
		ChannelID: o.cfg.ChannelID,
		TurnID:    turn.id,
		Text:      turn.text,
		Language:  turn.language,
		Audio:     turn.duration,
		Timestamp: time.Now().UTC(),
	}
	o.pub.TurnComplete(complete)
	if o.rec != nil {
		if err := o.rec.Record(complete); err != nil {
			o.logger.Warn("failed to record turn", slogError(err))
		}
	}
	o.setStatus(protocol.StatusIdle)
	o.release(o.debounce)
}

// failTurn maps the synthesis error, rotates the credential pool on a quota
// signature, drops the segment, and holds Error status for the cool-down
// before resuming. The segment is never re-enqueued.
func (o *Orchestrator) failTurn(turnID string, err error) {
	kind := errorKind(err)
	if synth.IsQuota(err) {
		if next, ok := o.pool.Rotate(); ok {
			o.synth.UpdateCredential(next)
			o.logger.Info("rotated credential after quota error",
				slog.String("turn_id", turnID),
				slog.Int("pool_size", o.pool.Len()))
		}
	}
	o.logger.Warn("turn failed",
		slog.String("turn_id", turnID),
		slog.String("kind", kind),
		slogError(err))
	o.pub.Error(kind, err.Error())
	o.setStatus(protocol.StatusError)
	o.release(o.cooldown)
}

// release frees the in-flight lock after the given delay and kicks the next
// queued segment. Every turn, successful or not, ends here.
func (o *Orchestrator) release(after time.Duration) {
	resume := func() {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		o.busy = false
		if o.status == protocol.StatusError {
			o.mu.Unlock()
			o.setStatus(protocol.StatusIdle)
		} else {
			o.mu.Unlock()
		}
		o.processNext()
	}
	if after <= 0 {
		resume()
		return
	}
	time.AfterFunc(after, resume)
}

func (o *Orchestrator) setStatus(status protocol.Status) {
	o.mu.Lock()
	if o.closed || o.status == status {
		o.mu.Unlock()
		return
	}
	o.status = status
	o.mu.Unlock()
	o.pub.StatusChanged(status)
}

func errorKind(err error) string {
	var authErr *synth.AuthError
	var quotaErr *synth.QuotaError
	var decodeErr *synth.DecodeError
	switch {
	case synth.IsQuota(err) || errors.As(err, &quotaErr):
		return "quota"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &decodeErr):
		return "decode"
	default:
		return "provider"
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
