package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/audio"
	"github.com/eburonlabs/orbit-relay/internal/config"
	"github.com/eburonlabs/orbit-relay/internal/credential"
	"github.com/eburonlabs/orbit-relay/internal/protocol"
	"github.com/eburonlabs/orbit-relay/internal/synth"
)

type synthResult struct {
	buf *audio.Buffer
	err error
}

type fakeSynth struct {
	mu          sync.Mutex
	calls       []string
	credentials []string
	results     map[string]synthResult
	delay       time.Duration

	inflight      int32
	maxConcurrent int32
}

func (f *fakeSynth) Synthesize(ctx context.Context, req synth.Request) (*audio.Buffer, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	for {
		max := atomic.LoadInt32(&f.maxConcurrent)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxConcurrent, max, n) {
			break
		}
	}
	defer atomic.AddInt32(&f.inflight, -1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	res := f.results[req.Text]
	f.mu.Unlock()
	return res.buf, res.err
}

func (f *fakeSynth) UpdateCredential(c string) {
	f.mu.Lock()
	f.credentials = append(f.credentials, c)
	f.mu.Unlock()
}

func (f *fakeSynth) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakePlayer accepts every buffer and fires the drained callback shortly
// after, off the scheduling goroutine like the real scheduler does.
type fakePlayer struct {
	mu        sync.Mutex
	scheduled []*audio.Buffer
	drained   func()
	reject    bool
}

func (p *fakePlayer) Schedule(buf *audio.Buffer) (time.Duration, bool) {
	p.mu.Lock()
	if p.reject {
		p.mu.Unlock()
		return 0, false
	}
	p.scheduled = append(p.scheduled, buf)
	fn := p.drained
	p.mu.Unlock()
	go func() {
		time.Sleep(2 * time.Millisecond)
		fn()
	}()
	return 0, true
}

func (p *fakePlayer) OnDrained(fn func()) {
	p.mu.Lock()
	p.drained = fn
	p.mu.Unlock()
}

type capturePublisher struct {
	mu       sync.Mutex
	statuses []protocol.Status
	turns    []protocol.TurnComplete
	errs     []string
}

func (c *capturePublisher) StatusChanged(s protocol.Status) {
	c.mu.Lock()
	c.statuses = append(c.statuses, s)
	c.mu.Unlock()
}

func (c *capturePublisher) TurnComplete(t protocol.TurnComplete) {
	c.mu.Lock()
	c.turns = append(c.turns, t)
	c.mu.Unlock()
}

func (c *capturePublisher) Error(kind, _ string) {
	c.mu.Lock()
	c.errs = append(c.errs, kind)
	c.mu.Unlock()
}

func (c *capturePublisher) Transcript(protocol.Transcript) {}

func (c *capturePublisher) turnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func (c *capturePublisher) sawStatus(want protocol.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.statuses {
		if s == want {
			return true
		}
	}
	return false
}

func relayConfig() config.RelayConfig {
	return config.RelayConfig{
		ChannelID:      "room-1",
		TargetLanguage: "nl-be",
		Voice:          "Kore",
		CooldownMS:     30,
		DebounceMS:     1,
	}
}

func pcmBuffer(d time.Duration) *audio.Buffer {
	frames := int(d.Seconds() * 16000)
	return &audio.Buffer{PCM: make([]byte, frames*2), SampleRate: 16000, Channels: 1}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTurnsRunInArrivalOrderOneAtATime(t *testing.T) {
	fs := &fakeSynth{
		delay: 3 * time.Millisecond,
		results: map[string]synthResult{
			"one":   {buf: pcmBuffer(10 * time.Millisecond)},
			"two":   {buf: pcmBuffer(10 * time.Millisecond)},
			"three": {buf: pcmBuffer(10 * time.Millisecond)},
		},
	}
	player := &fakePlayer{}
	pub := &capturePublisher{}
	o := New(context.Background(), relayConfig(), fs, player, credential.NewPool(0), pub, nil, testLogger())
	defer o.Close()

	for _, text := range []string{"one", "two", "three"} {
		o.Enqueue(protocol.Segment{Text: text, Timestamp: time.Now()})
	}

	waitFor(t, 2*time.Second, func() bool { return pub.turnCount() == 3 })

	got := fs.callOrder()
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
	if max := atomic.LoadInt32(&fs.maxConcurrent); max != 1 {
		t.Fatalf("observed %d concurrent syntheses, want 1", max)
	}
	if o.Status() != protocol.StatusIdle {
		t.Fatalf("expected Idle after drain, got %s", o.Status())
	}
}

func TestNoAudioStillCompletesTurn(t *testing.T) {
	fs := &fakeSynth{results: map[string]synthResult{"quiet": {}}}
	pub := &capturePublisher{}
	o := New(context.Background(), relayConfig(), fs, &fakePlayer{}, credential.NewPool(0), pub, nil, testLogger())
	defer o.Close()

	o.Enqueue(protocol.Segment{Text: "quiet", Timestamp: time.Now()})

	waitFor(t, time.Second, func() bool { return pub.turnCount() == 1 })
	pub.mu.Lock()
	turn := pub.turns[0]
	pub.mu.Unlock()
	if turn.Audio != 0 {
		t.Fatalf("expected zero audio duration, got %v", turn.Audio)
	}
	if turn.TurnID == "" {
		t.Fatal("expected a turn id")
	}
	waitFor(t, time.Second, func() bool { return !o.Busy() })
}

func TestQuotaErrorRotatesOnceAndDropsSegment(t *testing.T) {
	fs := &fakeSynth{
		results: map[string]synthResult{
			"limited": {err: &synth.QuotaError{StatusCode: 429, Message: "quota exceeded"}},
			"after":   {buf: pcmBuffer(5 * time.Millisecond)},
		},
	}
	pool := credential.NewPool(0)
	pool.Add("key-a")
	pool.Add("key-b")
	pub := &capturePublisher{}
	o := New(context.Background(), relayConfig(), fs, &fakePlayer{}, pool, pub, nil, testLogger())
	defer o.Close()

	o.Enqueue(protocol.Segment{Text: "limited", Timestamp: time.Now()})
	o.Enqueue(protocol.Segment{Text: "after", Timestamp: time.Now()})

	waitFor(t, 2*time.Second, func() bool { return pub.turnCount() == 1 })

	current, _ := pool.Current()
	if current != "key-b" {
		t.Fatalf("pool should have rotated to key-b, at %q", current)
	}
	fs.mu.Lock()
	credentials := append([]string(nil), fs.credentials...)
	fs.mu.Unlock()
	if len(credentials) != 1 || credentials[0] != "key-b" {
		t.Fatalf("expected exactly one credential update to key-b, got %v", credentials)
	}

	// The rate-limited segment is dropped, never retried.
	calls := fs.callOrder()
	var limited int
	for _, c := range calls {
		if c == "limited" {
			limited++
		}
	}
	if limited != 1 {
		t.Fatalf("rate-limited segment dispatched %d times, want 1", limited)
	}
	if !pub.sawStatus(protocol.StatusError) {
		t.Fatal("expected an Error status window")
	}
	pub.mu.Lock()
	errKinds := append([]string(nil), pub.errs...)
	pub.mu.Unlock()
	if len(errKinds) != 1 || errKinds[0] != "quota" {
		t.Fatalf("expected one quota error event, got %v", errKinds)
	}
}

func TestErrorHoldsBusyThroughCooldown(t *testing.T) {
	fs := &fakeSynth{results: map[string]synthResult{
		"bad": {err: errors.New("backend exploded")},
	}}
	pub := &capturePublisher{}
	cfg := relayConfig()
	cfg.CooldownMS = 50
	o := New(context.Background(), cfg, fs, &fakePlayer{}, credential.NewPool(0), pub, nil, testLogger())
	defer o.Close()

	o.Enqueue(protocol.Segment{Text: "bad", Timestamp: time.Now()})

	waitFor(t, time.Second, func() bool { return pub.sawStatus(protocol.StatusError) })
	if !o.Busy() {
		t.Fatal("orchestrator must stay busy through the cool-down")
	}
	if o.Status() != protocol.StatusError {
		t.Fatalf("expected Error during cool-down, got %s", o.Status())
	}

	waitFor(t, time.Second, func() bool { return !o.Busy() })
	if o.Status() != protocol.StatusIdle {
		t.Fatalf("expected Idle after cool-down, got %s", o.Status())
	}
}

func TestClearDropsQueueNotInFlight(t *testing.T) {
	fs := &fakeSynth{
		delay: 20 * time.Millisecond,
		results: map[string]synthResult{
			"first": {buf: pcmBuffer(5 * time.Millisecond)},
		},
	}
	pub := &capturePublisher{}
	o := New(context.Background(), relayConfig(), fs, &fakePlayer{}, credential.NewPool(0), pub, nil, testLogger())
	defer o.Close()

	o.Enqueue(protocol.Segment{Text: "first", Timestamp: time.Now()})
	o.Enqueue(protocol.Segment{Text: "second", Timestamp: time.Now()})
	o.Enqueue(protocol.Segment{Text: "third", Timestamp: time.Now()})
	o.Clear()

	waitFor(t, 2*time.Second, func() bool { return pub.turnCount() == 1 && !o.Busy() })
	time.Sleep(10 * time.Millisecond)

	if got := fs.callOrder(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("expected only the in-flight segment to run, got %v", got)
	}
	if o.QueueLen() != 0 {
		t.Fatalf("queue should be empty, has %d", o.QueueLen())
	}
}

func TestBlankSegmentsNeverEnterQueue(t *testing.T) {
	fs := &fakeSynth{results: map[string]synthResult{}}
	o := New(context.Background(), relayConfig(), fs, &fakePlayer{}, credential.NewPool(0), &capturePublisher{}, nil, testLogger())
	defer o.Close()

	o.Enqueue(protocol.Segment{Text: "   ", Timestamp: time.Now()})
	o.Enqueue(protocol.Segment{Text: "", Timestamp: time.Now()})

	time.Sleep(10 * time.Millisecond)
	if calls := fs.callOrder(); len(calls) != 0 {
		t.Fatalf("blank segments reached synthesis: %v", calls)
	}
	if o.Busy() {
		t.Fatal("orchestrator should stay free")
	}
}

func TestRejectedScheduleCompletesTurn(t *testing.T) {
	fs := &fakeSynth{results: map[string]synthResult{
		"clip": {buf: pcmBuffer(5 * time.Millisecond)},
	}}
	pub := &capturePublisher{}
	o := New(context.Background(), relayConfig(), fs, &fakePlayer{reject: true}, credential.NewPool(0), pub, nil, testLogger())
	defer o.Close()

	o.Enqueue(protocol.Segment{Text: "clip", Timestamp: time.Now()})

	waitFor(t, time.Second, func() bool { return pub.turnCount() == 1 && !o.Busy() })
}
