package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler plays independently-produced buffers back to back. It owns a
// single cursor: the earliest moment the next buffer may begin. Each buffer's
// start is pinned to max(cursor, now) and the cursor then advances by the
// buffer's duration, so for any two buffers scheduled in order the second
// never starts before the first ends and never leaves a gap the scheduler
// itself introduced.
type Scheduler struct {
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	cursor  time.Time
	entries map[int]*entry
	nextID  int

	// onDrained fires when the last active buffer finishes playing.
	onDrained func()

	now func() time.Time
}

type entry struct {
	start  *time.Timer
	finish *time.Timer
}

func NewScheduler(sink Sink, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		sink:    sink,
		logger:  log.With(slog.String("component", "scheduler")),
		entries: make(map[int]*entry),
		now:     time.Now,
	}
	s.cursor = s.now()
	return s
}

// OnDrained registers the turn-complete callback. It fires once per drain,
// whenever the set of active buffers empties.
func (s *Scheduler) OnDrained(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrained = fn
}

// Schedule queues one buffer for gapless playback and returns its start
// delay relative to now. Empty buffers are rejected.
func (s *Scheduler) Schedule(buf *Buffer) (time.Duration, bool) {
	if buf.Empty() {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	startAt := s.cursor
	if startAt.Before(now) {
		startAt = now
	}
	duration := buf.Duration()
	s.cursor = startAt.Add(duration)

	id := s.nextID
	s.nextID++
	e := &entry{}
	e.start = time.AfterFunc(startAt.Sub(now), func() {
		s.sink.Play(buf)
	})
	e.finish = time.AfterFunc(startAt.Add(duration).Sub(now), func() {
		s.complete(id)
	})
	s.entries[id] = e

	return startAt.Sub(now), true
}

func (s *Scheduler) complete(id int) {
	s.mu.Lock()
	if _, ok := s.entries[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	drained := len(s.entries) == 0
	fn := s.onDrained
	s.mu.Unlock()

	if drained && fn != nil {
		fn()
	}
}

// Active reports how many buffers are scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CursorAt returns the current value of the playback cursor.
func (s *Scheduler) CursorAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// StopAll halts every scheduled and playing buffer immediately, clears the
// active set, and resets the cursor to now. No drained signal fires.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for id, e := range s.entries {
		e.start.Stop()
		e.finish.Stop()
		delete(s.entries, id)
	}
	s.cursor = s.now()
	s.mu.Unlock()

	s.sink.Stop()
}

// Close stops everything and releases the sink.
func (s *Scheduler) Close() {
	s.StopAll()
	s.sink.Close()
}
