package audio

// Sink is the output device the scheduler writes to. Play must not block for
// the duration of the clip; the scheduler tracks completion by buffer
// duration, not by sink feedback.
type Sink interface {
	Play(buf *Buffer)
	// Stop halts anything currently audible.
	Stop()
	Close()
}

// DiscardSink swallows audio. Used for headless relays and tests; the
// scheduler's timing contract is identical either way.
type DiscardSink struct{}

func (DiscardSink) Play(*Buffer) {}
func (DiscardSink) Stop()        {}
func (DiscardSink) Close()       {}
