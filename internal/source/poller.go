package source

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/config"
	"github.com/eburonlabs/orbit-relay/internal/protocol"
)

// Fetcher is the slice of Client the poller needs.
type Fetcher interface {
	FetchSince(ctx context.Context, channelID string, watermark time.Time) ([]protocol.Segment, error)
}

// Poller fetches new segments on a jittered interval and forwards them, in
// arrival order, to the enqueue callback. The watermark only ever advances;
// transient fetch failures never reset it.
type Poller struct {
	cfg       config.PollConfig
	channelID string
	fetcher   Fetcher
	enqueue   func(protocol.Segment)
	watermark time.Time
	lastText  string
	rng       *rand.Rand
	logger    *slog.Logger
	done      chan struct{}
}

func NewPoller(cfg config.PollConfig, channelID string, fetcher Fetcher, enqueue func(protocol.Segment), log *slog.Logger) *Poller {
	return &Poller{
		cfg:       cfg,
		channelID: channelID,
		fetcher:   fetcher,
		enqueue:   enqueue,
		watermark: time.Now().UTC(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    log.With(slog.String("component", "poller")),
		done:      make(chan struct{}),
	}
}

// Run polls until the context is cancelled. The interval is re-rolled
// uniformly between the configured minimum and maximum every cycle so
// multiple clients do not synchronize against the store.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.done)
	for {
		p.pollOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.nextInterval()):
		}
	}
}

// Done is closed once Run has returned.
func (p *Poller) Done() <-chan struct{} { return p.done }

func (p *Poller) pollOnce(ctx context.Context) {
	segments, err := p.fetcher.FetchSince(ctx, p.channelID, p.watermark)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("segment poll failed", slog.String("error", err.Error()))
		}
		return
	}
	for _, seg := range segments {
		if !seg.Timestamp.After(p.watermark) {
			continue
		}
		p.watermark = seg.Timestamp
		text := strings.TrimSpace(seg.Text)
		if text == "" || text == p.lastText {
			continue
		}
		p.lastText = text
		p.enqueue(protocol.Segment{Text: text, Timestamp: seg.Timestamp})
	}
}

func (p *Poller) nextInterval() time.Duration {
	min := time.Duration(p.cfg.IntervalMinMS) * time.Millisecond
	max := time.Duration(p.cfg.IntervalMaxMS) * time.Millisecond
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}
