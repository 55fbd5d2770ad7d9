package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/bus"
	"github.com/eburonlabs/orbit-relay/internal/protocol"
)

// Publisher receives the relay's discrete lifecycle events. Presentation
// layers subscribe to these instead of being called from inside the turn loop.
type Publisher interface {
	StatusChanged(status protocol.Status)
	TurnComplete(turn protocol.TurnComplete)
	Error(kind, message string)
	Transcript(t protocol.Transcript)
}

// BusPublisher forwards lifecycle events onto the NATS bus.
type BusPublisher struct {
	bus       *bus.Client
	channelID string
	logger    *slog.Logger
}

func NewBusPublisher(busClient *bus.Client, channelID string, log *slog.Logger) *BusPublisher {
	return &BusPublisher{
		bus:       busClient,
		channelID: channelID,
		logger:    log.With(slog.String("component", "events")),
	}
}

func (p *BusPublisher) StatusChanged(status protocol.Status) {
	p.publish(protocol.SubjectStatusChanged, protocol.StatusChanged{
		ChannelID: p.channelID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

func (p *BusPublisher) TurnComplete(turn protocol.TurnComplete) {
	if turn.ChannelID == "" {
		turn.ChannelID = p.channelID
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	p.publish(protocol.SubjectTurnComplete, turn)
}

func (p *BusPublisher) Error(kind, message string) {
	p.publish(protocol.SubjectError, protocol.RelayError{
		ChannelID: p.channelID,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (p *BusPublisher) Transcript(t protocol.Transcript) {
	if t.ChannelID == "" {
		t.ChannelID = p.channelID
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	p.publish(protocol.SubjectTranscript, t)
}

func (p *BusPublisher) publish(subject string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn("failed to marshal event", slog.String("subject", subject), slogError(err))
		return
	}
	if err := p.bus.Conn().Publish(subject, data); err != nil {
		p.logger.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
	}
}

// Nop discards all events. Used when no bus is attached.
type Nop struct{}

func (Nop) StatusChanged(protocol.Status)      {}
func (Nop) TurnComplete(protocol.TurnComplete) {}
func (Nop) Error(string, string)               {}
func (Nop) Transcript(protocol.Transcript)     {}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
