package protocol

import "time"

// Status enumerates the relay's user-visible processing states. Exactly one
// value is current at any time; the orchestrator owns every transition except
// Recording, which the capture engine drives.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusFetching    Status = "fetching"
	StatusTranslating Status = "translating"
	StatusBuffering   Status = "buffering"
	StatusSpeaking    Status = "speaking"
	StatusRecording   Status = "recording"
	StatusError       Status = "error"
)

// Segment is one unit of source text to be translated and spoken.
type Segment struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusChanged announces a relay state transition on the bus.
type StatusChanged struct {
	ChannelID string    `json:"channel_id"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnComplete marks the end-to-end processing of one segment, from dequeue
// to playback completion.
type TurnComplete struct {
	ChannelID string        `json:"channel_id"`
	TurnID    string        `json:"turn_id"`
	Text      string        `json:"text"`
	Language  string        `json:"language"`
	Audio     time.Duration `json:"audio_duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// RelayError is published for any failed turn or capture session.
type RelayError struct {
	ChannelID string    `json:"channel_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript carries captured speech broadcast to presentation consumers.
type Transcript struct {
	ChannelID string    `json:"channel_id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectStatusChanged = "relay.status"
	SubjectTurnComplete  = "relay.turn.complete"
	SubjectError         = "relay.error"
	SubjectTranscript    = "relay.transcript"
)
