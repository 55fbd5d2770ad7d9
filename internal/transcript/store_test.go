package transcript

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/eburonlabs/orbit-relay/internal/config"
	"github.com/eburonlabs/orbit-relay/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralWritesNothing(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptConfig{Path: filepath.Join(tmp, "log.db"), RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Record(protocol.TurnComplete{ChannelID: "c", TurnID: "t", Text: "hello"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	turns, err := s.List(context.Background(), "c", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if turns != nil {
		t.Fatalf("ephemeral store must not retain turns, got %d", len(turns))
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptConfig{Path: filepath.Join(tmp, "log.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	turn := protocol.TurnComplete{
		ChannelID: "room-1",
		TurnID:    "turn-abc",
		Text:      "goedemorgen",
		Language:  "nl-be",
		Audio:     1500 * time.Millisecond,
		Timestamp: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := s.Append(context.Background(), turn); err != nil {
		t.Fatalf("append: %v", err)
	}

	turns, err := s.List(context.Background(), "room-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	got := turns[0]
	if got.Text != "goedemorgen" || got.Language != "nl-be" || got.AudioMS != 1500 {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestPruneByAgeAndCount(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.TranscriptConfig{
		Path:          filepath.Join(tmp, "log.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxTurns:      2,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := protocol.TurnComplete{ChannelID: "c", TurnID: "old", Text: "stale", Timestamp: base.Add(-48 * time.Hour)}
	if err := s.Append(context.Background(), stale); err != nil {
		t.Fatalf("append stale: %v", err)
	}
	for i, id := range []string{"a", "b", "c"} {
		turn := protocol.TurnComplete{ChannelID: "c", TurnID: id, Text: id, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := s.Append(context.Background(), turn); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	s.clock = func() time.Time { return base.Add(time.Hour) }
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	turns, err := s.List(context.Background(), "c", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected retention cap of 2, got %d", len(turns))
	}
	if turns[0].TurnID != "b" || turns[1].TurnID != "c" {
		t.Fatalf("expected most recent turns kept, got %+v", turns)
	}
}
