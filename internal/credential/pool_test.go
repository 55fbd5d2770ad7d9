package credential

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRotateIsCircular(t *testing.T) {
	p := NewPool(10)
	p.Add("key-0")
	p.Add("key-1")
	p.Add("key-2")

	first, ok := p.Current()
	if !ok || first != "key-0" {
		t.Fatalf("expected key-0 current, got %q", first)
	}
	for i := 0; i < 3; i++ {
		if _, ok := p.Rotate(); !ok {
			t.Fatalf("rotation %d failed", i)
		}
	}
	back, _ := p.Current()
	if back != first {
		t.Fatalf("expected %d rotations to return to %q, got %q", 3, first, back)
	}
}

func TestRotateEmptyPool(t *testing.T) {
	p := NewPool(10)
	if _, ok := p.Rotate(); ok {
		t.Fatal("expected rotation on empty pool to be a no-op")
	}
	if _, ok := p.Current(); ok {
		t.Fatal("expected no current credential on empty pool")
	}
}

func TestAddDeduplicatesAndBounds(t *testing.T) {
	p := NewPool(3)
	for _, k := range []string{"a", "b", "a", "c", "d"} {
		p.Add(k)
	}
	got := p.Snapshot()
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if cur, _ := p.Current(); cur != "b" {
		t.Fatalf("expected cursor clamped to oldest surviving key, got %q", cur)
	}
}

func TestStoreFetchAndAppend(t *testing.T) {
	var stored []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			rows := []map[string]any{{"value": map[string]any{"keys": stored}}}
			_ = json.NewEncoder(w).Encode(rows)
		case http.MethodPost:
			var payload struct {
				Value struct {
					Keys []string `json:"keys"`
				} `json:"value"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			stored = payload.Value.Keys
			w.WriteHeader(http.StatusCreated)
		}
	}))
	t.Cleanup(srv.Close)

	store := NewStore(srv.URL, "anon", config.CredentialConfig{ConfigKey: "orbit_api_keys", MaxKeys: 2}, newLogger())

	if err := store.Append(context.Background(), "key-1"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(context.Background(), "key-2"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(context.Background(), "key-3"); err != nil {
		t.Fatalf("append: %v", err)
	}

	keys, err := store.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(keys) != 2 || keys[0] != "key-2" || keys[1] != "key-3" {
		t.Fatalf("expected oldest key dropped, got %v", keys)
	}

	// Re-appending an existing key leaves the list untouched.
	if err := store.Append(context.Background(), "key-3"); err != nil {
		t.Fatalf("append existing: %v", err)
	}
	keys, _ = store.Fetch(context.Background())
	if len(keys) != 2 {
		t.Fatalf("expected dedupe, got %v", keys)
	}
}
