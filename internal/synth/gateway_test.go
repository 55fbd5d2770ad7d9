package synth

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.SynthesisConfig {
	return config.SynthesisConfig{
		Backend:    "mock",
		Model:      "speech-inline-1",
		SampleRate: 24000,
		Channels:   1,
		TimeoutMS:  2000,
	}
}

func TestGatewayRequiresCredential(t *testing.T) {
	g, err := NewGateway(testConfig(), newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	_, err = g.Synthesize(context.Background(), Request{Text: "hello", LanguageName: "English", Voice: "Zephyr"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestGatewayMockBackendProducesBuffer(t *testing.T) {
	g, err := NewGateway(testConfig(), newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	buf, err := g.Synthesize(context.Background(), Request{Text: "hello", LanguageName: "English", Voice: "Zephyr"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if buf.Empty() {
		t.Fatal("expected non-empty buffer from mock backend")
	}
	if buf.SampleRate != 24000 || buf.Channels != 1 {
		t.Fatalf("unexpected format %d/%d", buf.SampleRate, buf.Channels)
	}
	if buf.Duration() <= 0 {
		t.Fatal("expected positive duration")
	}
}

type stallBackend struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stallBackend) Synthesize(ctx context.Context, _ BackendRequest) ([]byte, error) {
	close(s.entered)
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return make([]byte, 480), nil
}

func TestGatewayRejectsReentrantCall(t *testing.T) {
	stall := &stallBackend{entered: make(chan struct{}), release: make(chan struct{})}
	Register("stall", func(config.SynthesisConfig, func(string) (Backend, bool), *slog.Logger) (Backend, error) {
		return stall, nil
	})

	cfg := testConfig()
	cfg.Backend = "stall"
	g, err := NewGateway(cfg, newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	var wg sync.WaitGroup
	first := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := g.Synthesize(context.Background(), Request{Text: "hello", LanguageName: "English"})
		first <- err
	}()

	<-stall.entered
	if _, err := g.Synthesize(context.Background(), Request{Text: "again", LanguageName: "English"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while a call is in flight, got %v", err)
	}

	close(stall.release)
	wg.Wait()
	if err := <-first; err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	// The guard must clear once the in-flight call returns.
	stall.entered = make(chan struct{})
	stall.release = make(chan struct{})
	close(stall.release)
	if _, err := g.Synthesize(context.Background(), Request{Text: "next", LanguageName: "English"}); err != nil {
		t.Fatalf("expected guard cleared, got %v", err)
	}
}

func TestGatewayUnknownBackend(t *testing.T) {
	g, err := NewGateway(testConfig(), newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	_, err = g.Synthesize(context.Background(), Request{Text: "x", LanguageName: "English", Backend: "holographic"})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func inlineServer(t *testing.T, handler http.HandlerFunc) config.SynthesisConfig {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := testConfig()
	cfg.Backend = "inline"
	cfg.Endpoint = srv.URL
	return cfg
}

func audioResponse(data string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm", "data": data}},
			}}},
		},
	}
}

func TestInlineBackendDecodesInlinePayload(t *testing.T) {
	pcm := make([]byte, 4800) // 100ms at 24kHz mono
	cfg := inlineServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["generationConfig"]; !ok {
			t.Error("expected generationConfig in request")
		}
		_ = json.NewEncoder(w).Encode(audioResponse(base64.StdEncoding.EncodeToString(pcm)))
	})

	g, err := NewGateway(cfg, newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	buf, err := g.Synthesize(context.Background(), Request{Text: "hallo", LanguageName: "Flemish", Voice: "Kore"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if buf.Duration() != 100*time.Millisecond {
		t.Fatalf("expected 100ms buffer, got %v", buf.Duration())
	}
}

func TestInlineBackendQuotaAndAuthErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	cfg := inlineServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})

	g, err := NewGateway(cfg, newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	_, err = g.Synthesize(context.Background(), Request{Text: "x", LanguageName: "English"})
	if !IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}

	status = http.StatusForbidden
	_, err = g.Synthesize(context.Background(), Request{Text: "x", LanguageName: "English"})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestInlineBackendEmptyResponseCompletesTurn(t *testing.T) {
	cfg := inlineServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	})

	g, err := NewGateway(cfg, newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	buf, err := g.Synthesize(context.Background(), Request{Text: "x", LanguageName: "English"})
	if err != nil {
		t.Fatalf("expected no error on empty response, got %v", err)
	}
	if buf != nil {
		t.Fatal("expected nil buffer on empty response")
	}
}

func TestLiveBackendDelegatesToInline(t *testing.T) {
	var calls int
	cfg := inlineServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(audioResponse(base64.StdEncoding.EncodeToString(make([]byte, 480))))
	})
	cfg.Backend = "live"

	g, err := NewGateway(cfg, newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	if _, err := g.Synthesize(context.Background(), Request{Text: "x", LanguageName: "English"}); err != nil {
		t.Fatalf("synthesize via live shim: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected delegation to hit inline endpoint once, got %d", calls)
	}
}

func TestDecodeWAVPayload(t *testing.T) {
	frames := 2205 // 100ms at 22050Hz
	intBuf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: 22050},
		Data:   make([]int, frames),
	}
	for i := range intBuf.Data {
		intBuf.Data[i] = i % 64
	}
	tmp := newWAV(t, intBuf)

	cfg := inlineServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(audioResponse(base64.StdEncoding.EncodeToString(tmp)))
	})

	g, err := NewGateway(cfg, newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	buf, err := g.Synthesize(context.Background(), Request{Text: "x", LanguageName: "English"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if buf.SampleRate != 22050 || buf.Channels != 1 {
		t.Fatalf("wav format not honored: %d/%d", buf.SampleRate, buf.Channels)
	}
	if got := int16(binary.LittleEndian.Uint16(buf.PCM[2:])); got != 1 {
		t.Fatalf("sample data mangled: %d", got)
	}
}

func TestDecodeRejectsMisalignedPCM(t *testing.T) {
	cfg := inlineServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(audioResponse(base64.StdEncoding.EncodeToString([]byte{1, 2, 3})))
	})

	g, err := NewGateway(cfg, newLogger())
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	g.UpdateCredential("key-1")

	_, err = g.Synthesize(context.Background(), Request{Text: "x", LanguageName: "English"})
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestIsQuotaTextualFallback(t *testing.T) {
	if !IsQuota(errors.New("provider said: 429 slow down")) {
		t.Fatal("expected textual 429 to match")
	}
	if !IsQuota(errors.New("QUOTA exhausted")) {
		t.Fatal("expected textual quota to match")
	}
	if IsQuota(errors.New("connection refused")) {
		t.Fatal("plain transport error must not match")
	}
}

// newWAV writes a WAV clip through a temp file, since the encoder needs a
// WriteSeeker.
func newWAV(t *testing.T, intBuf *audio.IntBuffer) []byte {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "clip_*.wav")
	if err != nil {
		t.Fatalf("temp wav: %v", err)
	}
	enc := wav.NewEncoder(f, intBuf.Format.SampleRate, 16, intBuf.Format.NumChannels, 1)
	if err := enc.Write(intBuf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	f.Close()
	return data
}
