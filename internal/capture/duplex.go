package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

// duplexBackend holds a bidirectional session with an audio-native model:
// captured PCM goes up as base64 chunks tagged with a mime descriptor, and
// the server pushes back transcript fragments as it hears them. No finality
// marker exists on this path, so every fragment is emitted with final=false
// and downstream consumers must tolerate fragment-level segments.
type duplexBackend struct {
	cfg    config.CaptureConfig
	logger *slog.Logger
}

func newDuplexBackend(cfg config.CaptureConfig, log *slog.Logger) *duplexBackend {
	return &duplexBackend{cfg: cfg, logger: log.With(slog.String("backend", "duplex"))}
}

func (b *duplexBackend) name() string { return "duplex" }

type duplexChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type duplexFrame struct {
	RealtimeInput struct {
		MediaChunks []duplexChunk `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type duplexEvent struct {
	ServerContent struct {
		InputTranscription struct {
			Text string `json:"text"`
		} `json:"inputTranscription"`
	} `json:"serverContent"`
}

func (b *duplexBackend) start(ctx context.Context, stream io.Reader, emit emitFunc, fail func(error)) (func(), error) {
	if b.cfg.DuplexURL == "" {
		return nil, &BackendUnavailableError{Backend: "duplex", Reason: "no duplex url configured"}
	}

	header := http.Header{}
	if b.cfg.DuplexKey != "" {
		header.Set("Authorization", "Bearer "+b.cfg.DuplexKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.cfg.DuplexURL, header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	rate := b.cfg.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	mime := fmt.Sprintf("audio/pcm;rate=%d", rate)

	var stopping atomic.Bool
	var writeMu sync.Mutex

	go func() {
		buf := make([]byte, frameSize(b.cfg))
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				var frame duplexFrame
				frame.RealtimeInput.MediaChunks = []duplexChunk{{
					MimeType: mime,
					Data:     base64.StdEncoding.EncodeToString(buf[:n]),
				}}
				writeMu.Lock()
				werr := conn.WriteJSON(frame)
				writeMu.Unlock()
				if werr != nil {
					if !stopping.Load() {
						fail(&TransportError{Op: "write", Err: werr})
					}
					return
				}
			}
			if err != nil {
				if !stopping.Load() && err != io.EOF && ctx.Err() == nil {
					fail(&TransportError{Op: "audio stream", Err: err})
				}
				return
			}
		}
	}()

	go func() {
		for {
			var ev duplexEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if !stopping.Load() && ctx.Err() == nil {
					fail(&TransportError{Op: "read", Err: err})
				}
				return
			}
			emit(ev.ServerContent.InputTranscription.Text, false)
		}
	}()

	stop := func() {
		stopping.Store(true)
		writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		writeMu.Unlock()
		_ = conn.Close()
	}
	return stop, nil
}
