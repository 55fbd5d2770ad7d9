package capture

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

// socketBackend pipes raw audio frames to a streaming transcription service
// over a token-subprotocol WebSocket and emits utterances the service marks
// final. Interim results are discarded so a sentence is never spoken twice.
type socketBackend struct {
	cfg    config.CaptureConfig
	logger *slog.Logger
}

func newSocketBackend(cfg config.CaptureConfig, log *slog.Logger) *socketBackend {
	return &socketBackend{cfg: cfg, logger: log.With(slog.String("backend", "socket"))}
}

func (b *socketBackend) name() string { return "socket" }

type socketEvent struct {
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

func (b *socketBackend) start(ctx context.Context, stream io.Reader, emit emitFunc, fail func(error)) (func(), error) {
	if b.cfg.SocketURL == "" {
		return nil, &BackendUnavailableError{Backend: "socket", Reason: "no socket url configured"}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"token", b.cfg.SocketKey},
	}
	conn, _, err := dialer.DialContext(ctx, b.cfg.SocketURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	var stopping atomic.Bool
	var writeMu sync.Mutex

	// Uplink: fixed-size PCM frames as binary messages.
	go func() {
		frame := make([]byte, frameSize(b.cfg))
		for {
			n, err := stream.Read(frame)
			if n > 0 {
				writeMu.Lock()
				werr := conn.WriteMessage(websocket.BinaryMessage, frame[:n])
				writeMu.Unlock()
				if werr != nil {
					if !stopping.Load() {
						fail(&TransportError{Op: "write", Err: werr})
					}
					return
				}
			}
			if err != nil {
				if !stopping.Load() && !errors.Is(err, io.EOF) && ctx.Err() == nil {
					fail(&TransportError{Op: "audio stream", Err: err})
				}
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				writeMu.Unlock()
				return
			}
		}
	}()

	// Downlink: JSON transcript events, final utterances only.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !stopping.Load() && ctx.Err() == nil {
					fail(&TransportError{Op: "read", Err: err})
				}
				return
			}
			var ev socketEvent
			if jsonErr := json.Unmarshal(data, &ev); jsonErr != nil {
				b.logger.Debug("discarding unparseable transcript event", slog.String("error", jsonErr.Error()))
				continue
			}
			if !ev.IsFinal || len(ev.Channel.Alternatives) == 0 {
				continue
			}
			emit(ev.Channel.Alternatives[0].Transcript, true)
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
