package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"

	"github.com/mattn/go-shellwords"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

// deviceBackend runs a local platform recognizer in continuous mode. The
// recognizer owns its own audio capture; the engine hands it no stream. It
// prints one JSON object per line on stdout and the backend emits the final
// alternative of each recognized utterance.
type deviceBackend struct {
	cfg    config.CaptureConfig
	logger *slog.Logger
}

func newDeviceBackend(cfg config.CaptureConfig, log *slog.Logger) *deviceBackend {
	return &deviceBackend{cfg: cfg, logger: log.With(slog.String("backend", "device"))}
}

func (b *deviceBackend) name() string { return "device" }

type deviceResult struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func (b *deviceBackend) start(ctx context.Context, _ io.Reader, emit emitFunc, fail func(error)) (func(), error) {
	if b.cfg.DeviceCommand == "" {
		return nil, &BackendUnavailableError{Backend: "device", Reason: "no recognizer command configured"}
	}
	args, err := shellwords.NewParser().Parse(b.cfg.DeviceCommand)
	if err != nil || len(args) == 0 {
		return nil, &BackendUnavailableError{Backend: "device", Reason: "unparseable recognizer command"}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, classifyExecError("recognizer", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyExecError("recognizer", err)
	}

	var stopping atomic.Bool
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			var res deviceResult
			if err := json.Unmarshal(scanner.Bytes(), &res); err != nil {
				b.logger.Debug("discarding unparseable recognizer line", slog.String("error", err.Error()))
				continue
			}
			if !res.Final {
				continue
			}
			emit(res.Text, true)
		}
		waitErr := cmd.Wait()
		if stopping.Load() || ctx.Err() != nil {
			return
		}
		if waitErr != nil {
			fail(classifyExecError("recognizer", waitErr))
			return
		}
		fail(&BackendUnavailableError{Backend: "device", Reason: "recognizer exited"})
	}()

	stop := func() {
		stopping.Store(true)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return stop, nil
}
