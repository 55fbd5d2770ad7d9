package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/eburonlabs/orbit-relay/internal/config"
)

// Source yields a raw little-endian 16-bit PCM byte stream from one audio
// input. Closing the returned stream releases the underlying device.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}

// NewSource selects the configured audio input. The remote feed bypasses
// local capture devices entirely and pipes broadcast bytes straight into the
// backend.
func NewSource(cfg config.CaptureConfig) (Source, error) {
	switch cfg.Source {
	case "mic":
		return &execSource{name: "mic", command: cfg.MicCommand}, nil
	case "loopback":
		return &execSource{name: "loopback", command: cfg.LoopbackCommand}, nil
	case "feed":
		if cfg.FeedURL == "" {
			return nil, fmt.Errorf("feed source requires a feed url")
		}
		return &feedSource{url: cfg.FeedURL}, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

// execSource launches a capture command (arecord, pw-record, a loopback
// helper) and reads PCM from its stdout. Killing the process releases the
// device.
type execSource struct {
	name    string
	command string
}

func (s *execSource) Name() string { return s.name }

func (s *execSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.command == "" {
		return nil, &DeviceError{Kind: DeviceNotFound, Device: s.name}
	}
	args, err := shellwords.NewParser().Parse(s.command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", s.name, err)
	}
	if len(args) == 0 {
		return nil, &DeviceError{Kind: DeviceNotFound, Device: s.name}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, classifyExecError(s.name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyExecError(s.name, err)
	}
	return &processStream{reader: stdout, cmd: cmd}, nil
}

// processStream ties a stdout pipe to its process so Close tears both down.
type processStream struct {
	reader io.ReadCloser
	cmd    *exec.Cmd
}

func (p *processStream) Read(b []byte) (int, error) { return p.reader.Read(b) }

func (p *processStream) Close() error {
	_ = p.reader.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return nil
}

// feedSource streams a fixed remote broadcast over HTTP. No local device is
// acquired.
type feedSource struct {
	url    string
	client *http.Client
}

func (s *feedSource) Name() string { return "feed" }

func (s *feedSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &TransportError{Op: "feed request", Err: err}
	}
	client := s.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "feed connect", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &TransportError{Op: "feed connect", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return resp.Body, nil
}
