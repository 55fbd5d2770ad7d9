package capture

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DeviceErrorKind names the ways acquiring an audio input device can fail.
type DeviceErrorKind string

const (
	DeviceNotFound         DeviceErrorKind = "not_found"
	DevicePermissionDenied DeviceErrorKind = "permission_denied"
	DeviceBusy             DeviceErrorKind = "busy"
)

// DeviceError is terminal for the session. Callers surface it and wait for
// an explicit restart; the engine never retries on its own.
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %s", e.Device, e.Kind)
}

// TransportError wraps a socket or stream failure between the engine and a
// remote transcription backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("capture transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendUnavailableError reports a backend that cannot start at all, for
// example a missing URL or an unknown engine name.
type BackendUnavailableError struct {
	Backend string
	Reason  string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("capture backend %s unavailable: %s", e.Backend, e.Reason)
}

// classifyExecError maps a capture-command launch failure onto the device
// error taxonomy. Anything unrecognized stays a device-busy style transport
// problem only if it clearly is one; otherwise it passes through.
func classifyExecError(device string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return &DeviceError{Kind: DeviceNotFound, Device: device}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not found"), strings.Contains(msg, "no such device"):
		return &DeviceError{Kind: DeviceNotFound, Device: device}
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "operation not permitted"):
		return &DeviceError{Kind: DevicePermissionDenied, Device: device}
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return &DeviceError{Kind: DeviceBusy, Device: device}
	}
	return err
}
