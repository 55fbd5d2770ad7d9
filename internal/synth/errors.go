package synth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when a synthesize call arrives while a previous one is
// still unresolved. The orchestrator serializes turns, but the gateway
// defends independently.
var ErrBusy = errors.New("synthesis already in flight")

// AuthError means no valid credential is bound to the gateway or the
// provider rejected the one that is.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("synthesis auth: %s", e.Reason)
}

// QuotaError means the provider rate-limited the request. The orchestrator
// rotates credentials on this error and drops the current turn.
type QuotaError struct {
	StatusCode int
	Message    string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("synthesis quota exceeded (status %d): %s", e.StatusCode, e.Message)
}

// ProviderError covers transport failures and any other backend-side fault.
type ProviderError struct {
	Backend string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("synthesis backend %s: %v", e.Backend, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DecodeError means the provider returned a payload that cannot be decoded
// into a playable buffer.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("synthesis decode: %s", e.Reason)
}

// IsQuota reports whether the error carries a rate-limit signature, either
// typed or textual ("429"/"quota"), since some providers only surface the
// marker in a message string.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	var quota *QuotaError
	if errors.As(err, &quota) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}
