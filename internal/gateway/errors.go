package gateway

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/clawlink/pkg/protocol"
)

var (
	// ErrConnClosed rejects pending calls when the connection tears down.
	ErrConnClosed = errors.New("gateway: connection closed")
	// ErrNotConnected is returned for calls before Dial or after Close.
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrHandshakeTimeout is returned when the challenge or the connect
	// response does not arrive in time.
	ErrHandshakeTimeout = errors.New("gateway: handshake timed out")
)

// RPCError is a request failure reported by the gateway (ok=false). It
// affects only the call that triggered it, never the connection.
type RPCError struct {
	Method string
	Shape  protocol.ErrorShape
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway: %s failed: %s (%s)", e.Method, e.Shape.Message, e.Shape.Code)
}

// AuthError is a handshake rejection. Recoverable: the caller may retry
// with different credentials.
type AuthError struct {
	Message string
	Code    string
}

func (e *AuthError) Error() string {
	return "gateway: authentication rejected: " + e.Message
}

// PairingRequiredError is the expected, non-fatal handshake outcome for
// a device the operator has not approved yet. Code is shown to the
// operator for out-of-band approval.
type PairingRequiredError struct {
	Code string
}

func (e *PairingRequiredError) Error() string {
	return "gateway: pairing required, code " + e.Code
}

var pairingCodeRe = regexp.MustCompile(`(?i)pairing (?:required|code)\s*[:\-]?\s*([A-Z0-9][A-Z0-9-]{3,15})`)

// pairingRequired inspects a handshake error shape and, when it denotes
// the pairing-required outcome, extracts the operator-facing code. The
// device ID prefix is the fallback code when the message carries none.
func pairingRequired(shape *protocol.ErrorShape, deviceID string) (*PairingRequiredError, bool) {
	if shape == nil {
		return nil, false
	}
	msg := shape.Message
	if shape.Code != protocol.ErrNotPaired && !strings.Contains(strings.ToLower(msg), "pairing required") {
		return nil, false
	}
	if m := pairingCodeRe.FindStringSubmatch(msg); m != nil {
		return &PairingRequiredError{Code: m[1]}, true
	}
	code := deviceID
	if len(code) > 8 {
		code = code[:8]
	}
	return &PairingRequiredError{Code: strings.ToUpper(code)}, true
}
