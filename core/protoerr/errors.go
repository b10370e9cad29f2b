// Package protoerr defines the caller-visible error taxonomy shared by
// core/kex and core/userauth (SPEC_FULL.md section 7). It follows the
// teacher's habit (lib/ssh/common.go: unexpectedMessageError,
// parseError) of small constructor functions wrapping a sentinel, so
// callers can both read a human message and errors.Is against a kind.
package protoerr

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. These are the "kinds" from SPEC_FULL.md
// section 7; construct the wrapped, detailed error with the
// functions below rather than returning a sentinel directly.
var (
	ErrProtocolViolation  = errors.New("protocol violation")
	ErrUnexpectedMessage  = errors.New("unexpected message")
	ErrNegotiationFailure = errors.New("key exchange negotiation failure")
	ErrCryptoFailure      = errors.New("cryptographic failure")
)

// ProtocolViolation reports that the peer sent a message that is
// illegal in the machine's current state, or syntactically legal but
// disallowed content. Fatal: the caller must drop the connection.
func ProtocolViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrProtocolViolation}, args...)...)
}

// UnexpectedMessage is the KEX-local flavor of ProtocolViolation: a
// message type that does not match what the current state expects.
func UnexpectedMessage(state string, gotType byte) error {
	return fmt.Errorf("%w: in state %s, received message type %d", ErrUnexpectedMessage, state, gotType)
}

// NegotiationFailure reports that no common algorithm exists between
// the two offered lists for a given concern.
func NegotiationFailure(concern string, ours, theirs []string) error {
	return fmt.Errorf("%w: no common %s algorithm; we offered %v, peer offered %v", ErrNegotiationFailure, concern, ours, theirs)
}

// CryptoFailure wraps a signature-verification or key-derivation
// error without leaking which cryptographic step failed beyond what
// the underlying error already says (SPEC_FULL.md section 7).
func CryptoFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrCryptoFailure, err)
}

// CallerMisuse is a programmer-error panic value, not a returned
// error: SPEC_FULL.md section 7 classifies invariant-violating API
// misuse (e.g. sendNewKeys before keys are exchanged) as fatal to the
// process, not to the connection. State-machine methods that detect
// misuse call panic(CallerMisuse{...}); the CLI's top-level recover
// logs and exits rather than limping on with a corrupted machine.
type CallerMisuse struct {
	Method string
	State  string
}

func (m CallerMisuse) Error() string {
	return fmt.Sprintf("caller misuse: %s called while in state %s", m.Method, m.State)
}
