package kex

import "github.com/zmap/sshkex/core/wire"

// Role distinguishes the two sides of a key exchange. The server
// variant carries the host private key used to sign the exchange
// hash (SPEC_FULL.md section 3.1); it is immutable for the lifetime
// of the Machine.
type Role struct {
	isServer bool
	signer   Signer
}

// ClientRole returns the client-side Role.
func ClientRole() Role { return Role{} }

// ServerRole returns the server-side Role, carrying the host key
// signer used to prove possession of the host key during ECDH.
func ServerRole(signer Signer) Role { return Role{isServer: true, signer: signer} }

func (r Role) IsServer() bool { return r.isServer }
func (r Role) String() string {
	if r.isServer {
		return "server"
	}
	return "client"
}

// stateKind tags which variant of the KEX state is currently
// inhabited (SPEC_FULL.md section 3.2). Exactly one is true at a
// time; machine.go's methods switch on it exhaustively instead of
// relying on ad-hoc boolean flags.
type stateKind int

const (
	stateIdle stateKind = iota
	stateKexSent
	stateAwaitingKexInitWrongGuess
	stateAwaitingKexInit
	stateKexInitReceived
	stateKexInitSent
	stateKeysExchanged
	stateNewKeysReceived
	stateNewKeysSent
	stateComplete
)

func (k stateKind) String() string {
	switch k {
	case stateIdle:
		return "Idle"
	case stateKexSent:
		return "KexSent"
	case stateAwaitingKexInitWrongGuess:
		return "AwaitingKexInitWrongGuess"
	case stateAwaitingKexInit:
		return "AwaitingKexInit"
	case stateKexInitReceived:
		return "KexInitReceived"
	case stateKexInitSent:
		return "KexInitSent"
	case stateKeysExchanged:
		return "KeysExchanged"
	case stateNewKeysReceived:
		return "NewKeysReceived"
	case stateNewKeysSent:
		return "NewKeysSent"
	case stateComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// negotiationContext is the payload carried by AwaitingKexInit and
// AwaitingKexInitWrongGuess, and kept into the client's KexInitSent,
// where HandleEcdhReply reads it: the negotiated algorithms, both
// KEXINIT messages (needed later for the exchange hash), and our
// ephemeral Curve25519 exchanger.
type negotiationContext struct {
	exchanger  *curve25519Exchanger
	ourInit    *wire.KexInitMsg
	ourPacket  []byte
	peerInit   *wire.KexInitMsg
	peerPacket []byte
	algs       *Algorithms
}

// state is the single tagged-union value representing "where this
// Machine currently is" (SPEC_FULL.md section 9: "the current state
// is a single value, not a set of booleans").
type state struct {
	kind stateKind

	ourInit *wire.KexInitMsg // KexSent

	negotiation *negotiationContext // AwaitingKexInit, AwaitingKexInitWrongGuess, KexInitSent

	exchanger *curve25519Exchanger // KexInitSent
	algs      *Algorithms          // KexInitSent, KexInitReceived

	result *kexResult // KexInitReceived onward

	protector *TransportProtector // KeysExchanged onward
}
