// Package kex implements the key-exchange state machine: algorithm
// negotiation, Curve25519 ECDH, and the AES-256-GCM transport
// protector it hands off once NEWKEYS has crossed in both directions
// (SPEC_FULL.md sections 3-6). It is role-aware and single-threaded --
// callers own all I/O and call these methods synchronously as packets
// arrive, mirroring the teacher's handshakeTransport (lib/ssh/handshake.go)
// but without its goroutine, mutex, and sync.Cond machinery: this
// machine has no internal concurrency to coordinate.
package kex

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/zmap/sshkex/core/protoerr"
	"github.com/zmap/sshkex/core/wire"
)

var errSignatureInvalid = errors.New("host key signature does not verify")

// MetricsHook is the nil-safe callback surface the Machine reports
// transitions through (SPEC_FULL.md section 11.3). A nil hook is
// legal and skipped.
type MetricsHook interface {
	OnKexTransition(role string, from, to string)
}

// Option configures a Machine at construction time.
type Option func(*Machine)

// WithLogger attaches a logrus logger; state transitions are logged at
// Debug. Rejected messages and other failures are returned to the
// caller as errors and are not logged.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Machine) { m.log = log }
}

// WithMetrics attaches a MetricsHook. Pass nil (the default) to skip
// metrics entirely.
func WithMetrics(hook MetricsHook) Option {
	return func(m *Machine) { m.metrics = hook }
}

// WithRandom overrides the source of randomness used for the random
// cookie and the ephemeral Curve25519 keys. Tests use this to get
// deterministic output; production callers should leave it unset and
// get crypto/rand.
func WithRandom(rnd io.Reader) Option {
	return func(m *Machine) { m.rand = rnd }
}

// HostKeyVerifier is an additive corroboration check the client role
// may run against the peer's host key once its signature has already
// verified (SPEC_FULL.md section 11.1: "additive corroboration, not a
// replacement for host-key signature verification, which the KEX
// state machine always performs regardless"). hostkey.SSHFPVerifier
// is the one implementation this repository ships.
type HostKeyVerifier interface {
	Verify(ctx context.Context, hostname string, pub ed25519.PublicKey) error
}

// WithHostKeyVerifier attaches a HostKeyVerifier the client role
// consults from HandleEcdhReply, after signature verification, before
// the NEWKEYS message is returned. hostname identifies the peer for
// the verifier's own lookup (e.g. the DNS name an SSHFPVerifier
// queries); it is not part of the KEX wire protocol itself. A server
// role ignores this option: only a client corroborates a host key it
// did not itself sign.
func WithHostKeyVerifier(hostname string, v HostKeyVerifier) Option {
	return func(m *Machine) {
		m.hostKeyVerifier = v
		m.hostKeyVerifyName = hostname
	}
}

// Machine is the key-exchange state machine for one connection, one
// role. It is not safe for concurrent use -- callers serialize access
// exactly the way a single-threaded event loop naturally would
// (SPEC_FULL.md section 9).
type Machine struct {
	role Role

	clientVersion []byte
	serverVersion []byte

	state state

	log     logrus.FieldLogger
	metrics MetricsHook
	rand    io.Reader

	hostKeyVerifier   HostKeyVerifier
	hostKeyVerifyName string
}

// NewMachine builds a key-exchange state machine in the Idle state.
// clientVersion and serverVersion are the two sides' already-exchanged
// protocol version strings (e.g. "SSH-2.0-sshkex_1.0"); which one is
// "ours" is derived from role where needed, not from the order of
// these two arguments.
func NewMachine(role Role, clientVersion, serverVersion []byte, opts ...Option) *Machine {
	m := &Machine{
		role:          role,
		clientVersion: clientVersion,
		serverVersion: serverVersion,
		state:         state{kind: stateIdle},
		rand:          rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) transition(to stateKind) {
	if m.log != nil {
		m.log.WithFields(logrus.Fields{
			"role": m.role.String(),
			"from": m.state.kind.String(),
			"to":   to.String(),
		}).Debug("kex: state transition")
	}
	if m.metrics != nil {
		m.metrics.OnKexTransition(m.role.String(), m.state.kind.String(), to.String())
	}
	m.state.kind = to
}

func (m *Machine) misuse(method string) {
	panic(protoerr.CallerMisuse{Method: method, State: m.state.kind.String()})
}

// SessionID returns the session identifier assigned at the end of the
// first completed key exchange, or nil before that. Rekeying -- and
// therefore a session ID that outlives the Machine that first computed
// it -- is a non-goal (SPEC_FULL.md section 1); callers that need the
// session ID across a rekey must carry it forward themselves.
func (m *Machine) SessionID() []byte {
	if m.state.result == nil {
		return nil
	}
	return m.state.result.SessionID
}

// PeerHostKey returns the peer's parsed Ed25519 host key once a KEX
// result is available, for embedding layers that want to check it
// against a pin (e.g. hostkey.SSHFPVerifier) before trusting the
// session. The signature over it has already been verified by
// HandleEcdhReply by the time this returns non-nil on the client. The
// server role has no peer host key and always gets nil.
func (m *Machine) PeerHostKey() (ed25519.PublicKey, error) {
	if m.state.result == nil || m.role.IsServer() {
		return nil, nil
	}
	return parseHostKeyBlob(m.state.result.HostKeyBlob)
}

// StartKeyExchange builds and records our own KEXINIT. Legal only from
// Idle; calling it twice is caller misuse, not a protocol violation --
// it is our own local action, not something the peer could provoke.
func (m *Machine) StartKeyExchange() *wire.KexInitMsg {
	if m.state.kind != stateIdle {
		m.misuse("StartKeyExchange")
	}
	var cookie [16]byte
	if _, err := io.ReadFull(m.rand, cookie[:]); err != nil {
		// crypto/rand.Reader does not fail in practice; a failure here
		// means the environment itself is broken beyond this machine's
		// ability to proceed correctly.
		panic(protoerr.CallerMisuse{Method: "StartKeyExchange", State: "entropy source failed: " + err.Error()})
	}
	ourInit := ourKexInit(cookie)
	m.state.ourInit = ourInit
	m.transition(stateKexSent)
	return ourInit
}

// SendKexInit confirms that the message StartKeyExchange returned was
// actually written to the wire. It does not transition state --
// StartKeyExchange already did -- it only asserts the caller sent the
// message this machine thinks it sent.
func (m *Machine) SendKexInit(msg *wire.KexInitMsg) {
	if m.state.kind != stateKexSent || msg != m.state.ourInit {
		m.misuse("SendKexInit")
	}
}

// KexInitOrEcdhInit is the Option<KexInitMessage or EcdhInitMessage>
// HandleKexInit returns: at most one of the two fields is set. The
// KexInit arm exists for completeness with SPEC_FULL.md section 4.1's
// contract shape; this Machine requires StartKeyExchange to be called
// before any inbound KEXINIT is handed to it (see HandleKexInit), so
// in practice only the EcdhInit arm, or neither, is ever populated.
type KexInitOrEcdhInit struct {
	KexInit  *wire.KexInitMsg
	EcdhInit *wire.EcdhInitMsg
}

// HandleKexInit processes the peer's KEXINIT, negotiates algorithms,
// and -- for the client role, once negotiation succeeds -- returns the
// EcdhInitMessage to send next (the client does not wait for a
// separate trigger to begin ECDH; real SSH clients send KEX_ECDH_INIT
// immediately once algorithms are settled).
//
// Receiving a KEXINIT while still Idle is caller misuse: this
// implementation's calling convention is that StartKeyExchange runs
// immediately after the version exchange, before any inbound KEXINIT
// can arrive, exactly as scenario 7 in SPEC_FULL.md section 8 drives
// both sides.
func (m *Machine) HandleKexInit(peerInit *wire.KexInitMsg) (*KexInitOrEcdhInit, error) {
	if m.state.kind == stateIdle {
		m.misuse("HandleKexInit")
	}
	if m.state.kind != stateKexSent {
		return nil, protoerr.UnexpectedMessage(m.state.kind.String(), wire.MsgKexInit)
	}

	ourInit := m.state.ourInit
	var clientInit, serverInit *wire.KexInitMsg
	if m.role.IsServer() {
		clientInit, serverInit = peerInit, ourInit
	} else {
		clientInit, serverInit = ourInit, peerInit
	}

	algs, err := negotiate(clientInit, serverInit)
	if err != nil {
		return nil, err
	}

	exchanger, err := newCurve25519Exchanger(m.rand)
	if err != nil {
		return nil, err
	}

	ctx := &negotiationContext{
		exchanger:  exchanger,
		ourInit:    ourInit,
		ourPacket:  ourInit.Marshal(),
		peerInit:   peerInit,
		peerPacket: peerInit.Marshal(),
		algs:       algs,
	}
	m.state.negotiation = ctx

	if m.role.IsServer() && expectingIncorrectGuess(peerInit, ourInit) {
		m.transition(stateAwaitingKexInitWrongGuess)
		return nil, nil
	}
	m.transition(stateAwaitingKexInit)

	if !m.role.IsServer() {
		ecdhInit := &wire.EcdhInitMsg{ClientPublic: exchanger.public[:]}
		m.state.exchanger = exchanger
		m.state.algs = algs
		m.transition(stateKexInitSent)
		return &KexInitOrEcdhInit{EcdhInit: ecdhInit}, nil
	}
	return nil, nil
}

// SendEcdhInit confirms the client actually wrote the EcdhInitMessage
// HandleKexInit returned.
func (m *Machine) SendEcdhInit(msg *wire.EcdhInitMsg) {
	if m.role.IsServer() || m.state.kind != stateKexInitSent || m.state.exchanger == nil ||
		string(msg.ClientPublic) != string(m.state.exchanger.public[:]) {
		m.misuse("SendEcdhInit")
	}
}

// HandleEcdhInit is the server's half of ECDH: it consumes the
// client's ephemeral public key, computes the shared secret and
// exchange hash, signs it with the host key, and returns the
// EcdhReplyMessage to send. In AwaitingKexInitWrongGuess, this call
// represents the discarded guessed packet: it is silently dropped and
// the machine falls back to waiting for the real one (SPEC_FULL.md
// section 8, scenario 8).
func (m *Machine) HandleEcdhInit(msg *wire.EcdhInitMsg) (*wire.EcdhReplyMsg, error) {
	if !m.role.IsServer() {
		return nil, protoerr.UnexpectedMessage(m.state.kind.String(), wire.MsgKexECDHInit)
	}

	switch m.state.kind {
	case stateAwaitingKexInitWrongGuess:
		m.transition(stateAwaitingKexInit)
		return nil, nil
	case stateAwaitingKexInit:
		// fall through
	default:
		return nil, protoerr.UnexpectedMessage(m.state.kind.String(), wire.MsgKexECDHInit)
	}

	ctx := m.state.negotiation
	shared, err := ctx.exchanger.sharedSecret(msg.ClientPublic)
	if err != nil {
		return nil, err
	}

	hostPub := m.role.signer.PublicKey()
	hostBlob := hostKeyBlob(hostPub)

	h := exchangeHash(
		wire.EncodeString(m.clientVersion),
		wire.EncodeString(m.serverVersion),
		wire.EncodeString(ctx.peerPacket),
		wire.EncodeString(ctx.ourPacket),
		wire.EncodeString(hostBlob),
		wire.EncodeString(msg.ClientPublic),
		wire.EncodeString(ctx.exchanger.public[:]),
		wire.EncodeMPInt(shared),
	)

	sig, err := m.role.signer.Sign(h)
	if err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	sigBlob := signatureBlob(sig)

	result := &kexResult{
		SharedSecret: shared,
		ExchangeHash: h,
		HostKeyBlob:  hostBlob,
		Signature:    sigBlob,
		SessionID:    h,
	}
	m.state.result = result
	m.state.algs = ctx.algs
	m.transition(stateKexInitReceived)

	return &wire.EcdhReplyMsg{
		HostKey:      hostBlob,
		ServerPublic: ctx.exchanger.public[:],
		Signature:    sigBlob,
	}, nil
}

// SendEcdhReply confirms the server sent its EcdhReplyMessage, and
// installs the transport protector: SPEC_FULL.md section 9 scopes
// protector construction to the moment the state becomes
// KeysExchanged, and for the server that moment is here.
func (m *Machine) SendEcdhReply(msg *wire.EcdhReplyMsg) error {
	if !m.role.IsServer() || m.state.kind != stateKexInitReceived {
		m.misuse("SendEcdhReply")
	}
	result := m.state.result
	protector, err := newTransportProtector(deriveDirectionalKeys(wire.EncodeMPInt(result.SharedSecret), result.ExchangeHash, result.SessionID))
	if err != nil {
		return err
	}
	m.state.protector = protector
	m.transition(stateKeysExchanged)
	return nil
}

// HandleEcdhReply is the client's half of ECDH: it verifies the
// server's host-key signature over the exchange hash, derives the
// same shared secret, and immediately returns the NewKeysMessage to
// send next -- real SSH clients do not wait for a separate trigger to
// send NEWKEYS once ECDH_REPLY checks out.
func (m *Machine) HandleEcdhReply(msg *wire.EcdhReplyMsg) (*wire.NewKeysMsg, error) {
	if m.role.IsServer() || m.state.kind != stateKexInitSent {
		return nil, protoerr.UnexpectedMessage(m.state.kind.String(), wire.MsgKexECDHReply)
	}

	ctx := m.state.negotiation
	exchanger := m.state.exchanger

	hostPub, err := parseHostKeyBlob(msg.HostKey)
	if err != nil {
		return nil, err
	}
	shared, err := exchanger.sharedSecret(msg.ServerPublic)
	if err != nil {
		return nil, err
	}

	h := exchangeHash(
		wire.EncodeString(m.clientVersion),
		wire.EncodeString(m.serverVersion),
		wire.EncodeString(ctx.ourPacket),
		wire.EncodeString(ctx.peerPacket),
		wire.EncodeString(msg.HostKey),
		wire.EncodeString(exchanger.public[:]),
		wire.EncodeString(msg.ServerPublic),
		wire.EncodeMPInt(shared),
	)

	sig, err := parseSignatureBlob(msg.Signature)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(hostPub, h, sig) {
		return nil, protoerr.CryptoFailure(errSignatureInvalid)
	}
	if m.hostKeyVerifier != nil {
		if err := m.hostKeyVerifier.Verify(context.Background(), m.hostKeyVerifyName, hostPub); err != nil {
			return nil, protoerr.CryptoFailure(err)
		}
	}

	result := &kexResult{
		SharedSecret: shared,
		ExchangeHash: h,
		HostKeyBlob:  msg.HostKey,
		Signature:    msg.Signature,
		SessionID:    h,
	}
	m.state.result = result
	m.state.algs = ctx.algs

	protector, err := newTransportProtector(deriveDirectionalKeys(wire.EncodeMPInt(shared), h, h))
	if err != nil {
		return nil, err
	}
	m.state.protector = protector
	m.transition(stateKeysExchanged)

	return &wire.NewKeysMsg{}, nil
}

// SendNewKeys confirms our NEWKEYS was sent and installs the outbound
// half of the protector. Called from KeysExchanged (we have not yet
// seen the peer's NEWKEYS) or from NewKeysReceived (the peer's NEWKEYS
// already crossed), the latter completing the exchange. Calling it any
// earlier -- keys not yet exchanged at all -- is the canonical
// CallerMisuse example in SPEC_FULL.md section 7.
func (m *Machine) SendNewKeys() (*TransportProtector, error) {
	switch m.state.kind {
	case stateKeysExchanged:
		m.transition(stateNewKeysSent)
	case stateNewKeysReceived:
		m.transition(stateComplete)
	default:
		m.misuse("SendNewKeys")
	}
	return m.state.protector, nil
}

// HandleNewKeys processes the peer's NEWKEYS and installs the inbound
// half of the protector. A NEWKEYS arriving before keys were
// exchanged is the peer's fault, not ours, so it is a protocol
// violation rather than caller misuse.
func (m *Machine) HandleNewKeys() (*TransportProtector, error) {
	switch m.state.kind {
	case stateKeysExchanged:
		m.transition(stateNewKeysReceived)
	case stateNewKeysSent:
		m.transition(stateComplete)
	default:
		return nil, protoerr.UnexpectedMessage(m.state.kind.String(), wire.MsgNewKeys)
	}
	return m.state.protector, nil
}
