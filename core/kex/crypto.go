package kex

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/zmap/sshkex/core/protoerr"
	"github.com/zmap/sshkex/core/wire"
	"golang.org/x/crypto/curve25519"
)

// Signer is the host-key signing capability the server role needs.
// Consumed from golang.org/x/crypto / crypto/ed25519 rather than
// reimplemented -- SPEC_FULL.md section 1 names Ed25519 signing as an
// out-of-scope cryptographic primitive.
type Signer interface {
	PublicKey() ed25519.PublicKey
	Sign(data []byte) ([]byte, error)
}

// Ed25519Signer is the one Signer this repository ships: a thin
// wrapper over a crypto/ed25519 private key.
type Ed25519Signer struct {
	Private ed25519.PrivateKey
}

func (s Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.Private.Public().(ed25519.PublicKey)
}

func (s Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.Private, data), nil
}

// hostKeyBlob is the wire encoding of an ssh-ed25519 public key:
// string("ssh-ed25519") || string(raw 32-byte key), matching the
// format implied by supportedHostKeyAlgos in lib/ssh/common.go.
func hostKeyBlob(pub ed25519.PublicKey) []byte {
	b := wire.NewBuilder(0)
	b.String([]byte("ssh-ed25519"))
	b.String(pub)
	return b.Bytes()[1:] // drop the placeholder message-type byte
}

func parseHostKeyBlob(blob []byte) (ed25519.PublicKey, error) {
	r := wire.NewReader(blob)
	algo := r.String()
	key := r.String()
	if r.Err() != nil || string(algo) != "ssh-ed25519" || len(key) != ed25519.PublicKeySize {
		return nil, protoerr.CryptoFailure(wire.ErrShortBuffer)
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, key)
	return pub, nil
}

// signatureBlob and parseSignatureBlob mirror the host-key blob
// encoding for signatures: string(algorithm) || string(raw signature).
func signatureBlob(raw []byte) []byte {
	b := wire.NewBuilder(0)
	b.String([]byte("ssh-ed25519"))
	b.String(raw)
	return b.Bytes()[1:]
}

func parseSignatureBlob(blob []byte) ([]byte, error) {
	r := wire.NewReader(blob)
	_ = r.String() // algorithm name, ignored: only one is ever negotiated
	sig := r.String()
	if r.Err() != nil {
		return nil, protoerr.CryptoFailure(r.Err())
	}
	return sig, nil
}

// curve25519Exchanger holds one side's ephemeral Curve25519 key pair
// for the lifetime of a single key exchange (SPEC_FULL.md section
// 3.2's "exchanger" payload carried by AwaitingKexInit /
// KexInitSent).
type curve25519Exchanger struct {
	private [32]byte
	public  [32]byte
}

func newCurve25519Exchanger(rnd io.Reader) (*curve25519Exchanger, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	e := &curve25519Exchanger{}
	if _, err := io.ReadFull(rnd, e.private[:]); err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	// Clamp per RFC 7748 section 5; curve25519.X25519 also clamps
	// internally but doing it here keeps the stored private scalar
	// canonical for any future reuse within this exchanger's lifetime.
	e.private[0] &= 248
	e.private[31] &= 127
	e.private[31] |= 64

	pub, err := curve25519.X25519(e.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	copy(e.public[:], pub)
	return e, nil
}

// sharedSecret computes the raw ECDH shared secret with a peer's
// ephemeral public key. Callers encode it as an SSH mpint
// (wire.EncodeMPInt) before hashing or key derivation (SPEC_FULL.md
// section 6: K is hashed via the mpint encoding rule).
func (e *curve25519Exchanger) sharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != 32 {
		return nil, protoerr.CryptoFailure(wire.ErrShortBuffer)
	}
	secret, err := curve25519.X25519(e.private[:], peerPublic)
	if err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	return secret, nil
}

// kexResult is everything a completed ECDH leaves behind: the shared
// secret (K), the exchange hash (H), the peer's host key blob, and --
// once assigned -- the session ID. Named after the teacher's
// kexResult (lib/ssh/client.go: verifyHostKeySignature's parameter),
// generalized to a pure-function value instead of a struct threaded
// through a goroutine-based transport.
type kexResult struct {
	SharedSecret []byte
	ExchangeHash []byte
	HostKeyBlob  []byte
	Signature    []byte
	SessionID    []byte
}

// exchangeHash computes H = SHA256(V_C || V_S || I_C || I_S || K_S || Q_C || Q_S || K),
// the bit-exact ordering SPEC_FULL.md section 6 requires. Each field
// arrives pre-encoded (string or mpint) by the caller so this function
// only concatenates and hashes -- it never knows the wire types.
func exchangeHash(encodedFields ...[]byte) []byte {
	h := sha256.New()
	for _, f := range encodedFields {
		h.Write(f)
	}
	return h.Sum(nil)
}

// deriveKey implements RFC 4253 section 7.2's key-stretching rule:
// key = HASH(K || H || letter || session_id), extended by
// key = key || HASH(K || H || key) until size bytes are available.
func deriveKey(k, h []byte, letter byte, sessionID []byte, size int) []byte {
	digest := func(parts ...[]byte) []byte {
		hasher := sha256.New()
		for _, p := range parts {
			hasher.Write(p)
		}
		return hasher.Sum(nil)
	}
	key := digest(k, h, []byte{letter}, sessionID)
	for len(key) < size {
		key = append(key, digest(k, h, key)...)
	}
	return key[:size]
}

// Key letters, RFC 4253 section 7.2.
const (
	letterIVClientToServer  = 'A'
	letterIVServerToClient  = 'B'
	letterEncClientToServer = 'C'
	letterEncServerToClient = 'D'
	letterIntClientToServer = 'E'
	letterIntServerToClient = 'F'
)

// Sizes for AES-256-GCM: 32-byte keys, 12-byte IVs, no separate
// integrity key (SPEC_FULL.md section 4.1). The teacher's
// cipherModes table (referenced, not defined, in
// lib/ssh/common.go:SetDefaults) would carry this per-cipher; this
// repository only ever negotiates one cipher so the sizes are
// constants.
const (
	gcmKeySize = 32
	gcmIVSize  = 12
)

// directionalKeys is the six keyed streams RFC 4253 section 7.2
// derives per completed key exchange.
type directionalKeys struct {
	IVClientToServer  []byte
	IVServerToClient  []byte
	EncClientToServer []byte
	EncServerToClient []byte
	IntClientToServer []byte
	IntServerToClient []byte
}

func deriveDirectionalKeys(k, h, sessionID []byte) directionalKeys {
	return directionalKeys{
		IVClientToServer:  deriveKey(k, h, letterIVClientToServer, sessionID, gcmIVSize),
		IVServerToClient:  deriveKey(k, h, letterIVServerToClient, sessionID, gcmIVSize),
		EncClientToServer: deriveKey(k, h, letterEncClientToServer, sessionID, gcmKeySize),
		EncServerToClient: deriveKey(k, h, letterEncServerToClient, sessionID, gcmKeySize),
		IntClientToServer: deriveKey(k, h, letterIntClientToServer, sessionID, 0),
		IntServerToClient: deriveKey(k, h, letterIntServerToClient, sessionID, 0),
	}
}
