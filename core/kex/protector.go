package kex

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/zmap/sshkex/core/protoerr"
)

// TransportProtector is the installed, per-direction AES-256-GCM
// state the I/O layer uses to encrypt and authenticate framed SSH
// packets once NEWKEYS has crossed (SPEC_FULL.md section 1: "the
// connection I/O pipeline, framing, and MAC/encryption application"
// remain out of scope; this machine only builds and hands over the
// protector).
//
// Named and shaped after the teacher's keyingTransport.prepareKeyChange
// contract (lib/ssh/handshake.go), but expressed as a value object
// instead of a transport method, since this repository's state
// machines are synchronous and return the protector rather than
// mutating shared transport state.
type TransportProtector struct {
	clientToServer cipher.AEAD
	serverToClient cipher.AEAD

	clientToServerIV [gcmIVSize]byte
	serverToClientIV [gcmIVSize]byte
}

// newTransportProtector builds the AES-256-GCM OpenSSH-variant
// protector (aes256-gcm@openssh.com) from derived key material. Key
// and IV sizes come from the cipher, per SPEC_FULL.md section 4.1.
func newTransportProtector(keys directionalKeys) (*TransportProtector, error) {
	p := &TransportProtector{}

	c2s, err := newGCM(keys.EncClientToServer)
	if err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	s2c, err := newGCM(keys.EncServerToClient)
	if err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	p.clientToServer = c2s
	p.serverToClient = s2c
	copy(p.clientToServerIV[:], keys.IVClientToServer)
	copy(p.serverToClientIV[:], keys.IVServerToClient)
	return p, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SealClientToServer seals plaintext using the client-to-server
// direction's AEAD and the current IV. The caller owns IV increment
// bookkeeping (rekeying, and therefore IV rollover, is a non-goal --
// SPEC_FULL.md section 1).
func (p *TransportProtector) SealClientToServer(dst, additionalData, plaintext []byte) []byte {
	return p.clientToServer.Seal(dst, p.clientToServerIV[:], plaintext, additionalData)
}

// OpenServerToClient authenticates and decrypts a server-to-client
// ciphertext.
func (p *TransportProtector) OpenServerToClient(dst, additionalData, ciphertext []byte) ([]byte, error) {
	out, err := p.serverToClient.Open(dst, p.serverToClientIV[:], ciphertext, additionalData)
	if err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	return out, nil
}

// SealServerToClient and OpenClientToServer are the server role's
// mirror of the above two methods.
func (p *TransportProtector) SealServerToClient(dst, additionalData, plaintext []byte) []byte {
	return p.serverToClient.Seal(dst, p.serverToClientIV[:], plaintext, additionalData)
}

func (p *TransportProtector) OpenClientToServer(dst, additionalData, ciphertext []byte) ([]byte, error) {
	out, err := p.clientToServer.Open(dst, p.clientToServerIV[:], ciphertext, additionalData)
	if err != nil {
		return nil, protoerr.CryptoFailure(err)
	}
	return out, nil
}
