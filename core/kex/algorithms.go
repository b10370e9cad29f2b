package kex

import (
	"github.com/zmap/sshkex/core/protoerr"
	"github.com/zmap/sshkex/core/wire"
)

// Advertised algorithm lists (SPEC_FULL.md section 4.1). Unlike the
// teacher's lib/ssh/common.go, which offers a broad menu
// (defaultKexAlgos, allSupportedCiphers, ...) to interoperate with
// real-world servers, this machine advertises exactly the single
// family the spec supports; Non-goals explicitly rule out algorithm
// fallback.
var (
	kexAlgos = []string{
		"curve25519-sha256",
		"curve25519-sha256@libssh.org",
	}
	hostKeyAlgos     = []string{"ssh-ed25519"}
	cipherAlgos      = []string{"aes256-gcm@openssh.com"}
	macAlgos         = []string{"hmac-sha2-256"}
	compressionAlgos = []string{"none"}
)

// DirectionAlgorithms names the negotiated algorithms for one
// direction of traffic. Mirrors the teacher's DirectionAlgorithms
// (lib/ssh/common.go) field-for-field, minus the JSON tags the
// scanner's logging layer needed and this library does not.
type DirectionAlgorithms struct {
	Cipher      string
	MAC         string
	Compression string
}

// Algorithms is the negotiated result of one KEXINIT exchange.
type Algorithms struct {
	Kex     string
	HostKey string
	ClientToServer DirectionAlgorithms
	ServerToClient DirectionAlgorithms
}

// ourKexInit builds the KEXINIT message this machine advertises.
func ourKexInit(randomCookie [16]byte) *wire.KexInitMsg {
	return &wire.KexInitMsg{
		Cookie:                  randomCookie,
		KexAlgos:                kexAlgos,
		ServerHostKeyAlgos:      hostKeyAlgos,
		CiphersClientServer:     cipherAlgos,
		CiphersServerClient:     cipherAlgos,
		MACsClientServer:        macAlgos,
		MACsServerClient:        macAlgos,
		CompressionClientServer: compressionAlgos,
		CompressionServerClient: compressionAlgos,
	}
}

func findCommon(what string, ours, theirs []string) (string, error) {
	for _, o := range ours {
		for _, t := range theirs {
			if o == t {
				return o, nil
			}
		}
	}
	return "", protoerr.NegotiationFailure(what, ours, theirs)
}

// negotiate implements RFC 4253 section 7.1's algorithm agreement:
// clientInit and serverInit are whichever of the two KEXINIT messages
// actually came from the client and the server (the caller, not this
// function, knows who sent which -- see machine.go's role-dependent
// assignment, mirroring lib/ssh/handshake.go's enterKeyExchangeLocked).
func negotiate(clientInit, serverInit *wire.KexInitMsg) (*Algorithms, error) {
	algs := &Algorithms{}
	var err error

	if len(clientInit.KexAlgos) > 0 && len(serverInit.KexAlgos) > 0 && clientInit.KexAlgos[0] == serverInit.KexAlgos[0] {
		algs.Kex = clientInit.KexAlgos[0]
	} else if algs.Kex, err = findCommon("key exchange", clientInit.KexAlgos, serverInit.KexAlgos); err != nil {
		return nil, err
	}

	if algs.HostKey, err = findCommon("host key", clientInit.ServerHostKeyAlgos, serverInit.ServerHostKeyAlgos); err != nil {
		return nil, err
	}
	if algs.ClientToServer.Cipher, err = findCommon("client-to-server cipher", clientInit.CiphersClientServer, serverInit.CiphersClientServer); err != nil {
		return nil, err
	}
	if algs.ServerToClient.Cipher, err = findCommon("server-to-client cipher", clientInit.CiphersServerClient, serverInit.CiphersServerClient); err != nil {
		return nil, err
	}
	if algs.ClientToServer.MAC, err = findCommon("client-to-server MAC", clientInit.MACsClientServer, serverInit.MACsClientServer); err != nil {
		return nil, err
	}
	if algs.ServerToClient.MAC, err = findCommon("server-to-client MAC", clientInit.MACsServerClient, serverInit.MACsServerClient); err != nil {
		return nil, err
	}
	if algs.ClientToServer.Compression, err = findCommon("client-to-server compression", clientInit.CompressionClientServer, serverInit.CompressionClientServer); err != nil {
		return nil, err
	}
	if algs.ServerToClient.Compression, err = findCommon("server-to-client compression", clientInit.CompressionServerClient, serverInit.CompressionServerClient); err != nil {
		return nil, err
	}
	return algs, nil
}

// expectingIncorrectGuess reports whether the peer's first-kex-packet-follows
// guess disagrees with the negotiated choice (SPEC_FULL.md section
// 4.1): the peer set the flag, and either its first KEX algorithm or
// its first host-key algorithm differs from ours.
func expectingIncorrectGuess(peerInit, ourInit *wire.KexInitMsg) bool {
	if !peerInit.FirstKexFollows {
		return false
	}
	if len(peerInit.KexAlgos) == 0 || len(ourInit.KexAlgos) == 0 || peerInit.KexAlgos[0] != ourInit.KexAlgos[0] {
		return true
	}
	if len(peerInit.ServerHostKeyAlgos) == 0 || len(ourInit.ServerHostKeyAlgos) == 0 || peerInit.ServerHostKeyAlgos[0] != ourInit.ServerHostKeyAlgos[0] {
		return true
	}
	return false
}
