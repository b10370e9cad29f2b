// Package hostkey implements host-key pinning for the KEX client role
// via DNS SSHFP records (RFC 4255), as an alternative to a bare
// trust-on-first-use callback. Grounded on the teacher's declared
// github.com/miekg/dns dependency (go.mod); the teacher's retrieved
// files have no DNS-lookup usage site of their own, so the lookup
// sequence here follows the miekg/dns client package's documented
// Exchange pattern rather than a specific teacher call site --
// recorded as an open grounding gap in DESIGN.md.
package hostkey

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/miekg/dns"
	"github.com/zmap/sshkex/core/wire"
)

// Algorithm and digest type values SSHFP defines for Ed25519 hosts
// (RFC 8709's de-facto extension to RFC 4255's original table).
const (
	sshfpAlgorithmEd25519 = 4
	sshfpDigestSHA256     = 2
)

// SSHFPVerifier resolves SSHFP records for a hostname and checks a
// presented Ed25519 host key against them. It implements the
// kex.HostKeyVerifier callback shape: a function from (hostname,
// public key) to error.
type SSHFPVerifier struct {
	// Resolver is the DNS server to query, host:port form (e.g.
	// "127.0.0.1:53"). Required.
	Resolver string
	// Client is reused across lookups the way a long-lived scanner
	// would reuse one dns.Client instance rather than allocating per
	// connection.
	Client *dns.Client
}

func NewSSHFPVerifier(resolver string) *SSHFPVerifier {
	return &SSHFPVerifier{Resolver: resolver, Client: new(dns.Client)}
}

// Verify looks up hostname's SSHFP records and reports whether pub
// matches one of the Ed25519/SHA-256 fingerprints on file. A hostname
// with no SSHFP records at all is treated as "no pin configured" and
// accepted, matching SSH clients' conventional SSHFP-as-advisory
// posture; a hostname WITH SSHFP records that all mismatch is
// rejected.
func (v *SSHFPVerifier) Verify(ctx context.Context, hostname string, pub ed25519.PublicKey) error {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), dns.TypeSSHFP)
	msg.RecursionDesired = true

	reply, _, err := v.Client.ExchangeContext(ctx, msg, v.Resolver)
	if err != nil {
		return fmt.Errorf("hostkey: SSHFP lookup for %s: %w", hostname, err)
	}

	var records []*dns.SSHFP
	for _, rr := range reply.Answer {
		if fp, ok := rr.(*dns.SSHFP); ok {
			records = append(records, fp)
		}
	}
	if len(records) == 0 {
		return nil
	}

	// SSHFP fingerprints cover the public key blob as sent in
	// KEX_ECDH_REPLY: string("ssh-ed25519") || string(raw key).
	blob := wire.NewBuilder(0).String([]byte("ssh-ed25519")).String(pub).Bytes()[1:]
	digest := sha256.Sum256(blob)
	for _, fp := range records {
		if fp.Algorithm != sshfpAlgorithmEd25519 || fp.Type != sshfpDigestSHA256 {
			continue
		}
		if fp.FingerPrint == fmt.Sprintf("%x", digest[:]) {
			return nil
		}
	}
	return fmt.Errorf("hostkey: presented key does not match any SSHFP record for %s", hostname)
}
