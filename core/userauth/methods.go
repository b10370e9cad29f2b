// Package userauth implements the user-authentication state machine:
// client-side credential submission and server-side adjudication over
// the password method (SPEC_FULL.md sections 3.3-3.4, 4.2).
package userauth

import (
	"github.com/zmap/sshkex/core/wire"
)

// AvailableMethods is a bitset over the three RFC 4252 method names
// this library knows about. Wire form is the ordered list
// [password, publickey, hostbased] filtered to present members
// (SPEC_FULL.md section 3.4).
type AvailableMethods uint8

const (
	MethodPassword AvailableMethods = 1 << iota
	MethodPublicKey
	MethodHostBased
)

// AllMethods is the set offered to the delegate before any
// UserAuthFailure has narrowed it -- the client has not yet been told
// which methods the server actually supports.
func AllMethods() AvailableMethods {
	return MethodPassword | MethodPublicKey | MethodHostBased
}

func (m AvailableMethods) Has(x AvailableMethods) bool { return m&x != 0 }

// ToWireList renders the set as the ordered name-list USERAUTH_FAILURE
// carries; the wire codec comma-joins it.
func (m AvailableMethods) ToWireList() []string {
	var out []string
	if m.Has(MethodPassword) {
		out = append(out, "password")
	}
	if m.Has(MethodPublicKey) {
		out = append(out, "publickey")
	}
	if m.Has(MethodHostBased) {
		out = append(out, "hostbased")
	}
	return out
}

// AvailableMethodsFromWireList parses a USERAUTH_FAILURE
// authentications list. Unknown tokens are ignored, not promoted to
// errors (SPEC_FULL.md section 6).
func AvailableMethodsFromWireList(names []string) AvailableMethods {
	var m AvailableMethods
	for _, n := range names {
		switch n {
		case "password":
			m |= MethodPassword
		case "publickey":
			m |= MethodPublicKey
		case "hostbased":
			m |= MethodHostBased
		}
	}
	return m
}

type authMethodKind int

const (
	methodNone authMethodKind = iota
	methodPassword
	methodPublicKey
	methodHostBased
)

// AuthMethod is the tagged union of credential kinds a UserAuthRequest
// can carry. Only Password is ever produced by a delegate in this
// repository; PublicKey and HostBased are fully constructible and
// marshal to a legal (if credential-less) USERAUTH_REQUEST, but no
// shipped delegate returns them -- SPEC_FULL.md section 9's "Unsupported
// methods" open question is resolved in favor of full construction
// over a half-built abort path.
type AuthMethod struct {
	kind     authMethodKind
	password string
}

func PasswordMethod(password string) AuthMethod {
	return AuthMethod{kind: methodPassword, password: password}
}

func PublicKeyMethod() AuthMethod { return AuthMethod{kind: methodPublicKey} }
func HostBasedMethod() AuthMethod { return AuthMethod{kind: methodHostBased} }
func NoMethod() AuthMethod        { return AuthMethod{kind: methodNone} }

func (m AuthMethod) wireName() string {
	switch m.kind {
	case methodPassword:
		return "password"
	case methodPublicKey:
		return "publickey"
	case methodHostBased:
		return "hostbased"
	default:
		return "none"
	}
}

// UserAuthRequest is the domain-level request a client delegate
// produces; ToWire renders it onto the wire message the caller
// actually transmits.
type UserAuthRequest struct {
	Username    string
	ServiceName string
	Method      AuthMethod
}

func (r UserAuthRequest) ToWire() *wire.UserAuthRequestMsg {
	return &wire.UserAuthRequestMsg{
		User:     r.Username,
		Service:  r.ServiceName,
		Method:   r.Method.wireName(),
		Password: r.Method.password,
	}
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomePartialSuccess
	outcomeFailure
)

// Outcome is the server delegate's adjudication result
// (SPEC_FULL.md section 3.4).
type Outcome struct {
	kind      outcomeKind
	remaining AvailableMethods
}

func Success() Outcome                            { return Outcome{kind: outcomeSuccess} }
func PartialSuccess(remaining AvailableMethods) Outcome {
	return Outcome{kind: outcomePartialSuccess, remaining: remaining}
}
func Failure() Outcome { return Outcome{kind: outcomeFailure} }

// ToWireResponse implements the Outcome Translation table
// (SPEC_FULL.md section 4.2): exactly one of the two return values is
// non-nil.
func (o Outcome) ToWireResponse(supported AvailableMethods) (*wire.UserAuthSuccessMsg, *wire.UserAuthFailureMsg) {
	switch o.kind {
	case outcomeSuccess:
		return &wire.UserAuthSuccessMsg{}, nil
	case outcomePartialSuccess:
		return nil, &wire.UserAuthFailureMsg{Authentications: o.remaining.ToWireList(), PartialSuccess: true}
	default:
		return nil, &wire.UserAuthFailureMsg{Authentications: supported.ToWireList(), PartialSuccess: false}
	}
}
