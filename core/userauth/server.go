package userauth

import (
	"github.com/sirupsen/logrus"
	"github.com/zmap/sshkex/core/protoerr"
	"github.com/zmap/sshkex/core/wire"
)

// ServerOption configures a ServerMachine.
type ServerOption func(*ServerMachine)

func WithServerLogger(log logrus.FieldLogger) ServerOption {
	return func(m *ServerMachine) { m.log = log }
}

// ServerMachine adjudicates inbound user authentication requests
// (SPEC_FULL.md section 4.2, "Contract (server role)"). Requests may
// be outstanding concurrently; nothing here buffers or reorders --
// each request gets its own Future, and whichever resolves first
// drives its own response first, which is exactly the "resolution
// order, not arrival order" invariant SPEC_FULL.md section 8 requires.
type ServerMachine struct {
	delegate         ServerDelegate
	supportedMethods AvailableMethods

	authenticated bool

	log logrus.FieldLogger
}

func NewServerMachine(delegate ServerDelegate, supported AvailableMethods, opts ...ServerOption) *ServerMachine {
	m := &ServerMachine{delegate: delegate, supportedMethods: supported}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ServerMachine) misuse(method string) {
	panic(protoerr.CallerMisuse{Method: method, State: "authenticated=" + boolString(m.authenticated)})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ReceiveUserAuthRequest forwards req to the delegate for
// adjudication. Returns nil, nil once authenticated: there is no
// pending work to return, not an error.
func (m *ServerMachine) ReceiveUserAuthRequest(req UserAuthRequest) (*Future[Outcome], error) {
	if m.authenticated {
		return nil, nil
	}
	req.Username = normalizeUsername(req.Username)
	if m.log != nil {
		m.log.WithField("user", req.Username).Debug("userauth: request received")
	}
	return m.delegate.RequestReceived(req), nil
}

// SendUserAuthSuccess records that USERAUTH_SUCCESS was sent and
// transitions to Authenticated.
func (m *ServerMachine) SendUserAuthSuccess() {
	if m.authenticated {
		m.misuse("SendUserAuthSuccess")
	}
	m.authenticated = true
}

// SendUserAuthFailure records that a USERAUTH_FAILURE was sent. It
// does not change state: the server may still have many pending
// adjudications and the client may still retry.
func (m *ServerMachine) SendUserAuthFailure(msg *wire.UserAuthFailureMsg) {
	if m.authenticated {
		m.misuse("SendUserAuthFailure")
	}
}

// ReceiveUserAuthSuccess and ReceiveUserAuthFailure are always
// protocol violations for the server role: only clients receive these
// responses.
func (m *ServerMachine) ReceiveUserAuthSuccess() error {
	return protoerr.ProtocolViolation("userauth: server received UserAuthSuccess")
}

func (m *ServerMachine) ReceiveUserAuthFailure(*wire.UserAuthFailureMsg) error {
	return protoerr.ProtocolViolation("userauth: server received UserAuthFailure")
}

// SupportedMethods exposes the configured method set, used by callers
// translating a Failure outcome to its wire response.
func (m *ServerMachine) SupportedMethods() AvailableMethods { return m.supportedMethods }

// Authenticated reports whether this machine has emitted Success.
func (m *ServerMachine) Authenticated() bool { return m.authenticated }
