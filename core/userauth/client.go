package userauth

import (
	"github.com/sirupsen/logrus"
	"github.com/zmap/sshkex/core/protoerr"
	"github.com/zmap/sshkex/core/wire"
)

type clientStateKind int

const (
	clientIdle clientStateKind = iota
	clientAwaitingNextRequest
	clientAwaitingResponse
	clientAuthenticated
	clientFailed
)

func (k clientStateKind) String() string {
	switch k {
	case clientIdle:
		return "Idle"
	case clientAwaitingNextRequest:
		return "AwaitingNextRequest"
	case clientAwaitingResponse:
		return "AwaitingResponse"
	case clientAuthenticated:
		return "Authenticated"
	case clientFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ClientOption configures a ClientMachine.
type ClientOption func(*ClientMachine)

func WithClientLogger(log logrus.FieldLogger) ClientOption {
	return func(m *ClientMachine) { m.log = log }
}

// ClientMachine drives user authentication from the connecting side
// (SPEC_FULL.md section 4.2, "Contract (client role)"). Like
// core/kex.Machine it is single-threaded and owned by one event loop;
// the only suspension point is delegate consultation, modeled as a
// Future rather than a blocking call.
type ClientMachine struct {
	delegate    ClientDelegate
	username    string
	serviceName string

	state   clientStateKind
	pending *UserAuthRequest

	log logrus.FieldLogger
}

func NewClientMachine(delegate ClientDelegate, username, serviceName string, opts ...ClientOption) *ClientMachine {
	m := &ClientMachine{delegate: delegate, username: username, serviceName: serviceName, state: clientIdle}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ClientMachine) misuse(method string) {
	panic(protoerr.CallerMisuse{Method: method, State: m.state.String()})
}

// BeginAuthentication consults the delegate for the first credential
// to try. Legal only from Idle.
func (m *ClientMachine) BeginAuthentication() *Future[*UserAuthRequest] {
	if m.state != clientIdle {
		m.misuse("BeginAuthentication")
	}
	m.state = clientAwaitingNextRequest
	return m.delegate.NextAuthentication(AllMethods())
}

// SendUserAuthRequest records that req is in flight and returns the
// wire message to transmit. Legal only from AwaitingNextRequest.
func (m *ClientMachine) SendUserAuthRequest(req *UserAuthRequest) *wire.UserAuthRequestMsg {
	if m.state != clientAwaitingNextRequest {
		m.misuse("SendUserAuthRequest")
	}
	r := *req
	r.Username = normalizeUsername(m.username)
	r.ServiceName = m.serviceName
	m.pending = &r
	m.state = clientAwaitingResponse
	if m.log != nil {
		m.log.WithField("method", r.Method.wireName()).Debug("userauth: request sent")
	}
	return r.ToWire()
}

// ReceiveUserAuthSuccess processes an inbound USERAUTH_SUCCESS.
func (m *ClientMachine) ReceiveUserAuthSuccess() error {
	switch m.state {
	case clientAwaitingResponse:
		m.state = clientAuthenticated
		m.pending = nil
		return nil
	case clientAuthenticated:
		return nil // slop after success, silently ignored
	default:
		return protoerr.ProtocolViolation("userauth: unexpected UserAuthSuccess in state %s", m.state)
	}
}

// ReceiveUserAuthFailure processes an inbound USERAUTH_FAILURE,
// consulting the delegate again with the narrowed method set.
func (m *ClientMachine) ReceiveUserAuthFailure(msg *wire.UserAuthFailureMsg) (*Future[*UserAuthRequest], error) {
	if m.state == clientAuthenticated {
		return nil, nil // slop after success, silently ignored
	}
	if m.state != clientAwaitingResponse {
		return nil, protoerr.ProtocolViolation("userauth: unexpected UserAuthFailure in state %s", m.state)
	}
	m.pending = nil
	m.state = clientAwaitingNextRequest
	available := AvailableMethodsFromWireList(msg.Authentications)
	return m.delegate.NextAuthentication(available), nil
}

// NoFurtherMethods transitions to the terminal Failed state once the
// delegate has resolved with None.
func (m *ClientMachine) NoFurtherMethods() {
	if m.state != clientAwaitingNextRequest {
		m.misuse("NoFurtherMethods")
	}
	m.state = clientFailed
}

// ReceiveUserAuthRequest is always a protocol violation for the
// client role: only servers receive authentication requests.
func (m *ClientMachine) ReceiveUserAuthRequest(*wire.UserAuthRequestMsg) error {
	return protoerr.ProtocolViolation("userauth: client received UserAuthRequest")
}

// Authenticated reports whether this machine reached the terminal
// success state.
func (m *ClientMachine) Authenticated() bool { return m.state == clientAuthenticated }
