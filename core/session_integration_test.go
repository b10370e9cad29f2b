// Package core carries one integration-style suite exercising a full,
// two-sided key exchange followed by a complete password
// authentication round, using gopkg.in/check.v1 (gocheck) rather than
// bare testing.T (SPEC_FULL.md section 10.4): the teacher's own test
// suites reach for gocheck specifically for scenario-flavored,
// multi-assertion runs like this one, while the bulk of table-driven
// coverage for core/kex and core/userauth stays in plain
// testing.T-based _test.go files alongside the code they cover.
package core

import (
	"crypto/ed25519"
	"math/rand"
	"testing"

	check "gopkg.in/check.v1"

	"github.com/zmap/sshkex/core/kex"
	"github.com/zmap/sshkex/core/userauth"
)

func Test(t *testing.T) { check.TestingT(t) }

type SessionSuite struct{}

var _ = check.Suite(&SessionSuite{})

// staticClientDelegate always offers the same password and never
// gives up, matching scenario 2's "sad then happy" delegate shape.
type staticClientDelegate struct {
	password string
}

func (d staticClientDelegate) NextAuthentication(available userauth.AvailableMethods) *userauth.Future[*userauth.UserAuthRequest] {
	f := userauth.NewFuture[*userauth.UserAuthRequest]()
	f.Resolve(&userauth.UserAuthRequest{Method: userauth.PasswordMethod(d.password)})
	return f
}

// staticServerDelegate accepts exactly one password.
type staticServerDelegate struct {
	password string
}

func (d staticServerDelegate) RequestReceived(req userauth.UserAuthRequest) *userauth.Future[userauth.Outcome] {
	f := userauth.NewFuture[userauth.Outcome]()
	if req.ToWire().Password == d.password {
		f.Resolve(userauth.Success())
	} else {
		f.Resolve(userauth.Failure())
	}
	return f
}

// driveKex runs both sides of a key exchange to completion using the
// contract's natural send/receive pairing (no role race: client sends
// first throughout), returning both machines' session IDs for
// comparison.
func driveKex(c *check.C, hostPriv ed25519.PrivateKey) (clientID, serverID []byte, clientMachine, serverMachine *kex.Machine) {
	clientVersion := []byte("SSH-2.0-sshkex_client")
	serverVersion := []byte("SSH-2.0-sshkex_server")
	rnd := rand.New(rand.NewSource(42))

	client := kex.NewMachine(kex.ClientRole(), clientVersion, serverVersion, kex.WithRandom(rnd))
	server := kex.NewMachine(kex.ServerRole(kex.Ed25519Signer{Private: hostPriv}), clientVersion, serverVersion, kex.WithRandom(rnd))

	clientInit := client.StartKeyExchange()
	serverInit := server.StartKeyExchange()
	client.SendKexInit(clientInit)
	server.SendKexInit(serverInit)

	fromServer, err := client.HandleKexInit(serverInit)
	c.Assert(err, check.IsNil)
	c.Assert(fromServer.EcdhInit, check.NotNil)
	client.SendEcdhInit(fromServer.EcdhInit)

	fromClient, err := server.HandleKexInit(clientInit)
	c.Assert(err, check.IsNil)
	c.Assert(fromClient, check.IsNil)

	reply, err := server.HandleEcdhInit(fromServer.EcdhInit)
	c.Assert(err, check.IsNil)
	c.Assert(reply, check.NotNil)
	c.Assert(server.SendEcdhReply(reply), check.IsNil)

	newKeys, err := client.HandleEcdhReply(reply)
	c.Assert(err, check.IsNil)
	c.Assert(newKeys, check.NotNil)

	_, err = client.SendNewKeys()
	c.Assert(err, check.IsNil)
	_, err = server.HandleNewKeys()
	c.Assert(err, check.IsNil)
	_, err = server.SendNewKeys()
	c.Assert(err, check.IsNil)
	_, err = client.HandleNewKeys()
	c.Assert(err, check.IsNil)

	return client.SessionID(), server.SessionID(), client, server
}

func (s *SessionSuite) TestFullHandshakeAndAuthentication(c *check.C) {
	_, hostPriv, err := ed25519.GenerateKey(rand.New(rand.NewSource(7)))
	c.Assert(err, check.IsNil)

	clientID, serverID, _, _ := driveKex(c, hostPriv)
	c.Assert(string(clientID), check.Equals, string(serverID))
	c.Assert(len(clientID) > 0, check.Equals, true)

	clientAuth := userauth.NewClientMachine(staticClientDelegate{password: "hunter2"}, "alice", "ssh-connection")
	serverAuth := userauth.NewServerMachine(staticServerDelegate{password: "hunter2"}, userauth.MethodPassword)

	future := clientAuth.BeginAuthentication()
	var nextReq *userauth.UserAuthRequest
	future.OnResolve(func(r *userauth.UserAuthRequest) { nextReq = r })
	c.Assert(nextReq, check.NotNil)

	wireReq := clientAuth.SendUserAuthRequest(nextReq)
	c.Assert(wireReq.User, check.Equals, "alice")

	serverFuture, err := serverAuth.ReceiveUserAuthRequest(userauth.UserAuthRequest{
		Username:    wireReq.User,
		ServiceName: wireReq.Service,
		Method:      userauth.PasswordMethod(wireReq.Password),
	})
	c.Assert(err, check.IsNil)
	c.Assert(serverFuture, check.NotNil)

	var outcome userauth.Outcome
	serverFuture.OnResolve(func(o userauth.Outcome) { outcome = o })
	successMsg, failureMsg := outcome.ToWireResponse(serverAuth.SupportedMethods())
	c.Assert(failureMsg, check.IsNil)
	c.Assert(successMsg, check.NotNil)
	serverAuth.SendUserAuthSuccess()

	c.Assert(clientAuth.ReceiveUserAuthSuccess(), check.IsNil)
	c.Assert(clientAuth.Authenticated(), check.Equals, true)
	c.Assert(serverAuth.Authenticated(), check.Equals, true)
}

func (s *SessionSuite) TestWrongPasswordThenRetry(c *check.C) {
	_, hostPriv, err := ed25519.GenerateKey(rand.New(rand.NewSource(11)))
	c.Assert(err, check.IsNil)
	driveKex(c, hostPriv)

	clientAuth := userauth.NewClientMachine(staticClientDelegate{password: "right"}, "bob", "ssh-connection")
	serverAuth := userauth.NewServerMachine(staticServerDelegate{password: "right"}, userauth.MethodPassword)

	first := clientAuth.BeginAuthentication()
	var req *userauth.UserAuthRequest
	first.OnResolve(func(r *userauth.UserAuthRequest) { req = r })
	req.Method = userauth.PasswordMethod("wrong")
	wireReq := clientAuth.SendUserAuthRequest(req)

	serverFuture, err := serverAuth.ReceiveUserAuthRequest(userauth.UserAuthRequest{
		Username: wireReq.User,
		Method:   userauth.PasswordMethod(wireReq.Password),
	})
	c.Assert(err, check.IsNil)
	var outcome userauth.Outcome
	serverFuture.OnResolve(func(o userauth.Outcome) { outcome = o })
	_, failureMsg := outcome.ToWireResponse(serverAuth.SupportedMethods())
	c.Assert(failureMsg, check.NotNil)
	serverAuth.SendUserAuthFailure(failureMsg)

	retryFuture, err := clientAuth.ReceiveUserAuthFailure(failureMsg)
	c.Assert(err, check.IsNil)
	var retryReq *userauth.UserAuthRequest
	retryFuture.OnResolve(func(r *userauth.UserAuthRequest) { retryReq = r })
	c.Assert(retryReq, check.NotNil)

	wireRetry := clientAuth.SendUserAuthRequest(retryReq)
	serverFuture2, err := serverAuth.ReceiveUserAuthRequest(userauth.UserAuthRequest{
		Username: wireRetry.User,
		Method:   userauth.PasswordMethod(wireRetry.Password),
	})
	c.Assert(err, check.IsNil)
	var outcome2 userauth.Outcome
	serverFuture2.OnResolve(func(o userauth.Outcome) { outcome2 = o })
	successMsg, _ := outcome2.ToWireResponse(serverAuth.SupportedMethods())
	c.Assert(successMsg, check.NotNil)
	serverAuth.SendUserAuthSuccess()
	c.Assert(clientAuth.ReceiveUserAuthSuccess(), check.IsNil)
	c.Assert(clientAuth.Authenticated(), check.Equals, true)
}
