package userauth

import (
	"testing"

	"github.com/zmap/sshkex/core/wire"
)

// fixedPasswordDelegate always offers the same password credential.
// Used for scenario 1 and scenario 2 (the delegate "yields the same
// password forever").
type fixedPasswordDelegate struct {
	username, password string
}

func (d fixedPasswordDelegate) NextAuthentication(AvailableMethods) *Future[*UserAuthRequest] {
	f := NewFuture[*UserAuthRequest]()
	f.Resolve(&UserAuthRequest{Method: PasswordMethod(d.password)})
	return f
}

// givesUpAfterOneDelegate offers one password, then None.
type givesUpAfterOneDelegate struct {
	password string
	offered  bool
}

func (d *givesUpAfterOneDelegate) NextAuthentication(AvailableMethods) *Future[*UserAuthRequest] {
	f := NewFuture[*UserAuthRequest]()
	if d.offered {
		f.Resolve(nil)
		return f
	}
	d.offered = true
	f.Resolve(&UserAuthRequest{Method: PasswordMethod(d.password)})
	return f
}

func TestHappyClientAuth(t *testing.T) {
	delegate := fixedPasswordDelegate{username: "foo", password: "bar"}
	client := NewClientMachine(delegate, "foo", "ssh-connection")

	future := client.BeginAuthentication()
	var req *UserAuthRequest
	future.OnResolve(func(r *UserAuthRequest) { req = r })
	if req == nil {
		t.Fatalf("expected a request from the delegate")
	}

	wireMsg := client.SendUserAuthRequest(req)
	if wireMsg.User != "foo" || wireMsg.Service != "ssh-connection" || wireMsg.Method != "password" || wireMsg.Password != "bar" {
		t.Fatalf("unexpected wire request: %+v", wireMsg)
	}

	if err := client.ReceiveUserAuthSuccess(); err != nil {
		t.Fatalf("ReceiveUserAuthSuccess: %v", err)
	}
	if !client.Authenticated() {
		t.Fatalf("expected Authenticated")
	}
}

func TestSadThenHappy(t *testing.T) {
	delegate := fixedPasswordDelegate{username: "foo", password: "bar"}
	client := NewClientMachine(delegate, "foo", "ssh-connection")

	first := client.BeginAuthentication()
	var firstReq *UserAuthRequest
	first.OnResolve(func(r *UserAuthRequest) { firstReq = r })
	client.SendUserAuthRequest(firstReq)

	retry, err := client.ReceiveUserAuthFailure(&wire.UserAuthFailureMsg{Authentications: []string{"password"}, PartialSuccess: false})
	if err != nil {
		t.Fatalf("ReceiveUserAuthFailure: %v", err)
	}
	var retryReq *UserAuthRequest
	retry.OnResolve(func(r *UserAuthRequest) { retryReq = r })
	if retryReq == nil || retryReq.Method.password != firstReq.Method.password {
		t.Fatalf("expected the retry to offer the same password")
	}

	client.SendUserAuthRequest(retryReq)
	if err := client.ReceiveUserAuthSuccess(); err != nil {
		t.Fatalf("ReceiveUserAuthSuccess: %v", err)
	}
	if !client.Authenticated() {
		t.Fatalf("expected Authenticated")
	}
}

func TestTerminalFailure(t *testing.T) {
	delegate := &givesUpAfterOneDelegate{password: "bar"}
	client := NewClientMachine(delegate, "foo", "ssh-connection")

	first := client.BeginAuthentication()
	var firstReq *UserAuthRequest
	first.OnResolve(func(r *UserAuthRequest) { firstReq = r })
	client.SendUserAuthRequest(firstReq)

	retry, err := client.ReceiveUserAuthFailure(&wire.UserAuthFailureMsg{Authentications: []string{"password"}})
	if err != nil {
		t.Fatalf("ReceiveUserAuthFailure: %v", err)
	}
	var retryReq *UserAuthRequest
	retry.OnResolve(func(r *UserAuthRequest) { retryReq = r })
	if retryReq != nil {
		t.Fatalf("expected the delegate to give up (None)")
	}

	client.NoFurtherMethods()

	if err := client.ReceiveUserAuthSuccess(); err == nil {
		t.Fatalf("expected ProtocolViolation after NoFurtherMethods")
	}
}

func TestIgnoredSlopAfterSuccess(t *testing.T) {
	delegate := fixedPasswordDelegate{username: "foo", password: "bar"}
	client := NewClientMachine(delegate, "foo", "ssh-connection")

	first := client.BeginAuthentication()
	var firstReq *UserAuthRequest
	first.OnResolve(func(r *UserAuthRequest) { firstReq = r })
	client.SendUserAuthRequest(firstReq)
	if err := client.ReceiveUserAuthSuccess(); err != nil {
		t.Fatalf("ReceiveUserAuthSuccess: %v", err)
	}

	if err := client.ReceiveUserAuthSuccess(); err != nil {
		t.Fatalf("expected success slop to be ignored, got %v", err)
	}
	future, err := client.ReceiveUserAuthFailure(&wire.UserAuthFailureMsg{Authentications: []string{"password"}})
	if err != nil {
		t.Fatalf("expected failure slop to be ignored, got %v", err)
	}
	if future != nil {
		t.Fatalf("expected no future from post-success slop")
	}
	if !client.Authenticated() {
		t.Fatalf("expected to remain Authenticated")
	}
}

// alwaysDenyDelegate adjudicates every request to Failure,
// synchronously.
type alwaysDenyDelegate struct{ calls int }

func (d *alwaysDenyDelegate) RequestReceived(UserAuthRequest) *Future[Outcome] {
	d.calls++
	f := NewFuture[Outcome]()
	f.Resolve(Failure())
	return f
}

func TestServerParallelDenial(t *testing.T) {
	delegate := &alwaysDenyDelegate{}
	server := NewServerMachine(delegate, MethodPassword)

	var sent []*wire.UserAuthFailureMsg
	for i := 0; i < 10; i++ {
		future, err := server.ReceiveUserAuthRequest(UserAuthRequest{Username: "foo", Method: PasswordMethod("wrong")})
		if err != nil {
			t.Fatalf("ReceiveUserAuthRequest[%d]: %v", i, err)
		}
		future.OnResolve(func(outcome Outcome) {
			success, failure := outcome.ToWireResponse(server.SupportedMethods())
			if success != nil {
				t.Fatalf("expected a failure response")
			}
			server.SendUserAuthFailure(failure)
			sent = append(sent, failure)
		})
	}

	if delegate.calls != 10 {
		t.Fatalf("expected 10 adjudications, got %d", delegate.calls)
	}
	if len(sent) != 10 {
		t.Fatalf("expected 10 failure responses, got %d", len(sent))
	}
	if server.Authenticated() {
		t.Fatalf("expected no corruption into Authenticated")
	}
}

// denyThenAcceptDelegate denies every request except the one at index
// acceptAt.
type denyThenAcceptDelegate struct {
	acceptAt int
	seen     int
}

func (d *denyThenAcceptDelegate) RequestReceived(UserAuthRequest) *Future[Outcome] {
	f := NewFuture[Outcome]()
	if d.seen == d.acceptAt {
		f.Resolve(Success())
	} else {
		f.Resolve(Failure())
	}
	d.seen++
	return f
}

func TestServerAcceptThenIgnore(t *testing.T) {
	delegate := &denyThenAcceptDelegate{acceptAt: 0}
	server := NewServerMachine(delegate, MethodPassword)

	future, err := server.ReceiveUserAuthRequest(UserAuthRequest{Username: "foo", Method: PasswordMethod("bar")})
	if err != nil {
		t.Fatalf("ReceiveUserAuthRequest: %v", err)
	}
	future.OnResolve(func(outcome Outcome) {
		success, _ := outcome.ToWireResponse(server.SupportedMethods())
		if success == nil {
			t.Fatalf("expected success on the accepted request")
		}
		server.SendUserAuthSuccess()
	})
	if !server.Authenticated() {
		t.Fatalf("expected Authenticated after the accepted request")
	}

	again, err := server.ReceiveUserAuthRequest(UserAuthRequest{Username: "foo", Method: PasswordMethod("bar")})
	if err != nil {
		t.Fatalf("ReceiveUserAuthRequest (post-success): %v", err)
	}
	if again != nil {
		t.Fatalf("expected no future once authenticated")
	}
}
