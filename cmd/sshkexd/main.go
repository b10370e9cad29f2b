// Command sshkexd is the CLI/embedding-layer demo harness for the
// sshkex key-exchange and user-authentication state machines
// (SPEC_FULL.md section 10.3). It is deliberately thin: it parses
// flags and a config file, wires a handshake + password
// authentication round between an in-process client and server pair,
// and reports the result -- the actual connection I/O pipeline,
// framing, and channel multiplexing remain out of this repository's
// scope (SPEC_FULL.md section 1).
package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqpgo "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	flags "github.com/zmap/zflags"

	amqpdelegate "github.com/zmap/sshkex/authdelegate/amqp"
	"github.com/zmap/sshkex/config"
	"github.com/zmap/sshkex/core/kex"
	"github.com/zmap/sshkex/core/protoerr"
	"github.com/zmap/sshkex/core/userauth"
	"github.com/zmap/sshkex/hostkey"
	"github.com/zmap/sshkex/metrics"
)

// Flags are sshkexd's command-line flags, following the same
// long-flag, described-field convention the teacher's per-module
// Flags structs use (modules/ldap/scanner.go: `long:"..."
// description:"..."`).
type Flags struct {
	ConfigPath  string `long:"config" description:"path to the YAML configuration file" default:"sshkexd.yaml"`
	LogFormat   string `long:"log-format" description:"text or json" default:"text"`
	Verbose     bool   `long:"verbose" description:"enable debug-level logging"`
	Username    string `long:"username" description:"username to authenticate as in the demo run" default:"demo"`
	Password    string `long:"password" description:"password the demo client offers" default:"demo"`
	DNSResolver string `long:"dns-resolver" description:"host:port of a resolver to consult for SSHFP host key pinning (disabled if empty)"`
	Hostname    string `long:"hostname" description:"hostname to use for SSHFP lookups" default:"localhost"`
}

func main() {
	var opts Flags
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	log := logrus.New()
	if opts.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	defer func() {
		// CallerMisuse is a fatal programmer error (SPEC_FULL.md section
		// 7): recover it here, log it, and exit non-zero rather than let
		// a corrupted state machine limp forward.
		if r := recover(); r != nil {
			if misuse, ok := r.(protoerr.CallerMisuse); ok {
				log.WithError(misuse).Fatal("sshkexd: caller misuse")
			}
			panic(r)
		}
	}()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Warn("sshkexd: no usable config file, continuing with defaults")
		cfg = &config.Config{}
	}
	if !cfg.AllowsUsername(opts.Username) {
		log.WithField("user", opts.Username).Fatal("sshkexd: username not in allowlist")
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	var verifier kex.HostKeyVerifier
	if opts.DNSResolver != "" {
		verifier = hostkey.NewSSHFPVerifier(opts.DNSResolver)
	}

	serverDelegate, closeDelegate, err := serverDelegateFor(cfg, opts.Password)
	if err != nil {
		log.WithError(err).Fatal("sshkexd: could not build server adjudication delegate")
	}
	if closeDelegate != nil {
		defer closeDelegate()
	}

	result, err := runDemo(opts, recorder, verifier, serverDelegate, log)
	if err != nil {
		log.WithError(err).Fatal("sshkexd: demo handshake failed")
	}

	if cfg.AuditLogPath != "" {
		if err := appendAuditRecord(cfg.AuditLogPath, result); err != nil {
			log.WithError(err).Warn("sshkexd: could not write audit record")
		}
	}

	fmt.Printf("session established: session_id=%x authenticated=%v\n", result.SessionIDPrefix, result.Authenticated)
}

// auditRecord is the one-line JSON record appended to cfg.AuditLogPath
// per completed handshake (SPEC_FULL.md section 11.5).
type auditRecord struct {
	Timestamp       string `json:"timestamp"`
	SessionIDPrefix []byte `json:"session_id_prefix"`
	Username        string `json:"username"`
	Authenticated   bool   `json:"authenticated"`
}

func appendAuditRecord(path string, r demoResult) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	rec := auditRecord{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		SessionIDPrefix: r.SessionIDPrefix,
		Username:        r.Username,
		Authenticated:   r.Authenticated,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

type demoResult struct {
	SessionIDPrefix []byte
	Username        string
	Authenticated   bool
}

// serverDelegateFor picks the server's adjudication delegate: a broker-
// backed authdelegate/amqp.Delegate when cfg.AMQPURL names a broker, or
// the in-process demoServerDelegate otherwise (SPEC_FULL.md section
// 11.2 describes the AMQP delegate as one concrete ServerDelegate this
// repository ships, not the only one). The returned close func, if
// non-nil, releases the broker connection and must be deferred by the
// caller.
func serverDelegateFor(cfg *config.Config, demoPassword string) (userauth.ServerDelegate, func(), error) {
	if cfg.AMQPURL == "" {
		return demoServerDelegate{password: demoPassword}, nil, nil
	}

	conn, err := amqpgo.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", cfg.AMQPURL, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}
	delegate, err := amqpdelegate.NewDelegate(ch, "userauth.requests")
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return &pumpingDelegate{Delegate: delegate}, func() { ch.Close(); conn.Close() }, nil
}

// pumpingDelegate drains authdelegate/amqp.Delegate's reply channel on
// every RequestReceived call, giving the synchronous demo loop in
// runDemo a best-effort chance to see a reply land before it checks
// whether the returned Future resolved. A real event loop would call
// Pump from its own I/O readiness callback instead of polling like
// this. The state machines have no internal timeout of their own
// (SPEC_FULL.md section 5); if the Future is still unresolved once this
// polling ends, runDemo returns an error instead of reading an outcome.
type pumpingDelegate struct {
	*amqpdelegate.Delegate
}

func (d *pumpingDelegate) RequestReceived(req userauth.UserAuthRequest) *userauth.Future[userauth.Outcome] {
	future := d.Delegate.RequestReceived(req)
	for i := 0; i < 50; i++ {
		d.Delegate.Pump()
		time.Sleep(20 * time.Millisecond)
	}
	return future
}

// runDemo drives one in-process client/server pair through a full
// handshake and a single password authentication round, the same
// sequence core/session_integration_test.go verifies, wired here with
// logging and metrics so the CLI demonstrates the ambient stack rather
// than just the bare protocol logic.
func runDemo(opts Flags, recorder *metrics.Recorder, verifier kex.HostKeyVerifier, serverDelegate userauth.ServerDelegate, log *logrus.Logger) (demoResult, error) {
	_, hostPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return demoResult{}, err
	}

	clientVersion := []byte("SSH-2.0-sshkexd_demo")
	serverVersion := []byte("SSH-2.0-sshkexd_demo")

	clientOpts := []kex.Option{
		kex.WithLogger(log.WithField("role", "client")),
		kex.WithMetrics(recorder),
	}
	if verifier != nil {
		clientOpts = append(clientOpts, kex.WithHostKeyVerifier(opts.Hostname, verifier))
	}

	client := kex.NewMachine(kex.ClientRole(), clientVersion, serverVersion, clientOpts...)
	server := kex.NewMachine(
		kex.ServerRole(kex.Ed25519Signer{Private: hostPriv}),
		clientVersion, serverVersion,
		kex.WithLogger(log.WithField("role", "server")),
		kex.WithMetrics(recorder),
	)

	clientInit := client.StartKeyExchange()
	serverInit := server.StartKeyExchange()
	client.SendKexInit(clientInit)
	server.SendKexInit(serverInit)

	fromServer, err := client.HandleKexInit(serverInit)
	if err != nil {
		return demoResult{}, err
	}
	client.SendEcdhInit(fromServer.EcdhInit)

	if _, err := server.HandleKexInit(clientInit); err != nil {
		return demoResult{}, err
	}

	reply, err := server.HandleEcdhInit(fromServer.EcdhInit)
	if err != nil {
		return demoResult{}, err
	}
	if err := server.SendEcdhReply(reply); err != nil {
		return demoResult{}, err
	}

	if _, err := client.HandleEcdhReply(reply); err != nil {
		return demoResult{}, err
	}

	if _, err := client.SendNewKeys(); err != nil {
		return demoResult{}, err
	}
	if _, err := server.HandleNewKeys(); err != nil {
		return demoResult{}, err
	}
	if _, err := server.SendNewKeys(); err != nil {
		return demoResult{}, err
	}
	if _, err := client.HandleNewKeys(); err != nil {
		return demoResult{}, err
	}

	clientAuth := userauth.NewClientMachine(
		demoClientDelegate{password: opts.Password},
		opts.Username, "ssh-connection",
		userauth.WithClientLogger(log.WithField("role", "client")),
	)
	serverAuth := userauth.NewServerMachine(
		serverDelegate,
		userauth.MethodPassword,
		userauth.WithServerLogger(log.WithField("role", "server")),
	)

	future := clientAuth.BeginAuthentication()
	var req *userauth.UserAuthRequest
	future.OnResolve(func(r *userauth.UserAuthRequest) { req = r })
	if req == nil {
		clientAuth.NoFurtherMethods()
		recorder.OnAuthOutcome("client", "failure")
		return demoResult{SessionIDPrefix: sessionIDPrefix(client), Username: opts.Username}, nil
	}

	wireReq := clientAuth.SendUserAuthRequest(req)
	serverFuture, err := serverAuth.ReceiveUserAuthRequest(userauth.UserAuthRequest{
		Username:    wireReq.User,
		ServiceName: wireReq.Service,
		Method:      userauth.PasswordMethod(wireReq.Password),
	})
	if err != nil {
		return demoResult{}, err
	}

	var outcome userauth.Outcome
	resolved := false
	serverFuture.OnResolve(func(o userauth.Outcome) { outcome, resolved = o, true })
	if !resolved {
		return demoResult{}, fmt.Errorf("server adjudication delegate did not resolve its outcome")
	}
	successMsg, failureMsg := outcome.ToWireResponse(serverAuth.SupportedMethods())
	if successMsg != nil {
		serverAuth.SendUserAuthSuccess()
		recorder.OnAuthOutcome("server", "success")
		if err := clientAuth.ReceiveUserAuthSuccess(); err != nil {
			return demoResult{}, err
		}
		recorder.OnAuthOutcome("client", "success")
	} else {
		serverAuth.SendUserAuthFailure(failureMsg)
		recorder.OnAuthOutcome("server", "failure")
	}

	return demoResult{
		SessionIDPrefix: sessionIDPrefix(client),
		Username:        opts.Username,
		Authenticated:   clientAuth.Authenticated(),
	}, nil
}

func sessionIDPrefix(m *kex.Machine) []byte {
	id := m.SessionID()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// demoClientDelegate and demoServerDelegate are the CLI's own trivial
// ClientDelegate/ServerDelegate implementations -- the same "narrow,
// application-supplied" shape SPEC_FULL.md section 4.2 describes, just
// fixed to a single flag-supplied password rather than a real
// credential store.
type demoClientDelegate struct{ password string }

func (d demoClientDelegate) NextAuthentication(available userauth.AvailableMethods) *userauth.Future[*userauth.UserAuthRequest] {
	f := userauth.NewFuture[*userauth.UserAuthRequest]()
	if !available.Has(userauth.MethodPassword) {
		f.Resolve(nil)
		return f
	}
	f.Resolve(&userauth.UserAuthRequest{Method: userauth.PasswordMethod(d.password)})
	return f
}

type demoServerDelegate struct{ password string }

func (d demoServerDelegate) RequestReceived(req userauth.UserAuthRequest) *userauth.Future[userauth.Outcome] {
	f := userauth.NewFuture[userauth.Outcome]()
	if req.ToWire().Password == d.password {
		f.Resolve(userauth.Success())
	} else {
		f.Resolve(userauth.Failure())
	}
	return f
}
