package userauth

// Future is a single-resolution promise resolved later on the same
// event-loop thread that owns the state machine (SPEC_FULL.md section
// 9, design note "async delegate consultation", option (a):
// single-threaded cooperative tasks with explicit continuations). It
// is not safe for cross-goroutine use without its own synchronization
// -- that synchronization is the embedding application's job if it
// chooses to resolve futures from a different goroutine than the one
// driving the state machine.
type Future[T any] struct {
	resolved bool
	value    T
	onResolve func(T)
}

// NewFuture returns an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{}
}

// OnResolve registers the continuation to run when the future
// resolves. If the future is already resolved, the continuation runs
// immediately, synchronously, before OnResolve returns.
func (f *Future[T]) OnResolve(cb func(T)) {
	if f.resolved {
		cb(f.value)
		return
	}
	f.onResolve = cb
}

// Resolve supplies the future's value and, if a continuation is
// already registered, runs it synchronously. Resolving twice is
// caller misuse on the delegate's part; this type does not guard
// against it since it has no connection-level state to protect.
func (f *Future[T]) Resolve(v T) {
	f.resolved = true
	f.value = v
	if f.onResolve != nil {
		cb := f.onResolve
		f.onResolve = nil
		cb(v)
	}
}

// ClientDelegate supplies credentials on request. The state machine
// trusts it completely -- it does not filter a request against
// availableMethods before sending it (SPEC_FULL.md section 4.2).
type ClientDelegate interface {
	// NextAuthentication resolves to the next UserAuthRequest to try,
	// or a nil *UserAuthRequest (Option::None) if the delegate has
	// nothing left to offer.
	NextAuthentication(available AvailableMethods) *Future[*UserAuthRequest]
}

// ServerDelegate adjudicates inbound requests. It receives them in
// the order they arrived on the wire but may resolve its promises in
// any order; the state machine surfaces each future's continuation in
// resolution order, not arrival order (SPEC_FULL.md section 4.2,
// section 8's quantified invariant).
type ServerDelegate interface {
	RequestReceived(req UserAuthRequest) *Future[Outcome]
}
