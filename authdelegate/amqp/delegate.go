// Package amqp implements a userauth.ServerDelegate that forwards
// every adjudication to a message broker instead of deciding
// in-process, generalizing the oneshot-channel delegate model that
// SPEC_FULL.md section 9 describes across a process boundary: a fleet
// of adjudication workers behind
// RabbitMQ, a realistic shape for a multi-tenant SSH gateway
// (SPEC_FULL.md section 11.2).
//
// Grounded on the teacher's declared github.com/rabbitmq/amqp091-go
// dependency (go.mod); modules/amqp carries no client usage of its
// own (it only banner-grabs the protocol header), so the RPC
// request/reply shape here follows amqp091-go's documented
// ReplyTo/CorrelationId convention rather than a specific teacher call
// site -- recorded in DESIGN.md's grounding ledger.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zmap/sshkex/core/userauth"
)

// requestWire is the JSON envelope published for each adjudication
// request. Only the password method is ever populated
// (SPEC_FULL.md section 1's Non-goals); the method name travels so a
// worker can reject public-key/host-based requests explicitly rather
// than silently mis-adjudicating them.
type requestWire struct {
	Username string `json:"username"`
	Service  string `json:"service"`
	Method   string `json:"method"`
	Password string `json:"password,omitempty"`
}

// responseWire is the JSON envelope a worker publishes back.
type responseWire struct {
	Outcome   string `json:"outcome"` // "success", "partial", "failure"
	Remaining []string `json:"remaining,omitempty"`
}

// Delegate publishes each UserAuthRequest to RequestQueue and awaits
// the matching response on a per-request reply queue, using AMQP's
// native ReplyTo/CorrelationId fields to implement the "resolve in
// any order, surfaced in resolution order" contract SPEC_FULL.md
// sections 4.2 and 8 require -- core/userauth already does the
// resolution-order bookkeeping on the Future it hands back; this
// delegate only has to honor CorrelationId when matching a reply to
// its waiting Future.
type Delegate struct {
	Channel      *amqp.Channel
	RequestQueue string

	replyQueue string
	replies    <-chan amqp.Delivery
	nextID     uint64
	pending    map[string]*userauth.Future[userauth.Outcome]
}

// NewDelegate declares a server-owned, exclusive reply queue and
// starts consuming it, mirroring the "declare once, consume for the
// connection's lifetime" pattern amqp091-go's own examples use for
// RPC clients.
func NewDelegate(ch *amqp.Channel, requestQueue string) (*Delegate, error) {
	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("authdelegate/amqp: declaring reply queue: %w", err)
	}
	msgs, err := ch.Consume(replyQueue.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("authdelegate/amqp: consuming reply queue: %w", err)
	}
	return &Delegate{
		Channel:      ch,
		RequestQueue: requestQueue,
		replyQueue:   replyQueue.Name,
		replies:      msgs,
		pending:      make(map[string]*userauth.Future[userauth.Outcome]),
	}, nil
}

// RequestReceived implements userauth.ServerDelegate. It publishes the
// request and resolves the returned Future asynchronously once a
// matching reply arrives; callers drive that arrival by calling
// Pump in a loop on the same event-loop goroutine that owns the
// userauth.ServerMachine (SPEC_FULL.md section 5: "all methods must be
// invoked on that thread").
func (d *Delegate) RequestReceived(req userauth.UserAuthRequest) *userauth.Future[userauth.Outcome] {
	future := userauth.NewFuture[userauth.Outcome]()

	d.nextID++
	correlationID := fmt.Sprintf("%d", d.nextID)

	body, err := json.Marshal(requestWireFromRequest(req))
	if err != nil {
		// Malformed request body is this delegate's own bug, not the
		// peer's: fail closed rather than stall a Future forever.
		future.Resolve(userauth.Failure())
		return future
	}

	d.pending[correlationID] = future
	err = d.Channel.PublishWithContext(context.Background(), "", d.RequestQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       d.replyQueue,
		Body:          body,
	})
	if err != nil {
		delete(d.pending, correlationID)
		future.Resolve(userauth.Failure())
	}
	return future
}

// Pump drains any reply deliveries currently queued and resolves
// their matching Futures. It never blocks; the caller's event loop
// decides when and how often to call it (e.g. a select alongside the
// connection's read loop).
func (d *Delegate) Pump() {
	for {
		select {
		case delivery, ok := <-d.replies:
			if !ok {
				return
			}
			d.resolve(delivery)
		default:
			return
		}
	}
}

func (d *Delegate) resolve(delivery amqp.Delivery) {
	future, ok := d.pending[delivery.CorrelationId]
	if !ok {
		return
	}
	delete(d.pending, delivery.CorrelationId)

	var resp responseWire
	if err := json.Unmarshal(delivery.Body, &resp); err != nil {
		future.Resolve(userauth.Failure())
		return
	}
	future.Resolve(outcomeFromResponseWire(resp))
}

func requestWireFromRequest(req userauth.UserAuthRequest) requestWire {
	w := requestWire{Username: req.Username, Service: req.ServiceName}
	// AuthMethod's password is unexported; ToWire already renders the
	// method name and the password field together, so we reuse that
	// rendering rather than re-deriving it from the unexported union.
	wireMsg := req.ToWire()
	w.Method = wireMsg.Method
	w.Password = wireMsg.Password
	return w
}

func outcomeFromResponseWire(resp responseWire) userauth.Outcome {
	switch resp.Outcome {
	case "success":
		return userauth.Success()
	case "partial":
		return userauth.PartialSuccess(userauth.AvailableMethodsFromWireList(resp.Remaining))
	default:
		return userauth.Failure()
	}
}
