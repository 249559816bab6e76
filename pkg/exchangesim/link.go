// Package exchangesim provides an in-memory casesession.Exchange pair for
// tests, using the "virtual network" pattern of an in-memory byte-stream
// pipe (queue-and-pump rather than a live socket) but
// at CASE's message level: SendMessage enqueues on the peer endpoint, and a
// Pump drains both queues until quiescent.
//
// Queuing rather than delivering inline also sidesteps an ordering problem:
// casesession.Establish sends Sigma1 as part of constructing the Session, so
// an inline-delivery link would need the initiator's Session bound to its
// endpoint before the Session exists. Queuing lets Establish/Listen run
// first and Pump run once both endpoints are bound.
package exchangesim

import (
	"errors"
	"sync"

	casesession "github.com/fabricgate/case/pkg/case"
)

// ErrClosed is returned by SendMessage once the endpoint has been closed.
var ErrClosed = errors.New("exchangesim: endpoint closed")

// maxPumpMessages bounds Pump's drain loop so a runaway message ping-pong
// (a bug that keeps re-triggering sends) stops instead of hanging. Pump
// returns without any signal when the bound is hit; messages still queued
// stay undelivered.
const maxPumpMessages = 1000

// queuedMessage is one message in flight to an endpoint's bound session.
type queuedMessage struct {
	opcode  casesession.Opcode
	payload []byte
}

// sentMessage records one outbound message for test introspection.
type sentMessage struct {
	Opcode  casesession.Opcode
	Payload []byte
}

// Endpoint is one side of a simulated exchange link. It implements
// casesession.Exchange by enqueuing SendMessage calls for delivery to its
// peer's bound session the next time Pump runs.
type Endpoint struct {
	peer *Endpoint

	mu      sync.Mutex
	session *casesession.Session
	closed  bool
	inbox   []queuedMessage
	sent    []sentMessage
}

// NewLink creates two endpoints wired to each other.
func NewLink() (a, b *Endpoint) {
	a = &Endpoint{}
	b = &Endpoint{}
	a.peer = b
	b.peer = a
	return a, b
}

// Bind attaches the Session that receives messages delivered to this
// endpoint. Safe to call after messages have already been enqueued; they
// are only handed to the session once Pump runs.
func (e *Endpoint) Bind(s *casesession.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s
}

// SendMessage enqueues opcode/payload for delivery to the peer endpoint's
// bound session on the next Pump.
func (e *Endpoint) SendMessage(opcode casesession.Opcode, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	e.sent = append(e.sent, sentMessage{Opcode: opcode, Payload: cp})
	e.peer.enqueue(opcode, cp)
	return nil
}

func (e *Endpoint) enqueue(opcode casesession.Opcode, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbox = append(e.inbox, queuedMessage{opcode: opcode, payload: payload})
}

// deliverOne pops and delivers the oldest queued message, if any, to the
// bound session, reporting whether a message was delivered.
func (e *Endpoint) deliverOne() bool {
	e.mu.Lock()
	if len(e.inbox) == 0 {
		e.mu.Unlock()
		return false
	}
	msg := e.inbox[0]
	e.inbox = e.inbox[1:]
	session := e.session
	e.mu.Unlock()

	if session == nil {
		return true // drop: no session bound to receive it
	}
	_ = session.OnMessage(e, msg.opcode, msg.payload)
	return true
}

// Close marks the endpoint closed; further SendMessage calls fail.
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// SentOpcodes returns the sequence of opcodes this endpoint has sent, for
// test assertions about message ordering.
func (e *Endpoint) SentOpcodes() []casesession.Opcode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]casesession.Opcode, len(e.sent))
	for i, m := range e.sent {
		out[i] = m.Opcode
	}
	return out
}

// Pump alternately delivers one queued message per endpoint until both
// inboxes are empty, driving a full handshake to completion (or failure) in
// one call.
func Pump(endpoints ...*Endpoint) {
	delivered := 0
	for delivered < maxPumpMessages {
		any := false
		for _, e := range endpoints {
			if e.deliverOne() {
				any = true
				delivered++
			}
		}
		if !any {
			return
		}
	}
}

var _ casesession.Exchange = (*Endpoint)(nil)
