// Package broker defines the message-broker transport this server runs on
// top of. The transport itself — connection establishment, queue creation,
// ACKs — is an external collaborator; this package only describes the
// interface the rest of the module needs from it, plus the shapes of the
// messages that cross it.
package broker

import "context"

// A Broker is a message-broker connection capable of minting sessions and
// reporting the live queues it currently hosts.
type Broker interface {
	// NewSession opens a new session against the broker using the server's
	// own credentials.
	NewSession(ctx context.Context) (Session, error)

	// Queues reports every queue whose address has the given prefix,
	// together with its current consumer count. It is used by the reaper to
	// reconcile registered subscriptions against live client queues.
	Queues(ctx context.Context, addressPrefix string) ([]QueueInfo, error)
}

// A Session is a single connection-scoped handle from which producers and
// consumers are created. A Session is not safe for concurrent use by more
// than one goroutine at a time unless the concrete implementation says
// otherwise.
type Session interface {
	NewProducer() (Producer, error)
	NewConsumer(address string, handler Handler) (Consumer, error)
	Close() error
}

// A Producer sends messages to broker addresses. A Producer is unbound: the
// destination address is supplied per send, not fixed at creation.
type Producer interface {
	Send(ctx context.Context, address string, msg Message) error
	Close() error
}

// A Consumer delivers messages arriving at the address it was created for
// to its Handler until Close is called.
type Consumer interface {
	Start() error
	Close() error
}

// A Handler processes one message delivered to a Consumer. Returning a
// non-nil error does not retry delivery; the broker's own ACK semantics are
// out of scope for this interface.
type Handler func(context.Context, Message) error

// A Message is a single broker message: an opaque body, broker-level string
// properties, and the validated-user header the broker's own authentication
// layer stamps on ingress messages.
type Message struct {
	Body          []byte
	Properties    map[string]string
	ValidatedUser string
}

// QueueInfo describes one broker-hosted queue as of the moment it was
// queried.
type QueueInfo struct {
	Address       string
	ConsumerCount int
}
