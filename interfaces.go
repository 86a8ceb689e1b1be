package orbit

import "context"

// Record is the registry's view of one live subscription: the client
// address it must be delivered to, and the cancel-handle that must be
// invoked exactly once when the record is removed.
type Record struct {
	Client ClientAddress
	Cancel func()
}

// Registry is the Subscription Registry's contract with the rest of the
// server. The concrete implementation lives in package subscription; the
// server depends only on this interface so that subscription need not
// import this package.
type Registry interface {
	Insert(id ObservationID, rec Record) error
	Invalidate(ids []ObservationID)
	InvalidateAll()
	Has(id ObservationID) bool
	Get(id ObservationID) (Record, bool)
	Snapshot() map[ClientAddress][]ObservationID
	Cleanup()
	Close()
}

// Sender delivers an already-encoded message to a client address. It is
// the thin wrapper around a claimed (session, producer) pair that the
// Session Pool hands out.
type Sender interface {
	Send(ctx context.Context, address ClientAddress, body []byte) error
}

// Pool is the Session Pool's contract with the rest of the server. The
// concrete implementation lives in package sessionpool.
type Pool interface {
	// Sticky returns the sender affinitized to key, creating it if this is
	// the first claim for that key (modulo pool capacity).
	Sticky(key RequestID) (Sender, error)
	// Anonymous returns a sender with no key affinity, for callers with no
	// ordering requirement.
	Anonymous() (Sender, error)
	Close() error
}

// Forwarder is the Observation Forwarder's contract with the rest of the
// server: a single strictly-ordered sink that accepts one notification at a
// time for delivery. The concrete implementation lives in package
// observation.
type Forwarder interface {
	Enqueue(originating RequestID, id ObservationID, n Notification)
}

// MintFunc mints a fresh ObservationID. The server owns the single
// generator and shares this closure with every ReplyContext it constructs.
type MintFunc func() ObservationID

// ReplyContext is the per-encoding-operation context slot described by the
// specification: the codec consults it whenever it encounters a stream
// value anywhere in the value tree being encoded, regardless of nesting
// depth.
type ReplyContext struct {
	RequestID     RequestID
	ClientAddress ClientAddress
	Registry      Registry
	Forwarder     Forwarder
	Mint          MintFunc
}

// Codec is the pluggable serialization codec. Marshal must apply the
// stream-aware rewrite described by ReplyContext: any value implementing
// Observable anywhere in v's value tree is replaced on the wire by a single
// minted ObservationID, and the corresponding subscription is registered
// and forwarded as a side effect of encoding. rc may be nil only for
// payloads that are statically known not to contain streams (e.g. decoding
// inbound arguments).
type Codec interface {
	Marshal(v any, rc *ReplyContext) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Emission is one value pushed by an Observable: exactly one of Value (on a
// plain emission), Err (on a terminal error), or Done (on a terminal
// completion) is meaningful, selected the same way as Notification.
type Emission struct {
	Value any
	Err   error
	Done  bool
}

// Observable is implemented by any value a host method may return (or
// nest arbitrarily deep inside a returned value) to signal that it is a
// lazy, possibly-infinite stream rather than an immediate result. Encoding
// such a value does not encode its payload; it mints an ObservationID,
// subscribes, and the payload arrives later as Observation messages.
type Observable interface {
	// Subscribe begins delivering emissions to sink in order, until sink
	// receives an Emission with Done or Err set, or the returned cancel
	// function is called. Subscribe must not block past the call needed to
	// start delivery; the returned cancel function does not block for
	// implementations that deliver asynchronously.
	Subscribe(sink func(Emission)) (cancel func())
}

// Dispatcher is the Request Dispatcher's contract with the rest of the
// server: given a decoded method name and argument bytes, it resolves and
// invokes the corresponding host method and returns the encoded result (or
// a decoded host error). The concrete implementation lives in package
// methodtable.
type Dispatcher interface {
	Invoke(ctx context.Context, codec Codec, rc *ReplyContext, method string, args []byte) (result []byte, err error)
}

// Reconciler runs one reaper pass: reconciling the registry against live
// broker queues and invalidating orphaned subscriptions. The concrete
// implementation lives in package reaper.
type Reconciler interface {
	RunOnce(ctx context.Context) error
}
