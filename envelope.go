package orbit

import (
	"fmt"

	"github.com/orbitrpc/orbit/wire"
)

// A ClientAddress is an opaque broker routing token naming the client-owned
// queue to which replies and observations for a call must be delivered.
type ClientAddress string

// RPCRequest is a decoded ClientToServer request message: a method call
// with its arguments and the address the reply must be sent to.
type RPCRequest struct {
	ID      RequestID
	Method  string
	Args    []byte // opaque, interpreted by the codec and the target method
	ReplyTo ClientAddress
}

// ObservablesClosed is the other arm of the ClientToServer union: the
// client releasing its interest in a set of observation ids.
type ObservablesClosed struct {
	IDs []ObservationID
}

// RPCReply is the ServerToClient reply message: at most one per RequestID.
// Exactly one of Result and Err is meaningful, selected by OK.
type RPCReply struct {
	ID     RequestID
	OK     bool
	Result []byte // opaque, produced by the codec; valid only if OK
	Err    *ErrorData
}

// NotificationKind discriminates the arms of a Notification.
type NotificationKind byte

const (
	OnNext      NotificationKind = 0
	OnError     NotificationKind = 1
	OnCompleted NotificationKind = 2
)

func (k NotificationKind) String() string {
	switch k {
	case OnNext:
		return "OnNext"
	case OnError:
		return "OnError"
	case OnCompleted:
		return "OnCompleted"
	default:
		return fmt.Sprintf("NotificationKind(%d)", k)
	}
}

// Notification is a single emission from an observation stream: a value, an
// error, or a completion signal. Exactly one of Value (when Kind is OnNext)
// or Err (when Kind is OnError) is meaningful.
type Notification struct {
	Kind  NotificationKind
	Value []byte // opaque, codec-encoded; valid only when Kind == OnNext
	Err   *ErrorData
}

// Terminal reports whether n ends the stream it belongs to.
func (n Notification) Terminal() bool { return n.Kind != OnNext }

// Observation is a single ServerToClient observation message.
type Observation struct {
	ID           ObservationID
	Notification Notification
}

// Encode serializes req onto the wire. The envelope framing covers only the
// fields the server itself must read to route a message (ids, method name,
// address); Args is an opaque blob already produced by the chosen codec.
func (req RPCRequest) Encode() []byte {
	var b wire.Builder
	b.Uvarint(uint64(req.ID))
	b.VPutString(req.Method)
	b.VPutString(string(req.ReplyTo))
	b.VPut(req.Args)
	return b.Bytes()
}

// DecodeRPCRequest parses an RPCRequest previously produced by Encode.
func DecodeRPCRequest(data []byte) (RPCRequest, error) {
	s := wire.NewScanner(data)
	id, err := s.Uvarint()
	if err != nil {
		return RPCRequest{}, fmt.Errorf("request id: %w", err)
	}
	method, err := s.VString()
	if err != nil {
		return RPCRequest{}, fmt.Errorf("method: %w", err)
	}
	addr, err := s.VString()
	if err != nil {
		return RPCRequest{}, fmt.Errorf("reply-to: %w", err)
	}
	args, err := s.VBytes()
	if err != nil {
		return RPCRequest{}, fmt.Errorf("args: %w", err)
	}
	return RPCRequest{ID: RequestID(id), Method: method, ReplyTo: ClientAddress(addr), Args: args}, nil
}

// Encode serializes c onto the wire.
func (c ObservablesClosed) Encode() []byte {
	var b wire.Builder
	b.Vint30(uint32(len(c.IDs)))
	for _, id := range c.IDs {
		b.Uvarint(uint64(id))
	}
	return b.Bytes()
}

// DecodeObservablesClosed parses an ObservablesClosed previously produced
// by Encode.
func DecodeObservablesClosed(data []byte) (ObservablesClosed, error) {
	s := wire.NewScanner(data)
	n, err := s.Vint30()
	if err != nil {
		return ObservablesClosed{}, fmt.Errorf("count: %w", err)
	}
	ids := make([]ObservationID, n)
	for i := range ids {
		v, err := s.Uvarint()
		if err != nil {
			return ObservablesClosed{}, fmt.Errorf("id %d: %w", i, err)
		}
		ids[i] = ObservationID(v)
	}
	return ObservablesClosed{IDs: ids}, nil
}

// Encode serializes rsp onto the wire.
func (rsp RPCReply) Encode() []byte {
	var b wire.Builder
	b.Uvarint(uint64(rsp.ID))
	b.Bool(rsp.OK)
	if rsp.OK {
		b.VPut(rsp.Result)
	} else {
		b.VPutString(rsp.Err.Code)
		b.VPutString(rsp.Err.Message)
	}
	return b.Bytes()
}

// DecodeRPCReply parses an RPCReply previously produced by Encode.
func DecodeRPCReply(data []byte) (RPCReply, error) {
	s := wire.NewScanner(data)
	id, err := s.Uvarint()
	if err != nil {
		return RPCReply{}, fmt.Errorf("reply id: %w", err)
	}
	ok, err := s.Bool()
	if err != nil {
		return RPCReply{}, fmt.Errorf("ok flag: %w", err)
	}
	rsp := RPCReply{ID: RequestID(id), OK: ok}
	if ok {
		result, err := s.VBytes()
		if err != nil {
			return RPCReply{}, fmt.Errorf("result: %w", err)
		}
		rsp.Result = result
		return rsp, nil
	}
	code, err := s.VString()
	if err != nil {
		return RPCReply{}, fmt.Errorf("error code: %w", err)
	}
	msg, err := s.VString()
	if err != nil {
		return RPCReply{}, fmt.Errorf("error message: %w", err)
	}
	rsp.Err = &ErrorData{Code: code, Message: msg}
	return rsp, nil
}

// encodeInto appends the wire encoding of n to b.
func (n Notification) encodeInto(b *wire.Builder) {
	b.Put(byte(n.Kind))
	switch n.Kind {
	case OnNext:
		b.VPut(n.Value)
	case OnError:
		b.VPutString(n.Err.Code)
		b.VPutString(n.Err.Message)
	case OnCompleted:
		// no payload
	}
}

func decodeNotification(s *wire.Scanner) (Notification, error) {
	kb, err := s.Byte()
	if err != nil {
		return Notification{}, fmt.Errorf("notification kind: %w", err)
	}
	n := Notification{Kind: NotificationKind(kb)}
	switch n.Kind {
	case OnNext:
		v, err := s.VBytes()
		if err != nil {
			return Notification{}, fmt.Errorf("notification value: %w", err)
		}
		n.Value = v
	case OnError:
		code, err := s.VString()
		if err != nil {
			return Notification{}, fmt.Errorf("notification error code: %w", err)
		}
		msg, err := s.VString()
		if err != nil {
			return Notification{}, fmt.Errorf("notification error message: %w", err)
		}
		n.Err = &ErrorData{Code: code, Message: msg}
	case OnCompleted:
		// no payload
	default:
		return Notification{}, fmt.Errorf("unknown notification kind %d", kb)
	}
	return n, nil
}

// Encode serializes o onto the wire.
func (o Observation) Encode() []byte {
	var b wire.Builder
	b.Uvarint(uint64(o.ID))
	o.Notification.encodeInto(&b)
	return b.Bytes()
}

// DecodeObservation parses an Observation previously produced by Encode.
func DecodeObservation(data []byte) (Observation, error) {
	s := wire.NewScanner(data)
	id, err := s.Uvarint()
	if err != nil {
		return Observation{}, fmt.Errorf("observation id: %w", err)
	}
	n, err := decodeNotification(s)
	if err != nil {
		return Observation{}, err
	}
	return Observation{ID: ObservationID(id), Notification: n}, nil
}

// clientToServerTag discriminates the arms of the ClientToServer union on
// the wire.
type clientToServerTag byte

const (
	tagRPCRequest         clientToServerTag = 0
	tagObservablesClosed  clientToServerTag = 1
)

// EncodeClientToServer wraps exactly one of req or closed (whichever is
// non-nil) in its tagged-union envelope.
func EncodeClientToServer(req *RPCRequest, closed *ObservablesClosed) []byte {
	var b wire.Builder
	if req != nil {
		b.Put(byte(tagRPCRequest))
		b.Put(req.Encode()...)
	} else {
		b.Put(byte(tagObservablesClosed))
		b.Put(closed.Encode()...)
	}
	return b.Bytes()
}

// DecodeClientToServer parses a ClientToServer envelope, returning exactly
// one of req or closed set (the other nil).
func DecodeClientToServer(data []byte) (req *RPCRequest, closed *ObservablesClosed, err error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty message")
	}
	switch clientToServerTag(data[0]) {
	case tagRPCRequest:
		v, err := DecodeRPCRequest(data[1:])
		if err != nil {
			return nil, nil, err
		}
		return &v, nil, nil
	case tagObservablesClosed:
		v, err := DecodeObservablesClosed(data[1:])
		if err != nil {
			return nil, nil, err
		}
		return nil, &v, nil
	default:
		return nil, nil, fmt.Errorf("unknown ClientToServer tag %d", data[0])
	}
}

// serverToClientTag discriminates the arms of the ServerToClient union on
// the wire.
type serverToClientTag byte

const (
	tagRPCReply     serverToClientTag = 0
	tagObservation  serverToClientTag = 1
)

// EncodeServerToClient wraps exactly one of rsp or obs (whichever is
// non-nil) in its tagged-union envelope.
func EncodeServerToClient(rsp *RPCReply, obs *Observation) []byte {
	var b wire.Builder
	if rsp != nil {
		b.Put(byte(tagRPCReply))
		b.Put(rsp.Encode()...)
	} else {
		b.Put(byte(tagObservation))
		b.Put(obs.Encode()...)
	}
	return b.Bytes()
}

// DecodeServerToClient parses a ServerToClient envelope, returning exactly
// one of rsp or obs set (the other nil).
func DecodeServerToClient(data []byte) (rsp *RPCReply, obs *Observation, err error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty message")
	}
	switch serverToClientTag(data[0]) {
	case tagRPCReply:
		v, err := DecodeRPCReply(data[1:])
		if err != nil {
			return nil, nil, err
		}
		return &v, nil, nil
	case tagObservation:
		v, err := DecodeObservation(data[1:])
		if err != nil {
			return nil, nil, err
		}
		return nil, &v, nil
	default:
		return nil, nil, fmt.Errorf("unknown ServerToClient tag %d", data[0])
	}
}
