// Package codec provides the default wire codec for reply and observation
// payloads, built on CBOR. Its defining feature is the stream-aware
// encoding pass required by the server: a value tree may contain, at any
// depth, a value implementing orbit.Observable, and encoding such a value
// must not encode its payload. Instead it mints an ObservationID, begins a
// subscription, and writes the id in the payload's place.
//
// Since neither encoding/json nor cbor's Marshaler interfaces accept a
// contextual argument, the pass runs ahead of the underlying codec: it
// walks the value with reflection and rebuilds it as a plain tree of maps,
// slices, and scalars, substituting any Observable it finds along the way.
// The rebuilt tree is what actually gets handed to cbor.
package codec

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/orbitrpc/orbit"
	"github.com/orbitrpc/orbit/rpclog"
)

var observableType = reflect.TypeFor[orbit.Observable]()

// Codec is the default Codec implementation, built on
// github.com/fxamacker/cbor/v2. The zero value is ready for use.
type Codec struct {
	log *rpclog.Logger
}

// New constructs a ready-to-use Codec.
func New() *Codec { return &Codec{} }

// logger returns the codec's logger, falling back to rpclog.Default so the
// zero value stays usable.
func (c *Codec) logger() *rpclog.Logger {
	if c.log != nil {
		return c.log
	}
	return rpclog.Default()
}

// Marshal implements orbit.Codec.
func (c *Codec) Marshal(v any, rc *orbit.ReplyContext) ([]byte, error) {
	canon, err := c.rewrite(reflect.ValueOf(v), rc)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(canon)
}

// Unmarshal implements orbit.Codec. Incoming request arguments never carry
// streams, so no rewrite pass runs on this side.
func (c *Codec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// rewrite walks rv and returns a plain value safe to hand to cbor.Marshal,
// replacing any Observable found at any depth with its minted
// ObservationID. rc may be nil if the caller has already established that
// v cannot contain a stream (e.g. it is a primitive), in which case
// encountering an Observable is an error.
func (c *Codec) rewrite(rv reflect.Value, rc *orbit.ReplyContext) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		return c.rewrite(rv.Elem(), rc)
	}

	if rv.CanInterface() && rv.Type().Implements(observableType) {
		obs := rv.Interface().(orbit.Observable)
		id, err := c.subscribe(obs, rc)
		if err != nil {
			return nil, err
		}
		return uint64(id), nil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return c.rewrite(rv.Elem(), rc)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			v, err := c.rewrite(rv.Index(i), rc)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			val, err := c.rewrite(iter.Value(), rc)
			if err != nil {
				return nil, fmt.Errorf("key %v: %w", iter.Key(), err)
			}
			out[fmt.Sprint(iter.Key().Interface())] = val
		}
		return out, nil

	case reflect.Struct:
		t := rv.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue // unexported
			}
			name := fieldName(f)
			if name == "-" {
				continue
			}
			val, err := c.rewrite(rv.Field(i), rc)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			out[name] = val
		}
		return out, nil

	default:
		return rv.Interface(), nil
	}
}

// fieldName reports the wire name of a struct field, honoring a "cbor" tag
// the way the underlying library does.
func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("cbor")
	if tag == "" {
		return f.Name
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name
}

// subscribe mints an ObservationID for obs, begins delivery, and registers
// the subscription, performing steps 1-5 of the stream-encoding contract as
// a side effect of the rewrite walk.
func (c *Codec) subscribe(obs orbit.Observable, rc *orbit.ReplyContext) (orbit.ObservationID, error) {
	if rc == nil {
		return 0, fmt.Errorf("codec: encountered a stream value with no reply context")
	}
	id := rc.Mint()
	cancel := obs.Subscribe(func(e orbit.Emission) {
		n, ok := c.toNotification(e, rc)
		if !ok {
			return
		}
		rc.Forwarder.Enqueue(rc.RequestID, id, n)
	})
	if err := rc.Registry.Insert(id, orbit.Record{Client: rc.ClientAddress, Cancel: cancel}); err != nil {
		cancel()
		return 0, err
	}
	return id, nil
}

// toNotification converts one Observable emission into the wire
// Notification, recursively re-entering Marshal with a fresh ReplyContext
// so that emissions whose values themselves contain streams register their
// own nested ObservationIDs against the same client. The bool result
// reports whether the notification should be delivered at all: a codec
// failure on an OnNext emission's value is a per-message fault, logged and
// dropped here rather than turned into a client-visible OnError, since an
// OnError terminates the stream on arrival and a codec bug in one emission
// must not cancel the subscription for every emission after it.
func (c *Codec) toNotification(e orbit.Emission, rc *orbit.ReplyContext) (orbit.Notification, bool) {
	if e.Err != nil {
		return orbit.Notification{Kind: orbit.OnError, Err: orbit.ToErrorData(e.Err)}, true
	}
	if e.Done {
		return orbit.Notification{Kind: orbit.OnCompleted}, true
	}
	fresh := &orbit.ReplyContext{
		RequestID:     rc.RequestID,
		ClientAddress: rc.ClientAddress,
		Registry:      rc.Registry,
		Forwarder:     rc.Forwarder,
		Mint:          rc.Mint,
	}
	value, err := c.Marshal(e.Value, fresh)
	if err != nil {
		c.logger().Warn("codec: dropping emission, marshal failed", "error", err)
		return orbit.Notification{}, false
	}
	return orbit.Notification{Kind: orbit.OnNext, Value: value}, true
}
