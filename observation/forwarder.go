// Package observation implements the Observation Forwarder: the single
// strictly-ordered sink through which every Notification from every live
// stream, for every client, is sent. Serializing all sends onto one queue
// guarantees that two notifications from the same stream are delivered in
// the order they were emitted, and that a slow client cannot reorder a fast
// one's notifications relative to its own.
package observation

import (
	"context"
	"sync"

	"github.com/orbitrpc/orbit"
	"github.com/orbitrpc/orbit/rpclog"
)

// item is one queued send.
type item struct {
	originating orbit.RequestID
	id          orbit.ObservationID
	n           orbit.Notification
}

// Forwarder is the default orbit.Forwarder. The zero value is not usable;
// construct with New.
type Forwarder struct {
	registry orbit.Registry
	pool     orbit.Pool
	log      *rpclog.Logger

	queue chan item
	once  sync.Once
	done  chan struct{}
}

// New constructs a Forwarder that delivers through pool, skipping ids no
// longer present in registry. queueSize bounds how many pending
// notifications the forwarder will buffer before Enqueue blocks its caller
// (the codec's subscription callback, running on whichever goroutine the
// Observable emits from); 256 is used if queueSize is non-positive.
func New(registry orbit.Registry, pool orbit.Pool, log *rpclog.Logger, queueSize int) *Forwarder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = rpclog.Default()
	}
	f := &Forwarder{
		registry: registry,
		pool:     pool,
		log:      log,
		queue:    make(chan item, queueSize),
		done:     make(chan struct{}),
	}
	f.once.Do(func() { go f.run() })
	return f
}

// Enqueue implements orbit.Forwarder.
func (f *Forwarder) Enqueue(originating orbit.RequestID, id orbit.ObservationID, n orbit.Notification) {
	select {
	case f.queue <- item{originating: originating, id: id, n: n}:
	case <-f.done:
	}
}

// run is the forwarder's single sending goroutine. It owns ordering: items
// are sent to the broker strictly in the order Enqueue received them.
func (f *Forwarder) run() {
	for it := range f.queue {
		f.send(it)
	}
}

func (f *Forwarder) send(it item) {
	rec, ok := f.registry.Get(it.id)
	if !ok {
		return
	}
	sender, err := f.pool.Sticky(it.originating)
	if err != nil {
		f.log.Warn("observation forwarder: claiming sticky sender failed", "observation_id", it.id, "error", err)
		return
	}

	obs := orbit.Observation{ID: it.id, Notification: it.n}
	body := orbit.EncodeServerToClient(nil, &obs)
	if err := sender.Send(context.Background(), rec.Client, body); err != nil {
		terr := &orbit.TransportError{Address: string(rec.Client), Cause: err}
		f.log.Warn("observation forwarder: send failed, dropping", "observation_id", it.id, "error", terr)
		return
	}
	if it.n.Terminal() {
		f.registry.Invalidate([]orbit.ObservationID{it.id})
	}
}

// Close stops accepting further Enqueue calls. Items already queued are
// still sent by the forwarder's goroutine, but Close returns without
// waiting for them. Close is idempotent.
func (f *Forwarder) Close() {
	select {
	case <-f.done:
		return
	default:
	}
	close(f.done)
	close(f.queue)
}
