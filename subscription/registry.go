// Package subscription implements the Subscription Registry: the single
// piece of cross-goroutine mutable state in this server. It maps an
// ObservationID to the client address it must be delivered to and a
// cancel-handle that must be invoked exactly once when the id is removed,
// by any path.
package subscription

import (
	"sync"

	"github.com/orbitrpc/orbit"
)

// Registry is a concurrent map of ObservationID to orbit.Record with a
// removal-listener invariant: every removal path — explicit invalidate,
// bulk invalidate, or Close — synchronously invokes the record's
// cancel-handle exactly once.
//
// The zero value is not ready for use; construct with New.
type Registry struct {
	mu      sync.Mutex
	records map[orbit.ObservationID]orbit.Record
	closed  bool
}

// New constructs an empty, open Registry.
func New() *Registry {
	return &Registry{records: make(map[orbit.ObservationID]orbit.Record)}
}

// Insert adds a new record for id. It reports an error if id is already
// present or the registry is closed.
func (r *Registry) Insert(id orbit.ObservationID, rec orbit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return orbit.ErrClosed
	}
	if _, ok := r.records[id]; ok {
		return &orbit.LifecycleError{Message: "observation id already registered"}
	}
	r.records[id] = rec
	return nil
}

// Invalidate removes the records for the given ids, if present, invoking
// each one's cancel-handle exactly once. Ids that are not present are
// silently ignored, so repeated or overlapping calls are safe.
func (r *Registry) Invalidate(ids []orbit.ObservationID) {
	r.mu.Lock()
	removed := make([]orbit.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.records[id]; ok {
			delete(r.records, id)
			removed = append(removed, rec)
		}
	}
	r.mu.Unlock()

	for _, rec := range removed {
		if rec.Cancel != nil {
			rec.Cancel()
		}
	}
}

// InvalidateAll removes every record currently present, invoking each
// cancel-handle exactly once. It is used on shutdown and by the reaper's
// final pass.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	removed := make([]orbit.Record, 0, len(r.records))
	for id, rec := range r.records {
		delete(r.records, id)
		removed = append(removed, rec)
	}
	r.mu.Unlock()

	for _, rec := range removed {
		if rec.Cancel != nil {
			rec.Cancel()
		}
	}
}

// Has reports whether id currently has a live record. It is intended for
// use by an observation sender that needs to skip emissions for a
// subscription that has already been cancelled.
func (r *Registry) Has(id orbit.ObservationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

// Get returns the record for id, if one is currently live.
func (r *Registry) Get(id orbit.ObservationID) (orbit.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Snapshot returns a consistent, point-in-time view of every live record,
// grouped by client address, for the reaper's reconciliation pass. It is
// weakly consistent with respect to concurrent mutation: it reflects some
// serial order of inserts and removals, not necessarily the latest one by
// the time the caller inspects it.
func (r *Registry) Snapshot() map[orbit.ClientAddress][]orbit.ObservationID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[orbit.ClientAddress][]orbit.ObservationID)
	for id, rec := range r.records {
		out[rec.Client] = append(out[rec.Client], id)
	}
	return out
}

// Cleanup is advisory; this implementation has no deferred-removal queue to
// drain, so it is a no-op. It exists to satisfy the documented contract
// that callers may invoke it after a bulk invalidation pass.
func (r *Registry) Cleanup() {}

// Len reports the number of records currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Close invalidates every remaining record and marks the registry closed;
// further Insert calls report orbit.ErrClosed. Close is idempotent.
func (r *Registry) Close() {
	r.InvalidateAll()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
