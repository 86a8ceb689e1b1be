// Package reaper implements the reconciliation pass that reclaims
// subscriptions left behind by clients that disappeared without sending
// ObservablesClosed: a crashed client, a network partition, or a queue torn
// down out from under a live consumer. It runs on its own schedule, outside
// the request path, and only ever removes registry state — it never creates
// it.
package reaper

import (
	"context"
	"fmt"

	"github.com/orbitrpc/orbit"
	"github.com/orbitrpc/orbit/broker"
	"github.com/orbitrpc/orbit/rpclog"
)

// Reaper is the default orbit.Reconciler. The zero value is not usable;
// construct with New.
type Reaper struct {
	broker   broker.Broker
	registry orbit.Registry
	prefix   string
	log      *rpclog.Logger
}

// New constructs a Reaper that reconciles registry against b's live
// queues. addressPrefix is the common prefix of every client egress queue
// (orbit.ClientQueuePrefix in production).
func New(b broker.Broker, registry orbit.Registry, addressPrefix string, log *rpclog.Logger) *Reaper {
	if log == nil {
		log = rpclog.Default()
	}
	return &Reaper{broker: b, registry: registry, prefix: addressPrefix, log: log}
}

// RunOnce implements orbit.Reconciler. It classifies every client address
// with live registry records into one of two failure modes and invalidates
// the subscriptions belonging to it:
//
//   - undeployed: the registry names a client address with no matching
//     queue at all (the queue was deleted or never existed).
//   - abandoned: the queue exists but has zero consumers attached (the
//     client process that would read from it is gone).
//
// A client address with a live queue and at least one consumer is left
// untouched.
func (r *Reaper) RunOnce(ctx context.Context) error {
	snapshot := r.registry.Snapshot()
	if len(snapshot) == 0 {
		return nil
	}

	live, err := r.broker.Queues(ctx, r.prefix)
	if err != nil {
		return fmt.Errorf("reaper: listing live queues: %w", err)
	}
	consumersByAddress := make(map[string]int, len(live))
	for _, q := range live {
		consumersByAddress[q.Address] = q.ConsumerCount
	}

	var undeployed, abandoned []orbit.ObservationID
	for client, ids := range snapshot {
		count, deployed := consumersByAddress[string(client)]
		switch {
		case !deployed:
			undeployed = append(undeployed, ids...)
		case count == 0:
			abandoned = append(abandoned, ids...)
		}
	}

	if len(undeployed) > 0 {
		r.log.Info("reaper: invalidating subscriptions for undeployed clients", "count", len(undeployed))
		r.registry.Invalidate(undeployed)
	}
	if len(abandoned) > 0 {
		r.log.Info("reaper: invalidating subscriptions for abandoned clients", "count", len(abandoned))
		r.registry.Invalidate(abandoned)
	}
	r.registry.Cleanup()
	return nil
}
