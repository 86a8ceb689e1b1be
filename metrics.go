package orbit

import "expvar"

// serverMetrics record server activity counters, directly modeled on the
// Chirp peer's own metrics map. Only events the Server package itself
// observes are counted here; per-subscription and per-send events, which
// happen in the registry and forwarder packages, are not counted.
type serverMetrics struct {
	requestsReceived    expvar.Int
	requestsFailed      expvar.Int
	observablesClosedIn expvar.Int
	reapsRun            expvar.Int

	emap *expvar.Map
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{emap: new(expvar.Map)}
	m.emap.Set("requests_received", &m.requestsReceived)
	m.emap.Set("requests_failed", &m.requestsFailed)
	m.emap.Set("observables_closed_in", &m.observablesClosedIn)
	m.emap.Set("reaps_run", &m.reapsRun)
	return m
}
