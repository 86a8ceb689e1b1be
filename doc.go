// Package orbit implements a broker-backed bidirectional RPC server.
//
// An orbit [Server] dispatches client-invoked methods onto a host object
// and multiplexes long-lived reactive observation streams back to the
// originating client over a message broker. Clients never connect directly
// to the server; every request, reply, and observation passes through
// broker-hosted queues, so the server's only transport dependency is the
// [broker.Broker] interface.
//
// # Requests and Replies
//
// A client sends an [RPCRequest] naming a method and its arguments to the
// server's well-known queue, [ServerQueueAddress]. The server resolves the
// method against a [Dispatcher] (the default implementation lives in
// package methodtable), invokes it with the decoded arguments, and sends
// back one [RPCReply] to the client's own reply queue. If the result fails
// to encode, the failure is logged and no reply is sent.
//
// # Observations
//
// A host method's result may contain, at any depth, a value implementing
// [Observable]. Encoding such a value does not encode its payload: the
// codec mints an [ObservationID], begins a subscription, and writes the id
// in the payload's place. Every later emission from that subscription
// arrives at the client as an [Observation] message, in order, until the
// stream completes, errors, or the client sends an [ObservablesClosed]
// message releasing its interest.
//
// # Construction
//
// A Server is built from a [Config] naming its broker, dispatcher, codec,
// and the components backing the Session Pool, Subscription Registry, and
// Observation Forwarder:
//
//	srv := orbit.New(orbit.Config{
//	    Broker:     myBroker,
//	    Dispatcher: methodtable.New(host),
//	    Codec:      codec.New(),
//	    Registry:   subscription.New(),
//	    Pool:       sessionpool.New(myBroker, 4),
//	    Forwarder:  observation.New(registry, pool, nil, 0),
//	    Reconciler: reaper.New(myBroker, registry, orbit.ClientQueuePrefix, nil),
//	    Resolver:   orbit.ResolveFunc(resolveUser),
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close(context.Background())
//
// The interface-typed Config fields are accepted rather than constructed
// internally so this package never imports the packages that implement
// them; each leaf package (subscription, sessionpool, observation, reaper,
// methodtable, codec) depends only on this package's exported interfaces,
// never the reverse.
package orbit
