package orbit

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/orbitrpc/orbit/broker"
	"github.com/orbitrpc/orbit/rpclog"
)

// ServerQueueAddress is the single well-known broker address to which all
// clients send ingress messages.
const ServerQueueAddress = "RPC_SERVER_QUEUE"

// ClientQueuePrefix is the common prefix of every per-client egress
// address, used by the reaper to enumerate candidate queues.
const ClientQueuePrefix = "RPC_CLIENT_QUEUE_PREFIX."

// Config collects every dependency and tunable the Server needs. The
// interface-typed fields are deliberately accepted rather than constructed
// internally, so this package never imports the packages that implement
// them; wiring concrete implementations together is the job of the caller
// (typically cmd/orbitd, or a test).
type Config struct {
	Broker     broker.Broker
	Dispatcher Dispatcher
	Codec      Codec
	Registry   Registry
	Pool       Pool
	Forwarder  Forwarder
	Resolver   UserResolver
	Reconciler Reconciler
	Logger     *rpclog.Logger

	// LegalName is the server's own validated-user identity; a validated
	// user equal to this name that has no RPC user record is substituted
	// with NodePrincipal instead of failing authorization.
	LegalName string

	RPCThreadPoolSize int
	ConsumerPoolSize  int
	ReapInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.RPCThreadPoolSize <= 0 {
		c.RPCThreadPoolSize = 4
	}
	if c.ConsumerPoolSize <= 0 {
		c.ConsumerPoolSize = 1
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = rpclog.Default()
	}
	return c
}

// A Server dispatches RPC requests onto a host object and forwards
// observation streams over a broker. A zero Server is not usable; construct
// one with New.
type Server struct {
	cfg Config
	ids idGenerator

	μ       sync.Mutex
	started bool
	closed  bool

	sessions  []broker.Session
	consumers []broker.Consumer

	dispatch *taskgroup.Group
	admit    chan struct{} // bounds dispatch concurrency to RPCThreadPoolSize

	reapStop chan struct{}
	reapDone chan struct{}

	metrics *serverMetrics
}

// New constructs an unstarted Server from cfg. It does not open any broker
// sessions; call Start to do that.
func New(cfg Config) *Server {
	return &Server{cfg: cfg.withDefaults(), metrics: newServerMetrics()}
}

// Metrics returns the server's activity counters.
func (s *Server) Metrics() *expvar.Map { return s.metrics.emap }

// dispatchRun submits task to the dispatcher pool, blocking the calling
// ingress consumer goroutine until a slot of capacity RPCThreadPoolSize is
// available. This is the dispatcher's admission control: once a slot is
// claimed, task runs on its own goroutine and the consumer goroutine
// returns to receiving the next message immediately.
func (s *Server) dispatchRun(task func() error) {
	s.admit <- struct{}{}
	s.dispatch.Go(func() error {
		defer func() { <-s.admit }()
		return task()
	})
}

// Start opens consumerPoolSize ingress consumers bound to ServerQueueAddress
// and begins the reaper on its own ticking goroutine. Start does not block.
func (s *Server) Start(ctx context.Context) error {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.started {
		panic("server is already started")
	}
	s.started = true

	s.dispatch = taskgroup.New(nil)
	s.admit = make(chan struct{}, s.cfg.RPCThreadPoolSize)

	for i := 0; i < s.cfg.ConsumerPoolSize; i++ {
		sess, err := s.cfg.Broker.NewSession(ctx)
		if err != nil {
			return fmt.Errorf("ingress consumer %d: new session: %w", i, err)
		}
		cons, err := sess.NewConsumer(ServerQueueAddress, s.handleIngress)
		if err != nil {
			sess.Close()
			return fmt.Errorf("ingress consumer %d: new consumer: %w", i, err)
		}
		if err := cons.Start(); err != nil {
			cons.Close()
			sess.Close()
			return fmt.Errorf("ingress consumer %d: start: %w", i, err)
		}
		s.sessions = append(s.sessions, sess)
		s.consumers = append(s.consumers, cons)
	}

	s.reapStop = make(chan struct{})
	s.reapDone = make(chan struct{})
	go s.runReaper(ctx)

	return nil
}

// runReaper drives the Reconciler at the configured interval until Close
// signals reapStop. It is the single-thread scheduled executor referenced
// by the lifecycle design.
func (s *Server) runReaper(ctx context.Context) {
	defer close(s.reapDone)
	t := time.NewTicker(s.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.cfg.Reconciler.RunOnce(ctx); err != nil {
				s.cfg.Logger.Warn("reap pass failed", "error", err)
			} else {
				s.metrics.reapsRun.Add(1)
			}
		case <-s.reapStop:
			return
		}
	}
}

// handleIngress is the broker.Handler bound to every ingress consumer. Per
// the lifecycle contract, messages are ACKed (by returning nil) as soon as
// their processing has been scheduled, not once it has completed.
func (s *Server) handleIngress(ctx context.Context, msg broker.Message) error {
	s.μ.Lock()
	closed := s.closed
	s.μ.Unlock()
	if closed {
		return nil // silently drop: closed but not yet fully torn down
	}

	req, closedMsg, err := DecodeClientToServer(msg.Body)
	if err != nil {
		s.cfg.Logger.Warn("dropping undecodable ingress message", "error", err)
		return nil
	}

	if closedMsg != nil {
		s.metrics.observablesClosedIn.Add(1)
		s.cfg.Registry.Invalidate(closedMsg.IDs)
		return nil
	}

	validatedUser := msg.ValidatedUser
	s.dispatchRun(func() error {
		s.dispatchRequest(ctx, *req, validatedUser)
		return nil
	})
	return nil
}

// dispatchRequest resolves the caller, invokes the host method, and sends
// at most one reply. Resolver, protocol and host-method errors become the
// reply's error rather than propagating; a SerializationError (the result
// failed to encode) is logged and no reply is sent.
func (s *Server) dispatchRequest(ctx context.Context, req RPCRequest, validatedUser string) {
	s.metrics.requestsReceived.Add(1)

	principal, err := s.resolvePrincipal(ctx, validatedUser)
	if err != nil {
		s.sendReply(ctx, req, nil, toErrorData(err))
		return
	}

	callCtx := withCaller(ctx, principal)
	rc := &ReplyContext{
		RequestID:     req.ID,
		ClientAddress: req.ReplyTo,
		Registry:      s.cfg.Registry,
		Forwarder:     s.cfg.Forwarder,
		Mint:          s.ids.mint,
	}

	result, err := s.invokeSafely(callCtx, rc, req)
	if err != nil {
		s.metrics.requestsFailed.Add(1)
		var serr *SerializationError
		if errors.As(err, &serr) {
			// Infrastructure fault, not a host-method error: log and drop
			// rather than surface it as a reply the caller never sent a
			// request expecting to fail.
			s.cfg.Logger.Warn("dropping reply, result failed to encode", "request_id", req.ID, "error", serr)
			return
		}
		s.sendReply(ctx, req, nil, toErrorData(err))
		return
	}
	s.sendReply(ctx, req, result, nil)
}

// invokeSafely calls the dispatcher and recovers any panic out of host
// code, turning it into an InvocationError, matching the recovered-panic
// treatment the dispatcher's executor gives method handlers.
func (s *Server) invokeSafely(ctx context.Context, rc *ReplyContext, req RPCRequest) (result []byte, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = &InvocationError{Cause: fmt.Errorf("handler panicked (recovered): %v", x)}
		}
	}()
	return s.cfg.Dispatcher.Invoke(ctx, s.cfg.Codec, rc, req.Method, req.Args)
}

// resolvePrincipal resolves validatedUser to a UserPrincipal, substituting
// NodePrincipal when the validated name matches the server's own legal
// identity and no RPC user record exists.
func (s *Server) resolvePrincipal(ctx context.Context, validatedUser string) (UserPrincipal, error) {
	if validatedUser == "" {
		return UserPrincipal{}, &ProtocolError{Message: "missing validated-user header"}
	}
	p, err := s.cfg.Resolver.Resolve(ctx, validatedUser)
	if err == nil {
		return p, nil
	}
	if err == ErrUnknownUser && validatedUser == s.cfg.LegalName {
		return NodePrincipal, nil
	}
	if err == ErrUnknownUser {
		return UserPrincipal{}, &AuthorizationError{Message: fmt.Sprintf("unrecognized user %q", validatedUser)}
	}
	return UserPrincipal{}, fmt.Errorf("resolving user %q: %w", validatedUser, err)
}

// sendReply builds and sends the RPCReply for req using a sticky claim
// keyed by req.ID, so the reply and any observations it spawns share the
// same session pair.
func (s *Server) sendReply(ctx context.Context, req RPCRequest, result []byte, errData *ErrorData) {
	rsp := RPCReply{ID: req.ID, OK: errData == nil, Result: result, Err: errData}
	sender, err := s.cfg.Pool.Sticky(req.ID)
	if err != nil {
		s.cfg.Logger.Error("claiming sticky session failed", "request_id", req.ID, "error", err)
		return
	}
	body := EncodeServerToClient(&rsp, nil)
	if err := sender.Send(ctx, req.ReplyTo, body); err != nil {
		terr := &TransportError{Address: string(req.ReplyTo), Cause: err}
		s.cfg.Logger.Warn("transport error sending reply", "request_id", req.ID, "error", terr)
	}
}

// Close cancels the reaper, runs one final reaping pass, drains the
// dispatcher, closes every ingress consumer and session, and drains the
// Session Pool. Close is idempotent.
func (s *Server) Close(ctx context.Context) error {
	s.μ.Lock()
	if s.closed {
		s.μ.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.μ.Unlock()

	if !started {
		return nil
	}

	close(s.reapStop)
	select {
	case <-s.reapDone:
	case <-time.After(500 * time.Millisecond):
	}
	s.cfg.Registry.InvalidateAll()
	s.cfg.Registry.Cleanup()

	done := make(chan struct{})
	go func() { s.dispatch.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}

	for _, c := range s.consumers {
		c.Close()
	}
	for _, sess := range s.sessions {
		sess.Close()
	}

	if err := s.cfg.Pool.Close(); err != nil {
		return fmt.Errorf("closing session pool: %w", err)
	}
	return nil
}
