// Package sessionpool implements the Session Pool: a small, fixed-size set
// of broker (session, producer) pairs shared by every reply and observation
// the server sends. Slots are claimed either "sticky" — by hashing a
// RequestID, so a reply and every observation it later spawns travel through
// the same producer — or anonymously (round-robin), for callers with no
// ordering requirement.
package sessionpool

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orbitrpc/orbit"
	"github.com/orbitrpc/orbit/broker"
)

// Pool is a fixed-size, lazily-initialized set of broker sessions. The zero
// value is not usable; construct with New.
type Pool struct {
	b     broker.Broker
	slots []slot
	next  uint64 // round-robin cursor for Anonymous

	mu     sync.Mutex
	closed bool
}

type slot struct {
	mu   sync.Mutex
	once sync.Once

	sess broker.Session
	prod broker.Producer
	err  error
}

// New constructs a Pool of the given size backed by b. A size below 1 is
// treated as 1. No broker sessions are opened until a slot is first claimed.
func New(b broker.Broker, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{b: b, slots: make([]slot, size)}
}

// Sticky implements orbit.Pool.
func (p *Pool) Sticky(key orbit.RequestID) (orbit.Sender, error) {
	i := p.slotFor(key)
	return p.claim(i)
}

// Anonymous implements orbit.Pool.
func (p *Pool) Anonymous() (orbit.Sender, error) {
	p.mu.Lock()
	i := int(p.next % uint64(len(p.slots)))
	p.next++
	p.mu.Unlock()
	return p.claim(i)
}

// slotFor hashes key onto one of the pool's slots. The hash need not be
// cryptographic; it only needs to distribute RequestIDs evenly and
// deterministically across a small, fixed slot count.
func (p *Pool) slotFor(key orbit.RequestID) int {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d", key)
	return int(h.Sum64() % uint64(len(p.slots)))
}

// claim lazily opens the session and producer for slot i, on first use, and
// returns a Sender bound to that slot's producer.
func (p *Pool) claim(i int) (orbit.Sender, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, orbit.ErrClosed
	}

	s := &p.slots[i]
	s.once.Do(func() {
		sess, err := p.b.NewSession(context.Background())
		if err != nil {
			s.err = fmt.Errorf("sessionpool: opening session %d: %w", i, err)
			return
		}
		prod, err := sess.NewProducer()
		if err != nil {
			sess.Close()
			s.err = fmt.Errorf("sessionpool: opening producer %d: %w", i, err)
			return
		}
		s.sess, s.prod = sess, prod
	})
	if s.err != nil {
		return nil, s.err
	}
	return &sender{s: s}, nil
}

// Close closes every slot that was ever claimed, concurrently, returning the
// first error encountered (if any) after every slot has had a chance to
// close.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var g errgroup.Group
	for i := range p.slots {
		s := &p.slots[i]
		g.Go(func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.prod == nil {
				return nil
			}
			if err := s.prod.Close(); err != nil {
				return err
			}
			return s.sess.Close()
		})
	}
	return g.Wait()
}

// sender is the orbit.Sender handed out by a claim; it serializes sends
// against its own slot so two goroutines racing to use the same sticky slot
// cannot interleave their writes.
type sender struct{ s *slot }

// Send implements orbit.Sender.
func (s *sender) Send(ctx context.Context, address orbit.ClientAddress, body []byte) error {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	return s.s.prod.Send(ctx, string(address), broker.Message{Body: body})
}
