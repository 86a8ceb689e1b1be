// Package memqueue provides an in-memory broker.Broker implementation for
// tests and for standalone operation without a real broker. It models
// addresses as named channels shared by every session, each buffering up
// to 64 messages (Send blocks while a queue's buffer is full), directly
// analogous to the direct in-memory channel pairing used for local Chirp
// peer tests.
package memqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/orbitrpc/orbit/broker"
)

// New constructs an empty in-memory broker.
func New() *Broker {
	return &Broker{queues: make(map[string]*queue)}
}

// Broker is an in-memory broker.Broker. The zero value is not usable; use
// New.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*queue
	closed bool
}

type queue struct {
	mu        sync.Mutex
	ch        chan broker.Message
	consumers int
	closed    bool
}

// NewSession implements broker.Broker.
func (b *Broker) NewSession(ctx context.Context) (broker.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memqueue: broker closed")
	}
	return &session{b: b}, nil
}

// Queues implements broker.Broker.
func (b *Broker) Queues(ctx context.Context, addressPrefix string) ([]broker.QueueInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broker.QueueInfo
	for addr, q := range b.queues {
		if len(addr) < len(addressPrefix) || addr[:len(addressPrefix)] != addressPrefix {
			continue
		}
		q.mu.Lock()
		out = append(out, broker.QueueInfo{Address: addr, ConsumerCount: q.consumers})
		q.mu.Unlock()
	}
	return out, nil
}

// DeleteQueue removes the named queue entirely, as if the client that owned
// it had torn it down. Any pending consumer on it observes a closed
// channel. Tests use this to simulate the "undeployed" reaper case.
func (b *Broker) DeleteQueue(address string) {
	b.mu.Lock()
	q, ok := b.queues[address]
	if ok {
		delete(b.queues, address)
	}
	b.mu.Unlock()
	if ok {
		q.mu.Lock()
		if !q.closed {
			q.closed = true
			close(q.ch)
		}
		q.mu.Unlock()
	}
}

func (b *Broker) queueFor(address string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[address]
	if !ok {
		q = &queue{ch: make(chan broker.Message, 64)}
		b.queues[address] = q
	}
	return q
}

type session struct {
	b      *Broker
	mu     sync.Mutex
	closed bool
}

// NewProducer implements broker.Session.
func (s *session) NewProducer() (broker.Producer, error) {
	return &producer{b: s.b}, nil
}

// NewConsumer implements broker.Session.
func (s *session) NewConsumer(address string, handler broker.Handler) (broker.Consumer, error) {
	q := s.b.queueFor(address)
	return &consumer{q: q, address: address, handler: handler, done: make(chan struct{})}, nil
}

// Close implements broker.Session.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type producer struct {
	b      *Broker
	mu     sync.Mutex
	closed bool
}

// Send implements broker.Producer.
func (p *producer) Send(ctx context.Context, address string, msg broker.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("memqueue: producer closed")
	}
	q := p.b.queueFor(address)
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("memqueue: queue %q does not exist", address)
	}
	ch := q.ch
	q.mu.Unlock()
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements broker.Producer.
func (p *producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type consumer struct {
	q       *queue
	address string
	handler broker.Handler
	done    chan struct{}
	once    sync.Once
}

// Start implements broker.Consumer.
func (c *consumer) Start() error {
	c.q.mu.Lock()
	c.q.consumers++
	ch := c.q.ch
	c.q.mu.Unlock()

	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = c.handler(context.Background(), msg)
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

// Close implements broker.Consumer.
func (c *consumer) Close() error {
	c.once.Do(func() {
		c.q.mu.Lock()
		if c.q.consumers > 0 {
			c.q.consumers--
		}
		c.q.mu.Unlock()
		close(c.done)
	})
	return nil
}
