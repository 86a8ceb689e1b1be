package sessionpool_test

import (
	"context"
	"testing"

	"github.com/orbitrpc/orbit/broker/memqueue"
	"github.com/orbitrpc/orbit/sessionpool"
)

func TestStickyClaimsForSameKeyCanSend(t *testing.T) {
	b := memqueue.New()
	p := sessionpool.New(b, 4)
	defer p.Close()

	s1, err := p.Sticky(42)
	if err != nil {
		t.Fatalf("Sticky: unexpected error: %v", err)
	}
	s2, err := p.Sticky(42)
	if err != nil {
		t.Fatalf("Sticky: unexpected error: %v", err)
	}

	// Both claims for the same key must be able to send. Which slot each
	// claim uses is not observable through the public API, so this test does
	// not check that they share one.
	ctx := context.Background()
	const addr = "RPC_CLIENT_QUEUE_PREFIX.x"
	_, err = b.NewSession(ctx) // the first Send creates the queue
	if err != nil {
		t.Fatalf("NewSession: unexpected error: %v", err)
	}
	if err := s1.Send(ctx, addr, []byte("first")); err != nil {
		t.Fatalf("Send 1: unexpected error: %v", err)
	}
	if err := s2.Send(ctx, addr, []byte("second")); err != nil {
		t.Fatalf("Send 2: unexpected error: %v", err)
	}
}

func TestAnonymousClaimsSucceed(t *testing.T) {
	b := memqueue.New()
	p := sessionpool.New(b, 3)
	defer p.Close()

	for i := 0; i < 6; i++ {
		if _, err := p.Anonymous(); err != nil {
			t.Fatalf("Anonymous claim %d: unexpected error: %v", i, err)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := memqueue.New()
	p := sessionpool.New(b, 2)
	if _, err := p.Sticky(1); err != nil {
		t.Fatalf("Sticky: unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("first Close: unexpected error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: unexpected error: %v", err)
	}
}
