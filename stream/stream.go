// Package stream provides helpers for turning ordinary Go value sources —
// iterators and channels — into orbit.Observable values a host method can
// return.
package stream

import (
	"iter"
	"sync"

	"github.com/orbitrpc/orbit"
)

// FromSeq adapts a Go 1.23 iter.Seq2 iterator into an orbit.Observable. The
// iterator is pulled on its own goroutine starting at Subscribe time; a
// non-nil error from the iterator ends the stream with OnError, otherwise
// exhausting the iterator ends it with OnCompleted.
func FromSeq(seq iter.Seq2[any, error]) orbit.Observable { return seqObservable{seq} }

type seqObservable struct{ seq iter.Seq2[any, error] }

// Subscribe implements orbit.Observable.
func (s seqObservable) Subscribe(sink func(orbit.Emission)) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once
	cancel = func() { once.Do(func() { close(stop) }) }

	go func() {
		for v, err := range s.seq {
			select {
			case <-stop:
				return
			default:
			}
			if err != nil {
				sink(orbit.Emission{Err: err})
				return
			}
			sink(orbit.Emission{Value: v})
		}
		sink(orbit.Emission{Done: true})
	}()
	return cancel
}

// FromChan adapts a receive-only channel into an orbit.Observable. The
// stream completes normally when ch is closed. There is no way to signal an
// error through a bare channel; use FromSeq for sources that can fail.
func FromChan[T any](ch <-chan T) orbit.Observable { return chanObservable[T]{ch} }

type chanObservable[T any] struct{ ch <-chan T }

// Subscribe implements orbit.Observable.
func (s chanObservable[T]) Subscribe(sink func(orbit.Emission)) (cancel func()) {
	stop := make(chan struct{})
	var once sync.Once
	cancel = func() { once.Do(func() { close(stop) }) }

	go func() {
		for {
			select {
			case v, ok := <-s.ch:
				if !ok {
					sink(orbit.Emission{Done: true})
					return
				}
				sink(orbit.Emission{Value: v})
			case <-stop:
				return
			}
		}
	}()
	return cancel
}
