package stream_test

import (
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/orbitrpc/orbit"
	"github.com/orbitrpc/orbit/stream"
)

func collect(t *testing.T, obs orbit.Observable, want int) []orbit.Emission {
	t.Helper()
	got := make(chan orbit.Emission, want+1)
	cancel := obs.Subscribe(func(e orbit.Emission) { got <- e })
	defer cancel()

	var out []orbit.Emission
	for i := 0; i < want; i++ {
		select {
		case e := <-got:
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emission %d", i)
		}
	}
	return out
}

func TestFromSeqCompletes(t *testing.T) {
	seq := func(yield func(any, error) bool) {
		for i := 0; i < 3; i++ {
			if !yield(i, nil) {
				return
			}
		}
	}
	out := collect(t, stream.FromSeq(iter.Seq2[any, error](seq)), 4)

	for i := 0; i < 3; i++ {
		if out[i].Value != i {
			t.Errorf("emission %d: got %v, want %d", i, out[i].Value, i)
		}
	}
	if !out[3].Done {
		t.Errorf("final emission: got %+v, want Done", out[3])
	}
}

func TestFromSeqPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	seq := func(yield func(any, error) bool) {
		if !yield(1, nil) {
			return
		}
		yield(nil, wantErr)
	}
	out := collect(t, stream.FromSeq(iter.Seq2[any, error](seq)), 2)

	if out[1].Err != wantErr {
		t.Errorf("got err %v, want %v", out[1].Err, wantErr)
	}
}

func TestFromChanCompletesOnClose(t *testing.T) {
	ch := make(chan int, 2)
	ch <- 10
	ch <- 20
	close(ch)

	out := collect(t, stream.FromChan[int](ch), 3)
	if out[0].Value != 10 || out[1].Value != 20 {
		t.Errorf("got %+v, %+v, want 10, 20", out[0], out[1])
	}
	if !out[2].Done {
		t.Errorf("final emission: got %+v, want Done", out[2])
	}
}
