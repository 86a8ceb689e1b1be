package methodtable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/orbitrpc/orbit"
	"github.com/orbitrpc/orbit/codec"
	"github.com/orbitrpc/orbit/methodtable"
)

type echoHost struct{}

func (echoHost) Echo(ctx context.Context, msg string) (string, error) { return msg, nil }

func (echoHost) Fail(ctx context.Context, _ struct{}) (string, error) {
	return "", errors.New("boom")
}

// NotEligible has the wrong number of results and must be skipped.
func (echoHost) NotEligible(ctx context.Context, _ struct{}) string { return "" }

func TestInvokeKnownMethod(t *testing.T) {
	tbl := methodtable.New(echoHost{})
	c := codec.New()

	args, err := c.Marshal("hello", nil)
	if err != nil {
		t.Fatalf("Marshal args: unexpected error: %v", err)
	}
	rc := &orbit.ReplyContext{}
	result, err := tbl.Invoke(context.Background(), c, rc, "Echo", args)
	if err != nil {
		t.Fatalf("Invoke: unexpected error: %v", err)
	}
	var got string
	if err := c.Unmarshal(result, &got); err != nil {
		t.Fatalf("Unmarshal result: unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestInvokeUnknownMethod(t *testing.T) {
	tbl := methodtable.New(echoHost{})
	c := codec.New()
	_, err := tbl.Invoke(context.Background(), c, &orbit.ReplyContext{}, "Nonesuch", nil)
	if err == nil {
		t.Fatalf("Invoke: got nil error, want error")
	}
	var pe *orbit.ProtocolError
	if !errors.As(err, &pe) {
		t.Errorf("Invoke error: got %T, want *orbit.ProtocolError", err)
	}
}

func TestInvokeHostError(t *testing.T) {
	tbl := methodtable.New(echoHost{})
	c := codec.New()
	args, _ := c.Marshal(struct{}{}, nil)
	_, err := tbl.Invoke(context.Background(), c, &orbit.ReplyContext{}, "Fail", args)
	if err == nil {
		t.Fatalf("Invoke: got nil error, want error")
	}
	var ie *orbit.InvocationError
	if !errors.As(err, &ie) {
		t.Errorf("Invoke error: got %T, want *orbit.InvocationError", err)
	}
}

func TestNotEligibleMethodIsSkipped(t *testing.T) {
	tbl := methodtable.New(echoHost{})
	for _, name := range tbl.Names() {
		if name == "NotEligible" {
			t.Errorf("NotEligible was registered, want it skipped")
		}
	}
}

func TestWithNameOverride(t *testing.T) {
	tbl := methodtable.New(echoHost{}, methodtable.WithName("Echo", "echo"))
	c := codec.New()
	args, _ := c.Marshal("hi", nil)
	if _, err := tbl.Invoke(context.Background(), c, &orbit.ReplyContext{}, "echo", args); err != nil {
		t.Fatalf("Invoke renamed method: unexpected error: %v", err)
	}
	if _, err := tbl.Invoke(context.Background(), c, &orbit.ReplyContext{}, "Echo", args); err == nil {
		t.Errorf("Invoke original name after rename: got nil error, want error")
	}
}

func TestWithExcluded(t *testing.T) {
	tbl := methodtable.New(echoHost{}, methodtable.WithExcluded("Echo"))
	for _, name := range tbl.Names() {
		if name == "Echo" {
			t.Errorf("Echo was registered despite WithExcluded")
		}
	}
}
