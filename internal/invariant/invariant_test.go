package invariant_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"evmstack/internal/invariant"
)

func guarded(cond bool) (err error) {
	defer invariant.Recover(&err)
	invariant.Check(cond, "value %d lost", 7)
	return nil
}

func TestRecoverViolation(t *testing.T) {
	if err := guarded(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := guarded(false)
	if err == nil {
		t.Fatal("expected violation")
	}
	v, ok := invariant.As(fmt.Errorf("wrapped: %w", err))
	if !ok {
		t.Fatalf("errors.As failed for %T", err)
	}
	if v.Msg != "value 7 lost" {
		t.Errorf("Msg = %q", v.Msg)
	}
	if len(v.Stack) == 0 || !strings.Contains(err.Error(), "internal inconsistency") {
		t.Errorf("missing stack or prefix: %q", err)
	}
}

func TestRecoverRepanicsForeignValues(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("foreign panic swallowed")
		}
	}()
	func() (err error) {
		defer invariant.Recover(&err)
		panic(errors.New("boom"))
	}()
}
