// Package invariant implements the assertion mechanism for internal
// consistency failures of the layout algorithms.
//
// A failed check panics with a *Violation carrying the message and the
// goroutine stack at the point of failure. Public entry points convert the
// panic into an ordinary error with Recover so callers never see a raw panic,
// while the stack stays available for bug reports.
package invariant

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Violation describes a broken internal invariant.
type Violation struct {
	Msg   string
	Stack []byte
}

func (v *Violation) Error() string {
	return "internal inconsistency: " + v.Msg
}

// Check panics with a *Violation when cond is false.
func Check(cond bool, format string, args ...any) {
	if cond {
		return
	}
	Fail(format, args...)
}

// Fail panics with a *Violation unconditionally.
func Fail(format string, args ...any) {
	panic(&Violation{
		Msg:   fmt.Sprintf(format, args...),
		Stack: debug.Stack(),
	})
}

// Recover stores a recovered *Violation in *errp. Other panics propagate.
// It must be called directly by a deferred statement:
//
//	defer invariant.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	v, ok := r.(*Violation)
	if !ok {
		panic(r)
	}
	*errp = v
}

// As reports whether err wraps a *Violation and returns it.
func As(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
