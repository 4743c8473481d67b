// Package invariant turns broken simulator invariants into assertion-failure
// panics and back into errors at the goroutine boundary.
package invariant

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Failf panics with an assertion failure.
func Failf(format string, args ...interface{}) {
	panic(errors.AssertionFailedWithDepthf(1, format, args...))
}

// Fail panics with err marked as an assertion failure.
func Fail(err error) {
	panic(errors.WithAssertionFailure(err))
}

// Check panics with an assertion failure when cond is false.
func Check(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.AssertionFailedWithDepthf(1, format, args...))
	}
}

// Recover converts a panic into an error stored in *errp. It must be
// deferred directly. Panics that are not errors are wrapped as assertion
// failures too, since nothing in the simulator panics on purpose otherwise.
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if err, ok := r.(error); ok {
		if !errors.IsAssertionFailure(err) {
			err = errors.WithAssertionFailure(err)
		}
		*errp = err
		return
	}
	*errp = errors.AssertionFailedf("panic: %s", fmt.Sprint(r))
}
