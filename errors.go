package isamgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/isamgo/core"
	"github.com/hupe1980/isamgo/linear"
	"github.com/hupe1980/isamgo/nonlinear"
)

var (
	// ErrUnknownKey is returned when an estimate is requested for a
	// variable that was never added.
	ErrUnknownKey = errors.New("unknown variable key")

	// ErrKeyExists is returned when an initial value is supplied for a
	// variable that already has one.
	ErrKeyExists = errors.New("variable already has a value")
)

// ErrIndeterminateSystem indicates elimination could not factorize the
// system, usually because a variable is unconstrained. The update is rolled
// back as far as possible; the affected region is retried on the next call.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrIndeterminateSystem struct {
	Key   core.Key
	cause error
}

func (e *ErrIndeterminateSystem) Error() string {
	return fmt.Sprintf("indeterminate system near variable %s", e.Key)
}

func (e *ErrIndeterminateSystem) Unwrap() error { return e.cause }

// ErrLinearization indicates a factor could not be linearized, typically
// because a variable it references has no initial value.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrLinearization struct {
	Key   core.Key
	cause error
}

func (e *ErrLinearization) Error() string {
	return fmt.Sprintf("cannot linearize at variable %s", e.Key)
}

func (e *ErrLinearization) Unwrap() error { return e.cause }

// ErrInvalidRemoval indicates a factor removal named a slot that is out of
// range or already vacant.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidRemoval struct {
	Index int
	cause error
}

func (e *ErrInvalidRemoval) Error() string {
	return fmt.Sprintf("invalid factor removal at slot %d", e.Index)
}

func (e *ErrInvalidRemoval) Unwrap() error { return e.cause }

// translateError maps internal package errors onto the public error types.
func (i *ISAM) translateError(err error) error {
	if err == nil {
		return nil
	}

	var is *linear.ErrIndeterminateSystem
	if errors.As(err, &is) {
		key := core.Key(0)
		if is.Variable >= 0 && is.Variable < i.ordering.Len() {
			key = i.ordering.KeyAt(is.Variable)
		}
		return &ErrIndeterminateSystem{Key: key, cause: err}
	}
	var lin *nonlinear.ErrLinearization
	if errors.As(err, &lin) {
		return &ErrLinearization{Key: lin.Key, cause: err}
	}
	var rem *nonlinear.ErrInvalidRemoval
	if errors.As(err, &rem) {
		return &ErrInvalidRemoval{Index: rem.Index, cause: err}
	}

	return err
}
