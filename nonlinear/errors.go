package nonlinear

import (
	"fmt"

	"github.com/hupe1980/isamgo/core"
)

// ErrLinearization indicates a factor could not be linearized, typically
// because one of its variables has no initial value.
type ErrLinearization struct {
	Key core.Key
	Err error
}

func (e *ErrLinearization) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("linearize at variable %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("linearize at variable %s: no value for variable", e.Key)
}

func (e *ErrLinearization) Unwrap() error { return e.Err }

// ErrInvalidRemoval indicates a factor removal referenced a slot that is out
// of range or already vacant.
type ErrInvalidRemoval struct {
	Index int
}

func (e *ErrInvalidRemoval) Error() string {
	return fmt.Sprintf("invalid factor removal at slot %d", e.Index)
}
