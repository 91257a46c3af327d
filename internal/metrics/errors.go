package metrics

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is matched by every EmptyInputError via errors.Is.
var ErrEmptyInput = errors.New("empty input")

// EmptyInputError reports that one side of the comparison holds no
// entities. It is never treated as a zero-entropy success.
type EmptyInputError struct {
	Side string // "reference", "candidate" or "contingency"
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("%s partition has no entities", e.Side)
}

func (e *EmptyInputError) Is(target error) bool { return target == ErrEmptyInput }
