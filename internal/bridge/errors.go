package bridge

import (
	"fmt"
)

// StagingError occurs when a record or payload cannot be placed in guest
// memory before the core runs.
type StagingError struct {
	Op   string
	What string
	Size uint32
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("%s: failed to stage %s (%d bytes): %v", e.Op, e.What, e.Size, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

// DescriptorError occurs when a buffer descriptor violates its invariants.
type DescriptorError struct {
	Op    string
	Field string
	Err   error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("%s: invalid %s descriptor: %v", e.Op, e.Field, e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

// InvocationError occurs when the core's entry point fails without a
// reported panic.
type InvocationError struct {
	Op  string
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: core invocation failed: %v", e.Op, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
