// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stack

import (
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer is wrapped by *ErrBufferTooSmall.
	ErrShortBuffer = errors.New("buffer too small for stack layout")

	// ErrAddressOverflow indicates that a layout placed at the given target
	// would extend past the end of the target's address space.
	ErrAddressOverflow = errors.New("stack layout overflows the address space")

	// ErrValueOverflow indicates that a value does not fit in a target word.
	ErrValueOverflow = errors.New("value does not fit in a word")

	// ErrEmbeddedNUL indicates a string with a NUL byte before its end.
	ErrEmbeddedNUL = errors.New("string contains an embedded NUL byte")

	// ErrEnvSyntax indicates an environment string that is not KEY=value
	// or has an empty KEY.
	ErrEnvSyntax = errors.New("environment string is not KEY=value")

	// ErrExplicitNull is returned when a caller adds AT_NULL. The builder
	// terminates the vector itself.
	ErrExplicitNull = errors.New("AT_NULL is added by the builder")

	// ErrNilVar is returned by AddAux for a nil entry.
	ErrNilVar = errors.New("nil auxiliary vector entry")

	// ErrForeignAddressSpace is the value Unsafe accessors panic with when
	// the layout does not target the address space it is read from.
	ErrForeignAddressSpace = errors.New("stack layout targets a foreign address space")

	// ErrOutOfView indicates an address outside of the parsed buffer.
	ErrOutOfView = errors.New("address is outside of the stack layout")

	// ErrMalformed is wrapped by *ValidationError.
	ErrMalformed = errors.New("malformed stack layout")
)

// ErrBufferTooSmall is returned by Serialize when the destination cannot hold
// the layout. Nothing is written in that case.
type ErrBufferTooSmall struct {
	Need int
	Have int
}

// Error implements error.Error.
func (e *ErrBufferTooSmall) Error() string {
	return fmt.Sprintf("%v: need %d bytes, have %d", ErrShortBuffer, e.Need, e.Have)
}

// Unwrap returns ErrShortBuffer.
func (e *ErrBufferTooSmall) Unwrap() error {
	return ErrShortBuffer
}

// ValidationError describes the first inconsistency Validate found.
type ValidationError struct {
	// Offset is the position in the layout where the problem was found.
	Offset uint64

	// Reason describes the problem.
	Reason string
}

// Error implements error.Error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v at offset %#x: %s", ErrMalformed, e.Offset, e.Reason)
}

// Unwrap returns ErrMalformed.
func (e *ValidationError) Unwrap() error {
	return ErrMalformed
}

func invalid(off uint64, format string, v ...any) error {
	return &ValidationError{Offset: off, Reason: fmt.Sprintf(format, v...)}
}
