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
	"fmt"

	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/hostarch"
)

// AuxEntry is one slot of a parsed aux vector.
//
// The accessors here never dereference the value. See the Unsafe methods in
// layout_unsafe.go for those that do.
type AuxEntry struct {
	l    *Layout
	pair auxv.Pair
}

// Key returns the entry type.
func (e AuxEntry) Key() auxv.Key {
	return e.pair.Key
}

// Raw returns the value word as stored.
func (e AuxEntry) Raw() uint64 {
	return e.pair.Value
}

// Pair returns the slot undecoded.
func (e AuxEntry) Pair() auxv.Pair {
	return e.pair
}

// Kind returns how the value is interpreted.
func (e AuxEntry) Kind() auxv.Kind {
	return e.pair.Key.Kind()
}

// Integer returns the value of an integer entry.
func (e AuxEntry) Integer() (uint64, bool) {
	return e.pair.Value, e.Kind() == auxv.KindInteger
}

// Bool returns the value of a boolean entry.
func (e AuxEntry) Bool() (bool, bool) {
	return e.pair.Value != 0, e.Kind() == auxv.KindBool
}

// Flags returns the value of a flags entry.
func (e AuxEntry) Flags() (auxv.Flags, bool) {
	return auxv.Flags(e.pair.Value), e.Kind() == auxv.KindFlags
}

// Pointer returns the address stored in a pointer entry, or in an entry
// referencing the aux data area.
func (e AuxEntry) Pointer() (hostarch.Addr, bool) {
	switch e.Kind() {
	case auxv.KindPointer, auxv.KindBytes, auxv.KindString:
		return hostarch.Addr(e.pair.Value), true
	default:
		return 0, false
	}
}

// Var decodes an entry stored entirely in its slot. Entries referencing the
// aux data area are rejected with auxv.ErrWrongKind; use Payload or
// UnsafeVar for those.
func (e AuxEntry) Var() (auxv.Var, error) {
	return auxv.FromWord(e.pair.Key, e.pair.Value)
}

// Payload returns the data area bytes of a referenced entry as seen through
// the view of its layout, without a string's terminator. It is safe for
// layouts of any address space, and fails if the payload lies outside the
// view.
func (e AuxEntry) Payload() ([]byte, error) {
	addr, _ := e.Pointer()
	switch e.Kind() {
	case auxv.KindBytes:
		size, _ := e.Key().PayloadSize()
		return e.l.Resolve(addr, uint64(size))
	case auxv.KindString:
		return e.l.ResolveString(addr)
	default:
		return nil, fmt.Errorf("%w: %v has no payload", auxv.ErrWrongKind, e.Key())
	}
}

// PayloadVar decodes a referenced entry through the view of its layout.
func (e AuxEntry) PayloadVar() (auxv.Var, error) {
	p, err := e.Payload()
	if err != nil {
		return nil, err
	}
	return auxv.FromPayload(e.pair.Key, p)
}

// String implements fmt.Stringer.
func (e AuxEntry) String() string {
	return e.pair.String()
}
