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
	"iter"

	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/gohacks"
	"initstack.dev/initstack/pkg/hostarch"
)

// mustBeLocal panics with ErrForeignAddressSpace unless the layout's
// pointers are valid in the current address space.
func (l *Layout) mustBeLocal(op string) {
	if !l.SameAddressSpace() {
		panic(fmt.Errorf("%s: %w: target %v, buffer at %#x", op, ErrForeignAddressSpace, l.target, gohacks.AddrOf(l.buf)))
	}
}

// unsafeBytes returns n bytes at addr. Addresses within the view are read
// from the buffer, all others straight from memory.
func (l *Layout) unsafeBytes(addr hostarch.Addr, n uint64) []byte {
	if b, err := l.Resolve(addr, n); err == nil {
		return b
	}
	return gohacks.BytesAt(uintptr(addr), int(n))
}

// unsafeCString returns the NUL terminated string at addr, without its
// terminator.
func (l *Layout) unsafeCString(addr hostarch.Addr) []byte {
	if b, err := l.ResolveString(addr); err == nil {
		return b
	}
	n, _ := gohacks.CStringLen(uintptr(addr), 0)
	return gohacks.BytesAt(uintptr(addr), n)
}

func (l *Layout) unsafeStrings(ptrs iter.Seq[hostarch.Addr]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for p := range ptrs {
			if !yield(string(l.unsafeCString(p))) {
				return
			}
		}
	}
}

// UnsafeArgs returns the argument strings.
//
// Preconditions: SameAddressSpace() is true. UnsafeArgs panics with
// ErrForeignAddressSpace otherwise.
func (l *Layout) UnsafeArgs() iter.Seq[string] {
	l.mustBeLocal("UnsafeArgs")
	return l.unsafeStrings(l.ArgPtrs())
}

// UnsafeEnvs returns the environment strings.
//
// Preconditions: SameAddressSpace() is true. UnsafeEnvs panics with
// ErrForeignAddressSpace otherwise.
func (l *Layout) UnsafeEnvs() iter.Seq[string] {
	l.mustBeLocal("UnsafeEnvs")
	return l.unsafeStrings(l.EnvPtrs())
}

// UnsafeBytes dereferences a referenced entry and returns its payload,
// without a string's terminator. It returns nil for entries that do not
// reference the aux data area. The result may alias the layout's buffer.
//
// Preconditions: the layout's SameAddressSpace() is true. UnsafeBytes
// panics with ErrForeignAddressSpace otherwise.
func (e AuxEntry) UnsafeBytes() []byte {
	e.l.mustBeLocal("UnsafeBytes")
	addr := hostarch.Addr(e.pair.Value)
	switch e.Kind() {
	case auxv.KindBytes:
		size, _ := e.Key().PayloadSize()
		return e.l.unsafeBytes(addr, uint64(size))
	case auxv.KindString:
		return e.l.unsafeCString(addr)
	default:
		return nil
	}
}

// UnsafeString is UnsafeBytes as a string.
func (e AuxEntry) UnsafeString() string {
	return string(e.UnsafeBytes())
}

// UnsafeVar decodes any known entry, dereferencing referenced ones.
//
// Preconditions: the layout's SameAddressSpace() is true. UnsafeVar panics
// with ErrForeignAddressSpace otherwise.
func (e AuxEntry) UnsafeVar() (auxv.Var, error) {
	e.l.mustBeLocal("UnsafeVar")
	if !e.Kind().Referenced() {
		return e.Var()
	}
	return auxv.FromPayload(e.pair.Key, e.UnsafeBytes())
}
