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

// Package gohacks contains utilities for subverting the Go compiler.
//
// Everything here reads memory the garbage collector knows nothing about.
// Callers are responsible for the addresses they pass being mapped and
// readable for as long as the returned values are used.
package gohacks

import (
	"unsafe"
)

// BytesAt returns the n bytes of memory starting at addr.
//
// addr is a raw address, typically one recorded in memory laid out for
// another program, so the checkptr instrumentation is disabled.
//
//go:nocheckptr
func BytesAt(addr uintptr, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// CStringLen returns the number of bytes before the first NUL byte at addr.
//
// If limit is positive, at most limit bytes are examined and ok is false if
// no NUL was found among them.
//
//go:nocheckptr
func CStringLen(addr uintptr, limit int) (n int, ok bool) {
	for limit <= 0 || n < limit {
		if *(*byte)(unsafe.Pointer(addr + uintptr(n))) == 0 {
			return n, true
		}
		n++
	}
	return n, false
}

// AddrOf returns the address of the first byte of b, or zero if b is empty.
func AddrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
