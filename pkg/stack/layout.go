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
	"bytes"
	"fmt"
	"iter"
	"time"

	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/binary"
	"initstack.dev/initstack/pkg/gohacks"
	"initstack.dev/initstack/pkg/hostarch"
	"initstack.dev/initstack/pkg/log"
)

// truncatedLog reports arrays that run off the end of a buffer without a
// sentinel. Parsing a damaged image walks the same array repeatedly, so the
// warning is rate limited.
var truncatedLog = log.BasicRateLimitedLogger(time.Minute)

// Layout is a read-only view of a serialized layout.
//
// A Layout never modifies or retains more than the buffer it was created
// from, and may be used from multiple goroutines concurrently.
type Layout struct {
	buf    []byte
	arch   arch.Arch
	order  binary.ByteOrder
	width  uint64
	target hostarch.Addr
}

// Parse returns a view of buf for a layout that was serialized with the
// address of buf as its target, i.e. for the current address space.
func Parse(buf []byte, a arch.Arch) *Layout {
	return ParseAt(buf, a, hostarch.Addr(gohacks.AddrOf(buf)))
}

// ParseAt returns a view of buf for a layout that was serialized for target.
//
// If target is not the address of buf, the layout belongs to a foreign
// address space and the Unsafe accessors must not be used.
func ParseAt(buf []byte, a arch.Arch, target hostarch.Addr) *Layout {
	return &Layout{
		buf:    buf,
		arch:   a,
		order:  a.ByteOrder(),
		width:  uint64(a.Width()),
		target: target,
	}
}

// SameAddressSpace returns true if the layout targets the address of its
// buffer, so that its pointers may be dereferenced.
func (l *Layout) SameAddressSpace() bool {
	return len(l.buf) > 0 && l.target == hostarch.Addr(gohacks.AddrOf(l.buf))
}

// Target returns the address the layout was serialized for.
func (l *Layout) Target() hostarch.Addr {
	return l.target
}

// Arch returns the architecture of the layout.
func (l *Layout) Arch() arch.Arch {
	return l.arch
}

// Bytes returns the buffer backing the view.
func (l *Layout) Bytes() []byte {
	return l.buf
}

// word returns the word at off. ok is false if it is not within the view.
func (l *Layout) word(off uint64) (v uint64, ok bool) {
	if off > uint64(len(l.buf)) || uint64(len(l.buf))-off < l.width {
		return 0, false
	}
	return binary.Word[uint64](l.buf[off:], l.order, uint(l.width)), true
}

// Argc returns the argument count, or zero if the buffer cannot hold it.
func (l *Layout) Argc() uint64 {
	argc, _ := l.word(0)
	return argc
}

// walk calls yield with the offset of every slot of the array starting at
// off, up to but excluding the sentinel slot, whose key word is zero.
//
// It returns the offset of the slot following the sentinel. ok is false if
// the view ended first or yield returned false.
func (l *Layout) walk(name string, off, stride uint64, yield func(off uint64) bool) (next uint64, ok bool) {
	for {
		v, inView := l.word(off)
		if !inView || uint64(len(l.buf))-off < stride {
			truncatedLog.Warningf("Stack layout at %v: %s is not terminated within %d bytes", l.target, name, len(l.buf))
			return off, false
		}
		if v == 0 {
			return off + stride, true
		}
		if yield != nil && !yield(off) {
			return off, false
		}
		off += stride
	}
}

// envpOffset returns the offset of the envp array.
func (l *Layout) envpOffset() (uint64, bool) {
	return l.walk("argv", l.width, l.width, nil)
}

// auxvOffset returns the offset of the aux vector.
func (l *Layout) auxvOffset() (uint64, bool) {
	envp, ok := l.envpOffset()
	if !ok {
		return 0, false
	}
	return l.walk("envp", envp, l.width, nil)
}

func (l *Layout) pointers(name string, start func() (uint64, bool)) iter.Seq[hostarch.Addr] {
	return func(yield func(hostarch.Addr) bool) {
		off, ok := start()
		if !ok {
			return
		}
		l.walk(name, off, l.width, func(off uint64) bool {
			v, _ := l.word(off)
			return yield(hostarch.Addr(v))
		})
	}
}

// ArgPtrs returns the argv pointers, excluding the NULL sentinel. The
// pointers are not dereferenced.
func (l *Layout) ArgPtrs() iter.Seq[hostarch.Addr] {
	return l.pointers("argv", func() (uint64, bool) { return l.width, true })
}

// EnvPtrs returns the envp pointers, excluding the NULL sentinel. The
// pointers are not dereferenced.
func (l *Layout) EnvPtrs() iter.Seq[hostarch.Addr] {
	return l.pointers("envp", l.envpOffset)
}

// Envc returns the number of environment strings.
func (l *Layout) Envc() uint64 {
	return count(l.EnvPtrs())
}

// AuxRaw returns the aux vector slots, including the AT_NULL terminator.
func (l *Layout) AuxRaw() iter.Seq[auxv.Pair] {
	return func(yield func(auxv.Pair) bool) {
		off, ok := l.auxvOffset()
		if !ok {
			return
		}
		pair := func(off uint64) auxv.Pair {
			k, _ := l.word(off)
			v, _ := l.word(off + l.width)
			return auxv.Pair{Key: auxv.Key(k), Value: v}
		}
		end, ok := l.walk("auxv", off, 2*l.width, func(off uint64) bool {
			return yield(pair(off))
		})
		if ok {
			yield(pair(end - 2*l.width))
		}
	}
}

// Aux returns the decoded aux vector entries, including the AT_NULL
// terminator. The values are not dereferenced.
func (l *Layout) Aux() iter.Seq[AuxEntry] {
	return func(yield func(AuxEntry) bool) {
		for p := range l.AuxRaw() {
			if !yield(AuxEntry{l: l, pair: p}) {
				return
			}
		}
	}
}

// Auxc returns the number of aux vector entries, excluding AT_NULL.
func (l *Layout) Auxc() uint64 {
	var n uint64
	for p := range l.AuxRaw() {
		if p.Key != 0 {
			n++
		}
	}
	return n
}

func count[T any](seq iter.Seq[T]) uint64 {
	var n uint64
	for range seq {
		n++
	}
	return n
}

// View returns the target address range covered by the buffer.
func (l *Layout) View() hostarch.AddrRange {
	r, _ := l.target.ToRange(uint64(len(l.buf)))
	return r
}

// Resolve returns the n bytes at target address addr, as seen through the
// view. It never reads outside of the buffer.
func (l *Layout) Resolve(addr hostarch.Addr, n uint64) ([]byte, error) {
	view := l.View()
	r, ok := addr.ToRange(n)
	if !ok || !view.Contains(addr) || !view.IsSupersetOf(r) {
		return nil, fmt.Errorf("%w: %v with layout %v", ErrOutOfView, r, view)
	}
	off := uint64(addr - l.target)
	return l.buf[off : off+n], nil
}

// ResolveString returns the NUL terminated string at target address addr,
// without its terminator, as seen through the view.
func (l *Layout) ResolveString(addr hostarch.Addr) ([]byte, error) {
	off, ok := l.offset(addr)
	if !ok {
		return nil, fmt.Errorf("%w: string at %v with layout %v", ErrOutOfView, addr, l.View())
	}
	n := bytes.IndexByte(l.buf[off:], 0)
	if n < 0 {
		return nil, fmt.Errorf("%w: string at %v is not terminated within the layout", ErrOutOfView, addr)
	}
	return l.buf[off : off+uint64(n)], nil
}

// offset translates a target address into a buffer offset.
func (l *Layout) offset(addr hostarch.Addr) (uint64, bool) {
	if !l.View().Contains(addr) {
		return 0, false
	}
	return uint64(addr - l.target), true
}
