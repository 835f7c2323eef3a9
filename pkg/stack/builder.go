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

// Package stack builds and parses the initial stack a Linux process finds at
// its entry point: argc, argv, envp, the auxiliary vector and the strings
// and blobs they point to.
//
// A layout is always built for a target address, the address its first byte
// will have once it is mapped in the address space of the program that
// consumes it. The target does not need to be mapped in the builder's
// address space. Parsing a layout whose target differs from the address of
// the buffer it is read from is safe as long as only the pointer accessors
// are used; the Unsafe accessors dereference and are only valid in the
// target address space.
package stack

import (
	"bytes"
	"fmt"

	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/binary"
	"initstack.dev/initstack/pkg/gohacks"
	"initstack.dev/initstack/pkg/hostarch"
	"initstack.dev/initstack/pkg/log"
)

// auxEntry is an aux entry and, for referenced entries, its payload.
type auxEntry struct {
	v       auxv.Var
	payload []byte
}

// Builder accumulates the contents of a layout.
//
// Strings passed to a Builder are not copied and must not be modified until
// the last call to Serialize returns.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	arch arch.Arch

	// args and envs hold strings as they were added. Their terminator, if
	// missing, is written by Serialize.
	args [][]byte
	envs [][]byte
	aux  []auxEntry

	counts Counts
}

// NewBuilder returns an empty Builder for a. It panics if a is not a valid
// architecture.
func NewBuilder(a arch.Arch) *Builder {
	if !a.Valid() {
		panic(fmt.Sprintf("invalid architecture %v", a))
	}
	return &Builder{arch: a}
}

// Arch returns the architecture the Builder lays out words for.
func (b *Builder) Arch() arch.Arch {
	return b.arch
}

// cstringSize returns the size of s once NUL terminated.
func cstringSize(s []byte) (uint64, error) {
	switch i := bytes.IndexByte(s, 0); {
	case i < 0:
		return uint64(len(s)) + 1, nil
	case i == len(s)-1:
		return uint64(len(s)), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrEmbeddedNUL, s)
	}
}

// AddArg appends an argument. s may already be NUL terminated.
func (b *Builder) AddArg(s []byte) error {
	n, err := cstringSize(s)
	if err != nil {
		return fmt.Errorf("argument %d: %w", len(b.args), err)
	}
	b.args = append(b.args, s)
	b.counts.Args++
	b.counts.ArgBytes += n
	return nil
}

// AddArgString is AddArg for a string.
func (b *Builder) AddArgString(s string) error {
	return b.AddArg(gohacks.ImmutableBytesFromString(s))
}

// AddEnv appends an environment string of the form "KEY=value" with a
// non-empty KEY. s may already be NUL terminated.
func (b *Builder) AddEnv(s []byte) error {
	n, err := cstringSize(s)
	if err != nil {
		return fmt.Errorf("environment variable %d: %w", len(b.envs), err)
	}
	if bytes.IndexByte(s, '=') <= 0 {
		return fmt.Errorf("environment variable %d: %w: %q", len(b.envs), ErrEnvSyntax, s)
	}
	b.envs = append(b.envs, s)
	b.counts.Envs++
	b.counts.EnvBytes += n
	return nil
}

// AddEnvString is AddEnv for a string.
func (b *Builder) AddEnvString(s string) error {
	return b.AddEnv(gohacks.ImmutableBytesFromString(s))
}

// AddAux appends an auxiliary vector entry. Entries are written in the order
// they are added and keys may repeat. AT_NULL is rejected: Serialize
// terminates the vector.
func (b *Builder) AddAux(v auxv.Var) error {
	if v == nil {
		return ErrNilVar
	}
	if _, ok := v.(auxv.Null); ok {
		return ErrExplicitNull
	}

	e := auxEntry{v: v}
	switch v := v.(type) {
	case auxv.Referenced:
		if auxv.HasEmbeddedNUL(v) {
			return fmt.Errorf("%v: %w", v.Key(), ErrEmbeddedNUL)
		}
		e.payload = v.Payload()
	case auxv.Immediate:
		if !hostarch.Addr(v.Word()).FitsWidth(b.arch.Width()) {
			return fmt.Errorf("%v=%#x: %w for %v", v.Key(), v.Word(), ErrValueOverflow, b.arch)
		}
	default:
		panic(fmt.Sprintf("unknown auxiliary vector entry %T", v))
	}

	b.aux = append(b.aux, e)
	b.counts.Aux++
	b.counts.AuxBytes += uint64(len(e.payload))
	return nil
}

// Counts returns the counts of everything added so far.
func (b *Builder) Counts() Counts {
	return b.counts
}

// Geometry returns the geometry of the layout Serialize would write.
func (b *Builder) Geometry() Geometry {
	return ComputeGeometry(b.arch, b.counts)
}

// TotalSize returns the exact number of bytes Serialize writes.
func (b *Builder) TotalSize() int {
	return int(b.Geometry().Size)
}

// PlaceBelow returns the highest target address at which the layout ends at
// or below top and starts aligned to hostarch.StackAlignment. For a stack
// growing down from top, this is the initial stack pointer.
func (b *Builder) PlaceBelow(top hostarch.Addr) (hostarch.Addr, error) {
	size := b.Geometry().Size
	if !top.FitsWidth(b.arch.Width()) || uint64(top) < size {
		return 0, fmt.Errorf("%w: %d bytes below %v for %v", ErrAddressOverflow, size, top, b.arch)
	}
	return (top - hostarch.Addr(size)).AlignDown(hostarch.StackAlignment), nil
}

// Serialize writes the layout to buf as it must appear at target. Every
// pointer in the layout is target plus the offset of what it points to.
//
// buf must be at least TotalSize bytes long; if it is not, an
// *ErrBufferTooSmall is returned and buf is left untouched. Serialize cannot
// check that target is where buf will actually be mapped.
//
// Serialize returns the number of bytes written, which is TotalSize. Bytes
// between regions are zeroed. The Builder may be reused afterwards.
func (b *Builder) Serialize(buf []byte, target hostarch.Addr) (int, error) {
	g := b.Geometry()
	if uint64(len(buf)) < g.Size {
		return 0, &ErrBufferTooSmall{Need: int(g.Size), Have: len(buf)}
	}
	// The last byte must be addressable by a target word.
	if end, ok := target.AddLength(g.Size); !ok || !(end - 1).FitsWidth(b.arch.Width()) {
		return 0, fmt.Errorf("%w: %d bytes at %v for %v", ErrAddressOverflow, g.Size, target, b.arch)
	}

	if log.IsLogging(log.Debug) {
		log.Debugf("Serializing stack layout for %v at %v: %v", b.arch, target, g)
	}

	w := layoutWriter{
		buf:    buf[:g.Size],
		order:  b.arch.ByteOrder(),
		width:  uint(g.Width),
		target: target,
	}
	clear(w.buf)

	w.word(0, g.Args)
	w.strings(g.Argv, g.ArgData, b.args)
	w.strings(g.Envp, g.EnvData, b.envs)

	slot, data := g.Auxv, g.AuxData
	for _, e := range b.aux {
		w.word(slot, uint64(e.v.Key()))
		if e.payload != nil {
			w.word(slot+g.Width, w.addr(data))
			copy(w.buf[data:], e.payload)
			data += uint64(len(e.payload))
		} else {
			w.word(slot+g.Width, e.v.(auxv.Immediate).Word())
		}
		slot += g.PairSize
	}
	// AT_NULL.
	w.word(slot, 0)
	w.word(slot+g.Width, 0)

	return len(w.buf), nil
}

// layoutWriter writes words and strings into a layout image.
type layoutWriter struct {
	buf    []byte
	order  binary.ByteOrder
	width  uint
	target hostarch.Addr
}

// addr returns the target address of off.
func (w *layoutWriter) addr(off uint64) uint64 {
	return uint64(w.target) + off
}

func (w *layoutWriter) word(off, v uint64) {
	binary.PutWord(w.buf[off:], w.order, w.width, v)
}

// strings stores ss NUL terminated starting at data, and a NULL terminated
// array of pointers to them starting at array.
func (w *layoutWriter) strings(array, data uint64, ss [][]byte) {
	for _, s := range ss {
		w.word(array, w.addr(data))
		array += uint64(w.width)
		data += uint64(copy(w.buf[data:], s))
		if len(s) == 0 || s[len(s)-1] != 0 {
			// buf is zeroed, skip over the terminator.
			data++
		}
	}
	w.word(array, 0)
}
