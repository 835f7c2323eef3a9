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
	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/hostarch"
)

// Validate checks that the layout is exactly what Builder.Serialize would
// have produced for its contents: the arrays are terminated, argc matches
// argv, and every string and payload is where ComputeGeometry places it.
//
// Validate only reads through the view and is safe for layouts of any
// address space. Layouts made by other loaders (e.g. the kernel) lay out
// their data areas differently and are reported as malformed.
func (l *Layout) Validate() error {
	argc, ok := l.word(0)
	if !ok {
		return invalid(0, "buffer of %d bytes cannot hold argc", len(l.buf))
	}

	// Counts, from the arrays and the strings they point to.
	var (
		c        Counts
		argPtrs  []hostarch.Addr
		envPtrs  []hostarch.Addr
		auxPairs []auxv.Pair
	)
	for p := range l.ArgPtrs() {
		argPtrs = append(argPtrs, p)
	}
	envp, ok := l.envpOffset()
	if !ok {
		return invalid(l.width, "argv is not NULL terminated")
	}
	for p := range l.EnvPtrs() {
		envPtrs = append(envPtrs, p)
	}
	auxvOff, ok := l.auxvOffset()
	if !ok {
		return invalid(envp, "envp is not NULL terminated")
	}
	for p := range l.AuxRaw() {
		auxPairs = append(auxPairs, p)
	}
	if len(auxPairs) == 0 || auxPairs[len(auxPairs)-1].Key != 0 {
		return invalid(auxvOff, "auxv is not AT_NULL terminated")
	}
	if uint64(len(argPtrs)) != argc {
		return invalid(0, "argc is %d but argv has %d entries", argc, len(argPtrs))
	}

	c.Args = uint64(len(argPtrs))
	c.Envs = uint64(len(envPtrs))
	c.Aux = uint64(len(auxPairs) - 1)
	for i, p := range argPtrs {
		s, err := l.ResolveString(p)
		if err != nil {
			return invalid(l.width*uint64(1+i), "argv[%d]: %v", i, err)
		}
		c.ArgBytes += uint64(len(s)) + 1
	}
	for i, p := range envPtrs {
		s, err := l.ResolveString(p)
		if err != nil {
			return invalid(envp+l.width*uint64(i), "envp[%d]: %v", i, err)
		}
		c.EnvBytes += uint64(len(s)) + 1
	}
	pairSize := 2 * l.width
	for i, p := range auxPairs[:c.Aux] {
		e := AuxEntry{l: l, pair: p}
		if !e.Kind().Referenced() {
			continue
		}
		payload, err := e.Payload()
		if err != nil {
			return invalid(auxvOff+pairSize*uint64(i), "%v: %v", p.Key, err)
		}
		c.AuxBytes += uint64(len(payload))
		if e.Kind() == auxv.KindString {
			c.AuxBytes++
		}
	}
	if last := auxPairs[c.Aux]; last.Value != 0 {
		return invalid(auxvOff+pairSize*c.Aux+l.width, "AT_NULL has value %#x", last.Value)
	}

	// Placement, against the geometry the builder would have used.
	g := ComputeGeometry(l.arch, c)
	if envp != g.Envp || auxvOff != g.Auxv {
		return invalid(envp, "arrays at %#x/%#x, want %#x/%#x", envp, auxvOff, g.Envp, g.Auxv)
	}
	if uint64(len(l.buf)) < g.Size {
		return invalid(uint64(len(l.buf)), "buffer of %d bytes is shorter than the layout size %d", len(l.buf), g.Size)
	}
	if err := l.checkStrings(argPtrs, g.Argv, g.ArgData); err != nil {
		return err
	}
	if err := l.checkStrings(envPtrs, g.Envp, g.EnvData); err != nil {
		return err
	}
	data := g.AuxData
	for i, p := range auxPairs[:c.Aux] {
		e := AuxEntry{l: l, pair: p}
		if !e.Kind().Referenced() {
			continue
		}
		slot := g.Auxv + pairSize*uint64(i)
		if want := uint64(l.target) + data; p.Value != want {
			return invalid(slot+l.width, "%v points to %#x, want %#x", p.Key, p.Value, want)
		}
		payload, _ := e.Payload()
		data += uint64(len(payload))
		if e.Kind() == auxv.KindString {
			data++
		}
	}
	return nil
}

// checkStrings checks that ptrs point to consecutive strings starting at
// data.
func (l *Layout) checkStrings(ptrs []hostarch.Addr, array, data uint64) error {
	for i, p := range ptrs {
		if want := l.target + hostarch.Addr(data); p != want {
			return invalid(array+l.width*uint64(i), "pointer %v, want %v", p, want)
		}
		s, _ := l.ResolveString(p)
		data += uint64(len(s)) + 1
	}
	return nil
}
