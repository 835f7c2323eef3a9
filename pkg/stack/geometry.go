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

	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/bits"
	"initstack.dev/initstack/pkg/hostarch"
)

// Counts are the inputs that determine the shape of a layout.
//
// Byte counts include the NUL terminator of every string. Aux does not count
// the AT_NULL terminator.
type Counts struct {
	Args     uint64
	ArgBytes uint64
	Envs     uint64
	EnvBytes uint64
	Aux      uint64
	AuxBytes uint64
}

// Geometry describes where every region of a layout lives. All offsets are
// relative to the start of the layout, which is where argc is stored.
//
//	Argc     argc
//	Argv     argv[0] ... argv[argc-1] NULL
//	Envp     envp[0] ... envp[envc-1] NULL
//	Auxv     (key, value) pairs ... (AT_NULL, 0)
//	         padding
//	AuxData  payloads of referenced aux entries
//	         padding
//	ArgData  argument strings
//	         padding
//	EnvData  environment strings
//	         padding
//	Size
//
// AuxData, ArgData, EnvData and Size are multiples of
// hostarch.StackAlignment. The arrays are contiguous, as the ELF loader ABI
// requires.
type Geometry struct {
	Counts

	// Width is the size of a word and PairSize the size of an aux entry.
	Width    uint64
	PairSize uint64

	// Slot counts include the trailing sentinel.
	ArgvSlots uint64
	EnvpSlots uint64
	AuxvSlots uint64

	Argv    uint64
	Envp    uint64
	Auxv    uint64
	AuxData uint64
	ArgData uint64
	EnvData uint64
	Size    uint64
}

// ComputeGeometry returns the geometry of a layout for a with the given
// counts. It panics if a is not a valid architecture.
func ComputeGeometry(a arch.Arch, c Counts) Geometry {
	g := Geometry{
		Counts:    c,
		Width:     uint64(a.Width()),
		PairSize:  uint64(a.PairSize()),
		ArgvSlots: c.Args + 1,
		EnvpSlots: c.Envs + 1,
		AuxvSlots: c.Aux + 1,
	}
	g.Argv = g.Width
	g.Envp = g.Argv + g.ArgvSlots*g.Width
	g.Auxv = g.Envp + g.EnvpSlots*g.Width
	g.AuxData = align(g.Auxv + g.AuxvSlots*g.PairSize)
	g.ArgData = align(g.AuxData + c.AuxBytes)
	g.EnvData = align(g.ArgData + c.ArgBytes)
	g.Size = align(g.EnvData + c.EnvBytes)
	return g
}

func align(off uint64) uint64 {
	return bits.AlignUp(off, hostarch.StackAlignment)
}

// Regions returns the region boundaries in ascending order, for
// diagnostics.
func (g Geometry) Regions() []Region {
	return []Region{
		{"argc", 0, g.Width},
		{"argv", g.Argv, g.Argv + g.ArgvSlots*g.Width},
		{"envp", g.Envp, g.Envp + g.EnvpSlots*g.Width},
		{"auxv", g.Auxv, g.Auxv + g.AuxvSlots*g.PairSize},
		{"aux data", g.AuxData, g.AuxData + g.AuxBytes},
		{"arg data", g.ArgData, g.ArgData + g.ArgBytes},
		{"env data", g.EnvData, g.EnvData + g.EnvBytes},
	}
}

// String implements fmt.Stringer.
func (g Geometry) String() string {
	return fmt.Sprintf("argc=%d envc=%d auxc=%d argv@%#x envp@%#x auxv@%#x auxdata@%#x argdata@%#x envdata@%#x size=%#x",
		g.Args, g.Envs, g.Aux, g.Argv, g.Envp, g.Auxv, g.AuxData, g.ArgData, g.EnvData, g.Size)
}

// Region is a named byte range [Start, End) of a layout.
type Region struct {
	Name  string
	Start uint64
	End   uint64
}
