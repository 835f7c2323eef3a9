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

// Package arch provides abstractions around architecture-dependent details of
// the initial stack layout: the native word width and the byte order words
// are stored in.
//
// The architecture is always an explicit parameter. Nothing in this module
// infers it from the host, except Host, which callers use when they want the
// layout for the running process.
package arch

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strings"
)

// Arch describes an architecture.
type Arch int

const (
	// AMD64 is the x86-64 architecture.
	AMD64 Arch = iota
	// ARM64 is the aarch64 architecture.
	ARM64
	// I386 is the 32-bit x86 architecture.
	I386
	// ARM is the 32-bit arm architecture.
	ARM
	// RISCV64 is the 64-bit RISC-V architecture.
	RISCV64
	// PPC64 is the big-endian 64-bit POWER architecture.
	PPC64
)

var names = map[Arch]string{
	AMD64:   "amd64",
	ARM64:   "arm64",
	I386:    "386",
	ARM:     "arm",
	RISCV64: "riscv64",
	PPC64:   "ppc64",
}

// String implements fmt.Stringer.
func (a Arch) String() string {
	if name, ok := names[a]; ok {
		return name
	}
	return fmt.Sprintf("Arch(%d)", a)
}

// Valid returns true if a is a known architecture.
func (a Arch) Valid() bool {
	_, ok := names[a]
	return ok
}

// Width returns the number of bytes for a native value.
func (a Arch) Width() uint {
	switch a {
	case AMD64, ARM64, RISCV64, PPC64:
		return 8
	case I386, ARM:
		return 4
	default:
		panic(fmt.Sprintf("unknown architecture %v", a))
	}
}

// PairSize returns the size of one auxiliary vector entry.
func (a Arch) PairSize() uint {
	return 2 * a.Width()
}

// ByteOrder returns the order in which native values are stored in memory.
func (a Arch) ByteOrder() binary.ByteOrder {
	if a == PPC64 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Platform returns the string the Linux kernel reports as AT_PLATFORM for a.
func (a Arch) Platform() string {
	switch a {
	case AMD64:
		return "x86_64"
	case ARM64:
		return "aarch64"
	case I386:
		return "i686"
	case ARM:
		return "v7l"
	case RISCV64:
		return "riscv64"
	case PPC64:
		return "ppc64"
	default:
		return ""
	}
}

// Lookup returns the architecture with the given name. Both Go names
// ("amd64") and kernel names ("x86_64") are accepted.
func Lookup(name string) (Arch, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range names {
		if name == n || name == a.Platform() {
			return a, nil
		}
	}
	switch name {
	case "i386", "x86":
		return I386, nil
	case "aarch64":
		return ARM64, nil
	}
	return 0, fmt.Errorf("unknown architecture %q", name)
}

// Host returns the architecture of the running process.
//
// It panics if the process runs on an architecture not listed here.
func Host() Arch {
	a, err := Lookup(runtime.GOARCH)
	if err != nil {
		panic(fmt.Sprintf("unsupported host architecture: %v", err))
	}
	return a
}
