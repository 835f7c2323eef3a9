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

// Package auxv models the entries of the Linux auxiliary vector.
//
// Every AT_* key the kernel defines has exactly one Go type implementing Var.
// Immediate variants carry their value in the vector slot itself; Referenced
// variants carry a payload that lives in the aux data area of the initial
// stack and is pointed to by the slot.
package auxv

import (
	"fmt"
	"slices"

	"initstack.dev/initstack/pkg/abi/linux"
)

// Key is an auxiliary vector entry type (AT_*).
type Key uint64

// Kind describes how the value word of an entry is interpreted.
type Kind int

const (
	// KindUnknown is the kind of keys this package does not recognize.
	// Their value is opaque.
	KindUnknown Kind = iota

	// KindNull is the kind of the vector terminator.
	KindNull

	// KindInteger values are plain numbers.
	KindInteger

	// KindPointer values are addresses in the target address space that
	// do not point into the stack image.
	KindPointer

	// KindBool values are zero or one.
	KindBool

	// KindFlags values are bitmasks.
	KindFlags

	// KindBytes values point to a fixed size blob in the aux data area.
	KindBytes

	// KindString values point to a NUL terminated string in the aux data
	// area.
	KindString
)

var kindNames = [...]string{
	KindUnknown: "unknown",
	KindNull:    "null",
	KindInteger: "integer",
	KindPointer: "pointer",
	KindBool:    "bool",
	KindFlags:   "flags",
	KindBytes:   "bytes",
	KindString:  "string",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Referenced returns true if values of this kind live in the aux data area.
func (k Kind) Referenced() bool {
	return k == KindBytes || k == KindString
}

type keyInfo struct {
	name string
	kind Kind
}

var keys = map[Key]keyInfo{
	linux.AT_NULL:              {"AT_NULL", KindNull},
	linux.AT_IGNORE:            {"AT_IGNORE", KindInteger},
	linux.AT_EXECFD:            {"AT_EXECFD", KindInteger},
	linux.AT_PHDR:              {"AT_PHDR", KindPointer},
	linux.AT_PHENT:             {"AT_PHENT", KindInteger},
	linux.AT_PHNUM:             {"AT_PHNUM", KindInteger},
	linux.AT_PAGESZ:            {"AT_PAGESZ", KindInteger},
	linux.AT_BASE:              {"AT_BASE", KindPointer},
	linux.AT_FLAGS:             {"AT_FLAGS", KindFlags},
	linux.AT_ENTRY:             {"AT_ENTRY", KindPointer},
	linux.AT_NOTELF:            {"AT_NOTELF", KindBool},
	linux.AT_UID:               {"AT_UID", KindInteger},
	linux.AT_EUID:              {"AT_EUID", KindInteger},
	linux.AT_GID:               {"AT_GID", KindInteger},
	linux.AT_EGID:              {"AT_EGID", KindInteger},
	linux.AT_PLATFORM:          {"AT_PLATFORM", KindString},
	linux.AT_HWCAP:             {"AT_HWCAP", KindInteger},
	linux.AT_CLKTCK:            {"AT_CLKTCK", KindInteger},
	linux.AT_SECURE:            {"AT_SECURE", KindBool},
	linux.AT_BASE_PLATFORM:     {"AT_BASE_PLATFORM", KindString},
	linux.AT_RANDOM:            {"AT_RANDOM", KindBytes},
	linux.AT_HWCAP2:            {"AT_HWCAP2", KindInteger},
	linux.AT_EXECFN:            {"AT_EXECFN", KindString},
	linux.AT_SYSINFO:           {"AT_SYSINFO", KindPointer},
	linux.AT_SYSINFO_EHDR:      {"AT_SYSINFO_EHDR", KindPointer},
	linux.AT_L1I_CACHESIZE:     {"AT_L1I_CACHESIZE", KindInteger},
	linux.AT_L1I_CACHEGEOMETRY: {"AT_L1I_CACHEGEOMETRY", KindInteger},
	linux.AT_L1D_CACHESIZE:     {"AT_L1D_CACHESIZE", KindInteger},
	linux.AT_L1D_CACHEGEOMETRY: {"AT_L1D_CACHEGEOMETRY", KindInteger},
	linux.AT_L2_CACHESIZE:      {"AT_L2_CACHESIZE", KindInteger},
	linux.AT_L2_CACHEGEOMETRY:  {"AT_L2_CACHEGEOMETRY", KindInteger},
	linux.AT_L3_CACHESIZE:      {"AT_L3_CACHESIZE", KindInteger},
	linux.AT_L3_CACHEGEOMETRY:  {"AT_L3_CACHEGEOMETRY", KindInteger},
	linux.AT_MINSIGSTKSZ:       {"AT_MINSIGSTKSZ", KindInteger},
}

// Keys returns every key this package recognizes, in ascending order.
func Keys() []Key {
	ks := make([]Key, 0, len(keys))
	for k := range keys {
		ks = append(ks, k)
	}
	slices.Sort(ks)
	return ks
}

// String implements fmt.Stringer.
func (k Key) String() string {
	if info, ok := keys[k]; ok {
		return info.name
	}
	return fmt.Sprintf("AT_%d", uint64(k))
}

// Known returns true if k is one of Keys.
func (k Key) Known() bool {
	_, ok := keys[k]
	return ok
}

// Kind returns how values stored under k are interpreted.
func (k Key) Kind() Kind {
	return keys[k].kind
}

// PayloadSize returns the size of a fixed size payload. ok is false for keys
// whose payload is not fixed size.
func (k Key) PayloadSize() (size int, ok bool) {
	if k == linux.AT_RANDOM {
		return linux.AT_RANDOM_SIZE, true
	}
	return 0, false
}

// LookupKey returns the key with the given name. The "AT_" prefix is
// optional and the name is case sensitive.
func LookupKey(name string) (Key, error) {
	for k, info := range keys {
		if info.name == name || info.name == "AT_"+name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
}

// Pair is an undecoded vector slot.
type Pair struct {
	Key   Key
	Value uint64
}

// String implements fmt.Stringer.
func (p Pair) String() string {
	return fmt.Sprintf("%v=%#x", p.Key, p.Value)
}
