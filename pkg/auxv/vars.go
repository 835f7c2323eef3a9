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

package auxv

import (
	"bytes"

	"initstack.dev/initstack/pkg/abi/linux"
	"initstack.dev/initstack/pkg/bits"
	"initstack.dev/initstack/pkg/hostarch"
)

// Var is one auxiliary vector entry.
//
// The set of implementations is closed: every Var is either Null, an
// Immediate or a Referenced defined in this package.
type Var interface {
	// Key returns the entry type.
	Key() Key

	isVar()
}

// Immediate is a Var stored entirely in its vector slot.
type Immediate interface {
	Var

	// Word returns the value word stored in the slot.
	Word() uint64
}

// Referenced is a Var whose value is stored in the aux data area.
type Referenced interface {
	Var

	// Payload returns the bytes stored in the data area. Strings include
	// exactly one trailing NUL.
	Payload() []byte
}

// Null terminates the vector. The builder adds it; callers never do.
type Null struct{}

// Ignore is AT_IGNORE.
type Ignore uint64

// ExecFD is AT_EXECFD.
type ExecFD uint64

// Phdr is AT_PHDR.
type Phdr hostarch.Addr

// Phent is AT_PHENT.
type Phent uint64

// Phnum is AT_PHNUM.
type Phnum uint64

// Pagesz is AT_PAGESZ.
type Pagesz uint64

// Base is AT_BASE.
type Base hostarch.Addr

// Flags is AT_FLAGS.
type Flags uint64

// FlagPreserveArgv0 is AT_FLAGS_PRESERVE_ARGV0.
const FlagPreserveArgv0 Flags = linux.AT_FLAGS_PRESERVE_ARGV0

// Has returns true if every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return bits.IsOn64(uint64(f), uint64(f2))
}

// Entry is AT_ENTRY.
type Entry hostarch.Addr

// NotELF is AT_NOTELF.
type NotELF bool

// UID is AT_UID.
type UID uint64

// EUID is AT_EUID.
type EUID uint64

// GID is AT_GID.
type GID uint64

// EGID is AT_EGID.
type EGID uint64

// Platform is AT_PLATFORM.
type Platform string

// HWCap is AT_HWCAP.
type HWCap uint64

// ClkTck is AT_CLKTCK.
type ClkTck uint64

// Secure is AT_SECURE.
type Secure bool

// BasePlatform is AT_BASE_PLATFORM.
type BasePlatform string

// Random is AT_RANDOM.
type Random [linux.AT_RANDOM_SIZE]byte

// HWCap2 is AT_HWCAP2.
type HWCap2 uint64

// ExecFn is AT_EXECFN.
type ExecFn string

// Sysinfo is AT_SYSINFO.
type Sysinfo hostarch.Addr

// SysinfoEHdr is AT_SYSINFO_EHDR.
type SysinfoEHdr hostarch.Addr

// Cache geometry entries.
type (
	L1ICacheSize     uint64
	L1ICacheGeometry uint64
	L1DCacheSize     uint64
	L1DCacheGeometry uint64
	L2CacheSize      uint64
	L2CacheGeometry  uint64
	L3CacheSize      uint64
	L3CacheGeometry  uint64
)

// MinSigStkSz is AT_MINSIGSTKSZ.
type MinSigStkSz uint64

func (Null) Key() Key             { return linux.AT_NULL }
func (Ignore) Key() Key           { return linux.AT_IGNORE }
func (ExecFD) Key() Key           { return linux.AT_EXECFD }
func (Phdr) Key() Key             { return linux.AT_PHDR }
func (Phent) Key() Key            { return linux.AT_PHENT }
func (Phnum) Key() Key            { return linux.AT_PHNUM }
func (Pagesz) Key() Key           { return linux.AT_PAGESZ }
func (Base) Key() Key             { return linux.AT_BASE }
func (Flags) Key() Key            { return linux.AT_FLAGS }
func (Entry) Key() Key            { return linux.AT_ENTRY }
func (NotELF) Key() Key           { return linux.AT_NOTELF }
func (UID) Key() Key              { return linux.AT_UID }
func (EUID) Key() Key             { return linux.AT_EUID }
func (GID) Key() Key              { return linux.AT_GID }
func (EGID) Key() Key             { return linux.AT_EGID }
func (Platform) Key() Key         { return linux.AT_PLATFORM }
func (HWCap) Key() Key            { return linux.AT_HWCAP }
func (ClkTck) Key() Key           { return linux.AT_CLKTCK }
func (Secure) Key() Key           { return linux.AT_SECURE }
func (BasePlatform) Key() Key     { return linux.AT_BASE_PLATFORM }
func (Random) Key() Key           { return linux.AT_RANDOM }
func (HWCap2) Key() Key           { return linux.AT_HWCAP2 }
func (ExecFn) Key() Key           { return linux.AT_EXECFN }
func (Sysinfo) Key() Key          { return linux.AT_SYSINFO }
func (SysinfoEHdr) Key() Key      { return linux.AT_SYSINFO_EHDR }
func (L1ICacheSize) Key() Key     { return linux.AT_L1I_CACHESIZE }
func (L1ICacheGeometry) Key() Key { return linux.AT_L1I_CACHEGEOMETRY }
func (L1DCacheSize) Key() Key     { return linux.AT_L1D_CACHESIZE }
func (L1DCacheGeometry) Key() Key { return linux.AT_L1D_CACHEGEOMETRY }
func (L2CacheSize) Key() Key      { return linux.AT_L2_CACHESIZE }
func (L2CacheGeometry) Key() Key  { return linux.AT_L2_CACHEGEOMETRY }
func (L3CacheSize) Key() Key      { return linux.AT_L3_CACHESIZE }
func (L3CacheGeometry) Key() Key  { return linux.AT_L3_CACHEGEOMETRY }
func (MinSigStkSz) Key() Key      { return linux.AT_MINSIGSTKSZ }

func (Null) isVar()             {}
func (Ignore) isVar()           {}
func (ExecFD) isVar()           {}
func (Phdr) isVar()             {}
func (Phent) isVar()            {}
func (Phnum) isVar()            {}
func (Pagesz) isVar()           {}
func (Base) isVar()             {}
func (Flags) isVar()            {}
func (Entry) isVar()            {}
func (NotELF) isVar()           {}
func (UID) isVar()              {}
func (EUID) isVar()             {}
func (GID) isVar()              {}
func (EGID) isVar()             {}
func (Platform) isVar()         {}
func (HWCap) isVar()            {}
func (ClkTck) isVar()           {}
func (Secure) isVar()           {}
func (BasePlatform) isVar()     {}
func (Random) isVar()           {}
func (HWCap2) isVar()           {}
func (ExecFn) isVar()           {}
func (Sysinfo) isVar()          {}
func (SysinfoEHdr) isVar()      {}
func (L1ICacheSize) isVar()     {}
func (L1ICacheGeometry) isVar() {}
func (L1DCacheSize) isVar()     {}
func (L1DCacheGeometry) isVar() {}
func (L2CacheSize) isVar()      {}
func (L2CacheGeometry) isVar()  {}
func (L3CacheSize) isVar()      {}
func (L3CacheGeometry) isVar()  {}
func (MinSigStkSz) isVar()      {}

func (Null) Word() uint64               { return 0 }
func (v Ignore) Word() uint64           { return uint64(v) }
func (v ExecFD) Word() uint64           { return uint64(v) }
func (v Phdr) Word() uint64             { return uint64(v) }
func (v Phent) Word() uint64            { return uint64(v) }
func (v Phnum) Word() uint64            { return uint64(v) }
func (v Pagesz) Word() uint64           { return uint64(v) }
func (v Base) Word() uint64             { return uint64(v) }
func (v Flags) Word() uint64            { return uint64(v) }
func (v Entry) Word() uint64            { return uint64(v) }
func (v NotELF) Word() uint64           { return boolWord(bool(v)) }
func (v UID) Word() uint64              { return uint64(v) }
func (v EUID) Word() uint64             { return uint64(v) }
func (v GID) Word() uint64              { return uint64(v) }
func (v EGID) Word() uint64             { return uint64(v) }
func (v HWCap) Word() uint64            { return uint64(v) }
func (v ClkTck) Word() uint64           { return uint64(v) }
func (v Secure) Word() uint64           { return boolWord(bool(v)) }
func (v HWCap2) Word() uint64           { return uint64(v) }
func (v Sysinfo) Word() uint64          { return uint64(v) }
func (v SysinfoEHdr) Word() uint64      { return uint64(v) }
func (v L1ICacheSize) Word() uint64     { return uint64(v) }
func (v L1ICacheGeometry) Word() uint64 { return uint64(v) }
func (v L1DCacheSize) Word() uint64     { return uint64(v) }
func (v L1DCacheGeometry) Word() uint64 { return uint64(v) }
func (v L2CacheSize) Word() uint64      { return uint64(v) }
func (v L2CacheGeometry) Word() uint64  { return uint64(v) }
func (v L3CacheSize) Word() uint64      { return uint64(v) }
func (v L3CacheGeometry) Word() uint64  { return uint64(v) }
func (v MinSigStkSz) Word() uint64      { return uint64(v) }

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (v Platform) Payload() []byte     { return cstring(string(v)) }
func (v BasePlatform) Payload() []byte { return cstring(string(v)) }
func (v ExecFn) Payload() []byte       { return cstring(string(v)) }
func (v Random) Payload() []byte       { return v[:] }

// cstring returns s with exactly one trailing NUL.
func cstring(s string) []byte {
	if n := len(s); n > 0 && s[n-1] == 0 {
		return []byte(s)
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// HasEmbeddedNUL returns true if the payload of v contains a NUL byte before
// its terminator. Such a string would be truncated by any reader.
func HasEmbeddedNUL(v Var) bool {
	r, ok := v.(Referenced)
	if !ok || v.Key().Kind() != KindString {
		return false
	}
	p := r.Payload()
	return bytes.IndexByte(p, 0) != len(p)-1
}
