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
	"errors"
	"fmt"

	"initstack.dev/initstack/pkg/abi/linux"
	"initstack.dev/initstack/pkg/hostarch"
)

var (
	// ErrUnknownKey is returned for keys outside of Keys.
	ErrUnknownKey = errors.New("unknown auxiliary vector key")

	// ErrWrongKind is returned when a value is decoded with the function
	// for the other storage class, e.g. FromWord for AT_EXECFN.
	ErrWrongKind = errors.New("wrong kind for auxiliary vector key")

	// ErrShortPayload is returned when a fixed size payload is truncated.
	ErrShortPayload = errors.New("auxiliary vector payload too short")
)

// FromWord decodes the value word of an immediate entry.
//
// It never dereferences word: pointer values are returned as addresses.
func FromWord(key Key, word uint64) (Var, error) {
	switch key.Kind() {
	case KindUnknown:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, key)
	case KindBytes, KindString:
		return nil, fmt.Errorf("%w: %v stores a %v in the data area", ErrWrongKind, key, key.Kind())
	}

	switch key {
	case linux.AT_NULL:
		return Null{}, nil
	case linux.AT_IGNORE:
		return Ignore(word), nil
	case linux.AT_EXECFD:
		return ExecFD(word), nil
	case linux.AT_PHDR:
		return Phdr(hostarch.Addr(word)), nil
	case linux.AT_PHENT:
		return Phent(word), nil
	case linux.AT_PHNUM:
		return Phnum(word), nil
	case linux.AT_PAGESZ:
		return Pagesz(word), nil
	case linux.AT_BASE:
		return Base(hostarch.Addr(word)), nil
	case linux.AT_FLAGS:
		return Flags(word), nil
	case linux.AT_ENTRY:
		return Entry(hostarch.Addr(word)), nil
	case linux.AT_NOTELF:
		return NotELF(word != 0), nil
	case linux.AT_UID:
		return UID(word), nil
	case linux.AT_EUID:
		return EUID(word), nil
	case linux.AT_GID:
		return GID(word), nil
	case linux.AT_EGID:
		return EGID(word), nil
	case linux.AT_HWCAP:
		return HWCap(word), nil
	case linux.AT_CLKTCK:
		return ClkTck(word), nil
	case linux.AT_SECURE:
		return Secure(word != 0), nil
	case linux.AT_HWCAP2:
		return HWCap2(word), nil
	case linux.AT_SYSINFO:
		return Sysinfo(hostarch.Addr(word)), nil
	case linux.AT_SYSINFO_EHDR:
		return SysinfoEHdr(hostarch.Addr(word)), nil
	case linux.AT_L1I_CACHESIZE:
		return L1ICacheSize(word), nil
	case linux.AT_L1I_CACHEGEOMETRY:
		return L1ICacheGeometry(word), nil
	case linux.AT_L1D_CACHESIZE:
		return L1DCacheSize(word), nil
	case linux.AT_L1D_CACHEGEOMETRY:
		return L1DCacheGeometry(word), nil
	case linux.AT_L2_CACHESIZE:
		return L2CacheSize(word), nil
	case linux.AT_L2_CACHEGEOMETRY:
		return L2CacheGeometry(word), nil
	case linux.AT_L3_CACHESIZE:
		return L3CacheSize(word), nil
	case linux.AT_L3_CACHEGEOMETRY:
		return L3CacheGeometry(word), nil
	case linux.AT_MINSIGSTKSZ:
		return MinSigStkSz(word), nil
	default:
		panic(fmt.Sprintf("immediate key %v has no variant", key))
	}
}

// FromPayload decodes the data area payload of a referenced entry.
//
// Strings end at the first NUL in payload, or at the end of payload if it
// has none. The returned Var never aliases payload.
func FromPayload(key Key, payload []byte) (Var, error) {
	switch key.Kind() {
	case KindUnknown:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, key)
	case KindBytes, KindString:
	default:
		return nil, fmt.Errorf("%w: %v stores a %v in its slot", ErrWrongKind, key, key.Kind())
	}

	if size, ok := key.PayloadSize(); ok && len(payload) < size {
		return nil, fmt.Errorf("%w: %v needs %d bytes, got %d", ErrShortPayload, key, size, len(payload))
	}
	if i := bytes.IndexByte(payload, 0); i >= 0 && key.Kind() == KindString {
		payload = payload[:i]
	}

	switch key {
	case linux.AT_PLATFORM:
		return Platform(payload), nil
	case linux.AT_BASE_PLATFORM:
		return BasePlatform(payload), nil
	case linux.AT_EXECFN:
		return ExecFn(payload), nil
	case linux.AT_RANDOM:
		var r Random
		copy(r[:], payload)
		return r, nil
	default:
		panic(fmt.Sprintf("referenced key %v has no variant", key))
	}
}
