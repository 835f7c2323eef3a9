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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"initstack.dev/initstack/pkg/abi/linux"
)

// sample returns a value of every variant with a non-zero value.
func sample() []Var {
	return []Var{
		Null{},
		Ignore(1),
		ExecFD(3),
		Phdr(0x400040),
		Phent(56),
		Phnum(13),
		Pagesz(4096),
		Base(0x7f0000000000),
		Flags(FlagPreserveArgv0),
		Entry(0x401000),
		NotELF(true),
		UID(1000),
		EUID(1001),
		GID(100),
		EGID(101),
		Platform("x86_64"),
		HWCap(0xbfebfbff),
		ClkTck(100),
		Secure(true),
		BasePlatform("v8l"),
		Random{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		HWCap2(2),
		ExecFn("/bin/true"),
		Sysinfo(0xffffe414),
		SysinfoEHdr(0x7ffff7fc1000),
		L1ICacheSize(32768),
		L1ICacheGeometry(0x40),
		L1DCacheSize(49152),
		L1DCacheGeometry(0x40),
		L2CacheSize(1 << 20),
		L2CacheGeometry(0x80),
		L3CacheSize(1 << 25),
		L3CacheGeometry(0x80),
		MinSigStkSz(3632),
	}
}

func TestEveryKeyHasVariant(t *testing.T) {
	seen := make(map[Key]bool)
	for _, v := range sample() {
		if seen[v.Key()] {
			t.Errorf("duplicate variant for %v", v.Key())
		}
		seen[v.Key()] = true
	}
	for _, k := range Keys() {
		if !seen[k] {
			t.Errorf("no variant for %v", k)
		}
	}
	if len(seen) != len(Keys()) {
		t.Errorf("got %d variants, want %d", len(seen), len(Keys()))
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	for _, v := range sample() {
		t.Run(v.Key().String(), func(t *testing.T) {
			var (
				got Var
				err error
			)
			switch v := v.(type) {
			case Immediate:
				if v.Key().Kind().Referenced() {
					t.Fatalf("immediate variant has referenced kind %v", v.Key().Kind())
				}
				got, err = FromWord(v.Key(), v.Word())
			case Referenced:
				if !v.Key().Kind().Referenced() {
					t.Fatalf("referenced variant has immediate kind %v", v.Key().Kind())
				}
				got, err = FromPayload(v.Key(), v.Payload())
			default:
				t.Fatalf("variant %T is neither immediate nor referenced", v)
			}
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if diff := cmp.Diff(v, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestKinds(t *testing.T) {
	for _, tc := range []struct {
		key  Key
		want Kind
	}{
		{linux.AT_NULL, KindNull},
		{linux.AT_PAGESZ, KindInteger},
		{linux.AT_ENTRY, KindPointer},
		{linux.AT_SECURE, KindBool},
		{linux.AT_FLAGS, KindFlags},
		{linux.AT_RANDOM, KindBytes},
		{linux.AT_EXECFN, KindString},
		{27, KindUnknown},
	} {
		if got := tc.key.Kind(); got != tc.want {
			t.Errorf("%v.Kind(): got %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestKeyNames(t *testing.T) {
	if got, want := Key(linux.AT_CLKTCK).String(), "AT_CLKTCK"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
	if got, want := Key(99).String(), "AT_99"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
	for _, name := range []string{"AT_EXECFN", "EXECFN"} {
		k, err := LookupKey(name)
		if err != nil {
			t.Errorf("LookupKey(%q) failed: %v", name, err)
		} else if k != linux.AT_EXECFN {
			t.Errorf("LookupKey(%q): got %v, want AT_EXECFN", name, k)
		}
	}
	if _, err := LookupKey("AT_BOGUS"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("LookupKey(AT_BOGUS): got %v, want %v", err, ErrUnknownKey)
	}
}

func TestPayloadTerminator(t *testing.T) {
	for _, tc := range []struct {
		name string
		v    Referenced
		want []byte
	}{
		{"unterminated", ExecFn("/a"), []byte("/a\x00")},
		{"terminated", ExecFn("/a\x00"), []byte("/a\x00")},
		{"empty", Platform(""), []byte{0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.v.Payload()); diff != "" {
				t.Errorf("Payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if !HasEmbeddedNUL(ExecFn("a\x00b")) {
		t.Errorf("HasEmbeddedNUL(a\\x00b) = false")
	}
	if HasEmbeddedNUL(ExecFn("ab\x00")) {
		t.Errorf("HasEmbeddedNUL(ab\\x00) = true")
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		f    func() error
		want error
	}{
		{"word for string", func() error { _, err := FromWord(linux.AT_EXECFN, 0x1000); return err }, ErrWrongKind},
		{"word for unknown", func() error { _, err := FromWord(27, 1); return err }, ErrUnknownKey},
		{"payload for integer", func() error { _, err := FromPayload(linux.AT_PAGESZ, nil); return err }, ErrWrongKind},
		{"short random", func() error { _, err := FromPayload(linux.AT_RANDOM, make([]byte, 8)); return err }, ErrShortPayload},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.f(); !errors.Is(err, tc.want) {
				t.Errorf("got error %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	f := Flags(FlagPreserveArgv0 | 4)
	if !f.Has(FlagPreserveArgv0) {
		t.Errorf("%#x.Has(FlagPreserveArgv0) = false", uint64(f))
	}
	if Flags(0).Has(FlagPreserveArgv0) {
		t.Errorf("0.Has(FlagPreserveArgv0) = true")
	}
}
