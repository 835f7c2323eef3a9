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
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"initstack.dev/initstack/pkg/abi/linux"
	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/binary"
	"initstack.dev/initstack/pkg/gohacks"
	"initstack.dev/initstack/pkg/hostarch"
)

var allArches = []arch.Arch{arch.AMD64, arch.ARM64, arch.I386, arch.ARM, arch.RISCV64, arch.PPC64}

// contents is the input of a layout.
type contents struct {
	args []string
	envs []string
	aux  []auxv.Var
}

func (c contents) builder(t testing.TB, a arch.Arch) *Builder {
	t.Helper()
	b := NewBuilder(a)
	for _, s := range c.args {
		if err := b.AddArgString(s); err != nil {
			t.Fatalf("AddArgString(%q) failed: %v", s, err)
		}
	}
	for _, s := range c.envs {
		if err := b.AddEnvString(s); err != nil {
			t.Fatalf("AddEnvString(%q) failed: %v", s, err)
		}
	}
	for _, v := range c.aux {
		if err := b.AddAux(v); err != nil {
			t.Fatalf("AddAux(%v) failed: %v", v, err)
		}
	}
	return b
}

func serialize(t testing.TB, b *Builder, target hostarch.Addr) []byte {
	t.Helper()
	buf := make([]byte, b.TotalSize())
	n, err := b.Serialize(buf, target)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Serialize wrote %d bytes, want %d", n, len(buf))
	}
	return buf
}

// resolveAll reads strings through the view.
func resolveAll(t *testing.T, l *Layout, ptrs []hostarch.Addr) []string {
	t.Helper()
	var ss []string
	for _, p := range ptrs {
		s, err := l.ResolveString(p)
		if err != nil {
			t.Fatalf("ResolveString(%v) failed: %v", p, err)
		}
		ss = append(ss, string(s))
	}
	return ss
}

func TestKnownLayout(t *testing.T) {
	c := contents{
		args: []string{"./a", "./b"},
		envs: []string{"X=1"},
		aux:  []auxv.Var{auxv.ClkTck(100)},
	}
	b := c.builder(t, arch.AMD64)
	buf := serialize(t, b, 0x1000)
	l := ParseAt(buf, arch.AMD64, 0x1000)

	if got := l.Argc(); got != 2 {
		t.Errorf("Argc: got %d, want 2", got)
	}
	// argv at 8, envp at 32, auxv at 48, strings from 80.
	if diff := cmp.Diff([]hostarch.Addr{0x1050, 0x1054}, slices.Collect(l.ArgPtrs())); diff != "" {
		t.Errorf("ArgPtrs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]hostarch.Addr{0x1060}, slices.Collect(l.EnvPtrs())); diff != "" {
		t.Errorf("EnvPtrs mismatch (-want +got):\n%s", diff)
	}
	wantAux := []auxv.Pair{{Key: linux.AT_CLKTCK, Value: 100}, {Key: linux.AT_NULL}}
	if diff := cmp.Diff(wantAux, slices.Collect(l.AuxRaw())); diff != "" {
		t.Errorf("AuxRaw mismatch (-want +got):\n%s", diff)
	}
	if got, want := len(buf), 112; got != want {
		t.Errorf("size: got %d, want %d", got, want)
	}
	if diff := cmp.Diff([]string{"./a", "./b"}, resolveAll(t, l, slices.Collect(l.ArgPtrs()))); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"X=1"}, resolveAll(t, l, slices.Collect(l.EnvPtrs()))); diff != "" {
		t.Errorf("envs mismatch (-want +got):\n%s", diff)
	}
	if err := l.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestKnownLayoutSameAddressSpace(t *testing.T) {
	c := contents{
		args: []string{"./a", "./b"},
		envs: []string{"X=1"},
		aux:  []auxv.Var{auxv.ClkTck(100)},
	}
	b := c.builder(t, arch.Host())
	buf := make([]byte, b.TotalSize())
	l := Parse(buf, arch.Host())
	if _, err := b.Serialize(buf, l.Target()); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if !l.SameAddressSpace() {
		t.Fatalf("SameAddressSpace: got false, want true")
	}
	if diff := cmp.Diff([]string{"./a", "./b"}, slices.Collect(l.UnsafeArgs())); diff != "" {
		t.Errorf("UnsafeArgs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"X=1"}, slices.Collect(l.UnsafeEnvs())); diff != "" {
		t.Errorf("UnsafeEnvs mismatch (-want +got):\n%s", diff)
	}
	var got []auxv.Var
	for e := range l.Aux() {
		v, err := e.UnsafeVar()
		if err != nil {
			t.Fatalf("UnsafeVar(%v) failed: %v", e, err)
		}
		got = append(got, v)
	}
	if diff := cmp.Diff([]auxv.Var{auxv.ClkTck(100), auxv.Null{}}, got); diff != "" {
		t.Errorf("aux mismatch (-want +got):\n%s", diff)
	}
}

// roundTripCases are layouts every reader must reproduce exactly.
var roundTripCases = []struct {
	name string
	c    contents
}{
	{"empty", contents{}},
	{"args only", contents{args: []string{"/bin/sh", "-c", "", "echo hi"}}},
	{"duplicates", contents{args: []string{"x", "x"}, envs: []string{"A=1", "A=1"}}},
	{"terminated", contents{args: []string{"a\x00", "b"}, envs: []string{"C=3\x00"}}},
	{"empty strings", contents{
		args: []string{"", "a\x00", ""},
		envs: []string{"E="},
		aux: []auxv.Var{
			auxv.Platform(""),
			auxv.Secure(true),
			auxv.Flags(auxv.FlagPreserveArgv0),
			auxv.Random{},
			auxv.ExecFn("/x"),
		},
	}},
	{"full", contents{
		args: []string{"/usr/bin/env", "--help"},
		envs: []string{"PATH=/bin:/usr/bin", "HOME=/root", "TERM=xterm"},
		aux: []auxv.Var{
			auxv.Phdr(0x400040),
			auxv.Phent(56),
			auxv.Phnum(9),
			auxv.Pagesz(4096),
			auxv.Base(0),
			auxv.Flags(auxv.FlagPreserveArgv0),
			auxv.Entry(0x401000),
			auxv.UID(1000),
			auxv.EUID(1000),
			auxv.GID(1000),
			auxv.EGID(1000),
			auxv.Secure(false),
			auxv.Platform("x86_64"),
			auxv.Random{0xde, 0xad, 0xbe, 0xef, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			auxv.ExecFn("/usr/bin/env"),
			auxv.BasePlatform("x86_64\x00"),
			auxv.ClkTck(100),
			auxv.ClkTck(250),
		},
	}},
}

// wantAux is the aux vector a reader decodes for c: c.aux with string
// payloads cut at their terminator, followed by AT_NULL.
func (c contents) wantAux() []auxv.Var {
	want := append(slices.Clone(c.aux), auxv.Null{})
	for i, v := range want {
		if s, ok := v.(auxv.BasePlatform); ok {
			want[i] = auxv.BasePlatform(bytes.TrimSuffix([]byte(s), []byte{0}))
		}
	}
	return want
}

// trimAll removes one trailing NUL from every string.
func trimAll(ss []string) []string {
	var out []string
	for _, s := range ss {
		out = append(out, strings.TrimSuffix(s, "\x00"))
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range roundTripCases {
		for _, a := range allArches {
			t.Run(tc.name+"/"+a.String(), func(t *testing.T) {
				const target = 0x7fe0_0000
				buf := serialize(t, tc.c.builder(t, a), target)
				l := ParseAt(buf, a, target)

				if got, want := l.Argc(), uint64(len(tc.c.args)); got != want {
					t.Errorf("Argc: got %d, want %d", got, want)
				}
				if got, want := l.Envc(), uint64(len(tc.c.envs)); got != want {
					t.Errorf("Envc: got %d, want %d", got, want)
				}
				if diff := cmp.Diff(trimAll(tc.c.args), resolveAll(t, l, slices.Collect(l.ArgPtrs()))); diff != "" {
					t.Errorf("args mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(trimAll(tc.c.envs), resolveAll(t, l, slices.Collect(l.EnvPtrs()))); diff != "" {
					t.Errorf("envs mismatch (-want +got):\n%s", diff)
				}

				var got []auxv.Var
				for e := range l.Aux() {
					var (
						v   auxv.Var
						err error
					)
					if e.Kind().Referenced() {
						v, err = e.PayloadVar()
					} else {
						v, err = e.Var()
					}
					if err != nil {
						t.Fatalf("decoding %v failed: %v", e, err)
					}
					got = append(got, v)
				}
				if diff := cmp.Diff(tc.c.wantAux(), got); diff != "" {
					t.Errorf("aux mismatch (-want +got):\n%s", diff)
				}
				if got, want := l.Auxc(), uint64(len(tc.c.aux)); got != want {
					t.Errorf("Auxc: got %d, want %d", got, want)
				}
				if err := l.Validate(); err != nil {
					t.Errorf("Validate failed: %v", err)
				}
			})
		}
	}
}

func TestRoundTripSameAddressSpace(t *testing.T) {
	a := arch.Host()
	for _, tc := range roundTripCases {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.c.builder(t, a)
			buf := make([]byte, b.TotalSize())
			l := Parse(buf, a)
			if _, err := b.Serialize(buf, l.Target()); err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}
			if !l.SameAddressSpace() {
				t.Fatalf("SameAddressSpace: got false, want true")
			}

			if diff := cmp.Diff(trimAll(tc.c.args), slices.Collect(l.UnsafeArgs())); diff != "" {
				t.Errorf("UnsafeArgs mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(trimAll(tc.c.envs), slices.Collect(l.UnsafeEnvs())); diff != "" {
				t.Errorf("UnsafeEnvs mismatch (-want +got):\n%s", diff)
			}

			var got []auxv.Var
			for e := range l.Aux() {
				v, err := e.UnsafeVar()
				if err != nil {
					t.Fatalf("UnsafeVar(%v) failed: %v", e, err)
				}
				got = append(got, v)
				if !e.Kind().Referenced() {
					if e.UnsafeBytes() != nil {
						t.Errorf("UnsafeBytes(%v): got %q, want nil", e, e.UnsafeBytes())
					}
					continue
				}
				payload, err := e.Payload()
				if err != nil {
					t.Fatalf("Payload(%v) failed: %v", e, err)
				}
				if ub := e.UnsafeBytes(); !bytes.Equal(ub, payload) {
					t.Errorf("UnsafeBytes(%v): got %q, want %q", e, ub, payload)
				}
				if us := e.UnsafeString(); us != string(payload) {
					t.Errorf("UnsafeString(%v): got %q, want %q", e, us, payload)
				}
			}
			if diff := cmp.Diff(tc.c.wantAux(), got); diff != "" {
				t.Errorf("aux mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Package level so that their addresses stay valid; the stack of a test
// goroutine may move.
var (
	outsideString = []byte("outside\x00")
	outsideRandom = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
)

func TestUnsafeOutsideView(t *testing.T) {
	a := arch.Host()
	c := contents{args: []string{"inside"}, aux: []auxv.Var{auxv.ExecFn("/in"), auxv.Random{}}}
	b := c.builder(t, a)
	buf := make([]byte, b.TotalSize())
	l := Parse(buf, a)
	if _, err := b.Serialize(buf, l.Target()); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	// Redirect argv[0], AT_EXECFN and AT_RANDOM to memory outside of buf.
	g := b.Geometry()
	put := func(off uint64, addr uintptr) {
		binary.PutWord(buf[off:], a.ByteOrder(), a.Width(), uint64(addr))
	}
	put(g.Argv, gohacks.AddrOf(outsideString))
	put(g.Auxv+g.Width, gohacks.AddrOf(outsideString))
	put(g.Auxv+g.PairSize+g.Width, gohacks.AddrOf(outsideRandom))

	argv0 := slices.Collect(l.ArgPtrs())[0]
	if _, err := l.ResolveString(argv0); !errors.Is(err, ErrOutOfView) {
		t.Errorf("ResolveString(%v): got error %v, want %v", argv0, err, ErrOutOfView)
	}
	if diff := cmp.Diff([]string{"outside"}, slices.Collect(l.UnsafeArgs())); diff != "" {
		t.Errorf("UnsafeArgs mismatch (-want +got):\n%s", diff)
	}

	var got []auxv.Var
	for e := range l.Aux() {
		v, err := e.UnsafeVar()
		if err != nil {
			t.Fatalf("UnsafeVar(%v) failed: %v", e, err)
		}
		got = append(got, v)
	}
	want := []auxv.Var{
		auxv.ExecFn("outside"),
		auxv.Random{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		auxv.Null{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("aux mismatch (-want +got):\n%s", diff)
	}
}

func TestTerminatorNotDuplicated(t *testing.T) {
	plain := contents{args: []string{"a", "bc"}, envs: []string{"D=4"}, aux: []auxv.Var{auxv.ExecFn("/e")}}
	terminated := contents{args: []string{"a\x00", "bc\x00"}, envs: []string{"D=4\x00"}, aux: []auxv.Var{auxv.ExecFn("/e\x00")}}
	got := serialize(t, terminated.builder(t, arch.ARM64), 0x4000)
	want := serialize(t, plain.builder(t, arch.ARM64), 0x4000)
	if !bytes.Equal(got, want) {
		t.Errorf("terminated strings produced a different image:\ngot  %x\nwant %x", got, want)
	}
}

func TestSizeExactness(t *testing.T) {
	c := contents{
		args: []string{"prog", "arg"},
		envs: []string{"K=V"},
		aux:  []auxv.Var{auxv.Random{}, auxv.ExecFn("prog"), auxv.Pagesz(4096)},
	}
	for _, a := range allArches {
		t.Run(a.String(), func(t *testing.T) {
			b := c.builder(t, a)
			size := b.TotalSize()
			if got := int(ComputeGeometry(a, b.Counts()).Size); got != size {
				t.Errorf("ComputeGeometry size %d, TotalSize %d", got, size)
			}
			const slack = 64
			buf := bytes.Repeat([]byte{0xaa}, size+slack)
			n, err := b.Serialize(buf, 0x10000)
			if err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}
			if n != size {
				t.Errorf("Serialize wrote %d bytes, want %d", n, size)
			}
			if !bytes.Equal(buf[size:], bytes.Repeat([]byte{0xaa}, slack)) {
				t.Errorf("Serialize wrote past TotalSize: %x", buf[size:])
			}
			if bytes.IndexByte(buf[:size], 0xaa) >= 0 {
				t.Errorf("Serialize left bytes unwritten: %x", buf[:size])
			}
		})
	}
}

func TestShortBuffer(t *testing.T) {
	b := contents{args: []string{"a"}}.builder(t, arch.AMD64)
	buf := bytes.Repeat([]byte{0xaa}, b.TotalSize()-1)
	n, err := b.Serialize(buf, 0x1000)
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("Serialize: got error %v, want %v", err, ErrShortBuffer)
	}
	var tooSmall *ErrBufferTooSmall
	if !errors.As(err, &tooSmall) {
		t.Fatalf("Serialize error %v is not an *ErrBufferTooSmall", err)
	}
	if tooSmall.Need != b.TotalSize() || tooSmall.Have != len(buf) {
		t.Errorf("ErrBufferTooSmall: got %+v, want Need=%d Have=%d", tooSmall, b.TotalSize(), len(buf))
	}
	if n != 0 {
		t.Errorf("Serialize returned %d bytes written", n)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xaa}, len(buf))) {
		t.Errorf("Serialize modified the buffer on failure")
	}
}

func TestGeometry(t *testing.T) {
	for _, tc := range []struct {
		name string
		a    arch.Arch
		c    Counts
		want Geometry
	}{
		{
			name: "amd64 empty",
			a:    arch.AMD64,
			want: Geometry{
				Width: 8, PairSize: 16,
				ArgvSlots: 1, EnvpSlots: 1, AuxvSlots: 1,
				Argv: 8, Envp: 16, Auxv: 24, AuxData: 48, ArgData: 48, EnvData: 48, Size: 48,
			},
		},
		{
			name: "386 empty",
			a:    arch.I386,
			want: Geometry{
				Width: 4, PairSize: 8,
				ArgvSlots: 1, EnvpSlots: 1, AuxvSlots: 1,
				Argv: 4, Envp: 8, Auxv: 12, AuxData: 32, ArgData: 32, EnvData: 32, Size: 32,
			},
		},
		{
			name: "arm64 one arg",
			a:    arch.ARM64,
			c:    Counts{Args: 2, ArgBytes: 8, Envs: 1, EnvBytes: 4, Aux: 1},
			want: Geometry{
				Counts: Counts{Args: 2, ArgBytes: 8, Envs: 1, EnvBytes: 4, Aux: 1},
				Width:  8, PairSize: 16,
				ArgvSlots: 3, EnvpSlots: 2, AuxvSlots: 2,
				Argv: 8, Envp: 32, Auxv: 48, AuxData: 80, ArgData: 80, EnvData: 96, Size: 112,
			},
		},
		{
			name: "arm random and strings",
			a:    arch.ARM,
			c:    Counts{Args: 1, ArgBytes: 5, Envs: 0, Aux: 2, AuxBytes: 17},
			want: Geometry{
				Counts: Counts{Args: 1, ArgBytes: 5, Aux: 2, AuxBytes: 17},
				Width:  4, PairSize: 8,
				ArgvSlots: 2, EnvpSlots: 1, AuxvSlots: 3,
				Argv: 4, Envp: 12, Auxv: 16, AuxData: 48, ArgData: 80, EnvData: 96, Size: 96,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, ComputeGeometry(tc.a, tc.c)); diff != "" {
				t.Errorf("ComputeGeometry mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAlignment(t *testing.T) {
	for _, a := range allArches {
		for args := uint64(0); args < 4; args++ {
			for envs := uint64(0); envs < 4; envs++ {
				for aux := uint64(0); aux < 4; aux++ {
					for _, n := range []uint64{0, 1, 15, 16, 17} {
						c := Counts{
							Args: args, ArgBytes: args * n,
							Envs: envs, EnvBytes: envs*n + envs,
							Aux: aux, AuxBytes: n,
						}
						g := ComputeGeometry(a, c)
						for _, off := range []uint64{g.AuxData, g.ArgData, g.EnvData, g.Size} {
							if off%hostarch.StackAlignment != 0 {
								t.Fatalf("%v %+v: offset %#x is not aligned: %v", a, c, off, g)
							}
						}
						regions := g.Regions()
						for i := 1; i < len(regions); i++ {
							if regions[i].Start < regions[i-1].End {
								t.Fatalf("%v %+v: %s overlaps %s: %v", a, c, regions[i].Name, regions[i-1].Name, g)
							}
						}
						if last := regions[len(regions)-1]; last.End > g.Size {
							t.Fatalf("%v %+v: %s ends past Size: %v", a, c, last.Name, g)
						}
					}
				}
			}
		}
	}
}

func TestSentinels(t *testing.T) {
	for _, a := range allArches {
		t.Run(a.String(), func(t *testing.T) {
			buf := serialize(t, NewBuilder(a), 0x2000)
			l := ParseAt(buf, a, 0x2000)
			w := uint64(a.Width())
			g := ComputeGeometry(a, Counts{})
			for _, off := range []uint64{0, g.Argv, g.Envp, g.Auxv, g.Auxv + w} {
				if v, _ := l.word(off); v != 0 {
					t.Errorf("word at %#x: got %#x, want 0", off, v)
				}
			}
			if diff := cmp.Diff([]auxv.Pair{{}}, slices.Collect(l.AuxRaw())); diff != "" {
				t.Errorf("AuxRaw mismatch (-want +got):\n%s", diff)
			}
			if l.Argc() != 0 || l.Envc() != 0 || l.Auxc() != 0 {
				t.Errorf("counts: got argc=%d envc=%d auxc=%d, want zeros", l.Argc(), l.Envc(), l.Auxc())
			}
		})
	}
}

func TestByteOrder(t *testing.T) {
	b := contents{args: []string{"x"}}.builder(t, arch.PPC64)
	buf := serialize(t, b, 0x1_0000_0000)
	if got, want := buf[:8], []byte{0, 0, 0, 0, 0, 0, 0, 1}; !bytes.Equal(got, want) {
		t.Errorf("argc bytes: got %x, want %x", got, want)
	}
	// argv[0] = target + 48 (argc, argv[2], envp[1], auxv[1] rounded up).
	if got, want := buf[8:16], []byte{0, 0, 0, 1, 0, 0, 0, 0x30}; !bytes.Equal(got, want) {
		t.Errorf("argv[0] bytes: got %x, want %x", got, want)
	}
}

func TestBuilderErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		a    arch.Arch
		f    func(b *Builder) error
		want error
	}{
		{"embedded NUL arg", arch.AMD64, func(b *Builder) error { return b.AddArgString("a\x00b") }, ErrEmbeddedNUL},
		{"embedded NUL env", arch.AMD64, func(b *Builder) error { return b.AddEnv([]byte("A=\x00\x00")) }, ErrEmbeddedNUL},
		{"env without =", arch.AMD64, func(b *Builder) error { return b.AddEnvString("PATH") }, ErrEnvSyntax},
		{"env with empty key", arch.AMD64, func(b *Builder) error { return b.AddEnvString("=1") }, ErrEnvSyntax},
		{"env empty", arch.AMD64, func(b *Builder) error { return b.AddEnv([]byte{0}) }, ErrEnvSyntax},
		{"embedded NUL aux", arch.AMD64, func(b *Builder) error { return b.AddAux(auxv.ExecFn("/a\x00/b")) }, ErrEmbeddedNUL},
		{"explicit null", arch.AMD64, func(b *Builder) error { return b.AddAux(auxv.Null{}) }, ErrExplicitNull},
		{"nil var", arch.AMD64, func(b *Builder) error { return b.AddAux(nil) }, ErrNilVar},
		{"value overflow", arch.I386, func(b *Builder) error { return b.AddAux(auxv.Entry(0x1_0000_0000)) }, ErrValueOverflow},
		{"address overflow", arch.I386, func(b *Builder) error {
			_, err := b.Serialize(make([]byte, b.TotalSize()), 0xffff_fff0)
			return err
		}, ErrAddressOverflow},
		{"address overflow 64", arch.AMD64, func(b *Builder) error {
			_, err := b.Serialize(make([]byte, b.TotalSize()), 0xffff_ffff_ffff_fff0)
			return err
		}, ErrAddressOverflow},
		{"place below too low", arch.AMD64, func(b *Builder) error {
			_, err := b.PlaceBelow(16)
			return err
		}, ErrAddressOverflow},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder(tc.a)
			if err := tc.f(b); !errors.Is(err, tc.want) {
				t.Errorf("got error %v, want %v", err, tc.want)
			}
			if got := b.Counts(); got != (Counts{}) {
				t.Errorf("failed call changed counts: %+v", got)
			}
		})
	}
}

func TestPlaceBelow(t *testing.T) {
	b := contents{args: []string{"init"}, envs: []string{"HOME=/"}}.builder(t, arch.AMD64)
	const top = 0x7fff_ffff_f003
	sp, err := b.PlaceBelow(top)
	if err != nil {
		t.Fatalf("PlaceBelow failed: %v", err)
	}
	if !sp.IsAligned(hostarch.StackAlignment) {
		t.Errorf("PlaceBelow: %v is not aligned", sp)
	}
	if end := uint64(sp) + uint64(b.TotalSize()); end > top || top-end >= 2*hostarch.StackAlignment {
		t.Errorf("PlaceBelow: layout [%v, %#x) does not end just below %#x", sp, end, top)
	}
}

func TestForeignAddressSpacePanics(t *testing.T) {
	buf := serialize(t, contents{args: []string{"a"}, aux: []auxv.Var{auxv.ExecFn("a")}}.builder(t, arch.AMD64), 0x1000)
	l := ParseAt(buf, arch.AMD64, 0x1000)
	if l.SameAddressSpace() {
		t.Fatalf("SameAddressSpace: got true for a foreign target")
	}

	var entry AuxEntry
	for e := range l.Aux() {
		entry = e
		break
	}
	for name, f := range map[string]func(){
		"UnsafeArgs":   func() { l.UnsafeArgs() },
		"UnsafeEnvs":   func() { l.UnsafeEnvs() },
		"UnsafeBytes":  func() { entry.UnsafeBytes() },
		"UnsafeString": func() { entry.UnsafeString() },
		"UnsafeVar":    func() { entry.UnsafeVar() },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				err, ok := recover().(error)
				if !ok || !errors.Is(err, ErrForeignAddressSpace) {
					t.Errorf("got panic %v, want %v", err, ErrForeignAddressSpace)
				}
			}()
			f()
		})
	}

	// The view tier still works.
	s, err := entry.Payload()
	if err != nil || string(s) != "a" {
		t.Errorf("Payload: got (%q, %v), want (\"a\", nil)", s, err)
	}
}

func TestTruncated(t *testing.T) {
	buf := serialize(t, contents{args: []string{"a", "b", "c"}}.builder(t, arch.AMD64), 0x1000)
	l := ParseAt(buf[:20], arch.AMD64, 0x1000)
	if got := len(slices.Collect(l.ArgPtrs())); got != 1 {
		t.Errorf("ArgPtrs of a truncated layout: got %d pointers, want 1", got)
	}
	if got := l.Envc(); got != 0 {
		t.Errorf("Envc of a truncated layout: got %d, want 0", got)
	}
	if got := len(slices.Collect(l.Aux())); got != 0 {
		t.Errorf("Aux of a truncated layout: got %d entries, want 0", got)
	}
	if err := l.Validate(); !errors.Is(err, ErrMalformed) {
		t.Errorf("Validate: got %v, want %v", err, ErrMalformed)
	}
	if got := ParseAt(nil, arch.AMD64, 0).Argc(); got != 0 {
		t.Errorf("Argc of an empty layout: got %d", got)
	}
}

func TestValidateDetectsCorruption(t *testing.T) {
	c := contents{args: []string{"a", "b"}, envs: []string{"E=1"}, aux: []auxv.Var{auxv.Platform("x")}}
	g := c.builder(t, arch.AMD64).Geometry()
	for _, tc := range []struct {
		name    string
		corrupt func(buf []byte)
	}{
		{"argc", func(buf []byte) { buf[0] = 3 }},
		{"argv pointer", func(buf []byte) { buf[g.Argv] += 1 }},
		{"envp pointer", func(buf []byte) { buf[g.Envp] += 16 }},
		{"aux pointer", func(buf []byte) { buf[g.Auxv+8]++ }},
		{"null value", func(buf []byte) { buf[g.Auxv+g.PairSize+8] = 1 }},
		{"argv sentinel", func(buf []byte) { buf[g.Argv+16] = 1 }},
		{"unterminated env", func(buf []byte) {
			for i := g.EnvData; i < g.Size; i++ {
				buf[i] = 'x'
			}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := serialize(t, c.builder(t, arch.AMD64), 0x1000)
			l := ParseAt(buf, arch.AMD64, 0x1000)
			if err := l.Validate(); err != nil {
				t.Fatalf("Validate of a fresh layout failed: %v", err)
			}
			tc.corrupt(buf)
			err := l.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, ErrMalformed) {
				t.Errorf("Validate: got %v, want a *ValidationError", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	buf := serialize(t, contents{args: []string{"abc"}}.builder(t, arch.AMD64), 0x1000)
	l := ParseAt(buf, arch.AMD64, 0x1000)
	if got, want := l.View(), (hostarch.AddrRange{Start: 0x1000, End: 0x1000 + hostarch.Addr(len(buf))}); got != want {
		t.Errorf("View: got %v, want %v", got, want)
	}
	for _, tc := range []struct {
		name string
		addr hostarch.Addr
		n    uint64
		ok   bool
	}{
		{"argc", 0x1000, 8, true},
		{"below", 0xfff, 1, false},
		{"whole", 0x1000, uint64(len(buf)), true},
		{"past end", 0x1000 + hostarch.Addr(len(buf)) - 4, 8, false},
		{"wraps", 0x1000, ^uint64(0), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Resolve(tc.addr, tc.n)
			if ok := err == nil; ok != tc.ok {
				t.Errorf("Resolve(%v, %d): got error %v, want ok=%t", tc.addr, tc.n, err, tc.ok)
			}
			if err != nil && !errors.Is(err, ErrOutOfView) {
				t.Errorf("Resolve(%v, %d): got error %v, want %v", tc.addr, tc.n, err, ErrOutOfView)
			}
		})
	}
}

func TestConcurrentReaders(t *testing.T) {
	c := contents{args: []string{"a", "b"}, envs: []string{"X=1"}, aux: []auxv.Var{auxv.ClkTck(100)}}
	buf := serialize(t, c.builder(t, arch.AMD64), 0x1000)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < cap(errs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ParseAt(buf, arch.AMD64, 0x1000).Validate()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Validate failed: %v", err)
		}
	}
}
