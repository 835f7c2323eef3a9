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

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"strconv"

	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/hostarch"
	"initstack.dev/initstack/pkg/stack"
)

// printLayout writes a human readable description of l to w.
//
// Strings are read through the view unless deref is set, in which case the
// Unsafe accessors are used and l must target the current address space.
func printLayout(w io.Writer, l *stack.Layout, deref bool) {
	fmt.Fprintf(w, "layout for %v at %v, %d bytes\n", l.Arch(), l.Target(), len(l.Bytes()))
	fmt.Fprintf(w, "argc: %d\n", l.Argc())

	if deref {
		i := 0
		for s := range l.UnsafeArgs() {
			fmt.Fprintf(w, "argv[%d]: %q\n", i, s)
			i++
		}
		i = 0
		for s := range l.UnsafeEnvs() {
			fmt.Fprintf(w, "envp[%d]: %q\n", i, s)
			i++
		}
	} else {
		printStrings(w, l, "argv", l.ArgPtrs())
		printStrings(w, l, "envp", l.EnvPtrs())
	}

	for e := range l.Aux() {
		fmt.Fprintf(w, "auxv: %s\n", formatEntry(e, deref))
	}
}

func printStrings(w io.Writer, l *stack.Layout, name string, ptrs iter.Seq[hostarch.Addr]) {
	i := 0
	for p := range ptrs {
		s, err := l.ResolveString(p)
		if err != nil {
			fmt.Fprintf(w, "%s[%d]: %v (%v)\n", name, i, p, err)
		} else {
			fmt.Fprintf(w, "%s[%d]: %v %q\n", name, i, p, s)
		}
		i++
	}
}

// formatEntry formats e according to its kind.
func formatEntry(e stack.AuxEntry, deref bool) string {
	prefix := e.Key().String() + "="
	switch e.Kind() {
	case auxv.KindNull:
		return e.Key().String()
	case auxv.KindInteger:
		v, _ := e.Integer()
		return prefix + strconv.FormatUint(v, 10)
	case auxv.KindBool:
		v, _ := e.Bool()
		return prefix + strconv.FormatBool(v)
	case auxv.KindFlags:
		v, _ := e.Flags()
		s := fmt.Sprintf("%s%#x", prefix, uint64(v))
		if v.Has(auxv.FlagPreserveArgv0) {
			s += " (preserve-argv0)"
		}
		return s
	case auxv.KindPointer:
		p, _ := e.Pointer()
		return prefix + p.String()
	case auxv.KindBytes, auxv.KindString:
		p, _ := e.Pointer()
		var (
			payload []byte
			err     error
		)
		if deref {
			payload = e.UnsafeBytes()
		} else {
			payload, err = e.Payload()
		}
		switch {
		case err != nil:
			return fmt.Sprintf("%s%v (%v)", prefix, p, err)
		case e.Kind() == auxv.KindString:
			return fmt.Sprintf("%s%v %q", prefix, p, payload)
		default:
			return fmt.Sprintf("%s%v %s", prefix, p, hex.EncodeToString(payload))
		}
	default:
		return fmt.Sprintf("%s%#x (unknown)", prefix, e.Raw())
	}
}

// layoutInfo is the structured form of a layout, as read through its view.
type layoutInfo struct {
	Arch   string       `json:"arch" yaml:"arch"`
	Target string       `json:"target" yaml:"target"`
	Size   int          `json:"size" yaml:"size"`
	Argc   uint64       `json:"argc" yaml:"argc"`
	Argv   []stringInfo `json:"argv" yaml:"argv"`
	Envp   []stringInfo `json:"envp" yaml:"envp"`
	Auxv   []auxInfo    `json:"auxv" yaml:"auxv"`
}

type stringInfo struct {
	Addr  string `json:"addr" yaml:"addr"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

type auxInfo struct {
	Key   string `json:"key" yaml:"key"`
	Kind  string `json:"kind" yaml:"kind"`
	Value string `json:"value" yaml:"value"`
}

func newLayoutInfo(l *stack.Layout) layoutInfo {
	info := layoutInfo{
		Arch:   l.Arch().String(),
		Target: l.Target().String(),
		Size:   len(l.Bytes()),
		Argc:   l.Argc(),
		Argv:   stringInfos(l, l.ArgPtrs()),
		Envp:   stringInfos(l, l.EnvPtrs()),
	}
	for e := range l.Aux() {
		info.Auxv = append(info.Auxv, auxInfo{
			Key:   e.Key().String(),
			Kind:  e.Kind().String(),
			Value: formatEntry(e, false /* deref */),
		})
	}
	return info
}

func stringInfos(l *stack.Layout, ptrs iter.Seq[hostarch.Addr]) []stringInfo {
	var infos []stringInfo
	for p := range ptrs {
		info := stringInfo{Addr: p.String()}
		if s, err := l.ResolveString(p); err != nil {
			info.Error = err.Error()
		} else {
			info.Value = string(s)
		}
		infos = append(infos, info)
	}
	return infos
}
