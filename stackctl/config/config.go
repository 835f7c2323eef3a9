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

// Package config loads layout descriptions for stackctl.
//
// A description is a TOML file:
//
//	arch = "arm64"
//	base = 0x7ffff000
//	args = ["/bin/sh", "-c", "true"]
//	env  = ["PATH=/bin"]
//
//	[[aux]]
//	key   = "AT_PAGESZ"
//	value = 4096
//
//	[[aux]]
//	key    = "AT_EXECFN"
//	string = "/bin/sh"
//
//	[[aux]]
//	key   = "AT_RANDOM"
//	bytes = "000102030405060708090a0b0c0d0e0f"
//
// Setting top instead of base places the layout right below top.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"
	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/hostarch"
	"initstack.dev/initstack/pkg/stack"
)

const (
	// ArchEnv names the environment variable holding the default
	// architecture.
	ArchEnv = "STACKCTL_ARCH"

	// LogFormatEnv names the environment variable holding the default log
	// format.
	LogFormatEnv = "STACKCTL_LOG_FORMAT"
)

// DefaultArch returns the architecture used when none is given: $STACKCTL_ARCH
// or the host's.
func DefaultArch() string {
	return env.Str(ArchEnv, arch.Host().String())
}

// DefaultLogFormat returns $STACKCTL_LOG_FORMAT, or "text".
func DefaultLogFormat() string {
	return env.Str(LogFormatEnv, "text")
}

// Layout describes the contents and placement of a layout.
type Layout struct {
	Arch string   `toml:"arch"`
	Base uint64   `toml:"base"`
	Top  uint64   `toml:"top"`
	Args []string `toml:"args"`
	Env  []string `toml:"env"`
	Aux  []Aux    `toml:"aux"`
}

// Aux is one aux vector entry. Exactly one of Value, String or Bytes is set,
// matching the kind of Key.
type Aux struct {
	Key    string  `toml:"key"`
	Value  *uint64 `toml:"value"`
	String *string `toml:"string"`
	Bytes  string  `toml:"bytes"`
}

// Load reads a layout description from path.
func Load(path string) (*Layout, error) {
	var l Layout
	md, err := toml.DecodeFile(path, &l)
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}
	return &l, nil
}

// Parse reads a layout description from data.
func Parse(data string) (*Layout, error) {
	var l Layout
	md, err := toml.Decode(data, &l)
	if err != nil {
		return nil, err
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	return &l, nil
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, k.String())
		}
		return fmt.Errorf("unknown fields: %s", strings.Join(names, ", "))
	}
	return nil
}

// Architecture returns the architecture of the layout, falling back to
// DefaultArch.
func (l *Layout) Architecture() (arch.Arch, error) {
	name := l.Arch
	if name == "" {
		name = DefaultArch()
	}
	return arch.Lookup(name)
}

// Var converts the entry to an auxv.Var.
func (a *Aux) Var() (auxv.Var, error) {
	key, err := auxv.LookupKey(a.Key)
	if err != nil {
		return nil, err
	}
	switch kind := key.Kind(); kind {
	case auxv.KindString:
		if a.String == nil || a.Value != nil || a.Bytes != "" {
			return nil, fmt.Errorf("%v takes a string", key)
		}
		if strings.IndexByte(*a.String, 0) >= 0 {
			return nil, fmt.Errorf("%v: %w", key, stack.ErrEmbeddedNUL)
		}
		return auxv.FromPayload(key, []byte(*a.String))
	case auxv.KindBytes:
		if a.Bytes == "" || a.Value != nil || a.String != nil {
			return nil, fmt.Errorf("%v takes bytes", key)
		}
		b, err := hex.DecodeString(a.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", key, err)
		}
		if size, _ := key.PayloadSize(); len(b) != size {
			return nil, fmt.Errorf("%v takes %d bytes, got %d", key, size, len(b))
		}
		return auxv.FromPayload(key, b)
	default:
		if a.Value == nil || a.String != nil || a.Bytes != "" {
			return nil, fmt.Errorf("%v takes a %v value", key, kind)
		}
		return auxv.FromWord(key, *a.Value)
	}
}

// Apply adds the contents of l to b.
func (l *Layout) Apply(b *stack.Builder) error {
	for _, s := range l.Args {
		if err := b.AddArgString(s); err != nil {
			return err
		}
	}
	for _, s := range l.Env {
		if err := b.AddEnvString(s); err != nil {
			return err
		}
	}
	for i := range l.Aux {
		v, err := l.Aux[i].Var()
		if err != nil {
			return fmt.Errorf("aux entry %d: %w", i, err)
		}
		if err := b.AddAux(v); err != nil {
			return fmt.Errorf("aux entry %d: %w", i, err)
		}
	}
	return nil
}

// Target returns the address to serialize b for: Base, or the highest
// aligned address below Top. Base and Top are mutually exclusive.
func (l *Layout) Target(b *stack.Builder) (hostarch.Addr, error) {
	switch {
	case l.Base != 0 && l.Top != 0:
		return 0, fmt.Errorf("base and top are mutually exclusive")
	case l.Top != 0:
		return b.PlaceBelow(hostarch.Addr(l.Top))
	default:
		return hostarch.Addr(l.Base), nil
	}
}
