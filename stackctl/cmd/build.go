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
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/log"
	"initstack.dev/initstack/pkg/stack"
	"initstack.dev/initstack/stackctl/cmd/util"
	"initstack.dev/initstack/stackctl/config"
)

// Build implements subcommands.Command for the "build" command.
type Build struct {
	configPath string
	arch       string
	base       addrFlag
	top        addrFlag
	args       stringFlags
	envs       stringFlags
	host       bool
	random     bool
	out        string
	force      bool
}

// Name implements subcommands.Command.Name.
func (*Build) Name() string {
	return "build"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Build) Synopsis() string {
	return "build an initial stack image for a target address"
}

// Usage implements subcommands.Command.Usage.
func (*Build) Usage() string {
	return `build [flags] -out <image> - serialize a stack layout into a file.

Contents come from -config, followed by -arg and -env in the order given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Build) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.configPath, "config", "", "TOML layout description")
	f.StringVar(&b.arch, "arch", "", "target architecture (default: from the config, $"+config.ArchEnv+" or the host)")
	f.Var(&b.base, "base", "target address of the image")
	f.Var(&b.top, "top", "place the image right below this address instead of at -base")
	f.Var(&b.args, "arg", "argument to append, may be repeated")
	f.Var(&b.envs, "env", "environment string to append, may be repeated")
	f.BoolVar(&b.host, "host", false, "add aux entries describing this host and user")
	f.BoolVar(&b.random, "random", false, "add an AT_RANDOM entry")
	f.StringVar(&b.out, "out", "", "file to write the image to, or - for stdout")
	f.BoolVar(&b.force, "force", false, "write the image to stdout even if it is a terminal")
}

// Execute implements subcommands.Command.Execute.
func (b *Build) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || b.out == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	desc, err := b.layout(f)
	if err != nil {
		util.Fatalf("%v", err)
	}
	a, err := desc.Architecture()
	if err != nil {
		util.Fatalf("%v", err)
	}
	builder := stack.NewBuilder(a)
	if err := desc.Apply(builder); err != nil {
		util.Fatalf("%v", err)
	}
	if b.host {
		for _, v := range hostAux(a) {
			if err := builder.AddAux(v); err != nil {
				util.Fatalf("adding host entries: %v", err)
			}
		}
	}
	if b.random {
		v, err := randomAux()
		if err != nil {
			util.Fatalf("%v", err)
		}
		if err := builder.AddAux(v); err != nil {
			util.Fatalf("%v", err)
		}
	}

	target, err := desc.Target(builder)
	if err != nil {
		util.Fatalf("%v", err)
	}
	log.Infof("Building %v layout at %v: %v", a, target, builder.Geometry())

	buf := make([]byte, builder.TotalSize())
	if _, err := builder.Serialize(buf, target); err != nil {
		util.Fatalf("serializing: %v", err)
	}
	if b.out == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) && !b.force {
			return util.Errorf("refusing to write a binary image to a terminal, use -force to override")
		}
		if _, err := os.Stdout.Write(buf); err != nil {
			util.Fatalf("writing image: %v", err)
		}
		log.Infof("Wrote %d bytes for %v at %v to stdout", len(buf), a, target)
		return subcommands.ExitSuccess
	}
	if err := os.WriteFile(b.out, buf, 0644); err != nil {
		util.Fatalf("writing image: %v", err)
	}
	util.Infof("wrote %d bytes for %v at %v to %s", len(buf), a, target, b.out)
	return subcommands.ExitSuccess
}

// layout returns the description to build: the -config file, if any, with
// the flags applied on top. -base and -top override the file when given,
// including when given as zero.
func (b *Build) layout(f *flag.FlagSet) (*config.Layout, error) {
	desc := &config.Layout{}
	if b.configPath != "" {
		var err error
		if desc, err = config.Load(b.configPath); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if b.arch != "" {
		desc.Arch = b.arch
	}
	var base, top bool
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "base":
			base = true
		case "top":
			top = true
		}
	})
	switch {
	case base && top:
		return nil, fmt.Errorf("-base and -top are mutually exclusive")
	case base:
		desc.Base, desc.Top = uint64(b.base), 0
	case top:
		desc.Top, desc.Base = uint64(b.top), 0
	}
	desc.Args = append(desc.Args, b.args...)
	desc.Env = append(desc.Env, b.envs...)
	return desc, nil
}

// archFlag returns the architecture named by name, or the default one.
func archFlag(name string) (arch.Arch, error) {
	if name == "" {
		name = config.DefaultArch()
	}
	return arch.Lookup(name)
}
