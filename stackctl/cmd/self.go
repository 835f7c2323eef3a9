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
	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/binary"
	"initstack.dev/initstack/pkg/stack"
	"initstack.dev/initstack/stackctl/cmd/util"
)

// Self implements subcommands.Command for the "self" command.
type Self struct {
	args stringFlags
	envs stringFlags
	proc bool
}

// Name implements subcommands.Command.Name.
func (*Self) Name() string {
	return "self"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Self) Synopsis() string {
	return "build a layout in this process and read it back through its pointers"
}

// Usage implements subcommands.Command.Usage.
func (*Self) Usage() string {
	return `self [flags] - build a stack layout for this address space and print it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Self) SetFlags(f *flag.FlagSet) {
	f.Var(&s.args, "arg", "argument to append, may be repeated (default: this process' arguments)")
	f.Var(&s.envs, "env", "environment string to append, may be repeated")
	f.BoolVar(&s.proc, "proc", false, "also print the aux vector the kernel gave this process")
}

// Execute implements subcommands.Command.Execute.
func (s *Self) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := arch.Host()
	args := []string(s.args)
	if len(args) == 0 {
		args = os.Args
	}

	b := stack.NewBuilder(a)
	for _, arg := range args {
		if err := b.AddArgString(arg); err != nil {
			return util.Errorf("%v", err)
		}
	}
	for _, env := range s.envs {
		if err := b.AddEnvString(env); err != nil {
			return util.Errorf("%v", err)
		}
	}
	for _, v := range hostAux(a) {
		if err := b.AddAux(v); err != nil {
			return util.Errorf("%v", err)
		}
	}
	r, err := randomAux()
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := b.AddAux(r); err != nil {
		return util.Errorf("%v", err)
	}
	if exe, err := os.Executable(); err == nil {
		if err := b.AddAux(auxv.ExecFn(exe)); err != nil {
			return util.Errorf("%v", err)
		}
	}

	buf := make([]byte, b.TotalSize())
	l := stack.Parse(buf, a)
	if _, err := b.Serialize(buf, l.Target()); err != nil {
		return util.Errorf("serializing: %v", err)
	}
	printLayout(os.Stdout, l, true /* deref */)

	if s.proc {
		if err := printProcAuxv(a); err != nil {
			return util.Errorf("%v", err)
		}
	}
	return subcommands.ExitSuccess
}

// printProcAuxv prints /proc/self/auxv, the aux vector of this process.
// Values are not dereferenced.
func printProcAuxv(a arch.Arch) error {
	data, err := os.ReadFile("/proc/self/auxv")
	if err != nil {
		return err
	}
	w, order := a.Width(), a.ByteOrder()
	for len(data) >= int(a.PairSize()) {
		p := auxv.Pair{
			Key:   auxv.Key(binary.Word[uint64](data, order, w)),
			Value: binary.Word[uint64](data[w:], order, w),
		}
		fmt.Fprintf(os.Stdout, "proc auxv: %v (%v)\n", p, p.Key.Kind())
		if p.Key == 0 {
			break
		}
		data = data[a.PairSize():]
	}
	return nil
}
