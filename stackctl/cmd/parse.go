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
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"initstack.dev/initstack/pkg/hostarch"
	"initstack.dev/initstack/pkg/stack"
	"initstack.dev/initstack/stackctl/cmd/util"
)

// Parse implements subcommands.Command for the "parse" command.
type Parse struct {
	arch     string
	base     addrFlag
	format   string
	validate bool
}

// Name implements subcommands.Command.Name.
func (*Parse) Name() string {
	return "parse"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Parse) Synopsis() string {
	return "print the contents of initial stack images"
}

// Usage implements subcommands.Command.Usage.
func (*Parse) Usage() string {
	return `parse [flags] <image>... - print stack images built for -base.

Pointers are never followed outside of the image. An image named - is read
from stdin.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Parse) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.arch, "arch", "", "architecture of the images (default: $STACKCTL_ARCH or the host)")
	f.Var(&p.base, "base", "target address the images were built for")
	f.StringVar(&p.format, "format", "text", "output format: text, json or yaml")
	f.BoolVar(&p.validate, "validate", true, "check that the images are well formed")
}

// Execute implements subcommands.Command.Execute.
func (p *Parse) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	switch p.format {
	case "text", "json", "yaml":
	default:
		return util.Errorf("invalid format %q, must be 'text', 'json' or 'yaml'", p.format)
	}
	a, err := archFlag(p.arch)
	if err != nil {
		return util.Errorf("%v", err)
	}

	// Images are independent: read and describe them concurrently, print
	// them in the order given.
	outs := make([]bytes.Buffer, f.NArg())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range f.Args() {
		g.Go(func() error {
			buf, err := readImage(gctx, path)
			if err != nil {
				return fmt.Errorf("reading image: %w", err)
			}
			l := stack.ParseAt(buf, a, hostarch.Addr(p.base))
			if err := p.describe(&outs[i], l); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if p.validate {
				if err := l.Validate(); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	w := &util.Writer{}
	for i := range outs {
		if _, werr := outs[i].WriteTo(w); werr != nil {
			return util.Errorf("%v", werr)
		}
	}
	if err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// describe writes l to w in the requested format.
func (p *Parse) describe(w io.Writer, l *stack.Layout) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newLayoutInfo(l))
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(newLayoutInfo(l))
	default:
		printLayout(w, l, false /* deref */)
		return nil
	}
}

// readImage reads the image at path, or stdin for "-". It fails without
// reading once ctx is done.
func readImage(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
