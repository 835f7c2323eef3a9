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

// Package cmd holds implementations of the stackctl commands.
package cmd

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"initstack.dev/initstack/pkg/arch"
	"initstack.dev/initstack/pkg/auxv"
	"initstack.dev/initstack/pkg/hostarch"
)

// stringFlags can be used with string flags that appear multiple times.
type stringFlags []string

// String implements flag.Value.
func (s *stringFlags) String() string {
	return strings.Join(*s, ",")
}

// Get implements flag.Getter.
func (s *stringFlags) Get() any {
	return s
}

// Set implements flag.Value.
func (s *stringFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// addrFlag is a flag.Value for addresses, in any base strconv accepts.
type addrFlag hostarch.Addr

// String implements flag.Value.
func (a *addrFlag) String() string {
	return hostarch.Addr(*a).String()
}

// Set implements flag.Value.
func (a *addrFlag) Set(v string) error {
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", v, err)
	}
	*a = addrFlag(n)
	return nil
}

// clockTicks is USER_HZ, which Linux fixes at 100 for userspace.
const clockTicks = 100

// hostAux returns the aux entries the kernel derives from the calling
// process' credentials and the machine.
func hostAux(a arch.Arch) []auxv.Var {
	return []auxv.Var{
		auxv.Pagesz(unix.Getpagesize()),
		auxv.ClkTck(clockTicks),
		auxv.UID(unix.Getuid()),
		auxv.EUID(unix.Geteuid()),
		auxv.GID(unix.Getgid()),
		auxv.EGID(unix.Getegid()),
		auxv.Secure(unix.Getuid() != unix.Geteuid() || unix.Getgid() != unix.Getegid()),
		auxv.Platform(a.Platform()),
	}
}

// randomAux returns an AT_RANDOM entry filled from crypto/rand.
func randomAux() (auxv.Var, error) {
	var r auxv.Random
	if _, err := rand.Read(r[:]); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return r, nil
}
