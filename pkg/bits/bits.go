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

// Package bits includes all bit related types and operations.
package bits

import "golang.org/x/exp/constraints"

// AlignUp rounds a length up to an alignment. alignment must be a power of 2.
func AlignUp[T constraints.Unsigned](length T, alignment T) T {
	return AlignDown(length+alignment-1, alignment)
}

// AlignDown rounds a length down to an alignment. alignment must be a power
// of 2.
func AlignDown[T constraints.Unsigned](length T, alignment T) T {
	return length & ^(alignment - 1)
}

// IsOn64 returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn64(mask, bits uint64) bool {
	return mask&bits == bits
}
