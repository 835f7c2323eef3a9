// Copyright 2018 Google LLC
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

// Package binary translates between native words of a target architecture
// and their in-memory representation.
//
// A word is 4 or 8 bytes wide. Its width and byte order are always passed
// explicitly, since the target need not match the host.
package binary

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"
)

// ByteOrder is the same as encoding/binary.ByteOrder.
type ByteOrder = binary.ByteOrder

// LittleEndian is the same as encoding/binary.LittleEndian.
//
// It is included here as a convenience.
var LittleEndian = binary.LittleEndian

// BigEndian is the same as encoding/binary.BigEndian.
//
// It is included here as a convenience.
var BigEndian = binary.BigEndian

// PutWord stores num in the first width bytes of buf.
//
// Values that do not fit in width bytes are truncated; callers check ranges
// before encoding. PutWord panics if width is not 4 or 8, or if buf is
// shorter than width.
func PutWord[T constraints.Unsigned](buf []byte, order ByteOrder, width uint, num T) {
	switch width {
	case 8:
		order.PutUint64(buf, uint64(num))
	case 4:
		order.PutUint32(buf, uint32(num))
	default:
		panic(fmt.Sprintf("unsupported word width %d", width))
	}
}

// Word reads a width byte word from the start of buf.
//
// Word panics if width is not 4 or 8, or if buf is shorter than width.
func Word[T constraints.Unsigned](buf []byte, order ByteOrder, width uint) T {
	switch width {
	case 8:
		return T(order.Uint64(buf))
	case 4:
		return T(order.Uint32(buf))
	default:
		panic(fmt.Sprintf("unsupported word width %d", width))
	}
}

// AppendWord appends the width byte representation of num to buf.
func AppendWord[T constraints.Unsigned](buf []byte, order ByteOrder, width uint, num T) []byte {
	buf = append(buf, make([]byte, width)...)
	PutWord(buf[len(buf)-int(width):], order, width, num)
	return buf
}
