// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xcodec

import "github.com/cespare/xxhash/v2"

const (
	// Window is the trailing-byte span the rolling hash fingerprints and
	// the exact size of a Chunk.
	Window = 128

	// BackrefHistory is the number of most-recently emitted/delivered
	// chunks a BACKREF index may point into.
	BackrefHistory = 256
)

// Reserved discriminator bytes. Any literal byte equal to one of these
// must be preceded by charEscape on the wire.
const (
	charBase    byte = 0xf0
	charHashref byte = charBase | 0x00
	charEscape  byte = charBase | 0x01
	charDeclare byte = charBase | 0x02
	charBackref byte = charBase | 0x03
)

// isSpecial reports whether b collides with a reserved discriminator and
// must be escaped when emitted as a literal.
func isSpecial(b byte) bool {
	return b&^0x03 == charBase
}

// FP is a 64-bit rolling-hash fingerprint of a 128-byte window.
type FP uint64

// ContentHash is the secondary identity used to detect fingerprint
// collisions: two entries sharing an fp but disagreeing on content hash
// are necessarily a collision, never a duplicate.
type ContentHash uint64

// Chunk is exactly Window bytes of stream content.
type Chunk [Window]byte

func hashChunk(b []byte) ContentHash {
	return ContentHash(xxhash.Sum64(b))
}
