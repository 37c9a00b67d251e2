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

// rollingBase is the multiplier of the polynomial rolling hash. Any odd
// constant works; encoder and decoder only need to agree on one, and
// since both live in this package they always do.
const rollingBase uint64 = 1000000007

// rollingBasePowWindow is rollingBase^Window mod 2^64, precomputed so
// Roll can evict the outgoing byte's contribution in O(1). uint64
// arithmetic wraps modulo 2^64 by language spec, so this value (and the
// hash itself) is bit-identical on every host and every run.
var rollingBasePowWindow = func() uint64 {
	p := uint64(1)
	for i := 0; i < Window; i++ {
		p *= rollingBase
	}
	return p
}()

// RollingHash maintains a fingerprint over the trailing Window bytes of a
// byte stream, advanceable one byte at a time in O(1).
//
// RollingHash is not safe for concurrent use; each direction of each
// connection owns one.
type RollingHash struct {
	window [Window]byte
	pos    int
	filled int
	hash   uint64
}

// NewRollingHash returns a RollingHash with an empty window.
func NewRollingHash() *RollingHash {
	return &RollingHash{}
}

// Reset zeroes the window, as if newly constructed.
func (h *RollingHash) Reset() {
	*h = RollingHash{}
}

// Roll shifts the window by one byte, evicting the oldest, and returns
// the fingerprint of the new window. Until Ready reports true the
// returned value is not a valid dictionary key.
func (h *RollingHash) Roll(b byte) FP {
	old := h.window[h.pos]
	h.window[h.pos] = b
	h.pos++
	if h.pos == Window {
		h.pos = 0
	}
	if h.filled < Window {
		h.filled++
	}
	h.hash = h.hash*rollingBase + uint64(b) - uint64(old)*rollingBasePowWindow
	return FP(h.hash)
}

// Ready reports whether Window bytes have been rolled in, i.e. whether
// the last value returned by Roll is a meaningful fingerprint.
func (h *RollingHash) Ready() bool {
	return h.filled == Window
}

// Bytes returns the current window contents in stream order. Only valid
// once Ready reports true.
func (h *RollingHash) Bytes() Chunk {
	var c Chunk
	// window is a ring buffer; pos marks the oldest byte's slot.
	copy(c[:Window-h.pos], h.window[h.pos:])
	copy(c[Window-h.pos:], h.window[:h.pos])
	return c
}
