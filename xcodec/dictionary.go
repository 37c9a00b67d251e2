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

// InsertResult reports the outcome of Dictionary.Insert.
type InsertResult int

const (
	// Inserted means a brand new (fp, chunk) pair was recorded.
	Inserted InsertResult = iota
	// Duplicate means (fp, content hash) was already present with the
	// same bytes; nothing changed.
	Duplicate
	// Collision means fp was already bound to different bytes. The
	// caller must fall back to literals for this occurrence.
	Collision
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "Inserted"
	case Duplicate:
		return "Duplicate"
	case Collision:
		return "Collision"
	default:
		return "Unknown"
	}
}

type entry struct {
	fp          FP
	hash        ContentHash
	bytes       Chunk
	knownToPeer bool
}

// Dictionary maps fingerprints to the 128-byte chunks they name, with a
// secondary content-hash index for collision detection.
//
// Dictionary holds no internal lock. Within an xcsession.Link a
// dictionary is reached from more than one goroutine, and the Link
// serializes that access with its own mutexes.
type Dictionary struct {
	byFP   map[FP]*entry
	byHash map[ContentHash]FP

	// cap bounds the dictionary to an LRU working set when non-zero.
	// The default leaves it zero (unbounded, discarded at close);
	// a positive dictionary capacity in the controller configuration
	// selects bounded mode, see DESIGN.md.
	cap   int
	order []FP // most-recently-touched last
}

// NewDictionary returns an empty, unbounded Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{
		byFP:   make(map[FP]*entry),
		byHash: make(map[ContentHash]FP),
	}
}

// NewBoundedDictionary returns a Dictionary that evicts the
// least-recently-touched entry once more than capacity entries are held.
// Not used unless a controller.Config sets a positive dictionary capacity.
func NewBoundedDictionary(capacity int) *Dictionary {
	d := NewDictionary()
	d.cap = capacity
	return d
}

// Insert records a new (fp, chunk) pair, or reports why it didn't.
func (d *Dictionary) Insert(fp FP, chunk Chunk) InsertResult {
	ch := hashChunk(chunk[:])

	if e, ok := d.byFP[fp]; ok {
		if e.hash == ch && e.bytes == chunk {
			d.touch(fp)
			return Duplicate
		}
		return Collision
	}

	e := &entry{fp: fp, hash: ch, bytes: chunk}
	d.byFP[fp] = e
	d.byHash[ch] = fp
	d.touch(fp)
	d.evictIfNeeded()
	return Inserted
}

// Lookup returns the chunk bound to fp, if any.
func (d *Dictionary) Lookup(fp FP) (Chunk, bool) {
	e, ok := d.byFP[fp]
	if !ok {
		return Chunk{}, false
	}
	d.touch(fp)
	return e.bytes, true
}

// LookupHash returns the fp bound to a content hash, if any. Used to
// detect that a freshly rolled chunk is byte-identical to one already
// known under a different (colliding) fp — not required by the baseline
// encoder, exposed for diagnostics and tests.
func (d *Dictionary) LookupHash(h ContentHash) (FP, bool) {
	fp, ok := d.byHash[h]
	return fp, ok
}

// HasPeer reports whether fp is both present and known to the peer.
// Encoder-side only.
func (d *Dictionary) HasPeer(fp FP) bool {
	e, ok := d.byFP[fp]
	return ok && e.knownToPeer
}

// MarkPeer records that the peer now knows fp. Encoder-side only; fp
// must already be present.
func (d *Dictionary) MarkPeer(fp FP) {
	if e, ok := d.byFP[fp]; ok {
		e.knownToPeer = true
	}
}

// Len returns the number of entries currently held.
func (d *Dictionary) Len() int {
	return len(d.byFP)
}

func (d *Dictionary) touch(fp FP) {
	if d.cap <= 0 {
		return
	}
	for i, v := range d.order {
		if v == fp {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.order = append(d.order, fp)
}

func (d *Dictionary) evictIfNeeded() {
	if d.cap <= 0 || len(d.byFP) <= d.cap {
		return
	}
	oldest := d.order[0]
	d.order = d.order[1:]
	if e, ok := d.byFP[oldest]; ok {
		delete(d.byHash, e.hash)
		delete(d.byFP, oldest)
	}
}
