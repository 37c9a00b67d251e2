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

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

type decodeState int

const (
	stLiteral decodeState = iota
	stEscape
	stBackref
	stHashref
	stDeclareFP
	stDeclareChunk
)

// segment is one piece of the decoder's ordered output queue: either
// ready bytes waiting to be flushed downstream, or a placeholder blocked
// on an unresolved fp.
type segment struct {
	ready bool
	fp    FP
	data  []byte
}

// AskFunc is invoked at most once per outstanding fp when the decoder
// meets a HASHREF it cannot resolve. The caller is expected to relay this
// as an ASK control frame to the peer; xcodec itself does not know about
// the wire transport.
type AskFunc func(fp FP)

// Decoder reverses Encoder: it consumes a token stream and writes
// resolved plaintext to out, in strict input order.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	dict    *Dictionary
	hist    *backrefHistory
	out     io.Writer
	askFunc AskFunc
	asked   map[FP]struct{}

	state   decodeState
	scratch []byte
	needFP  FP

	queue []*segment
	// blocked counts queue entries with ready == false, so Close can
	// report UnresolvedReference without a full scan in the common case.
	blocked int

	stats DecoderStats
}

// DecoderStats counts the tokens a Decoder has resolved, for metrics
// reporting.
type DecoderStats struct {
	Backrefs uint64
	Hashrefs uint64
	Declares uint64
	Asks     uint64
}

// Stats returns a snapshot of the Decoder's resolved-token counters.
func (d *Decoder) Stats() DecoderStats { return d.stats }

// NewDecoder returns a Decoder that writes resolved bytes to out and
// resolves references against dict. ask may be nil if the caller never
// expects an unresolved HASHREF (e.g. a test with a pre-populated dict).
func NewDecoder(out io.Writer, dict *Dictionary, ask AskFunc) *Decoder {
	return &Decoder{
		dict:    dict,
		hist:    newBackrefHistory(),
		out:     out,
		askFunc: ask,
		asked:   make(map[FP]struct{}),
	}
}

// Decode feeds p, a chunk of the token stream, through the decoder. p may
// split a multi-byte token across calls; Decoder buffers the remainder.
func (d *Decoder) Decode(p []byte) error {
	for len(p) > 0 {
		var err error
		switch d.state {
		case stLiteral:
			p, err = d.stepLiteral(p)
		case stEscape:
			if !isSpecial(p[0]) {
				return protocolErrorf("escape before non-reserved byte 0x%x", p[0])
			}
			if err = d.appendReady(p[:1]); err != nil {
				return err
			}
			p = p[1:]
			d.state = stLiteral
		case stBackref:
			p, err = d.collect(p, 1, d.finishBackref)
		case stHashref:
			p, err = d.collect(p, 8, d.finishHashref)
		case stDeclareFP:
			p, err = d.collect(p, 8, d.finishDeclareFP)
		case stDeclareChunk:
			p, err = d.collect(p, Window, d.finishDeclareChunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) stepLiteral(p []byte) ([]byte, error) {
	idx := indexSpecial(p)
	if idx < 0 {
		if err := d.appendReady(p); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if idx > 0 {
		if err := d.appendReady(p[:idx]); err != nil {
			return nil, err
		}
	}
	marker := p[idx]
	p = p[idx+1:]

	switch marker {
	case charEscape:
		d.state = stEscape
	case charBackref:
		d.state, d.scratch = stBackref, d.scratch[:0]
	case charHashref:
		d.state, d.scratch = stHashref, d.scratch[:0]
	case charDeclare:
		d.state, d.scratch = stDeclareFP, d.scratch[:0]
	default:
		return nil, protocolErrorf("unknown discriminator 0x%x", marker)
	}
	return p, nil
}

// collect accumulates need bytes of a multi-byte field across calls,
// invoking finish once the field is complete.
func (d *Decoder) collect(p []byte, need int, finish func() error) ([]byte, error) {
	n := need - len(d.scratch)
	if n > len(p) {
		n = len(p)
	}
	d.scratch = append(d.scratch, p[:n]...)
	p = p[n:]
	if len(d.scratch) < need {
		return p, nil
	}
	if err := finish(); err != nil {
		return nil, err
	}
	if d.state == stDeclareFP {
		// A DECLARE's fp is complete; its chunk follows.
		d.state, d.scratch = stDeclareChunk, d.scratch[:0]
	} else {
		d.state = stLiteral
	}
	return p, nil
}

func (d *Decoder) finishBackref() error {
	d.stats.Backrefs++
	idx := int(d.scratch[0])
	chunk, ok := d.hist.at(idx)
	if !ok {
		return protocolErrorf("backref index %d outside last %d chunks", idx, BackrefHistory)
	}
	d.hist.push(chunk)
	return d.appendReady(chunk[:])
}

func (d *Decoder) finishHashref() error {
	d.stats.Hashrefs++
	fp := FP(binary.BigEndian.Uint64(d.scratch))
	if chunk, ok := d.dict.Lookup(fp); ok {
		d.hist.push(chunk)
		return d.appendReady(chunk[:])
	}

	d.queue = append(d.queue, &segment{fp: fp})
	d.blocked++
	if _, already := d.asked[fp]; !already {
		d.asked[fp] = struct{}{}
		d.stats.Asks++
		if d.askFunc != nil {
			d.askFunc(fp)
		}
	}
	return nil
}

func (d *Decoder) finishDeclareFP() error {
	d.needFP = FP(binary.BigEndian.Uint64(d.scratch))
	return nil
}

func (d *Decoder) finishDeclareChunk() error {
	var chunk Chunk
	copy(chunk[:], d.scratch)
	return d.handleDeclare(d.needFP, chunk)
}

// handleDeclare inserts (fp, chunk) — proactive DECLARE or a LEARN reply,
// indistinguishable on the wire — and resolves every segment blocked on
// fp, in queue order.
func (d *Decoder) handleDeclare(fp FP, chunk Chunk) error {
	d.stats.Declares++
	switch d.dict.Insert(fp, chunk) {
	case Collision:
		return errors.Wrapf(ErrFingerprintCollision, "fp=%x", uint64(fp))
	}
	delete(d.asked, fp)

	for _, seg := range d.queue {
		if seg.ready || seg.fp != fp {
			continue
		}
		seg.ready = true
		seg.data = append([]byte(nil), chunk[:]...)
		d.blocked--
		d.hist.push(chunk)
	}
	return d.flush()
}

// appendReady appends literal bytes to the tail of the output queue,
// opening a new ready segment if the tail is blocked or the queue is
// empty, then flushes whatever is now deliverable.
func (d *Decoder) appendReady(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var tail *segment
	if n := len(d.queue); n > 0 {
		tail = d.queue[n-1]
	}
	if tail == nil || !tail.ready {
		tail = &segment{ready: true}
		d.queue = append(d.queue, tail)
	}
	tail.data = append(tail.data, b...)
	return d.flush()
}

// flush writes every ready segment at the front of the queue downstream,
// stopping at the first still-blocked segment, to preserve input order.
func (d *Decoder) flush() error {
	for len(d.queue) > 0 && d.queue[0].ready {
		seg := d.queue[0]
		d.queue = d.queue[1:]
		if len(seg.data) == 0 {
			continue
		}
		if _, err := d.out.Write(seg.data); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the fingerprints currently blocking output, in queue
// order (earliest first). Exposed for tests and admin introspection.
func (d *Decoder) Pending() []FP {
	if d.blocked == 0 {
		return nil
	}
	fps := make([]FP, 0, d.blocked)
	for _, seg := range d.queue {
		if !seg.ready {
			fps = append(fps, seg.fp)
		}
	}
	return fps
}

// Close reports end-of-stream handling: a stream that ends inside a
// token is a protocol error, and any segment still blocked becomes an
// UnresolvedReference error.
func (d *Decoder) Close() error {
	if err := d.flush(); err != nil {
		return err
	}
	if d.state != stLiteral {
		return protocolErrorf("stream ended inside a token")
	}
	if d.blocked > 0 {
		return errors.Wrapf(ErrUnresolvedReference, "%d chunk(s) never resolved", d.blocked)
	}
	return nil
}

func indexSpecial(b []byte) int {
	for i, c := range b {
		if isSpecial(c) {
			return i
		}
	}
	return -1
}
