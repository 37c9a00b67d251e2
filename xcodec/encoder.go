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

	"github.com/valyala/bytebufferpool"
)

// Encoder buffers input bytes, maintains a rolling hash over the trailing
// Window bytes of unemitted input, and writes the resulting token stream
// (literal | escape | declare | backref | hashref) to w.
//
// Encoder is not safe for concurrent use; one instance owns one direction
// of one connection.
type Encoder struct {
	dict *Dictionary
	hash *RollingHash
	hist *backrefHistory
	w    io.Writer

	pending []byte
	out     *bytebufferpool.ByteBuffer
	closed  bool

	stats Stats
}

// Stats counts the tokens an Encoder has emitted, for metrics reporting.
type Stats struct {
	Literals uint64
	Backrefs uint64
	Hashrefs uint64
	Declares uint64
	Learns   uint64
}

// Stats returns a snapshot of the Encoder's emitted-token counters.
func (e *Encoder) Stats() Stats { return e.stats }

// NewEncoder returns an Encoder that reads chunk declarations and
// known-to-peer state from dict and writes its token stream to w.
func NewEncoder(w io.Writer, dict *Dictionary) *Encoder {
	return &Encoder{
		dict: dict,
		hash: NewRollingHash(),
		hist: newBackrefHistory(),
		w:    w,
		out:  bytebufferpool.Get(),
	}
}

// Write feeds input bytes through the encoder. It implements io.Writer;
// every call ends with the accumulated token stream flushed to the
// underlying writer. Bytes that are part of a possible chunk match still
// in progress are buffered in pending across calls — callers that need a
// hard latency bound on forwarding (see Flush) must request it
// explicitly, since flushing early costs dedup opportunity.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.closed {
		return 0, ErrClosed
	}
	for _, b := range p {
		if err := e.step(b); err != nil {
			return 0, err
		}
	}
	if err := e.flushOut(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush forces every currently buffered byte out as a literal and
// abandons whatever partial chunk match was in progress, then sends the
// result to w. A live proxy calls this at the end of each read from the
// application connection: without it, a short or idle burst of traffic
// could sit in pending indefinitely waiting for a full Window, since
// only Close (end of stream) would otherwise drain it. This trades the
// dedup opportunity of buffering across read boundaries for a bounded
// forwarding latency.
func (e *Encoder) Flush() error {
	if e.closed {
		return ErrClosed
	}
	for len(e.pending) > 0 {
		if err := e.literalOne(); err != nil {
			return err
		}
	}
	e.hash.Reset()
	return e.flushOut()
}

// step processes one new input byte through the encoding protocol.
func (e *Encoder) step(b byte) error {
	e.pending = append(e.pending, b)
	fp := e.hash.Roll(b)
	if !e.hash.Ready() {
		return nil
	}

	chunk := e.hash.Bytes()

	if existing, ok := e.dict.Lookup(fp); ok {
		if existing != chunk {
			// Fingerprint collision: discard this fp for this
			// occurrence rather than emit a corrupt reference.
			return e.literalOne()
		}
		return e.emitReference(fp, chunk)
	}

	// First sighting of this fp: record it, but it cannot be
	// referenced until the peer has actually seen it once as a literal.
	e.dict.Insert(fp, chunk)
	return e.literalOne()
}

// literalOne emits the oldest pending byte as a literal and slides the
// window forward by one byte.
func (e *Encoder) literalOne() error {
	b := e.pending[0]
	e.pending = e.pending[1:]
	return e.writeLiteral(b)
}

// emitReference flushes the unmatched prefix ahead of chunk as literals,
// emits the cheapest reference available for chunk (BACKREF, then
// HASHREF, then DECLARE+HASHREF for chunks the peer has never heard of),
// and resets the window so the next candidate match starts clean right
// after the consumed bytes.
func (e *Encoder) emitReference(fp FP, chunk Chunk) error {
	prefix := e.pending[:len(e.pending)-Window]
	for _, b := range prefix {
		if err := e.writeLiteral(b); err != nil {
			return err
		}
	}

	var err error
	switch idx := e.hist.indexOf(chunk); {
	case idx >= 0:
		err = e.writeBackref(idx)
	case e.dict.HasPeer(fp):
		err = e.writeHashref(fp)
	default:
		if err = e.writeDeclare(fp, chunk); err != nil {
			return err
		}
		e.dict.MarkPeer(fp)
		err = e.writeHashref(fp)
	}
	if err != nil {
		return err
	}

	e.hist.push(chunk)
	e.pending = e.pending[:0]
	e.hash.Reset()
	return nil
}

func (e *Encoder) writeLiteral(b byte) error {
	e.stats.Literals++
	if isSpecial(b) {
		e.out.WriteByte(charEscape)
	}
	return e.out.WriteByte(b)
}

func (e *Encoder) writeBackref(idx int) error {
	e.stats.Backrefs++
	e.out.WriteByte(charBackref)
	return e.out.WriteByte(byte(idx))
}

func (e *Encoder) writeHashref(fp FP) error {
	e.stats.Hashrefs++
	e.out.WriteByte(charHashref)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(fp))
	_, err := e.out.Write(b[:])
	return err
}

func (e *Encoder) writeDeclare(fp FP, chunk Chunk) error {
	e.stats.Declares++
	e.out.WriteByte(charDeclare)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(fp))
	if _, err := e.out.Write(b[:]); err != nil {
		return err
	}
	_, err := e.out.Write(chunk[:])
	return err
}

// Learn answers a peer's ASK for fp: if this encoder's dictionary still
// holds fp (it must, since this encoder is the one that originally
// declared or referenced it), it re-emits DECLARE — which is exactly
// LEARN's wire shape, since a decoder treats both identically — and
// marks the peer as now knowing it.
func (e *Encoder) Learn(fp FP) error {
	chunk, ok := e.dict.Lookup(fp)
	if !ok {
		return newError("cannot LEARN unknown fp %x", uint64(fp))
	}
	if err := e.writeDeclare(fp, chunk); err != nil {
		return err
	}
	e.stats.Learns++
	e.dict.MarkPeer(fp)
	return e.flushOut()
}

func (e *Encoder) flushOut() error {
	if e.out.Len() == 0 {
		return nil
	}
	_, err := e.w.Write(e.out.B)
	e.out.Reset()
	return err
}

// Close flushes any buffered tail shorter than Window as literals and
// releases the encoder's pooled output buffer. The Encoder must not be
// used afterwards.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	for len(e.pending) > 0 {
		if err := e.literalOne(); err != nil {
			return err
		}
	}
	err := e.flushOut()
	bytebufferpool.Put(e.out)
	return err
}
