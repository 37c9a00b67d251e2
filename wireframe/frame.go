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

// Package wireframe multiplexes an XCodec token stream and its ASK
// control channel over a single net.Conn.
//
// xcodec's escaped token grammar only has four reserved discriminators
// (HASHREF/ESCAPE/DECLARE/BACKREF), leaving no in-band byte free for ASK.
// wireframe solves this the way a transport layer usually does: an outer
// envelope carries a type and a length, and everything XCodec emits
// travels as the payload of a DATA frame. ASK travels as its own frame
// type instead of being squeezed into the token grammar.
package wireframe

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/packetd/xcproxy/xcodec"
)

// Type discriminates a frame's payload.
type Type byte

const (
	// Data carries a slice of the XCodec token stream, unmodified.
	Data Type = 0x01
	// Ask carries a single 8-byte big-endian fingerprint the sender could
	// not resolve; the receiver is expected to reply with a DECLARE
	// inside its own Data stream ("LEARN").
	Ask Type = 0x02
)

func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case Ask:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

const (
	headerLen = 1 + 4
	// MaxPayload bounds a single frame so a corrupt or hostile length
	// field cannot force an unbounded allocation.
	MaxPayload = 1 << 24 // 16 MiB
)

func newError(format string, args ...any) error {
	format = "wireframe: " + format
	return errors.Errorf(format, args...)
}

var (
	ErrUnknownType    = newError("unknown frame type")
	ErrPayloadTooLong = newError("payload exceeds MaxPayload")
	ErrShortAskFrame  = newError("ASK frame payload must be 8 bytes")
)

// Frame is one decoded envelope: a type and its payload.
type Frame struct {
	Type    Type
	Payload []byte
}

// WriteData wraps payload (raw XCodec token bytes) in a Data frame.
func WriteData(w io.Writer, payload []byte) error {
	return writeFrame(w, Data, payload)
}

// WriteAsk wraps fp in an Ask frame.
func WriteAsk(w io.Writer, fp xcodec.FP) error {
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], uint64(fp))
	return writeFrame(w, Ask, payload[:])
}

func writeFrame(w io.Writer, t Type, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLong
	}
	var header [headerLen]byte
	header[0] = byte(t)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// Reader reads a sequence of Frames off r, an ordered byte stream such as
// a net.Conn. Reader is not safe for concurrent use.
type Reader struct {
	r   io.Reader
	buf []byte
}

// NewReader returns a Reader that pulls frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame blocks until a full frame has been read, or returns the
// underlying read error (io.EOF included) if the stream ends cleanly on a
// frame boundary.
//
// The returned Frame.Payload aliases Reader's internal buffer and is only
// valid until the next ReadFrame call; callers that need to retain it
// must copy.
func (fr *Reader) ReadFrame() (Frame, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return Frame{}, err
	}

	t := Type(header[0])
	if t != Data && t != Ask {
		return Frame{}, errors.Wrapf(ErrUnknownType, "0x%x", header[0])
	}

	n := binary.BigEndian.Uint32(header[1:])
	if n > MaxPayload {
		return Frame{}, ErrPayloadTooLong
	}
	if t == Ask && n != 8 {
		return Frame{}, ErrShortAskFrame
	}

	if cap(fr.buf) < int(n) {
		fr.buf = make([]byte, n)
	}
	payload := fr.buf[:n]
	if n > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: t, Payload: payload}, nil
}

// AskFingerprint decodes an Ask frame's payload. The caller must have
// checked f.Type == Ask.
func AskFingerprint(f Frame) xcodec.FP {
	return xcodec.FP(binary.BigEndian.Uint64(f.Payload))
}
