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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fpBytes(fp FP) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(fp))
	return b[:]
}

func TestDecoderPlainLiteral(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	assert.NoError(t, d.Decode([]byte("hello world")))
	assert.NoError(t, d.Close())
	assert.Equal(t, "hello world", out.String())
}

func TestDecoderUnescapesReservedBytes(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	input := []byte{charEscape, charHashref, 0x01, charEscape, charBackref}
	assert.NoError(t, d.Decode(input))
	assert.NoError(t, d.Close())
	assert.Equal(t, []byte{charHashref, 0x01, charBackref}, out.Bytes())
}

func TestDecoderSplitAcrossMultipleCalls(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	full := []byte{charEscape, charDeclare, 'x', 'y'}
	for _, b := range full {
		assert.NoError(t, d.Decode([]byte{b}))
	}
	assert.NoError(t, d.Close())
	assert.Equal(t, []byte{charDeclare, 'x', 'y'}, out.Bytes())
}

func TestDecoderDeclareThenHashrefResolves(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	chunk := ascendingChunk(0)
	var frame []byte
	frame = append(frame, charDeclare)
	frame = append(frame, fpBytes(42)...)
	frame = append(frame, chunk[:]...)
	frame = append(frame, charHashref)
	frame = append(frame, fpBytes(42)...)

	assert.NoError(t, d.Decode(frame))
	assert.NoError(t, d.Close())
	// DECLARE itself produces no plaintext output; only the HASHREF does.
	assert.Equal(t, chunk[:], out.Bytes())
}

func TestDecoderHashrefBeforeDeclareBlocksThenResolves(t *testing.T) {
	var out bytes.Buffer
	var asked []FP
	d := NewDecoder(&out, NewDictionary(), func(fp FP) { asked = append(asked, fp) })

	chunk := ascendingChunk(0)

	var hashref []byte
	hashref = append(hashref, charHashref)
	hashref = append(hashref, fpBytes(7)...)
	assert.NoError(t, d.Decode([]byte("before-")))
	assert.NoError(t, d.Decode(hashref))
	assert.NoError(t, d.Decode([]byte("-after")))

	// Output is blocked: nothing past "before-" can be delivered yet.
	assert.Equal(t, "before-", out.String())
	assert.Equal(t, []FP{7}, asked)
	assert.Equal(t, []FP{7}, d.Pending())

	var declare []byte
	declare = append(declare, charDeclare)
	declare = append(declare, fpBytes(7)...)
	declare = append(declare, chunk[:]...)
	assert.NoError(t, d.Decode(declare))

	assert.NoError(t, d.Close())
	want := "before-" + string(chunk[:]) + "-after"
	assert.Equal(t, want, out.String())
	assert.Nil(t, d.Pending())
}

func TestDecoderAsksAtMostOncePerFingerprint(t *testing.T) {
	var out bytes.Buffer
	count := 0
	d := NewDecoder(&out, NewDictionary(), func(fp FP) { count++ })

	var hashref []byte
	hashref = append(hashref, charHashref)
	hashref = append(hashref, fpBytes(1)...)

	assert.NoError(t, d.Decode(hashref))
	assert.NoError(t, d.Decode(hashref))
	assert.Equal(t, 1, count)
}

func TestDecoderBackrefResolvesAgainstHistory(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	chunk := ascendingChunk(0)
	var declare []byte
	declare = append(declare, charDeclare)
	declare = append(declare, fpBytes(1)...)
	declare = append(declare, chunk[:]...)
	declare = append(declare, charHashref)
	declare = append(declare, fpBytes(1)...)
	declare = append(declare, charBackref, 0x00)

	assert.NoError(t, d.Decode(declare))
	assert.NoError(t, d.Close())

	want := append(append([]byte{}, chunk[:]...), chunk[:]...)
	assert.Equal(t, want, out.Bytes())
}

func TestDecoderUnknownBackrefIsProtocolError(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	err := d.Decode([]byte{charBackref, 0x05})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecoderDeclareCollisionErrors(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	a := ascendingChunk(0)
	b := ascendingChunk(1)

	var frame []byte
	frame = append(frame, charDeclare)
	frame = append(frame, fpBytes(3)...)
	frame = append(frame, a[:]...)
	assert.NoError(t, d.Decode(frame))

	var frame2 []byte
	frame2 = append(frame2, charDeclare)
	frame2 = append(frame2, fpBytes(3)...)
	frame2 = append(frame2, b[:]...)
	err := d.Decode(frame2)
	assert.ErrorIs(t, err, ErrFingerprintCollision)
}

func TestDecoderCloseReportsUnresolvedReference(t *testing.T) {
	var out bytes.Buffer
	d := NewDecoder(&out, NewDictionary(), nil)

	var hashref []byte
	hashref = append(hashref, charHashref)
	hashref = append(hashref, fpBytes(99)...)
	assert.NoError(t, d.Decode(hashref))

	err := d.Close()
	assert.ErrorIs(t, err, ErrUnresolvedReference)
}
