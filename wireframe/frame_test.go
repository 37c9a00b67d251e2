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

package wireframe

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/xcproxy/xcodec"
)

func TestWriteReadDataFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteData(&buf, []byte("token bytes")))

	r := NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Data, f.Type)
	assert.Equal(t, []byte("token bytes"), f.Payload)
}

func TestWriteReadAskFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteAsk(&buf, xcodec.FP(0xdeadbeef)))

	r := NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Ask, f.Type)
	assert.Equal(t, xcodec.FP(0xdeadbeef), AskFingerprint(f))
}

func TestReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteData(&buf, []byte("first")))
	require.NoError(t, WriteAsk(&buf, 42))
	require.NoError(t, WriteData(&buf, []byte("second")))

	r := NewReader(&buf)

	f1, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Data, f1.Type)
	assert.Equal(t, []byte("first"), f1.Payload)

	f2, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Ask, f2.Type)
	assert.Equal(t, xcodec.FP(42), AskFingerprint(f2))

	f3, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Data, f3.Type)
	assert.Equal(t, []byte("second"), f3.Payload)

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteData(&buf, nil))

	r := NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Data, f.Type)
	assert.Empty(t, f.Payload)
}

func TestReadFrameUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x09, 0, 0, 0, 0})

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestReadFrameShortAsk(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{byte(Ask), 0, 0, 0, 3})
	buf.Write([]byte{1, 2, 3})

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrShortAskFrame)
}

func TestReadFrameTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteData(&buf, []byte("hello")))
	truncated := buf.Bytes()[:headerLen+2]

	r := NewReader(bytes.NewReader(truncated))
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
