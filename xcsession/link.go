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

// Package xcsession wires a pair of xcodec Encoder/Decoder onto a real
// net.Conn running the wireframe envelope, one Link per proxy-to-proxy
// connection.
package xcsession

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/packetd/xcproxy/internal/rescue"
	"github.com/packetd/xcproxy/logger"
	"github.com/packetd/xcproxy/wireframe"
	"github.com/packetd/xcproxy/xcodec"
)

func newError(format string, args ...any) error {
	format = "xcsession: " + format
	return errors.Errorf(format, args...)
}

var ErrLinkClosed = newError("link closed")

// frameWriter serializes DATA and ASK frames onto one net.Conn. The
// encode path (application bytes -> token stream) and the decoder's ASK
// callback run on different goroutines and both write to the same
// connection, so every write is taken under mu.
type frameWriter struct {
	mu      sync.Mutex
	w       io.Writer
	written uint64
}

func (fw *frameWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if err := wireframe.WriteData(fw.w, p); err != nil {
		return 0, err
	}
	atomic.AddUint64(&fw.written, uint64(len(p)))
	return len(p), nil
}

func (fw *frameWriter) writeAsk(fp xcodec.FP) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return wireframe.WriteAsk(fw.w, fp)
}

// countingWriter tallies bytes handed to an underlying io.Writer, used to
// track plaintext bytes a Decoder has delivered to the local application.
type countingWriter struct {
	w    io.Writer
	read uint64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	atomic.AddUint64(&cw.read, uint64(n))
	return n, err
}

// Stats is a point-in-time snapshot of one Link's traffic, dictionary
// sizes, and token mix, used for metrics.
type Stats struct {
	ID          string
	Remote      string
	OpenedAt    time.Time
	BytesOut    uint64
	BytesIn     uint64
	EncDictSize int
	DecDictSize int
	Enc         xcodec.Stats
	Dec         xcodec.DecoderStats
}

// Link owns one direction's xcodec.Encoder (application bytes in, token
// stream out over conn) and the opposite direction's xcodec.Decoder
// (token stream in from conn, application bytes out). Both share the
// dictionaries private to this Link; the peer on the other end of conn
// runs its own Link with the mirrored pairing.
type Link struct {
	id       string
	conn     net.Conn
	openedAt time.Time

	fw *frameWriter

	// encMu guards enc and encDict: Write (the pump goroutine) and
	// Learn (Serve's goroutine, on an inbound ASK) both mutate the
	// encoder's pending buffer, stats, and dictionary, so every access
	// to either goes through encMu rather than relying on frameWriter's
	// lock, which only serializes the final socket write.
	encMu sync.Mutex
	enc   *xcodec.Encoder

	// decMu guards dec and decDict for the same reason, and so Stats
	// can snapshot them without racing Serve's map writes.
	decMu sync.Mutex
	dec   *xcodec.Decoder

	encDict *xcodec.Dictionary
	decDict *xcodec.Dictionary

	appOut *countingWriter

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn in a Link that decodes inbound token frames into appOut
// (typically the local application's own connection) and exposes Write
// for encoding outbound application bytes onto conn. Its dictionaries are
// unbounded; use NewWithDictionaryCapacity for the bounded/LRU mode.
func New(conn net.Conn, appOut io.Writer) *Link {
	return newLink(conn, appOut, 0)
}

// NewWithDictionaryCapacity is New with both of the Link's dictionaries
// bounded to capacity entries (xcodec.NewBoundedDictionary). A capacity
// of 0 is equivalent to New.
func NewWithDictionaryCapacity(conn net.Conn, appOut io.Writer, capacity int) *Link {
	return newLink(conn, appOut, capacity)
}

func newLink(conn net.Conn, appOut io.Writer, capacity int) *Link {
	var encDict, decDict *xcodec.Dictionary
	if capacity > 0 {
		encDict = xcodec.NewBoundedDictionary(capacity)
		decDict = xcodec.NewBoundedDictionary(capacity)
	} else {
		encDict = xcodec.NewDictionary()
		decDict = xcodec.NewDictionary()
	}
	fw := &frameWriter{w: conn}
	cw := &countingWriter{w: appOut}

	l := &Link{
		id:       uuid.New().String(),
		conn:     conn,
		openedAt: time.Now(),
		fw:       fw,
		encDict:  encDict,
		decDict:  decDict,
		appOut:   cw,
		closed:   make(chan struct{}),
	}
	l.enc = xcodec.NewEncoder(fw, encDict)
	l.dec = xcodec.NewDecoder(cw, decDict, l.onAsk)
	return l
}

// ID returns the Link's session identifier, stable for its lifetime.
func (l *Link) ID() string { return l.id }

func (l *Link) onAsk(fp xcodec.FP) {
	if err := l.fw.writeAsk(fp); err != nil {
		logger.Errorf("xcsession: link %s: failed to send ASK: %s", l.id, err)
	}
}

// Write encodes p (plaintext application bytes) and sends the resulting
// token stream to the peer. Write flushes the encoder at the end of
// every call: p is assumed to be one read's worth of application data,
// and a proxied connection cannot wait for a full chunk window to fill
// before forwarding what it already has (xcodec.Encoder.Flush).
//
// Write takes encMu for its whole body, so it cannot interleave with a
// Learn call answering an inbound ASK on Serve's goroutine.
func (l *Link) Write(p []byte) (int, error) {
	select {
	case <-l.closed:
		return 0, ErrLinkClosed
	default:
	}

	l.encMu.Lock()
	defer l.encMu.Unlock()

	n, err := l.enc.Write(p)
	if err != nil {
		return n, err
	}
	return n, l.enc.Flush()
}

// Serve reads wireframe envelopes off conn until it errors or the Link is
// closed, demuxing DATA frames into the Decoder and ASK frames into the
// Encoder's Learn. It blocks; callers run it in its own goroutine.
func (l *Link) Serve() error {
	defer rescue.HandleCrash()

	r := wireframe.NewReader(l.conn)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			return err
		}

		switch f.Type {
		case wireframe.Data:
			l.decMu.Lock()
			err := l.dec.Decode(f.Payload)
			l.decMu.Unlock()
			if err != nil {
				return err
			}
		case wireframe.Ask:
			fp := wireframe.AskFingerprint(f)
			l.encMu.Lock()
			err := l.enc.Learn(fp)
			l.encMu.Unlock()
			if err != nil {
				logger.Errorf("xcsession: link %s: failed to answer ASK for %x: %s", l.id, uint64(fp), err)
			}
		}

		select {
		case <-l.closed:
			return ErrLinkClosed
		default:
		}
	}
}

// Close flushes both directions and closes the underlying connection.
// Safe to call more than once and concurrently with Serve.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)

		l.encMu.Lock()
		e := l.enc.Close()
		l.encMu.Unlock()
		if e != nil {
			err = e
		}

		l.decMu.Lock()
		e = l.dec.Close()
		l.decMu.Unlock()
		if e != nil && err == nil {
			err = e
		}

		if e := l.conn.Close(); e != nil && err == nil {
			err = e
		}
	})
	return err
}

// Stats returns a snapshot of the Link's traffic counters. Called from
// the /metrics scrape goroutine, so the encoder and decoder sides are
// each read under the same mutex that guards their mutation, rather than
// racing encDict/decDict's map reads against Write/Serve's map writes.
func (l *Link) Stats() Stats {
	l.encMu.Lock()
	encDictSize := l.encDict.Len()
	encStats := l.enc.Stats()
	l.encMu.Unlock()

	l.decMu.Lock()
	decDictSize := l.decDict.Len()
	decStats := l.dec.Stats()
	l.decMu.Unlock()

	return Stats{
		ID:          l.id,
		Remote:      l.conn.RemoteAddr().String(),
		OpenedAt:    l.openedAt,
		BytesOut:    atomic.LoadUint64(&l.fw.written),
		BytesIn:     atomic.LoadUint64(&l.appOut.read),
		EncDictSize: encDictSize,
		DecDictSize: decDictSize,
		Enc:         encStats,
		Dec:         decStats,
	}
}
