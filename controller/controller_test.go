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

package controller

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/xcproxy/common"
	"github.com/packetd/xcproxy/confengine"
)

// startEcho runs a trivial TCP echo server and returns its address.
func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						if _, werr := conn.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func newTestController(t *testing.T, mode Mode, address, peer string) *Controller {
	t.Helper()
	conf, err := confengine.LoadContent([]byte(`
proxy:
  address: ` + address + `
  peer: ` + peer + `
logger:
  stdout: true
  level: error
server:
  enabled: false
`))
	require.NoError(t, err)

	ctr, err := New(conf, mode, common.BuildInfo{Version: "test"})
	require.NoError(t, err)
	require.NoError(t, ctr.Start())
	t.Cleanup(ctr.Stop)
	return ctr
}

// TestControllerProxiesEchoThroughBothModes wires a ModeConnect
// controller in front of a plain echo server and a ModeListen
// controller as the client-facing leg, and verifies bytes written to
// the ModeListen side round-trip back byte-exact after passing through
// both directions of XCodec encoding twice.
func TestControllerProxiesEchoThroughBothModes(t *testing.T) {
	echoAddr := startEcho(t)

	// ModeConnect binds Proxy.Peer and dials Proxy.Address (the echo
	// server). Bind its peer port to :0 and discover it afterwards.
	connectCtr := newTestController(t, ModeConnect, echoAddr, "127.0.0.1:0")
	peerAddr := connectCtr.Addr().String()

	// ModeListen binds Proxy.Address (the client-facing leg) and dials
	// Proxy.Peer (the ModeConnect controller above).
	listenCtr := newTestController(t, ModeListen, "127.0.0.1:0", peerAddr)
	clientAddr := listenCtr.Addr().String()

	conn, err := net.DialTimeout("tcp", clientAddr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	msg := []byte("round trip through two xcodec links and back")
	_, err = conn.Write(msg)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(msg))
	_, err = readFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestControllerRejectsMissingAddress(t *testing.T) {
	conf, err := confengine.LoadContent([]byte(`proxy:
  peer: "127.0.0.1:9000"
logger:
  stdout: true
server:
  enabled: false
`))
	require.NoError(t, err)

	_, err = New(conf, ModeListen, common.BuildInfo{})
	assert.Error(t, err)
}
