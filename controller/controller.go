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
	"context"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/packetd/xcproxy/common"
	"github.com/packetd/xcproxy/confengine"
	"github.com/packetd/xcproxy/internal/pubsub"
	"github.com/packetd/xcproxy/internal/rescue"
	"github.com/packetd/xcproxy/internal/zerocopy"
	"github.com/packetd/xcproxy/logger"
	"github.com/packetd/xcproxy/server"
	"github.com/packetd/xcproxy/xcsession"
)

// Controller owns one side of an xcproxy link: the admin Server, the
// xcsession.Manager tracking every proxied connection, and the accept
// loop appropriate to its Mode.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg       Config
	mode      Mode
	buildInfo common.BuildInfo

	svr *server.Server
	mgr *xcsession.Manager
	bus *pubsub.PubSub

	ln net.Listener
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = "xcproxy.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

// New builds a Controller for the given Mode from conf's "proxy",
// "dictionary", "server", and "logger" keys.
func New(conf *confengine.Config, mode Mode, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.Unpack(&cfg); err != nil {
		return nil, err
	}
	if cfg.Proxy.Address == "" {
		return nil, errors.New("controller: proxy.address must be set")
	}
	if cfg.Proxy.Peer == "" {
		return nil, errors.New("controller: proxy.peer must be set")
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	mgr := xcsession.NewManager()
	if cfg.Dictionary.Capacity > 0 {
		mgr.SetDictionaryCapacity(cfg.Dictionary.Capacity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		mode:      mode,
		buildInfo: buildInfo,
		svr:       svr,
		mgr:       mgr,
		bus:       pubsub.New(),
	}, nil
}

// Start runs the admin Server (if enabled) and the accept loop for the
// Controller's Mode. It returns once the listener is bound; connection
// handling continues in background goroutines.
func (c *Controller) Start() error {
	c.setupServer()

	if c.svr != nil {
		go func() {
			err := c.svr.ListenAndServe()
			if !errors.Is(err, io.EOF) {
				logger.Errorf("failed to start server: %v", err)
			}
		}()
	}

	switch c.mode {
	case ModeListen:
		return c.startAccept(c.cfg.Proxy.Address, c.dialPeer)
	case ModeConnect:
		return c.startAccept(c.cfg.Proxy.Peer, c.dialApp)
	default:
		return errors.Errorf("controller: unknown mode %q", c.mode)
	}
}

// Addr returns the accept listener's bound address, useful when the
// configured address ends in ":0" and the actual port is assigned by
// the kernel. It is nil until Start has returned successfully.
func (c *Controller) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// startAccept listens on addr and, for each accepted connection, dials
// its counterpart via pair and wires both into a Link.
func (c *Controller) startAccept(addr string, pair func() (net.Conn, error)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	c.ln = ln
	logger.Infof("controller: %s listening on %s", c.mode, addr)

	go func() {
		for {
			first, err := ln.Accept()
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				logger.Errorf("controller: accept failed: %v", err)
				continue
			}
			go c.pairAndServe(first, pair)
		}
	}()
	return nil
}

func (c *Controller) dialPeer() (net.Conn, error) {
	return net.DialTimeout("tcp", c.cfg.Proxy.Peer, c.cfg.dialTimeout())
}

func (c *Controller) dialApp() (net.Conn, error) {
	return net.DialTimeout("tcp", c.cfg.Proxy.Address, c.cfg.dialTimeout())
}

// pairAndServe dials the other leg of the connection and, once both
// sides are up, hands them to a Link and pumps plaintext bytes into it
// until either side closes.
//
// In ModeListen, first is the plaintext application connection and the
// dial produces the encoded peer connection; in ModeConnect it's the
// reverse. Either way xcsession.Link wants (peerConn, appConn).
func (c *Controller) pairAndServe(first net.Conn, dialOther func() (net.Conn, error)) {
	second, err := dialOther()
	if err != nil {
		logger.Errorf("controller: dial failed for %s: %v", first.RemoteAddr(), err)
		first.Close()
		return
	}

	var peerConn, appConn net.Conn
	if c.mode == ModeListen {
		appConn, peerConn = first, second
	} else {
		peerConn, appConn = first, second
	}

	defer rescue.HandleCrash()

	link := c.mgr.Open(peerConn, appConn)
	c.bus.Publish(fmt.Sprintf("link %s opened app=%s peer=%s", link.ID(), appConn.RemoteAddr(), peerConn.RemoteAddr()))
	defer func() {
		link.Close()
		appConn.Close()
		c.bus.Publish(fmt.Sprintf("link %s closed", link.ID()))
	}()

	buf := make([]byte, common.ReadWriteBlockSize)
	for {
		n, err := appConn.Read(buf)
		if n > 0 {
			// zerocopy.Buffer hands the just-read slice to the Link
			// without an intermediate copy; Link.Write consumes and
			// flushes it synchronously before this loop reuses buf.
			zc := zerocopy.NewBuffer(buf[:n])
			for {
				chunk, rerr := zc.Read(common.ReadWriteBlockSize)
				if rerr != nil {
					break
				}
				if _, werr := link.Write(chunk); werr != nil {
					logger.Errorf("controller: link %s write failed: %v", link.ID(), werr)
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugf("controller: link %s app read ended: %v", link.ID(), err)
			}
			return
		}
	}
}

// Reload re-reads conf's "logger" key; the dictionary and proxy topology
// are fixed for the Controller's lifetime.
func (c *Controller) Reload(conf *confengine.Config) error {
	return setupLogger(conf)
}

// Stop tears down every open Link, closes the accept listener, and
// cancels the Controller's context.
func (c *Controller) Stop() {
	if c.ln != nil {
		c.ln.Close()
	}
	if err := c.mgr.CloseAll(); err != nil {
		logger.Errorf("controller: error closing links: %v", err)
	}
	c.cancel()
}
