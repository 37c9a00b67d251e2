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

import "time"

// Mode selects which side of the link a Controller plays.
type Mode string

const (
	// ModeListen accepts plaintext application connections on
	// Config.Proxy.Address and dials the peer node at Config.Proxy.Peer.
	ModeListen Mode = "listen"

	// ModeConnect accepts encoded peer connections on Config.Proxy.Peer
	// and dials the local application at Config.Proxy.Address.
	ModeConnect Mode = "connect"
)

// Config is unpacked from the top-level "proxy" and "dictionary" config
// keys.
type Config struct {
	Proxy struct {
		// Address is the plaintext endpoint: bound in ModeListen,
		// dialed in ModeConnect.
		Address string `config:"address"`

		// Peer is the encoded endpoint: dialed in ModeListen, bound
		// in ModeConnect.
		Peer string `config:"peer"`

		DialTimeout time.Duration `config:"dialTimeout"`
	} `config:"proxy"`

	// Dictionary bounds each Link's dictionaries to an LRU working set.
	// Zero (the default) leaves dictionaries unbounded.
	Dictionary struct {
		Capacity int `config:"capacity"`
	} `config:"dictionary"`
}

func (c Config) dialTimeout() time.Duration {
	if c.Proxy.DialTimeout <= 0 {
		return 10 * time.Second
	}
	return c.Proxy.DialTimeout
}
