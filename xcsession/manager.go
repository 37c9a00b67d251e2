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

package xcsession

import (
	"io"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/packetd/xcproxy/logger"
)

// Manager tracks every Link currently proxying a connection, so the
// controller can report aggregate metrics and close sessions one at a
// time or all at once.
type Manager struct {
	mut          sync.RWMutex
	links        map[string]*Link
	dictCapacity int
}

// NewManager returns an empty Manager whose Links get unbounded
// dictionaries. Use SetDictionaryCapacity to switch to bounded/LRU mode.
func NewManager() *Manager {
	return &Manager{links: make(map[string]*Link)}
}

// SetDictionaryCapacity bounds the dictionaries of every Link opened
// afterwards to n entries each (0 restores unbounded). Links already
// open are unaffected.
func (m *Manager) SetDictionaryCapacity(n int) {
	m.mut.Lock()
	defer m.mut.Unlock()
	m.dictCapacity = n
}

// Open wraps conn in a new Link, registers it, and starts serving it in
// a background goroutine. The Link is automatically unregistered once
// Serve returns.
func (m *Manager) Open(conn net.Conn, appOut io.Writer) *Link {
	m.mut.RLock()
	capacity := m.dictCapacity
	m.mut.RUnlock()

	l := newLink(conn, appOut, capacity)

	m.mut.Lock()
	m.links[l.ID()] = l
	m.mut.Unlock()

	go func() {
		if err := l.Serve(); err != nil {
			logger.Debugf("xcsession: link %s ended: %s", l.ID(), err)
		}
		m.remove(l.ID())
	}()

	return l
}

func (m *Manager) remove(id string) {
	m.mut.Lock()
	defer m.mut.Unlock()
	delete(m.links, id)
}

// Close terminates and unregisters the Link with the given ID, if open.
func (m *Manager) Close(id string) error {
	m.mut.RLock()
	l, ok := m.links[id]
	m.mut.RUnlock()
	if !ok {
		return nil
	}
	return l.Close()
}

// Len returns the number of currently open Links.
func (m *Manager) Len() int {
	m.mut.RLock()
	defer m.mut.RUnlock()
	return len(m.links)
}

// List returns a Stats snapshot for every currently open Link.
func (m *Manager) List() []Stats {
	m.mut.RLock()
	defer m.mut.RUnlock()

	stats := make([]Stats, 0, len(m.links))
	for _, l := range m.links {
		stats = append(stats, l.Stats())
	}
	return stats
}

// CloseAll closes every open Link, aggregating any errors encountered.
func (m *Manager) CloseAll() error {
	m.mut.RLock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mut.RUnlock()

	var result *multierror.Error
	for _, l := range links {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
