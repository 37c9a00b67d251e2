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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/xcproxy/common"
)

var (
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	linksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "links_active",
			Help:      "Currently open proxy links",
		},
	)

	bytesIn = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "bytes_in_total",
			Help:      "Plaintext bytes decoded and delivered across all links",
		},
	)

	bytesOut = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "bytes_out_total",
			Help:      "Encoded token-stream bytes sent to the peer across all links",
		},
	)

	dictionaryEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "dictionary_entries",
			Help:      "Chunks currently held in a link's dictionary",
		},
		[]string{"direction"},
	)

	tokensEmitted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "tokens_emitted_total",
			Help:      "Encoder tokens emitted across all links, by kind",
		},
		[]string{"kind"},
	)

	asksSent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "asks_total",
			Help:      "ASK frames sent across all links for dictionary misses",
		},
	)
)

// recordMetrics snapshots every open Link's counters into the gauges
// above on each /metrics scrape.
func (c *Controller) recordMetrics() {
	bi := c.buildInfo
	uptime.Set(float64(time.Now().Unix() - common.Started()))
	buildInfo.WithLabelValues(bi.Version, bi.GitHash, bi.Time).Inc()

	stats := c.mgr.List()
	linksActive.Set(float64(len(stats)))

	var in, out uint64
	var encDict, decDict int
	var literals, backrefs, hashrefs, declares, asks uint64

	for _, s := range stats {
		in += s.BytesIn
		out += s.BytesOut
		encDict += s.EncDictSize
		decDict += s.DecDictSize
		literals += s.Enc.Literals
		backrefs += s.Enc.Backrefs
		hashrefs += s.Enc.Hashrefs
		declares += s.Enc.Declares
		asks += s.Dec.Asks
	}

	bytesIn.Set(float64(in))
	bytesOut.Set(float64(out))
	dictionaryEntries.WithLabelValues("encode").Set(float64(encDict))
	dictionaryEntries.WithLabelValues("decode").Set(float64(decDict))
	tokensEmitted.WithLabelValues("literal").Set(float64(literals))
	tokensEmitted.WithLabelValues("backref").Set(float64(backrefs))
	tokensEmitted.WithLabelValues("hashref").Set(float64(hashrefs))
	tokensEmitted.WithLabelValues("declare").Set(float64(declares))
	asksSent.Set(float64(asks))
}
