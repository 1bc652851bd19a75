/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

package server

import (
	"bytes"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"unit3d-announce/collector"
	"unit3d-announce/config"
	"unit3d-announce/store"
)

const bearerPrefix = "Bearer "

// metrics writes the normal-gatherer's unauthenticated gauges, then — only
// when the request carries the configured APIKEY as a bearer token —
// appends the process-wide default-gatherer metrics (Go runtime and
// process stats) that aren't safe to expose publicly (§6, §4.7).
func (h *httpHandler) metrics(ctx *fasthttp.RequestCtx, st *store.Store, buf *bytes.Buffer) int {
	stats := st.Stats()

	collector.UpdateUptime(stats.Uptime)
	collector.UpdateUsers(stats.Users)
	collector.UpdateTorrents(stats.Torrents)
	collector.UpdatePeers(stats.Peers)
	collector.UpdateClients(stats.Clients)
	collector.UpdateHitAndRuns(stats.HitAndRuns)
	collector.UpdateRequests(atomic.LoadUint64(&h.requests))

	mfs, _ := h.registerer.(prometheus.Gatherer).Gather()

	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(buf, mf); err != nil {
			slog.Error("failed to render metric family", "err", err)
			return fasthttp.StatusInternalServerError
		}
	}

	cfg := config.Current()

	auth := string(ctx.Request.Header.Peek("Authorization"))
	if cfg.APIKey != "" && len(auth) > len(bearerPrefix) && auth[:len(bearerPrefix)] == bearerPrefix && auth[len(bearerPrefix):] == cfg.APIKey {
		mfs, _ = prometheus.DefaultGatherer.Gather()

		for _, mf := range mfs {
			if _, err := expfmt.MetricFamilyToText(buf, mf); err != nil {
				slog.Error("failed to render default-gatherer metric family", "err", err)
				return fasthttp.StatusInternalServerError
			}
		}
	}

	return fasthttp.StatusOK
}
