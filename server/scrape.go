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

	"github.com/valyala/fasthttp"

	"unit3d-announce/server/params"
	"unit3d-announce/store"
	"unit3d-announce/swarm"
	"unit3d-announce/util"
)

const scrapeInterval = 900

// scrape implements §6's "Wire: scrape" contract: a stateless per-torrent
// count query, unknown hashes silently omitted from the response rather
// than failing the whole request.
func scrape(ctx *fasthttp.RequestCtx, user *swarm.User, st *store.Store, buf *bytes.Buffer) int {
	qp := params.ParseQuery(ctx.QueryArgs())

	infoHashes := qp.InfoHashes()
	if len(infoHashes) == 0 {
		writeFailure(buf, newAPIError(parseRejected, "Unsupported request - must provide at least one info_hash"))
		return fasthttp.StatusOK
	}

	byHex := make(map[string]*swarm.Torrent, len(infoHashes))
	keys := make([]string, 0, len(infoHashes))

	for _, h := range infoHashes {
		t, ok := st.TorrentByInfoHash(h)
		if !ok || isDisabledDownload(st, user, t) {
			continue
		}

		hex := swarm.HexInfoHash(h)
		byHex[hex] = t
		keys = append(keys, hex)
	}

	util.BencodeSortHexKeys(keys)

	util.BencodeScrapeHeader(buf)

	for _, hex := range keys {
		t := byHex[hex]

		util.BencodeScrapeTorrent(buf, hex,
			int64(t.Seeders.Load()),
			int64(t.TimesCompleted.Load()),
			int64(t.Leechers.Load()),
		)
	}

	util.BencodeScrapeFooter(buf, scrapeInterval)

	return fasthttp.StatusOK
}

// isDisabledDownload mirrors the teacher's own scrape/announce gate: a
// user whose download privileges are disabled still sees swarm counts for
// torrents they have an open hit-and-run against, so they can verify the
// seed they still owe before the restriction is lifted.
func isDisabledDownload(st *store.Store, user *swarm.User, t *swarm.Torrent) bool {
	return !user.CanDownload.Load() && !st.HasHitAndRun(user.ID, t.ID)
}
