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
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"unit3d-announce/config"
	"unit3d-announce/record"
	"unit3d-announce/server/params"
	"unit3d-announce/store"
	"unit3d-announce/swarm"
	"unit3d-announce/util"
)

// announce runs the §4.4 sequential contract, steps 2 through 12 (step 1,
// extracting the passkey, and user resolution already happened in the
// caller so the same passkey lookup serves scrape/admin too).
func announce(ctx *fasthttp.RequestCtx, user *swarm.User, st *store.Store, buf *bytes.Buffer) int {
	cfg := config.Current()

	qp := params.ParseQuery(ctx.QueryArgs())

	infoHashes := qp.InfoHashes()

	peerIDStr, _ := qp.Get("peer_id")
	port, portExists := qp.GetUint16("port")
	uploaded, uploadedExists := qp.GetUint64("uploaded")
	downloaded, downloadedExists := qp.GetUint64("downloaded")
	left, leftExists := qp.GetUint64("left")
	eventStr, _ := qp.Get("event")

	ev := swarm.ParseEvent(eventStr)

	switch {
	case len(infoHashes) == 0:
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Malformed request - missing info_hash"))
	case len(infoHashes) > 1:
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Malformed request - multiple info_hash values provided"))
	case len(peerIDStr) != 20:
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Malformed request - invalid peer_id"))
	case !portExists || (ev != swarm.EventStopped && (port < 1024 || port > 65535)):
		return writeAnnounceFailure(buf, newAPIError(parseRejected, fmt.Sprintf("Malformed request - port outside of acceptable range (port: %d)", port)))
	case !uploadedExists:
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Malformed request - missing uploaded"))
	case !downloadedExists:
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Malformed request - missing downloaded"))
	case !leftExists:
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Malformed request - missing left"))
	}

	peerID, err := swarm.PeerIDFromBytes([]byte(peerIDStr))
	if err != nil {
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Malformed request - invalid peer_id"))
	}

	if st.IsBlacklisted(peerID) {
		return writeAnnounceFailure(buf, newAPIError(policyRejected, fmt.Sprintf("Your client is not allowed (peer_id: %s)", peerIDStr)))
	}

	ip := resolveClientIP(ctx, qp, cfg)
	if ip == nil {
		return writeAnnounceFailure(buf, newAPIError(parseRejected, "Failed to resolve IP address"))
	}

	torrent, ok := st.TorrentByInfoHash(infoHashes[0])
	if !ok {
		st.EnqueueUnregistered(infoHashes[0], user.ID)
		return writeAnnounceFailure(buf, newAPIError(notFound, "This torrent does not exist"))
	}

	if torrent.IsDeleted.Load() {
		return writeAnnounceFailure(buf, newAPIError(notFound, "This torrent has been deleted"))
	}

	if !torrent.CanServeAnnounce() && ev != swarm.EventStopped {
		return writeAnnounceFailure(buf, newAPIError(notFound, fmt.Sprintf("This torrent does not exist (status: %d)", torrent.Status.Load())))
	}

	if left > 0 && isDisabledDownload(st, user, torrent) {
		return writeAnnounceFailure(buf, newAPIError(policyRejected, "Your download privileges are disabled"))
	}

	group, _ := st.GroupByID(user.GroupID)

	family := swarm.Addr{IP: ip}.Family()

	key := swarm.PeerKey{UserID: user.ID, PeerID: peerID}

	if left > 0 && (ev == swarm.EventStarted || ev == swarm.EventNone) && !alreadyLeechingOrImmune(torrent, key, family, group) {
		if group != nil && group.DownloadSlotsLimit > 0 && int(user.NumLeeching.Load()) >= group.DownloadSlotsLimit {
			return writeAnnounceFailure(buf, newAPIError(policyRejected, "You've reached your download slot limit"))
		}
	}

	a := swarm.Announce{
		Addr:       swarm.Addr{IP: ip, Port: port},
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		Event:      ev,
		Now:        time.Now(),
	}

	delta := swarm.Apply(torrent, user, key, family, a)

	adjustUserSlotCounters(user, delta)

	creditedUp, creditedDown := creditedBytes(delta, torrent, user, group, st, cfg)

	st.EmitAnnounceEvents(torrent.ID, key, delta, creditedUp, creditedDown, a.Addr, 0, a.Now, true)

	seeding := delta.NewState != nil && delta.NewState.IsSeeder

	record.Record(uint32(torrent.ID), uint32(user.ID), ip.String(), port, eventStr, seeding,
		int64(delta.UploadedDelta), int64(delta.DownloadedDelta), creditedUp, creditedDown, left)

	writeAnnounceResponse(buf, qp, torrent, delta, cfg)

	return fasthttp.StatusOK
}

// alreadyLeechingOrImmune lets a slot-limited user keep re-announcing a
// torrent they already hold a peer slot on, and exempts immune groups
// entirely (§4.4 step 7).
func alreadyLeechingOrImmune(t *swarm.Torrent, key swarm.PeerKey, family swarm.Family, group *swarm.Group) bool {
	if group != nil && group.IsImmune {
		return true
	}

	if _, ok := t.PeersFor(family).Get(key); ok {
		return true
	}

	return false
}

// creditedBytes computes the upload/download factor stack from §4.4 step 8
// and returns the raw traffic deltas scaled by it.
func creditedBytes(delta swarm.Delta, t *swarm.Torrent, user *swarm.User, group *swarm.Group, st *store.Store, cfg *config.Config) (up, down uint64) {
	uploadFactor := maxFactor(cfg.UploadFactor, int(t.UploadFactor.Load()))

	if st.IsFeatured(t.ID) {
		uploadFactor = maxFactor(uploadFactor, 200)
	}

	if group != nil && group.IsDoubleUpload {
		uploadFactor = maxFactor(uploadFactor, 200)
	}

	downloadFactor := minFactor(cfg.DownloadFactor, int(t.DownloadFactor.Load()))

	freeleech := st.HasFreeleechToken(user.ID, t.ID) ||
		st.IsPersonalFreeleech(user.ID) ||
		user.IsLifetimeFreeleech.Load() ||
		(group != nil && group.IsFreeleech)

	if freeleech {
		downloadFactor = 0
	}

	up = delta.UploadedDelta * uint64(uploadFactor) / 100
	down = delta.DownloadedDelta * uint64(downloadFactor) / 100

	return up, down
}

func maxFactor(a, b int) int {
	if a > b {
		return a
	}

	return b
}

func minFactor(a, b int) int {
	if a < b {
		return a
	}

	return b
}

// adjustUserSlotCounters folds Apply's state transition into the
// announcing user's advisory NumSeeding/NumLeeching counters (§3). These
// counters only ever reflect this one user's own peers, so they're
// updated here rather than inside swarm.Apply, which has no notion of
// "this announce's owning user" beyond the PeerKey it was given.
func adjustUserSlotCounters(user *swarm.User, d swarm.Delta) {
	wasLeeching := d.PriorState != nil && !d.PriorState.IsSeeder
	wasSeeding := d.PriorState != nil && d.PriorState.IsSeeder
	isLeeching := d.NewState != nil && !d.NewState.IsSeeder
	isSeeding := d.NewState != nil && d.NewState.IsSeeder

	if isLeeching != wasLeeching {
		if isLeeching {
			user.NumLeeching.Add(1)
		} else {
			user.NumLeeching.Add(-1)
		}
	}

	if isSeeding != wasSeeding {
		if isSeeding {
			user.NumSeeding.Add(1)
		} else {
			user.NumSeeding.Add(-1)
		}
	}
}

// resolveClientIP implements §4.4 step 2: prefer an explicit ip/ipv4 query
// param (as long as it's a plausible public address), then the configured
// reverse-proxy header, then the socket address.
func resolveClientIP(ctx *fasthttp.RequestCtx, qp *params.QueryParam, cfg *config.Config) net.IP {
	if ipv4, ok := qp.Get("ipv4"); ok && isPublicIPv4(ipv4) {
		return net.ParseIP(ipv4)
	}

	if ipParam, ok := qp.Get("ip"); ok && isPublicIPv4(ipParam) {
		return net.ParseIP(ipParam)
	}

	if cfg.ReverseProxyClientIPHeader != "" {
		if v := ctx.Request.Header.Peek(cfg.ReverseProxyClientIPHeader); len(v) > 0 {
			if ip := net.ParseIP(string(v)); ip != nil {
				return ip
			}
		}
	}

	return ctx.RemoteIP()
}

func writeAnnounceFailure(buf *bytes.Buffer, err *apiError) int {
	writeFailure(buf, err)
	return fasthttp.StatusOK // BEP-3: failures are still HTTP 200
}

// writeAnnounceResponse implements §4.4 steps 11-12.
func writeAnnounceResponse(buf *bytes.Buffer, qp *params.QueryParam, t *swarm.Torrent, delta swarm.Delta, cfg *config.Config) {
	jitter := 0
	if cfg.AnnounceIntervalJitter > 0 {
		jitter = util.Intn(int(cfg.AnnounceIntervalJitter / time.Second))
	}

	interval := int(cfg.AnnounceInterval/time.Second) + jitter
	minInterval := int(cfg.MinAnnounceInterval / time.Second)

	complete := int64(t.Seeders.Load())
	incomplete := int64(t.Leechers.Load())
	downloaded := int64(t.TimesCompleted.Load())

	util.BencodeAnnounceHeader(buf, complete, incomplete, downloaded, interval, minInterval)

	active := delta.Peer != nil

	numwant, ok := qp.GetUint64("numwant")
	if !ok {
		numwant = 50
	}

	if int(numwant) > cfg.NumwantMax {
		numwant = uint64(cfg.NumwantMax)
	}

	if numwant > 0 && active {
		compactStr, exists := qp.Get("compact")
		compact := !exists || compactStr != "0"

		noPeerIDStr, _ := qp.Get("no_peer_id")
		noPeerID := noPeerIDStr == "1"

		peers := selectPeers(t, delta.Peer, int(numwant))

		announcePeers := make([]util.AnnouncePeer, 0, len(peers))

		for _, p := range peers {
			ap := util.AnnouncePeer{ID: p.Key.PeerID, IP: p.Addr.IP.String(), Port: p.Addr.Port}

			if p.Addr.Family() == swarm.FamilyV4 {
				ap.Compact4 = p.Addr.AppendCompact(make([]byte, 0, 6))
			}

			announcePeers = append(announcePeers, ap)
		}

		util.BencodeAnnouncePeers(buf, announcePeers, compact, !noPeerID)
	} else {
		util.BencodeAnnouncePeers(buf, nil, true, false)
	}

	util.BencodeAnnounceFooter(buf)
}

// selectPeers implements §4.4 step 11: if the requester is a seeder, only
// leechers are offered; otherwise a mix, preferring active+visible peers,
// skipping the requester's own key. Shards are visited in index order and
// each shard's own map iteration order is already randomized by the Go
// runtime, which is what the teacher's own comments relied on in lieu of
// an explicit shuffle — kept the same reasoning here, just walked shard by
// shard (§4.1) instead of over one global map.
func selectPeers(t *swarm.Torrent, self *swarm.Peer, numwant int) []*swarm.Peer {
	out := make([]*swarm.Peer, 0, numwant)

	requesterIsSeeder := self != nil && self.IsSeeder

	visit := func(m *util.Map[swarm.PeerKey, *swarm.Peer]) {
		for i := 0; i < m.ShardCount() && len(out) < numwant; i++ {
			m.IterateShard(i, func(_ swarm.PeerKey, p *swarm.Peer) {
				if len(out) >= numwant {
					return
				}

				if self != nil && p.Key == self.Key {
					return
				}

				if !p.IsVisible || !p.IsActive {
					return
				}

				if requesterIsSeeder && p.IsSeeder {
					return
				}

				out = append(out, p)
			})
		}
	}

	visit(t.PeersFor(swarm.FamilyV4))

	if len(out) < numwant {
		visit(t.PeersFor(swarm.FamilyV6))
	}

	return out
}
