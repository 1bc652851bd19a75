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

package swarm

import (
	"sync/atomic"

	"unit3d-announce/util"
)

type Status uint32

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
	StatusPostponed
)

// torrentShards is the per-torrent peer map's shard count. A torrent's
// swarm rarely exceeds a few thousand peers, so a small, fixed shard count
// keeps per-torrent memory overhead low while still letting two announces
// for different peers of the same popular torrent proceed without
// contending the same lock (§4.1 rationale).
const torrentShards = 16

// Torrent is one tracked torrent's metadata plus its two swarms (one per
// IP family, kept disjoint per §1 Non-goals). Everything but the peer maps
// is read far more often than written, so the hot counters are atomics
// rather than being guarded by the peer map's shard locks (announce
// selection and scrape both read them without touching any swarm lock).
type Torrent struct {
	ID       TorrentID
	InfoHash InfoHash

	Status    atomic.Uint32
	IsDeleted atomic.Bool

	Seeders        atomic.Uint32
	Leechers       atomic.Uint32
	TimesCompleted atomic.Uint32

	// Stored as integer percent: upload_factor/100, download_factor/100.
	UploadFactor   atomic.Uint32
	DownloadFactor atomic.Uint32

	PeersV4 *util.Map[PeerKey, *Peer]
	PeersV6 *util.Map[PeerKey, *Peer]
}

func NewTorrent(id TorrentID, infoHash InfoHash) *Torrent {
	t := &Torrent{
		ID:       id,
		InfoHash: infoHash,
		PeersV4:  util.NewMap[PeerKey, *Peer](torrentShards, hashPeerKey),
		PeersV6:  util.NewMap[PeerKey, *Peer](torrentShards, hashPeerKey),
	}

	t.Status.Store(uint32(StatusPending))
	t.UploadFactor.Store(100)
	t.DownloadFactor.Store(100)

	return t
}

func hashPeerKey(k PeerKey) uint64 {
	h := uint64(k.UserID) * 1099511628211
	for _, b := range k.PeerID {
		h ^= uint64(b)
		h *= 1099511628211
	}

	return h
}

func (t *Torrent) peersFor(family Family) *util.Map[PeerKey, *Peer] {
	if family == FamilyV4 {
		return t.PeersV4
	}

	return t.PeersV6
}

// CanServeAnnounce reports whether a non-Stopped announce against this
// torrent is allowed (§4.4 step 6).
func (t *Torrent) CanServeAnnounce() bool {
	return !t.IsDeleted.Load() && Status(t.Status.Load()) == StatusApproved
}

// PeersFor exposes the per-family peer map to callers outside the package
// that need a bounded, shard-at-a-time walk — namely the reaper (§4.6).
func (t *Torrent) PeersFor(family Family) *util.Map[PeerKey, *Peer] {
	return t.peersFor(family)
}

// AdjustCounters folds signed seeder/leecher deltas into the atomic
// counters, the same fold Apply performs, exposed for the reaper which
// removes peers without going through Apply.
func (t *Torrent) AdjustCounters(seederDelta, leecherDelta int32) {
	if seederDelta != 0 {
		addInt32(&t.Seeders, seederDelta)
	}

	if leecherDelta != 0 {
		addInt32(&t.Leechers, leecherDelta)
	}
}
