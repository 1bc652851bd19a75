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

package store

import (
	"encoding/hex"
	"errors"

	"unit3d-announce/swarm"
)

var errWrongInfoHashSize = errors.New("store: wrong info_hash size")

func parseHexInfoHash(s string) (swarm.InfoHash, error) {
	var h swarm.InfoHash

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}

	if len(b) != len(h) {
		return h, errWrongInfoHashSize
	}

	copy(h[:], b)

	return h, nil
}

// upsertUser reuses the existing *swarm.User pointer for a passkey that was
// already cached, mutating its atomic fields in place, the same
// reuse-the-pointer discipline the teacher's loadUsers used to avoid
// invalidating an in-flight announce's reference to the old row.
func (s *Store) upsertUser(id swarm.UserID, groupID swarm.GroupID, passkey swarm.Passkey, canDownload, isLifetimeFreeleech, trackHide bool) {
	if existing, ok := s.usersByPasskey.Get(passkey); ok {
		existing.GroupID = groupID
		existing.CanDownload.Store(canDownload)
		existing.IsLifetimeFreeleech.Store(isLifetimeFreeleech)
		existing.TrackHide.Store(trackHide)

		s.users.Set(id, existing)

		return
	}

	u := swarm.NewUser(id, groupID, passkey)
	u.CanDownload.Store(canDownload)
	u.IsLifetimeFreeleech.Store(isLifetimeFreeleech)
	u.TrackHide.Store(trackHide)

	s.users.Set(id, u)
	s.usersByPasskey.Set(passkey, u)
}

func (s *Store) upsertTorrent(id swarm.TorrentID, infoHash swarm.InfoHash, status swarm.Status, isDeleted bool, uploadFactor, downloadFactor uint32) {
	if existing, ok := s.torrentsByID.Get(id); ok {
		existing.Status.Store(uint32(status))
		existing.IsDeleted.Store(isDeleted)
		existing.UploadFactor.Store(uploadFactor)
		existing.DownloadFactor.Store(downloadFactor)

		s.torrents.Set(infoHash, existing)

		return
	}

	t := swarm.NewTorrent(id, infoHash)
	t.Status.Store(uint32(status))
	t.IsDeleted.Store(isDeleted)
	t.UploadFactor.Store(uploadFactor)
	t.DownloadFactor.Store(downloadFactor)

	s.torrentsByID.Set(id, t)
	s.torrents.Set(infoHash, t)
}

// UserByPasskey is the announce path's auth lookup (§4.4 step 1).
func (s *Store) UserByPasskey(p swarm.Passkey) (*swarm.User, bool) {
	return s.usersByPasskey.Get(p)
}

func (s *Store) UserByID(id swarm.UserID) (*swarm.User, bool) {
	return s.users.Get(id)
}

// TorrentByInfoHash is the announce path's swarm lookup (§4.4 step 6).
func (s *Store) TorrentByInfoHash(h swarm.InfoHash) (*swarm.Torrent, bool) {
	return s.torrents.Get(h)
}

func (s *Store) TorrentByID(id swarm.TorrentID) (*swarm.Torrent, bool) {
	return s.torrentsByID.Get(id)
}

func (s *Store) GroupByID(id swarm.GroupID) (*swarm.Group, bool) {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()

	g, ok := s.groups[id]

	return g, ok
}

// IsBlacklisted matches peerID's prefix against every configured
// blacklisted client byte-prefix (§4.4 step 4). Longest-prefix-first isn't
// meaningful here since a match is a match; the list is small (dozens of
// entries) so a linear scan per announce is cheap relative to the syscalls
// around it.
func (s *Store) IsBlacklisted(peerID swarm.PeerID) bool {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, prefix := range s.clients {
		if len(prefix) <= len(peerID) && string(peerID[:len(prefix)]) == string(prefix) {
			return true
		}
	}

	return false
}

func (s *Store) IsFeatured(id swarm.TorrentID) bool {
	_, ok := s.featured.Get(id)
	return ok
}

func (s *Store) HasFreeleechToken(userID swarm.UserID, torrentID swarm.TorrentID) bool {
	_, ok := s.freeleechTokens.Get(FreeleechKey{UserID: userID, TorrentID: torrentID})
	return ok
}

func (s *Store) IsPersonalFreeleech(userID swarm.UserID) bool {
	_, ok := s.personalFreeleech.Get(userID)
	return ok
}

func (s *Store) HasHitAndRun(userID swarm.UserID, torrentID swarm.TorrentID) bool {
	_, ok := s.hitAndRuns.Get(HitAndRunKey{UserID: userID, TorrentID: torrentID})
	return ok
}

// The admin endpoints in §4.7 mutate caches synchronously and atomically
// per-entry. The sharded caches lock only the shard they touch; the group
// map and the client blacklist are replaced under their own cache-wide
// RWMutex (groupsMu, clientsMu).

func (s *Store) AdminUpsertUser(id swarm.UserID, groupID swarm.GroupID, passkey swarm.Passkey, canDownload, isLifetimeFreeleech, trackHide bool) {
	s.upsertUser(id, groupID, passkey, canDownload, isLifetimeFreeleech, trackHide)
}

func (s *Store) AdminDeleteUser(id swarm.UserID) {
	if u, ok := s.users.Get(id); ok {
		s.usersByPasskey.Delete(u.Passkey)
	}

	s.users.Delete(id)
}

func (s *Store) AdminUpsertTorrent(id swarm.TorrentID, infoHash swarm.InfoHash, status swarm.Status, isDeleted bool, uploadFactor, downloadFactor uint32) {
	s.upsertTorrent(id, infoHash, status, isDeleted, uploadFactor, downloadFactor)
}

func (s *Store) AdminDeleteTorrent(id swarm.TorrentID) {
	if t, ok := s.torrentsByID.Get(id); ok {
		s.torrents.Delete(t.InfoHash)
	}

	s.torrentsByID.Delete(id)
}

func (s *Store) AdminUpsertGroup(g *swarm.Group) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()

	s.groups[g.ID] = g
}

func (s *Store) AdminSetBlacklist(prefixes [][]byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	s.clients = prefixes
}

func (s *Store) AdminSetFeatured(id swarm.TorrentID, featured bool) {
	if featured {
		s.featured.Set(id, struct{}{})
	} else {
		s.featured.Delete(id)
	}
}

func (s *Store) AdminSetFreeleechToken(userID swarm.UserID, torrentID swarm.TorrentID, active bool) {
	key := FreeleechKey{UserID: userID, TorrentID: torrentID}

	if active {
		s.freeleechTokens.Set(key, struct{}{})
	} else {
		s.freeleechTokens.Delete(key)
	}
}

func (s *Store) AdminSetPersonalFreeleech(userID swarm.UserID, active bool) {
	if active {
		s.personalFreeleech.Set(userID, struct{}{})
	} else {
		s.personalFreeleech.Delete(userID)
	}
}

func (s *Store) AdminSetHitAndRun(userID swarm.UserID, torrentID swarm.TorrentID, active bool) {
	key := HitAndRunKey{UserID: userID, TorrentID: torrentID}

	if active {
		s.hitAndRuns.Set(key, struct{}{})
	} else {
		s.hitAndRuns.Delete(key)
	}
}

// Stats is the admin status-snapshot payload (§4.7's admin stats surface).
type Stats struct {
	Uptime     float64
	Users      int
	Torrents   int
	Peers      int
	Clients    int
	HitAndRuns int
}

func (s *Store) Stats() Stats {
	peers := 0

	for _, t := range s.torrents.Snapshot() {
		peers += t.PeersFor(swarm.FamilyV4).Len() + t.PeersFor(swarm.FamilyV6).Len()
	}

	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()

	return Stats{
		Uptime:     s.Uptime().Seconds(),
		Users:      s.users.Len(),
		Torrents:   s.torrents.Len(),
		Peers:      peers,
		Clients:    clients,
		HitAndRuns: s.hitAndRuns.Len(),
	}
}
