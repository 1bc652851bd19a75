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
	"testing"

	"unit3d-announce/swarm"
)

// A reload of a passkey already cached must mutate the existing *swarm.User
// in place rather than replace it, so an announce goroutine holding the old
// pointer observes the update instead of working off a stale snapshot.
func TestUpsertUserReusesPointer(t *testing.T) {
	s := testStore()

	s.upsertUser(1, 1, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true, false, false)

	original, ok := s.UserByID(1)
	if !ok {
		t.Fatal("expected user registered after first upsert")
	}

	s.upsertUser(1, 2, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false, true, true)

	if original.GroupID != 2 {
		t.Fatalf("got group %d, want 2 mutated in place", original.GroupID)
	}

	if original.CanDownload.Load() {
		t.Fatal("expected CanDownload flipped to false in place")
	}

	if !original.TrackHide.Load() {
		t.Fatal("expected TrackHide flipped to true in place")
	}

	reloaded, _ := s.UserByID(1)
	if reloaded != original {
		t.Fatal("expected the same *swarm.User pointer across a reload of the same passkey")
	}
}

func TestUpsertTorrentReusesPointer(t *testing.T) {
	s := testStore()

	hash := swarm.InfoHash{1, 2, 3}
	s.upsertTorrent(7, hash, swarm.StatusApproved, false, 100, 100)

	original, ok := s.TorrentByID(7)
	if !ok {
		t.Fatal("expected torrent registered after first upsert")
	}

	s.upsertTorrent(7, hash, swarm.StatusRejected, true, 50, 200)

	if swarm.Status(original.Status.Load()) != swarm.StatusRejected {
		t.Fatalf("got status %d, want Rejected mutated in place", original.Status.Load())
	}

	if !original.IsDeleted.Load() {
		t.Fatal("expected IsDeleted flipped to true in place")
	}

	byHash, ok := s.TorrentByInfoHash(hash)
	if !ok || byHash != original {
		t.Fatal("expected the same *swarm.Torrent pointer reachable by info_hash after reload")
	}
}

func TestIsBlacklistedMatchesPrefix(t *testing.T) {
	s := testStore()

	s.AdminSetBlacklist([][]byte{[]byte("-XX")})

	var blocked, allowed swarm.PeerID
	copy(blocked[:], "-XX1234567890123456")
	copy(allowed[:], "-qB1234567890123456")

	if !s.IsBlacklisted(blocked) {
		t.Fatal("expected peer id with blacklisted prefix to match")
	}

	if s.IsBlacklisted(allowed) {
		t.Fatal("expected peer id without blacklisted prefix to not match")
	}
}

func TestAdminSetFreeleechTokenAndPersonalFreeleech(t *testing.T) {
	s := testStore()

	if s.HasFreeleechToken(1, 2) {
		t.Fatal("expected no freeleech token before it is set")
	}

	s.AdminSetFreeleechToken(1, 2, true)

	if !s.HasFreeleechToken(1, 2) {
		t.Fatal("expected freeleech token active after set")
	}

	s.AdminSetFreeleechToken(1, 2, false)

	if s.HasFreeleechToken(1, 2) {
		t.Fatal("expected freeleech token cleared")
	}

	s.AdminSetPersonalFreeleech(5, true)

	if !s.IsPersonalFreeleech(5) {
		t.Fatal("expected personal freeleech active after set")
	}
}

func TestStatsCountsLivePeersAcrossFamilies(t *testing.T) {
	s := testStore()

	hash := swarm.InfoHash{4, 4, 4}
	s.upsertTorrent(1, hash, swarm.StatusApproved, false, 100, 100)

	tr, _ := s.TorrentByInfoHash(hash)
	u := swarm.NewUser(1, 1, "cccccccccccccccccccccccccccccccc")

	swarm.Apply(tr, u, testPeerKey(u.ID, 1), swarm.FamilyV4, swarm.Announce{Left: 0, Event: swarm.EventStarted})
	swarm.Apply(tr, u, testPeerKey(u.ID, 2), swarm.FamilyV6, swarm.Announce{Left: 0, Event: swarm.EventStarted})

	s.upsertUser(1, 1, "cccccccccccccccccccccccccccccccc", true, false, false)

	stats := s.Stats()

	if stats.Peers != 2 {
		t.Fatalf("got Peers=%d, want 2 across both families", stats.Peers)
	}

	if stats.Users != 1 || stats.Torrents != 1 {
		t.Fatalf("got Users=%d Torrents=%d, want 1/1", stats.Users, stats.Torrents)
	}
}
