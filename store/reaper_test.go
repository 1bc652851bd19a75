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
	"net"
	"testing"
	"time"

	"unit3d-announce/swarm"
)

// purgeInactivePeers must drop only peers whose last announce is older than
// AnnounceInterval+PeerExpiryInterval, back out the swarm counters for the
// ones it removes, and enqueue a peer-delete plus a torrent-delta event —
// but never a history row, since the client never said it left (§4.6).
func TestPurgeInactivePeersDropsOnlyStale(t *testing.T) {
	s := testStore()

	tr := swarm.NewTorrent(1, swarm.InfoHash{1, 2, 3})
	u := swarm.NewUser(1, 1, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	stale := time.Now().Add(-time.Hour)
	fresh := time.Now()

	seederKey := testPeerKey(u.ID, 1)
	leecherKey := testPeerKey(u.ID, 2)
	freshKey := testPeerKey(u.ID, 3)

	swarm.Apply(tr, u, seederKey, swarm.FamilyV4, swarm.Announce{
		Addr: swarm.Addr{IP: net.IPv4(1, 2, 3, 4), Port: 1}, Left: 0, Event: swarm.EventStarted, Now: stale,
	})
	swarm.Apply(tr, u, leecherKey, swarm.FamilyV4, swarm.Announce{
		Addr: swarm.Addr{IP: net.IPv4(1, 2, 3, 5), Port: 2}, Left: 100, Event: swarm.EventStarted, Now: stale,
	})
	swarm.Apply(tr, u, freshKey, swarm.FamilyV4, swarm.Announce{
		Addr: swarm.Addr{IP: net.IPv4(1, 2, 3, 6), Port: 3}, Left: 100, Event: swarm.EventStarted, Now: fresh,
	})

	if tr.Seeders.Load() != 1 || tr.Leechers.Load() != 2 {
		t.Fatalf("setup: got seeders=%d leechers=%d, want 1/2", tr.Seeders.Load(), tr.Leechers.Load())
	}

	s.torrents.Set(tr.InfoHash, tr)
	s.torrentsByID.Set(tr.ID, tr)

	s.purgeInactivePeers(SchedulerConfig{AnnounceInterval: 30 * time.Minute, PeerExpiryInterval: 0})

	if _, ok := tr.PeersV4.Get(seederKey); ok {
		t.Fatal("expected stale seeder purged")
	}

	if _, ok := tr.PeersV4.Get(leecherKey); ok {
		t.Fatal("expected stale leecher purged")
	}

	if _, ok := tr.PeersV4.Get(freshKey); !ok {
		t.Fatal("expected fresh peer to survive the purge")
	}

	if tr.Seeders.Load() != 0 {
		t.Fatalf("got seeders=%d, want 0 after purge", tr.Seeders.Load())
	}

	if tr.Leechers.Load() != 1 {
		t.Fatalf("got leechers=%d, want 1 after purge", tr.Leechers.Load())
	}

	deletes := 0

drain:
	for {
		select {
		case ev := <-s.peerCh:
			if ev.Kind != peerDelete {
				t.Fatalf("expected only delete events from the reaper, got %+v", ev)
			}
			deletes++
		default:
			break drain
		}
	}

	if deletes != 2 {
		t.Fatalf("got %d peer-delete events, want 2", deletes)
	}

	select {
	case ev := <-s.torrentDeltaCh:
		if ev.SeederDelta != -1 || ev.LeecherDelta != -1 {
			t.Fatalf("got torrent delta %+v, want seeder=-1 leecher=-1", ev)
		}
	default:
		t.Fatal("expected a torrent-delta event from the purge")
	}

	select {
	case ev := <-s.historyCh:
		t.Fatalf("expected no history event from a silent expiry, got %+v", ev)
	default:
	}
}

// A hidden (TrackHide) peer never counted toward seeders/leechers, so its
// expiry must not perturb the torrent counters even though it is still
// removed from the swarm.
func TestPurgeInactivePeersIgnoresHiddenCounters(t *testing.T) {
	s := testStore()

	tr := swarm.NewTorrent(1, swarm.InfoHash{9, 9, 9})
	hidden := swarm.NewUser(2, 1, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	hidden.TrackHide.Store(true)

	key := testPeerKey(hidden.ID, 1)
	stale := time.Now().Add(-time.Hour)

	swarm.Apply(tr, hidden, key, swarm.FamilyV4, swarm.Announce{
		Addr: swarm.Addr{IP: net.IPv4(1, 2, 3, 4), Port: 1}, Left: 0, Event: swarm.EventStarted, Now: stale,
	})

	if tr.Seeders.Load() != 0 {
		t.Fatalf("hidden peer should not count as a seeder, got %d", tr.Seeders.Load())
	}

	s.torrents.Set(tr.InfoHash, tr)
	s.torrentsByID.Set(tr.ID, tr)

	s.purgeInactivePeers(SchedulerConfig{AnnounceInterval: 30 * time.Minute, PeerExpiryInterval: 0})

	if _, ok := tr.PeersV4.Get(key); ok {
		t.Fatal("expected hidden peer purged from the swarm")
	}

	if tr.Seeders.Load() != 0 || tr.Leechers.Load() != 0 {
		t.Fatalf("purge must not touch counters for a peer that never counted, got seeders=%d leechers=%d", tr.Seeders.Load(), tr.Leechers.Load())
	}

	select {
	case <-s.torrentDeltaCh:
		t.Fatal("expected no torrent-delta event when counters didn't change")
	default:
	}
}
