package swarm

import (
	"net"
	"testing"
	"time"
)

func testTorrent() *Torrent {
	return NewTorrent(1, InfoHash{1, 2, 3})
}

func testUser() *User {
	return NewUser(1, 1, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
}

func peerKey(user UserID, n byte) PeerKey {
	var id PeerID
	id[0] = n

	return PeerKey{UserID: user, PeerID: id}
}

// S1: a fresh leech announce creates a leecher and zero-charges traffic.
func TestApplyNewLeech(t *testing.T) {
	tr := testTorrent()
	u := testUser()
	key := peerKey(u.ID, 1)

	d := Apply(tr, u, key, FamilyV4, Announce{
		Addr:       Addr{IP: net.IPv4(1, 2, 3, 4), Port: 51413},
		Uploaded:   0,
		Downloaded: 0,
		Left:       100,
		Event:      EventStarted,
		Now:        time.Unix(1000, 0),
	})

	if d.PriorState != nil {
		t.Fatalf("expected nil prior state, got %+v", d.PriorState)
	}

	if d.LeecherDelta != 1 || d.SeederDelta != 0 {
		t.Fatalf("got seeder=%d leecher=%d, expected 0/+1", d.SeederDelta, d.LeecherDelta)
	}

	if d.UploadedDelta != 0 || d.DownloadedDelta != 0 {
		t.Fatal("expected zero traffic delta on first-seen peer")
	}

	if tr.Leechers.Load() != 1 || tr.Seeders.Load() != 0 {
		t.Fatalf("torrent counters not updated: seeders=%d leechers=%d", tr.Seeders.Load(), tr.Leechers.Load())
	}
}

// S2: completion transitions leecher->seeder and fires exactly once across retries.
func TestApplyCompletionFiresOnce(t *testing.T) {
	tr := testTorrent()
	u := testUser()
	key := peerKey(u.ID, 1)

	Apply(tr, u, key, FamilyV4, Announce{Left: 100, Event: EventStarted, Now: time.Unix(1000, 0)})

	d := Apply(tr, u, key, FamilyV4, Announce{
		Downloaded: 100,
		Left:       0,
		Event:      EventCompleted,
		Now:        time.Unix(1001, 0),
	})

	if !d.Completed {
		t.Fatal("expected first completed announce to fire Completed")
	}

	if d.SeederDelta != 1 || d.LeecherDelta != -1 {
		t.Fatalf("got seeder=%d leecher=%d, expected +1/-1", d.SeederDelta, d.LeecherDelta)
	}

	if tr.TimesCompleted.Load() != 1 {
		t.Fatalf("got times_completed=%d, expected 1", tr.TimesCompleted.Load())
	}

	// Replay the same completed announce (client retry): must not fire again.
	d2 := Apply(tr, u, key, FamilyV4, Announce{
		Downloaded: 100,
		Left:       0,
		Event:      EventCompleted,
		Now:        time.Unix(1002, 0),
	})

	if d2.Completed {
		t.Fatal("expected replayed completed announce to not fire again")
	}

	if tr.TimesCompleted.Load() != 1 {
		t.Fatalf("got times_completed=%d after replay, expected still 1", tr.TimesCompleted.Load())
	}
}

// Traffic monotonicity: a client reporting a smaller counter than before yields zero delta.
func TestApplyTrafficNeverGoesNegative(t *testing.T) {
	tr := testTorrent()
	u := testUser()
	key := peerKey(u.ID, 1)

	Apply(tr, u, key, FamilyV4, Announce{Uploaded: 1000, Left: 100, Event: EventStarted, Now: time.Unix(1000, 0)})

	d := Apply(tr, u, key, FamilyV4, Announce{Uploaded: 10, Left: 100, Event: EventNone, Now: time.Unix(1001, 0)})

	if d.UploadedDelta != 0 {
		t.Fatalf("got uploaded delta %d, expected 0 on client restart", d.UploadedDelta)
	}
}

// S5: stop removes the peer and decrements seeders.
func TestApplyStopRemovesSeeder(t *testing.T) {
	tr := testTorrent()
	u := testUser()
	key := peerKey(u.ID, 1)

	Apply(tr, u, key, FamilyV4, Announce{Left: 0, Event: EventStarted, Now: time.Unix(1000, 0)})

	if tr.Seeders.Load() != 1 {
		t.Fatalf("expected seeder registered, got %d", tr.Seeders.Load())
	}

	d := Apply(tr, u, key, FamilyV4, Announce{Left: 0, Event: EventStopped, Now: time.Unix(1001, 0)})

	if d.SeederDelta != -1 {
		t.Fatalf("got seeder delta %d, expected -1", d.SeederDelta)
	}

	if tr.Seeders.Load() != 0 {
		t.Fatalf("expected seeder count back to 0, got %d", tr.Seeders.Load())
	}

	if _, ok := tr.PeersV4.Get(key); ok {
		t.Fatal("expected peer removed from swarm after stop")
	}
}

// Conservation: seeders+leechers equals the number of visible active peers.
func TestApplyConservation(t *testing.T) {
	tr := testTorrent()

	visible := testUser()
	hidden := NewUser(2, 1, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	hidden.TrackHide.Store(true)

	Apply(tr, visible, peerKey(visible.ID, 1), FamilyV4, Announce{Left: 100, Event: EventStarted, Now: time.Unix(1, 0)})
	Apply(tr, visible, peerKey(visible.ID, 2), FamilyV4, Announce{Left: 0, Event: EventStarted, Now: time.Unix(1, 0)})
	Apply(tr, hidden, peerKey(hidden.ID, 3), FamilyV4, Announce{Left: 0, Event: EventStarted, Now: time.Unix(1, 0)})

	visiblePeers := 0
	for i := 0; i < tr.PeersV4.ShardCount(); i++ {
		tr.PeersV4.IterateShard(i, func(_ PeerKey, p *Peer) {
			if p.IsActive && p.IsVisible {
				visiblePeers++
			}
		})
	}

	if int(tr.Seeders.Load()+tr.Leechers.Load()) != visiblePeers {
		t.Fatalf("seeders+leechers=%d, visible active peers=%d", tr.Seeders.Load()+tr.Leechers.Load(), visiblePeers)
	}

	if visiblePeers != 2 {
		t.Fatalf("expected 2 visible peers (hidden user excluded), got %d", visiblePeers)
	}
}
