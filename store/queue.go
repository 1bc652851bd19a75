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
	"time"

	"unit3d-announce/swarm"
)

// The five write-back queues of §4.5. Each payload carries exactly what
// its SQL effect needs; nothing here is read back by the announce path.

type historyEvent struct {
	UserID       swarm.UserID
	TorrentID    swarm.TorrentID
	CreditedUp   uint64
	CreditedDown uint64
	IsSeeder     bool
	IsActive     bool
	Completed    bool
	Addr         swarm.Addr
	ClientID     uint16
	At           time.Time

	// Attempts counts failed flush tries for this folded row (§4.5); it
	// travels with the event when a batch is re-enqueued after a DB error.
	Attempts int
}

type peerEventKind uint8

const (
	peerUpsert peerEventKind = iota
	peerDelete
)

type peerEvent struct {
	Kind      peerEventKind
	TorrentID swarm.TorrentID
	UserID    swarm.UserID
	PeerID    swarm.PeerID
	Peer      *swarm.Peer // nil for Delete
	Attempts  int
}

type torrentDeltaEvent struct {
	TorrentID      swarm.TorrentID
	SeederDelta    int32
	LeecherDelta   int32
	CompletedDelta int32
	Attempts       int
}

type userDeltaEvent struct {
	UserID          swarm.UserID
	UploadedDelta   uint64
	DownloadedDelta uint64
	Attempts        int
}

type unregisteredEvent struct {
	InfoHash swarm.InfoHash
	UserID   swarm.UserID
	// Count lets a re-enqueued, already-folded row carry forward how many
	// original announces it represents instead of reflowing as just one.
	Count    int
	Attempts int
}

// send is the non-blocking fast path required by §5's "suspension points
// on the hot path": a bounded-capacity send into each emission queue,
// never blocking the announce goroutine itself. When the channel is
// momentarily full the event is hand off to a short-lived goroutine that
// blocks on our behalf, the same fallback the teacher's queue.go uses.
func send[T any](ch chan T, ev T) {
	select {
	case ch <- ev:
	default:
		go func() { ch <- ev }()
	}
}

func (s *Store) EnqueueHistory(ev historyEvent) { send(s.historyCh, ev) }

func (s *Store) EnqueuePeerUpsert(torrentID swarm.TorrentID, key swarm.PeerKey, p *swarm.Peer) {
	send(s.peerCh, peerEvent{Kind: peerUpsert, TorrentID: torrentID, UserID: key.UserID, PeerID: key.PeerID, Peer: p})
}

func (s *Store) EnqueuePeerDelete(torrentID swarm.TorrentID, key swarm.PeerKey) {
	send(s.peerCh, peerEvent{Kind: peerDelete, TorrentID: torrentID, UserID: key.UserID, PeerID: key.PeerID})
}

func (s *Store) EnqueueTorrentDelta(ev torrentDeltaEvent) {
	if ev.SeederDelta == 0 && ev.LeecherDelta == 0 && ev.CompletedDelta == 0 {
		return
	}

	send(s.torrentDeltaCh, ev)
}

func (s *Store) EnqueueUserDelta(ev userDeltaEvent) {
	if ev.UploadedDelta == 0 && ev.DownloadedDelta == 0 {
		return
	}

	send(s.userDeltaCh, ev)
}

func (s *Store) EnqueueUnregistered(infoHash swarm.InfoHash, userID swarm.UserID) {
	send(s.unregisteredCh, unregisteredEvent{InfoHash: infoHash, UserID: userID, Count: 1})
}

// EmitAnnounceEvents fans a swarm.Delta out into the write-back queues, the
// announce engine's §4.4 step 10. It is the single place announce.go and
// the reaper agree on what an Apply result means for durable storage.
func (s *Store) EmitAnnounceEvents(torrentID swarm.TorrentID, key swarm.PeerKey, d swarm.Delta, creditedUp, creditedDown uint64, addr swarm.Addr, clientID uint16, now time.Time, withHistory bool) {
	s.EnqueueTorrentDelta(torrentDeltaEvent{
		TorrentID:      torrentID,
		SeederDelta:    d.SeederDelta,
		LeecherDelta:   d.LeecherDelta,
		CompletedDelta: boolToInt32(d.Completed),
	})

	s.EnqueueUserDelta(userDeltaEvent{UserID: key.UserID, UploadedDelta: creditedUp, DownloadedDelta: creditedDown})

	if d.Peer == nil {
		s.EnqueuePeerDelete(torrentID, key)
	} else {
		s.EnqueuePeerUpsert(torrentID, key, d.Peer)
	}

	if withHistory {
		s.EnqueueHistory(historyEvent{
			UserID:       key.UserID,
			TorrentID:    torrentID,
			CreditedUp:   creditedUp,
			CreditedDown: creditedDown,
			IsSeeder:     d.NewState != nil && d.NewState.IsSeeder,
			IsActive:     d.NewState != nil,
			Completed:    d.Completed,
			Addr:         addr,
			ClientID:     clientID,
			At:           now,
		})
	}
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}

	return 0
}
