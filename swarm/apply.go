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
	"time"
)

// addInt32 folds a signed delta into an unsigned atomic counter. The
// counter never goes negative in practice because the transition table in
// §4.3 only ever subtracts a count that a prior addition put there, but the
// unsigned wraparound is avoided defensively since swarm counters feed
// directly into the scrape response.
func addInt32(ctr *atomic.Uint32, delta int32) {
	for {
		old := ctr.Load()

		var next uint32
		if delta < 0 && uint32(-delta) > old {
			next = 0
		} else {
			next = uint32(int64(old) + int64(delta))
		}

		if ctr.CompareAndSwap(old, next) {
			return
		}
	}
}

type Event uint8

const (
	EventNone Event = iota
	EventStarted
	EventCompleted
	EventStopped
)

func ParseEvent(s string) Event {
	switch s {
	case "started":
		return EventStarted
	case "completed":
		return EventCompleted
	case "stopped":
		return EventStopped
	default:
		return EventNone
	}
}

// Announce is the subset of a parsed announce request that Apply needs.
type Announce struct {
	Addr       Addr
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
	Now        time.Time
}

// Delta is the result of Apply: everything the announce engine needs to
// build a response and enqueue write-back events, without reaching back
// into the peer store (§4.3).
type Delta struct {
	PriorState *State
	NewState   *State

	// Peer is the new peer row written into the swarm, nil when the
	// announce removed it (event=Stopped). Carried here so callers can
	// enqueue the write-back peer event without a second, separately
	// locked map lookup right after Apply returns.
	Peer *Peer

	UploadedDelta   uint64
	DownloadedDelta uint64

	Completed bool

	SeederDelta  int32
	LeecherDelta int32
}

// Apply runs the composite peer-store mutation described in §4.3. The
// caller must hold the torrent's shard lock for key's family map — in
// practice that means calling Apply only from inside a
// t.peersFor(family).ComputeIfPresent-style critical section is not used
// here because Apply itself needs insert-or-delete semantics the shard map
// already serializes per key; Apply takes the map lock itself via the
// lower-level Get/Set/Delete calls below, which are individually
// shard-locked. Two concurrent Apply calls for the *same* key therefore
// still observe a strict linear order because they hash to the same shard.
func Apply(t *Torrent, owner *User, key PeerKey, family Family, a Announce) Delta {
	peers := t.peersFor(family)

	prior, existed := peers.Get(key)
	if !existed {
		prior = nil
	}

	isSeeder := a.Event == EventCompleted || (prior != nil && prior.IsSeeder) || a.Left == 0
	isActive := a.Event != EventStopped
	isVisible := Visible(owner)

	uploadedDelta := nonNegativeDelta(prior, a.Uploaded, func(p *Peer) uint64 { return p.Uploaded })
	downloadedDelta := nonNegativeDelta(prior, a.Downloaded, func(p *Peer) uint64 { return p.Downloaded })

	completed := a.Event == EventCompleted && (prior == nil || !prior.IsSeeder) && isSeeder

	effPrior := effectiveState(prior)

	var effNew *State
	if a.Event != EventStopped && isVisible {
		effNew = &State{IsSeeder: isSeeder, IsVisible: true}
	}

	seederDelta, leecherDelta := transitionDelta(effPrior, effNew)

	if seederDelta != 0 {
		addInt32(&t.Seeders, seederDelta)
	}

	if leecherDelta != 0 {
		addInt32(&t.Leechers, leecherDelta)
	}

	if completed {
		t.TimesCompleted.Add(1)
	}

	delta := Delta{
		PriorState:      prior.state().orNil(prior != nil),
		UploadedDelta:   uploadedDelta,
		DownloadedDelta: downloadedDelta,
		Completed:       completed,
		SeederDelta:     seederDelta,
		LeecherDelta:    leecherDelta,
	}

	if a.Event == EventStopped {
		peers.Delete(key)

		return delta
	}

	newPeer := &Peer{
		Key:        key,
		Addr:       a.Addr,
		Uploaded:   a.Uploaded,
		Downloaded: a.Downloaded,
		Left:       a.Left,
		UpdatedAt:  a.Now,
		IsSeeder:   isSeeder,
		IsActive:   isActive,
		IsVisible:  isVisible,
	}

	if prior != nil {
		newPeer.StartedAt = prior.StartedAt
		newPeer.ClientID = prior.ClientID
	} else {
		newPeer.StartedAt = a.Now
	}

	peers.Set(key, newPeer)

	newState := State{IsSeeder: isSeeder, IsVisible: isVisible}
	delta.NewState = &newState
	delta.Peer = newPeer

	return delta
}

func nonNegativeDelta(prior *Peer, reported uint64, field func(*Peer) uint64) uint64 {
	if prior == nil {
		return 0
	}

	priorVal := field(prior)
	if reported <= priorVal {
		return 0
	}

	return reported - priorVal
}

func effectiveState(p *Peer) *State {
	if p == nil || !p.IsVisible {
		return nil
	}

	s := p.state()

	return &s
}

func (s State) orNil(present bool) *State {
	if !present {
		return nil
	}

	return &s
}

// transitionDelta implements the table in §4.3. prior/new are nil for
// "absent"; a visibility flip is modeled by the caller passing nil for the
// invisible side, which folds visibility changes into the same table.
func transitionDelta(prior, next *State) (seederDelta, leecherDelta int32) {
	seederDelta = stateScore(next, true) - stateScore(prior, true)
	leecherDelta = stateScore(next, false) - stateScore(prior, false)

	return
}

func stateScore(s *State, seeder bool) int32 {
	if s == nil {
		return 0
	}

	if s.IsSeeder == seeder {
		return 1
	}

	return 0
}
