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

import "time"

// Peer is one swarm participant, as seen by the last announce it sent.
// Peer is not safe for concurrent use on its own; every access is made
// under the shard lock of the Torrent map that holds it (§4.3).
type Peer struct {
	Key PeerKey

	Addr Addr

	Uploaded   uint64
	Downloaded uint64
	Left       uint64

	StartedAt time.Time
	UpdatedAt time.Time

	ClientID uint16

	IsSeeder  bool
	IsActive  bool
	IsVisible bool
}

// State is the (is_seeder, is_visible) pair the transition table in §4.3
// keys off. An absent peer has no State; Apply represents that with a nil
// *State rather than a zero value, so "absent" and "leecher, invisible"
// are never confused.
type State struct {
	IsSeeder  bool
	IsVisible bool
}

func (p *Peer) state() State {
	if p == nil {
		return State{}
	}

	return State{IsSeeder: p.IsSeeder, IsVisible: p.IsVisible}
}
