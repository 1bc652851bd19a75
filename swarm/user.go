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

import "sync/atomic"

// User is the announce-relevant projection of a UNIT3D account. NumSeeding
// and NumLeeching are lazily maintained counters used only for the slot
// enforcement in §4.4 step 7 — per §3 they are advisory, not authoritative,
// and are allowed to drift slightly under concurrent announces since the
// actual swarm membership (the peer store) is what's authoritative.
type User struct {
	ID      UserID
	GroupID GroupID
	Passkey Passkey

	CanDownload        atomic.Bool
	IsLifetimeFreeleech atomic.Bool

	// TrackHide is UNIT3D's "hidden user" flag. Per SPEC_FULL.md's
	// resolution of the is_visible open question, a hidden user's peers
	// are stored and still get responses, but never counted or handed
	// out to other peers.
	TrackHide atomic.Bool

	NumSeeding  atomic.Int32
	NumLeeching atomic.Int32
}

func NewUser(id UserID, groupID GroupID, passkey Passkey) *User {
	u := &User{ID: id, GroupID: groupID, Passkey: passkey}
	u.CanDownload.Store(true)

	return u
}
