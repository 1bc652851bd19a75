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

func testStore() *Store {
	return New(nil, QueueBufferSizes{
		History:      16,
		Peer:         16,
		TorrentDelta: 16,
		UserDelta:    16,
		Unregistered: 16,
	})
}

func testPeerKey(user swarm.UserID, n byte) swarm.PeerKey {
	var id swarm.PeerID
	id[0] = n

	return swarm.PeerKey{UserID: user, PeerID: id}
}
