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

// Visible pins down §3's is_visible rule against UNIT3D's own notion of a
// "hidden" user (user.TrackHide): a peer owned by a hidden user is kept in
// the swarm and still answered on its own announces, but is excluded from
// seeder/leecher counters and from every other peer's peer list. There is
// currently no per-torrent or per-ip visibility override in UNIT3D, so the
// rule reduces to the owning user's flag.
func Visible(owner *User) bool {
	return owner == nil || !owner.TrackHide.Load()
}
