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

// Group is a UNIT3D user class (Member, VIP, Uploader, ...). Groups are
// few and stable, so the reference cache keeps them in a plain
// mutex-guarded map rather than a sharded one (§4.2).
type Group struct {
	ID                GroupID
	DownloadSlotsLimit int
	IsImmune          bool
	IsFreeleech       bool
	IsDoubleUpload    bool
}
