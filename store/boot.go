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
	"context"

	"unit3d-announce/log"
)

// Init performs the one-time boot load described in §4.2: every reference
// cache is populated from SQL before the server starts accepting announces,
// reusing the same per-cache reload methods the periodic refresh later
// calls on a timer.
func (s *Store) Init(ctx context.Context) error {
	log.Info.Print("loading reference caches from the database")

	s.reloadGroups(ctx)
	s.reloadUsers(ctx)
	s.reloadTorrents(ctx)
	s.reloadHitAndRuns(ctx)
	s.reloadFreeleech(ctx)
	s.reloadClients(ctx)

	log.Info.Printf("boot complete: %d users, %d torrents, %d clients", s.users.Len(), s.torrents.Len(), len(s.clients))

	return nil
}
