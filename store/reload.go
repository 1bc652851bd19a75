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
	"time"

	"unit3d-announce/collector"
	"unit3d-announce/log"
	"unit3d-announce/swarm"
)

// runReload is the §4.2 periodic reference-cache refresh: on every tick it
// re-reads users, torrents, groups, clients and the freeleech/hit-and-run
// sets from SQL, the same pattern as the teacher's startReloading, except
// each individual reload method already mutates the sharded caches
// in-place (reusing existing pointers for unchanged rows) instead of
// swapping a whole map under one big mutex.
func (s *Store) runReload(ctx context.Context, cfg SchedulerConfig) error {
	ticker := time.NewTicker(cfg.ReloadInterval)
	defer ticker.Stop()

	tick := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.reloadUsers(ctx)
			s.reloadTorrents(ctx)
			s.reloadGroups(ctx)
			s.reloadHitAndRuns(ctx)
			s.reloadFreeleech(ctx)

			if tick%10 == 0 {
				s.reloadClients(ctx)
			}

			tick++
		}
	}
}

func (s *Store) reloadUsers(ctx context.Context) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, "SELECT id, `group`, passkey, can_download, is_lifetime_freeleech, track_hide FROM users")
	if err != nil {
		log.Error.Printf("reload users: %v", err)
		return
	}
	defer rows.Close()

	count := 0

	for rows.Next() {
		var (
			id, groupID                                 uint32
			passkey                                      string
			canDownload, isLifetimeFreeleech, trackHide bool
		)

		if err := rows.Scan(&id, &groupID, &passkey, &canDownload, &isLifetimeFreeleech, &trackHide); err != nil {
			log.Error.Printf("reload users: scan: %v", err)
			continue
		}

		s.upsertUser(swarm.UserID(id), swarm.GroupID(groupID), swarm.Passkey(passkey), canDownload, isLifetimeFreeleech, trackHide)
		count++
	}

	collector.UpdateReloadTime("users", time.Since(start))
	collector.UpdateUsers(count)
}

func (s *Store) reloadTorrents(ctx context.Context) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, "SELECT id, info_hash, status, is_deleted, upload_factor, download_factor FROM torrents")
	if err != nil {
		log.Error.Printf("reload torrents: %v", err)
		return
	}
	defer rows.Close()

	count := 0

	for rows.Next() {
		var (
			id                             uint32
			infoHashHex                    string
			status                         uint32
			isDeleted                      bool
			uploadFactor, downloadFactor   uint32
		)

		if err := rows.Scan(&id, &infoHashHex, &status, &isDeleted, &uploadFactor, &downloadFactor); err != nil {
			log.Error.Printf("reload torrents: scan: %v", err)
			continue
		}

		infoHash, err := parseHexInfoHash(infoHashHex)
		if err != nil {
			log.Error.Printf("reload torrents: bad info_hash %q: %v", infoHashHex, err)
			continue
		}

		s.upsertTorrent(swarm.TorrentID(id), infoHash, swarm.Status(status), isDeleted, uploadFactor, downloadFactor)
		count++
	}

	collector.UpdateReloadTime("torrents", time.Since(start))
	collector.UpdateTorrents(count)
}

func (s *Store) reloadGroups(ctx context.Context) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, "SELECT id, download_slots, is_immune, is_freeleech, is_double_upload FROM groups")
	if err != nil {
		log.Error.Printf("reload groups: %v", err)
		return
	}
	defer rows.Close()

	groups := make(map[swarm.GroupID]*swarm.Group)

	for rows.Next() {
		var (
			id                                     uint32
			downloadSlots                          int
			isImmune, isFreeleech, isDoubleUpload bool
		)

		if err := rows.Scan(&id, &downloadSlots, &isImmune, &isFreeleech, &isDoubleUpload); err != nil {
			log.Error.Printf("reload groups: scan: %v", err)
			continue
		}

		groups[swarm.GroupID(id)] = &swarm.Group{
			ID:                 swarm.GroupID(id),
			DownloadSlotsLimit: downloadSlots,
			IsImmune:           isImmune,
			IsFreeleech:        isFreeleech,
			IsDoubleUpload:     isDoubleUpload,
		}
	}

	s.groupsMu.Lock()
	s.groups = groups
	s.groupsMu.Unlock()

	collector.UpdateReloadTime("groups", time.Since(start))
}

func (s *Store) reloadHitAndRuns(ctx context.Context) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, "SELECT uid, fid FROM hit_and_runs WHERE active = 1")
	if err != nil {
		log.Error.Printf("reload hit and runs: %v", err)
		return
	}
	defer rows.Close()

	fresh := make(map[HitAndRunKey]struct{})

	for rows.Next() {
		var uid, fid uint32

		if err := rows.Scan(&uid, &fid); err != nil {
			log.Error.Printf("reload hit and runs: scan: %v", err)
			continue
		}

		fresh[HitAndRunKey{UserID: swarm.UserID(uid), TorrentID: swarm.TorrentID(fid)}] = struct{}{}
	}

	for k := range s.hitAndRuns.Snapshot() {
		if _, ok := fresh[k]; !ok {
			s.hitAndRuns.Delete(k)
		}
	}

	for k := range fresh {
		s.hitAndRuns.Set(k, struct{}{})
	}

	collector.UpdateReloadTime("hit_and_runs", time.Since(start))
	collector.UpdateHitAndRuns(len(fresh))
}

func (s *Store) reloadFreeleech(ctx context.Context) {
	start := time.Now()

	tokenRows, err := s.db.QueryContext(ctx, "SELECT uid, fid FROM freeleech_tokens WHERE used = 0")
	if err != nil {
		log.Error.Printf("reload freeleech tokens: %v", err)
	} else {
		fresh := make(map[FreeleechKey]struct{})

		for tokenRows.Next() {
			var uid, fid uint32

			if err := tokenRows.Scan(&uid, &fid); err != nil {
				log.Error.Printf("reload freeleech tokens: scan: %v", err)
				continue
			}

			fresh[FreeleechKey{UserID: swarm.UserID(uid), TorrentID: swarm.TorrentID(fid)}] = struct{}{}
		}
		tokenRows.Close()

		for k := range s.freeleechTokens.Snapshot() {
			if _, ok := fresh[k]; !ok {
				s.freeleechTokens.Delete(k)
			}
		}

		for k := range fresh {
			s.freeleechTokens.Set(k, struct{}{})
		}
	}

	personalRows, err := s.db.QueryContext(ctx, "SELECT uid FROM personal_freeleech WHERE expires_at > NOW()")
	if err != nil {
		log.Error.Printf("reload personal freeleech: %v", err)
	} else {
		fresh := make(map[swarm.UserID]struct{})

		for personalRows.Next() {
			var uid uint32

			if err := personalRows.Scan(&uid); err != nil {
				log.Error.Printf("reload personal freeleech: scan: %v", err)
				continue
			}

			fresh[swarm.UserID(uid)] = struct{}{}
		}
		personalRows.Close()

		for k := range s.personalFreeleech.Snapshot() {
			if _, ok := fresh[k]; !ok {
				s.personalFreeleech.Delete(k)
			}
		}

		for k := range fresh {
			s.personalFreeleech.Set(k, struct{}{})
		}
	}

	featuredRows, err := s.db.QueryContext(ctx, "SELECT fid FROM featured_torrents")
	if err != nil {
		log.Error.Printf("reload featured torrents: %v", err)
	} else {
		fresh := make(map[swarm.TorrentID]struct{})

		for featuredRows.Next() {
			var fid uint32

			if err := featuredRows.Scan(&fid); err != nil {
				log.Error.Printf("reload featured torrents: scan: %v", err)
				continue
			}

			fresh[swarm.TorrentID(fid)] = struct{}{}
		}
		featuredRows.Close()

		for k := range s.featured.Snapshot() {
			if _, ok := fresh[k]; !ok {
				s.featured.Delete(k)
			}
		}

		for k := range fresh {
			s.featured.Set(k, struct{}{})
		}
	}

	collector.UpdateReloadTime("freeleech", time.Since(start))
}

func (s *Store) reloadClients(ctx context.Context) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, "SELECT peer_id_prefix FROM blacklist_clients")
	if err != nil {
		log.Error.Printf("reload clients: %v", err)
		return
	}
	defer rows.Close()

	var clients [][]byte

	for rows.Next() {
		var prefix string

		if err := rows.Scan(&prefix); err != nil {
			log.Error.Printf("reload clients: scan: %v", err)
			continue
		}

		clients = append(clients, []byte(prefix))
	}

	s.clientsMu.Lock()
	s.clients = clients
	s.clientsMu.Unlock()

	collector.UpdateReloadTime("clients", time.Since(start))
	collector.UpdateClients(len(clients))
}
