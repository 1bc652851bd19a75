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

// runReaper is the §4.6 purge: peers that haven't announced within
// AnnounceInterval+PeerExpiryInterval are dropped from memory, their
// counts backed out of the torrent's seeder/leecher totals, and a
// peer-delete plus torrent-delta event enqueued — but, unlike a Stopped
// announce, with no history row, since the client never told us it left
// (the teacher's purgeInactivePeers draws the same distinction).
func (s *Store) runReaper(ctx context.Context, cfg SchedulerConfig) error {
	ticker := time.NewTicker(cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.purgeInactivePeers(cfg)
		}
	}
}

func (s *Store) purgeInactivePeers(cfg SchedulerConfig) {
	start := time.Now()
	cutoff := start.Add(-(cfg.AnnounceInterval + cfg.PeerExpiryInterval))

	count := 0

	s.pauseHistoryFlush()
	defer s.resumeHistoryFlush()

	for _, t := range s.torrents.Snapshot() {
		var seederDelta, leecherDelta int32

		for _, family := range [2]swarm.Family{swarm.FamilyV4, swarm.FamilyV6} {
			peers := t.PeersFor(family)

			for i := 0; i < peers.ShardCount(); i++ {
				var expired []swarm.PeerKey

				peers.IterateShard(i, func(key swarm.PeerKey, p *swarm.Peer) {
					if !p.UpdatedAt.Before(cutoff) {
						return
					}

					expired = append(expired, key)

					if !p.IsVisible {
						return
					}

					if p.IsSeeder {
						seederDelta--
					} else {
						leecherDelta--
					}
				})

				if len(expired) == 0 {
					continue
				}

				peers.DeleteShardIf(i, func(_ swarm.PeerKey, p *swarm.Peer) bool {
					return p.UpdatedAt.Before(cutoff)
				})

				for _, key := range expired {
					count++

					s.EnqueuePeerDelete(t.ID, key)
				}
			}
		}

		if seederDelta != 0 || leecherDelta != 0 {
			t.AdjustCounters(seederDelta, leecherDelta)
			s.EnqueueTorrentDelta(torrentDeltaEvent{TorrentID: t.ID, SeederDelta: seederDelta, LeecherDelta: leecherDelta})
		}
	}

	elapsed := time.Since(start)
	collector.UpdatePurgeInactivePeersTime(elapsed)
	log.Info.Printf("reaper: purged %d inactive peers (%s)", count, elapsed)
}
