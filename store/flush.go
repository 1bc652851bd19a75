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
	"strings"
	"time"

	"unit3d-announce/collector"
	"unit3d-announce/config"
	"unit3d-announce/log"
	"unit3d-announce/swarm"
	"unit3d-announce/util"
)

// SchedulerConfig is the subset of the live configuration the write-back
// scheduler and reaper need on every tick. It is passed by value into Run
// rather than read through config.Current() on every loop iteration so a
// mid-run admin reload (§4.7) doesn't change a flusher's cadence until the
// next restart of Run — the same snapshot-per-goroutine-lifetime approach
// the teacher's database.go took with its package-level interval vars.
type SchedulerConfig struct {
	FlushInterval      time.Duration
	AnnounceInterval   time.Duration
	PeerExpiryInterval time.Duration
	ReloadInterval     time.Duration
}

// SchedulerConfigFromConfig builds a SchedulerConfig off the live config
// snapshot, filling in a reload cadence the hot-path Config doesn't carry.
func SchedulerConfigFromConfig(cfg *config.Config) SchedulerConfig {
	return SchedulerConfig{
		FlushInterval:      cfg.FlushInterval,
		AnnounceInterval:   cfg.AnnounceInterval,
		PeerExpiryInterval: cfg.PeerExpiryInterval,
		ReloadInterval:     45 * time.Second,
	}
}

// flushHistory drains the history queue on every tick, folding per-(user,
// torrent) deltas in the batch before a single INSERT ... ON DUPLICATE KEY
// UPDATE, same shape as the teacher's flushTransferHistory (§4.5).
func (s *Store) flushHistory(ctx context.Context, cfg SchedulerConfig) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if s.historyFlushPaused() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}

			continue
		}

		idle := s.flushHistoryOnce(ctx, cfg)

		if idle {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// flushHistoryOnce drains and applies a single history batch, reporting
// whether the queue was empty (the caller then backs off).
func (s *Store) flushHistoryOnce(ctx context.Context, cfg SchedulerConfig) bool {
	s.reaperWaitWG.Add(1)
	defer s.reaperWaitWG.Done()

	length := util.Max(1, len(s.historyCh))

	folded := make(map[historyKey]historyEvent, length)
	order := make([]historyKey, 0, length)

	count := 0

drain:
	for ; count < length; count++ {
		select {
		case ev := <-s.historyCh:
			key := historyKey{UserID: ev.UserID, TorrentID: ev.TorrentID}

			if existing, ok := folded[key]; ok {
				existing.CreditedUp += ev.CreditedUp
				existing.CreditedDown += ev.CreditedDown
				existing.Completed = existing.Completed || ev.Completed
				existing.IsSeeder = ev.IsSeeder
				existing.IsActive = ev.IsActive
				existing.Addr = ev.Addr
				existing.ClientID = ev.ClientID
				existing.At = ev.At
				existing.Attempts = util.Max(existing.Attempts, ev.Attempts)
				folded[key] = existing
			} else {
				folded[key] = ev
				order = append(order, key)
			}
		case <-ctx.Done():
			break drain
		default:
			break drain
		}
	}

	if len(order) == 0 {
		return true
	}

	start := time.Now()

	if err := s.execHistoryBatch(ctx, order, folded); err != nil {
		log.Error.Printf("flush history: %v", err)
		s.requeueHistory(order, folded)
	}

	collector.UpdateChannelFlushTime("history", time.Since(start))
	collector.UpdateChannelFlushLen("history", len(order))

	if length < config.HistoryFlushBufferSize>>1 {
		time.Sleep(cfg.FlushInterval)
	}

	return false
}

// requeueHistory implements §4.5's retry-with-cap rule: a batch that failed
// for a reason other than a deadlock (already retried inside perform) goes
// back on the queue for the next tick, row by row, until it has failed
// config.MaxFlushAttempts times, at which point it's logged and dropped.
func (s *Store) requeueHistory(order []historyKey, folded map[historyKey]historyEvent) {
	for _, key := range order {
		ev := folded[key]
		ev.Attempts++

		if ev.Attempts > config.MaxFlushAttempts {
			log.Error.Printf("dropping history row for user %d torrent %d after %d failed flush attempts",
				ev.UserID, ev.TorrentID, ev.Attempts)

			continue
		}

		send(s.historyCh, ev)
	}
}

type historyKey struct {
	UserID    swarm.UserID
	TorrentID swarm.TorrentID
}

func (s *Store) execHistoryBatch(ctx context.Context, order []historyKey, folded map[historyKey]historyEvent) error {
	var b strings.Builder
	args := make([]interface{}, 0, len(order)*8)

	b.WriteString("INSERT INTO history (uid, fid, uploaded, downloaded, seeding, active, snatched, ip, port, client_id, last_announce) VALUES ")

	for i, key := range order {
		ev := folded[key]

		if i > 0 {
			b.WriteString(",")
		}

		b.WriteString("(?,?,?,?,?,?,?,?,?,?,?)")

		args = append(args, ev.UserID, ev.TorrentID, ev.CreditedUp, ev.CreditedDown,
			ev.IsSeeder, ev.IsActive, ev.Completed, ev.Addr.IP.String(), ev.Addr.Port, ev.ClientID, ev.At.Unix())
	}

	b.WriteString(" ON DUPLICATE KEY UPDATE uploaded = uploaded + VALUES(uploaded), " +
		"downloaded = downloaded + VALUES(downloaded), seeding = VALUES(seeding), " +
		"active = VALUES(active), snatched = snatched + VALUES(snatched), " +
		"ip = VALUES(ip), port = VALUES(port), client_id = VALUES(client_id), last_announce = VALUES(last_announce)")

	return perform(ctx, func() error {
		_, err := s.db.ExecContext(ctx, b.String(), args...)
		return err
	})
}

// flushPeers drains the peer queue, folding repeated upserts/deletes for
// the same (torrent, user, peer) into the last-observed state, then issues
// one batched upsert statement and one batched delete statement per tick.
func (s *Store) flushPeers(ctx context.Context, cfg SchedulerConfig) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		length := util.Max(1, len(s.peerCh))

		folded := make(map[peerRowKey]peerEvent, length)
		order := make([]peerRowKey, 0, length)

		count := 0

	drain:
		for ; count < length; count++ {
			select {
			case ev := <-s.peerCh:
				key := peerRowKey{TorrentID: ev.TorrentID, UserID: ev.UserID, PeerID: ev.PeerID}
				if _, ok := folded[key]; !ok {
					order = append(order, key)
				}
				folded[key] = ev
			case <-ctx.Done():
				break drain
			default:
				break drain
			}
		}

		if len(order) > 0 {
			start := time.Now()

			if err := s.execPeerBatch(ctx, order, folded); err != nil {
				log.Error.Printf("flush peers: %v", err)
				s.requeuePeers(order, folded)
			}

			collector.UpdateChannelFlushTime("peer", time.Since(start))
			collector.UpdateChannelFlushLen("peer", len(order))

			if length < config.PeerFlushBufferSize>>1 {
				time.Sleep(cfg.FlushInterval)
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// requeuePeers re-enqueues a failed peer batch. Both the upsert and the
// delete statements are idempotent (ON DUPLICATE KEY UPDATE / a plain
// multi-row DELETE), so resending the whole batch on a partial failure
// inside execPeerBatch never double-applies damage, just redoes work.
func (s *Store) requeuePeers(order []peerRowKey, folded map[peerRowKey]peerEvent) {
	for _, key := range order {
		ev := folded[key]
		ev.Attempts++

		if ev.Attempts > config.MaxFlushAttempts {
			log.Error.Printf("dropping peer row for torrent %d user %d after %d failed flush attempts",
				key.TorrentID, key.UserID, ev.Attempts)

			continue
		}

		send(s.peerCh, ev)
	}
}

type peerRowKey struct {
	TorrentID swarm.TorrentID
	UserID    swarm.UserID
	PeerID    swarm.PeerID
}

func (s *Store) execPeerBatch(ctx context.Context, order []peerRowKey, folded map[peerRowKey]peerEvent) error {
	var upsertKeys, deleteKeys []peerRowKey

	for _, key := range order {
		if folded[key].Kind == peerUpsert {
			upsertKeys = append(upsertKeys, key)
		} else {
			deleteKeys = append(deleteKeys, key)
		}
	}

	if len(upsertKeys) > 0 {
		var b strings.Builder
		args := make([]interface{}, 0, len(upsertKeys)*9)

		b.WriteString("INSERT INTO peers (fid, uid, peer_id, ip, port, uploaded, downloaded, `left`, seeder, started_at, updated_at) VALUES ")

		for i, key := range upsertKeys {
			p := folded[key].Peer

			if i > 0 {
				b.WriteString(",")
			}

			b.WriteString("(?,?,?,?,?,?,?,?,?,?,?)")

			args = append(args, key.TorrentID, key.UserID, key.PeerID[:], p.Addr.IP.String(), p.Addr.Port,
				p.Uploaded, p.Downloaded, p.Left, p.IsSeeder, p.StartedAt.Unix(), p.UpdatedAt.Unix())
		}

		b.WriteString(" ON DUPLICATE KEY UPDATE ip = VALUES(ip), port = VALUES(port), " +
			"uploaded = VALUES(uploaded), downloaded = VALUES(downloaded), `left` = VALUES(`left`), " +
			"seeder = VALUES(seeder), updated_at = VALUES(updated_at)")

		if err := perform(ctx, func() error {
			_, err := s.db.ExecContext(ctx, b.String(), args...)
			return err
		}); err != nil {
			return err
		}
	}

	if len(deleteKeys) > 0 {
		var b strings.Builder
		args := make([]interface{}, 0, len(deleteKeys)*3)

		b.WriteString("DELETE FROM peers WHERE (fid, uid, peer_id) IN (")

		for i, key := range deleteKeys {
			if i > 0 {
				b.WriteString(",")
			}

			b.WriteString("(?,?,?)")

			args = append(args, key.TorrentID, key.UserID, key.PeerID[:])
		}

		b.WriteString(")")

		return perform(ctx, func() error {
			_, err := s.db.ExecContext(ctx, b.String(), args...)
			return err
		})
	}

	return nil
}

// flushTorrentDeltas folds seeder/leecher/completed deltas per torrent and
// applies them as a single additive UPDATE, mirroring the teacher's
// flushTorrents UPDATE-join shape but keyed by delta rather than snapshot
// count, since the swarm itself is the authoritative live count.
func (s *Store) flushTorrentDeltas(ctx context.Context, cfg SchedulerConfig) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		length := util.Max(1, len(s.torrentDeltaCh))

		folded := make(map[swarm.TorrentID]torrentDeltaEvent, length)
		order := make([]swarm.TorrentID, 0, length)

		count := 0

	drain:
		for ; count < length; count++ {
			select {
			case ev := <-s.torrentDeltaCh:
				if existing, ok := folded[ev.TorrentID]; ok {
					existing.SeederDelta += ev.SeederDelta
					existing.LeecherDelta += ev.LeecherDelta
					existing.CompletedDelta += ev.CompletedDelta
					existing.Attempts = util.Max(existing.Attempts, ev.Attempts)
					folded[ev.TorrentID] = existing
				} else {
					folded[ev.TorrentID] = ev
					order = append(order, ev.TorrentID)
				}
			case <-ctx.Done():
				break drain
			default:
				break drain
			}
		}

		if len(order) > 0 {
			start := time.Now()

			failedFrom := -1

			if err := perform(ctx, func() error {
				for i, id := range order {
					ev := folded[id]

					_, err := s.db.ExecContext(ctx,
						"UPDATE torrents SET seeders = seeders + ?, leechers = leechers + ?, times_completed = times_completed + ? WHERE id = ?",
						ev.SeederDelta, ev.LeecherDelta, ev.CompletedDelta, id)
					if err != nil {
						failedFrom = i
						return err
					}
				}

				return nil
			}); err != nil {
				log.Error.Printf("flush torrent deltas: %v", err)

				if failedFrom < 0 {
					failedFrom = 0
				}

				s.requeueTorrentDeltas(order[failedFrom:], folded)
			}

			collector.UpdateChannelFlushTime("torrent_delta", time.Since(start))
			collector.UpdateChannelFlushLen("torrent_delta", len(order))

			if length < config.TorrentDeltaFlushBufferSize>>1 {
				time.Sleep(cfg.FlushInterval)
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// requeueTorrentDeltas re-enqueues only the rows at and after the one that
// failed mid-batch — the additive UPDATE already committed for everything
// before it, and resending those would double-count seeders/leechers.
func (s *Store) requeueTorrentDeltas(failed []swarm.TorrentID, folded map[swarm.TorrentID]torrentDeltaEvent) {
	for _, id := range failed {
		ev := folded[id]
		ev.Attempts++

		if ev.Attempts > config.MaxFlushAttempts {
			log.Error.Printf("dropping torrent delta for torrent %d after %d failed flush attempts", id, ev.Attempts)
			continue
		}

		send(s.torrentDeltaCh, ev)
	}
}

// flushUserDeltas folds per-user credited traffic and applies it as a
// single additive UPDATE against users, same folding rule as torrent
// deltas.
func (s *Store) flushUserDeltas(ctx context.Context, cfg SchedulerConfig) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		length := util.Max(1, len(s.userDeltaCh))

		folded := make(map[swarm.UserID]userDeltaEvent, length)
		order := make([]swarm.UserID, 0, length)

		count := 0

	drain:
		for ; count < length; count++ {
			select {
			case ev := <-s.userDeltaCh:
				if existing, ok := folded[ev.UserID]; ok {
					existing.UploadedDelta += ev.UploadedDelta
					existing.DownloadedDelta += ev.DownloadedDelta
					existing.Attempts = util.Max(existing.Attempts, ev.Attempts)
					folded[ev.UserID] = existing
				} else {
					folded[ev.UserID] = ev
					order = append(order, ev.UserID)
				}
			case <-ctx.Done():
				break drain
			default:
				break drain
			}
		}

		if len(order) > 0 {
			start := time.Now()

			failedFrom := -1

			if err := perform(ctx, func() error {
				for i, id := range order {
					ev := folded[id]

					_, err := s.db.ExecContext(ctx,
						"UPDATE users SET uploaded = uploaded + ?, downloaded = downloaded + ? WHERE id = ?",
						ev.UploadedDelta, ev.DownloadedDelta, id)
					if err != nil {
						failedFrom = i
						return err
					}
				}

				return nil
			}); err != nil {
				log.Error.Printf("flush user deltas: %v", err)

				if failedFrom < 0 {
					failedFrom = 0
				}

				s.requeueUserDeltas(order[failedFrom:], folded)
			}

			collector.UpdateChannelFlushTime("user_delta", time.Since(start))
			collector.UpdateChannelFlushLen("user_delta", len(order))

			if length < config.UserDeltaFlushBufferSize>>1 {
				time.Sleep(cfg.FlushInterval)
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// requeueUserDeltas mirrors requeueTorrentDeltas: only the rows at and
// after the failing one are re-enqueued, since the additive UPDATE already
// committed for everything before it.
func (s *Store) requeueUserDeltas(failed []swarm.UserID, folded map[swarm.UserID]userDeltaEvent) {
	for _, id := range failed {
		ev := folded[id]
		ev.Attempts++

		if ev.Attempts > config.MaxFlushAttempts {
			log.Error.Printf("dropping user delta for user %d after %d failed flush attempts", id, ev.Attempts)
			continue
		}

		send(s.userDeltaCh, ev)
	}
}

// flushUnregistered folds repeated unknown-info_hash announces per (hash,
// user) into a single counter increment (§9's "UnregisteredInfoHash" abuse
// table).
func (s *Store) flushUnregistered(ctx context.Context, cfg SchedulerConfig) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		length := util.Max(1, len(s.unregisteredCh))

		folded := make(map[UnregisteredKey]unregisteredEvent, length)
		order := make([]UnregisteredKey, 0, length)

		count := 0

	drain:
		for ; count < length; count++ {
			select {
			case ev := <-s.unregisteredCh:
				key := UnregisteredKey{InfoHash: ev.InfoHash, UserID: ev.UserID}

				if existing, ok := folded[key]; ok {
					existing.Count += ev.Count
					existing.Attempts = util.Max(existing.Attempts, ev.Attempts)
					folded[key] = existing
				} else {
					folded[key] = ev
					order = append(order, key)
				}
			case <-ctx.Done():
				break drain
			default:
				break drain
			}
		}

		if len(order) > 0 {
			start := time.Now()

			var b strings.Builder
			args := make([]interface{}, 0, len(order)*3)

			b.WriteString("INSERT INTO unregistered_info_hashes (info_hash, uid, attempts) VALUES ")

			for i, key := range order {
				if i > 0 {
					b.WriteString(",")
				}

				b.WriteString("(?,?,?)")
				args = append(args, swarm.HexInfoHash(key.InfoHash), key.UserID, folded[key].Count)
			}

			b.WriteString(" ON DUPLICATE KEY UPDATE attempts = attempts + VALUES(attempts)")

			if err := perform(ctx, func() error {
				_, err := s.db.ExecContext(ctx, b.String(), args...)
				return err
			}); err != nil {
				log.Error.Printf("flush unregistered: %v", err)
				s.requeueUnregistered(order, folded)
			}

			collector.UpdateChannelFlushTime("unregistered", time.Since(start))
			collector.UpdateChannelFlushLen("unregistered", len(order))

			if length < config.UnregisteredFlushBufferSize>>1 {
				time.Sleep(cfg.FlushInterval)
			}

			for _, key := range order {
				s.touchUnregisteredCounter(key, folded[key].Count)
			}
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// requeueUnregistered re-enqueues a failed unregistered-hash batch. The
// INSERT runs as a single statement, so it either fully applies or fully
// fails — unlike the additive per-row UPDATE loops, the whole batch can be
// safely resent.
func (s *Store) requeueUnregistered(order []UnregisteredKey, folded map[UnregisteredKey]unregisteredEvent) {
	for _, key := range order {
		ev := folded[key]
		ev.Attempts++

		if ev.Attempts > config.MaxFlushAttempts {
			log.Error.Printf("dropping unregistered row for hash %x user %d after %d failed flush attempts",
				key.InfoHash, key.UserID, ev.Attempts)

			continue
		}

		send(s.unregisteredCh, ev)
	}
}

func (s *Store) touchUnregisteredCounter(key UnregisteredKey, n int) {
	present := s.unregistered.ComputeIfPresent(key, func(c *unregisteredCounter) (*unregisteredCounter, bool) {
		c.count.Add(uint64(n))
		return c, true
	})

	if !present {
		nc := &unregisteredCounter{}
		nc.count.Add(uint64(n))
		s.unregistered.Set(key, nc)
	}
}
