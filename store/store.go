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

// Package store is the service's single collaborator with SQL: it owns the
// reference caches (§4.2), the admin surface that mutates them (§4.7), and
// the write-back scheduler and reaper that keep the in-memory swarm
// (package swarm) and the database eventually consistent (§4.5, §4.6).
package store

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"unit3d-announce/swarm"
	"unit3d-announce/util"
)

const referenceShards = 256

// FreeleechKey and HitAndRunKey are composite cache keys; like every
// sharded reference cache, both sets are built with referenceShards shards.
type FreeleechKey struct {
	UserID    swarm.UserID
	TorrentID swarm.TorrentID
}

type HitAndRunKey struct {
	UserID    swarm.UserID
	TorrentID swarm.TorrentID
}

type UnregisteredKey struct {
	InfoHash swarm.InfoHash
	UserID   swarm.UserID
}

// Store holds every reference cache from §4.2 plus the write-back queues
// from §4.5. The swarm itself (torrent peer maps) lives inside each
// *swarm.Torrent value held by the torrents cache; Store never holds a
// torrent's peer-map lock itself.
type Store struct {
	db *sql.DB

	users          *util.Map[swarm.UserID, *swarm.User]
	usersByPasskey *util.Map[swarm.Passkey, *swarm.User]

	torrents     *util.Map[swarm.InfoHash, *swarm.Torrent]
	torrentsByID *util.Map[swarm.TorrentID, *swarm.Torrent]

	groupsMu sync.RWMutex
	groups   map[swarm.GroupID]*swarm.Group

	clientsMu  sync.RWMutex
	clients    [][]byte // blacklisted client peer_id prefixes

	featured          *util.Map[swarm.TorrentID, struct{}]
	freeleechTokens   *util.Map[FreeleechKey, struct{}]
	personalFreeleech *util.Map[swarm.UserID, struct{}]
	hitAndRuns        *util.Map[HitAndRunKey, struct{}]

	unregistered *util.Map[UnregisteredKey, *unregisteredCounter]

	historyCh      chan historyEvent
	peerCh         chan peerEvent
	torrentDeltaCh chan torrentDeltaEvent
	userDeltaCh    chan userDeltaEvent
	unregisteredCh chan unregisteredEvent

	startedAt time.Time

	reaperWaitMu sync.Mutex
	reaperWaitWG sync.WaitGroup
	reaperPaused bool
}

// pauseHistoryFlush blocks flushHistory from starting a new batch and waits
// for any in-flight one to finish, so the reaper's purge and a concurrent
// history flush never race over the same peer (the teacher's
// goTransferHistoryWait). resumeHistoryFlush must be called when done.
func (s *Store) pauseHistoryFlush() {
	s.reaperWaitMu.Lock()
	s.reaperPaused = true
	s.reaperWaitMu.Unlock()

	s.reaperWaitWG.Wait()
}

func (s *Store) resumeHistoryFlush() {
	s.reaperWaitMu.Lock()
	s.reaperPaused = false
	s.reaperWaitMu.Unlock()
}

func (s *Store) historyFlushPaused() bool {
	s.reaperWaitMu.Lock()
	defer s.reaperWaitMu.Unlock()

	return s.reaperPaused
}

func New(db *sql.DB, bufferSizes QueueBufferSizes) *Store {
	s := &Store{
		db: db,

		users:          util.NewMap[swarm.UserID, *swarm.User](referenceShards, func(k swarm.UserID) uint64 { return uint64(k) }),
		usersByPasskey: util.NewMap[swarm.Passkey, *swarm.User](referenceShards, hashPasskey),

		torrents:     util.NewMap[swarm.InfoHash, *swarm.Torrent](referenceShards, hashInfoHash),
		torrentsByID: util.NewMap[swarm.TorrentID, *swarm.Torrent](referenceShards, func(k swarm.TorrentID) uint64 { return uint64(k) }),

		groups: make(map[swarm.GroupID]*swarm.Group),

		featured:          util.NewMap[swarm.TorrentID, struct{}](referenceShards, func(k swarm.TorrentID) uint64 { return uint64(k) }),
		freeleechTokens:   util.NewMap[FreeleechKey, struct{}](referenceShards, hashFreeleechKey),
		personalFreeleech: util.NewMap[swarm.UserID, struct{}](referenceShards, func(k swarm.UserID) uint64 { return uint64(k) }),
		hitAndRuns:        util.NewMap[HitAndRunKey, struct{}](referenceShards, hashHitAndRunKey),

		unregistered: util.NewMap[UnregisteredKey, *unregisteredCounter](referenceShards, hashUnregisteredKey),

		historyCh:      make(chan historyEvent, bufferSizes.History),
		peerCh:         make(chan peerEvent, bufferSizes.Peer),
		torrentDeltaCh: make(chan torrentDeltaEvent, bufferSizes.TorrentDelta),
		userDeltaCh:    make(chan userDeltaEvent, bufferSizes.UserDelta),
		unregisteredCh: make(chan unregisteredEvent, bufferSizes.Unregistered),

		startedAt: time.Now(),
	}

	return s
}

type QueueBufferSizes struct {
	History      int
	Peer         int
	TorrentDelta int
	UserDelta    int
	Unregistered int
}

type unregisteredCounter struct {
	count atomic.Uint64
}

// Uptime reports how long this Store has been running, for the admin
// stats snapshot (§4.7) and the teacher's uptime metric.
func (s *Store) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Run starts the write-back scheduler and the reaper and blocks until ctx
// is cancelled or one of them returns a fatal error, per §9's "the only
// task that may suspend on SQL is the scheduler consumer". Using
// errgroup.Group (promoted from an indirect dependency, see
// SPEC_FULL.md's DOMAIN STACK) instead of a bare sync.WaitGroup means a
// flush goroutine's fatal error actually propagates to main instead of
// being silently dropped.
func (s *Store) Run(ctx context.Context, cfg SchedulerConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.flushHistory(ctx, cfg) })
	g.Go(func() error { return s.flushPeers(ctx, cfg) })
	g.Go(func() error { return s.flushTorrentDeltas(ctx, cfg) })
	g.Go(func() error { return s.flushUserDeltas(ctx, cfg) })
	g.Go(func() error { return s.flushUnregistered(ctx, cfg) })
	g.Go(func() error { return s.runReaper(ctx, cfg) })
	g.Go(func() error { return s.runReload(ctx, cfg) })

	return g.Wait()
}

func hashInfoHash(h swarm.InfoHash) uint64 {
	var v uint64 = 14695981039346656037
	for _, b := range h {
		v ^= uint64(b)
		v *= 1099511628211
	}

	return v
}

func hashPasskey(p swarm.Passkey) uint64 {
	var v uint64 = 14695981039346656037
	for i := 0; i < len(p); i++ {
		v ^= uint64(p[i])
		v *= 1099511628211
	}

	return v
}

func hashFreeleechKey(k FreeleechKey) uint64 {
	return uint64(k.UserID)<<32 ^ uint64(k.TorrentID)
}

func hashHitAndRunKey(k HitAndRunKey) uint64 {
	return uint64(k.UserID)<<32 ^ uint64(k.TorrentID)
}

func hashUnregisteredKey(k UnregisteredKey) uint64 {
	return hashInfoHash(k.InfoHash) ^ uint64(k.UserID)*31
}
