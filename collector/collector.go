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

// Package collector exposes the service's prometheus metrics. It merges
// what used to be three separate collector generations in the teacher repo
// (a package-var based Collector, an admin-only variant, and a
// VictoriaMetrics-based one the teacher's own go.mod no longer references)
// into a single prometheus/client_golang collector, since that is the only
// metrics library the teacher's dependency graph actually supports.
package collector

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"unit3d-announce/config"
)

type Collector struct {
	uptimeMetric     *prometheus.Desc
	usersMetric      *prometheus.Desc
	torrentsMetric   *prometheus.Desc
	clientsMetric    *prometheus.Desc
	hitAndRunsMetric *prometheus.Desc
	peersMetric      *prometheus.Desc
	requestsMetric   *prometheus.Desc
	throughputMetric *prometheus.Desc

	deadlockTimeMetric    *prometheus.Desc
	deadlockCountMetric   *prometheus.Desc
	deadlockAbortedMetric *prometheus.Desc
	erroredRequestsMetric *prometheus.Desc
	sqlErrorCountMetric   *prometheus.Desc
}

var (
	users      int
	torrents   int
	clients    int
	hitAndRuns int
	peers      int
	uptime     float64
	requests   uint64
	throughput int

	deadlockTime    = time.Duration(0)
	deadlockCount   = 0
	deadlockAborted = 0
	erroredRequests = 0
	sqlErrorCount   = 0
)

var (
	reloadTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unit3d_announce_reload_seconds",
		Help:    "Histogram of the time taken to reload a reference cache from the database",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"cache"})
	flushTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "unit3d_announce_flush_seconds",
		Help:    "Histogram of the time taken to flush a write-back queue to the database",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 1.5, 2, 5},
	}, []string{"queue"})
	purgePeersTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unit3d_announce_purge_inactive_peers_seconds",
		Help:    "Histogram of the time taken to purge expired peers from memory",
		Buckets: []float64{.01, .05, .1, .15, .25, .35, .5, .75, 1, 1.25, 1.5, 1.75, 2.5, 5},
	})

	historyFlushBufferLength      prometheus.Histogram
	peerFlushBufferLength         prometheus.Histogram
	torrentDeltaFlushBufferLength prometheus.Histogram
	userDeltaFlushBufferLength    prometheus.Histogram
	unregisteredFlushBufferLength prometheus.Histogram
)

func init() {
	historyFlushBufferLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unit3d_announce_history_channel_len",
		Help:    "Histogram representing the history queue length during flush",
		Buckets: prometheus.LinearBuckets(0, float64(config.HistoryFlushBufferSize)*0.05, 20),
	})
	peerFlushBufferLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unit3d_announce_peer_channel_len",
		Help:    "Histogram representing the peer queue length during flush",
		Buckets: prometheus.LinearBuckets(0, float64(config.PeerFlushBufferSize)*0.05, 20),
	})
	torrentDeltaFlushBufferLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unit3d_announce_torrent_delta_channel_len",
		Help:    "Histogram representing the torrent delta queue length during flush",
		Buckets: prometheus.LinearBuckets(0, float64(config.TorrentDeltaFlushBufferSize)*0.05, 20),
	})
	userDeltaFlushBufferLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unit3d_announce_user_delta_channel_len",
		Help:    "Histogram representing the user delta queue length during flush",
		Buckets: prometheus.LinearBuckets(0, float64(config.UserDeltaFlushBufferSize)*0.05, 20),
	})
	unregisteredFlushBufferLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "unit3d_announce_unregistered_channel_len",
		Help:    "Histogram representing the unregistered-announce queue length during flush",
		Buckets: prometheus.LinearBuckets(0, float64(config.UnregisteredFlushBufferSize)*0.05, 20),
	})
}

func NewCollector() *Collector {
	return &Collector{
		uptimeMetric: prometheus.NewDesc("unit3d_announce_uptime",
			"System uptime in seconds", nil, nil),
		usersMetric: prometheus.NewDesc("unit3d_announce_users",
			"Number of users held in the reference cache", nil, nil),
		torrentsMetric: prometheus.NewDesc("unit3d_announce_torrents",
			"Number of torrents currently being tracked", nil, nil),
		clientsMetric: prometheus.NewDesc("unit3d_announce_clients",
			"Number of blacklisted client peer ID prefixes", nil, nil),
		hitAndRunsMetric: prometheus.NewDesc("unit3d_announce_hit_and_runs",
			"Number of active hit and runs registered", nil, nil),
		peersMetric: prometheus.NewDesc("unit3d_announce_peers",
			"Number of peers currently being tracked", nil, nil),
		requestsMetric: prometheus.NewDesc("unit3d_announce_requests",
			"Number of requests received", nil, nil),
		throughputMetric: prometheus.NewDesc("unit3d_announce_throughput",
			"Current throughput in requests per minute", nil, nil),

		deadlockCountMetric: prometheus.NewDesc("unit3d_announce_deadlock_count",
			"Number of unique database deadlocks encountered", nil, nil),
		deadlockAbortedMetric: prometheus.NewDesc("unit3d_announce_deadlock_aborted_count",
			"Number of times deadlock retries were exceeded and a query was given up on", nil, nil),
		deadlockTimeMetric: prometheus.NewDesc("unit3d_announce_deadlock_seconds_total",
			"Total time spent waiting to retry a deadlocked query", nil, nil),
		erroredRequestsMetric: prometheus.NewDesc("unit3d_announce_requests_failed",
			"Number of failed requests", nil, nil),
		sqlErrorCountMetric: prometheus.NewDesc("unit3d_announce_sql_errors_count",
			"Number of non-retryable SQL errors", nil, nil),
	}
}

func (collector *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- collector.uptimeMetric
	ch <- collector.usersMetric
	ch <- collector.torrentsMetric
	ch <- collector.clientsMetric
	ch <- collector.hitAndRunsMetric
	ch <- collector.peersMetric
	ch <- collector.requestsMetric
	ch <- collector.throughputMetric
	ch <- collector.deadlockCountMetric
	ch <- collector.deadlockAbortedMetric
	ch <- collector.deadlockTimeMetric
	ch <- collector.erroredRequestsMetric
	ch <- collector.sqlErrorCountMetric

	reloadTime.Describe(ch)
	flushTime.Describe(ch)
	purgePeersTime.Describe(ch)

	historyFlushBufferLength.Describe(ch)
	peerFlushBufferLength.Describe(ch)
	torrentDeltaFlushBufferLength.Describe(ch)
	userDeltaFlushBufferLength.Describe(ch)
	unregisteredFlushBufferLength.Describe(ch)
}

func (collector *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(collector.uptimeMetric, prometheus.CounterValue, uptime)
	ch <- prometheus.MustNewConstMetric(collector.usersMetric, prometheus.GaugeValue, float64(users))
	ch <- prometheus.MustNewConstMetric(collector.torrentsMetric, prometheus.GaugeValue, float64(torrents))
	ch <- prometheus.MustNewConstMetric(collector.clientsMetric, prometheus.GaugeValue, float64(clients))
	ch <- prometheus.MustNewConstMetric(collector.hitAndRunsMetric, prometheus.GaugeValue, float64(hitAndRuns))
	ch <- prometheus.MustNewConstMetric(collector.peersMetric, prometheus.GaugeValue, float64(peers))
	ch <- prometheus.MustNewConstMetric(collector.requestsMetric, prometheus.CounterValue, float64(requests))
	ch <- prometheus.MustNewConstMetric(collector.throughputMetric, prometheus.GaugeValue, float64(throughput))
	ch <- prometheus.MustNewConstMetric(collector.deadlockCountMetric, prometheus.CounterValue, float64(deadlockCount))
	ch <- prometheus.MustNewConstMetric(collector.deadlockAbortedMetric, prometheus.CounterValue, float64(deadlockAborted))
	ch <- prometheus.MustNewConstMetric(collector.deadlockTimeMetric, prometheus.CounterValue, deadlockTime.Seconds())
	ch <- prometheus.MustNewConstMetric(collector.erroredRequestsMetric, prometheus.CounterValue, float64(erroredRequests))
	ch <- prometheus.MustNewConstMetric(collector.sqlErrorCountMetric, prometheus.CounterValue, float64(sqlErrorCount))

	reloadTime.Collect(ch)
	flushTime.Collect(ch)
	purgePeersTime.Collect(ch)

	historyFlushBufferLength.Collect(ch)
	peerFlushBufferLength.Collect(ch)
	torrentDeltaFlushBufferLength.Collect(ch)
	userDeltaFlushBufferLength.Collect(ch)
	unregisteredFlushBufferLength.Collect(ch)
}

func UpdateUptime(seconds float64) { uptime = seconds }

func UpdateUsers(count int) { users = count }

func UpdatePeers(count int) { peers = count }

func UpdateTorrents(count int) { torrents = count }

func UpdateClients(count int) { clients = count }

func UpdateHitAndRuns(count int) { hitAndRuns = count }

func UpdateRequests(count uint64) { requests = count }

func UpdateThroughput(rpm int) { throughput = rpm }

func IncrementDeadlockCount() { deadlockCount++ }

func IncrementDeadlockTime(d time.Duration) { deadlockTime += d }

func IncrementDeadlockAborted() { deadlockAborted++ }

func IncrementErroredRequests() { erroredRequests++ }

func IncrementSQLErrorCount() { sqlErrorCount++ }

func UpdateReloadTime(cache string, d time.Duration) {
	reloadTime.WithLabelValues(cache).Observe(d.Seconds())
}

func UpdatePurgeInactivePeersTime(d time.Duration) {
	purgePeersTime.Observe(d.Seconds())
}

func UpdateChannelFlushTime(queue string, d time.Duration) {
	flushTime.WithLabelValues(queue).Observe(d.Seconds())
}

func UpdateChannelFlushLen(queue string, length int) {
	switch queue {
	case "history":
		historyFlushBufferLength.Observe(float64(length))
	case "peer":
		peerFlushBufferLength.Observe(float64(length))
	case "torrent_delta":
		torrentDeltaFlushBufferLength.Observe(float64(length))
	case "user_delta":
		userDeltaFlushBufferLength.Observe(float64(length))
	case "unregistered":
		unregisteredFlushBufferLength.Observe(float64(length))
	default:
		slog.Error("trying to update channel length for unknown queue", "queue", queue)
	}
}
