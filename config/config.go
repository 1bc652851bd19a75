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

package config

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"unit3d-announce/log"
)

// Buffer sizes for the write-back scheduler's five queues (§4.5). Kept as
// package vars rather than struct fields because the teacher's own
// collectors read them directly at init time to size histogram buckets.
var (
	HistoryFlushBufferSize        = 10000
	PeerFlushBufferSize           = 10000
	TorrentDeltaFlushBufferSize   = 10000
	UserDeltaFlushBufferSize      = 10000
	UnregisteredFlushBufferSize   = 1000
)

// Retry/backoff tuning for the SQL write-back path, same knobs the teacher
// exposed for its flush loop.
var (
	DeadlockWaitTime   = 1000 * time.Millisecond
	MaxDeadlockRetries = 20
	FlushSleepInterval = 3 * time.Second

	// MaxFlushAttempts bounds how many times a failed write-back batch is
	// re-enqueued after a non-deadlock DB error (§4.5) before it is logged
	// and dropped.
	MaxFlushAttempts = 5
)

var (
	configFile = "config.json"
	config     ConfigMap
	once       sync.Once
)

// ConfigMap is the teacher's hand-rolled, loosely-typed config accessor —
// no third-party config/flags library appears anywhere in the example pack
// for a service config of this shape (see DESIGN.md), so ambient settings
// that aren't part of the announce-engine's hot-path Config snapshot below
// keep using it.
type ConfigMap map[string]interface{}

func Get(s string, defaultValue string) (string, bool) {
	once.Do(readConfig)
	return config.Get(s, defaultValue)
}

func GetBool(s string, defaultValue bool) (bool, bool) {
	once.Do(readConfig)
	return config.GetBool(s, defaultValue)
}

func GetInt(s string, defaultValue int) (int, bool) {
	once.Do(readConfig)
	return config.GetInt(s, defaultValue)
}

func Section(s string) ConfigMap {
	once.Do(readConfig)
	return config.Section(s)
}

func (m ConfigMap) Get(s string, defaultValue string) (string, bool) {
	if result, exists := m[s].(string); exists {
		return result, true
	}

	return defaultValue, false
}

func (m ConfigMap) GetInt(s string, defaultValue int) (int, bool) {
	if result, exists := m[s].(json.Number); exists {
		res, _ := result.Int64()
		return int(res), true
	}

	return defaultValue, false
}

func (m ConfigMap) GetBool(s string, defaultValue bool) (bool, bool) {
	if result, exists := m[s].(bool); exists {
		return result, true
	}

	return defaultValue, false
}

func (m ConfigMap) Section(s string) ConfigMap {
	result, _ := m[s].(map[string]interface{})
	return result
}

func readConfig() {
	f, err := os.Open(configFile)
	if err != nil {
		log.Warning.Printf("Unable to open config file, defaults will be used! (%s)", err)
		return
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	decoder.UseNumber()

	if err := decoder.Decode(&config); err != nil {
		log.Error.Printf("Can not parse config file, defaults will be used! (%s)", err)
	}
}

// Config is the typed snapshot the announce hot path actually reads (§6's
// configuration table). It is swapped atomically on admin reload so that
// an in-flight announce sees either the pre- or post-reload value in full,
// never a torn read (§9 "Global factors").
type Config struct {
	ListeningIPAddress  string
	ListeningPort       int
	ListeningUnixSocket string

	APIKey string

	ReverseProxyClientIPHeader string

	UploadFactor   int // base 100
	DownloadFactor int // base 100

	AnnounceInterval       time.Duration
	MinAnnounceInterval    time.Duration
	AnnounceIntervalJitter time.Duration

	PeerExpiryInterval time.Duration

	FlushInterval time.Duration

	NumwantMax int

	DBDSN      string
	DBPoolSize int
}

var ErrBothListenersConfigured = errors.New("config: both a TCP address and a unix socket are configured; pick one")

// Validate resolves SPEC_FULL.md's first open question: listening on both
// TCP and a unix socket at once was left to implementer policy by the
// upstream source, and is rejected here at config-validation time.
func (c *Config) Validate() error {
	hasTCP := c.ListeningIPAddress != "" || c.ListeningPort != 0
	hasSocket := c.ListeningUnixSocket != ""

	if hasTCP && hasSocket {
		return ErrBothListenersConfigured
	}

	return nil
}

func defaultConfig() *Config {
	return &Config{
		ListeningIPAddress: "0.0.0.0",
		ListeningPort:      34000,

		UploadFactor:   100,
		DownloadFactor: 100,

		AnnounceInterval:       45 * time.Minute,
		MinAnnounceInterval:    30 * time.Minute,
		AnnounceIntervalJitter: 4 * time.Minute,

		PeerExpiryInterval: 15 * time.Minute,

		FlushInterval: 3 * time.Second,

		NumwantMax: 50,

		DBPoolSize: 16,
	}
}

var current atomic.Pointer[Config]

func init() {
	current.Store(defaultConfig())
}

// Current returns the live configuration snapshot.
func Current() *Config {
	return current.Load()
}

// Load reads the typed configuration out of the same config.json used by
// ConfigMap, falling back to defaults for anything unset, and installs it
// as the current snapshot. Called once at boot and again on every admin
// config/reload (§4.7).
func Load() (*Config, error) {
	once.Do(readConfig)

	c := defaultConfig()

	if v, ok := config.Get("listening_ip_address", ""); ok {
		c.ListeningIPAddress = v
	}

	if v, ok := config.GetInt("listening_port", 0); ok {
		c.ListeningPort = v
	}

	if v, ok := config.Get("listening_unix_socket", ""); ok {
		c.ListeningUnixSocket = v
	}

	if v, ok := config.Get("apikey", ""); ok {
		c.APIKey = v
	}

	if v, ok := config.Get("reverse_proxy_client_ip_header_name", ""); ok {
		c.ReverseProxyClientIPHeader = v
	}

	if v, ok := config.GetInt("upload_factor", c.UploadFactor); ok {
		c.UploadFactor = v
	}

	if v, ok := config.GetInt("download_factor", c.DownloadFactor); ok {
		c.DownloadFactor = v
	}

	intervals := config.Section("intervals")

	if v, ok := intervals.GetInt("announce", 0); ok && v > 0 {
		c.AnnounceInterval = time.Duration(v) * time.Second
	}

	if v, ok := intervals.GetInt("min_announce", 0); ok && v > 0 {
		c.MinAnnounceInterval = time.Duration(v) * time.Second
	}

	if v, ok := intervals.GetInt("announce_jitter", 0); ok && v > 0 {
		c.AnnounceIntervalJitter = time.Duration(v) * time.Second
	}

	if v, ok := intervals.GetInt("peer_expiry", 0); ok && v > 0 {
		c.PeerExpiryInterval = time.Duration(v) * time.Second
	}

	if v, ok := intervals.GetInt("flush", 0); ok && v > 0 {
		c.FlushInterval = time.Duration(v) * time.Second
	}

	if v, ok := config.GetInt("numwant_max", c.NumwantMax); ok {
		c.NumwantMax = v
	}

	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.DBDSN = dsn
	} else if v, ok := config.Get("db_dsn", ""); ok {
		c.DBDSN = v
	}

	if v, ok := config.GetInt("db_pool_size", c.DBPoolSize); ok {
		c.DBPoolSize = v
	}

	channels := config.Section("channels")
	HistoryFlushBufferSize, _ = channels.GetInt("history", HistoryFlushBufferSize)
	PeerFlushBufferSize, _ = channels.GetInt("peer", PeerFlushBufferSize)
	TorrentDeltaFlushBufferSize, _ = channels.GetInt("torrent_delta", TorrentDeltaFlushBufferSize)
	UserDeltaFlushBufferSize, _ = channels.GetInt("user_delta", UserDeltaFlushBufferSize)
	UnregisteredFlushBufferSize, _ = channels.GetInt("unregistered", UnregisteredFlushBufferSize)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	current.Store(c)

	return c, nil
}

// Reload re-reads config.json from disk, bypassing the sync.Once guard so
// the admin config/reload endpoint (§4.7) actually observes file changes.
func Reload() (*Config, error) {
	once = sync.Once{}
	config = nil

	return Load()
}
