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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"unit3d-announce/collector"
	"unit3d-announce/config"
	"unit3d-announce/log"
	"unit3d-announce/server"
	"unit3d-announce/store"
)

var profile, help bool

// provided at compile-time
var (
	BuildDate    = "0000-00-00T00:00:00+0000"
	BuildVersion = "development"
)

func init() {
	flag.BoolVar(&profile, "P", false, "Generate profiling data for pprof into chihaya.cpu")
	flag.BoolVar(&help, "h", false, "Shows this help dialog")
}

func main() {
	fmt.Printf("chihaya, ver=%s date=%s runtime=%s\n\n", BuildVersion, BuildDate, runtime.Version())

	flag.Parse()

	if help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()

		return
	}

	runtime.GOMAXPROCS(runtime.NumCPU())

	if profile {
		log.Info.Printf("Running with profiling enabled, found %d CPUs", runtime.NumCPU())

		f, err := os.Create("chihaya.cpu")
		if err != nil {
			log.Fatal.Fatalf("Failed to create profile file: %s\n", err)
		}

		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal.Fatalf("Can not start profiling session: %s\n", err)
		}

		defer pprof.StopCPUProfile()
	}

	os.Exit(run())
}

// run wires the config, database, swarm store and HTTP layer together and
// blocks until shutdown, returning the process's exit code (§6: 0 on clean
// shutdown, non-zero on bind, DB-connect, or config-validation failure).
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal.Printf("Failed to load configuration: %s", err)
		return 1
	}

	db, err := store.Open(cfg)
	if err != nil {
		log.Fatal.Printf("Failed to open database: %s", err)
		return 1
	}
	defer db.Close()

	st := store.New(db, store.QueueBufferSizes{
		History:      config.HistoryFlushBufferSize,
		Peer:         config.PeerFlushBufferSize,
		TorrentDelta: config.TorrentDeltaFlushBufferSize,
		UserDelta:    config.UserDeltaFlushBufferSize,
		Unregistered: config.UnregisteredFlushBufferSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info.Println("Loading reference caches from the database...")

	if err := st.Init(ctx); err != nil {
		log.Fatal.Printf("Failed to load reference caches: %s", err)
		return 1
	}

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collector.NewCollector())

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return st.Run(groupCtx, store.SchedulerConfigFromConfig(cfg))
	})

	group.Go(func() error {
		return server.Listen(groupCtx, st, registerer)
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Info.Println("Caught interrupt, shutting down...")
		server.Stop()
		cancel()
	}()

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Error.Printf("Fatal error: %s", err)
		return 1
	}

	return 0
}
