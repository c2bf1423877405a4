// Command adiskd is the object-disk device daemon: it owns one
// search.Context, exposes it over gRPC (internal/transport), mirrors its
// counters onto a unix-socket control tree (internal/dctl) and a
// Prometheus endpoint (internal/stats), and optionally joins a fleet of
// other devices over Cloud Pub/Sub and Cloud Tasks (internal/fleet).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dvlop/opendiamond/internal/ceval"
	"github.com/dvlop/opendiamond/internal/config"
	"github.com/dvlop/opendiamond/internal/dctl"
	"github.com/dvlop/opendiamond/internal/filterexec"
	"github.com/dvlop/opendiamond/internal/fleet"
	"github.com/dvlop/opendiamond/internal/identity"
	"github.com/dvlop/opendiamond/internal/iotap"
	"github.com/dvlop/opendiamond/internal/ocache"
	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/search"
	"github.com/dvlop/opendiamond/internal/stats"
	"github.com/dvlop/opendiamond/internal/transport"
)

func main() {
	fixture := flag.Bool("fixture", false, "run against an in-memory MemDisk/LocalBackend instead of a real object disk and container runtime")
	searchID := flag.String("search-id", "fixture-search", "search identifier for this device's context")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found")
	}

	cfg := config.Get()

	disk, backend := buildFixtureDisk(*fixture)
	if disk == nil {
		log.Fatal("adiskd: only -fixture mode is wired in this build; a real odisk.Disk/filterexec.DockerBackend needs an index root and a container runtime to attach")
	}

	cache, err := ocache.Init(cfg.Cache.RootPath)
	if err != nil {
		slog.Warn("adiskd: ocache.Init failed, running without a persistent cache", "error", err, "root", cfg.Cache.RootPath)
	} else {
		cache.Start()
		defer cache.WaitFinish()
	}

	pool := filterexec.NewPool(backend, cfg.Cache.SandboxMinIdle, cfg.Cache.SandboxMaxCapacity)

	evalState := &ceval.State{
		Chain: &ceval.FilterChain{},
		Disk:  disk,
		Cache: cache,
		Pool:  pool,
	}

	sctx := search.New(*searchID, disk, evalState,
		search.WithRingSize(cfg.Search.RingSize),
		search.WithPendWater(cfg.Search.PendHighWater, cfg.Search.PendLowWater),
		search.WithEvaluators(cfg.Search.EvaluatorCount),
	)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if err := sctx.Start(runCtx); err != nil {
		log.Fatalf("adiskd: search.Start: %v", err)
	}
	defer sctx.Stop()

	// gRPC transport, optionally SPIFFE-secured.
	var spiffeVerifier *identity.SPIFFEVerifier
	if cfg.Transport.SpiffeSocketPath != "" {
		v, err := identity.NewSPIFFEVerifier(cfg.Transport.SpiffeSocketPath)
		if err != nil {
			slog.Warn("adiskd: SPIFFE verifier unavailable, serving plaintext gRPC", "error", err)
		} else {
			spiffeVerifier = v
			defer spiffeVerifier.Close()
		}
	}

	core := transport.NewCoreServer(sctx, spiffeVerifier)
	grpcSrv, lis, err := transport.Serve(cfg.Transport.ListenAddr, core, spiffeVerifier)
	if err != nil {
		log.Fatalf("adiskd: transport.Serve: %v", err)
	}
	defer grpcSrv.GracefulStop()
	slog.Info("adiskd: gRPC listening", "addr", lis.Addr().String())

	// I/O latency tap (mock mode unless a real BPF object is attached).
	var iotapAgg *iotap.Aggregator
	if cfg.IOTap.Enabled {
		iotapAgg = iotap.NewAggregator()
		reader, err := iotap.NewReader(iotapAgg.Sink)
		if err != nil {
			slog.Warn("adiskd: iotap.NewReader failed, running without a latency tap", "error", err)
		} else {
			reader.Start()
			defer reader.Close()
		}
	}

	// Control tree over a unix socket.
	tree := dctl.NewTree()
	if err := dctl.RegisterSearch(tree, sctx); err != nil {
		log.Fatalf("adiskd: dctl.RegisterSearch: %v", err)
	}
	if iotapAgg != nil {
		if err := dctl.RegisterIOTap(tree, iotapAgg); err != nil {
			log.Fatalf("adiskd: dctl.RegisterIOTap: %v", err)
		}
	}
	dctlSrv, err := dctl.Listen(cfg.Dctl.SocketPath, tree)
	if err != nil {
		log.Fatalf("adiskd: dctl.Listen: %v", err)
	}
	go func() {
		if err := dctlSrv.Serve(); err != nil {
			slog.Warn("adiskd: dctl server stopped", "error", err)
		}
	}()
	defer dctlSrv.Close()
	slog.Info("adiskd: control tree listening", "socket", cfg.Dctl.SocketPath)

	// Fleet-wide stats mirror: Prometheus metrics + a StatSink.
	metrics := stats.NewMetrics()
	sink, closeSink := buildStatSink(runCtx, cfg)
	defer closeSink()

	pollInterval := time.Duration(cfg.Stats.PollIntervalMs) * time.Millisecond
	poller := stats.NewPoller(sctx, metrics, sink, pollInterval)
	go poller.Run(runCtx)

	// Paths the stats router does not match (the fleet sweep webhook that
	// wireFleet registers) fall through to http.DefaultServeMux.
	statsMux := stats.Mux()
	statsMux.NotFoundHandler = http.DefaultServeMux
	statsSrv := &http.Server{Addr: cfg.Stats.PrometheusBindAddr, Handler: statsMux}
	go func() {
		if err := statsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("adiskd: stats http server stopped", "error", err)
		}
	}()
	slog.Info("adiskd: prometheus metrics listening", "addr", cfg.Stats.PrometheusBindAddr)

	// Fleet coordination: generation-bump broadcast + idle-cache sweeps.
	closeFleet := wireFleet(runCtx, cfg, sctx, cache)
	defer closeFleet()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("adiskd: shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	_ = statsSrv.Shutdown(shutdownCtx)

	slog.Info("adiskd: stopped")
}

// buildFixtureDisk returns the in-memory disk/backend pair used by
// `-fixture` mode. A real deployment would load an index-backed odisk.Disk
// and a filterexec.DockerBackend instead; neither has anywhere to attach in
// this environment, so only the fixture path is wired.
func buildFixtureDisk(fixture bool) (odisk.Disk, filterexec.Backend) {
	if !fixture {
		return nil, nil
	}
	disk := odisk.NewMemDisk([]odisk.OID{1, 2, 3, 4})
	return disk, filterexec.NewLocalBackend()
}

// buildStatSink picks the StatSink named by cfg.Stats.Sink, falling back to
// the flat-log sink if the chosen backend fails to initialize, and to a
// NopSink with a no-op Close if the log file cannot be opened either, the
// same graceful-fallback shape cmd/api (teacher) uses for
// its event bus and webhook dispatcher.
func buildStatSink(ctx context.Context, cfg *config.Config) (stats.StatSink, func()) {
	switch cfg.Stats.Sink {
	case "postgres":
		sink, err := stats.NewPostgresSink(ctx, cfg.Stats.PostgresURL)
		if err != nil {
			slog.Warn("adiskd: postgres stats sink init failed, falling back to log sink", "error", err)
			break
		}
		return sink, func() { _ = sink.Close() }
	case "spanner":
		dbPath := "projects/" + cfg.Stats.Spanner.ProjectID +
			"/instances/" + cfg.Stats.Spanner.InstanceID +
			"/databases/" + cfg.Stats.Spanner.DatabaseID
		sink, err := stats.NewSpannerSink(ctx, dbPath)
		if err != nil {
			slog.Warn("adiskd: spanner stats sink init failed, falling back to log sink", "error", err)
			break
		}
		return sink, func() { _ = sink.Close() }
	}

	sink, err := stats.NewLogSink(cfg.Stats.LogPath)
	if err != nil {
		slog.Warn("adiskd: log stats sink init failed, stats will not be persisted", "error", err)
		return stats.NopSink{}, func() {}
	}
	return sink, func() { _ = sink.Close() }
}

// wireFleet brings up the optional Pub/Sub broadcaster/subscriber and the
// idle-cache-eviction sweep scheduler (Cloud Tasks when configured, else a
// local ticker), returning a single cleanup func.
func wireFleet(ctx context.Context, cfg *config.Config, sctx *search.Context, cache *ocache.OCache) func() {
	var closers []func()

	if cfg.Fleet.PubSub.Enabled && cfg.Fleet.PubSub.ProjectID != "" {
		bc, err := fleet.NewBroadcaster(ctx, cfg.Fleet.PubSub.ProjectID, cfg.Fleet.PubSub.TopicID)
		if err != nil {
			slog.Warn("adiskd: fleet broadcaster init failed", "error", err)
		} else {
			closers = append(closers, func() { _ = bc.Close() })
		}

		if cfg.Fleet.PubSub.SubscriptionID != "" {
			sub, err := fleet.NewSubscriber(ctx, cfg.Fleet.PubSub.ProjectID, cfg.Fleet.PubSub.SubscriptionID)
			if err != nil {
				slog.Warn("adiskd: fleet subscriber init failed", "error", err)
			} else {
				closers = append(closers, func() { _ = sub.Close() })
				go func() {
					err := sub.Listen(ctx, func(ev fleet.GenBumpEvent) {
						slog.Info("adiskd: received fleet generation bump", "search_id", ev.SearchID, "generation", ev.Generation)
					})
					if err != nil && ctx.Err() == nil {
						slog.Warn("adiskd: fleet subscriber stopped", "error", err)
					}
				}()
			}
		}
	}

	sweep := func() {
		if cache != nil {
			cache.Sweep()
		}
	}
	sweepInterval := time.Duration(cfg.Fleet.SweepIntervalSec) * time.Second

	if cfg.Fleet.CloudTasks.Enabled && cfg.Fleet.CloudTasks.ProjectID != "" {
		scheduler, err := fleet.NewCloudTasksScheduler(ctx, cfg.Fleet.CloudTasks.ProjectID,
			cfg.Fleet.CloudTasks.LocationID, cfg.Fleet.CloudTasks.QueueID, cfg.Fleet.CloudTasks.TargetURL)
		if err != nil {
			slog.Warn("adiskd: cloud tasks scheduler init failed, falling back to local sweeper", "error", err)
		} else {
			closers = append(closers, func() { _ = scheduler.Close() })
			if err := scheduler.ScheduleSweep(ctx, sweepInterval); err != nil {
				slog.Warn("adiskd: initial sweep scheduling failed", "error", err)
			}
			http.HandleFunc("/fleet/sweep", fleet.SweepHandler(sweep, scheduler, sweepInterval))
			return func() {
				for _, c := range closers {
					c()
				}
			}
		}
	}

	sweeper := fleet.NewLocalSweeper(sweep, sweepInterval)
	go sweeper.Run()
	closers = append(closers, sweeper.Stop)

	return func() {
		for _, c := range closers {
			c()
		}
	}
}
