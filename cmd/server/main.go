package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"voxelportals.ai/internal/logging"
	"voxelportals.ai/internal/persistence/indexdb"
	persistlog "voxelportals.ai/internal/persistence/log"
	"voxelportals.ai/internal/sim/portal/engine"
	"voxelportals.ai/internal/sim/portal/viewcache"
	"voxelportals.ai/internal/sim/portaldefs"
	"voxelportals.ai/internal/sim/tuning"
	"voxelportals.ai/internal/sim/voxel"
	"voxelportals.ai/internal/sim/worldstore"
	"voxelportals.ai/internal/transport/batch"
	"voxelportals.ai/internal/transport/observer"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml or tuning.toml (default: <configs>/tuning.yaml)")
		portalsPath  = flag.String("portals", "", "path to portals.yaml (default: <configs>/portals.yaml)")
		disableIndex = flag.Bool("disable_db", false, "disable the sqlite index")
		loopbackOnly = flag.Bool("loopback_only", false, "only accept viewers from loopback addresses")
	)
	flag.Parse()

	if *tuningPath == "" {
		*tuningPath = filepath.Join(*configDir, "tuning.yaml")
	}
	if *portalsPath == "" {
		*portalsPath = filepath.Join(*configDir, "portals.yaml")
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tuning: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(tune.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	deadlock.Opts.Disable = !tune.DeadlockDetection

	if err := run(*addr, *configDir, *portalsPath, *disableIndex, *loopbackOnly, tune, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(addr, configDir, portalsPath string, disableIndex, loopbackOnly bool, tune tuning.Tuning, logger *zap.Logger) error {
	cat, err := voxel.LoadCatalog(filepath.Join(configDir, "blocks.json"))
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	defs, err := portaldefs.Load(portalsPath)
	if err != nil {
		return fmt.Errorf("load portals: %w", err)
	}
	portals, err := defs.Frames()
	if err != nil {
		return err
	}

	store := worldstore.New()
	var remotes []func(*director)
	for _, ws := range defs.Worlds {
		gen := worldstore.Empty()
		if ws.Generator == "flat" {
			gen = worldstore.Flat(ws.GroundY, ws.Below, ws.Surface)
		}
		if !ws.Remote {
			store.Add(ws.ID, gen)
			continue
		}
		w := store.AddRemote(ws.ID, gen)
		after := ws.ReadyAfterTicks
		remotes = append(remotes, func(d *director) { d.readyAfter(w, after) })
	}

	var recs engine.Recorders
	if tune.Trace.Dir != "" {
		trace := persistlog.NewTraceLogger(tune.Trace.Dir, logger.Named("trace"))
		defer trace.Close()
		recs = append(recs, trace)
	}
	if !disableIndex && tune.Index.Path != "" {
		if err := os.MkdirAll(filepath.Dir(tune.Index.Path), 0o755); err != nil {
			return err
		}
		idx, err := indexdb.OpenSQLite(tune.Index.Path, logger.Named("index"))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertMeta(cat, tune); err != nil {
			logger.Warn("index: upsert meta", zap.Error(err))
		}
		if err := idx.UpsertPortals(portals); err != nil {
			logger.Warn("index: upsert portals", zap.Error(err))
		}
		recs = append(recs, idx)
	}

	hub := batch.NewHub()
	eng := engine.New(engine.Config{
		Cache: viewcache.Config{
			RefreshIntervalTicks: tune.RefreshIntervalTicks,
			ViewDistanceXZ:       tune.ViewDistanceXZ,
			ViewDistanceY:        tune.ViewDistanceY,
			EdgeMarker:           voxel.Plain(tune.EdgeMarker),
		},
		Workers: tune.Workers,
	}, engine.Deps{Blocks: store, Catalog: cat, Transmitters: hub, Recorder: recs, Log: logger.Named("engine")})
	defer eng.Close()
	for _, p := range portals {
		if err := eng.Register(p.ID, p.Frame); err != nil {
			return err
		}
	}

	dir := newDirector(eng, portals, tune.ActivationDistance, cat, logger.Named("director"))
	for _, r := range remotes {
		r(dir)
	}

	ctx, cancel := signalContext()
	defer cancel()
	dirDone := dir.Start(ctx, tune.TickRateHz)

	obs := observer.NewServer(observer.Hooks{
		Welcome: dir.welcome,
		Join:    dir.join,
		Move:    dir.move,
		Leave:   dir.leave,
	}, hub, observer.Options{
		SectionsPerSecond: tune.Transmit.SectionsPerSecond,
		Burst:             tune.Transmit.Burst,
		LoopbackOnly:      loopbackOnly,
	}, logger.Named("observer"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/portals", portalsHandler(eng))
	mux.HandleFunc("/v1/view", obs.WSHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", addr), zap.Int("portals", len(portals)))
	err = srv.ListenAndServe()

	// The engine and recorders close on return; no tick may still be running.
	cancel()
	<-dirDone
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
