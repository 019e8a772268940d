package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/roadview/internal/api"
	"github.com/signalsfoundry/roadview/internal/config"
	"github.com/signalsfoundry/roadview/internal/highlight"
	"github.com/signalsfoundry/roadview/internal/logging"
	"github.com/signalsfoundry/roadview/internal/observability"
	"github.com/signalsfoundry/roadview/internal/scene"
	"github.com/signalsfoundry/roadview/internal/viewer"
	"github.com/signalsfoundry/roadview/internal/wfs"
	"github.com/signalsfoundry/roadview/kb"
	"github.com/signalsfoundry/roadview/model"
	"github.com/signalsfoundry/roadview/timectrl"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to a YAML config file")
	httpAddr := flag.String("http-addr", "", "HTTP address for the API and viewer socket (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load config", logging.Err(err))
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "roadview server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the server and blocks until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	collector, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("initialise metrics collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	points := kb.NewKnowledgeBase()
	unsubscribe := points.Subscribe(func(kb.Event) { collector.SetPointsLoaded(points.Len()) })
	defer unsubscribe()

	loaded, closeSource, err := loadPoints(ctx, cfg, collector, log)
	if err != nil {
		return err
	}
	defer closeSource()
	n := points.Replace(loaded)
	log.Info(ctx, "loaded road points", logging.Int("count", n))

	sc := scene.New(log)
	ctrl, err := highlight.NewController(highlight.Options{
		Points:             points,
		Renderer:           sc,
		Params:             cfg.Frustum,
		ArmDelay:           cfg.Highlight.ArmDelay,
		MarkerHeightMeters: cfg.Highlight.MarkerHeightMeters,
		MarkerRadiusMeters: cfg.Highlight.MarkerRadiusMeters,
		Metrics:            collector,
		Logger:             log,
	})
	if err != nil {
		return fmt.Errorf("create highlight controller: %w", err)
	}

	hub := viewer.NewHub(ctrl, log, cfg.AllowedOrigins...).
		WithNearby(points, cfg.Search.DefaultRadiusMeters)
	defer hub.Close()

	router, err := api.NewRouter(api.Deps{
		Controller:          ctrl,
		Points:              points,
		Scene:               sc,
		Hub:                 hub,
		Metrics:             collector,
		Log:                 log,
		DefaultRadiusMeters: cfg.Search.DefaultRadiusMeters,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := runRenderLoop(loopCtx, cfg.RenderTick, sc, hub)

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(lis)
	}()
	log.Info(ctx, "starting roadview server", logging.String("addr", lis.Addr().String()))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down roadview server")
	stopLoop()
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown failed", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// frameBroadcaster receives rendered scene snapshots.
type frameBroadcaster interface {
	Broadcast(frameType string, payload any)
	Clients() int
}

// runRenderLoop evaluates the scene every tick and pushes the snapshot to
// subscribed viewer sockets.
func runRenderLoop(ctx context.Context, tick time.Duration, sc *scene.Scene, out frameBroadcaster) <-chan struct{} {
	loop := timectrl.NewRenderLoop(tick)
	loop.AddListener(func(now time.Time) {
		snap := sc.Render(now)
		if out != nil && out.Clients() > 0 {
			out.Broadcast("scene", snap)
		}
	})
	return loop.Start(ctx, 0)
}

// loadPoints reads the configured point source. The returned close func
// releases any cache connection.
func loadPoints(ctx context.Context, cfg config.Config, collector *observability.Collector, log logging.Logger) ([]model.RoadPoint, func(), error) {
	noop := func() {}
	if cfg.PointsFile != "" {
		points, err := wfs.LoadFile(cfg.PointsFile)
		if err != nil {
			return nil, noop, err
		}
		return points, noop, nil
	}
	if !cfg.UsesWFS() {
		log.Warn(ctx, "no point source configured; starting with an empty point set")
		return nil, noop, nil
	}

	cache, closeCache := newCache(ctx, cfg.Cache, log)
	client, err := wfs.NewClient(wfs.Config{
		BaseURL:    cfg.WFS.BaseURL,
		TypeName:   cfg.WFS.TypeName,
		SRS:        cfg.WFS.SRS,
		CQL:        cfg.WFS.CQL,
		GeomColumn: cfg.WFS.GeomColumn,
		Timeout:    cfg.WFS.Timeout,
	}, wfs.WithCache(cache), wfs.WithRecorder(collector), wfs.WithLogger(log))
	if err != nil {
		closeCache()
		return nil, noop, err
	}
	points, err := client.FetchPoints(ctx)
	if err != nil {
		closeCache()
		return nil, noop, fmt.Errorf("fetch road points: %w", err)
	}
	return points, closeCache, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig, log logging.Logger) (wfs.Cache, func()) {
	if cfg.RedisAddr == "" {
		return wfs.NewMemoryCache(cfg.TTL), func() {}
	}
	rc, err := wfs.NewRedisCache(wfs.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.TTL,
	})
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = rc.Ping(pingCtx)
		cancel()
		if err == nil {
			log.Info(ctx, "using redis wfs cache", logging.String("addr", cfg.RedisAddr))
			return rc, func() { _ = rc.Close() }
		}
		_ = rc.Close()
	}
	log.Warn(ctx, "redis unavailable; falling back to in-memory wfs cache",
		logging.String("addr", cfg.RedisAddr), logging.Err(err))
	return wfs.NewMemoryCache(cfg.TTL), func() {}
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
