package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/burial-registry/internal/api"
	"github.com/mohammed-shakir/burial-registry/internal/cache/redisstore"
	"github.com/mohammed-shakir/burial-registry/internal/core/config"
	"github.com/mohammed-shakir/burial-registry/internal/core/health"
	"github.com/mohammed-shakir/burial-registry/internal/core/httpclient"
	"github.com/mohammed-shakir/burial-registry/internal/core/server"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice/cached"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice/rpc"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice/sqlstore"
	"github.com/mohammed-shakir/burial-registry/internal/hotness"
	"github.com/mohammed-shakir/burial-registry/internal/hotness/expdecay"
	"github.com/mohammed-shakir/burial-registry/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/burial-registry/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/burial-registry/internal/locator"
	"github.com/mohammed-shakir/burial-registry/internal/locator/boundary"
	"github.com/mohammed-shakir/burial-registry/internal/logger"
	"github.com/mohammed-shakir/burial-registry/internal/metrics"
	"github.com/mohammed-shakir/burial-registry/internal/overview"
	"github.com/mohammed-shakir/burial-registry/internal/searchevents"
	"github.com/mohammed-shakir/burial-registry/internal/session"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	migrate := flag.Bool("migrate", false, "create the archival schema on sql backends before serving")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		return 2
	}
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
		SampleN: cfg.LogSampleN,
		Service: "burial-registry",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	prov := metrics.Init(metrics.Config{Build: metrics.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	}})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("starting registry server",
		"addr", cfg.Addr,
		"version", Version,
		"backend", cfg.Data.Backend,
		"stats_cache", cfg.StatsCache.Enabled)

	base, closeBase, err := openBackend(ctx, cfg, appLog, *migrate)
	if err != nil {
		appLog.Error("data backend setup failed", "err", err)
		return 1
	}
	defer closeBase()

	checks := []health.Check{{Name: "data", Fn: base.Ping}}

	var (
		svc      dataservice.Service = base
		statsSvc *cached.Service
	)
	if cfg.StatsCache.Enabled {
		rc, err := redisstore.New(ctx, cfg.StatsCache.RedisAddr,
			redisstore.WithPoolSize(cfg.StatsCache.PoolSize),
			redisstore.WithDialTimeout(cfg.StatsCache.DialTimeout),
			redisstore.WithOpTimeout(cfg.StatsCache.OpTimeout))
		if err != nil {
			appLog.Error("redis setup failed", "err", err, "addr", cfg.StatsCache.RedisAddr)
			return 1
		}
		defer func() { _ = rc.Close() }()
		checks = append(checks, health.Check{Name: "redis", Fn: rc.Ping})

		tracker := expdecay.New(cfg.StatsCache.HotHalfLife)
		go pruneHotness(ctx, tracker, cfg.StatsCache.HotHalfLife)
		hot := metricswrap.New(tracker, cfg.StatsCache.HotThreshold, appLog)

		statsSvc = cached.New(base, rc, hot, cached.Config{
			TTL: cached.TTLs{
				Cold: cfg.StatsCache.TTLCold,
				Warm: cfg.StatsCache.TTLWarm,
				Hot:  cfg.StatsCache.TTLHot,
			},
			Tiers:     hotness.Tiers{Threshold: cfg.StatsCache.HotThreshold, WarmFraction: cfg.StatsCache.WarmFraction},
			OpTimeout: cfg.StatsCache.OpTimeout,
		}, appLog)
		svc = statsSvc
	}

	ov := overview.New(svc, cfg.OverviewTTL, appLog)

	loc, err := loadLocator(ctx, cfg.Locator, appLog)
	if err != nil {
		appLog.Error("district boundaries could not be loaded", "err", err)
		return 1
	}

	var search searchevents.Sink = searchevents.Nop{}
	if cfg.Kafka.SearchEvents {
		pub, err := searchevents.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.SearchTopic, cfg.Kafka.SearchQueue, appLog)
		if err != nil {
			appLog.Error("search events publisher setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("search events publisher close", "err", err)
			}
		}()
		search = pub
	}

	if cfg.Kafka.Invalidation {
		cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Kafka), appLog, &zl,
			invalidationTarget{Service: statsSvc, overview: ov})
		if err := cons.Start(ctx); err != nil {
			appLog.Error("invalidation consumer setup failed", "err", err)
			return 1
		}
		defer cons.Stop()
		checks = append(checks, health.FromReporter("kafka", cons))
	}

	sessions, err := session.NewRegistry(svc, cfg.SessionCapacity, appLog)
	if err != nil {
		appLog.Error("session registry setup failed", "err", err)
		return 1
	}

	handler := api.NewRouter(api.Deps{
		Logger:       appLog,
		Sessions:     sessions,
		Hierarchy:    svc,
		Overview:     ov,
		Locator:      loc,
		Search:       search,
		StatsWaitMax: cfg.StatsWaitMax,
		Liveness:     health.Liveness(),
		Readiness:    health.Readiness(2*time.Second, checks...),
		Metrics:      prov.Handler(),
	})

	if err := server.Run(ctx, cfg.Addr, cfg.ShutdownTimeout, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// openBackend returns the configured data service and its release func.
func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger, migrate bool) (dataservice.Service, func(), error) {
	switch cfg.Data.Backend {
	case config.BackendPostgres, config.BackendSQLite:
		dialect := sqlstore.Postgres
		if cfg.Data.Backend == config.BackendSQLite {
			dialect = sqlstore.SQLite
		}
		st, err := sqlstore.Open(ctx, dialect, cfg.Data.DSN, cfg.Data.TopN, log)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, nil, err
			}
		}
		return st, func() { _ = st.Close() }, nil
	default:
		client := httpclient.NewOutbound(cfg.Data.CallTimeout)
		c, err := rpc.New(log, client, cfg.Data.RPCURL, cfg.Data.RPCKey, cfg.Data.CallTimeout)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
}

func loadLocator(ctx context.Context, lc config.LocatorCfg, log *slog.Logger) (*locator.Locator, error) {
	var src boundary.Source
	switch {
	case lc.BoundariesPath != "":
		src = boundary.File{Path: lc.BoundariesPath}
	case lc.S3Bucket != "":
		s3src, err := boundary.NewS3(ctx, boundary.S3Config{
			Bucket:    lc.S3Bucket,
			Key:       lc.S3Key,
			Region:    lc.S3Region,
			Endpoint:  lc.S3Endpoint,
			PathStyle: lc.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		src = s3src
	default:
		log.Info("map locator disabled: no district boundaries configured")
		return nil, nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return locator.Load(loadCtx, src, lc.H3Res, log)
}

func pruneHotness(ctx context.Context, t *expdecay.Tracker, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.Prune(0.01)
		}
	}
}

// invalidationTarget also drops the in-memory overview when every statistic
// is invalidated.
type invalidationTarget struct {
	*cached.Service
	overview *overview.Service
}

func (t invalidationTarget) InvalidateAll(ctx context.Context) error {
	t.overview.Purge()
	return t.Service.InvalidateAll(ctx)
}
