package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/config"
	"github.com/mohammad-safakhou/tuvi/internal/acquire"
	"github.com/mohammad-safakhou/tuvi/internal/assets"
	"github.com/mohammad-safakhou/tuvi/internal/browser/chromedp"
	"github.com/mohammad-safakhou/tuvi/internal/cache"
	"github.com/mohammad-safakhou/tuvi/internal/logging"
	"github.com/mohammad-safakhou/tuvi/internal/store"
)

// app holds the shared dependencies of every command. store and rdb are nil
// when the backend is not configured or unreachable at start-up.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	rdb      *redis.Client
	dir      *assets.Dir
	launcher *chromedp.Launcher
	charts   *cache.ChartCache
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.General.LogLevel, cfg.General.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	a.dir, err = assets.New(cfg.Storage.Assets.Dir)
	if err != nil {
		return nil, fmt.Errorf("assets dir: %w", err)
	}

	if cfg.Storage.Postgres.Enabled() {
		pctx, cancel := context.WithTimeout(ctx, cfg.Storage.Postgres.Timeout)
		st, err := store.NewWithDSN(pctx, cfg.Storage.Postgres.DSN())
		cancel()
		if err != nil {
			logger.Warn("postgres unavailable, chart cache and history disabled", zap.Error(err))
		} else {
			a.store = st
		}
	}

	if cfg.Storage.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		rctx, cancel := context.WithTimeout(ctx, cfg.Storage.Redis.Timeout)
		err := rdb.Ping(rctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using in-process locks and caches",
				zap.String("addr", cfg.Storage.Redis.Addr()), zap.Error(err))
			_ = rdb.Close()
		} else {
			a.rdb = rdb
		}
	}

	a.launcher = chromedp.NewLauncher(cfg.Browser, logger.Named("browser"))
	// the cache takes an interface; a nil *store.Store must not reach it
	if a.store != nil {
		a.charts = cache.NewChartCache(a.store, a.dir, logger.Named("cache"))
	} else {
		a.charts = cache.NewChartCache(nil, a.dir, logger.Named("cache"))
	}
	return a, nil
}

func (a *app) acquirer() *acquire.Acquirer {
	return acquire.New(a.launcher, a.charts, a.dir, a.cfg.ChartSite, a.logger.Named("acquire"))
}

func (a *app) sweeper() *assets.Sweeper {
	return &assets.Sweeper{
		Dir:    a.dir,
		MaxAge: a.cfg.Storage.Assets.Retention,
		Cron:   a.cfg.Storage.Assets.SweepCron,
		Rdb:    a.rdb,
		Logger: a.logger.Named("sweeper"),
	}
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.logger.Sync()
}
