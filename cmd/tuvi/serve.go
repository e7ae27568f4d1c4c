package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/tuvi/internal/analysis"
	"github.com/mohammad-safakhou/tuvi/internal/bot"
	"github.com/mohammad-safakhou/tuvi/internal/browser/chromedp"
	"github.com/mohammad-safakhou/tuvi/internal/cache"
	"github.com/mohammad-safakhou/tuvi/internal/metrics"
	"github.com/mohammad-safakhou/tuvi/internal/server"
	"github.com/mohammad-safakhou/tuvi/internal/session"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return runServe(ctx, a, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return serve
}

func runServe(ctx context.Context, a *app, addr string) error {
	cfg, logger := a.cfg, a.logger
	metrics.Register()

	secret, err := server.LoadSecret(cfg)
	if err != nil {
		return err
	}

	engine := analysis.New(analysis.NewClient(cfg.LLM), cfg.LLM, logger.Named("analysis"))
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if model, err := engine.Ping(pctx); err != nil {
		logger.Warn("completion endpoint unreachable", zap.Error(err))
	} else {
		logger.Info("completion endpoint ready", zap.String("model", model))
	}
	cancel()

	var lock session.InFlightLock = session.NewMemoryLock()
	var results cache.ResultCache = cache.NewMemoryResultCache()
	if a.rdb != nil {
		lock = session.NewRedisLock(a.rdb, "")
		results = cache.NewRedisResultCache(a.rdb, "tuvi:analysis")
	}
	sessions := session.NewRegistry(lock, cfg.Session.TTL, cfg.Session.LockTTL, logger.Named("session"))

	deps := bot.Deps{
		Sessions:   sessions,
		Acquirer:   a.acquirer(),
		Analyzer:   engine,
		Rasterizer: chromedp.NewRasterizer(a.launcher, cfg.ChartSite.ResultTimeout),
		Charts:     a.charts,
		Results:    results,
		Dir:        a.dir,
	}
	checks := map[string]server.Pinger{}
	if a.store != nil {
		deps.Records = a.store
		checks["postgres"] = a.store
	}
	if a.rdb != nil {
		checks["redis"] = server.PingFunc(func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() })
	}
	b := bot.New(cfg, deps, logger.Named("bot"))

	sw := a.sweeper()
	sw.Jobs = append(sw.Jobs, func(now time.Time) {
		if n := sessions.Expire(now); n > 0 {
			logger.Info("expired idle sessions", zap.Int("count", n))
		}
	})
	sw.Start()
	defer close(sw.Stop)

	if addr == "" {
		addr = cfg.Server.Address
	}
	e := server.NewRouter(b, secret, logger.Named("http"), checks)
	return server.Run(ctx, e, addr, logger)
}
