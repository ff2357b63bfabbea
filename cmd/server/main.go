package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verifyd/verifyd/internal/api"
	"github.com/verifyd/verifyd/internal/config"
	"github.com/verifyd/verifyd/internal/evidence"
	"github.com/verifyd/verifyd/internal/lifecycle"
	"github.com/verifyd/verifyd/internal/notify"
	"github.com/verifyd/verifyd/internal/ratelimit"
	"github.com/verifyd/verifyd/internal/session"
	"github.com/verifyd/verifyd/internal/trust"
	"github.com/verifyd/verifyd/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "Path to config.json (default ./config.json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := utils.NewStderrLogger()
	if cfg.LogFile != "" {
		logger, err = utils.NewLogger(cfg.LogFile)
		if err != nil {
			log.Fatal(err)
		}
		defer logger.Close()
	}

	anchors, err := trust.LoadAnchorRepository(cfg.AnchorsPath)
	if err != nil {
		log.Fatal(err)
	}
	logger.Info("loaded %d trust anchors from %s", anchors.Len(), cfg.AnchorsPath)

	var (
		store         session.Store
		initLimiter   ratelimit.Limiter
		verifyLimiter ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = session.NewRedisStore(rdb, cfg.RetentionWindow())
		initLimiter = ratelimit.NewRedisWindow(rdb, cfg.InitPerMinute, time.Minute)
		verifyLimiter = ratelimit.NewRedisWindow(rdb, cfg.VerifyPerMinute, time.Minute)
		logger.Info("using redis session store at %s", cfg.RedisAddr)
	} else {
		store = session.NewMemoryStore()
		initLimiter = ratelimit.NewFixedWindow(cfg.InitPerMinute, time.Minute)
		verifyLimiter = ratelimit.NewFixedWindow(cfg.VerifyPerMinute, time.Minute)
	}

	hub := notify.NewHub()
	engine := trust.NewEngine(anchors, cfg.HighThreshold)
	ctrl := lifecycle.NewController(store, engine, hub, logger, cfg.TTL(), cfg.QRScheme)
	collector := evidence.NewCollector(store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := lifecycle.NewSweeper(store, hub, logger, cfg.SweepEvery(), cfg.RetentionWindow())
	go sweeper.Run(ctx)

	handlers := api.NewHandlers(ctrl, collector, hub, logger, verifyLimiter)
	router := api.NewRouter(handlers, api.RouterOptions{
		InitLimiter:      initLimiter,
		VerifyLimiter:    verifyLimiter,
		CollectorKeyHash: cfg.CollectorKeyHash,
	})

	logger.Info("verification service listening on %s", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, router))
}
