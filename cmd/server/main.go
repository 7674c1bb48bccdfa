package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stockanalysis/config"
	"stockanalysis/internal/api"
	"stockanalysis/internal/audit"
	"stockanalysis/internal/cache"
	"stockanalysis/internal/logger"
	"stockanalysis/internal/metrics"
	"stockanalysis/internal/model"
	"stockanalysis/internal/rbac"
	"stockanalysis/internal/scheduler"
	postgresstore "stockanalysis/internal/store/postgres"
	sqlitestore "stockanalysis/internal/store/sqlite"
	"stockanalysis/internal/updater"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("[server] starting...")

	// ---- Load .env (development convenience), then config ----
	if err := godotenv.Load(); err == nil {
		log.Println("[server] loaded .env")
	}
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[server] config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[server] config: %v", err)
	}

	slogger := logger.Init("stockanalysis", logger.ParseLevel(cfg.LogLevel))

	// ---- Graceful shutdown plumbing ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Relational stores ----
	os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755)
	sqlStore, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.Database.SQLitePath})
	if err != nil {
		log.Fatalf("[server] sqlite init failed: %v", err)
	}
	defer sqlStore.Close()

	var priceStore model.PriceHistoryStore = sqlStore
	if cfg.Database.Driver == "postgres" {
		pg, err := postgresstore.New(postgresstore.Config{DSN: cfg.Database.PostgresDSN})
		if err != nil {
			log.Fatalf("[server] postgres init failed: %v", err)
		}
		defer pg.Close()
		priceStore = pg
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Cache: Redis, with in-process fallback ----
	var store cache.Store
	redisCache, err := cache.NewRedis(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slogger.Warn("redis unavailable, using in-process cache",
			slog.String("addr", cfg.Redis.Addr), slog.String("err", err.Error()))
		mem := cache.NewMemory()
		mem.StartJanitor(ctx, time.Minute)
		store = mem
		health.SetRedisConnected(false)
	} else {
		defer redisCache.Close()
		store = redisCache
		health.SetRedisConnected(true)
		health.StartLivenessChecker(ctx, redisCache.Client(), sqlStore.DB(), 15*time.Second)
	}

	// ---- Audit sink ----
	var sink audit.Sink
	if cfg.Audit.SQLitePath != "" {
		s, err := audit.NewSQLiteSink(cfg.Audit.SQLitePath)
		if err != nil {
			log.Fatalf("[server] audit sink init failed: %v", err)
		}
		defer s.Close()
		sink = s
	} else {
		s, err := audit.NewSQLiteSinkFromDB(sqlStore.DB())
		if err != nil {
			log.Fatalf("[server] audit sink init failed: %v", err)
		}
		sink = s
	}

	// ---- Domain services ----
	rbacSvc := rbac.New(sqlStore, store, sink, slogger)
	upd := updater.New(priceStore, slogger, prom)

	// ---- Nightly refresh scheduler ----
	var sched *scheduler.Scheduler
	if cfg.Schedule.RefreshCron != "" {
		sched = scheduler.New(slogger, health)
		if err := sched.ScheduleRefresh(cfg.Schedule.RefreshCron, upd); err != nil {
			log.Fatalf("[server] bad refresh cron %q: %v", cfg.Schedule.RefreshCron, err)
		}
		sched.Start()
	}

	// ---- HTTP API ----
	apiSrv := api.New(cfg.Server.Addr, rbacSvc, upd, slogger, prom)
	apiSrv.Start()

	slogger.Info("server ready",
		slog.String("addr", cfg.Server.Addr),
		slog.String("metrics_addr", cfg.Server.MetricsAddr),
		slog.String("db_driver", cfg.Database.Driver),
	)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[server] shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if sched != nil {
		sched.Stop()
	}
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		log.Printf("[server] api shutdown: %v", err)
	}
	metricsSrv.Stop(shutdownCtx)
	log.Println("[server] stopped")
}
