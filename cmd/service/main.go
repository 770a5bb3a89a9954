// Binario principal: levanta la API HTTP, el pool de workers y el scheduler
// de syncs periódicos.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/crmbridge/internal/alert"
	"github.com/dropDatabas3/crmbridge/internal/cache"
	"github.com/dropDatabas3/crmbridge/internal/config"
	"github.com/dropDatabas3/crmbridge/internal/crm"
	"github.com/dropDatabas3/crmbridge/internal/faults"
	"github.com/dropDatabas3/crmbridge/internal/health"
	httpserver "github.com/dropDatabas3/crmbridge/internal/http"
	"github.com/dropDatabas3/crmbridge/internal/memory"
	"github.com/dropDatabas3/crmbridge/internal/merge"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
	"github.com/dropDatabas3/crmbridge/internal/rate"
	"github.com/dropDatabas3/crmbridge/internal/store"
	"github.com/dropDatabas3/crmbridge/internal/syncer"
	"github.com/dropDatabas3/crmbridge/internal/util"
	"github.com/dropDatabas3/crmbridge/internal/webhook"
	"github.com/dropDatabas3/crmbridge/internal/worker"
)

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// splitAddr parte "host:port" para el wiring de redis. Sin puerto asume 6379.
func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

func main() {
	var (
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (fallback: $CONFIG_PATH o configs/config.yaml)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env (si existe, se carga)")
	)
	flag.Parse()

	if *flagEnvFile != "" && fileExists(*flagEnvFile) {
		if err := godotenv.Load(*flagEnvFile); err == nil {
			log.Printf("dotenv: cargado %s", *flagEnvFile)
		}
	}

	cfgPath := *flagConfigPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		if fileExists("configs/config.yaml") {
			cfgPath = "configs/config.yaml"
		} else {
			cfgPath = "configs/config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		ServiceName: cfg.App.Name,
	})
	defer logger.Sync()
	lg := logger.L()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		lg.Fatal("metrics register", logger.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Storage local ───
	stores, err := store.New(ctx, store.Config{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		lg.Fatal("store", logger.Err(err))
	}
	defer stores.Close()
	lg.Info("storage ready",
		logger.String("driver", cfg.Storage.Driver),
		logger.String("dsn", util.MaskDSN(cfg.Storage.DSN)),
	)

	// ─── Cache / counter store compartido ───
	redisHost, redisPort := splitAddr(cfg.Cache.Redis.Addr)
	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Cache.Kind,
		Host:     redisHost,
		Port:     redisPort,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		lg.Fatal("cache", logger.Err(err))
	}
	counters := cache.Counters(cacheClient)

	// ─── Componentes de resiliencia ───
	limiter := rate.NewLimiter(counters, rate.Config{
		Limits:       cfg.Rate.Limits,
		DefaultLimit: cfg.Rate.DefaultLimit,
		BaseDelay:    cfg.Rate.BaseDelay,
		MaxDelay:     cfg.Rate.MaxDelay,
		Jitter:       cfg.Rate.Jitter,
	})
	breaker := faults.NewBreaker(counters, faults.BreakerConfig{
		Threshold:   cfg.Breaker.Threshold,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	})
	classifier := faults.NewClassifier(breaker)
	governor := memory.NewGovernor(memory.Config{
		ThresholdPercent: cfg.Memory.ThresholdPercent,
		AlertPercent:     cfg.Memory.AlertPercent,
		CriticalPercent:  cfg.Memory.CriticalPercent,
		MinBatch:         cfg.Memory.MinBatch,
		MaxBatch:         cfg.Memory.MaxBatch,
		LimitBytes:       cfg.Memory.LimitBytes,
	})

	// ─── CRM remoto ───
	crmClient := crm.New(crm.Config{
		BaseURL: cfg.CRM.BaseURL,
		Token:   cfg.CRM.Token,
		Timeout: cfg.CRM.Timeout,
	})
	lg.Info("crm client ready",
		logger.String("base_url", cfg.CRM.BaseURL),
		logger.String("token", util.MaskSecret(cfg.CRM.Token)),
	)
	probe := health.NewProbe(crmClient, health.Config{
		TTL:                    cfg.Health.TTL,
		FailureThreshold:       cfg.Health.FailureThreshold,
		DegradationThresholdMs: cfg.Health.DegradationThresholdMs,
	})

	// ─── Pipeline de sync y webhooks ───
	driver := syncer.NewDriver(crmClient, stores.Records, limiter, classifier, governor, probe, syncer.Config{
		EntityTypes:     cfg.Sync.EntityTypes,
		EndpointClass:   cfg.Sync.EndpointClass,
		FetchCost:       cfg.Sync.FetchCost,
		DefaultMaxPages: cfg.Sync.MaxPages,
		RunTimeout:      cfg.Sync.RunTimeout,
		CallTimeout:     cfg.Sync.CallTimeout,
	})
	migrator := merge.NewMigrator(stores.Links)
	processor := webhook.NewProcessor(driver, stores.Records, crmClient, limiter, classifier, migrator, webhook.Config{
		MergeStrategy:        merge.Strategy(cfg.Webhook.MergeStrategy),
		AllowUnknownAsUpdate: cfg.Webhook.AllowUnknownAsUpdate,
		HeuristicMerge:       cfg.Webhook.HeuristicMerge,
		HeuristicWindow:      cfg.Webhook.HeuristicWindow,
		EndpointClass:        cfg.Sync.EndpointClass,
		FetchCost:            cfg.Sync.FetchCost,
	})

	notifier := alert.New(alert.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		To:       cfg.SMTP.To,
	})

	runner := worker.NewRunner(driver, processor, classifier, notifier, worker.Config{
		Workers:     cfg.Workers.Count,
		QueueSize:   cfg.Workers.QueueSize,
		DeferDelay:  cfg.Workers.DeferDelay,
		MaxAttempts: cfg.Workers.MaxAttempts,
	})
	go func() {
		if err := runner.Start(ctx); err != nil && ctx.Err() == nil {
			lg.Error("worker pool", logger.Err(err))
		}
	}()

	if cfg.Sync.ScheduleInterval > 0 {
		sched := worker.NewScheduler(runner, probe, cfg.Sync.ScheduleInterval, cfg.Sync.EntityTypes)
		go sched.Run(ctx)
	}
	if cfg.Health.Interval > 0 {
		go func() {
			t := time.NewTicker(cfg.Health.Interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					probe.Check(ctx)
				}
			}
		}()
	}

	// ─── HTTP ───
	classes := make([]string, 0, len(cfg.Rate.Limits)+1)
	seen := map[string]bool{}
	for class := range cfg.Rate.Limits {
		classes = append(classes, class)
		seen[class] = true
	}
	if !seen[cfg.Sync.EndpointClass] {
		classes = append(classes, cfg.Sync.EndpointClass)
	}

	api := &httpserver.API{
		Runner:   runner,
		Limiter:  limiter,
		Breaker:  breaker,
		Governor: governor,
		Probe:    probe,
		Records:  stores.Records,
		Cache:    cacheClient,
		Classes:  classes,
	}
	srv := httpserver.NewServer(cfg.Server.Addr, httpserver.NewRouter(api, cfg.Server.AdminAPIKey))

	go func() {
		lg.Info("service up",
			logger.String("addr", cfg.Server.Addr),
			logger.String("storage", cfg.Storage.Driver),
			logger.String("cache", cfg.Cache.Kind),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("http", logger.Err(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	runner.Close()
	if err := httpserver.Shutdown(srv, 15*time.Second); err != nil {
		lg.Warn("shutdown", logger.Err(err))
	}
}
