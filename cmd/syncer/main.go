package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/audit"
	auditpg "github.com/xela07ax/repogov-platform/internal/audit/postgres"
	"github.com/xela07ax/repogov-platform/internal/checkpoint"
	"github.com/xela07ax/repogov-platform/internal/control"
	"github.com/xela07ax/repogov-platform/internal/gitclient"
	"github.com/xela07ax/repogov-platform/internal/infra"
	"github.com/xela07ax/repogov-platform/internal/metrics"
	"github.com/xela07ax/repogov-platform/internal/ops"
	"github.com/xela07ax/repogov-platform/internal/syncer"
	"github.com/xela07ax/repogov-platform/internal/txn"
	"github.com/xela07ax/repogov-platform/internal/validate"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла: SIGTERM/SIGINT гасят прогон, прогресс
	// останется в последнем чекпоинте
	appCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 2. Метрики
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. Audit trail: файловый JSONL или Postgres-экспорт
	var store audit.Store
	var closeStore func() error
	switch cfg.Audit.Backend {
	case "postgres":
		pg, err := auditpg.NewStore(cfg.Audit.PostgresURL)
		if err != nil {
			logger.Fatal("failed to open audit postgres store", zap.Error(err))
		}
		if err := pg.Ping(appCtx); err != nil {
			logger.Fatal("audit postgres unreachable", zap.Error(err))
		}
		store, closeStore = pg, pg.Close
	default:
		fs, err := audit.NewFileStore(cfg.Audit.Dir, cfg.Audit.MaxFileBytes, logger)
		if err != nil {
			logger.Fatal("failed to open audit file store", zap.Error(err))
		}
		store, closeStore = fs, fs.Close
	}

	actor := os.Getenv("USER")
	if actor == "" {
		actor = "syncer"
	}
	auditor := audit.NewLogger(store, actor, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, logger)
	auditor.Start()
	logger.Info("audit session opened", zap.String("session_id", auditor.SessionID()))

	// 4. GitHub-клиент: App-аутентификация приоритетнее PAT
	var tokenSource gitclient.TokenSource
	if cfg.GitHub.AppID != "" {
		tokenSource, err = gitclient.NewAppTokenSource(cfg.GitHub.AppID, cfg.GitHub.AppKey)
		if err != nil {
			logger.Fatal("failed to init github app auth", zap.Error(err))
		}
	} else {
		tokenSource = gitclient.NewStaticTokenSource(cfg.GitHub.Token)
	}
	client := gitclient.New(cfg.GitHub, cfg.Resilience, tokenSource, collector, logger)

	// 5. Чекпоинты
	ckptMgr, err := checkpoint.NewManager(cfg.Checkpoint.Dir, logger)
	if err != nil {
		logger.Fatal("failed to init checkpoint manager", zap.Error(err))
	}

	// 6. Control plane (опциональный pause/abort через Redis pub/sub)
	var pause *control.PauseManager
	if cfg.Control.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Control.Addr, DB: cfg.Control.DB})
		pause = control.NewPauseManager(rdb, logger)
		if err := pause.Init(appCtx); err != nil {
			logger.Fatal("failed to warm up control state", zap.Error(err))
		}
		go pause.StartPauseListener(appCtx)
		go pause.StartAbortListener(appCtx)
	}

	// 7. Сборка конвейера
	txns := txn.NewManager(logger, audit.NewRollbackNotifier(auditor))
	runner := validate.NewRunner(validate.DefaultRegistry(), validate.Deps{
		Client:   client,
		CacheTTL: cfg.Resilience.CacheTTL,
	}, collector, logger)
	engine := syncer.NewEngine(cfg.Syncer, cfg.Checkpoint.KeepN, cfg.Resilience.CacheTTL,
		client, runner, txns, ckptMgr, auditor, pause, collector, logger)

	// 8. Ops-сервер живет рядом с прогоном
	opsSrv := ops.NewServer(cfg.Ops, collector, audit.NewReader(cfg.Audit.Dir), logger)
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	runErr := engine.Run(appCtx)

	// 9. Graceful shutdown: дописываем audit-буфер, гасим ops-сервер
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}
	auditor.Close()
	if err := closeStore(); err != nil {
		logger.Warn("audit store close failed", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("sync run failed", zap.Error(runErr))
		os.Exit(1)
	}
	logger.Info("sync run complete")
}
