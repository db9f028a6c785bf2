package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/audit"
	"github.com/xela07ax/repogov-platform/internal/checkpoint"
	"github.com/xela07ax/repogov-platform/internal/control"
	"github.com/xela07ax/repogov-platform/internal/gitclient"
	"github.com/xela07ax/repogov-platform/internal/infra"
	"github.com/xela07ax/repogov-platform/internal/metrics"
	"github.com/xela07ax/repogov-platform/internal/txn"
	"github.com/xela07ax/repogov-platform/internal/validate"
)

// Имя операции в control-канале (pause/abort приходят как "sync:on").
const opSync = "sync"

// ErrAborted — прогон остановлен оператором через control-канал.
// Прогресс на этот момент уже сброшен в checkpoint, рестарт продолжит с него.
var ErrAborted = errors.New("sync aborted via control channel")

// Progress — payload чекпоинта: откуда продолжать после рестарта.
type Progress struct {
	Cursor int      `json:"cursor"` // индекс следующего необработанного репозитория
	Done   int      `json:"done"`
	Failed []string `json:"failed,omitempty"`
}

// Engine — конвейер bulk-синхронизации организации: листинг → per-repo
// транзакция (метаданные, план, governance-файлы, changelog) → периодический
// checkpoint. Все исходы уходят в audit trail.
type Engine struct {
	cfg       infra.SyncerConfig
	keepN     int
	cacheTTL  time.Duration
	client    *gitclient.Client
	runner    *validate.Runner
	txns      *txn.Manager
	ckpt      *checkpoint.Manager
	recovery  *checkpoint.Recovery
	auditor   *audit.Logger
	pause     *control.PauseManager // nil, если control выключен в конфиге
	collector *metrics.Collector
	logger    *zap.Logger
}

func NewEngine(
	cfg infra.SyncerConfig,
	keepN int,
	cacheTTL time.Duration,
	client *gitclient.Client,
	runner *validate.Runner,
	txns *txn.Manager,
	ckpt *checkpoint.Manager,
	auditor *audit.Logger,
	pause *control.PauseManager,
	collector *metrics.Collector,
	zl *zap.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		keepN:     keepN,
		cacheTTL:  cacheTTL,
		client:    client,
		runner:    runner,
		txns:      txns,
		ckpt:      ckpt,
		recovery:  checkpoint.NewRecovery(ckpt, zl),
		auditor:   auditor,
		pause:     pause,
		collector: collector,
		logger:    zl.With(zap.String("mod", "syncer")),
	}
}

func checkpointName(org string) string { return "sync_" + org }

// Run прогоняет один полный цикл синхронизации организации.
// Ошибка одного репозитория не роняет прогон: он попадает в Failed и в
// метрики, цикл идет дальше. Роняют прогон только отмена контекста,
// abort-сигнал и невозможность получить список репозиториев.
func (e *Engine) Run(ctx context.Context) error {
	name := checkpointName(e.cfg.Org)
	progress := e.resume(name)

	tx := e.auditor.Begin("syncer", "sync-org", e.cfg.Org, map[string]any{
		"resume_cursor": progress.Cursor,
	})

	repos, err := e.client.ListRepositories(ctx, e.cfg.Org, e.cfg.PageSize, e.cacheTTL)
	if err != nil {
		tx.EndError(err, nil)
		return fmt.Errorf("list repositories for %s: %w", e.cfg.Org, err)
	}
	e.logger.Info("organization listing complete",
		zap.String("org", e.cfg.Org),
		zap.Int("repos", len(repos)),
		zap.Int("cursor", progress.Cursor),
	)

	lastSave := time.Now()
	for i := progress.Cursor; i < len(repos); i++ {
		// Pause/abort проверяем строго между репозиториями: начатая
		// транзакция всегда доводится до End или отката.
		if err := e.waitWhilePaused(ctx); err != nil {
			e.save(name, progress, tx)
			tx.EndError(err, nil)
			return err
		}

		repo := repos[i]
		if err := e.syncRepo(ctx, repo); err != nil {
			if ctx.Err() != nil {
				e.save(name, progress, tx)
				tx.EndError(ctx.Err(), nil)
				return ctx.Err()
			}
			e.logger.Warn("repo sync failed",
				zap.String("repo", repo.FullName), zap.Error(err))
			progress.Failed = append(progress.Failed, repo.FullName)
			e.collector.IncCounter("repos_synced_total", map[string]string{"status": "failed"})
		} else {
			e.collector.IncCounter("repos_synced_total", map[string]string{"status": "success"})
		}
		progress.Done++
		progress.Cursor = i + 1

		if e.shouldCheckpoint(progress.Done, lastSave) {
			e.save(name, progress, tx)
			lastSave = time.Now()
		}
	}

	// Финальный checkpoint фиксирует полный прогон, потом чистим историю.
	e.save(name, progress, tx)
	if err := e.ckpt.Cleanup(name, e.keepN); err != nil {
		e.logger.Warn("checkpoint cleanup failed", zap.Error(err))
	}

	tx.End(audit.StatusSuccess, map[string]any{
		"done":   progress.Done,
		"failed": len(progress.Failed),
	})
	return nil
}

// resume достает прогресс из свежайшего пригодного чекпоинта.
// Битые снапшоты Recovery пропускает сам; совсем пусто — начинаем с нуля.
func (e *Engine) resume(name string) Progress {
	var p Progress
	raw, err := e.recovery.Recover(name)
	if err != nil || raw == nil {
		return p
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		e.logger.Warn("checkpoint payload unreadable, starting fresh", zap.Error(err))
		return Progress{}
	}
	e.logger.Info("resuming from checkpoint",
		zap.Int("cursor", p.Cursor), zap.Int("done", p.Done))
	return p
}

func (e *Engine) shouldCheckpoint(done int, lastSave time.Time) bool {
	if e.cfg.CheckpointEvery > 0 && done%e.cfg.CheckpointEvery == 0 {
		return true
	}
	return e.cfg.CheckpointInterval > 0 && time.Since(lastSave) >= e.cfg.CheckpointInterval
}

func (e *Engine) save(name string, p Progress, tx *audit.Tx) {
	path, err := e.ckpt.Save(name, p)
	if err != nil {
		// Потеря чекпоинта не роняет прогон, но обязана быть видимой
		e.logger.Error("checkpoint save failed", zap.Error(err))
		tx.Event("checkpoint-failed", map[string]any{"error": err.Error()})
		return
	}
	e.collector.IncCounter("checkpoint_saves_total", nil)
	tx.Event("checkpoint-saved", map[string]any{"path": path, "cursor": p.Cursor})
}

// waitWhilePaused блокируется, пока оператор держит sync на паузе.
// Abort сильнее паузы: выходим с ErrAborted.
func (e *Engine) waitWhilePaused(ctx context.Context) error {
	if e.pause == nil {
		return ctx.Err()
	}
	for {
		if e.pause.IsAborted(opSync) {
			return ErrAborted
		}
		if !e.pause.IsPaused(opSync) {
			return ctx.Err()
		}
		e.logger.Info("sync paused, waiting for resume signal")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// syncRepo — одна атомарная единица работы: четыре шага под txn.Manager,
// свой audit-хэндл, свой замер длительности.
func (e *Engine) syncRepo(ctx context.Context, repo gitclient.Repository) error {
	repoTx := e.auditor.Begin("syncer", "sync-repo", repo.FullName, nil)
	start := time.Now()

	var plan *Plan
	steps := []txn.Step{
		{Name: "fetch-metadata", Run: func(ctx context.Context, _ *txn.Context) error {
			fresh, err := e.client.GetRepository(ctx, repo.FullName, 0)
			if err != nil {
				return err
			}
			repo = *fresh
			return nil
		}},
		{Name: "compute-plan", Run: func(ctx context.Context, _ *txn.Context) error {
			findings := e.runner.RunRepo(ctx, repoTx, repo)
			plan = BuildPlan(repo, findings)
			repoTx.Event("plan-computed", map[string]any{"files": len(plan.Files)})
			return nil
		}},
		{Name: "apply-governance", Run: func(ctx context.Context, tc *txn.Context) error {
			return e.applyPlan(ctx, tc, plan)
		}},
		{Name: "record-changelog", Run: func(_ context.Context, tc *txn.Context) error {
			return e.recordChangelog(tc, repo, plan)
		}},
	}

	err := e.txns.Run(ctx, steps)
	e.collector.ObserveHistogram("repo_sync_duration_seconds", time.Since(start).Seconds(), nil)
	if err != nil {
		repoTx.EndError(err, nil)
		return err
	}
	repoTx.End(audit.StatusSuccess, map[string]any{"applied": len(plan.Files)})
	return nil
}

// applyPlan заводит недостающие governance-файлы. Каждый созданный файл
// получает undo: при сбое последующего шага бутстрап откатывается удалением.
func (e *Engine) applyPlan(ctx context.Context, tc *txn.Context, plan *Plan) error {
	for _, f := range plan.Files {
		f := f
		if err := e.client.PutContent(ctx, plan.Repo, f.Path, f.Message, "", f.Content, ""); err != nil {
			return fmt.Errorf("put %s: %w", f.Path, err)
		}
		tc.OnRollback(func(ctx context.Context) error {
			// Для удаления contents API требует актуальный SHA
			meta, _, err := e.client.GetContent(ctx, plan.Repo, f.Path, 0)
			if err != nil {
				return err
			}
			return e.client.DeleteContent(ctx, plan.Repo, f.Path,
				"revert: undo governance bootstrap", "", meta.SHA)
		})
	}
	return nil
}

// recordChangelog дописывает строку в локальный журнал изменений.
// Undo возвращает файл в прежнее состояние байт-в-байт.
func (e *Engine) recordChangelog(tc *txn.Context, repo gitclient.Repository, plan *Plan) error {
	path := e.cfg.ChangelogPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create changelog dir: %w", err)
	}
	prev, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read changelog: %w", err)
	}

	line := fmt.Sprintf("%s\t%s\tapplied=%d\n",
		time.Now().UTC().Format(time.RFC3339), repo.FullName, len(plan.Files))
	if err := os.WriteFile(path, append(prev, []byte(line)...), 0o644); err != nil {
		return fmt.Errorf("append changelog: %w", err)
	}

	tc.OnRollback(func(context.Context) error {
		if !existed {
			return os.Remove(path)
		}
		return os.WriteFile(path, prev, 0o644)
	})
	return nil
}
