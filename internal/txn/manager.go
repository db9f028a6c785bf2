package txn

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RollbackError — откат сам сломался: часть undo-хендлеров упала.
// Система может быть в неконсистентном состоянии, поэтому такая ошибка
// логируется как security-событие аудита и пробрасывается наверх.
type RollbackError struct {
	Step     string  // шаг, уронивший транзакцию
	Cause    error   // исходная ошибка шага
	UndoErrs []error // ошибки провалившихся undo
}

func (e *RollbackError) Error() string {
	parts := make([]string, 0, len(e.UndoErrs))
	for _, ue := range e.UndoErrs {
		parts = append(parts, ue.Error())
	}
	return fmt.Sprintf("rollback after step %q failed: %v (undo errors: %s)",
		e.Step, e.Cause, strings.Join(parts, "; "))
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// Step — один шаг транзакции. Через Context шаг регистрирует undo
// для уже сделанных side effect'ов.
type Step struct {
	Name string
	Run  func(ctx context.Context, tx *Context) error
}

// Context — транзакционный скоуп шага: сюда складываются undo-хендлеры.
type Context struct {
	undos []undoEntry
}

type undoEntry struct {
	step string
	fn   func(ctx context.Context) error
}

// OnRollback регистрирует компенсацию для side effect'а, который шаг уже
// совершил. При сбое любого последующего шага компенсации выполняются
// строго LIFO.
func (t *Context) OnRollback(fn func(ctx context.Context) error) {
	t.undos = append(t.undos, undoEntry{fn: fn})
}

// SecurityNotifier получает сигнал о сломанном откате (для аудита).
type SecurityNotifier interface {
	RollbackFailed(step string, cause error, undoErrs []error)
}

// Manager исполняет упорядоченный список шагов с автоматическим откатом.
// Упал шаг k — undo шагов 1..k-1 выполняются в обратном порядке ровно по
// разу, затем исходная ошибка уходит вызывающему. Коммит уничтожает
// накопленные undo: после него наблюдаемых полу-применённых эффектов
// быть не может по построению.
type Manager struct {
	logger   *zap.Logger
	notifier SecurityNotifier // может быть nil
}

func NewManager(zl *zap.Logger, notifier SecurityNotifier) *Manager {
	return &Manager{
		logger:   zl.With(zap.String("mod", "txn")),
		notifier: notifier,
	}
}

// Run выполняет шаги по порядку. Возврат nil означает неявный commit.
func (m *Manager) Run(ctx context.Context, steps []Step) error {
	tx := &Context{}

	for _, step := range steps {
		mark := len(tx.undos)
		if err := step.Run(ctx, tx); err != nil {
			// Undo самого упавшего шага не выполняются: компенсируем только
			// полностью завершившиеся шаги 1..k-1
			tx.undos = tx.undos[:mark]
			m.logger.Warn("transaction step failed, rolling back",
				zap.String("step", step.Name),
				zap.Int("undos", len(tx.undos)),
				zap.Error(err),
			)
			return m.rollback(ctx, step.Name, err, tx)
		}
		// Фиксируем, какие undo принадлежат какому шагу (для диагностики)
		for i := range tx.undos {
			if tx.undos[i].step == "" {
				tx.undos[i].step = step.Name
			}
		}
	}

	// Commit: все шаги прошли, undo-хендлеры сбрасываются
	tx.undos = nil
	return nil
}

// WithRollback оборачивает одиночную операцию: упала — компенсация
// выполняется сразу (в отличие от шагов, где undo упавшего не зовется:
// здесь undo по контракту вызывающего умеет откатить и частичную работу).
func (m *Manager) WithRollback(ctx context.Context, name string, op func(ctx context.Context) error, undo func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}

	m.logger.Warn("operation failed, rolling back", zap.String("op", name), zap.Error(err))
	if undoErr := undo(ctx); undoErr != nil {
		undoErrs := []error{fmt.Errorf("undo of %q: %w", name, undoErr)}
		if m.notifier != nil {
			m.notifier.RollbackFailed(name, err, undoErrs)
		}
		return &RollbackError{Step: name, Cause: err, UndoErrs: undoErrs}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// rollback гонит undo в LIFO. Undo упавшего шага регистрировать не успели —
// значит и не выполняем, ровно по контракту.
func (m *Manager) rollback(ctx context.Context, failedStep string, cause error, tx *Context) error {
	var undoErrs []error
	for i := len(tx.undos) - 1; i >= 0; i-- {
		entry := tx.undos[i]
		if err := entry.fn(ctx); err != nil {
			m.logger.Error("undo handler failed",
				zap.String("step", entry.step),
				zap.Error(err),
			)
			undoErrs = append(undoErrs, fmt.Errorf("undo of %q: %w", entry.step, err))
		}
	}
	tx.undos = nil

	if len(undoErrs) > 0 {
		if m.notifier != nil {
			m.notifier.RollbackFailed(failedStep, cause, undoErrs)
		}
		return &RollbackError{Step: failedStep, Cause: cause, UndoErrs: undoErrs}
	}

	return fmt.Errorf("step %q: %w", failedStep, cause)
}
