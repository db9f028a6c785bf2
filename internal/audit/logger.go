package audit

/*
Файл logger.go реализует асинхронный конвейер audit trail.

Ключевые свойства:
- Non-blocking Logging: события уходят в буферизованный канал, Hot Path
  вызывающего кода не ждет диска или БД.
- Ordering: единственный воркер вычитывает канал последовательно, поэтому
  события одной транзакции ложатся в файл строго в порядке вызовов.
- Batching: накопление в памяти и пакетная запись по таймеру или при
  достижении лимита пачки.
- Drain Pattern: при Close вход "запирается" атомарным флагом, канал
  закрывается, воркер дочитывает остатки и делает финальный flush —
  потерь при штатной остановке нет.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store определяет, куда физически сохраняются события.
type Store interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

// Options — настройки конвейера.
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// Logger — audit-логгер одной сессии (одного запуска скрипта).
type Logger struct {
	ch        chan Event
	store     Store
	logger    *zap.Logger
	wg        sync.WaitGroup
	opts      Options
	sessionID string
	actor     string
	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Log после Close
	isClosed int32
}

// NewLogger открывает новую audit-сессию от имени actor.
func NewLogger(store Store, actor string, opts Options, zl *zap.Logger) *Logger {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &Logger{
		ch:        make(chan Event, opts.BufferSize),
		store:     store,
		logger:    zl.With(zap.String("mod", "audit")),
		opts:      opts,
		sessionID: uuid.New().String(),
		actor:     actor,
	}
}

func (l *Logger) Start() {
	l.wg.Add(1)
	go l.worker()
}

// Close «запирает» вход в канал и ждет, пока воркер всё допишет.
// Повторный Close — no-op.
func (l *Logger) Close() {
	if !atomic.CompareAndSwapInt32(&l.isClosed, 0, 1) {
		return
	}

	// Крошечная пауза, чтобы текущие log успели проскочить
	time.Sleep(10 * time.Millisecond)

	l.logger.Info("stopping audit logger: closing channel and flushing buffer...")
	close(l.ch)
	l.wg.Wait()
	l.logger.Info("audit logger stopped gracefully")
}

func (l *Logger) SessionID() string { return l.sessionID }

// BufferFill — текущая заполненность буфера (для gauge backpressure).
func (l *Logger) BufferFill() int { return len(l.ch) }

// Begin открывает транзакцию: пишет событие "started" и возвращает хэндл,
// через который идут все последующие события этой операции.
func (l *Logger) Begin(component, operation, target string, meta map[string]any) *Tx {
	tx := &Tx{
		id:        uuid.New().String(),
		l:         l,
		component: component,
		operation: operation,
		target:    target,
	}
	l.log(Event{
		TransactionID: tx.id,
		Component:     component,
		Operation:     operation,
		Target:        target,
		Status:        StatusStarted,
		Metadata:      meta,
	})
	return tx
}

// log дозаполняет событие сессионными полями и отправляет в конвейер.
func (l *Logger) log(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.SessionID = l.sessionID
	event.Actor = l.actor
	event.Metadata = maskMetadata(event.Metadata)
	event.Error = MaskSecrets(event.Error)

	if atomic.LoadInt32(&l.isClosed) == 1 {
		l.logger.Warn("audit event dropped: logger is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не должен блокировать вызывающего
	select {
	case l.ch <- event:
	default:
		// Данные критичные — хотя бы в операционный лог
		l.logger.Error("audit_buffer_overflow",
			zap.String("transaction_id", event.TransactionID),
			zap.String("operation", event.Operation),
		)
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()

	batch := make([]Event, 0, l.opts.BatchSize)
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на shutdown может быть уже закрыт
			if err := l.store.WriteBatch(context.Background(), batch); err != nil {
				l.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-l.ch:
			if !ok {
				// Канал закрыт в Close() — дочитали остатки, финальный flush
				flush()
				l.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= l.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Tx — хэндл одной логической операции. Мутируется только собственными
// методами; после End новые события игнорируются.
type Tx struct {
	id        string
	l         *Logger
	component string
	operation string
	target    string
	ended     int32
}

func (tx *Tx) ID() string { return tx.id }

// Event пишет обычное операционное событие внутри транзакции.
func (tx *Tx) Event(name string, data map[string]any) {
	if atomic.LoadInt32(&tx.ended) == 1 {
		tx.l.logger.Warn("event after transaction end ignored", zap.String("tx", tx.id))
		return
	}
	tx.l.log(Event{
		TransactionID: tx.id,
		Component:     tx.component,
		Operation:     name,
		Target:        tx.target,
		Status:        StatusSuccess,
		Metadata:      data,
	})
}

// SecurityEvent пишет событие с security-флагом: compliance-отчеты
// фильтруют их без повторного разбора всего операционного потока.
func (tx *Tx) SecurityEvent(name string, data map[string]any) {
	if atomic.LoadInt32(&tx.ended) == 1 {
		return
	}
	tx.l.log(Event{
		TransactionID: tx.id,
		Component:     tx.component,
		Operation:     name,
		Target:        tx.target,
		Status:        StatusSuccess,
		Security:      true,
		Metadata:      data,
	})
}

// End закрывает транзакцию терминальным статусом. Повторный End — no-op.
func (tx *Tx) End(status Status, meta map[string]any) {
	if !atomic.CompareAndSwapInt32(&tx.ended, 0, 1) {
		return
	}
	tx.l.log(Event{
		TransactionID: tx.id,
		Component:     tx.component,
		Operation:     tx.operation,
		Target:        tx.target,
		Status:        status,
		Metadata:      meta,
	})
}

// EndError — шорткат для неуспеха с текстом причины.
func (tx *Tx) EndError(err error, meta map[string]any) {
	if !atomic.CompareAndSwapInt32(&tx.ended, 0, 1) {
		return
	}
	tx.l.log(Event{
		TransactionID: tx.id,
		Component:     tx.component,
		Operation:     tx.operation,
		Target:        tx.target,
		Status:        StatusFailed,
		Metadata:      meta,
		Error:         err.Error(),
	})
}
