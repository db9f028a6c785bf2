package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore пишет события в append-only JSONL, один файл на UTC-день:
// <dir>/<YYYY-MM-DD>.audit.jsonl. Ротация на границе дня и по порогу
// размера (заполненный файл уезжает в <YYYY-MM-DD>.audit.N.jsonl).
type FileStore struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	logger   *zap.Logger

	f       *os.File
	day     string // "2006-01-02", день открытого файла
	written int64
}

func NewFileStore(dir string, maxBytes int64, zl *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileStore{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   zl.With(zap.String("mod", "audit-fs")),
	}, nil
}

// WriteBatch реализует Store. Одна пачка — один fsync'нутый append.
func (s *FileStore) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			// Несериализуемая метадата — вина вызывающего, но трейл не роняем
			s.logger.Error("drop unmarshalable audit event", zap.String("id", e.ID), zap.Error(err))
			continue
		}

		if err := s.ensureFile(e.Timestamp); err != nil {
			return err
		}

		n, err := s.f.Write(append(line, '\n'))
		if err != nil {
			return fmt.Errorf("append audit line: %w", err)
		}
		s.written += int64(n)
	}

	return s.f.Sync()
}

// Close закрывает текущий файл.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// DayPath — путь файла для конкретного дня (нужен ридеру и тестам).
func (s *FileStore) DayPath(t time.Time) string {
	return filepath.Join(s.dir, t.UTC().Format("2006-01-02")+".audit.jsonl")
}

// ensureFile открывает/ротирует файл под таймстемп события. Под mu.
func (s *FileStore) ensureFile(ts time.Time) error {
	day := ts.UTC().Format("2006-01-02")

	// Смена дня — просто переключаемся на новый файл
	if s.f != nil && day != s.day {
		s.f.Close()
		s.f = nil
	}

	// Порог размера — откатываем заполненный файл в нумерованный суффикс
	if s.f != nil && s.maxBytes > 0 && s.written >= s.maxBytes {
		s.f.Close()
		s.f = nil
		if err := s.rotateBySize(day); err != nil {
			return err
		}
	}

	if s.f == nil {
		path := filepath.Join(s.dir, day+".audit.jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open audit file: %w", err)
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		s.f = f
		s.day = day
		s.written = st.Size()
	}
	return nil
}

func (s *FileStore) rotateBySize(day string) error {
	current := filepath.Join(s.dir, day+".audit.jsonl")
	for n := 1; ; n++ {
		rotated := filepath.Join(s.dir, fmt.Sprintf("%s.audit.%d.jsonl", day, n))
		if _, err := os.Stat(rotated); os.IsNotExist(err) {
			s.logger.Info("rotating audit file by size", zap.String("to", rotated))
			return os.Rename(current, rotated)
		}
	}
}

// Написано для _test и reportctl: читает все строки одного файла.
func readEventsFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// Оборванная последняя строка после падения процесса — не фатал
			continue
		}
		events = append(events, e)
	}
	return events, sc.Err()
}
