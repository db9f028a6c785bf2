package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot — один durable-снапшот прогресса операции.
type Snapshot struct {
	Name      string          `json:"name"`
	Sequence  uint64          `json:"sequence"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"` // состояние определяет вызывающий
}

// CorruptError — файл чекпоинта не читается. Фатален для конкретного
// файла, но не для восстановления: Recovery откатится на более старый.
type CorruptError struct {
	Path  string
	Cause error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Cause)
}

func (e *CorruptError) Unwrap() error { return e.Cause }

var fileNameRe = regexp.MustCompile(`^(.+)_(\d{9,})\.json$`)

// Manager хранит чекпоинты файлами <dir>/<name>_<seq>.json.
// Запись атомарна (temp + rename): упавший посреди записи процесс не
// оставит читаемого битого файла. Sequence строго растет на имя операции;
// единственный владелец-процесс пишет, читать можно параллельно.
type Manager struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	lastSeq map[string]uint64
}

func NewManager(dir string, zl *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Manager{
		dir:     dir,
		logger:  zl.With(zap.String("mod", "checkpoint")),
		lastSeq: make(map[string]uint64),
	}, nil
}

// Save сериализует payload и атомарно кладет новый чекпоинт. Возвращает путь.
func (m *Manager) Save(name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint payload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seq, err := m.nextSeq(name)
	if err != nil {
		return "", err
	}

	snap := Snapshot{
		Name:      name,
		Sequence:  seq,
		CreatedAt: time.Now().UTC(),
		Payload:   raw,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}

	final := m.pathFor(name, seq)

	// Атомарность: пишем во временный файл рядом и переименовываем.
	// rename в пределах одного каталога на POSIX атомарен.
	tmp, err := os.CreateTemp(m.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit checkpoint: %w", err)
	}

	m.lastSeq[name] = seq
	m.logger.Debug("checkpoint saved", zap.String("name", name), zap.Uint64("seq", seq))
	return final, nil
}

// Load возвращает payload самого свежего чекпоинта.
// (nil, nil), если чекпоинтов нет; *CorruptError, если новейший битый.
func (m *Manager) Load(name string) (json.RawMessage, error) {
	snaps, err := m.List(name)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	newest := snaps[len(snaps)-1]
	return m.loadFile(m.pathFor(name, newest.Sequence))
}

// List возвращает снапшоты, упорядоченные по sequence (без payload'ов).
func (m *Manager) List(name string) ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNameRe.FindStringSubmatch(entry.Name())
		if match == nil || match[1] != name {
			continue
		}
		seq, err := strconv.ParseUint(match[2], 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Name:      name,
			Sequence:  seq,
			CreatedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Sequence < snaps[j].Sequence })
	return snaps, nil
}

// Cleanup оставляет keepN самых свежих чекпоинтов операции.
func (m *Manager) Cleanup(name string, keepN int) error {
	snaps, err := m.List(name)
	if err != nil {
		return err
	}
	if keepN < 0 {
		keepN = 0
	}
	if len(snaps) <= keepN {
		return nil
	}
	for _, snap := range snaps[:len(snaps)-keepN] {
		path := m.pathFor(name, snap.Sequence)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old checkpoint: %w", err)
		}
	}
	m.logger.Info("checkpoints pruned",
		zap.String("name", name),
		zap.Int("removed", len(snaps)-keepN),
		zap.Int("kept", keepN),
	)
	return nil
}

func (m *Manager) pathFor(name string, seq uint64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s_%09d.json", name, seq))
}

func (m *Manager) loadFile(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CorruptError{Path: path, Cause: err}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptError{Path: path, Cause: err}
	}
	if len(snap.Payload) == 0 {
		return nil, &CorruptError{Path: path, Cause: fmt.Errorf("empty payload")}
	}
	return snap.Payload, nil
}

// nextSeq — строго возрастающий номер: max(диск, память) + 1. Под mu.
func (m *Manager) nextSeq(name string) (uint64, error) {
	last, ok := m.lastSeq[name]
	if !ok {
		snaps, err := m.List(name)
		if err != nil {
			return 0, err
		}
		if len(snaps) > 0 {
			last = snaps[len(snaps)-1].Sequence
		}
	}
	return last + 1, nil
}
