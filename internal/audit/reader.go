package audit

import (
	"path/filepath"
	"sort"
)

// Reader — read path трейла для reportctl и ops API. Отделен от Logger:
// запись и чтение не делят состояние, файлы можно безопасно читать
// параллельно с работающим syncer'ом.
type Reader struct {
	dir string
}

func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// All читает весь трейл в хронологическом порядке файлов.
func (r *Reader) All() ([]Event, error) {
	patterns := []string{"*.audit.jsonl", "*.audit.*.jsonl"}
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(r.dir, p))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	var all []Event
	for _, path := range paths {
		events, err := readEventsFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	return all, nil
}

// SecurityEvents — compliance-срез: только события с security-флагом.
func (r *Reader) SecurityEvents() ([]Event, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range all {
		if e.Security {
			out = append(out, e)
		}
	}
	return out, nil
}

// IncompleteTransactions находит транзакции, начавшиеся, но не дошедшие
// до терминального success/failed — улики упавших процессов.
func (r *Reader) IncompleteTransactions() ([]Event, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}

	started := make(map[string]Event)
	terminated := make(map[string]bool)
	for _, e := range all {
		if e.TransactionID == "" {
			continue
		}
		switch e.Status {
		case StatusStarted:
			if _, seen := started[e.TransactionID]; !seen {
				started[e.TransactionID] = e
			}
		case StatusSuccess, StatusFailed:
			// Терминальным считается только завершение самой операции,
			// а не промежуточные события (у них другой Operation)
			if first, seen := started[e.TransactionID]; !seen || e.Operation == first.Operation {
				terminated[e.TransactionID] = true
			}
		}
	}

	var incomplete []Event
	for id, e := range started {
		if !terminated[id] {
			incomplete = append(incomplete, e)
		}
	}
	sort.Slice(incomplete, func(i, j int) bool {
		return incomplete[i].Timestamp.Before(incomplete[j].Timestamp)
	})
	return incomplete, nil
}
