package audit

import (
	"regexp"
	"time"
)

// Status — терминальность события. Каждая транзакция, дошедшая до End,
// обязана закончиться success или failed; "started" без терминала — улика
// незавершенной операции (процесс умер до End).
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Event — одна неизменяемая строка audit trail (JSONL).
// SessionID группирует события одного запуска скрипта,
// TransactionID — одной логической операции внутри сессии.
type Event struct {
	ID            string         `json:"id"`             // UUID события
	Timestamp     time.Time      `json:"timestamp"`      // Всегда UTC
	SessionID     string         `json:"session_id"`     // Сквозной ID запуска
	TransactionID string         `json:"transaction_id"` // ID логической операции
	Component     string         `json:"component"`      // Кто писал (syncer, apiclient, txn...)
	Operation     string         `json:"operation"`      // Что делали
	Target        string         `json:"target"`         // Над чем (repo, org, file)
	Actor         string         `json:"actor"`          // От чьего имени
	Status        Status         `json:"status"`
	Security      bool           `json:"security"` // Флаг для compliance-фильтрации
	Metadata      map[string]any `json:"metadata,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Паттерны секретов, которые не должны попадать на диск даже по ошибке.
// ghp_/gho_/ghs_ — токены GitHub, github_pat_ — fine-grained PAT.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gh[opsu]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]{16,}`),
	regexp.MustCompile(`-----BEGIN[A-Z ]+PRIVATE KEY-----`),
}

const masked = "***MASKED***"

// MaskSecrets вычищает токены из строки перед записью.
func MaskSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, masked)
	}
	return s
}

// maskMetadata маскирует строковые значения метаданных in place не трогая
// оригинальную мапу вызывающего.
func maskMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return meta
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if s, ok := v.(string); ok {
			out[k] = MaskSecrets(s)
			continue
		}
		out[k] = v
	}
	return out
}
