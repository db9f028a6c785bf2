package validate

import (
	"context"
	"time"

	"github.com/xela07ax/repogov-platform/internal/gitclient"
)

// Severity градирует находки для compliance-отчетов.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding — одна находка валидатора по одному репозиторию.
type Finding struct {
	Validator string   `json:"validator"`
	Repo      string   `json:"repo"`
	Path      string   `json:"path,omitempty"`
	Rule      string   `json:"rule"`
	Detail    string   `json:"detail"`
	Severity  Severity `json:"severity"`
}

// Deps — хэндлы ядра, которые валидатор получает извне: свой HTTP и свое
// логирование плагины не реализуют никогда.
type Deps struct {
	Client   *gitclient.Client
	CacheTTL time.Duration
}

// Validator — capability-интерфейс плагина. Конкретные валидаторы
// регистрируются явным списком (см. DefaultRegistry), без рефлексии
// и без динамического обнаружения.
type Validator interface {
	Name() string
	Validate(ctx context.Context, repo gitclient.Repository, deps Deps) ([]Finding, error)
}

// DefaultRegistry — штатный набор валидаторов платформы.
func DefaultRegistry() []Validator {
	return []Validator{
		NewSecretScanner(nil),
		NewGovernanceFiles(nil),
	}
}
