package validate

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/audit"
	"github.com/xela07ax/repogov-platform/internal/gitclient"
	"github.com/xela07ax/repogov-platform/internal/metrics"
)

// Runner гонит репозиторий через все зарегистрированные валидаторы и
// раскладывает находки по наблюдаемости: security-события в audit trail
// (фильтруются для compliance без полного скана) и счетчики в метрики.
type Runner struct {
	validators []Validator
	deps       Deps
	collector  *metrics.Collector
	logger     *zap.Logger
}

func NewRunner(validators []Validator, deps Deps, collector *metrics.Collector, zl *zap.Logger) *Runner {
	return &Runner{
		validators: validators,
		deps:       deps,
		collector:  collector,
		logger:     zl.With(zap.String("mod", "validate")),
	}
}

// RunRepo выполняет все валидаторы для одного репозитория внутри уже
// открытой audit-транзакции. Ошибка валидатора не роняет остальных.
func (r *Runner) RunRepo(ctx context.Context, tx *audit.Tx, repo gitclient.Repository) []Finding {
	var all []Finding

	for _, v := range r.validators {
		findings, err := v.Validate(ctx, repo, r.deps)
		if err != nil {
			r.logger.Warn("validator failed",
				zap.String("validator", v.Name()),
				zap.String("repo", repo.FullName),
				zap.Error(err),
			)
			r.collector.IncCounter("validator_errors_total", map[string]string{"validator": v.Name()})
			tx.Event("validator-error", map[string]any{
				"validator": v.Name(),
				"error":     err.Error(),
			})
		}

		for _, f := range findings {
			tx.SecurityEvent("validation-finding", map[string]any{
				"validator": f.Validator,
				"rule":      f.Rule,
				"path":      f.Path,
				"severity":  string(f.Severity),
				"detail":    f.Detail,
			})
			r.collector.IncCounter("validation_findings_total", map[string]string{
				"validator": f.Validator,
				"severity":  string(f.Severity),
			})
		}
		all = append(all, findings...)
	}

	return all
}
