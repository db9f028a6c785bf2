package validate

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/repogov-platform/internal/gitclient"
	"github.com/xela07ax/repogov-platform/internal/resilience"
)

// Governance-файлы, обязательные для каждого активного репозитория организации.
var defaultRequiredFiles = []string{
	"LICENSE",
	"SECURITY.md",
	"CODEOWNERS",
}

// GovernanceFiles проверяет наличие обязательных файлов политик.
// Архивные репозитории пропускаются: их никто не сопровождает.
type GovernanceFiles struct {
	required []string
}

func NewGovernanceFiles(required []string) *GovernanceFiles {
	if required == nil {
		required = defaultRequiredFiles
	}
	return &GovernanceFiles{required: required}
}

func (g *GovernanceFiles) Name() string { return "governance-files" }

func (g *GovernanceFiles) Validate(ctx context.Context, repo gitclient.Repository, deps Deps) ([]Finding, error) {
	if repo.Archived {
		return nil, nil
	}

	var findings []Finding
	for _, path := range g.required {
		_, _, err := deps.Client.GetContent(ctx, repo.FullName, path, deps.CacheTTL)
		if err == nil {
			continue
		}

		var reqErr *resilience.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == 404 {
			findings = append(findings, Finding{
				Validator: g.Name(),
				Repo:      repo.FullName,
				Path:      path,
				Rule:      "required-file-missing",
				Detail:    fmt.Sprintf("required governance file %s is absent", path),
				Severity:  SeverityWarning,
			})
			continue
		}
		return findings, fmt.Errorf("check %s: %w", path, err)
	}

	return findings, nil
}
