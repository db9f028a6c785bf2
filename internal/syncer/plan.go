package syncer

import (
	"fmt"

	"github.com/xela07ax/repogov-platform/internal/gitclient"
	"github.com/xela07ax/repogov-platform/internal/validate"
)

// PlannedFile — один файл, который движок собирается завести в репозитории.
type PlannedFile struct {
	Path    string
	Content []byte
	Message string
}

// Plan — результат compute-шага: что именно менять в конкретном репозитории.
// Пустой план — тоже валидный исход (репозиторий уже соответствует политикам).
type Plan struct {
	Repo  string
	Files []PlannedFile
}

// Шаблоны governance-файлов, которые можно заводить автоматически.
// LICENSE здесь намеренно нет: выбор лицензии — решение человека,
// автофиксом его не закрываем.
var governanceTemplates = map[string]string{
	"SECURITY.md": `# Security Policy

Please report vulnerabilities privately to the platform team.
Do not open public issues for security problems.
`,
	"CODEOWNERS": `# Default reviewers for this repository.
* @platform-team
`,
}

// BuildPlan превращает находки валидаторов в список правок.
// Берём только required-file-missing с известным шаблоном: критичные
// находки (секреты) автофиксом не чинятся — они уже ушли в audit trail.
func BuildPlan(repo gitclient.Repository, findings []validate.Finding) *Plan {
	plan := &Plan{Repo: repo.FullName}
	for _, f := range findings {
		if f.Rule != "required-file-missing" {
			continue
		}
		tmpl, ok := governanceTemplates[f.Path]
		if !ok {
			continue
		}
		plan.Files = append(plan.Files, PlannedFile{
			Path:    f.Path,
			Content: []byte(tmpl),
			Message: fmt.Sprintf("chore: bootstrap %s per org governance policy", f.Path),
		})
	}
	return plan
}
