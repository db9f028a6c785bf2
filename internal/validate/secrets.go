package validate

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/xela07ax/repogov-platform/internal/gitclient"
	"github.com/xela07ax/repogov-platform/internal/resilience"
)

// secretRule — именованный паттерн утечки.
type secretRule struct {
	Name    string
	Pattern *regexp.Regexp
}

var defaultSecretRules = []secretRule{
	{"github-token", regexp.MustCompile(`gh[opsu]_[A-Za-z0-9]{20,}`)},
	{"github-pat", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`)},
	{"aws-access-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"private-key", regexp.MustCompile(`-----BEGIN[A-Z ]+PRIVATE KEY-----`)},
	{"slack-token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
}

// Файлы, в которых секреты оказываются чаще всего.
var defaultScanPaths = []string{
	".env",
	".env.example",
	"config.yml",
	"config.yaml",
	"docker-compose.yml",
	".github/workflows/ci.yml",
}

// SecretScanner ищет закоммиченные credentials в типовых файлах.
// Содержимое тянется через contents API ядра — сканер не знает про HTTP.
type SecretScanner struct {
	rules []secretRule
	paths []string
}

func NewSecretScanner(paths []string) *SecretScanner {
	if paths == nil {
		paths = defaultScanPaths
	}
	return &SecretScanner{rules: defaultSecretRules, paths: paths}
}

func (s *SecretScanner) Name() string { return "secret-scanner" }

func (s *SecretScanner) Validate(ctx context.Context, repo gitclient.Repository, deps Deps) ([]Finding, error) {
	var findings []Finding

	for _, path := range s.paths {
		_, content, err := deps.Client.GetContent(ctx, repo.FullName, path, deps.CacheTTL)
		if err != nil {
			var reqErr *resilience.RequestError
			if errors.As(err, &reqErr) && reqErr.StatusCode == 404 {
				continue // Файла нет — нечего сканировать
			}
			return findings, fmt.Errorf("fetch %s: %w", path, err)
		}

		for _, rule := range s.rules {
			if loc := rule.Pattern.FindIndex(content); loc != nil {
				findings = append(findings, Finding{
					Validator: s.Name(),
					Repo:      repo.FullName,
					Path:      path,
					Rule:      rule.Name,
					// Сам секрет в находку не кладем — только позицию
					Detail:   fmt.Sprintf("pattern %q matched at byte %d", rule.Name, loc[0]),
					Severity: SeverityCritical,
				})
			}
		}
	}

	return findings, nil
}
