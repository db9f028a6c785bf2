package syncer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/repogov-platform/internal/audit"
	"github.com/xela07ax/repogov-platform/internal/checkpoint"
	"github.com/xela07ax/repogov-platform/internal/gitclient"
	"github.com/xela07ax/repogov-platform/internal/infra"
	"github.com/xela07ax/repogov-platform/internal/metrics"
	"github.com/xela07ax/repogov-platform/internal/txn"
	"github.com/xela07ax/repogov-platform/internal/validate"
)

// fakeGitHub — in-memory contents API: ровно то подмножество GitHub,
// которым пользуется движок.
type fakeGitHub struct {
	mu    sync.Mutex
	repos []gitclient.Repository
	files map[string]map[string]string // fullName -> path -> содержимое
	calls map[string]int
	srv   *httptest.Server
}

func newFakeGitHub(t *testing.T, repos []gitclient.Repository, files map[string]map[string]string) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{repos: repos, files: files, calls: map[string]int{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGitHub) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.Method+" "+r.URL.Path]++

	switch {
	case strings.HasSuffix(r.URL.Path, "/repos") && strings.HasPrefix(r.URL.Path, "/orgs/"):
		json.NewEncoder(w).Encode(f.repos)

	case strings.Contains(r.URL.Path, "/contents/"):
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/repos/"), "/contents/", 2)
		fullName, path := parts[0], parts[1]
		switch r.Method {
		case http.MethodGet:
			content, ok := f.files[fullName][path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"path":    path,
				"sha":     "sha-" + path,
				"content": base64.StdEncoding.EncodeToString([]byte(content)),
			})
		case http.MethodPut:
			var body struct {
				Content string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			raw, _ := base64.StdEncoding.DecodeString(body.Content)
			if f.files[fullName] == nil {
				f.files[fullName] = map[string]string{}
			}
			f.files[fullName][path] = string(raw)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		case http.MethodDelete:
			delete(f.files[fullName], path)
			w.Write([]byte(`{}`))
		}

	case strings.HasPrefix(r.URL.Path, "/repos/"):
		fullName := strings.TrimPrefix(r.URL.Path, "/repos/")
		for _, repo := range f.repos {
			if repo.FullName == fullName {
				json.NewEncoder(w).Encode(repo)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeGitHub) has(fullName, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[fullName][path]
	return ok
}

func (f *fakeGitHub) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type memStore struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memStore) WriteBatch(_ context.Context, events []audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// compliantFiles — полный governance-набор плюс скан-пути без секретов.
func compliantFiles() map[string]string {
	return map[string]string{
		"LICENSE":     "MIT",
		"SECURITY.md": "policy",
		"CODEOWNERS":  "* @platform-team",
	}
}

type engineFixture struct {
	engine    *Engine
	gh        *fakeGitHub
	ckpt      *checkpoint.Manager
	collector *metrics.Collector
	auditor   *audit.Logger
	store     *memStore
	cfg       infra.SyncerConfig
}

func newFixture(t *testing.T, files map[string]map[string]string, mutate func(*infra.SyncerConfig)) *engineFixture {
	t.Helper()

	repos := []gitclient.Repository{
		{Name: "alpha", FullName: "acme/alpha", DefaultBranch: "main"},
		{Name: "beta", FullName: "acme/beta", DefaultBranch: "main"},
	}
	gh := newFakeGitHub(t, repos, files)

	rcfg := infra.ResilienceConfig{
		RateCapacity: 100, RateRefillPerS: 1000,
		CBFailureThreshold: 50, CBFailureWindow: time.Minute,
		CBResetTimeout: time.Minute, CBSuccessThreshold: 1,
		MaxRetries: 0, BackoffBase: time.Millisecond, MaxJitter: time.Millisecond,
		CacheSize: 16, CacheTTL: time.Minute,
	}
	collector := metrics.NewCollector(prometheus.NewRegistry())
	zl := zap.NewNop()
	client := gitclient.New(infra.GitHubConfig{BaseURL: gh.srv.URL, Timeout: 5 * time.Second},
		rcfg, gitclient.NewStaticTokenSource(nil), collector, zl)

	store := &memStore{}
	auditor := audit.NewLogger(store, "tester", audit.Options{FlushInterval: 10 * time.Millisecond}, zl)
	auditor.Start()
	t.Cleanup(auditor.Close)

	ckptMgr, err := checkpoint.NewManager(t.TempDir(), zl)
	require.NoError(t, err)

	cfg := infra.SyncerConfig{
		Org:             "acme",
		CheckpointEvery: 1,
		PageSize:        100,
		ChangelogPath:   filepath.Join(t.TempDir(), "changelog.log"),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	runner := validate.NewRunner(validate.DefaultRegistry(), validate.Deps{Client: client}, collector, zl)
	engine := NewEngine(cfg, 1, 0, client, runner,
		txn.NewManager(zl, nil), ckptMgr, auditor, nil, collector, zl)

	return &engineFixture{
		engine: engine, gh: gh, ckpt: ckptMgr,
		collector: collector, auditor: auditor, store: store, cfg: cfg,
	}
}

func loadProgress(t *testing.T, mgr *checkpoint.Manager, name string) Progress {
	t.Helper()
	raw, err := mgr.Load(name)
	require.NoError(t, err)
	var p Progress
	require.NoError(t, json.Unmarshal(raw, &p))
	return p
}

func TestEngineFullRun(t *testing.T) {
	fx := newFixture(t, map[string]map[string]string{
		"acme/alpha": compliantFiles(),
		"acme/beta":  {"LICENSE": "MIT"},
	}, nil)

	require.NoError(t, fx.engine.Run(context.Background()))

	// beta получил недостающие governance-файлы из шаблонов
	assert.True(t, fx.gh.has("acme/beta", "SECURITY.md"))
	assert.True(t, fx.gh.has("acme/beta", "CODEOWNERS"))
	// LICENSE автофиксом не заводится
	assert.Equal(t, 0, fx.gh.callCount("PUT /repos/acme/alpha/contents/SECURITY.md"))

	// прогресс зафиксирован, Cleanup оставил один снапшот
	p := loadProgress(t, fx.ckpt, checkpointName("acme"))
	assert.Equal(t, Progress{Cursor: 2, Done: 2}, p)
	snaps, err := fx.ckpt.List(checkpointName("acme"))
	require.NoError(t, err)
	assert.Len(t, snaps, 1)

	// changelog: по строке на каждый репозиторий
	data, err := os.ReadFile(fx.cfg.ChangelogPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], "acme/beta")

	text, err := fx.collector.Export()
	require.NoError(t, err)
	assert.Contains(t, text, `repos_synced_total{status="success"} 2`)
}

func TestEngineResumesFromCheckpoint(t *testing.T) {
	fx := newFixture(t, map[string]map[string]string{
		"acme/alpha": compliantFiles(),
		"acme/beta":  compliantFiles(),
	}, nil)

	_, err := fx.ckpt.Save(checkpointName("acme"), Progress{Cursor: 1, Done: 1})
	require.NoError(t, err)

	require.NoError(t, fx.engine.Run(context.Background()))

	// alpha пропущен: его метаданные даже не запрашивались
	assert.Equal(t, 0, fx.gh.callCount("GET /repos/acme/alpha"))
	assert.Equal(t, 1, fx.gh.callCount("GET /repos/acme/beta"))

	p := loadProgress(t, fx.ckpt, checkpointName("acme"))
	assert.Equal(t, Progress{Cursor: 2, Done: 2}, p)
}

func TestEngineRollsBackAppliedFilesOnLaterStepFailure(t *testing.T) {
	fx := newFixture(t, map[string]map[string]string{
		"acme/alpha": compliantFiles(),
		"acme/beta":  {"LICENSE": "MIT"},
	}, func(cfg *infra.SyncerConfig) {
		// Директория вместо файла: record-changelog гарантированно падает
		cfg.ChangelogPath = t.TempDir()
	})

	require.NoError(t, fx.engine.Run(context.Background()), "per-repo failure must not fail the run")

	// Заведенные файлы откатились удалением
	assert.False(t, fx.gh.has("acme/beta", "SECURITY.md"))
	assert.False(t, fx.gh.has("acme/beta", "CODEOWNERS"))
	assert.Equal(t, 1, fx.gh.callCount("DELETE /repos/acme/beta/contents/SECURITY.md"))

	p := loadProgress(t, fx.ckpt, checkpointName("acme"))
	assert.Equal(t, 2, p.Done)
	assert.Contains(t, p.Failed, "acme/beta")

	text, err := fx.collector.Export()
	require.NoError(t, err)
	assert.Contains(t, text, `repos_synced_total{status="failed"} 2`)
}

func TestBuildPlanOnlyTemplatedMissingFiles(t *testing.T) {
	repo := gitclient.Repository{FullName: "acme/x"}
	findings := []validate.Finding{
		{Rule: "required-file-missing", Path: "SECURITY.md"},
		{Rule: "required-file-missing", Path: "LICENSE"}, // шаблона нет
		{Rule: "github-token", Path: ".env"},             // секрет — не автофикс
	}

	plan := BuildPlan(repo, findings)
	require.Len(t, plan.Files, 1)
	assert.Equal(t, "SECURITY.md", plan.Files[0].Path)
	assert.NotEmpty(t, plan.Files[0].Content)
	assert.Equal(t, "acme/x", plan.Repo)
}

func TestEngineAuditTrailCoversEveryRepo(t *testing.T) {
	fx := newFixture(t, map[string]map[string]string{
		"acme/alpha": compliantFiles(),
		"acme/beta":  compliantFiles(),
	}, nil)

	require.NoError(t, fx.engine.Run(context.Background()))
	fx.auditor.Close()

	fx.store.mu.Lock()
	defer fx.store.mu.Unlock()

	var started, ended int
	for _, e := range fx.store.events {
		if e.Operation == "sync-repo" {
			switch e.Status {
			case audit.StatusStarted:
				started++
			case audit.StatusSuccess, audit.StatusFailed:
				ended++
			}
		}
	}
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, ended)
}
