package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type progress struct {
	Cursor string   `json:"cursor"`
	Done   int      `json:"done"`
	Failed []string `json:"failed"`
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)

	want := progress{Cursor: "acme/docs", Done: 42, Failed: []string{"acme/old"}}
	path, err := m.Save("org-sync", want)
	require.NoError(t, err)
	assert.FileExists(t, path)

	raw, err := m.Load("org-sync")
	require.NoError(t, err)

	var got progress
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, want, got)
}

func TestLoadIsIdempotentUntilNextSave(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Save("op", progress{Done: 1})
	require.NoError(t, err)

	first, err := m.Load("op")
	require.NoError(t, err)
	second, err := m.Load("op")
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))

	_, err = m.Save("op", progress{Done: 2})
	require.NoError(t, err)

	third, err := m.Load("op")
	require.NoError(t, err)
	assert.NotEqual(t, string(first), string(third))
}

func TestSequencesStrictlyIncreaseAndSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.Save("op", progress{Done: i})
		require.NoError(t, err)
	}

	// Новый инстанс (рестарт процесса) продолжает нумерацию с диска
	m2, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)
	_, err = m2.Save("op", progress{Done: 3})
	require.NoError(t, err)

	snaps, err := m2.List("op")
	require.NoError(t, err)
	require.Len(t, snaps, 4)
	for i, snap := range snaps {
		assert.Equal(t, uint64(i+1), snap.Sequence)
	}
}

func TestCleanupKeepsNewest(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := m.Save("op1", progress{Done: i})
		require.NoError(t, err)
	}
	_, err := m.Save("op2", progress{Done: 99}) // чужая операция не трогается
	require.NoError(t, err)

	require.NoError(t, m.Cleanup("op1", 1))

	snaps, err := m.List("op1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(3), snaps[0].Sequence)

	other, err := m.List("op2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestNamesWithUnderscoresDoNotCollide(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Save("org_sync_eu", progress{Done: 1})
	require.NoError(t, err)

	snaps, err := m.List("org_sync_eu")
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	none, err := m.List("org_sync")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecoveryFallsBackPastCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)
	r := NewRecovery(m, zap.NewNop())

	assert.False(t, r.CanRecover("op"))

	_, err = m.Save("op", progress{Done: 1})
	require.NoError(t, err)
	newest, err := m.Save("op", progress{Done: 2})
	require.NoError(t, err)

	// Портим новейший файл
	require.NoError(t, os.WriteFile(newest, []byte("{truncated"), 0o644))

	assert.True(t, r.CanRecover("op"))
	raw, err := r.Recover("op")
	require.NoError(t, err)

	var got progress
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, 1, got.Done, "recovery must fall back to the older intact checkpoint")
}

func TestRecoveryAllCorruptMeansNoRecovery(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)
	r := NewRecovery(m, zap.NewNop())

	path, err := m.Save("op", progress{Done: 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	raw, err := r.Recover("op")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zap.NewNop())
	require.NoError(t, err)

	_, err = m.Save("op", progress{Done: 1})
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
