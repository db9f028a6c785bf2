package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mkEvent(txID string, op string, status Status, ts time.Time) Event {
	return Event{
		ID:            "e-" + txID + "-" + op,
		Timestamp:     ts,
		SessionID:     "s1",
		TransactionID: txID,
		Component:     "syncer",
		Operation:     op,
		Status:        status,
	}
}

func TestFileStoreDayFileNaming(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, 0, zap.NewNop())
	require.NoError(t, err)
	defer fs.Close()

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	require.NoError(t, fs.WriteBatch(context.Background(), []Event{
		mkEvent("t1", "sync", StatusStarted, ts),
		mkEvent("t1", "sync", StatusSuccess, ts.Add(time.Second)),
	}))

	path := filepath.Join(dir, "2026-08-29.audit.jsonl")
	events, err := readEventsFile(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, StatusStarted, events[0].Status)
	assert.Equal(t, StatusSuccess, events[1].Status)
}

func TestFileStoreRotatesOnDayBoundary(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, 0, zap.NewNop())
	require.NoError(t, err)
	defer fs.Close()

	day1 := time.Date(2026, 8, 29, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 30, 0, 1, 0, 0, time.UTC)
	require.NoError(t, fs.WriteBatch(context.Background(), []Event{
		mkEvent("t1", "sync", StatusStarted, day1),
		mkEvent("t1", "sync", StatusSuccess, day2),
	}))

	_, err = os.Stat(filepath.Join(dir, "2026-08-29.audit.jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "2026-08-30.audit.jsonl"))
	assert.NoError(t, err)
}

func TestFileStoreRotatesOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, 200, zap.NewNop()) // крошечный порог
	require.NoError(t, err)
	defer fs.Close()

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, fs.WriteBatch(context.Background(), []Event{
			mkEvent("t1", "sync", StatusStarted, ts),
		}))
	}

	_, err = os.Stat(filepath.Join(dir, "2026-08-29.audit.1.jsonl"))
	assert.NoError(t, err, "size rotation must move the full file aside")
	_, err = os.Stat(filepath.Join(dir, "2026-08-29.audit.jsonl"))
	assert.NoError(t, err)
}

func TestReaderSecurityFilterAndIncomplete(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, 0, zap.NewNop())
	require.NoError(t, err)

	ts := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	sec := mkEvent("t2", "secret-found", StatusSuccess, ts.Add(2*time.Second))
	sec.Security = true

	require.NoError(t, fs.WriteBatch(context.Background(), []Event{
		mkEvent("t1", "sync", StatusStarted, ts),
		mkEvent("t1", "sync", StatusSuccess, ts.Add(time.Second)),
		mkEvent("t2", "scan", StatusStarted, ts.Add(time.Second)),
		sec,
		// t2 не имеет терминального события: процесс "упал"
	}))
	require.NoError(t, fs.Close())

	r := NewReader(dir)

	secEvents, err := r.SecurityEvents()
	require.NoError(t, err)
	require.Len(t, secEvents, 1)
	assert.Equal(t, "secret-found", secEvents[0].Operation)

	incomplete, err := r.IncompleteTransactions()
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "t2", incomplete[0].TransactionID)
}
