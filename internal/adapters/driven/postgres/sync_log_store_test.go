package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storesync/internal/core/domain"
)

var syncLogCols = []string{
	"id", "tenant_id", "sync_type", "status", "records_processed",
	"pending_entities", "error_message", "started_at", "completed_at",
}

func TestSyncLogStore_CreatePrunes(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSyncLogStore(db)
	log := domain.NewSyncLog("acme", "full", 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_logs")).
		WithArgs(log.ID, "acme", "full", "running", int64(0), 3, nil, log.StartedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sync_logs")).
		WithArgs("acme", 50).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), log, 50))
}

func TestSyncLogStore_CreateWithoutRetention(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSyncLogStore(db)
	log := domain.NewSyncLog("acme", "incremental", 1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), log, 0))
}

func TestSyncLogStore_CreateRollsBackOnPruneError(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSyncLogStore(db)
	log := domain.NewSyncLog("acme", "full", 3)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sync_logs")).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := store.Create(context.Background(), log, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune sync logs")
}

func TestSyncLogStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSyncLogStore(db)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	done := started.Add(4 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_logs WHERE id = $1")).
		WithArgs("log-1").
		WillReturnRows(sqlmock.NewRows(syncLogCols).
			AddRow("log-1", "acme", "full", "failed", int64(310), 0, "orders: upstream 503", started, done))

	log, err := store.Get(context.Background(), "log-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncLogFailed, log.Status)
	assert.Equal(t, int64(310), log.RecordsProcessed)
	assert.Equal(t, "orders: upstream 503", log.ErrorMessage)
	require.NotNil(t, log.CompletedAt)
	assert.True(t, log.CompletedAt.Equal(done))

	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_logs WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(syncLogCols))

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncLogStore_RecordEntityResult(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSyncLogStore(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("pending_entities = GREATEST(pending_entities - 1, 0)")).
		WithArgs("log-1", 25, nil, "running", "failed", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.RecordEntityResult(ctx, "log-1", 25, ""))

	mock.ExpectExec(regexp.QuoteMeta("pending_entities = GREATEST(pending_entities - 1, 0)")).
		WithArgs("log-1", 0, "products: timeout", "running", "failed", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.RecordEntityResult(ctx, "log-1", 0, "products: timeout"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_logs SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := store.RecordEntityResult(ctx, "gone", 1, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSyncLogStore_ListRecentDefaultsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewSyncLogStore(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY started_at DESC LIMIT $2")).
		WithArgs("acme", domain.DefaultSyncLogRetention).
		WillReturnRows(sqlmock.NewRows(syncLogCols).
			AddRow("b", "acme", "incremental", "running", int64(0), 1, nil, now, nil).
			AddRow("a", "acme", "full", "completed", int64(90), 0, nil, now.Add(-time.Hour), now))

	logs, err := store.ListRecent(context.Background(), "acme", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].ID)
	assert.Nil(t, logs[0].CompletedAt)
	assert.Empty(t, logs[1].ErrorMessage)
}
