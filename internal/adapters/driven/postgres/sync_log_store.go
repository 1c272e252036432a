package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncLogStore = (*SyncLogStore)(nil)

// SyncLogStore implements driven.SyncLogStore using PostgreSQL
type SyncLogStore struct {
	db *sql.DB
}

// NewSyncLogStore creates a new SyncLogStore
func NewSyncLogStore(db *sql.DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

const syncLogColumns = `id, tenant_id, sync_type, status, records_processed, pending_entities, error_message, started_at, completed_at`

func scanSyncLog(row rowScanner) (*domain.SyncLog, error) {
	var log domain.SyncLog
	var errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&log.ID,
		&log.TenantID,
		&log.SyncType,
		&log.Status,
		&log.RecordsProcessed,
		&log.PendingEntities,
		&errMsg,
		&log.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	log.ErrorMessage = errMsg.String
	log.CompletedAt = timePtr(completedAt)
	return &log, nil
}

// Create inserts the entry and prunes the tenant's log to the newest keep entries
func (s *SyncLogStore) Create(ctx context.Context, log *domain.SyncLog, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insert := `
		INSERT INTO sync_logs (id, tenant_id, sync_type, status, records_processed, pending_entities, error_message, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.ExecContext(ctx, insert,
		log.ID,
		log.TenantID,
		log.SyncType,
		string(log.Status),
		log.RecordsProcessed,
		log.PendingEntities,
		nullString(log.ErrorMessage),
		log.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}

	if keep > 0 {
		prune := `
			DELETE FROM sync_logs
			WHERE tenant_id = $1 AND id NOT IN (
				SELECT id FROM sync_logs
				WHERE tenant_id = $1
				ORDER BY started_at DESC
				LIMIT $2
			)
		`
		if _, err := tx.ExecContext(ctx, prune, log.TenantID, keep); err != nil {
			return fmt.Errorf("prune sync logs: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get retrieves a log entry by ID
func (s *SyncLogStore) Get(ctx context.Context, id string) (*domain.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE id = $1`
	log, err := scanSyncLog(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync log: %w", err)
	}
	return log, nil
}

// RecordEntityResult folds one runner's outcome into the entry in a single
// statement. The runner that brings pending to zero closes it.
func (s *SyncLogStore) RecordEntityResult(ctx context.Context, id string, records int, errMsg string) error {
	query := `
		UPDATE sync_logs SET
			records_processed = records_processed + $2,
			pending_entities = GREATEST(pending_entities - 1, 0),
			error_message = CASE
				WHEN $3::text IS NULL THEN error_message
				WHEN error_message IS NULL THEN $3::text
				ELSE error_message || '; ' || $3::text
			END,
			status = CASE
				WHEN status <> $4 OR pending_entities > 1 THEN status
				WHEN error_message IS NOT NULL OR $3::text IS NOT NULL THEN $5
				ELSE $6
			END,
			completed_at = CASE
				WHEN status = $4 AND pending_entities <= 1 THEN NOW()
				ELSE completed_at
			END
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		id,
		records,
		nullString(errMsg),
		string(domain.SyncLogRunning),
		string(domain.SyncLogFailed),
		string(domain.SyncLogCompleted),
	)
	if err != nil {
		return fmt.Errorf("record entity result: %w", err)
	}
	return expectRow(res, "record entity result")
}

// ListRecent returns the newest entries for a tenant
func (s *SyncLogStore) ListRecent(ctx context.Context, tenantID string, limit int) ([]*domain.SyncLog, error) {
	if limit <= 0 {
		limit = domain.DefaultSyncLogRetention
	}
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs WHERE tenant_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync logs: %w", err)
	}
	return logs, nil
}
