package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/heraldkit/herald/pkg/models"
	"github.com/heraldkit/herald/pkg/persistence/sqlbase"
)

// PostgresLedger is the durable ledger implementation. The partial unique
// index on pending rows makes the at-most-one-pending invariant hold even
// across concurrent writers.
type PostgresLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

func ledgerMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS execution_records (
				run_id TEXT NOT NULL,
				recipient_id TEXT NOT NULL,
				attempt_number INTEGER NOT NULL,
				outcome TEXT NOT NULL,
				correlation_id TEXT NOT NULL DEFAULT '',
				error_detail TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (run_id, recipient_id, attempt_number)
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_execution_records_pending
				ON execution_records (run_id, recipient_id)
				WHERE outcome = 'pending';

			CREATE INDEX IF NOT EXISTS idx_execution_records_correlation
				ON execution_records (correlation_id)
				WHERE correlation_id <> '';
		`,
	}
}

// NewPostgresLedger connects to the given database and runs the ledger's own
// migrations. The ledger intentionally shares no tables with the main stores.
func NewPostgresLedger(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresLedger, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := sqlbase.NewMigrationManagerWithTable(logger, database, "ledger_schema_migrations", ledgerMigrations())

	err = manager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run ledger migrations: %w", err)
	}

	return &PostgresLedger{db: database, logger: logger}, nil
}

// NewPostgresLedgerWithDB wraps an existing connection, running migrations.
func NewPostgresLedgerWithDB(ctx context.Context, logger *slog.Logger, db *sql.DB) (*PostgresLedger, error) {
	manager := sqlbase.NewMigrationManagerWithTable(logger, db, "ledger_schema_migrations", ledgerMigrations())

	err := manager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run ledger migrations: %w", err)
	}

	return &PostgresLedger{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (l *PostgresLedger) Close(_ context.Context) error {
	return l.db.Close()
}

func (l *PostgresLedger) RecordAttempt(ctx context.Context, runID, recipientID, correlationID string) (*models.ExecutionRecord, error) {
	query := `
		INSERT INTO execution_records (run_id, recipient_id, attempt_number, outcome, correlation_id)
		SELECT $1, $2, COALESCE(MAX(attempt_number), 0) + 1, 'pending', $3
		FROM execution_records
		WHERE run_id = $1 AND recipient_id = $2
		RETURNING attempt_number, created_at, updated_at
	`

	record := &models.ExecutionRecord{
		RunID:         runID,
		RecipientID:   recipientID,
		Outcome:       models.OutcomePending,
		CorrelationID: correlationID,
	}

	err := l.db.QueryRowContext(ctx, query, runID, recipientID, correlationID).
		Scan(&record.AttemptNumber, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, fmt.Errorf("run %s recipient %s: %w", runID, recipientID, ErrPendingAttemptExists)
		}

		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	return record, nil
}

func (l *PostgresLedger) MarkOutcome(ctx context.Context, runID, recipientID string, attemptNumber int, outcome models.Outcome, errorDetail string) error {
	query := `
		UPDATE execution_records
		SET outcome = $1, error_detail = $2, updated_at = NOW()
		WHERE run_id = $3 AND recipient_id = $4 AND attempt_number = $5
	`

	result, err := l.db.ExecContext(ctx, query, string(outcome), errorDetail, runID, recipientID, attemptNumber)
	if err != nil {
		return fmt.Errorf("failed to mark outcome: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read outcome result: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("run %s recipient %s attempt %d: %w", runID, recipientID, attemptNumber, ErrRecordNotFound)
	}

	return nil
}

func (l *PostgresLedger) HasSucceeded(ctx context.Context, runID, recipientID string) (bool, error) {
	return l.existsWithOutcome(ctx, runID, recipientID, `outcome = 'succeeded'`)
}

func (l *PostgresLedger) HasNonFailed(ctx context.Context, runID, recipientID string) (bool, error) {
	return l.existsWithOutcome(ctx, runID, recipientID, `outcome <> 'failed'`)
}

func (l *PostgresLedger) existsWithOutcome(ctx context.Context, runID, recipientID, predicate string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM execution_records
			WHERE run_id = $1 AND recipient_id = $2 AND ` + predicate + `
		)
	`

	var exists bool

	err := l.db.QueryRowContext(ctx, query, runID, recipientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}

	return exists, nil
}

func (l *PostgresLedger) Summarize(ctx context.Context, runID string) (*models.RunSummary, error) {
	records, err := l.runRecords(ctx, runID)
	if err != nil {
		return nil, err
	}

	return summarize(runID, records), nil
}

func (l *PostgresLedger) History(ctx context.Context, runID string, limit, offset int) (*HistoryPage, error) {
	var total int

	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_records WHERE run_id = $1`, runID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	if limit <= 0 {
		limit = total
	}

	query := `
		SELECT run_id, recipient_id, attempt_number, outcome, correlation_id, error_detail, created_at, updated_at
		FROM execution_records
		WHERE run_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := l.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			l.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		Records:    records,
		TotalCount: total,
		HasMore:    offset+len(records) < total,
	}, nil
}

func (l *PostgresLedger) UpdateOutcomeByCorrelationID(ctx context.Context, correlationID string, outcome models.Outcome, errorDetail string) error {
	query := `
		UPDATE execution_records
		SET outcome = $1, error_detail = $2, updated_at = NOW()
		WHERE correlation_id = $3
	`

	result, err := l.db.ExecContext(ctx, query, string(outcome), errorDetail, correlationID)
	if err != nil {
		return fmt.Errorf("failed to update by correlation id: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("correlation %s: %w", correlationID, ErrRecordNotFound)
	}

	return nil
}

func (l *PostgresLedger) runRecords(ctx context.Context, runID string) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT run_id, recipient_id, attempt_number, outcome, correlation_id, error_detail, created_at, updated_at
		FROM execution_records
		WHERE run_id = $1
	`

	rows, err := l.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			l.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*models.ExecutionRecord, error) {
	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		var (
			record  models.ExecutionRecord
			outcome string
		)

		err := rows.Scan(
			&record.RunID, &record.RecipientID, &record.AttemptNumber, &outcome,
			&record.CorrelationID, &record.ErrorDetail, &record.CreatedAt, &record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record.Outcome = models.Outcome(outcome)
		records = append(records, &record)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}
