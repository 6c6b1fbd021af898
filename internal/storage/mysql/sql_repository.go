package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"

	xerrors "DeepResearch/internal/errors"
)

const reportColumns = `id, run_id, query, research, analysis, verification, summary, status, error_message, steps, citations, duration_ms, created_at`

// SQLReportRepository stores reports in the research_reports table.
type SQLReportRepository struct {
	db *sql.DB
}

// NewSQLReportRepository connects and applies pending migrations.
func NewSQLReportRepository(ctx context.Context, cfg Config) (*SQLReportRepository, error) {
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "connect report database")
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "migrate report database")
	}
	return &SQLReportRepository{db: db}, nil
}

// NewSQLReportRepositoryFromDB wraps an existing pool without migrating.
func NewSQLReportRepositoryFromDB(db *sql.DB) *SQLReportRepository {
	return &SQLReportRepository{db: db}
}

// Save implements ReportRepository.
func (s *SQLReportRepository) Save(ctx context.Context, record *ReportRecord) error {
	if record == nil || strings.TrimSpace(record.RunID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "report run id is empty")
	}
	const stmt = `INSERT INTO research_reports
    (run_id, query, research, analysis, verification, summary, status, error_message, steps, citations, duration_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE research = VALUES(research), analysis = VALUES(analysis), verification = VALUES(verification),
    summary = VALUES(summary), status = VALUES(status), error_message = VALUES(error_message), steps = VALUES(steps),
    citations = VALUES(citations), duration_ms = VALUES(duration_ms), id = LAST_INSERT_ID(id)`

	res, err := s.db.ExecContext(ctx, stmt,
		record.RunID,
		record.Query,
		record.Research,
		record.Analysis,
		record.Verification,
		record.Summary,
		record.Status,
		record.Error,
		record.Steps,
		record.Citations,
		record.DurationMS,
		record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert report")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "read report id")
	}
	record.ID = id
	return nil
}

// GetByRunID implements ReportRepository.
func (s *SQLReportRepository) GetByRunID(ctx context.Context, runID string) (*ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+`
    FROM research_reports WHERE run_id = ?`, runID)
	rec, err := scanReport(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query report")
	}
	return rec, nil
}

// ListLatest implements ReportRepository.
func (s *SQLReportRepository) ListLatest(ctx context.Context, limit int) ([]ReportRecord, error) {
	query := `SELECT ` + reportColumns + `
    FROM research_reports ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list reports")
	}
	defer rows.Close()

	var results []ReportRecord
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan report")
		}
		results = append(results, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return results, nil
}

// Close implements ReportRepository.
func (s *SQLReportRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*ReportRecord, error) {
	var rec ReportRecord
	if err := row.Scan(
		&rec.ID,
		&rec.RunID,
		&rec.Query,
		&rec.Research,
		&rec.Analysis,
		&rec.Verification,
		&rec.Summary,
		&rec.Status,
		&rec.Error,
		&rec.Steps,
		&rec.Citations,
		&rec.DurationMS,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ ReportRepository = (*SQLReportRepository)(nil)
