package repository

import (
	"context"
	"errors"
	"fmt"

	"climatology/harvester/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const schema = `
CREATE TABLE IF NOT EXISTS reconciliation_reports (
	unit_key       TEXT PRIMARY KEY,
	declared_total INTEGER NOT NULL,
	actual_count   INTEGER NOT NULL,
	missing_count  INTEGER NOT NULL,
	checked_at     TIMESTAMPTZ NOT NULL
)`

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ReportRepository interface {
	EnsureSchema(ctx context.Context) error
	SaveReport(ctx context.Context, report domain.ReconciliationReport) error
	// GetReport returns nil without error when no report exists for unitKey.
	GetReport(ctx context.Context, unitKey string) (*domain.ReconciliationReport, error)
}

type reportRepository struct {
	db DB
}

func NewReportRepository(db DB) ReportRepository {
	return &reportRepository{
		db: db,
	}
}

func (r *reportRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create reconciliation_reports: %w", err)
	}
	return nil
}

func (r *reportRepository) SaveReport(ctx context.Context, report domain.ReconciliationReport) error {
	query := `
	INSERT INTO reconciliation_reports (unit_key, declared_total, actual_count, missing_count, checked_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (unit_key)
	DO UPDATE SET declared_total = $2, actual_count = $3, missing_count = $4, checked_at = $5`
	_, err := r.db.Exec(ctx, query,
		report.UnitKey, report.DeclaredTotal, report.ActualCount, report.MissingCount, report.CheckedAt)
	if err != nil {
		return fmt.Errorf("failed to save report for unit %s: %w", report.UnitKey, err)
	}

	return nil
}

func (r *reportRepository) GetReport(ctx context.Context, unitKey string) (*domain.ReconciliationReport, error) {
	query := `
	SELECT unit_key, declared_total, actual_count, missing_count, checked_at
	FROM reconciliation_reports
	WHERE unit_key = $1`

	var report domain.ReconciliationReport
	err := r.db.QueryRow(ctx, query, unitKey).Scan(
		&report.UnitKey, &report.DeclaredTotal, &report.ActualCount, &report.MissingCount, &report.CheckedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load report for unit %s: %w", unitKey, err)
	}

	return &report, nil
}
