package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hostel-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReconciliationRepo implements ports.ReconciliationRepository.
// Discrepancies are stored as a JSONB array in run order.
type ReconciliationRepo struct {
	pool Pool
}

// NewReconciliationRepo creates a new ReconciliationRepo.
func NewReconciliationRepo(pool Pool) *ReconciliationRepo {
	return &ReconciliationRepo{pool: pool}
}

// Create persists a finished report.
func (r *ReconciliationRepo) Create(ctx context.Context, report *domain.ReconciliationReport) error {
	discrepancies, err := json.Marshal(report.Discrepancies)
	if err != nil {
		return fmt.Errorf("encode discrepancies: %w", err)
	}

	_, err = r.pool.Exec(ctx, `INSERT INTO reconciliation_reports
		(id, range_from, range_to, trigger, status, total_payments, total_amount_minor,
		 matched_count, settlement_count, discrepancies, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)`,
		report.ID, report.From, report.To, report.Trigger, report.Status,
		report.TotalPayments, domain.ToMinor(report.TotalAmount),
		report.MatchedCount, report.SettlementCount, discrepancies, report.Error,
		report.StartedAt, report.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation report: %w", err)
	}
	return nil
}

// GetByID fetches a report by UUID. Returns nil, nil if absent.
func (r *ReconciliationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationReport, error) {
	report := &domain.ReconciliationReport{}
	var totalMinor int64
	var discrepancies []byte
	var runErr *string

	err := r.pool.QueryRow(ctx, `SELECT id, range_from, range_to, trigger, status, total_payments,
		total_amount_minor, matched_count, settlement_count, discrepancies, error, started_at, completed_at
		FROM reconciliation_reports WHERE id = $1`, id).Scan(
		&report.ID, &report.From, &report.To, &report.Trigger, &report.Status, &report.TotalPayments,
		&totalMinor, &report.MatchedCount, &report.SettlementCount, &discrepancies, &runErr,
		&report.StartedAt, &report.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get reconciliation report: %w", err)
	}

	report.TotalAmount = domain.FromMinor(totalMinor)
	if runErr != nil {
		report.Error = *runErr
	}
	if len(discrepancies) > 0 {
		if err := json.Unmarshal(discrepancies, &report.Discrepancies); err != nil {
			return nil, fmt.Errorf("decode discrepancies: %w", err)
		}
	}
	return report, nil
}
