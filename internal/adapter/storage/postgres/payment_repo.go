package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Constraint names from db/migrations.
const (
	constraintLiveIdempotency = "payments_live_idempotency_key"
	constraintGatewayPayment  = "payments_gateway_payment_id_key"
)

const paymentColumns = `id, payer_id, fee_reference, application_reference, amount_minor, currency,
	fee_breakdown, order_id, gateway_payment_id, payment_method, status, idempotency_key,
	refunded_amount_minor, last_refund_id, failure_reason, paid_at, refunded_at,
	raw_gateway_response, created_at, updated_at`

// PaymentRepo implements ports.PaymentRepository. Amounts are stored as
// integer minor units.
type PaymentRepo struct {
	pool Pool
	enc  ports.EncryptionService // nil = raw responses stored as-is
}

// NewPaymentRepo creates a new PaymentRepo. enc seals raw gateway responses
// at rest and may be nil.
func NewPaymentRepo(pool Pool, enc ports.EncryptionService) *PaymentRepo {
	return &PaymentRepo{pool: pool, enc: enc}
}

// Create inserts a new INITIATED payment.
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	breakdown, err := marshalBreakdown(p.FeeBreakdown)
	if err != nil {
		return err
	}
	raw, err := r.sealRaw(p.RawGatewayResponse)
	if err != nil {
		return err
	}

	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = r.pool.Exec(ctx, query,
		p.ID, p.PayerID, p.FeeReference, p.ApplicationReference,
		domain.ToMinor(p.Amount), p.Currency, breakdown, p.OrderID,
		p.GatewayPaymentID, p.PaymentMethod, p.Status, p.IdempotencyKey,
		domain.ToMinor(p.RefundedAmount), p.LastRefundID, p.FailureReason,
		p.PaidAt, p.RefundedAt, raw, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if uniqueViolation(err) == constraintLiveIdempotency {
			return ports.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment by UUID.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetByOrderID fetches a payment by gateway order id.
func (r *PaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, orderID))
}

// GetByGatewayPaymentID fetches a payment by the gateway's payment id.
func (r *PaymentRepo) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_payment_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, gatewayPaymentID))
}

// GetByIdempotencyKey fetches the live payment holding (payer, key).
func (r *PaymentRepo) GetByIdempotencyKey(ctx context.Context, payerID, key string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE payer_id = $1 AND idempotency_key = $2 AND status <> 'FAILED'`
	return r.scanOne(r.pool.QueryRow(ctx, query, payerID, key))
}

// MarkSuccess applies INITIATED -> SUCCESS.
func (r *PaymentRepo) MarkSuccess(ctx context.Context, id uuid.UUID, d domain.CaptureDetails) (bool, error) {
	raw, err := r.sealRaw(d.Raw)
	if err != nil {
		return false, err
	}

	query := `UPDATE payments
		SET status = 'SUCCESS', gateway_payment_id = $2, payment_method = NULLIF($3, ''),
			paid_at = $4, raw_gateway_response = $5, updated_at = now()
		WHERE id = $1 AND status = ANY($6)`

	tag, err := r.pool.Exec(ctx, query, id, d.GatewayPaymentID, d.Method, d.PaidAt, raw,
		statusArgs(domain.CapturePredecessors))
	if err != nil {
		if uniqueViolation(err) == constraintGatewayPayment {
			return false, fmt.Errorf("gateway payment id %s already recorded: %w", d.GatewayPaymentID, err)
		}
		return false, fmt.Errorf("mark payment success: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed applies INITIATED -> FAILED.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID, d domain.FailureDetails) (bool, error) {
	raw, err := r.sealRaw(d.Raw)
	if err != nil {
		return false, err
	}

	query := `UPDATE payments
		SET status = 'FAILED', failure_reason = $2,
			gateway_payment_id = COALESCE(gateway_payment_id, NULLIF($3, '')),
			raw_gateway_response = COALESCE($4, raw_gateway_response), updated_at = now()
		WHERE id = $1 AND status = ANY($5)`

	tag, err := r.pool.Exec(ctx, query, id, d.Reason, d.GatewayPaymentID, raw, statusArgs(domain.FailurePredecessors))
	if err != nil {
		if uniqueViolation(err) == constraintGatewayPayment {
			return false, fmt.Errorf("gateway payment id %s already recorded: %w", d.GatewayPaymentID, err)
		}
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimRefund applies SUCCESS|PARTIALLY_REFUNDED -> REFUND_PENDING.
func (r *PaymentRepo) ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE payments SET status = 'REFUND_PENDING', updated_at = now()
		WHERE id = $1 AND status = ANY($2)`

	tag, err := r.pool.Exec(ctx, query, id, statusArgs(domain.RefundClaimPredecessors))
	if err != nil {
		return false, fmt.Errorf("claim refund: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseRefund returns a REFUND_PENDING claim to the status implied by the
// refunded amount.
func (r *PaymentRepo) ReleaseRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE payments
		SET status = CASE WHEN refunded_amount_minor > 0 THEN 'PARTIALLY_REFUNDED' ELSE 'SUCCESS' END,
			updated_at = now()
		WHERE id = $1 AND status = 'REFUND_PENDING'`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("release refund: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyRefund inserts the refund row and accumulates it onto the payment in
// one transaction. A refund id already present, a payment outside the
// refundable states, or an over-refund all leave the ledger untouched.
func (r *PaymentRepo) ApplyRefund(ctx context.Context, refund *domain.Refund) (bool, error) {
	now := time.Now().UTC()
	refundedAt := now
	if refund.ProcessedAt != nil {
		refundedAt = *refund.ProcessedAt
	}
	if refund.ID == uuid.Nil {
		refund.ID = uuid.New()
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = now
	}
	amountMinor := domain.ToMinor(refund.Amount)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin refund tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `INSERT INTO payment_refunds
		(id, payment_id, gateway_refund_id, amount_minor, gateway_status, reason, actor_id, source, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (gateway_refund_id) DO NOTHING`,
		refund.ID, refund.PaymentID, refund.GatewayRefundID, amountMinor, refund.GatewayStatus,
		refund.Reason, refund.ActorID, refund.Source, refund.ProcessedAt, refund.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `UPDATE payments
		SET refunded_amount_minor = refunded_amount_minor + $2,
			status = CASE WHEN refunded_amount_minor + $2 >= amount_minor THEN 'REFUNDED' ELSE 'PARTIALLY_REFUNDED' END,
			last_refund_id = $3, refunded_at = COALESCE(refunded_at, $4), updated_at = now()
		WHERE id = $1 AND status = ANY($5) AND refunded_amount_minor + $2 <= amount_minor`,
		refund.PaymentID, amountMinor, refund.GatewayRefundID, refundedAt,
		statusArgs(domain.RefundApplyPredecessors),
	)
	if err != nil {
		return false, fmt.Errorf("apply refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit refund tx: %w", err)
	}
	committed = true
	return true, nil
}

// ListRefunds returns the refunds applied to a payment, oldest first.
func (r *PaymentRepo) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]domain.Refund, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, payment_id, gateway_refund_id, amount_minor, gateway_status,
		reason, actor_id, source, processed_at, created_at
		FROM payment_refunds WHERE payment_id = $1 ORDER BY created_at`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var rf domain.Refund
		var amountMinor int64
		if err := rows.Scan(&rf.ID, &rf.PaymentID, &rf.GatewayRefundID, &amountMinor, &rf.GatewayStatus,
			&rf.Reason, &rf.ActorID, &rf.Source, &rf.ProcessedAt, &rf.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		rf.Amount = domain.FromMinor(amountMinor)
		refunds = append(refunds, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}
	return refunds, nil
}

// ListStaleRefundClaims returns payments held in REFUND_PENDING since before
// the cutoff, oldest first.
func (r *PaymentRepo) ListStaleRefundClaims(ctx context.Context, before time.Time) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'REFUND_PENDING' AND updated_at < $1
		ORDER BY updated_at`

	rows, err := r.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("list stale refund claims: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale refund claims: %w", err)
	}
	return payments, nil
}

// StreamSettled walks settled payments paid in [from, to) one row at a time.
func (r *PaymentRepo) StreamSettled(ctx context.Context, from, to time.Time, fn func(*domain.Payment) error) error {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = ANY($1) AND paid_at >= $2 AND paid_at < $3
		ORDER BY paid_at`

	rows, err := r.pool.Query(ctx, query, statusArgs(domain.SettledStatuses), from, to)
	if err != nil {
		return fmt.Errorf("stream settled payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate settled payments: %w", err)
	}
	return nil
}

// List fetches payments with filtering and pagination.
func (r *PaymentRepo) List(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.PayerID != "" {
		conditions = append(conditions, fmt.Sprintf("payer_id = $%d", argIdx))
		args = append(args, params.PayerID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM payments "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM payments %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		paymentColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, total, nil
}

// GetStats aggregates ledger counts and totals over created_at in [from, to).
func (r *PaymentRepo) GetStats(ctx context.Context, from, to *time.Time) (*ports.LedgerStats, error) {
	var conditions []string
	var args []any
	if from != nil {
		args = append(args, *from)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'INITIATED') AS initiated,
		COUNT(*) FILTER (WHERE status = 'SUCCESS') AS successful,
		COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
		COUNT(*) FILTER (WHERE status = 'REFUND_PENDING') AS refund_pending,
		COUNT(*) FILTER (WHERE status = 'PARTIALLY_REFUNDED') AS partially_refunded,
		COUNT(*) FILTER (WHERE status = 'REFUNDED') AS refunded,
		COALESCE(SUM(amount_minor) FILTER (WHERE status NOT IN ('INITIATED', 'FAILED')), 0) AS collected,
		COALESCE(SUM(refunded_amount_minor), 0) AS refunded_total
		FROM payments ` + where

	stats := &ports.LedgerStats{}
	var collected, refunded int64
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalPayments, &stats.Initiated, &stats.Successful, &stats.Failed,
		&stats.RefundPending, &stats.PartiallyRefunded, &stats.Refunded,
		&collected, &refunded,
	)
	if err != nil {
		return nil, fmt.Errorf("get ledger stats: %w", err)
	}
	stats.TotalCollected = domain.FromMinor(collected)
	stats.TotalRefunded = domain.FromMinor(refunded)
	return stats, nil
}

func (r *PaymentRepo) scanOne(row pgx.Row) (*domain.Payment, error) {
	p, err := r.scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// scanPayment scans one row selected with paymentColumns.
func (r *PaymentRepo) scanPayment(row rowScanner) (*domain.Payment, error) {
	p := &domain.Payment{}
	var amountMinor, refundedMinor int64
	var breakdown []byte
	var raw *string

	err := row.Scan(
		&p.ID, &p.PayerID, &p.FeeReference, &p.ApplicationReference, &amountMinor, &p.Currency,
		&breakdown, &p.OrderID, &p.GatewayPaymentID, &p.PaymentMethod, &p.Status, &p.IdempotencyKey,
		&refundedMinor, &p.LastRefundID, &p.FailureReason, &p.PaidAt, &p.RefundedAt,
		&raw, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	p.Amount = domain.FromMinor(amountMinor)
	p.RefundedAmount = domain.FromMinor(refundedMinor)
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &p.FeeBreakdown); err != nil {
			return nil, fmt.Errorf("decode fee breakdown: %w", err)
		}
	}
	if raw != nil {
		opened, err := r.openRaw(*raw)
		if err != nil {
			return nil, err
		}
		p.RawGatewayResponse = opened
	}
	return p, nil
}

func (r *PaymentRepo) sealRaw(raw []byte) (*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	s := string(raw)
	if r.enc == nil {
		return &s, nil
	}
	sealed, err := r.enc.Encrypt(s)
	if err != nil {
		return nil, fmt.Errorf("seal gateway response: %w", err)
	}
	return &sealed, nil
}

func (r *PaymentRepo) openRaw(stored string) ([]byte, error) {
	if r.enc == nil {
		return []byte(stored), nil
	}
	opened, err := r.enc.Decrypt(stored)
	if err != nil {
		return nil, fmt.Errorf("open gateway response: %w", err)
	}
	return []byte(opened), nil
}

func marshalBreakdown(items []domain.FeeItem) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode fee breakdown: %w", err)
	}
	return b, nil
}

func statusArgs(set []domain.PaymentStatus) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}
