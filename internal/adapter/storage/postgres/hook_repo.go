package postgres

import (
	"context"
	"fmt"

	"hostel-payments/internal/core/domain"

	"github.com/google/uuid"
)

// HookDeliveryRepo implements ports.HookDeliveryRepository.
type HookDeliveryRepo struct {
	pool Pool
}

// NewHookDeliveryRepo creates a PostgreSQL-backed hook delivery log.
func NewHookDeliveryRepo(pool Pool) *HookDeliveryRepo {
	return &HookDeliveryRepo{pool: pool}
}

func (r *HookDeliveryRepo) Create(ctx context.Context, d *domain.HookDelivery) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO hook_deliveries
		 (id, kind, payment_id, target_url, payload, http_status, attempt, status, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.Kind, d.PaymentID, d.TargetURL, d.Payload,
		d.HTTPStatus, d.Attempt, string(d.Status), d.LastError, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert hook delivery: %w", err)
	}
	return nil
}

func (r *HookDeliveryRepo) UpdateAttempt(ctx context.Context, id uuid.UUID, status domain.HookStatus, attempt int, httpStatus *int, lastError *string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE hook_deliveries
		 SET status = $1, attempt = $2, http_status = $3, last_error = $4, updated_at = now()
		 WHERE id = $5`,
		string(status), attempt, httpStatus, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("update hook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("hook delivery not found: %s", id)
	}
	return nil
}
