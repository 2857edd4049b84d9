package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hostel-payments/internal/core/domain"

	"github.com/google/uuid"
)

// HookDeliveryRepo implements ports.HookDeliveryRepository in memory.
type HookDeliveryRepo struct {
	mu         sync.RWMutex
	deliveries map[uuid.UUID]domain.HookDelivery
}

func NewHookDeliveryRepo() *HookDeliveryRepo {
	return &HookDeliveryRepo{deliveries: make(map[uuid.UUID]domain.HookDelivery)}
}

func (r *HookDeliveryRepo) Create(ctx context.Context, d *domain.HookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.ID] = *d
	return nil
}

func (r *HookDeliveryRepo) UpdateAttempt(ctx context.Context, id uuid.UUID, status domain.HookStatus, attempt int, httpStatus *int, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return fmt.Errorf("hook delivery not found: %s", id)
	}
	d.Status = status
	d.Attempt = attempt
	d.HTTPStatus = httpStatus
	d.LastError = lastError
	d.UpdatedAt = time.Now().UTC()
	r.deliveries[id] = d
	return nil
}

// ByPayment returns every delivery recorded for paymentID.
func (r *HookDeliveryRepo) ByPayment(paymentID uuid.UUID) []domain.HookDelivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.HookDelivery
	for _, d := range r.deliveries {
		if d.PaymentID == paymentID {
			out = append(out, d)
		}
	}
	return out
}
