package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Headers sent with every fee settlement delivery.
const (
	HeaderHookSignature = "X-Hook-Signature"
	HeaderHookID        = "X-Hook-Id"
)

// defaultHookRetryIntervals is the back-off between delivery attempts.
var defaultHookRetryIntervals = []time.Duration{
	15 * time.Second,
	time.Minute,
	5 * time.Minute,
}

var errHookQueueClosed = errors.New("fee settlement queue closed")

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeeSettlementConfig configures the outbound fee ledger hook.
type FeeSettlementConfig struct {
	URL            string // empty = log-only
	Secret         string
	Workers        int
	QueueSize      int
	RetryIntervals []time.Duration
	Timeout        time.Duration
}

// FeeSettlementDispatcher implements ports.FeeSettlementHook. Deliveries are
// queued and posted by a fixed pool of workers; every attempt is recorded in
// the hook delivery log. Delivery failures never reach the payment flow.
type FeeSettlementDispatcher struct {
	deliveries ports.HookDeliveryRepository
	signer     ports.SignatureService
	httpClient HTTPClient
	cfg        FeeSettlementConfig
	log        zerolog.Logger

	queue  chan *domain.HookDelivery
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	sleep func(ctx context.Context, d time.Duration) bool
}

// NewFeeSettlementDispatcher creates a dispatcher. Call Start to launch the
// workers and Stop to drain them.
func NewFeeSettlementDispatcher(
	deliveries ports.HookDeliveryRepository,
	signer ports.SignatureService,
	httpClient HTTPClient,
	cfg FeeSettlementConfig,
	log zerolog.Logger,
) *FeeSettlementDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryIntervals == nil {
		cfg.RetryIntervals = defaultHookRetryIntervals
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &FeeSettlementDispatcher{
		deliveries: deliveries,
		signer:     signer,
		httpClient: httpClient,
		cfg:        cfg,
		log:        log.With().Str("component", "fee_settlement_hook").Logger(),
		queue:      make(chan *domain.HookDelivery, cfg.QueueSize),
		sleep:      sleepCtx,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or the
// dispatcher is stopped.
func (d *FeeSettlementDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.log.Info().Int("workers", d.cfg.Workers).Bool("log_only", d.cfg.URL == "").Msg("fee settlement dispatcher started")
}

// Stop closes the queue and waits for in-flight deliveries.
func (d *FeeSettlementDispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Enqueue records a delivery and queues it. It never blocks on the network.
func (d *FeeSettlementDispatcher) Enqueue(ctx context.Context, settlement domain.FeeSettlement) error {
	payload, err := json.Marshal(settlement)
	if err != nil {
		return fmt.Errorf("encode fee settlement: %w", err)
	}

	if d.cfg.URL == "" {
		d.log.Info().
			Str("fee_reference", settlement.FeeReference).
			Str("amount_paid", settlement.AmountPaid.StringFixed(2)).
			Str("payment_id", settlement.PaymentID.String()).
			Msg("fee settlement (no hook url configured)")
		return nil
	}

	now := time.Now().UTC()
	delivery := &domain.HookDelivery{
		ID:        uuid.New(),
		Kind:      domain.HookKindFeeSettlement,
		PaymentID: settlement.PaymentID,
		TargetURL: d.cfg.URL,
		Payload:   string(payload),
		Status:    domain.HookStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		d.log.Warn().Err(err).Str("payment_id", settlement.PaymentID.String()).Msg("failed to record hook delivery")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errHookQueueClosed
	}
	select {
	case d.queue <- delivery:
		return nil
	default:
		msg := "queue full"
		d.record(context.WithoutCancel(ctx), delivery, domain.HookStatusFailed, nil, &msg)
		return fmt.Errorf("fee settlement queue full (%d)", d.cfg.QueueSize)
	}
}

func (d *FeeSettlementDispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, delivery)
		}
	}
}

// deliver posts one delivery, retrying on transport errors and non-2xx.
func (d *FeeSettlementDispatcher) deliver(ctx context.Context, delivery *domain.HookDelivery) {
	signature := ""
	if d.cfg.Secret != "" {
		signature = d.signer.Sign(d.cfg.Secret, delivery.Payload)
	}
	attempts := len(d.cfg.RetryIntervals) + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && !d.sleep(ctx, d.cfg.RetryIntervals[attempt-2]) {
			msg := "shutdown before delivery"
			d.record(context.WithoutCancel(ctx), delivery, domain.HookStatusFailed, nil, &msg)
			return
		}

		status, err := d.post(ctx, delivery, signature)
		delivery.Attempt = attempt

		if err == nil && status >= 200 && status < 300 {
			d.log.Info().
				Str("delivery_id", delivery.ID.String()).
				Str("payment_id", delivery.PaymentID.String()).
				Int("attempt", attempt).
				Int("status", status).
				Msg("fee settlement delivered")
			d.record(ctx, delivery, domain.HookStatusDelivered, &status, nil)
			return
		}

		var msg string
		var httpStatus *int
		if err != nil {
			msg = err.Error()
		} else {
			msg = fmt.Sprintf("unexpected status %d", status)
			httpStatus = &status
		}

		next := domain.HookStatusPending
		if attempt == attempts {
			next = domain.HookStatusFailed
		}
		d.log.Warn().
			Str("delivery_id", delivery.ID.String()).
			Int("attempt", attempt).
			Str("error", msg).
			Msg("fee settlement delivery failed")
		d.record(ctx, delivery, next, httpStatus, &msg)
	}

	d.log.Error().
		Str("delivery_id", delivery.ID.String()).
		Str("payment_id", delivery.PaymentID.String()).
		Msg("fee settlement retries exhausted")
}

func (d *FeeSettlementDispatcher) post(ctx context.Context, delivery *domain.HookDelivery, signature string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.TargetURL, bytes.NewReader([]byte(delivery.Payload)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderHookID, delivery.ID.String())
	if signature != "" {
		req.Header.Set(HeaderHookSignature, signature)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *FeeSettlementDispatcher) record(ctx context.Context, delivery *domain.HookDelivery, status domain.HookStatus, httpStatus *int, lastError *string) {
	delivery.Status = status
	if err := d.deliveries.UpdateAttempt(ctx, delivery.ID, status, delivery.Attempt, httpStatus, lastError); err != nil {
		d.log.Warn().Err(err).Str("delivery_id", delivery.ID.String()).Msg("failed to update hook delivery")
	}
}

// sleepCtx waits for d or until ctx is done; it reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
