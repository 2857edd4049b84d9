package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"
	"hostel-payments/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultSettlementPageSize = 100

// ReconciliationConfig tunes the settlement diff.
type ReconciliationConfig struct {
	Epsilon  decimal.Decimal // tolerated amount difference, major units
	PageSize int             // settlement feed page size
}

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	payments ports.PaymentRepository
	reports  ports.ReconciliationRepository
	gateway  ports.GatewayClient
	audit    ports.AuditService
	cfg      ReconciliationConfig
	now      func() time.Time
	log      zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	payments ports.PaymentRepository,
	reports ports.ReconciliationRepository,
	gateway ports.GatewayClient,
	audit ports.AuditService,
	cfg ReconciliationConfig,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultSettlementPageSize
	}
	return &ReconciliationServiceImpl{
		payments: payments,
		reports:  reports,
		gateway:  gateway,
		audit:    audit,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "reconciliation").Logger(),
	}
}

// Run diffs settled ledger payments in [from, to) against the gateway
// settlement feed. A report is always persisted, even when the feed is down.
func (s *ReconciliationServiceImpl) Run(ctx context.Context, from, to time.Time, trigger domain.ReconciliationTrigger) (*domain.ReconciliationReport, error) {
	if !from.Before(to) {
		return nil, apperror.Validation("reconciliation range must satisfy from < to")
	}

	report := &domain.ReconciliationReport{
		ID:            uuid.New(),
		From:          from,
		To:            to,
		Trigger:       trigger,
		TotalAmount:   decimal.Zero,
		Discrepancies: []domain.Discrepancy{},
		StartedAt:     s.now(),
	}

	index := make(map[string]*domain.Payment)
	err := s.payments.StreamSettled(ctx, from, to, func(p *domain.Payment) error {
		report.TotalPayments++
		report.TotalAmount = report.TotalAmount.Add(p.Amount)
		if p.GatewayPaymentID == nil {
			s.log.Warn().Str("payment_id", p.ID.String()).Msg("settled payment without gateway payment id")
			return nil
		}
		index[*p.GatewayPaymentID] = p
		return nil
	})
	if err != nil {
		report.Error = fmt.Sprintf("ledger scan failed: %v", err)
		return s.finish(ctx, report)
	}

	// consumed maps a gateway payment id to the settlement that first claimed it.
	consumed := make(map[string]string)

	for skip := 0; ; skip += s.cfg.PageSize {
		page, err := s.gateway.ListSettlements(ctx, domain.SettlementQuery{
			From:  from,
			To:    to,
			Count: s.cfg.PageSize,
			Skip:  skip,
		})
		if err != nil {
			s.log.Error().Err(err).Int("skip", skip).Msg("settlement feed unavailable")
			report.Error = fmt.Sprintf("settlement feed unavailable: %v", err)
			break
		}
		for _, rec := range page {
			s.compare(report, index, consumed, rec)
		}
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	// With the feed incomplete, leftovers say nothing about the gateway.
	if report.Error == "" {
		leftovers := make([]*domain.Payment, 0, len(index))
		for _, p := range index {
			leftovers = append(leftovers, p)
		}
		sort.Slice(leftovers, func(i, j int) bool {
			return *leftovers[i].GatewayPaymentID < *leftovers[j].GatewayPaymentID
		})
		for _, p := range leftovers {
			id := p.ID
			amount := p.Amount
			report.AddDiscrepancy(domain.Discrepancy{
				Type:             domain.DiscrepancyMissingInGateway,
				GatewayPaymentID: *p.GatewayPaymentID,
				PaymentID:        &id,
				LocalAmount:      &amount,
				Description:      "settled in ledger but absent from the settlement feed",
			})
		}
	}

	return s.finish(ctx, report)
}

// compare matches one settlement entry against the local index.
func (s *ReconciliationServiceImpl) compare(report *domain.ReconciliationReport, index map[string]*domain.Payment, consumed map[string]string, rec domain.SettlementRecord) {
	if rec.Type != domain.SettlementTypePayment {
		return
	}
	report.SettlementCount++
	gatewayAmount := domain.FromMinor(rec.Amount)

	if p, ok := index[rec.EntityID]; ok {
		delete(index, rec.EntityID)
		consumed[rec.EntityID] = rec.SettlementID

		if p.Amount.Sub(gatewayAmount).Abs().GreaterThan(s.cfg.Epsilon) {
			id := p.ID
			local := p.Amount
			report.AddDiscrepancy(domain.Discrepancy{
				Type:             domain.DiscrepancyAmountMismatch,
				GatewayPaymentID: rec.EntityID,
				PaymentID:        &id,
				LocalAmount:      &local,
				GatewayAmount:    &gatewayAmount,
				SettlementID:     rec.SettlementID,
				Description:      fmt.Sprintf("ledger %s vs settlement %s", local.StringFixed(2), gatewayAmount.StringFixed(2)),
			})
			return
		}
		report.MatchedCount++
		return
	}

	if first, ok := consumed[rec.EntityID]; ok {
		report.AddDiscrepancy(domain.Discrepancy{
			Type:             domain.DiscrepancyDuplicateSettlement,
			GatewayPaymentID: rec.EntityID,
			GatewayAmount:    &gatewayAmount,
			SettlementID:     rec.SettlementID,
			Description:      "payment already settled in " + first,
		})
		return
	}

	consumed[rec.EntityID] = rec.SettlementID
	report.AddDiscrepancy(domain.Discrepancy{
		Type:             domain.DiscrepancyMissingInLedger,
		GatewayPaymentID: rec.EntityID,
		GatewayAmount:    &gatewayAmount,
		SettlementID:     rec.SettlementID,
		Description:      "settled at gateway with no settled ledger record",
	})
}

func (s *ReconciliationServiceImpl) finish(ctx context.Context, report *domain.ReconciliationReport) (*domain.ReconciliationReport, error) {
	report.CompletedAt = s.now()
	report.Conclude()

	bySeverity := report.CountBySeverity()
	event := s.log.Info()
	if report.Status == domain.ReconciliationFailed || bySeverity[domain.SeverityCritical] > 0 {
		event = s.log.Error()
	}
	event.
		Str("report_id", report.ID.String()).
		Str("status", string(report.Status)).
		Str("trigger", string(report.Trigger)).
		Time("from", report.From).
		Time("to", report.To).
		Int("total_payments", report.TotalPayments).
		Int("matched", report.MatchedCount).
		Int("settlements", report.SettlementCount).
		Int("discrepancies", len(report.Discrepancies)).
		Int("critical", bySeverity[domain.SeverityCritical]).
		Str("error", report.Error).
		Msg("reconciliation finished")

	s.audit.Log(ctx, ports.AuditEntry{
		EntityType: domain.EntityReconciliation,
		EntityID:   report.ID.String(),
		Action:     domain.AuditActionReconciliationRun,
		Metadata: map[string]any{
			"status":        string(report.Status),
			"trigger":       string(report.Trigger),
			"discrepancies": len(report.Discrepancies),
		},
	})

	if err := s.reports.Create(context.WithoutCancel(ctx), report); err != nil {
		s.log.Error().Err(err).Str("report_id", report.ID.String()).Msg("failed to persist reconciliation report")
		return report, apperror.InternalError(fmt.Errorf("persist report: %w", err))
	}
	return report, nil
}

// GetReport returns a persisted report.
func (s *ReconciliationServiceImpl) GetReport(ctx context.Context, id uuid.UUID) (*domain.ReconciliationReport, error) {
	report, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if report == nil {
		return nil, apperror.ErrNotFound("reconciliation report")
	}
	return report, nil
}
