package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"hostel-payments/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayClient is the outbound payment processor API. Every call is bounded
// by the configured gateway timeout.
type GatewayClient interface {
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.GatewayOrder, error)
	FetchOrder(ctx context.Context, orderID string) (*domain.GatewayOrder, error)
	FetchPayment(ctx context.Context, gatewayPaymentID string) (*domain.GatewayPayment, error)
	CreateRefund(ctx context.Context, req domain.CreateRefundRequest) (*domain.GatewayRefund, error)
	// ListPaymentRefunds returns every refund the gateway holds for a payment.
	ListPaymentRefunds(ctx context.Context, gatewayPaymentID string) ([]domain.GatewayRefund, error)
	// ListSettlements returns one page of the settlement feed.
	ListSettlements(ctx context.Context, query domain.SettlementQuery) ([]domain.SettlementRecord, error)
}

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCheckoutPayload(orderID, gatewayPaymentID string) string
}

// TokenService validates staff tokens issued by the identity collaborator.
type TokenService interface {
	Generate(staffID string, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	StaffID string
	Role    string
}

// InitiationLock serialises concurrent initiations sharing an idempotency key.
type InitiationLock interface {
	// Acquire returns false if another request already holds the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventStore remembers processed webhook event ids.
type EventStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string, ttl time.Duration) error
}

// --- Service Ports (Business Logic) ---

// OrderService initiates gateway orders.
type OrderService interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
}

// InitiateRequest holds validated input for order initiation.
type InitiateRequest struct {
	PayerID              string
	Amount               decimal.Decimal
	Currency             string
	FeeReference         *string
	ApplicationReference *string
	FeeBreakdown         []domain.FeeItem
	IdempotencyKey       string
}

// InitiateResult is what the checkout client needs to open the gateway form.
type InitiateResult struct {
	PaymentID        uuid.UUID
	OrderID          string
	PublicKey        string
	AmountMinorUnits int64
	Currency         string
	Status           domain.PaymentStatus
	CheckoutName     string
	IdempotencyKey   string
	Description      string
	Notes            map[string]string
	Replayed         bool
}

// VerificationService confirms client-side checkout callbacks.
type VerificationService interface {
	Verify(ctx context.Context, req VerifyRequest) (*domain.Payment, error)
}

// VerifyRequest is the checkout callback triple.
type VerifyRequest struct {
	OrderID          string
	GatewayPaymentID string
	Signature        string
}

// WebhookProcessor handles gateway-originated events.
type WebhookProcessor interface {
	Process(ctx context.Context, eventID string, body []byte, signature string) error
}

// RefundService issues refunds through the gateway.
type RefundService interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	// RecoverStaleClaims resolves REFUND_PENDING claims left behind by a
	// crashed or failed refund, and returns how many it resolved.
	RecoverStaleClaims(ctx context.Context) (int, error)
}

// RefundResult describes the refund one call issued at the gateway.
type RefundResult struct {
	GatewayRefundID string
	Amount          decimal.Decimal
	GatewayStatus   string
	ProcessedAt     time.Time
	Payment         *domain.Payment
}

// RefundRequest holds validated input for refund processing.
type RefundRequest struct {
	PaymentID uuid.UUID
	Amount    *decimal.Decimal // nil = remaining refundable amount
	Reason    string
	ActorID   string
}

// ReconciliationService diffs the ledger against the settlement feed.
type ReconciliationService interface {
	Run(ctx context.Context, from, to time.Time, trigger domain.ReconciliationTrigger) (*domain.ReconciliationReport, error)
	GetReport(ctx context.Context, id uuid.UUID) (*domain.ReconciliationReport, error)
}

// ReportingService serves read-only ledger views.
type ReportingService interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, []domain.Refund, error)
	ListPayments(ctx context.Context, params PaymentListParams) ([]domain.Payment, int64, error)
	GetStats(ctx context.Context, from, to *time.Time) (*LedgerStats, error)
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry AuditEntry)
}

// AuditEntry is the input for a single audit record.
type AuditEntry struct {
	EntityType string
	EntityID   string
	Action     domain.AuditAction
	ActorID    string
	Metadata   map[string]any
}

// FeeSettlementHook notifies the fee ledger collaborator of a collected payment.
type FeeSettlementHook interface {
	Enqueue(ctx context.Context, settlement domain.FeeSettlement) error
}
