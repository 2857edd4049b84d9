package main

import (
	"context"
	"fmt"
	"net/http"

	"hostel-payments/config"
	"hostel-payments/internal/adapter/gateway/razorpay"
	"hostel-payments/internal/adapter/http/middleware"
	"hostel-payments/internal/adapter/storage/memory"
	pgStorage "hostel-payments/internal/adapter/storage/postgres"
	redisStorage "hostel-payments/internal/adapter/storage/redis"
	"hostel-payments/internal/core/ports"
	"hostel-payments/internal/service"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// app holds every wired component of one process.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	payments ports.PaymentRepository
	reports  ports.ReconciliationRepository

	orders         *service.OrderServiceImpl
	verifier       *service.VerificationServiceImpl
	webhooks       *service.WebhookProcessorImpl
	refunds        *service.RefundServiceImpl
	reconciliation *service.ReconciliationServiceImpl
	reporting      ports.ReportingService
	tokens         *service.JWTTokenService
	audit          *service.AuditServiceImpl
	dispatcher     *service.FeeSettlementDispatcher

	rateLimits middleware.RateLimitStore // nil without redis
	health     []ports.HealthChecker

	closers []func()
}

// newApp connects storage and builds the services. Call close when done.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var enc ports.EncryptionService
	if cfg.AES.Key != "" {
		aes, err := service.NewAESEncryptionService(cfg.AES.Key)
		if err != nil {
			return nil, fmt.Errorf("encryption: %w", err)
		}
		enc = aes
	} else {
		log.Warn().Msg("aes.key not set: raw gateway responses stored unencrypted")
	}

	var (
		auditRepo ports.AuditRepository
		hookRepo  ports.HookDeliveryRepository
	)
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("using in-memory ledger: data is lost on restart")
		a.payments = memory.NewPaymentRepo()
		a.reports = memory.NewReconciliationRepo()
		auditRepo = memory.NewAuditRepo()
		hookRepo = memory.NewHookDeliveryRepo()
	default:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.payments = pgStorage.NewPaymentRepo(pool, enc)
		a.reports = pgStorage.NewReconciliationRepo(pool)
		auditRepo = pgStorage.NewAuditRepo(pool)
		hookRepo = pgStorage.NewHookDeliveryRepo(pool)
		a.health = append(a.health, pgStorage.NewHealthCheck(pool))
	}

	var (
		lock   ports.InitiationLock
		events ports.EventStore
	)
	if cfg.Redis.Enabled() {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { closeRedis(rdb, log) })
		lock = redisStorage.NewInitiationLock(rdb)
		events = redisStorage.NewEventStore(rdb)
		a.rateLimits = redisStorage.NewRateLimitStore(rdb)
		a.health = append(a.health, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Warn().Msg("redis disabled: using process-local locks and event de-duplication")
		lock = memory.NewInitiationLock()
		events = memory.NewEventStore()
	}

	signer := service.NewHMACSignatureService()
	gateway := razorpay.NewClient(cfg.Gateway, nil, log)

	a.audit = service.NewAuditService(auditRepo, log)
	a.dispatcher = service.NewFeeSettlementDispatcher(hookRepo, signer, &http.Client{}, service.FeeSettlementConfig{
		URL:            cfg.Hooks.FeeSettlementURL,
		Secret:         cfg.Hooks.FeeSettlementSecret,
		Workers:        cfg.Hooks.Workers,
		QueueSize:      cfg.Hooks.QueueSize,
		RetryIntervals: cfg.Hooks.RetryIntervals,
		Timeout:        cfg.Hooks.Timeout,
	}, log)

	a.orders = service.NewOrderService(a.payments, gateway, lock, a.audit, service.OrderConfig{
		PublicKey:    cfg.Gateway.KeyID,
		Currency:     cfg.Gateway.Currency,
		CheckoutName: cfg.Gateway.CheckoutName,
	}, log)
	a.verifier = service.NewVerificationService(a.payments, gateway, signer, a.audit, a.dispatcher, cfg.Gateway.KeySecret, log)
	a.webhooks = service.NewWebhookProcessor(a.payments, gateway, signer, events, a.audit, a.dispatcher, service.WebhookConfig{
		Secret:   cfg.Webhook.Secret,
		EventTTL: cfg.Webhook.EventTTL,
	}, log)
	a.refunds = service.NewRefundService(a.payments, gateway, a.audit, cfg.Refunds.ClaimTTL, log)
	a.reconciliation = service.NewReconciliationService(a.payments, a.reports, gateway, a.audit, service.ReconciliationConfig{
		Epsilon:  decimal.NewFromFloat(cfg.Reconciliation.Epsilon),
		PageSize: cfg.Gateway.PageSize,
	}, log)
	a.reporting = service.NewReportingService(a.payments)
	a.tokens = service.NewJWTTokenService(cfg.Auth.JWTSecret, cfg.Auth.Expiry, cfg.Auth.Issuer)

	return a, nil
}

// close flushes pending audit entries and releases connections in reverse
// order of acquisition.
func (a *app) close() {
	if a.audit != nil {
		a.audit.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func closeRedis(rdb *goredis.Client, log zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("closing redis client")
	}
}
