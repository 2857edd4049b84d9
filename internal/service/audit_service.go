package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditServiceImpl implements ports.AuditService.
type AuditServiceImpl struct {
	repo ports.AuditRepository
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewAuditService creates a new audit service.
// If repo is nil, audit entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget). Failures are
// logged and never reach the caller.
func (s *AuditServiceImpl) Log(ctx context.Context, entry ports.AuditEntry) {
	record := &domain.AuditLog{
		ID:         uuid.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		ActorID:    entry.ActorID,
		CreatedAt:  time.Now().UTC(),
	}
	if record.ActorID == "" {
		record.ActorID = domain.SystemActor
	}
	if len(entry.Metadata) > 0 {
		if b, err := json.Marshal(entry.Metadata); err == nil {
			record.Metadata = string(b)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().
			Str("action", string(record.Action)).
			Str("entity_type", record.EntityType).
			Str("entity_id", record.EntityID).
			Str("actor_id", record.ActorID).
			Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(context.WithoutCancel(ctx), record); err != nil {
				s.log.Warn().Err(err).Str("action", string(record.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}

// Wait blocks until every in-flight entry has been written.
func (s *AuditServiceImpl) Wait() {
	s.wg.Wait()
}
