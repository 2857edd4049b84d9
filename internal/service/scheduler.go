package service

import (
	"context"
	"fmt"
	"time"

	"hostel-payments/internal/core/domain"
	"hostel-payments/internal/core/ports"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ReconciliationScheduler runs the daily reconciliation over the previous
// calendar day in the configured timezone.
type ReconciliationScheduler struct {
	cron     *cron.Cron
	svc      ports.ReconciliationService
	location *time.Location
	schedule string
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewReconciliationScheduler parses the schedule and timezone. The job is not
// running until Start is called.
func NewReconciliationScheduler(svc ports.ReconciliationService, schedule, timezone string, log zerolog.Logger) (*ReconciliationScheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	s := &ReconciliationScheduler{
		svc:      svc,
		location: loc,
		schedule: schedule,
		timeout:  30 * time.Minute,
		now:      time.Now,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	if _, err := s.cron.AddFunc(schedule, s.runPreviousDay); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing the job in the background.
func (s *ReconciliationScheduler) Start() {
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Str("timezone", s.location.String()).Msg("reconciliation scheduled")
}

// Stop prevents new runs and waits for a running one to finish.
func (s *ReconciliationScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *ReconciliationScheduler) runPreviousDay() {
	from, to := PreviousDay(s.now(), s.location)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.svc.Run(ctx, from, to, domain.TriggerScheduled); err != nil {
		s.log.Error().Err(err).Time("from", from).Time("to", to).Msg("scheduled reconciliation failed")
	}
}

// PreviousDay returns [start of yesterday, start of today) in loc.
func PreviousDay(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -1), today
}

// RefundClaimSweeper periodically recovers refund claims abandoned by a
// crashed or failed refund.
type RefundClaimSweeper struct {
	cron     *cron.Cron
	svc      ports.RefundService
	schedule string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewRefundClaimSweeper parses the schedule. Sweeps do not start until Start
// is called.
func NewRefundClaimSweeper(svc ports.RefundService, schedule string, log zerolog.Logger) (*RefundClaimSweeper, error) {
	s := &RefundClaimSweeper{
		svc:      svc,
		schedule: schedule,
		timeout:  2 * time.Minute,
		log:      log.With().Str("component", "refund_sweeper").Logger(),
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})))
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins sweeping in the background.
func (s *RefundClaimSweeper) Start() {
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("refund claim sweep scheduled")
}

// Stop prevents new sweeps and waits for a running one to finish.
func (s *RefundClaimSweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *RefundClaimSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.svc.RecoverStaleClaims(ctx); err != nil {
		s.log.Error().Err(err).Msg("refund claim sweep failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
