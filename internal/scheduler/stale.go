package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"idverify/internal/config"
	"idverify/internal/metrics"
	"idverify/internal/model"
	"idverify/internal/repository"
	"idverify/internal/steps"
)

// Notifier sends the outcome email for a verification.
type Notifier interface {
	Run(ctx context.Context, msg steps.Notification) steps.Result
}

// StaleRunReaper fails verifications whose run was lost with its process, or
// never started because an upload event did not arrive. A run is abandoned
// once it is older than the run timeout plus a grace period.
type StaleRunReaper struct {
	cron    *cron.Cron
	repo    repository.VerificationRepository
	notify  Notifier
	cfg     config.SchedulerConfig
	maxAge  time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStaleRunReaper(repo repository.VerificationRepository, n Notifier, cfg config.SchedulerConfig, runTimeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *StaleRunReaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StaleGrace < 0 {
		cfg.StaleGrace = 0
	}
	return &StaleRunReaper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		repo:    repo,
		notify:  n,
		cfg:     cfg,
		maxAge:  runTimeout + cfg.StaleGrace,
		log:     log.With().Str("component", "stale_run_reaper").Logger(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the reaper on cfg.StaleSchedule.
func (s *StaleRunReaper) Start() error {
	_, err := s.cron.AddFunc(s.cfg.StaleSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		n, err := s.Reap(ctx)
		if err != nil {
			s.log.Error().Err(err).Int("failed", n).Msg("stale run sweep failed")
			return
		}
		if n > 0 {
			s.log.Warn().Int("failed", n).Msg("abandoned verifications marked failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stale run sweep %q: %w", s.cfg.StaleSchedule, err)
	}

	s.cron.Start()
	s.log.Info().
		Str("schedule", s.cfg.StaleSchedule).
		Dur("max_age", s.maxAge).
		Msg("stale run reaper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep until ctx ends.
func (s *StaleRunReaper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("stale run reaper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reap marks every abandoned verification FAILED and notifies its requester.
// It returns how many records it finalized.
func (s *StaleRunReaper) Reap(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	total := 0
	for {
		batch, err := s.repo.ListStale(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list stale: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		var failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for i := range batch {
			v := batch[i]
			g.Go(func() error {
				ok, err := s.fail(gctx, &v)
				if err != nil {
					s.log.Warn().Err(err).Str("verification_id", v.ID).Msg("cannot fail abandoned verification")
					return nil
				}
				if ok {
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		n := int(failed.Load())
		total += n
		s.metrics.AddStale(n)

		if err := ctx.Err(); err != nil {
			return total, err
		}
		if n == 0 || len(batch) < s.cfg.BatchSize {
			return total, nil
		}
	}
}

// fail finalizes v. A record finished or deleted meanwhile is skipped, so
// the requester is notified at most once.
func (s *StaleRunReaper) fail(ctx context.Context, v *model.Verification) (bool, error) {
	reason := fmt.Sprintf("verification did not finish within %s", s.maxAge)
	now := s.now()
	advanced, err := s.repo.AdvanceStatus(ctx, v.Key(), model.StatusFailed, reason, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !advanced {
		return false, nil
	}

	log := s.log.With().
		Str("verification_id", v.ID).
		Str("status", v.Status.String()).
		Str("run_id", v.WorkflowRunID).
		Logger()
	log.Warn().Msg("abandoned verification marked failed")

	if s.notify == nil {
		return true, nil
	}
	res := s.notify.Run(ctx, steps.Notification{
		VerificationID: v.ID,
		UserEmail:      v.Requester.Email,
		Details: steps.NotificationDetails{
			Timestamp: now,
			Status:    model.StatusFailed,
			Error:     reason,
		},
	})
	if !res.Success {
		log.Warn().Str("error", res.Error).Msg("notification not delivered")
	}
	return true, nil
}
