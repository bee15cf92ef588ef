// Package scheduler runs periodic maintenance jobs.
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
	"idverify/internal/storage"
)

// sweepTimeout caps one scheduled sweep.
const sweepTimeout = 30 * time.Minute

// ExpirySweeper removes verifications whose retention period has ended,
// together with their original and resized images.
type ExpirySweeper struct {
	cron    *cron.Cron
	repo    repository.VerificationRepository
	store   storage.Storage
	cfg     config.SchedulerConfig
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewExpirySweeper(repo repository.VerificationRepository, store storage.Storage, cfg config.SchedulerConfig, log zerolog.Logger, m *metrics.Metrics) *ExpirySweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &ExpirySweeper{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		repo:    repo,
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "expiry_sweeper").Logger(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep on cfg.Schedule.
func (s *ExpirySweeper) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		n, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Int("deleted", n).Msg("expiry sweep failed")
			return
		}
		s.log.Info().Int("deleted", n).Msg("expiry sweep finished")
	})
	if err != nil {
		return fmt.Errorf("schedule expiry sweep %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.cfg.Schedule).Msg("expiry sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep until ctx ends.
func (s *ExpirySweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("expiry sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep deletes every record expired at call time, in batches. A record
// whose images cannot be removed is kept for the next sweep.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now()
	total := 0
	for {
		batch, err := s.repo.ListExpired(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list expired: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		var deleted atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for i := range batch {
			v := batch[i]
			g.Go(func() error {
				if err := s.purge(gctx, &v); err != nil {
					s.log.Warn().Err(err).Str("verification_id", v.ID).Msg("cannot purge expired verification")
					return nil
				}
				deleted.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		n := int(deleted.Load())
		total += n
		s.metrics.AddExpired(n)

		if err := ctx.Err(); err != nil {
			return total, err
		}
		// Everything left in this batch is failing; retry on the next sweep.
		if n == 0 || len(batch) < s.cfg.BatchSize {
			return total, nil
		}
	}
}

func (s *ExpirySweeper) purge(ctx context.Context, v *model.Verification) error {
	var errs []error
	for _, key := range imageKeys(v) {
		if err := s.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return s.repo.Delete(ctx, v.Key())
}

// imageKeys lists originals and every derived copy, recorded or not.
func imageKeys(v *model.Verification) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if k == "" {
			return
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, orig := range []string{v.DocumentImage.Key, v.SelfieImage.Key} {
		add(orig)
		if orig != "" {
			add(storage.ResizedKey(orig))
		}
	}
	for _, ref := range []*model.ImageRef{v.ResizedDocumentImage, v.ResizedSelfieImage} {
		if ref != nil {
			add(ref.Key)
		}
	}
	return keys
}
