package storage

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/observability"
)

// Sweeper periodically deletes expired token and code rows. Lookups already
// treat expired rows as absent; the sweeper just keeps the tables from
// growing without bound.
type Sweeper struct {
	tokens   auth.TokenStore
	schedule string
	cron     *cron.Cron
	log      *logrus.Entry
	metrics  *observability.Metrics
}

// NewSweeper creates a sweeper running on the given cron schedule
// (e.g. "@every 5m"). metrics may be nil.
func NewSweeper(tokens auth.TokenStore, schedule string, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		schedule: schedule,
		cron:     cron.New(),
		log:      logrus.WithField("component", "sweeper"),
		metrics:  metrics,
	}
}

// Start schedules the sweep job and starts the cron runner
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("expired-token sweeper started")
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish
func (s *Sweeper) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("expired-token sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep removes expired rows once and returns the count removed
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	removed, err := s.tokens.DeleteExpired(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep failed")
		if s.metrics != nil {
			s.metrics.StorageErrorsTotal.WithLabelValues("delete_expired").Inc()
		}
		return 0
	}

	if removed > 0 {
		s.log.WithField("rows", removed).Info("swept expired rows")
	}
	if s.metrics != nil {
		s.metrics.ExpiredRowsSweptTotal.Add(float64(removed))
	}
	return removed
}
