package syncer

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/relate"
	"github.com/crosswire-ai/crosswire/internal/store"
)

const defaultSweepInterval = 30 * time.Minute

// Scheduler polls active sources on their configured intervals and
// runs the graph sweep per organization.
type Scheduler struct {
	sched   gocron.Scheduler
	syncer  *Syncer
	sweeper *relate.Sweeper
	store   store.Store
	logger  *zap.Logger

	sweepInterval time.Duration
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithSweepInterval overrides the graph sweep cadence.
func WithSweepInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.sweepInterval = d }
}

// NewScheduler builds the scheduler; Start registers jobs from the
// current source table.
func NewScheduler(sy *Syncer, sw *relate.Sweeper, st store.Store, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		sched:         sched,
		syncer:        sy,
		sweeper:       sw,
		store:         st,
		logger:        logger.With(zap.String("component", "scheduler")),
		sweepInterval: defaultSweepInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start registers one polling job per active source plus one sweep job
// per organization, then starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return err
	}

	orgs := make(map[string]struct{})
	for _, src := range sources {
		orgs[src.OrganizationID] = struct{}{}
		interval := src.Config.PollIntervalMinutes
		if interval <= 0 {
			continue
		}
		sourceID := src.ID
		_, err := s.sched.NewJob(
			gocron.DurationJob(time.Duration(interval)*time.Minute),
			gocron.NewTask(func() {
				if err := s.syncer.SyncSource(ctx, sourceID); err != nil {
					s.logger.Warn("scheduled sync failed", zap.String("source_id", sourceID), zap.Error(err))
				}
			}),
			gocron.WithName("sync_"+sourceID),
		)
		if err != nil {
			return err
		}
		s.logger.Info("scheduled source",
			zap.String("source_id", sourceID),
			zap.Int("interval_minutes", interval))
	}

	for orgID := range orgs {
		org := orgID
		_, err := s.sched.NewJob(
			gocron.DurationJob(s.sweepInterval),
			gocron.NewTask(func() {
				if err := s.sweeper.Sweep(ctx, org); err != nil {
					s.logger.Warn("graph sweep failed", zap.String("org_id", org), zap.Error(err))
				}
			}),
			gocron.WithName("sweep_"+org),
		)
		if err != nil {
			return err
		}
	}

	s.sched.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	return s.sched.Shutdown()
}
