package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/alouette-a11y/alouette/internal/logging"
	"github.com/alouette-a11y/alouette/internal/queue"
	"github.com/alouette-a11y/alouette/internal/store"
)

// Scheduler queues recheck scans for subscribed sites whose plan interval
// has elapsed.
type Scheduler struct {
	cfg    SchedulerConfig
	ttl    time.Duration
	store  *store.Store
	queue  queue.Queue
	logger logging.Logger
	now    func() time.Time
}

func NewScheduler(cfg SchedulerConfig, dedupTTL time.Duration, st *store.Store, q queue.Queue, logger logging.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		cfg:    cfg,
		ttl:    dedupTTL,
		store:  st,
		queue:  q,
		logger: logger.With(logging.Field{Key: "component", Value: "scheduler"}),
		now:    time.Now,
	}
}

// Tick queues one scheduled-scan job per due site and returns how many were
// queued. A site whose job is still pending is skipped.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListSitesDueForRecheck(ctx, now)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, d := range due {
		job := queue.Job{
			ID:         uuid.NewString(),
			Name:       queue.JobScheduledScan,
			SiteID:     d.Site.ID,
			EnqueuedAt: now.Unix(),
		}
		err := s.queue.Enqueue(ctx, job, queue.EnqueueOptions{
			DedupKey: queue.ScheduledScanKey(d.Site.ID),
			DedupTTL: s.ttl,
		})
		if errors.Is(err, queue.ErrDuplicate) {
			s.logger.Debug("recheck already queued", logging.Field{Key: "site_id", Value: d.Site.ID})
			continue
		}
		if err != nil {
			return queued, err
		}
		if err := s.store.MarkSiteScanned(ctx, d.Site.ID, now); err != nil {
			s.logger.Warn("marking site scanned", logging.Field{Key: "site_id", Value: d.Site.ID}, logging.Err(err))
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("rechecks queued", logging.Field{Key: "count", Value: queued})
	}
	return queued, nil
}

// Run ticks immediately and then every interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
