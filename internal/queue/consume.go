package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alouette-a11y/alouette/internal/logging"
)

// Handler processes one job. Its error is logged; retries are the
// handler's concern.
type Handler func(ctx context.Context, job Job) error

// pollWait bounds one blocking dequeue so workers notice cancellation.
const pollWait = 2 * time.Second

// Consume runs concurrency workers until ctx ends, then waits for in-flight
// jobs. A job interrupted by cancellation is not acknowledged, so it is
// redelivered on the next start.
func Consume(ctx context.Context, q Queue, concurrency int, handler Handler, logger logging.Logger) {
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	if hb, ok := q.(Heartbeater); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			heartbeat(ctx, hb, logger)
		}()
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			worker(ctx, idx, q, handler, logger)
		}(i)
	}
	wg.Wait()
}

func heartbeat(ctx context.Context, hb Heartbeater, logger logging.Logger) {
	interval := hb.HeartbeatInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := hb.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				logger.Error("heartbeat failed", logging.Err(err))
			}
		}
	}
}

func worker(ctx context.Context, idx int, q Queue, handler Handler, logger logging.Logger) {
	log := logger.With(logging.Field{Key: "worker", Value: idx})
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := q.Dequeue(ctx, pollWait)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			log.Error("dequeue failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}

		fields := []logging.Field{
			{Key: "job_id", Value: d.Job.ID},
			{Key: "job", Value: d.Job.Name},
		}
		if err := handler(ctx, d.Job); err != nil {
			log.Error("job failed", append(fields, logging.Err(err))...)
		} else {
			log.Info("job done", fields...)
		}
		if ctx.Err() != nil {
			return
		}
		if err := q.Ack(ctx, d); err != nil {
			log.Error("ack failed", append(fields, logging.Err(err))...)
		}
	}
}
