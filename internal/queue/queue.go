// Package queue carries audit jobs from triggers to workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// Job names.
const (
	JobFullReport    = "generate-full-report"
	JobScheduledScan = "scheduled-scan"
)

var (
	// ErrDuplicate is returned by Enqueue while the dedup key is held.
	ErrDuplicate = errors.New("job already queued")
	ErrClosed    = errors.New("queue closed")
)

// Job is the queued unit of work. ScanID is set for full reports, SiteID for
// scheduled scans.
type Job struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ScanID     string `json:"scanId,omitempty"`
	SiteID     string `json:"siteId,omitempty"`
	DedupKey   string        `json:"dedupKey,omitempty"`
	DedupTTL   time.Duration `json:"dedupTtl,omitempty"`
	EnqueuedAt int64         `json:"enqueuedAt"`
}

// EnqueueOptions control deduplication. The key is held from Enqueue until
// Ack. DedupTTL bounds how long a waiting job holds it; the TTL restarts when
// the job is dequeued and while it runs.
type EnqueueOptions struct {
	DedupKey string
	DedupTTL time.Duration
}

// DefaultDedupTTL covers a day of queue backlog.
const DefaultDedupTTL = 24 * time.Hour

// FullReportKey is the dedup key of scanID's full-report job.
func FullReportKey(scanID string) string { return "full-report:" + scanID }

// ScheduledScanKey is the dedup key of siteID's recheck job.
func ScheduledScanKey(siteID string) string { return "scan-" + siteID }

// Delivery is a dequeued job awaiting Ack.
type Delivery struct {
	Job Job
	raw string
}

// Queue is an at-least-once job queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job, opts EnqueueOptions) error

	// Dequeue waits up to wait for a job. It returns nil, nil on timeout.
	Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error)

	// Ack removes a finished job and releases its dedup key.
	Ack(ctx context.Context, d *Delivery) error

	Close() error
}

// Heartbeater is implemented by queues whose consumers must prove they are
// alive while jobs run.
type Heartbeater interface {
	Heartbeat(ctx context.Context) error
	HeartbeatInterval() time.Duration
}
