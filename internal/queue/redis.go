package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	_ Queue       = (*RedisQueue)(nil)
	_ Heartbeater = (*RedisQueue)(nil)
)

// ErrConsumerInUse is returned when another live process holds the lease of
// the configured consumer name.
var ErrConsumerInUse = errors.New("consumer name held by another process")

// DefaultLeaseTTL is how long a consumer stays alive without a heartbeat.
const DefaultLeaseTTL = 30 * time.Second

// RedisQueue is a reliable list queue: jobs move atomically from the wait
// list into a per-consumer active list and leave it on Ack.
//
// Each consumer holds a lease key refreshed by Heartbeat. Only the active
// lists of consumers whose lease has expired are handed back to the wait
// list, so a job never runs on two live consumers.
type RedisQueue struct {
	client    *redis.Client
	wait      string
	active    string
	prefix    string
	consumers string
	consumer  string
	instance  string
	leaseTTL  time.Duration
	owned     bool
}

// RedisConfig names the queue and its consumer. An empty Consumer gets a
// name unique to the process.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Name     string        `yaml:"name"`
	Consumer string        `yaml:"consumer"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{URL: "redis://localhost:6379/0", Name: "audits", LeaseTTL: DefaultLeaseTTL}
}

// NewRedisQueue connects to cfg.URL. The client is closed by Close.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	q := NewRedisQueueWithClient(redis.NewClient(opts), cfg.Name, cfg.Consumer)
	if cfg.LeaseTTL > 0 {
		q.leaseTTL = cfg.LeaseTTL
	}
	q.owned = true
	return q, nil
}

// NewRedisQueueWithClient wraps an existing client, which Close leaves open.
func NewRedisQueueWithClient(client *redis.Client, name, consumer string) *RedisQueue {
	if name == "" {
		name = DefaultRedisConfig().Name
	}
	instance := uuid.NewString()
	if consumer == "" {
		consumer = processConsumer(instance)
	}
	prefix := "alouette:queue:" + name
	return &RedisQueue{
		client:    client,
		wait:      prefix + ":wait",
		active:    activeKey(prefix, consumer),
		prefix:    prefix,
		consumers: prefix + ":consumers",
		consumer:  consumer,
		instance:  instance,
		leaseTTL:  DefaultLeaseTTL,
	}
}

func processConsumer(instance string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), instance[:8])
}

func activeKey(prefix, consumer string) string { return prefix + ":active:" + consumer }

func leaseKey(prefix, consumer string) string { return prefix + ":lease:" + consumer }

func (q *RedisQueue) dedupKey(key string) string {
	return q.prefix + ":dedup:" + key
}

// Consumer returns the name whose active list this queue uses.
func (q *RedisQueue) Consumer() string { return q.consumer }

// Ping checks the connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job, opts EnqueueOptions) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = time.Now().Unix()

	if opts.DedupKey != "" {
		ttl := opts.DedupTTL
		if ttl <= 0 {
			ttl = DefaultDedupTTL
		}
		ok, err := q.client.SetNX(ctx, q.dedupKey(opts.DedupKey), job.ID, ttl).Result()
		if err != nil {
			return fmt.Errorf("dedup %s: %w", opts.DedupKey, err)
		}
		if !ok {
			return ErrDuplicate
		}
		job.DedupKey = opts.DedupKey
		job.DedupTTL = ttl
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.wait, payload).Err(); err != nil {
		if job.DedupKey != "" {
			q.client.Del(ctx, q.dedupKey(job.DedupKey))
		}
		return fmt.Errorf("enqueue %s: %w", job.Name, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	raw, err := q.client.BRPopLPush(ctx, q.wait, q.active, wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison payloads are dropped so they cannot wedge the consumer.
		q.client.LRem(ctx, q.active, 1, raw)
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if err := q.holdDedup(ctx, job); err != nil {
		return nil, err
	}
	return &Delivery{Job: job, raw: raw}, nil
}

// holdDedup restarts the TTL of a running job's dedup key, or takes the key
// back if it expired while the job waited.
func (q *RedisQueue) holdDedup(ctx context.Context, job Job) error {
	if job.DedupKey == "" {
		return nil
	}
	ttl := job.DedupTTL
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	key := q.dedupKey(job.DedupKey)
	ok, err := q.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("hold %s: %w", job.DedupKey, err)
	}
	if !ok {
		if err := q.client.SetNX(ctx, key, job.ID, ttl).Err(); err != nil {
			return fmt.Errorf("hold %s: %w", job.DedupKey, err)
		}
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.active, 1, d.raw)
	if d.Job.DedupKey != "" {
		pipe.Del(ctx, q.dedupKey(d.Job.DedupKey))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", d.Job.ID, err)
	}
	return nil
}

// claim takes or refreshes this consumer's lease. fresh is true when the
// lease was free, i.e. no live process was using the consumer name.
func (q *RedisQueue) claim(ctx context.Context) (fresh bool, err error) {
	lease := leaseKey(q.prefix, q.consumer)
	ok, err := q.client.SetNX(ctx, lease, q.instance, q.leaseTTL).Result()
	if err != nil {
		return false, fmt.Errorf("lease %s: %w", q.consumer, err)
	}
	if !ok {
		holder, err := q.client.Get(ctx, lease).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// expired between the two calls
			return q.claim(ctx)
		case err != nil:
			return false, fmt.Errorf("lease %s: %w", q.consumer, err)
		case holder != q.instance:
			return false, fmt.Errorf("%w: %s", ErrConsumerInUse, q.consumer)
		}
		if err := q.client.Expire(ctx, lease, q.leaseTTL).Err(); err != nil {
			return false, fmt.Errorf("lease %s: %w", q.consumer, err)
		}
	}
	if err := q.client.SAdd(ctx, q.consumers, q.consumer).Err(); err != nil {
		return false, fmt.Errorf("register %s: %w", q.consumer, err)
	}
	return ok, nil
}

// Recover takes this consumer's lease, moves jobs a previous run of the same
// consumer left in its active list back to the wait list, then does the
// same for consumers whose lease expired. It returns how many jobs moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	fresh, err := q.claim(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	if fresh {
		if n, err = q.drain(ctx, q.active); err != nil {
			return n, err
		}
	}
	m, err := q.reclaimDead(ctx)
	return n + m, err
}

// Heartbeat keeps this consumer's lease and the dedup keys of its running
// jobs alive, and hands back jobs of expired consumers.
func (q *RedisQueue) Heartbeat(ctx context.Context) error {
	if _, err := q.claim(ctx); err != nil {
		return err
	}
	running, err := q.client.LRange(ctx, q.active, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}
	for _, raw := range running {
		var job Job
		if json.Unmarshal([]byte(raw), &job) != nil {
			continue
		}
		if err := q.holdDedup(ctx, job); err != nil {
			return err
		}
	}
	_, err = q.reclaimDead(ctx)
	return err
}

// HeartbeatInterval is how often Consume should call Heartbeat.
func (q *RedisQueue) HeartbeatInterval() time.Duration { return q.leaseTTL / 3 }

func (q *RedisQueue) reclaimDead(ctx context.Context) (int, error) {
	names, err := q.client.SMembers(ctx, q.consumers).Result()
	if err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}
	n := 0
	for _, name := range names {
		if name == q.consumer {
			continue
		}
		alive, err := q.client.Exists(ctx, leaseKey(q.prefix, name)).Result()
		if err != nil {
			return n, fmt.Errorf("lease %s: %w", name, err)
		}
		if alive > 0 {
			continue
		}
		moved, err := q.drain(ctx, activeKey(q.prefix, name))
		n += moved
		if err != nil {
			return n, err
		}
		if err := q.client.SRem(ctx, q.consumers, name).Err(); err != nil {
			return n, fmt.Errorf("unregister %s: %w", name, err)
		}
	}
	return n, nil
}

func (q *RedisQueue) drain(ctx context.Context, list string) (int, error) {
	n := 0
	for {
		err := q.client.RPopLPush(ctx, list, q.wait).Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", list, err)
		}
		n++
	}
}

// release drops the lease so interrupted jobs are reclaimed by the next
// consumer without waiting for expiry.
func (q *RedisQueue) release(ctx context.Context) {
	lease := leaseKey(q.prefix, q.consumer)
	if holder, err := q.client.Get(ctx, lease).Result(); err == nil && holder == q.instance {
		q.client.Del(ctx, lease)
	}
	if n, err := q.client.LLen(ctx, q.active).Result(); err == nil && n == 0 {
		q.client.SRem(ctx, q.consumers, q.consumer)
	}
}

// Len returns the number of waiting jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.wait).Result()
}

func (q *RedisQueue) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	q.release(ctx)
	cancel()
	if q.owned {
		return q.client.Close()
	}
	return nil
}
