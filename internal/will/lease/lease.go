// Package lease provides a Redis-backed exclusive lease per will so that
// mutations are serialized across service instances, not just within one
// process.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

const (
	leaseKeyPrefix = "will:lease:"

	defaultTTL        = 10 * time.Second
	defaultWait       = 3 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that another instance re-acquired is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLeaseLost is returned by release when the lease expired before it was
// released.
var ErrLeaseLost = errors.New("will lease lost before release")

// RedisLocker hands out per-will leases with SET NX PX.
type RedisLocker struct {
	client     redis.Cmdable
	ttl        time.Duration
	wait       time.Duration
	retryDelay time.Duration
	waitTime   prometheus.Histogram
}

type Option func(*RedisLocker)

// WithTTL bounds how long a crashed holder can block a will.
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithWait bounds how long Acquire polls for a held lease.
func WithWait(wait time.Duration) Option {
	return func(l *RedisLocker) {
		if wait > 0 {
			l.wait = wait
		}
	}
}

// WithMetrics registers the acquire wait histogram with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(l *RedisLocker) {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "willvault_will_lease_wait_ms",
			Help:    "Time spent waiting for a will lease in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		})
		if err := reg.Register(h); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				h = already.ExistingCollector.(prometheus.Histogram)
			}
		}
		l.waitTime = h
	}
}

func NewRedisLocker(client redis.Cmdable, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client:     client,
		ttl:        defaultTTL,
		wait:       defaultWait,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Acquire polls until the lease for willID is free or the wait elapses.
// The returned release func must be called exactly once.
func (l *RedisLocker) Acquire(ctx context.Context, willID id.WillID) (func(context.Context) error, error) {
	start := time.Now()
	key := leaseKeyPrefix + willID.String()
	token := uuid.NewString()
	deadline := start.Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire will lease")
		}
		if ok {
			l.observeWait(start)
			return func(releaseCtx context.Context) error {
				n, err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Int()
				if err != nil {
					return err
				}
				if n == 0 {
					return ErrLeaseLost
				}
				return nil
			}, nil
		}
		if time.Now().After(deadline) {
			l.observeWait(start)
			return nil, dErrors.New(dErrors.CodeTimeout, "will is busy, retry later")
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "will lease wait cancelled")
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) observeWait(start time.Time) {
	if l.waitTime != nil {
		l.waitTime.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}
}
