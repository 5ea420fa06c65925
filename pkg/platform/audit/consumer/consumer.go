// Package consumer materializes audit events from the Kafka topic into an
// audit store. Running it on a second instance gives that instance a
// queryable audit trail without sharing the producer's database.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "willvault/pkg/platform/audit"
)

// Fetcher is the subset of *kgo.Client the consumer uses. The client must be
// built with kgo.ConsumerGroup, kgo.ConsumeTopics and kgo.DisableAutoCommit.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
}

type Consumer struct {
	client Fetcher
	store  audit.Store
	logger *slog.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

type Option func(*Consumer)

// WithRetryInterval sets the first and the largest wait between attempts to
// store a record.
func WithRetryInterval(initial, max time.Duration) Option {
	return func(c *Consumer) {
		if initial > 0 {
			c.retryInitial = initial
		}
		if max >= c.retryInitial {
			c.retryMax = max
		}
	}
}

func New(client Fetcher, store audit.Store, logger *slog.Logger, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		client:       client,
		store:        store,
		logger:       logger,
		retryInitial: 500 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled or the client is closed. Offsets are
// committed only after every record of a fetch was stored. A record the
// store rejects is retried with exponential backoff until it is stored or
// ctx ends, so partition order is kept and nothing is skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "audit fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			handleErr = c.handleWithRetry(ctx, r)
		})
		if handleErr != nil {
			// only ctx ends a retry; uncommitted records are redelivered and
			// Append is idempotent
			return handleErr
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.WarnContext(ctx, "audit offset commit failed", "error", err)
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, r *kgo.Record) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	policy.MaxInterval = c.retryMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.Handle(ctx, r)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnContext(ctx, "audit store append failed, retrying",
				"key", string(r.Key),
				"partition", r.Partition,
				"offset", r.Offset,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	return err
}

// Handle decodes and stores a single record. Malformed records are logged
// and skipped so they do not block the partition.
func (c *Consumer) Handle(ctx context.Context, r *kgo.Record) error {
	var event audit.Event
	if err := json.Unmarshal(r.Value, &event); err != nil {
		c.logger.ErrorContext(ctx, "malformed audit record, skipping",
			"key", string(r.Key),
			"offset", r.Offset,
			"error", err,
		)
		return nil
	}
	if event.ID == uuid.Nil || event.Action == "" {
		c.logger.ErrorContext(ctx, "incomplete audit record, skipping",
			"key", string(r.Key),
			"offset", r.Offset,
		)
		return nil
	}
	if err := c.store.Append(ctx, event); err != nil {
		return fmt.Errorf("materialize audit event %s: %w", event.ID, err)
	}
	return nil
}
