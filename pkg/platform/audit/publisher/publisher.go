// Package publisher persists audit events and fans them out to sinks.
//
// Events of a mutation go through Stage while the mutation runs and Publish
// after it committed. With WithOutbox, Stage writes the event in the
// transaction carried by the context, so the store row commits or rolls back
// with the mutation; Publish then only forwards it to sinks. Without an
// outbox the store write happens at Publish.
//
// In sync mode Publish returns only after the store accepted the events. With
// WithAsyncBuffer events are queued and written by a background worker; Close
// drains the queue.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	id "willvault/pkg/domain"
	audit "willvault/pkg/platform/audit"
	"willvault/pkg/platform/audit/worker"
	txcontext "willvault/pkg/platform/tx"
)

var (
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
)

type Publisher struct {
	store  audit.Store
	sinks  []audit.Sink
	logger *slog.Logger
	outbox bool

	bufferSize int
	mu         sync.RWMutex
	closed     bool
	queue      chan audit.Staged
	done       chan struct{}
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a queue of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

// WithSink adds a transport that receives every persisted event.
func WithSink(sink audit.Sink) Option {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sink)
	}
}

// WithOutbox makes Stage write events inside the caller's transaction. Use
// it only with a store whose Append joins the transaction in the context.
func WithOutbox() Option {
	return func(p *Publisher) {
		p.outbox = true
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.queue = make(chan audit.Staged, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(p.deliver, p.queue, p.logger)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit stages and publishes a single event outside any mutation.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	return p.Publish(ctx, []audit.Staged{{Event: prepare(event)}})
}

// Stage prepares an event inside a mutation. With an outbox and a
// transaction in ctx the event is appended in that transaction.
func (p *Publisher) Stage(ctx context.Context, event audit.Event) (audit.Staged, error) {
	event = prepare(event)
	if !p.outbox {
		return audit.Staged{Event: event}, nil
	}
	if _, ok := txcontext.From(ctx); !ok {
		return audit.Staged{Event: event}, nil
	}
	if err := p.store.Append(ctx, event); err != nil {
		return audit.Staged{}, err
	}
	return audit.Staged{Event: event, Persisted: true}, nil
}

// Publish delivers staged events of a committed mutation in order.
func (p *Publisher) Publish(ctx context.Context, staged []audit.Staged) error {
	if p.queue == nil {
		var errs []error
		for _, s := range staged {
			if err := p.deliver(ctx, s); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	for _, s := range staged {
		select {
		case p.queue <- s:
			continue
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", s.Event.Action,
			"will_id", s.Event.WillID.String(),
		)
		return ErrBufferFull
	}
	return nil
}

// prepare fills in a missing ID, timestamp and category.
func prepare(event audit.Event) audit.Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	return event
}

// deliver persists the event unless it was written at staging, then
// forwards it to sinks. Sink failures are logged; the store is the record
// of truth.
func (p *Publisher) deliver(ctx context.Context, staged audit.Staged) error {
	event := staged.Event
	if !staged.Persisted {
		if err := p.store.Append(ctx, event); err != nil {
			return err
		}
	}
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "audit sink publish failed",
				"action", event.Action,
				"will_id", event.WillID.String(),
				"error", err,
			)
		}
	}
	return nil
}

// ListByWill returns the audit trail for a will.
func (p *Publisher) ListByWill(ctx context.Context, willID id.WillID) ([]audit.Event, error) {
	return p.store.ListByWill(ctx, willID)
}

// Close stops accepting events and waits for queued events to be written.
func (p *Publisher) Close() {
	if p.queue == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}
