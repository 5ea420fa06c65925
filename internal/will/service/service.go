// Package service orchestrates the will lifecycle.
//
// Every mutation runs inside Store.Execute, which serializes writers per will
// and commits the callback's changes only when it returns nil. Inside the
// callback the order is always: domain checks, state change, staged audit
// event, ledger side effect. The ledger goes last because it is the one step
// that may not roll back with the store. Staged events are published only
// once the mutation committed, so a refused or failed call emits nothing.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	willmetrics "willvault/internal/will/metrics"
	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	audit "willvault/pkg/platform/audit"
)

// Store persists wills.
type Store interface {
	Create(ctx context.Context, will *models.Will) error
	FindByID(ctx context.Context, willID id.WillID) (*models.Will, error)
	ListByParticipant(ctx context.Context, addr id.Address) ([]*models.Will, error)
	// Execute loads the will under an exclusive per-will lock, passes a copy
	// to fn and persists the copy only if fn returns nil.
	Execute(ctx context.Context, willID id.WillID, fn func(ctx context.Context, will *models.Will) error) (*models.Will, error)
}

// Ledger is the account substrate that holds value outside custody.
type Ledger interface {
	// Escrow moves amount from the owner's account into custody and returns
	// the deposit object that now holds it.
	Escrow(ctx context.Context, from id.Address, amount uint64) (models.Deposit, error)
	// Refund returns an escrowed deposit whose registration was abandoned.
	Refund(ctx context.Context, to id.Address, deposit models.Deposit) error
	// Transfer pays amount out of custody to an account.
	Transfer(ctx context.Context, to id.Address, amount uint64) error
}

// AuditPublisher records will events in two steps. Stage runs inside the
// mutation and may persist the event in the mutation's transaction; Publish
// runs only after the mutation committed and makes the events visible to
// sinks.
type AuditPublisher interface {
	Stage(ctx context.Context, event audit.Event) (audit.Staged, error)
	Publish(ctx context.Context, staged []audit.Staged) error
}

type AuditReader interface {
	ListByWill(ctx context.Context, willID id.WillID) ([]audit.Event, error)
}

// Locker serializes mutations of one will across service instances.
type Locker interface {
	Acquire(ctx context.Context, willID id.WillID) (release func(context.Context) error, err error)
}

// TxRunner opens a store transaction around fn.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service orchestrates will creation, mutation and queries.
type Service struct {
	store       Store
	ledger      Ledger
	tx          TxRunner
	locker      Locker
	auditReader AuditReader
	audit       *auditEmitter
	metrics     *willmetrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	newID       func() id.WillID
}

type serviceConfig struct {
	logger         *slog.Logger
	auditPublisher AuditPublisher
	auditReader    AuditReader
	metrics        *willmetrics.Metrics
	tracer         trace.Tracer
	locker         Locker
	tx             TxRunner
	newID          func() id.WillID
}

type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(c *serviceConfig) {
		c.auditPublisher = publisher
	}
}

// WithAuditReader enables the per-will audit trail query.
func WithAuditReader(reader AuditReader) Option {
	return func(c *serviceConfig) {
		c.auditReader = reader
	}
}

func WithMetrics(m *willmetrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *serviceConfig) {
		c.tracer = tracer
	}
}

// WithLocker adds a distributed per-will lock around every mutation.
func WithLocker(locker Locker) Option {
	return func(c *serviceConfig) {
		c.locker = locker
	}
}

// WithTx wraps will creation and its audit event in one transaction.
func WithTx(tx TxRunner) Option {
	return func(c *serviceConfig) {
		c.tx = tx
	}
}

// WithIDGenerator overrides will id allocation.
func WithIDGenerator(fn func() id.WillID) Option {
	return func(c *serviceConfig) {
		c.newID = fn
	}
}

func New(store Store, ledger Ledger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("will store is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.tracer
	if tracer == nil {
		tracer = otel.Tracer("willvault/internal/will/service")
	}
	tx := cfg.tx
	if tx == nil {
		tx = passthroughTx{}
	}
	newID := cfg.newID
	if newID == nil {
		newID = func() id.WillID { return id.WillID(uuid.New()) }
	}
	return &Service{
		store:       store,
		ledger:      ledger,
		tx:          tx,
		locker:      cfg.locker,
		auditReader: cfg.auditReader,
		audit:       newAuditEmitter(logger, cfg.auditPublisher),
		metrics:     cfg.metrics,
		tracer:      tracer,
		logger:      logger,
		newID:       newID,
	}, nil
}

// passthroughTx is used with the in-memory store, whose writes are
// immediately visible and need no transaction.
type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
