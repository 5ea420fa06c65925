package service

import (
	"context"
	"log/slog"

	"willvault/internal/will/models"
	dErrors "willvault/pkg/domain-errors"
	audit "willvault/pkg/platform/audit"
	"willvault/pkg/requestcontext"
)

// auditEmitter turns will events into audit events. Every mutation gets its
// own auditBatch: events are staged while the mutation runs and published
// after it committed. Compliance events are fail-closed at staging: if they
// cannot be staged the mutation is aborted.
type auditEmitter struct {
	logger    *slog.Logger
	publisher AuditPublisher
}

func newAuditEmitter(logger *slog.Logger, publisher AuditPublisher) *auditEmitter {
	return &auditEmitter{logger: logger, publisher: publisher}
}

func (e *auditEmitter) batch() *auditBatch {
	return &auditBatch{emitter: e}
}

// auditBatch collects the events of one mutation.
type auditBatch struct {
	emitter *auditEmitter
	staged  []audit.Staged
}

func (b *auditBatch) willCreated(ctx context.Context, ev models.WillCreated) error {
	return b.stage(ctx, audit.EventWillCreated, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.Owner,
	})
}

func (b *auditBatch) assetRegistered(ctx context.Context, ev models.AssetRegistered) error {
	return b.stage(ctx, audit.EventAssetRegistered, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.Owner,
		AssetID: ev.Asset.ID.String(),
		Amount:  ev.Asset.Value,
	})
}

func (b *auditBatch) beneficiaryAdded(ctx context.Context, ev models.BeneficiaryAdded) error {
	return b.stage(ctx, audit.EventBeneficiaryAdded, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.Owner,
		Subject: ev.Beneficiary.Address.String(),
		Share:   ev.Beneficiary.SharePercentage,
	})
}

func (b *auditBatch) beneficiaryShareUpdated(ctx context.Context, ev models.BeneficiaryShareUpdated) error {
	return b.stage(ctx, audit.EventBeneficiaryShareUpdated, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.Owner,
		Subject: ev.Address.String(),
		Share:   ev.NewShare,
	})
}

func (b *auditBatch) keyStored(ctx context.Context, ev models.KeyStored) error {
	return b.stage(ctx, audit.EventKeyStored, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.Owner,
		AssetID: ev.AssetID.String(),
	})
}

func (b *auditBatch) willVerified(ctx context.Context, ev models.WillVerified) error {
	return b.stage(ctx, audit.EventWillVerified, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.VerifiedBy,
	})
}

func (b *auditBatch) willRevoked(ctx context.Context, ev models.WillRevoked) error {
	return b.stage(ctx, audit.EventWillRevoked, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.Owner,
	})
}

func (b *auditBatch) assetsDistributed(ctx context.Context, ev models.AssetsDistributed) error {
	return b.stage(ctx, audit.EventAssetsDistributed, audit.Event{
		WillID:  ev.WillID,
		ActorID: ev.Distribution.Beneficiary,
		Subject: ev.Distribution.Beneficiary.String(),
		Amount:  ev.Distribution.Total,
		Share:   ev.Distribution.Share,
	})
}

func (b *auditBatch) stage(ctx context.Context, action audit.AuditEvent, event audit.Event) error {
	event.Action = string(action)
	event.Category = action.Category()
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	event.UserAgent = requestcontext.UserAgent(ctx)

	e := b.emitter
	if e.publisher == nil {
		b.staged = append(b.staged, audit.Staged{Event: event})
		return nil
	}
	staged, err := e.publisher.Stage(ctx, event)
	if err != nil {
		if event.Category == audit.CategoryCompliance {
			e.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"will_id", event.WillID.String(),
				"error", err,
			)
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
		}
		e.logger.WarnContext(ctx, "audit staging failed",
			"action", event.Action,
			"will_id", event.WillID.String(),
			"error", err,
		)
		return nil
	}
	b.staged = append(b.staged, staged)
	return nil
}

// publish logs and delivers the staged events. Call it only after the
// mutation committed; the mutation cannot be undone anymore, so failures
// are logged.
func (b *auditBatch) publish(ctx context.Context) {
	if len(b.staged) == 0 {
		return
	}
	e := b.emitter
	compliance := false
	for _, s := range b.staged {
		e.logger.InfoContext(ctx, s.Event.Action,
			"event", s.Event.Action,
			"log_type", "audit",
			"will_id", s.Event.WillID.String(),
			"actor_id", s.Event.ActorID.String(),
			"request_id", s.Event.RequestID,
		)
		if s.Event.Category == audit.CategoryCompliance && !s.Persisted {
			compliance = true
		}
	}
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, b.staged); err != nil {
		if compliance {
			e.logger.ErrorContext(ctx, "CRITICAL: committed compliance event not recorded",
				"will_id", b.staged[0].Event.WillID.String(),
				"request_id", b.staged[0].Event.RequestID,
				"error", err,
			)
			return
		}
		e.logger.WarnContext(ctx, "audit publish failed",
			"will_id", b.staged[0].Event.WillID.String(),
			"error", err,
		)
	}
}
