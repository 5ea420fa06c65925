package service

import (
	"context"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
	audit "willvault/pkg/platform/audit"
	"willvault/pkg/requestcontext"
)

// CreateWill allocates an active will owned by owner.
func (s *Service) CreateWill(ctx context.Context, owner id.Address) (_ *models.Will, err error) {
	ctx, finish := s.observe(ctx, "create_will", id.WillID{})
	defer func() { finish(err) }()

	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}

	var will *models.Will
	events := s.audit.batch()
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		w, err := models.NewWill(s.newID(), owner, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		if err := s.store.Create(txCtx, w); err != nil {
			return wrapWillErr(err)
		}
		if err := events.willCreated(txCtx, models.WillCreated{WillID: w.ID, Owner: owner}); err != nil {
			return err
		}
		will = w
		return nil
	})
	if err != nil {
		return nil, wrapWillErr(err)
	}
	events.publish(context.WithoutCancel(ctx))

	if s.metrics != nil {
		s.metrics.IncrementWillCreated()
	}
	return will, nil
}

// RegisterAsset escrows amount from the owner's ledger account and records
// the deposit as a new custodial asset.
func (s *Service) RegisterAsset(ctx context.Context, willID id.WillID, caller id.Address, amount uint64) (_ models.Asset, err error) {
	ctx, finish := s.observe(ctx, "register_asset", willID)
	defer func() { finish(err) }()

	var (
		asset   models.Asset
		deposit *models.Deposit
	)
	_, err = s.execute(ctx, willID, func(txCtx context.Context, w *models.Will, events *auditBatch) error {
		if err := w.CanRegisterAsset(caller); err != nil {
			return err
		}
		d, err := s.ledger.Escrow(txCtx, caller, amount)
		if err != nil {
			return wrapLedgerErr(err)
		}
		deposit = &d
		asset, err = w.ApplyAssetRegistration(d, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		return events.assetRegistered(txCtx, models.AssetRegistered{WillID: w.ID, Owner: caller, Asset: asset})
	})
	if err != nil {
		if deposit != nil {
			s.refund(ctx, willID, caller, *deposit)
		}
		return models.Asset{}, err
	}
	return asset, nil
}

func (s *Service) refund(ctx context.Context, willID id.WillID, owner id.Address, deposit models.Deposit) {
	if err := s.ledger.Refund(context.WithoutCancel(ctx), owner, deposit); err != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: escrow refund failed, manual reconciliation required",
			"will_id", willID.String(),
			"owner", owner.String(),
			"object_id", deposit.ObjectID,
			"value", deposit.Value,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (s *Service) AddBeneficiary(ctx context.Context, willID id.WillID, caller, addr id.Address, share uint64, name string) (_ *models.Will, err error) {
	ctx, finish := s.observe(ctx, "add_beneficiary", willID)
	defer func() { finish(err) }()

	return s.execute(ctx, willID, func(txCtx context.Context, w *models.Will, events *auditBatch) error {
		if err := w.AddBeneficiary(caller, addr, share, name, requestcontext.Now(txCtx)); err != nil {
			return err
		}
		return events.beneficiaryAdded(txCtx, models.BeneficiaryAdded{
			WillID:      w.ID,
			Owner:       caller,
			Beneficiary: w.Beneficiaries[len(w.Beneficiaries)-1],
		})
	})
}

func (s *Service) UpdateBeneficiaryShare(ctx context.Context, willID id.WillID, caller, addr id.Address, share uint64) (_ *models.Will, err error) {
	ctx, finish := s.observe(ctx, "update_beneficiary_share", willID)
	defer func() { finish(err) }()

	return s.execute(ctx, willID, func(txCtx context.Context, w *models.Will, events *auditBatch) error {
		old, err := w.UpdateBeneficiaryShare(caller, addr, share, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		return events.beneficiaryShareUpdated(txCtx, models.BeneficiaryShareUpdated{
			WillID:   w.ID,
			Owner:    caller,
			Address:  addr,
			OldShare: old,
			NewShare: uint8(share),
		})
	})
}

func (s *Service) StoreKey(ctx context.Context, willID id.WillID, caller id.Address, assetID id.AssetID, encrypted []byte) (err error) {
	ctx, finish := s.observe(ctx, "store_key", willID)
	defer func() { finish(err) }()

	_, err = s.execute(ctx, willID, func(txCtx context.Context, w *models.Will, events *auditBatch) error {
		if err := w.StoreKey(caller, assetID, encrypted, requestcontext.Now(txCtx)); err != nil {
			return err
		}
		return events.keyStored(txCtx, models.KeyStored{WillID: w.ID, Owner: caller, AssetID: assetID})
	})
	return err
}

// VerifyWill records the attestation. capability is nil when the caller
// presented no valid admin credential.
func (s *Service) VerifyWill(ctx context.Context, willID id.WillID, caller id.Address, capability *models.AdminCapability) (_ models.Verification, err error) {
	ctx, finish := s.observe(ctx, "verify_will", willID)
	defer func() { finish(err) }()

	will, err := s.execute(ctx, willID, func(txCtx context.Context, w *models.Will, events *auditBatch) error {
		if err := w.Verify(caller, capability, requestcontext.Now(txCtx)); err != nil {
			return err
		}
		return events.willVerified(txCtx, models.WillVerified{WillID: w.ID, VerifiedBy: caller})
	})
	if err != nil {
		return models.Verification{}, err
	}
	return will.Verification, nil
}

// AccessKey returns the encrypted key for an asset to a beneficiary.
func (s *Service) AccessKey(ctx context.Context, willID id.WillID, caller id.Address, assetID id.AssetID) (_ []byte, err error) {
	ctx, finish := s.observe(ctx, "access_key", willID)
	defer func() { finish(err) }()

	will, err := s.load(ctx, willID)
	if err != nil {
		return nil, err
	}
	data, err := will.AccessKey(caller, assetID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementKeyReleased()
	}
	return data, nil
}

// DistributeAssets pays the caller's share of every asset and closes the
// will for all beneficiaries.
func (s *Service) DistributeAssets(ctx context.Context, willID id.WillID, caller id.Address) (_ *models.Distribution, err error) {
	ctx, finish := s.observe(ctx, "distribute_assets", willID)
	defer func() { finish(err) }()

	var dist *models.Distribution
	_, err = s.execute(ctx, willID, func(txCtx context.Context, w *models.Will, events *auditBatch) error {
		d, err := w.PlanDistribution(caller)
		if err != nil {
			return err
		}
		w.ApplyDistribution(d, requestcontext.Now(txCtx))
		if err := events.assetsDistributed(txCtx, models.AssetsDistributed{WillID: w.ID, Distribution: *d}); err != nil {
			return err
		}
		if d.Total > 0 {
			if err := s.ledger.Transfer(txCtx, caller, d.Total); err != nil {
				return wrapLedgerErr(err)
			}
		}
		dist = d
		return nil
	})
	if err != nil {
		if dist != nil {
			s.logger.ErrorContext(ctx, "CRITICAL: payout transferred but will update failed",
				"will_id", willID.String(),
				"beneficiary", caller.String(),
				"amount", dist.Total,
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.AddDistributed(dist.Total)
	}
	return dist, nil
}

func (s *Service) RevokeWill(ctx context.Context, willID id.WillID, caller id.Address) (err error) {
	ctx, finish := s.observe(ctx, "revoke_will", willID)
	defer func() { finish(err) }()

	_, err = s.execute(ctx, willID, func(txCtx context.Context, w *models.Will, events *auditBatch) error {
		if err := w.Revoke(caller, requestcontext.Now(txCtx)); err != nil {
			return err
		}
		return events.willRevoked(txCtx, models.WillRevoked{WillID: w.ID, Owner: caller})
	})
	return err
}

func (s *Service) GetAssets(ctx context.Context, willID id.WillID, caller id.Address) ([]models.Asset, error) {
	will, err := s.load(ctx, willID)
	if err != nil {
		return nil, err
	}
	return will.AssetsFor(caller)
}

func (s *Service) GetBeneficiaries(ctx context.Context, willID id.WillID, caller id.Address) ([]models.Beneficiary, error) {
	will, err := s.load(ctx, willID)
	if err != nil {
		return nil, err
	}
	return will.BeneficiariesFor(caller)
}

func (s *Service) GetWillDetails(ctx context.Context, willID id.WillID, caller id.Address) (models.Details, error) {
	will, err := s.load(ctx, willID)
	if err != nil {
		return models.Details{}, err
	}
	return will.DetailsFor(caller)
}

// GetEncryptedKeys lists asset ids that have a stored key.
func (s *Service) GetEncryptedKeys(ctx context.Context, willID id.WillID, caller id.Address) ([]id.AssetID, error) {
	will, err := s.load(ctx, willID)
	if err != nil {
		return nil, err
	}
	return will.EncryptedKeysFor(caller)
}

// ListWills returns the wills the caller owns or is named in.
func (s *Service) ListWills(ctx context.Context, caller id.Address) ([]*models.Will, error) {
	if caller.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	wills, err := s.store.ListByParticipant(ctx, caller)
	if err != nil {
		return nil, wrapWillErr(err)
	}
	return wills, nil
}

// AuditTrail returns the recorded events of a will to its owner or a
// beneficiary.
func (s *Service) AuditTrail(ctx context.Context, willID id.WillID, caller id.Address) ([]audit.Event, error) {
	if s.auditReader == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "audit trail not available")
	}
	will, err := s.load(ctx, willID)
	if err != nil {
		return nil, err
	}
	if err := will.CanRead(caller); err != nil {
		return nil, err
	}
	events, err := s.auditReader.ListByWill(ctx, willID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit trail")
	}
	return events, nil
}

func (s *Service) load(ctx context.Context, willID id.WillID) (*models.Will, error) {
	if willID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "will id required")
	}
	will, err := s.store.FindByID(ctx, willID)
	if err != nil {
		return nil, wrapWillErr(err)
	}
	return will, nil
}

// execute runs fn under the per-will lock: the distributed lease when a
// Locker is configured, then the store's own lock. Events staged by fn are
// published only when the store committed.
func (s *Service) execute(ctx context.Context, willID id.WillID, fn func(ctx context.Context, w *models.Will, events *auditBatch) error) (*models.Will, error) {
	if willID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "will id required")
	}
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, willID)
		if err != nil {
			return nil, wrapWillErr(err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "will lease release failed",
					"will_id", willID.String(),
					"error", err,
				)
			}
		}()
	}
	events := s.audit.batch()
	will, err := s.store.Execute(ctx, willID, func(txCtx context.Context, w *models.Will) error {
		events.staged = events.staged[:0]
		return fn(txCtx, w, events)
	})
	if err != nil {
		return nil, wrapWillErr(err)
	}
	events.publish(context.WithoutCancel(ctx))
	return will, nil
}
