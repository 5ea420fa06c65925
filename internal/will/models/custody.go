package models

import (
	"math/bits"
	"time"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

// AssetTypeToken is the only asset kind held in custody.
const AssetTypeToken = "SUI_TOKEN"

// Asset is a registered custodial asset. Value only decreases.
type Asset struct {
	ID    id.AssetID `json:"asset_id"`
	Type  string     `json:"asset_type"`
	Value uint64     `json:"value"`
}

// Deposit is the value moved into custody by the ledger on registration.
type Deposit struct {
	ObjectID string
	Value    uint64
}

// AssetCustody holds registered assets in insertion order and the
// custodial balance kept for each.
type AssetCustody struct {
	Order    []id.AssetID          `json:"order"`
	Assets   map[id.AssetID]Asset  `json:"assets"`
	Balances map[id.AssetID]uint64 `json:"balances"`
}

func NewAssetCustody() AssetCustody {
	return AssetCustody{
		Order:    []id.AssetID{},
		Assets:   map[id.AssetID]Asset{},
		Balances: map[id.AssetID]uint64{},
	}
}

func (c AssetCustody) Has(assetID id.AssetID) bool {
	_, ok := c.Assets[assetID]
	return ok
}

// Snapshot returns the assets in registration order.
func (c AssetCustody) Snapshot() []Asset {
	out := make([]Asset, 0, len(c.Order))
	for _, assetID := range c.Order {
		out = append(out, c.Assets[assetID])
	}
	return out
}

func (c AssetCustody) clone() AssetCustody {
	out := AssetCustody{
		Order:    append([]id.AssetID{}, c.Order...),
		Assets:   make(map[id.AssetID]Asset, len(c.Assets)),
		Balances: make(map[id.AssetID]uint64, len(c.Balances)),
	}
	for k, v := range c.Assets {
		out.Assets[k] = v
	}
	for k, v := range c.Balances {
		out.Balances[k] = v
	}
	return out
}

// CanRegisterAsset checks the registration preconditions: owner, active.
// Call it before escrowing value so a refused call moves nothing.
func (w *Will) CanRegisterAsset(caller id.Address) error {
	return w.requireOwnerActive(caller)
}

// ApplyAssetRegistration records the escrowed deposit as a new asset.
// Must only be called after CanRegisterAsset returns nil.
func (w *Will) ApplyAssetRegistration(deposit Deposit, now time.Time) (Asset, error) {
	assetID := id.DeriveAssetID(deposit.ObjectID)
	if w.Custody.Has(assetID) {
		return Asset{}, dErrors.New(dErrors.CodeConflict, "asset already registered")
	}
	asset := Asset{ID: assetID, Type: AssetTypeToken, Value: deposit.Value}
	w.Custody.Assets[assetID] = asset
	w.Custody.Balances[assetID] = deposit.Value
	w.Custody.Order = append(w.Custody.Order, assetID)
	w.UpdatedAt = now
	return asset, nil
}

// Payout is the amount one asset pays out to the distributing beneficiary.
type Payout struct {
	AssetID id.AssetID `json:"asset_id"`
	Amount  uint64     `json:"amount"`
}

// Distribution is a computed, not yet applied, distribution pass.
type Distribution struct {
	Beneficiary id.Address `json:"beneficiary"`
	Share       uint8      `json:"share_percentage"`
	Payouts     []Payout   `json:"payouts"`
	Total       uint64     `json:"total"`
}

// shareOf returns floor(value * share / 100) without overflowing.
func shareOf(value uint64, share uint8) uint64 {
	hi, lo := bits.Mul64(value, uint64(share))
	q, _ := bits.Div64(hi, lo, MaxShare)
	return q
}

// PlanDistribution checks the distribution preconditions and computes what
// the caller is owed from each asset. Checks in order: verified, active,
// caller is a beneficiary, beneficiary entry found, custody covers each
// non-zero amount.
func (w *Will) PlanDistribution(caller id.Address) (*Distribution, error) {
	if !w.Verification.IsVerified() {
		return nil, dErrors.New(dErrors.CodeNotVerified, "will is not verified")
	}
	if !w.IsActive() {
		return nil, dErrors.New(dErrors.CodeWillInactive, "will is inactive")
	}
	if !w.IsBeneficiary(caller) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not a beneficiary")
	}
	b, ok := w.Beneficiaries.Find(caller)
	if !ok {
		return nil, dErrors.New(dErrors.CodeBeneficiaryNotFound, "beneficiary not found")
	}

	d := &Distribution{Beneficiary: caller, Share: b.SharePercentage, Payouts: make([]Payout, 0, len(w.Custody.Order))}
	for _, assetID := range w.Custody.Order {
		amount := shareOf(w.Custody.Assets[assetID].Value, b.SharePercentage)
		if amount > 0 && w.Custody.Balances[assetID] < amount {
			return nil, dErrors.New(dErrors.CodeInsufficientBalance, "custody balance too low for payout")
		}
		d.Payouts = append(d.Payouts, Payout{AssetID: assetID, Amount: amount})
		d.Total += amount
	}
	return d, nil
}

// ApplyDistribution decrements custody by the planned payouts and closes
// the will for every beneficiary. Must only be called with the result of
// PlanDistribution on the same will.
func (w *Will) ApplyDistribution(d *Distribution, now time.Time) {
	for _, p := range d.Payouts {
		if p.Amount == 0 {
			continue
		}
		asset := w.Custody.Assets[p.AssetID]
		asset.Value -= p.Amount
		w.Custody.Assets[p.AssetID] = asset
		w.Custody.Balances[p.AssetID] -= p.Amount
	}
	w.deactivate(now)
}
