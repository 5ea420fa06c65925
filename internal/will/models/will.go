package models

import (
	"time"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

// Status is the will lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// CanTransitionTo reports whether the lifecycle allows moving to next.
// The only transition is active -> inactive; there is no un-revoke.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusActive && next == StatusInactive
}

// Will is the aggregate root of a digital estate.
//
// Invariants:
//   - Owner is immutable after construction
//   - Sum of beneficiary shares never exceeds 100
//   - Every stored key belongs to a registered asset
//   - Status never returns to active once inactive
//   - Verification is set at most once and never cleared
//
// Every mutating method checks all of its preconditions before touching any
// field, so a returned error always means the will is unchanged.
type Will struct {
	ID            id.WillID    `json:"id"`
	Owner         id.Address   `json:"owner"`
	Status        Status       `json:"status"`
	Beneficiaries ShareLedger  `json:"beneficiaries"`
	Custody       AssetCustody `json:"custody"`
	Keys          KeyVault     `json:"keys"`
	Verification  Verification `json:"verification"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func NewWill(willID id.WillID, owner id.Address, now time.Time) (*Will, error) {
	if willID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "will id cannot be nil")
	}
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "owner cannot be empty")
	}
	return &Will{
		ID:            willID,
		Owner:         owner,
		Status:        StatusActive,
		Beneficiaries: ShareLedger{},
		Custody:       NewAssetCustody(),
		Keys:          KeyVault{},
		Verification:  Unverified(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (w *Will) IsActive() bool {
	return w.Status == StatusActive
}

func (w *Will) IsOwner(caller id.Address) bool {
	return caller == w.Owner
}

func (w *Will) IsBeneficiary(caller id.Address) bool {
	_, ok := w.Beneficiaries.Find(caller)
	return ok
}

// requireOwnerActive is the precondition of every owner mutation.
func (w *Will) requireOwnerActive(caller id.Address) error {
	if !w.IsOwner(caller) {
		return dErrors.New(dErrors.CodeNotOwner, "caller is not the will owner")
	}
	if !w.IsActive() {
		return dErrors.New(dErrors.CodeWillInactive, "will is inactive")
	}
	return nil
}

// CanRead authorizes the owner-or-beneficiary read queries.
func (w *Will) CanRead(caller id.Address) error {
	if w.IsOwner(caller) || w.IsBeneficiary(caller) {
		return nil
	}
	return dErrors.New(dErrors.CodeUnauthorized, "caller is neither owner nor beneficiary")
}

func (w *Will) deactivate(now time.Time) {
	w.Status = StatusInactive
	w.UpdatedAt = now
}

// Revoke lets the owner close an active will.
func (w *Will) Revoke(caller id.Address, now time.Time) error {
	if err := w.requireOwnerActive(caller); err != nil {
		return err
	}
	w.deactivate(now)
	return nil
}

// Details is the summary returned by GetWillDetails.
type Details struct {
	Owner        id.Address   `json:"owner"`
	IsActive     bool         `json:"is_active"`
	TotalShares  uint64       `json:"total_shares"`
	Verification Verification `json:"verification"`
}

func (w *Will) DetailsFor(caller id.Address) (Details, error) {
	if err := w.CanRead(caller); err != nil {
		return Details{}, err
	}
	return Details{
		Owner:        w.Owner,
		IsActive:     w.IsActive(),
		TotalShares:  w.Beneficiaries.Total(),
		Verification: w.Verification,
	}, nil
}

func (w *Will) AssetsFor(caller id.Address) ([]Asset, error) {
	if err := w.CanRead(caller); err != nil {
		return nil, err
	}
	return w.Custody.Snapshot(), nil
}

func (w *Will) BeneficiariesFor(caller id.Address) ([]Beneficiary, error) {
	if err := w.CanRead(caller); err != nil {
		return nil, err
	}
	return append([]Beneficiary{}, w.Beneficiaries...), nil
}

// Participants lists the owner followed by each distinct beneficiary.
func (w *Will) Participants() []id.Address {
	out := []id.Address{w.Owner}
	seen := map[id.Address]struct{}{w.Owner: {}}
	for _, b := range w.Beneficiaries {
		if _, ok := seen[b.Address]; ok {
			continue
		}
		seen[b.Address] = struct{}{}
		out = append(out, b.Address)
	}
	return out
}

// Clone returns a deep copy. Stores hand clones to mutation callbacks so a
// failed callback leaves the stored will untouched.
func (w *Will) Clone() *Will {
	if w == nil {
		return nil
	}
	c := *w
	c.Beneficiaries = append(ShareLedger{}, w.Beneficiaries...)
	c.Custody = w.Custody.clone()
	c.Keys = w.Keys.clone()
	if w.Verification.record != nil {
		rec := *w.Verification.record
		c.Verification = Verification{record: &rec}
	}
	return &c
}
