package models

import (
	"time"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

// MaxShare is the cap on a single share and on the ledger total.
const MaxShare = 100

// Beneficiary is entitled to SharePercentage of every asset at distribution.
type Beneficiary struct {
	Address         id.Address `json:"address"`
	SharePercentage uint8      `json:"share_percentage"`
	Name            string     `json:"name"`
}

// ShareLedger is the ordered beneficiary list. Duplicate addresses are
// accepted; lookups and updates always resolve to the first match.
type ShareLedger []Beneficiary

// Total sums every share, duplicates included.
func (l ShareLedger) Total() uint64 {
	var total uint64
	for _, b := range l {
		total += uint64(b.SharePercentage)
	}
	return total
}

// Find returns the first entry for addr.
func (l ShareLedger) Find(addr id.Address) (Beneficiary, bool) {
	if i := l.index(addr); i >= 0 {
		return l[i], true
	}
	return Beneficiary{}, false
}

func (l ShareLedger) index(addr id.Address) int {
	for i, b := range l {
		if b.Address == addr {
			return i
		}
	}
	return -1
}

func validateShare(share uint64) error {
	if share > MaxShare {
		return dErrors.New(dErrors.CodeInvalidShare, "share percentage must be between 0 and 100")
	}
	return nil
}

// AddBeneficiary appends a beneficiary. Checks in order: owner, active,
// share <= 100, resulting total <= 100.
func (w *Will) AddBeneficiary(caller, addr id.Address, share uint64, name string, now time.Time) error {
	if err := w.requireOwnerActive(caller); err != nil {
		return err
	}
	if err := validateShare(share); err != nil {
		return err
	}
	if w.Beneficiaries.Total()+share > MaxShare {
		return dErrors.New(dErrors.CodeInvalidShare, "total shares would exceed 100")
	}
	w.Beneficiaries = append(w.Beneficiaries, Beneficiary{
		Address:         addr,
		SharePercentage: uint8(share),
		Name:            name,
	})
	w.UpdatedAt = now
	return nil
}

// UpdateBeneficiaryShare replaces the share of the first entry for addr and
// returns the previous share. Checks in order: owner, active, share <= 100,
// entry exists, total - old + new <= 100.
func (w *Will) UpdateBeneficiaryShare(caller, addr id.Address, share uint64, now time.Time) (uint8, error) {
	if err := w.requireOwnerActive(caller); err != nil {
		return 0, err
	}
	if err := validateShare(share); err != nil {
		return 0, err
	}
	i := w.Beneficiaries.index(addr)
	if i < 0 {
		return 0, dErrors.New(dErrors.CodeBeneficiaryNotFound, "beneficiary not found")
	}
	old := w.Beneficiaries[i].SharePercentage
	if w.Beneficiaries.Total()-uint64(old)+share > MaxShare {
		return 0, dErrors.New(dErrors.CodeInvalidShare, "total shares would exceed 100")
	}
	w.Beneficiaries[i].SharePercentage = uint8(share)
	w.UpdatedAt = now
	return old, nil
}
