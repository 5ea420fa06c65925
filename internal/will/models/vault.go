package models

import (
	"time"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

// EncryptedKeyRecord is opaque key material for one asset.
//
// AccessGranted is read by AccessKey but never set by any operation, so a
// verified beneficiary can read the same key repeatedly.
type EncryptedKeyRecord struct {
	AssetID       id.AssetID `json:"asset_id"`
	EncryptedData []byte     `json:"encrypted_data"`
	AccessGranted bool       `json:"access_granted"`
}

// KeyVault maps asset ids to their key record.
type KeyVault map[id.AssetID]EncryptedKeyRecord

func (v KeyVault) clone() KeyVault {
	out := make(KeyVault, len(v))
	for k, rec := range v {
		rec.EncryptedData = append([]byte(nil), rec.EncryptedData...)
		out[k] = rec
	}
	return out
}

// StoreKey attaches encrypted key material to a registered asset. Checks in
// order: owner, active, asset registered, no key stored yet. A second store
// for the same asset is a conflict, never an overwrite.
func (w *Will) StoreKey(caller id.Address, assetID id.AssetID, data []byte, now time.Time) error {
	if err := w.requireOwnerActive(caller); err != nil {
		return err
	}
	if !w.Custody.Has(assetID) {
		return dErrors.New(dErrors.CodeAssetNotFound, "asset not registered")
	}
	if _, exists := w.Keys[assetID]; exists {
		return dErrors.New(dErrors.CodeConflict, "key already stored for asset")
	}
	w.Keys[assetID] = EncryptedKeyRecord{
		AssetID:       assetID,
		EncryptedData: append([]byte(nil), data...),
	}
	w.UpdatedAt = now
	return nil
}

// AccessKey releases key material to a beneficiary. Checks in order:
// verified, key exists, caller is a beneficiary, access not yet granted.
func (w *Will) AccessKey(caller id.Address, assetID id.AssetID) ([]byte, error) {
	if !w.Verification.IsVerified() {
		return nil, dErrors.New(dErrors.CodeNotVerified, "will is not verified")
	}
	rec, ok := w.Keys[assetID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeAssetNotFound, "no key stored for asset")
	}
	if !w.IsBeneficiary(caller) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is not a beneficiary")
	}
	if rec.AccessGranted {
		return nil, dErrors.New(dErrors.CodeNotVerified, "key access already granted")
	}
	return append([]byte(nil), rec.EncryptedData...), nil
}

// EncryptedKeysFor lists asset ids with a stored key, in registration order.
// The owner may always list; anyone may list once the will is verified.
func (w *Will) EncryptedKeysFor(caller id.Address) ([]id.AssetID, error) {
	if !w.IsOwner(caller) && !w.Verification.IsVerified() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller may not list keys before verification")
	}
	out := make([]id.AssetID, 0, len(w.Keys))
	for _, assetID := range w.Custody.Order {
		if _, ok := w.Keys[assetID]; ok {
			out = append(out, assetID)
		}
	}
	return out, nil
}
