package models

import id "willvault/pkg/domain"

// Domain events raised by successful will mutations.

type WillCreated struct {
	WillID id.WillID
	Owner  id.Address
}

type AssetRegistered struct {
	WillID id.WillID
	Owner  id.Address
	Asset  Asset
}

type BeneficiaryAdded struct {
	WillID      id.WillID
	Owner       id.Address
	Beneficiary Beneficiary
}

type BeneficiaryShareUpdated struct {
	WillID   id.WillID
	Owner    id.Address
	Address  id.Address
	OldShare uint8
	NewShare uint8
}

type KeyStored struct {
	WillID  id.WillID
	Owner   id.Address
	AssetID id.AssetID
}

type WillVerified struct {
	WillID     id.WillID
	VerifiedBy id.Address
}

type WillRevoked struct {
	WillID id.WillID
	Owner  id.Address
}

type AssetsDistributed struct {
	WillID       id.WillID
	Distribution Distribution
}
