package handler

import (
	"strings"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

// maxKeyBytes bounds a stored key blob after base64 decoding.
const maxKeyBytes = 64 << 10

// RegisterAssetRequest is the body of POST /wills/{willID}/assets.
type RegisterAssetRequest struct {
	Amount *uint64 `json:"amount"`
}

func (r *RegisterAssetRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Amount == nil {
		return dErrors.New(dErrors.CodeValidation, "amount is required")
	}
	return nil
}

// AddBeneficiaryRequest is the body of POST /wills/{willID}/beneficiaries.
// Share range checks belong to the will; only presence is checked here.
type AddBeneficiaryRequest struct {
	Address         string  `json:"address"`
	SharePercentage *uint64 `json:"share_percentage"`
	Name            string  `json:"name"`

	parsedAddress id.Address
}

func (r *AddBeneficiaryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Name) > 256 {
		return dErrors.New(dErrors.CodeValidation, "name must be at most 256 characters")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.SharePercentage == nil {
		return dErrors.New(dErrors.CodeValidation, "share_percentage is required")
	}
	addr, err := id.ParseAddress(strings.TrimSpace(r.Address))
	if err != nil {
		return err
	}
	r.parsedAddress = addr
	return nil
}

func (r *AddBeneficiaryRequest) ParsedAddress() id.Address {
	return r.parsedAddress
}

// UpdateShareRequest is the body of PUT /wills/{willID}/beneficiaries/{address}.
type UpdateShareRequest struct {
	SharePercentage *uint64 `json:"share_percentage"`
}

func (r *UpdateShareRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.SharePercentage == nil {
		return dErrors.New(dErrors.CodeValidation, "share_percentage is required")
	}
	return nil
}

// StoreKeyRequest is the body of PUT /wills/{willID}/keys/{assetID}.
// EncryptedData travels as standard base64.
type StoreKeyRequest struct {
	EncryptedData []byte `json:"encrypted_data"`
}

func (r *StoreKeyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.EncryptedData) == 0 {
		return dErrors.New(dErrors.CodeValidation, "encrypted_data is required")
	}
	if len(r.EncryptedData) > maxKeyBytes {
		return dErrors.New(dErrors.CodeValidation, "encrypted_data is too large")
	}
	return nil
}
