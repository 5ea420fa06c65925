package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the ledger and other
// adapters return these (optionally wrapped) so services can translate them
// into domain error codes.
//
//   - ErrNotFound: the record does not exist in the store
//   - ErrConflict: a record with the same identity already exists
//   - ErrInvalidState: the record is in the wrong state for the mutation
//   - ErrInsufficientFunds: an account cannot cover a transfer
//   - ErrUnavailable: a backing service is temporarily unavailable
//
// Validation failures (bad input, missing fields) use pkg/domain-errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnavailable       = errors.New("unavailable")
)
