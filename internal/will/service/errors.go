package service

import (
	"context"
	"errors"

	dErrors "willvault/pkg/domain-errors"
	"willvault/pkg/platform/sentinel"
)

// wrapWillErr translates store failures into domain errors. Coded errors
// raised by the will itself pass through unchanged.
func wrapWillErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.CodeOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "will not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "will already exists")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "will operation timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "will store failure")
}

func wrapLedgerErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.CodeOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrInsufficientFunds):
		return dErrors.New(dErrors.CodeInsufficientBalance, "account balance too low")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "ledger call timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "ledger failure")
}
