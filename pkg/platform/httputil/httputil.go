// Package httputil renders domain errors and JSON bodies consistently across
// handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "willvault/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; encrypted key blobs are the largest payload.
const maxBodyBytes = 1 << 20

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeNotOwner:            http.StatusForbidden,
	dErrors.CodeUnauthorized:        http.StatusForbidden,
	dErrors.CodeNotAdmin:            http.StatusForbidden,
	dErrors.CodeForbidden:           http.StatusForbidden,
	dErrors.CodeWillInactive:        http.StatusConflict,
	dErrors.CodeNotVerified:         http.StatusConflict,
	dErrors.CodeAlreadyVerified:     http.StatusConflict,
	dErrors.CodeConflict:            http.StatusConflict,
	dErrors.CodeInvalidShare:        http.StatusBadRequest,
	dErrors.CodeBadRequest:          http.StatusBadRequest,
	dErrors.CodeInvalidInput:        http.StatusBadRequest,
	dErrors.CodeValidation:          http.StatusBadRequest,
	dErrors.CodeAssetNotFound:       http.StatusNotFound,
	dErrors.CodeBeneficiaryNotFound: http.StatusNotFound,
	dErrors.CodeNotFound:            http.StatusNotFound,
	dErrors.CodeInsufficientBalance: http.StatusUnprocessableEntity,
	dErrors.CodeInvariantViolation:  http.StatusUnprocessableEntity,
	dErrors.CodeTimeout:             http.StatusGatewayTimeout,
	dErrors.CodeInternal:            http.StatusInternalServerError,
}

// StatusFor maps an error to its HTTP status. Uncoded errors are internal.
func StatusFor(err error) int {
	code, ok := dErrors.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError renders err as {"error": code, "error_description": message}.
// Internal errors never expose their description.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := errorBody{Error: string(dErrors.CodeInternal)}
	var de *dErrors.Error
	if errors.As(err, &de) && status != http.StatusInternalServerError {
		body.Error = string(de.Code)
		body.ErrorDescription = de.Message
	}
	WriteJSON(w, status, body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes a bounded request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

// Validatable is implemented by request bodies that normalize and check
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the body into a new T and validates it. On failure
// it writes the error response and returns false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := PT(new(T))
	if err := DecodeJSON(r, req); err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, err)
		return nil, false
	}
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, err)
		return nil, false
	}
	return (*T)(req), true
}
