package jwttoken

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
	"willvault/pkg/platform/httputil"
	"willvault/pkg/requestcontext"
)

const defaultTokenTTL = time.Hour

// TokenRequest asks for a caller token bound to a ledger address. In a real
// deployment callers prove control of the address upstream; this endpoint
// lets operators mint tokens for those already-authenticated identities.
type TokenRequest struct {
	Address   string `json:"address"`
	ExpiresIn string `json:"expires_in,omitempty"`

	address id.Address
	ttl     time.Duration
}

func (r *TokenRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	addr, err := id.ParseAddress(strings.TrimSpace(r.Address))
	if err != nil {
		return err
	}
	r.address = addr
	r.ttl = defaultTokenTTL
	if r.ExpiresIn != "" {
		ttl, err := time.ParseDuration(r.ExpiresIn)
		if err != nil || ttl <= 0 || ttl > 24*time.Hour {
			return dErrors.New(dErrors.CodeValidation, "expires_in must be a duration up to 24h")
		}
		r.ttl = ttl
	}
	return nil
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Handler mints caller tokens. Mount behind the admin token middleware.
type Handler struct {
	jwt    *JWTService
	logger *slog.Logger
}

func NewHandler(jwt *JWTService, logger *slog.Logger) *Handler {
	return &Handler{jwt: jwt, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/tokens", h.HandleIssue)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	token, err := h.jwt.GenerateCallerToken(req.address, req.ttl)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to sign caller token",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token"))
		return
	}
	h.logger.InfoContext(ctx, "caller token issued",
		"request_id", requestID,
		"address", req.address.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   requestcontext.Now(ctx).Add(req.ttl),
	})
}
