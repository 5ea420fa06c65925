package ledger

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
	"willvault/pkg/platform/httputil"
	"willvault/pkg/requestcontext"
)

type FundRequest struct {
	Amount uint64 `json:"amount"`
}

func (r *FundRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Amount == 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	return nil
}

type BalanceResponse struct {
	Address id.Address `json:"address"`
	Balance uint64     `json:"balance"`
}

// Accounts is the part of a ledger the HTTP surface needs.
type Accounts interface {
	Fund(ctx context.Context, addr id.Address, amount uint64) (uint64, error)
	Balance(ctx context.Context, addr id.Address) (uint64, error)
}

// Handler exposes account balances to callers and funding to operators.
type Handler struct {
	ledger Accounts
	logger *slog.Logger
}

func NewHandler(ledger Accounts, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// Register mounts the caller routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/accounts/me", h.HandleBalance)
}

// AdminHandler mounts operator routes; it must sit behind the admin token.
type AdminHandler struct{ *Handler }

func (h *Handler) Admin() AdminHandler { return AdminHandler{h} }

func (a AdminHandler) Register(r chi.Router) {
	r.Post("/admin/accounts/{address}/fund", a.HandleFund)
}

func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	if caller.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	balance, err := h.ledger.Balance(ctx, caller)
	if err != nil {
		h.logger.ErrorContext(ctx, "read balance failed",
			"request_id", requestcontext.RequestID(ctx),
			"address", caller.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read balance"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse{Address: caller, Balance: balance})
}

func (h *Handler) HandleFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	addr, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[FundRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	balance, err := h.ledger.Fund(ctx, addr, req.Amount)
	if err != nil {
		h.logger.WarnContext(ctx, "fund account failed",
			"request_id", requestID,
			"address", addr.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "amount would overflow balance"))
		return
	}
	h.logger.InfoContext(ctx, "account funded",
		"event", "account_funded",
		"log_type", "audit",
		"request_id", requestID,
		"address", addr.String(),
		"amount", req.Amount,
	)
	httputil.WriteJSON(w, http.StatusOK, BalanceResponse{Address: addr, Balance: balance})
}
