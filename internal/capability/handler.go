package capability

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
	"willvault/pkg/platform/httputil"
	"willvault/pkg/requestcontext"
)

// IssueRequest is the body of POST /admin/capabilities.
type IssueRequest struct {
	Holder string `json:"holder"`

	holder id.Address
}

func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	addr, err := id.ParseAddress(strings.TrimSpace(r.Holder))
	if err != nil {
		return err
	}
	r.holder = addr
	return nil
}

type IssueResponse struct {
	CapabilityID string     `json:"capability_id"`
	Holder       id.Address `json:"holder"`
	Token        string     `json:"token"`
}

// Handler exposes capability issuance to operators. Routes must be mounted
// behind the admin token middleware.
type Handler struct {
	issuer *Issuer
	logger *slog.Logger
}

func NewHandler(issuer *Issuer, logger *slog.Logger) *Handler {
	return &Handler{issuer: issuer, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/capabilities", h.HandleIssue)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	capability, token, err := h.issuer.Issue(req.holder)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue admin capability",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "admin capability issued",
		"event", "admin_capability_issued",
		"log_type", "audit",
		"request_id", requestID,
		"capability_id", capability.ID.String(),
		"holder", capability.Holder.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, IssueResponse{
		CapabilityID: capability.ID.String(),
		Holder:       capability.Holder,
		Token:        token,
	})
}
