package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dErrors "willvault/pkg/domain-errors"
	audit "willvault/pkg/platform/audit"
	"willvault/pkg/platform/httputil"
	"willvault/pkg/requestcontext"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// RecentAuditReader lists the newest audit events across all wills.
type RecentAuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// AdminHandler serves operator views of the audit trail. Routes must be
// mounted behind the admin token middleware.
type AdminHandler struct {
	reader RecentAuditReader
	logger *slog.Logger
}

func NewAdmin(reader RecentAuditReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{reader: reader, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/admin/audit", h.HandleRecent)
}

// HandleRecent returns the newest events, newest first. ?limit= defaults
// to 50 and is capped at 500.
func (h *AdminHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxRecentLimit)
	}

	events, err := h.reader.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list recent audit events",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAuditEvents(events))
}
