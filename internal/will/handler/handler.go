// Package handler exposes the will lifecycle over HTTP. Every route requires
// an authenticated caller; the caller's ledger address is the identity the
// will authorizes against.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
	audit "willvault/pkg/platform/audit"
	"willvault/pkg/platform/httputil"
	"willvault/pkg/requestcontext"
)

// HeaderAdminCapability carries the capability token on verification.
const HeaderAdminCapability = "X-Admin-Capability"

// Service defines the will operations the handler calls.
type Service interface {
	CreateWill(ctx context.Context, owner id.Address) (*models.Will, error)
	ListWills(ctx context.Context, caller id.Address) ([]*models.Will, error)
	GetWillDetails(ctx context.Context, willID id.WillID, caller id.Address) (models.Details, error)
	RegisterAsset(ctx context.Context, willID id.WillID, caller id.Address, amount uint64) (models.Asset, error)
	GetAssets(ctx context.Context, willID id.WillID, caller id.Address) ([]models.Asset, error)
	AddBeneficiary(ctx context.Context, willID id.WillID, caller, addr id.Address, share uint64, name string) (*models.Will, error)
	UpdateBeneficiaryShare(ctx context.Context, willID id.WillID, caller, addr id.Address, share uint64) (*models.Will, error)
	GetBeneficiaries(ctx context.Context, willID id.WillID, caller id.Address) ([]models.Beneficiary, error)
	StoreKey(ctx context.Context, willID id.WillID, caller id.Address, assetID id.AssetID, encrypted []byte) error
	GetEncryptedKeys(ctx context.Context, willID id.WillID, caller id.Address) ([]id.AssetID, error)
	AccessKey(ctx context.Context, willID id.WillID, caller id.Address, assetID id.AssetID) ([]byte, error)
	VerifyWill(ctx context.Context, willID id.WillID, caller id.Address, capability *models.AdminCapability) (models.Verification, error)
	DistributeAssets(ctx context.Context, willID id.WillID, caller id.Address) (*models.Distribution, error)
	RevokeWill(ctx context.Context, willID id.WillID, caller id.Address) error
	AuditTrail(ctx context.Context, willID id.WillID, caller id.Address) ([]audit.Event, error)
}

// CapabilityParser turns a presented capability token into a capability.
type CapabilityParser interface {
	Parse(token string, holder id.Address) (*models.AdminCapability, error)
}

// Handler wires will endpoints to the will service.
type Handler struct {
	service      Service
	capabilities CapabilityParser
	logger       *slog.Logger
}

func New(service Service, capabilities CapabilityParser, logger *slog.Logger) *Handler {
	return &Handler{
		service:      service,
		capabilities: capabilities,
		logger:       logger,
	}
}

// Register mounts will endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/wills", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Route("/{willID}", func(r chi.Router) {
			r.Get("/", h.HandleDetails)
			r.Post("/assets", h.HandleRegisterAsset)
			r.Get("/assets", h.HandleGetAssets)
			r.Post("/beneficiaries", h.HandleAddBeneficiary)
			r.Put("/beneficiaries/{address}", h.HandleUpdateShare)
			r.Get("/beneficiaries", h.HandleGetBeneficiaries)
			r.Get("/keys", h.HandleGetKeys)
			r.Put("/keys/{assetID}", h.HandleStoreKey)
			r.Get("/keys/{assetID}", h.HandleAccessKey)
			r.Post("/verify", h.HandleVerify)
			r.Post("/distribute", h.HandleDistribute)
			r.Post("/revoke", h.HandleRevoke)
			r.Get("/audit", h.HandleAuditTrail)
		})
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	will, err := h.service.CreateWill(ctx, caller)
	if err != nil {
		h.fail(ctx, w, "create will failed", err)
		return
	}
	h.logger.InfoContext(ctx, "will created",
		"request_id", requestcontext.RequestID(ctx),
		"will_id", will.ID.String(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromWill(will))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return
	}
	wills, err := h.service.ListWills(r.Context(), caller)
	if err != nil {
		h.fail(r.Context(), w, "list wills failed", err)
		return
	}
	resp := WillListResponse{Wills: make([]WillResponse, 0, len(wills))}
	for _, will := range wills {
		resp.Wills = append(resp.Wills, FromWill(will))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleDetails(w http.ResponseWriter, r *http.Request) {
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	details, err := h.service.GetWillDetails(r.Context(), willID, caller)
	if err != nil {
		h.fail(r.Context(), w, "get will details failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

func (h *Handler) HandleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RegisterAssetRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	asset, err := h.service.RegisterAsset(ctx, willID, caller, *req.Amount)
	if err != nil {
		h.fail(ctx, w, "register asset failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, asset)
}

func (h *Handler) HandleGetAssets(w http.ResponseWriter, r *http.Request) {
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	assets, err := h.service.GetAssets(r.Context(), willID, caller)
	if err != nil {
		h.fail(r.Context(), w, "get assets failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AssetsResponse{Assets: assets})
}

func (h *Handler) HandleAddBeneficiary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddBeneficiaryRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	will, err := h.service.AddBeneficiary(ctx, willID, caller, req.ParsedAddress(), *req.SharePercentage, req.Name)
	if err != nil {
		h.fail(ctx, w, "add beneficiary failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromBeneficiaries(will.Beneficiaries))
}

func (h *Handler) HandleUpdateShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	addr, err := id.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateShareRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	will, err := h.service.UpdateBeneficiaryShare(ctx, willID, caller, addr, *req.SharePercentage)
	if err != nil {
		h.fail(ctx, w, "update beneficiary share failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromBeneficiaries(will.Beneficiaries))
}

func (h *Handler) HandleGetBeneficiaries(w http.ResponseWriter, r *http.Request) {
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	bs, err := h.service.GetBeneficiaries(r.Context(), willID, caller)
	if err != nil {
		h.fail(r.Context(), w, "get beneficiaries failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromBeneficiaries(bs))
}

func (h *Handler) HandleStoreKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[StoreKeyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.StoreKey(ctx, willID, caller, assetID, req.EncryptedData); err != nil {
		h.fail(ctx, w, "store key failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleGetKeys(w http.ResponseWriter, r *http.Request) {
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	ids, err := h.service.GetEncryptedKeys(r.Context(), willID, caller)
	if err != nil {
		h.fail(r.Context(), w, "get encrypted keys failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, KeysResponse{AssetIDs: ids})
}

func (h *Handler) HandleAccessKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	data, err := h.service.AccessKey(ctx, willID, caller, assetID)
	if err != nil {
		h.fail(ctx, w, "access key failed", err)
		return
	}
	h.logger.InfoContext(ctx, "encrypted key released",
		"request_id", requestcontext.RequestID(ctx),
		"will_id", willID.String(),
		"asset_id", assetID.String(),
		"caller", caller.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, KeyResponse{AssetID: assetID, EncryptedData: data})
}

// HandleVerify records the attestation. A missing or invalid capability is
// passed to the service as nil so the will decides the error precedence.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	var capability *models.AdminCapability
	if token := strings.TrimSpace(r.Header.Get(HeaderAdminCapability)); token != "" {
		parsed, err := h.capabilities.Parse(token, caller)
		if err != nil {
			h.logger.WarnContext(ctx, "admin capability rejected",
				"request_id", requestcontext.RequestID(ctx),
				"caller", caller.String(),
				"error", err,
			)
		} else {
			capability = parsed
		}
	}
	verification, err := h.service.VerifyWill(ctx, willID, caller, capability)
	if err != nil {
		h.fail(ctx, w, "verify will failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verification)
}

func (h *Handler) HandleDistribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	dist, err := h.service.DistributeAssets(ctx, willID, caller)
	if err != nil {
		h.fail(ctx, w, "distribute assets failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, dist)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokeWill(r.Context(), willID, caller); err != nil {
		h.fail(r.Context(), w, "revoke will failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	caller, willID, ok := h.willRequest(w, r)
	if !ok {
		return
	}
	events, err := h.service.AuditTrail(r.Context(), willID, caller)
	if err != nil {
		h.fail(r.Context(), w, "audit trail failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAuditEvents(events))
}

func (h *Handler) requireCaller(w http.ResponseWriter, r *http.Request) (id.Address, bool) {
	caller := requestcontext.Caller(r.Context())
	if caller.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return caller, true
}

func (h *Handler) willRequest(w http.ResponseWriter, r *http.Request) (id.Address, id.WillID, bool) {
	caller, ok := h.requireCaller(w, r)
	if !ok {
		return "", id.WillID{}, false
	}
	willID, err := id.ParseWillID(chi.URLParam(r, "willID"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", id.WillID{}, false
	}
	return caller, willID, true
}

// fail logs at warn for refusals and at error for internal failures.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	status := httputil.StatusFor(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
