package handler

import (
	"time"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	audit "willvault/pkg/platform/audit"
)

type WillResponse struct {
	ID           string              `json:"will_id"`
	Owner        id.Address          `json:"owner"`
	IsActive     bool                `json:"is_active"`
	TotalShares  uint64              `json:"total_shares"`
	Verification models.Verification `json:"verification"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func FromWill(w *models.Will) WillResponse {
	return WillResponse{
		ID:           w.ID.String(),
		Owner:        w.Owner,
		IsActive:     w.IsActive(),
		TotalShares:  w.Beneficiaries.Total(),
		Verification: w.Verification,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

type WillListResponse struct {
	Wills []WillResponse `json:"wills"`
}

type AssetsResponse struct {
	Assets []models.Asset `json:"assets"`
}

type BeneficiariesResponse struct {
	Beneficiaries []models.Beneficiary `json:"beneficiaries"`
	TotalShares   uint64               `json:"total_shares"`
}

func FromBeneficiaries(bs []models.Beneficiary) BeneficiariesResponse {
	return BeneficiariesResponse{
		Beneficiaries: bs,
		TotalShares:   models.ShareLedger(bs).Total(),
	}
}

type KeysResponse struct {
	AssetIDs []id.AssetID `json:"asset_ids"`
}

type KeyResponse struct {
	AssetID       id.AssetID `json:"asset_id"`
	EncryptedData []byte     `json:"encrypted_data"`
}

type AuditEventResponse struct {
	ID        string    `json:"id"`
	WillID    string    `json:"will_id"`
	Action    string    `json:"action"`
	Category  string    `json:"category"`
	ActorID   string    `json:"actor_id"`
	Subject   string    `json:"subject,omitempty"`
	AssetID   string    `json:"asset_id,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	Share     uint8     `json:"share_percentage,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type AuditTrailResponse struct {
	Events []AuditEventResponse `json:"events"`
}

func FromAuditEvents(events []audit.Event) AuditTrailResponse {
	resp := AuditTrailResponse{Events: make([]AuditEventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, AuditEventResponse{
			ID:        e.ID.String(),
			WillID:    e.WillID.String(),
			Action:    e.Action,
			Category:  string(e.Category),
			ActorID:   e.ActorID.String(),
			Subject:   e.Subject,
			AssetID:   e.AssetID,
			Amount:    e.Amount,
			Share:     e.Share,
			Timestamp: e.Timestamp,
		})
	}
	return resp
}
