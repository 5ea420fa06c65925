package audit

import (
	"time"

	"github.com/google/uuid"

	id "willvault/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance for the estate:
	// who the heirs are, when the owner was declared deceased, what was paid.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events touching secret material.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID     `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	WillID    id.WillID     `json:"will_id"`
	// ActorID is the ledger address that performed the action.
	ActorID id.Address `json:"actor_id,omitempty"`
	// Subject is the address the action was about (beneficiary, payee).
	Subject string `json:"subject,omitempty"`
	Action  string `json:"action"`
	AssetID string `json:"asset_id,omitempty"`
	Amount  uint64 `json:"amount,omitempty"`
	Share   uint8  `json:"share,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Staged is an event prepared inside a mutation. Persisted is set when the
// event was already written to the store in the mutation's transaction, so
// publishing it only forwards it to sinks.
type Staged struct {
	Event     Event
	Persisted bool
}

type AuditEvent string

const (
	EventWillCreated             AuditEvent = "will_created"
	EventAssetRegistered         AuditEvent = "asset_registered"
	EventBeneficiaryAdded        AuditEvent = "beneficiary_added"
	EventBeneficiaryShareUpdated AuditEvent = "beneficiary_share_updated"
	EventKeyStored               AuditEvent = "key_stored"
	EventWillVerified            AuditEvent = "will_verified"
	EventWillRevoked             AuditEvent = "will_revoked"
	EventAssetsDistributed       AuditEvent = "assets_distributed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventWillCreated:             CategoryCompliance,
	EventBeneficiaryAdded:        CategoryCompliance,
	EventBeneficiaryShareUpdated: CategoryCompliance,
	EventWillVerified:            CategoryCompliance,
	EventWillRevoked:             CategoryCompliance,
	EventAssetsDistributed:       CategoryCompliance,

	EventKeyStored: CategorySecurity,

	EventAssetRegistered: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
