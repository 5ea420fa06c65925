package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

type VerificationState string

const (
	VerificationUnverified VerificationState = "unverified"
	VerificationVerified   VerificationState = "verified"
)

type verificationRecord struct {
	VerifiedBy id.Address
	VerifiedAt time.Time
}

// Verification is either Unverified or Verified{by, at}. The record is only
// reachable through accessors so it cannot be cleared or edited once set.
type Verification struct {
	record *verificationRecord
}

func Unverified() Verification { return Verification{} }

func (v Verification) IsVerified() bool { return v.record != nil }

func (v Verification) State() VerificationState {
	if v.IsVerified() {
		return VerificationVerified
	}
	return VerificationUnverified
}

// VerifiedBy returns the verifier, or the empty address when unverified.
func (v Verification) VerifiedBy() id.Address {
	if v.record == nil {
		return ""
	}
	return v.record.VerifiedBy
}

// VerifiedAt returns the verification time, or the zero time when unverified.
func (v Verification) VerifiedAt() time.Time {
	if v.record == nil {
		return time.Time{}
	}
	return v.record.VerifiedAt
}

type verificationJSON struct {
	State      VerificationState `json:"state"`
	VerifiedBy id.Address        `json:"verified_by,omitempty"`
	VerifiedAt *time.Time        `json:"verified_at,omitempty"`
}

func (v Verification) MarshalJSON() ([]byte, error) {
	out := verificationJSON{State: v.State()}
	if v.record != nil {
		at := v.record.VerifiedAt
		out.VerifiedBy = v.record.VerifiedBy
		out.VerifiedAt = &at
	}
	return json.Marshal(out)
}

func (v *Verification) UnmarshalJSON(b []byte) error {
	var in verificationJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.State {
	case VerificationUnverified, "":
		*v = Unverified()
	case VerificationVerified:
		if in.VerifiedBy.IsNil() || in.VerifiedAt == nil {
			return fmt.Errorf("verified state requires verified_by and verified_at")
		}
		*v = Verification{record: &verificationRecord{VerifiedBy: in.VerifiedBy, VerifiedAt: *in.VerifiedAt}}
	default:
		return fmt.Errorf("unknown verification state %q", in.State)
	}
	return nil
}

// AdminCapability is the opaque credential presented to verify a will. The
// aggregate only checks that one was presented.
type AdminCapability struct {
	ID       uuid.UUID  `json:"id"`
	Holder   id.Address `json:"holder"`
	IssuedAt time.Time  `json:"issued_at"`
}

// Verify records the attestation of the owner's passing. It is allowed on
// inactive wills. Checks in order: not yet verified, credential presented.
func (w *Will) Verify(caller id.Address, capability *AdminCapability, now time.Time) error {
	if w.Verification.IsVerified() {
		return dErrors.New(dErrors.CodeAlreadyVerified, "will is already verified")
	}
	if capability == nil || capability.ID == uuid.Nil {
		return dErrors.New(dErrors.CodeNotAdmin, "admin capability required")
	}
	w.Verification = Verification{record: &verificationRecord{VerifiedBy: caller, VerifiedAt: now}}
	w.UpdatedAt = now
	return nil
}
