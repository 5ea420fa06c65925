package domain

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	dErrors "willvault/pkg/domain-errors"
)

// WillID identifies a will aggregate. It is a distinct type so it can never
// be confused with request or audit event identifiers.
type WillID uuid.UUID

// ParseWillID parses a will identifier from external input.
//
// Errors: returns CodeInvalidInput when the value is empty, malformed or the
// nil UUID.
func ParseWillID(s string) (WillID, error) {
	u, err := parseUUID(s, "will id")
	if err != nil {
		return WillID{}, err
	}
	return WillID(u), nil
}

func (id WillID) String() string { return uuid.UUID(id).String() }

func (id WillID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id WillID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *WillID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = WillID(u)
	return nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// maxAddressHexLen bounds ledger addresses to 32 bytes.
const maxAddressHexLen = 64

// Address is a ledger account identity: "0x" followed by up to 64 hex digits,
// stored lowercase. Owners, beneficiaries and verifiers are all addresses.
type Address string

// ParseAddress normalizes and validates a ledger address.
//
// Errors: returns CodeInvalidInput when the value is empty, lacks the 0x
// prefix, is too long or contains non-hex characters.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address cannot be empty")
	}
	lower := strings.ToLower(s)
	digits, ok := strings.CutPrefix(lower, "0x")
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must start with 0x")
	}
	if digits == "" || len(digits) > maxAddressHexLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must have 1 to 64 hex digits")
	}
	for _, c := range digits {
		if !isHexDigit(c) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "address must be hexadecimal")
		}
	}
	return Address(lower), nil
}

func (a Address) String() string { return string(a) }

func (a Address) IsNil() bool { return a == "" }

// AssetID identifies a registered custodial asset. It is derived from the
// identity of the value object transferred into custody.
type AssetID string

// DeriveAssetID hashes the custodial transfer object's identity into a stable
// 32-byte asset identifier.
func DeriveAssetID(objectID string) AssetID {
	sum := blake2b.Sum256([]byte(objectID))
	return AssetID("0x" + hex.EncodeToString(sum[:]))
}

// ParseAssetID validates an asset identifier from external input.
func ParseAssetID(s string) (AssetID, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid asset id")
	}
	return AssetID(addr), nil
}

func (a AssetID) String() string { return string(a) }

func (a AssetID) IsNil() bool { return a == "" }

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}
