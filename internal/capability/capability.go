// Package capability issues and parses admin capabilities: signed tokens
// that entitle their holder to verify wills. The will core only checks that
// a parsed capability was presented; issuance is an operator action.
package capability

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

const audience = "willvault:admin"

type claims struct {
	jwt.RegisteredClaims
}

// Issuer signs capabilities with an HMAC key distinct from caller tokens.
type Issuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

type Option func(*Issuer)

// WithTTL sets capability lifetime. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func NewIssuer(signingKey, issuer string, opts ...Option) *Issuer {
	i := &Issuer{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a capability for holder and returns it with its token form.
func (i *Issuer) Issue(holder id.Address) (*models.AdminCapability, string, error) {
	if holder.IsNil() {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "holder address required")
	}
	now := i.now()
	capability := &models.AdminCapability{
		ID:       uuid.New(),
		Holder:   holder,
		IssuedAt: now.UTC().Truncate(time.Second),
	}
	rc := jwt.RegisteredClaims{
		ID:       capability.ID.String(),
		Subject:  holder.String(),
		Issuer:   i.issuer,
		Audience: []string{audience},
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.ttl > 0 {
		rc.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{RegisteredClaims: rc}).SignedString(i.signingKey)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign capability")
	}
	return capability, token, nil
}

// Parse validates a capability token presented by holder. Every failure is
// reported as not_admin: a token that is forged, expired or issued to
// another address is no capability at all.
func (i *Issuer) Parse(token string, holder id.Address) (*models.AdminCapability, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotAdmin, "invalid admin capability")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeNotAdmin, "invalid admin capability")
	}
	capID, err := uuid.Parse(c.ID)
	if err != nil || capID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeNotAdmin, "invalid admin capability")
	}
	if c.Subject != holder.String() {
		return nil, dErrors.New(dErrors.CodeNotAdmin, "capability issued to another address")
	}
	capability := &models.AdminCapability{ID: capID, Holder: holder}
	if c.IssuedAt != nil {
		capability.IssuedAt = c.IssuedAt.UTC()
	}
	return capability, nil
}
