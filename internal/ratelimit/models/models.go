package models

import (
	"time"

	dErrors "willvault/pkg/domain-errors"
)

// EndpointClass categorizes endpoints for differentiated rate limiting.
type EndpointClass string

const (
	// ClassRead: will, asset, beneficiary and audit queries.
	ClassRead EndpointClass = "read"
	// ClassWrite: will mutations.
	ClassWrite EndpointClass = "write"
	// ClassSensitive: key release, verification and distribution.
	ClassSensitive EndpointClass = "sensitive"
)

func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassRead, ClassWrite, ClassSensitive:
		return true
	}
	return false
}

// ParseEndpointClass validates a class name from configuration.
func ParseEndpointClass(s string) (EndpointClass, error) {
	c := EndpointClass(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid endpoint class: "+s)
	}
	return c, nil
}

// Limit is a sliding window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits per caller and class.
var DefaultLimits = map[EndpointClass]Limit{
	ClassRead:      {Requests: 100, Window: time.Minute},
	ClassWrite:     {Requests: 50, Window: time.Minute},
	ClassSensitive: {Requests: 10, Window: time.Minute},
}

// RateLimitResult is the outcome of one check against a bucket.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set when denied
}

type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// BucketKey namespaces a caller's bucket by class.
func BucketKey(class EndpointClass, subject string) string {
	return "ratelimit:" + string(class) + ":" + subject
}
