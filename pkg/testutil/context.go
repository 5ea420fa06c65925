package testutil

import (
	"net/http"
	"time"

	id "willvault/pkg/domain"
	"willvault/pkg/requestcontext"
)

// WithCaller puts address in the request context the way the caller auth
// middleware does. A malformed address leaves the request anonymous.
func WithCaller(req *http.Request, address string) *http.Request {
	if addr, err := id.ParseAddress(address); err == nil {
		return req.WithContext(requestcontext.WithCaller(req.Context(), addr))
	}
	return req
}

// WithRequestTime pins the request clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
