package raskol

import "errors"

// Sentinel errors for the proxy domain.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrRateLimited         = errors.New("rate limited")
	ErrQuotaExceeded       = errors.New("daily token quota exceeded")
	ErrStoreBusy           = errors.New("accounting store busy")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrResponseTooLarge    = errors.New("upstream response too large")
	ErrBadRequest          = errors.New("bad request")
)
