// Package raskol defines domain types for the Raskol credential-sharing
// proxy. This package has no project imports -- it is the dependency root.
package raskol

import (
	"context"
	"time"
)

// --- Roles ---

// Role names carried in the "role" claim of a bearer token.
const (
	RoleUser   = "USER"
	RoleHacker = "HACKER"
	RoleAdmin  = "ADMIN"
)

// Identity is the authenticated caller attached to request context.
type Identity struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
}

// CanProxy reports whether the identity may reach the protected endpoints.
// ADMIN implies every capability of HACKER.
func (id *Identity) CanProxy() bool {
	return id.Role == RoleHacker || id.Role == RoleAdmin
}

// IsAdmin reports whether the identity may reach ADMIN-only endpoints.
func (id *Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// --- Limits ---

// Limits are the process-wide admission limits, immutable after startup.
// A zero value for either field disables that check.
type Limits struct {
	MinHitInterval  float64 // seconds between admitted hits per uid
	MaxTokensPerDay uint64  // upstream tokens per uid per UTC day
}

// --- Accounting ---

// DayTotal is one (UTC date, token total) row for a uid.
type DayTotal struct {
	Date  string `json:"date"`
	Total uint64 `json:"total"`
}

// UserStats is the accounting view of one uid.
type UserStats struct {
	UID         string     `json:"uid"`
	HitCount    uint64     `json:"hit_count"`
	LastHitTime int64      `json:"last_hit_time"`
	TodayTokens uint64     `json:"today_tokens"`
	PerDay      []DayTotal `json:"per_day"`
}

// Usage is the token accounting block extracted from an upstream response.
type Usage struct {
	TotalTokens    uint64  `json:"total_tokens"`
	QueueTime      float64 `json:"queue_time,omitempty"`
	PromptTime     float64 `json:"prompt_time,omitempty"`
	CompletionTime float64 `json:"completion_time,omitempty"`
	TotalTime      float64 `json:"total_time,omitempty"`
}

// UTCDate formats t as the ISO-8601 calendar date in UTC.
func UTCDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, avoiding a new context.WithValue allocation. Falls back to
// creating new metadata if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
