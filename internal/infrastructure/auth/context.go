// Package auth provides authentication and authorization infrastructure for the application.
package auth

import (
	"context"

	"github.com/ticketcore/scancore/internal/entity"
)

// Claims represents JWT claims extracted from the token.
type Claims struct {
	// Sub is the subject claim (external_id/user ID from identity provider).
	Sub string
	// Email is the user's email address.
	Email string
	// Name is the user's display name.
	Name string
	// Role, TenantID, and VenueID are private claims present only on
	// staff-scoped tokens (issued after a staff-directory lookup at the
	// identity provider); empty for ordinary end-user tokens.
	Role     string
	TenantID string
	VenueID  string
}

// StaffContext derives an *entity.StaffContext from a staff-scoped
// token's private claims. Returns nil when the token carries no role
// claim (an end-user token, not a staff one).
func (c *Claims) StaffContext() *entity.StaffContext {
	if c == nil || c.Role == "" {
		return nil
	}
	return &entity.StaffContext{
		Role:     entity.StaffRole(c.Role),
		TenantID: c.TenantID,
		VenueID:  c.VenueID,
	}
}

// TokenValidator validates JWT tokens and returns the claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// contextKey is a type-safe key for storing values in context.
type contextKey struct{ name string }

// claimsKey is the context key for storing the authenticated user claims.
var claimsKey = contextKey{"claims"}

// WithClaims returns a new context with the given JWT claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims retrieves the JWT claims from the context.
// Returns the claims and true if found, or nil and false if not found.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// GetUserID retrieves the user ID (sub claim) from the context.
// Returns the user ID and true if found, or empty string and false if not found.
// Deprecated: Use GetClaims instead for full claim access.
func GetUserID(ctx context.Context) (string, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return "", false
	}
	return claims.Sub, true
}

// staffKey is the context key for the StaffContext an upstream auth
// middleware derives from claims (role/tenant/venue lookup against the
// staff directory), which this core treats as someone else's problem.
var staffKey = contextKey{"staff"}

// WithStaffContext returns a new context carrying staff. Pass nil for
// unattended device scans, matching DecideParams.Staff's nil convention.
func WithStaffContext(ctx context.Context, staff *entity.StaffContext) context.Context {
	return context.WithValue(ctx, staffKey, staff)
}

// StaffContextFromContext retrieves the StaffContext attached by an
// upstream auth middleware. Returns nil, false when the request came
// from an unattended device rather than a logged-in staff member.
func StaffContextFromContext(ctx context.Context) (*entity.StaffContext, bool) {
	staff, ok := ctx.Value(staffKey).(*entity.StaffContext)
	return staff, ok
}
