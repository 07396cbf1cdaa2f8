package entity

import "context"

// PolicyKind distinguishes the two policy shapes a tenant can configure.
type PolicyKind string

const (
	PolicyKindDuplicate PolicyKind = "duplicate"
	PolicyKindReentry   PolicyKind = "reentry"
)

// DuplicatePolicy bounds how far back the Scan Decider looks for a prior
// ALLOW scan of the same ticket.
type DuplicatePolicy struct {
	WindowMinutes int
}

// ReentryPolicy governs whether, and how often, a ticket may be scanned
// again after its first ALLOW.
type ReentryPolicy struct {
	Enabled         bool
	MaxReentries    int
	CooldownMinutes int
}

// PolicyRepository resolves the effective duplicate/re-entry policy for an
// event, falling back to a tenant- or platform-global default when no
// event-scoped override exists.
type PolicyRepository interface {
	// DuplicatePolicyFor returns the effective duplicate policy for the event,
	// defaulting to a 10-minute window when none is configured.
	DuplicatePolicyFor(ctx context.Context, eventID string) (*DuplicatePolicy, error)

	// ReentryPolicyFor returns the effective re-entry policy for the event.
	// A nil return means re-entry is not configured (treated as disabled).
	ReentryPolicyFor(ctx context.Context, eventID string) (*ReentryPolicy, error)
}
