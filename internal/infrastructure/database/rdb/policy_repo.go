package rdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/pkg/cache"
)

// defaultDuplicateWindowMinutes is returned when no event-scoped or global
// duplicate policy row exists.
const defaultDuplicateWindowMinutes = 10

// policyCacheTTL bounds how stale a cached policy may be. Policies change
// through an operator surface, not per scan, so a short TTL keeps the
// per-scan lookup off the database without making config edits feel slow.
const policyCacheTTL = 30 * time.Second

// PolicyRepository implements entity.PolicyRepository, resolving an
// event-scoped policy_configs row and falling back to a global
// (event_id IS NULL) row, then to the hardcoded default.
type PolicyRepository struct {
	db    *Database
	cache *cache.MemoryCache
}

var _ entity.PolicyRepository = (*PolicyRepository)(nil)

// NewPolicyRepository builds a PolicyRepository over db. Close stops the
// cache's cleanup goroutine.
func NewPolicyRepository(db *Database) *PolicyRepository {
	return &PolicyRepository{db: db, cache: cache.NewMemoryCache(policyCacheTTL)}
}

// Close releases the policy cache's background resources.
func (r *PolicyRepository) Close() error {
	return r.cache.Close()
}

const getDuplicatePolicyQuery = `
	SELECT window_minutes FROM policy_configs
	WHERE kind = 'duplicate' AND (event_id = $1 OR event_id IS NULL)
	ORDER BY event_id NULLS LAST
	LIMIT 1
`

// DuplicatePolicyFor returns the effective duplicate policy for the event,
// defaulting to a 10-minute window when none is configured.
func (r *PolicyRepository) DuplicatePolicyFor(ctx context.Context, eventID string) (*entity.DuplicatePolicy, error) {
	if v := r.cache.Get("dup:" + eventID); v != nil {
		return v.(*entity.DuplicatePolicy), nil
	}

	row := querierFrom(ctx, r.db).QueryRow(ctx, getDuplicatePolicyQuery, eventID)

	var windowMinutes int
	if err := row.Scan(&windowMinutes); err != nil {
		if err == pgx.ErrNoRows {
			p := &entity.DuplicatePolicy{WindowMinutes: defaultDuplicateWindowMinutes}
			r.cache.Set("dup:"+eventID, p)
			return p, nil
		}
		return nil, toAppErr(err, "failed to get duplicate policy")
	}
	p := &entity.DuplicatePolicy{WindowMinutes: windowMinutes}
	r.cache.Set("dup:"+eventID, p)
	return p, nil
}

const getReentryPolicyQuery = `
	SELECT enabled, max_reentries, cooldown_minutes FROM policy_configs
	WHERE kind = 'reentry' AND (event_id = $1 OR event_id IS NULL)
	ORDER BY event_id NULLS LAST
	LIMIT 1
`

// ReentryPolicyFor returns the effective re-entry policy for the event. A
// nil return means re-entry is not configured (treated as disabled).
func (r *PolicyRepository) ReentryPolicyFor(ctx context.Context, eventID string) (*entity.ReentryPolicy, error) {
	if v := r.cache.Get("reentry:" + eventID); v != nil {
		return v.(*entity.ReentryPolicy), nil
	}

	row := querierFrom(ctx, r.db).QueryRow(ctx, getReentryPolicyQuery, eventID)

	var p entity.ReentryPolicy
	if err := row.Scan(&p.Enabled, &p.MaxReentries, &p.CooldownMinutes); err != nil {
		if err == pgx.ErrNoRows {
			// A typed-nil pointer inside the cache entry still reads back
			// non-nil from Get, so "no policy configured" is cacheable too.
			r.cache.Set("reentry:"+eventID, (*entity.ReentryPolicy)(nil))
			return nil, nil
		}
		return nil, toAppErr(err, "failed to get reentry policy")
	}
	r.cache.Set("reentry:"+eventID, &p)
	return &p, nil
}
