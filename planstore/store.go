// Package planstore implements the Plan Store Facade: the durable-row view
// of a Plan plus its satellite tables (spec.md §4.2, §6 "Persistent row
// layouts"). Two backends are provided: an in-memory fake for tests and
// single-process deployments, and a PostgreSQL-backed implementation for
// production, mirroring store.InMemoryBackfillStore / store.PGStore's
// split.
package planstore

import (
	"context"
	"errors"

	"github.com/Hybrid-Cloud/conveyor/plan"
)

// ErrNotFound is returned when a lookup by plan_id (or a satellite row keyed
// by plan_id) finds nothing.
var ErrNotFound = errors.New("planstore: not found")

// ErrDuplicate is returned when CreatePlan is called with a plan_id that
// already exists.
var ErrDuplicate = errors.New("planstore: duplicate plan_id")

// ClonedResources is the plan_cloned_resources row (spec.md §6): the
// destination cloud/region identifier plus the relation and dependency
// snapshots captured for a clone/migrate run.
type ClonedResources struct {
	PlanID       string         `json:"plan_id"`
	Destination  string         `json:"destination"`
	Relation     map[string]any `json:"relation"`
	Dependencies map[string]any `json:"dependencies"`
}

// Store is the Plan Store Facade: the durable boundary every mutation
// commits across (spec.md §4.3 "the write is atomic at the Plan-Store
// boundary").
type Store interface {
	// CreatePlan persists a newly allocated plan (spec.md §4.2 "create").
	CreatePlan(ctx context.Context, p *plan.Plan) error

	// GetPlan returns the plan for planID, or ErrNotFound.
	GetPlan(ctx context.Context, planID string) (*plan.Plan, error)

	// ListPlans returns all non-deleted plans for a project.
	ListPlans(ctx context.Context, projectID string) ([]*plan.Plan, error)

	// UpdatePlan persists the full current state of an already-created plan
	// (spec.md §4.2 "update": callers are responsible for having applied
	// the whitelist check before calling this).
	UpdatePlan(ctx context.Context, p *plan.Plan) error

	// DeletePlan removes the plan row and all satellite rows keyed by
	// planID (spec.md §4.2 "delete"/"force-delete"). tolerateMissing makes
	// a missing plan row a no-op rather than ErrNotFound, matching
	// force-delete's relaxed precondition.
	DeletePlan(ctx context.Context, planID string, tolerateMissing bool) error

	// SaveTemplate persists the plan_template row.
	SaveTemplate(ctx context.Context, planID string, template map[string]any) error
	// GetTemplate returns the stored template, or ErrNotFound.
	GetTemplate(ctx context.Context, planID string) (map[string]any, error)

	// SaveClonedResources persists the plan_cloned_resources row.
	SaveClonedResources(ctx context.Context, row ClonedResources) error
	// GetClonedResources returns the stored row, or ErrNotFound.
	GetClonedResources(ctx context.Context, planID string) (*ClonedResources, error)

	// SaveAZMapper persists the plan_availability_zone_mapper row: the
	// per-plan map from source AZ to the gateway VM selected for it
	// (spec.md §4.4.3 (a) "get_next_vgw(az)").
	SaveAZMapper(ctx context.Context, planID string, azMapper map[string]string) error
	// GetAZMapper returns the stored map, defaulting to an empty map if no
	// row exists yet (the mapper is populated lazily as AZs are first used).
	GetAZMapper(ctx context.Context, planID string) (map[string]string, error)
}
