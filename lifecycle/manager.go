// Package lifecycle implements the Plan Lifecycle Manager: create,
// import-from-template, read, delete, force-delete, update, and
// update-resources (spec.md §4.2). Grounded on conveyor/plan/manager.py's
// PlanManager and, for its locking/logging shape, orchestration.Coordinator.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hybrid-Cloud/conveyor/conveyorerr"
	"github.com/Hybrid-Cloud/conveyor/mutation"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/planlock"
	"github.com/Hybrid-Cloud/conveyor/planstore"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
	"github.com/Hybrid-Cloud/conveyor/template"
)

// Manager implements the Plan Lifecycle Manager operations (spec.md §4.2
// table). Every mutating method takes the per-plan_id lock from locks
// before touching the store (spec.md §4.2 "Every mutation takes a
// per-plan_id exclusive lock").
type Manager struct {
	store       planstore.Store
	locks       *planlock.Registry
	mutator     *mutation.Engine
	logger      *slog.Logger
	expireAfter time.Duration
}

// NewManager builds a Manager. A nil logger defaults to slog.Default(),
// matching orchestration.NewCoordinator's constructor convention.
func NewManager(store planstore.Store, locks *planlock.Registry, mutator *mutation.Engine, expireAfter time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, locks: locks, mutator: mutator, expireAfter: expireAfter, logger: logger}
}

// Create allocates a new plan in CREATING status (spec.md §4.2 "create").
func (m *Manager) Create(ctx context.Context, planType plan.Type, projectID, userID string) (*plan.Plan, error) {
	if !planType.IsValid() {
		return nil, &conveyorerr.PlanTypeNotSupportedError{PlanType: string(planType)}
	}

	p := plan.New(planType, projectID, userID, m.expireAfter)
	if err := m.store.CreatePlan(ctx, p); err != nil {
		return nil, &conveyorerr.PlanCreateFailedError{Reason: "store rejected new plan", Cause: err}
	}
	m.logger.Info("plan created", "plan_id", p.PlanID, "plan_type", p.PlanType)
	return p, nil
}

// ImportFromTemplate parses tmpl into the plan's resource map and computes
// dependencies, moving the plan from CREATING through INITIATING and
// CREATED to AVAILABLE (spec.md §4.2
// "import-from-template"; grounded on
// conveyor/plan/manager.py build_plan_by_template).
func (m *Manager) ImportFromTemplate(ctx context.Context, planID string, tmpl *template.Template) (*plan.Plan, error) {
	release := m.locks.Acquire(planID)
	defer release()

	p, err := m.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, &conveyorerr.PlanNotFoundError{PlanID: planID}
	}
	if p.PlanStatus != plan.StatusCreating {
		return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: fmt.Sprintf("import-from-template requires status CREATING, plan is %q", p.PlanStatus)}
	}

	resources, err := template.Parse(tmpl)
	if err != nil {
		if transErr := p.TransitionTo(plan.StatusError); transErr == nil {
			_ = m.store.UpdatePlan(ctx, p)
		}
		return nil, &conveyorerr.PlanCreateFailedError{Reason: "template parse failed", Cause: err}
	}

	p.OriginalResources = resources
	p.OriginalDependencies = resourcemodel.BuildDependencies(resources)

	if p.PlanType == plan.TypeClone {
		cloned := make(map[string]*resourcemodel.Resource, len(resources))
		for name, res := range resources {
			cloned[name] = res.Clone()
		}
		p.UpdatedResources = cloned
		p.RebuildDependencies()
	} else {
		// Migrate plans never diverge updated from original (spec.md §3 invariant 3).
		p.UpdatedResources = p.OriginalResources
		p.UpdatedDependencies = p.OriginalDependencies
	}

	for _, next := range []plan.Status{plan.StatusInitiating, plan.StatusCreated, plan.StatusAvailable} {
		if err := p.TransitionTo(next); err != nil {
			return nil, &conveyorerr.PlanCreateFailedError{Reason: "could not mark plan available", Cause: err}
		}
	}
	if err := m.store.UpdatePlan(ctx, p); err != nil {
		return nil, &conveyorerr.PlanCreateFailedError{Reason: "store rejected imported plan", Cause: err}
	}
	m.logger.Info("plan imported from template", "plan_id", planID, "resources", len(resources))
	return p, nil
}

// Read returns the plan, or PlanNotFoundError.
func (m *Manager) Read(ctx context.Context, planID string) (*plan.Plan, error) {
	p, err := m.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, &conveyorerr.PlanNotFoundError{PlanID: planID}
	}
	return p, nil
}

// List returns the non-deleted plans for a project ("" lists across all projects).
func (m *Manager) List(ctx context.Context, projectID string) ([]*plan.Plan, error) {
	return m.store.ListPlans(ctx, projectID)
}

// Delete removes an AVAILABLE or ERROR plan and all of its satellite rows
// (spec.md §4.2 "delete").
func (m *Manager) Delete(ctx context.Context, planID string) error {
	release := m.locks.Acquire(planID)
	defer release()

	p, err := m.store.GetPlan(ctx, planID)
	if err != nil {
		return &conveyorerr.PlanNotFoundError{PlanID: planID}
	}
	if !p.PlanStatus.Deletable() {
		return &conveyorerr.PlanUpdateError{PlanID: planID, Reason: fmt.Sprintf("plan status %q is not deletable", p.PlanStatus)}
	}
	if err := p.TransitionTo(plan.StatusDeleting); err != nil {
		return &conveyorerr.PlanUpdateError{PlanID: planID, Reason: err.Error()}
	}
	if err := m.store.DeletePlan(ctx, planID, false); err != nil {
		return &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "delete failed"}
	}
	m.logger.Info("plan deleted", "plan_id", planID)
	return nil
}

// ForceDelete behaves like Delete but tolerates a missing plan row and does
// not require a particular starting status (spec.md §4.2 "force-delete").
func (m *Manager) ForceDelete(ctx context.Context, planID string) error {
	release := m.locks.Acquire(planID)
	defer release()

	if err := m.store.DeletePlan(ctx, planID, true); err != nil {
		return &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "force-delete failed"}
	}
	m.logger.Info("plan force-deleted", "plan_id", planID)
	return nil
}

// updatableFields whitelists the keys update may write (spec.md §4.2
// "update | whitelist keys only").
var updatableFields = map[string]bool{
	"task_status":       true,
	"plan_status":       true,
	"stack_id":          true,
	"updated_resources": true,
	"sys_clone":         true,
	"copy_data":         true,
}

// Update applies a whitelisted partial update, rejecting unknown keys and
// unknown status values (spec.md §4.2 "update"). updated_resources passes
// the whitelist check but Update does not write it: the plan's resource
// maps are left unchanged.
func (m *Manager) Update(ctx context.Context, planID string, fields map[string]any) (*plan.Plan, error) {
	for k := range fields {
		if !updatableFields[k] {
			return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: fmt.Sprintf("field %q is not updatable", k)}
		}
	}

	release := m.locks.Acquire(planID)
	defer release()

	p, err := m.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, &conveyorerr.PlanNotFoundError{PlanID: planID}
	}

	if raw, ok := fields["plan_status"]; ok {
		status, ok := raw.(string)
		if !ok {
			return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "plan_status must be a string"}
		}
		if err := p.TransitionTo(plan.Status(status)); err != nil {
			return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: err.Error()}
		}
	}
	if raw, ok := fields["task_status"]; ok {
		msg, ok := raw.(string)
		if !ok {
			return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "task_status must be a string"}
		}
		p.AppendTaskStatus(msg)
	}
	if raw, ok := fields["stack_id"]; ok {
		id, ok := raw.(string)
		if !ok {
			return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "stack_id must be a string"}
		}
		p.StackID = id
	}
	if raw, ok := fields["sys_clone"]; ok {
		v, ok := raw.(bool)
		if !ok {
			return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "sys_clone must be a bool"}
		}
		p.SysClone = v
	}
	if raw, ok := fields["copy_data"]; ok {
		v, ok := raw.(bool)
		if !ok {
			return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "copy_data must be a bool"}
		}
		p.CopyData = v
	}

	if err := m.store.UpdatePlan(ctx, p); err != nil {
		return nil, &conveyorerr.PlanUpdateError{PlanID: planID, Reason: "store rejected update"}
	}
	return p, nil
}

// UpdateResources applies a list of mutation-engine edits to an AVAILABLE
// plan (spec.md §4.2 "update-resources", §4.3).
func (m *Manager) UpdateResources(ctx context.Context, planID string, edits []mutation.Edit) (*plan.Plan, error) {
	release := m.locks.Acquire(planID)
	defer release()

	p, err := m.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, &conveyorerr.PlanNotFoundError{PlanID: planID}
	}
	if p.PlanStatus != plan.StatusAvailable {
		return nil, &conveyorerr.PlanResourcesUpdateError{PlanID: planID, Reason: fmt.Sprintf("update-resources requires status AVAILABLE, plan is %q", p.PlanStatus)}
	}

	if err := m.mutator.Apply(ctx, p, edits); err != nil {
		return nil, err
	}

	if err := m.store.UpdatePlan(ctx, p); err != nil {
		return nil, &conveyorerr.PlanResourcesUpdateError{PlanID: planID, Reason: "store rejected resource update"}
	}
	return p, nil
}
