// Package plan defines the durable Plan object model: its field layout, the
// status finite-state machine, and dependency-rebuild bookkeeping (spec.md
// §3, §4.1, §4.2).
package plan

import (
	"time"

	"github.com/google/uuid"

	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// Type is the plan kind: clone or migrate (spec.md §3).
type Type string

const (
	TypeClone   Type = "clone"
	TypeMigrate Type = "migrate"
)

// IsValid reports whether t is one of the two supported plan types.
func (t Type) IsValid() bool {
	return t == TypeClone || t == TypeMigrate
}

// TaskStatusEntry is one free-text progress line appended while an
// orchestration call runs (spec.md §4.4.2 "mirror the latest stack event
// into task_status"; SPEC_FULL.md §D.3).
type TaskStatusEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Plan is the durable record of a clone/migrate intent plus its resource
// graph (spec.md §3 "Plan").
type Plan struct {
	PlanID    string `json:"plan_id"`
	PlanType  Type   `json:"plan_type"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	StackID   string `json:"stack_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	ExpireAt  time.Time  `json:"expire_at"`
	Deleted   bool       `json:"deleted"`

	PlanStatus Status `json:"plan_status"`

	// TaskStatus is the latest free-text progress message; TaskStatusLog
	// retains the full history for diagnostics (SPEC_FULL.md §D.3).
	TaskStatus    string            `json:"task_status"`
	TaskStatusLog []TaskStatusEntry `json:"task_status_log,omitempty"`

	SysClone  bool `json:"sys_clone"`
	CopyData  bool `json:"copy_data"`

	OriginalResources map[string]*resourcemodel.Resource `json:"original_resources"`
	UpdatedResources  map[string]*resourcemodel.Resource  `json:"updated_resources"`

	OriginalDependencies map[string]*resourcemodel.ResourceDependency `json:"original_dependencies"`
	UpdatedDependencies  map[string]*resourcemodel.ResourceDependency `json:"updated_dependencies"`
}

// New allocates a fresh plan in CREATING status (spec.md §4.2 "create").
func New(planType Type, projectID, userID string, expireAfter time.Duration) *Plan {
	now := time.Now()
	return &Plan{
		PlanID:               uuid.NewString(),
		PlanType:             planType,
		ProjectID:            projectID,
		UserID:               userID,
		CreatedAt:            now,
		UpdatedAt:            now,
		ExpireAt:             now.Add(expireAfter),
		PlanStatus:           StatusCreating,
		OriginalResources:    map[string]*resourcemodel.Resource{},
		UpdatedResources:     map[string]*resourcemodel.Resource{},
		OriginalDependencies: map[string]*resourcemodel.ResourceDependency{},
		UpdatedDependencies:  map[string]*resourcemodel.ResourceDependency{},
	}
}

// TransitionTo moves the plan to a new status, rejecting illegal edges
// (spec.md §3 "Plan status").
func (p *Plan) TransitionTo(next Status) error {
	if err := ValidateTransition(p.PlanStatus, next); err != nil {
		return err
	}
	p.PlanStatus = next
	p.UpdatedAt = time.Now()
	return nil
}

// AppendTaskStatus records a new progress message, updating both the
// current TaskStatus field and the retained log (SPEC_FULL.md §D.3,
// grounded on the original's free-text task_status column plus the
// orchestrator's own event trail).
func (p *Plan) AppendTaskStatus(message string) {
	p.TaskStatus = message
	p.TaskStatusLog = append(p.TaskStatusLog, TaskStatusEntry{At: time.Now(), Message: message})
	p.UpdatedAt = time.Now()
}

// RebuildDependencies recomputes UpdatedDependencies from UpdatedResources
// using the idempotence rule described in spec.md §4.1: unchanged resource
// key sets trust the stored map. For a migrate plan, OriginalDependencies is
// kept identical to UpdatedDependencies since a migrate plan never diverges
// updated resources from original resources (spec.md §3 invariant 3).
func (p *Plan) RebuildDependencies() {
	p.UpdatedDependencies = resourcemodel.RebuildDependencies(p.UpdatedResources, p.UpdatedDependencies)
	if p.PlanType == TypeMigrate {
		p.OriginalDependencies = p.UpdatedDependencies
	}
}

// Clone returns a deep copy of the plan so callers (e.g. an in-memory store)
// never hand out aliased mutable state (spec.md §5 "Shared resources").
func (p *Plan) Clone() *Plan {
	cp := *p
	cp.OriginalResources = cloneResourceMap(p.OriginalResources)
	cp.UpdatedResources = cloneResourceMap(p.UpdatedResources)
	cp.OriginalDependencies = cloneDependencyMap(p.OriginalDependencies)
	cp.UpdatedDependencies = cloneDependencyMap(p.UpdatedDependencies)
	cp.TaskStatusLog = append([]TaskStatusEntry{}, p.TaskStatusLog...)
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

func cloneResourceMap(in map[string]*resourcemodel.Resource) map[string]*resourcemodel.Resource {
	out := make(map[string]*resourcemodel.Resource, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func cloneDependencyMap(in map[string]*resourcemodel.ResourceDependency) map[string]*resourcemodel.ResourceDependency {
	out := make(map[string]*resourcemodel.ResourceDependency, len(in))
	for k, v := range in {
		cp := *v
		cp.Dependencies = append([]string{}, v.Dependencies...)
		out[k] = &cp
	}
	return out
}

// IsExpired reports whether the plan's advisory expiry has passed. Expiry is
// advisory only: the engine does not auto-delete a plan mid-clone (spec.md
// §3 "Lifecycle").
func (p *Plan) IsExpired(now time.Time) bool {
	return now.After(p.ExpireAt)
}
