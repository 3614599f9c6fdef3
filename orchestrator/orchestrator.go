// Package orchestrator implements the Clone/Migrate Orchestrator: the state
// machine that turns a plan's updated_resources into a deployed stack,
// copies volume data for a clone, and re-homes network identity for a
// migrate (spec.md §4.4). Grounded on orchestration.Coordinator's saga
// shape (StartSaga/RecordStepCompleted, a slog logger, a nil-default
// constructor) and the per-plan locking/status discipline already used by
// lifecycle.Manager, generalized from a single compensation-on-failure
// saga run to the plan engine's four deploy regimes.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Hybrid-Cloud/conveyor/conveyorerr"
	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/planlock"
	"github.com/Hybrid-Cloud/conveyor/planstore"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
	"github.com/Hybrid-Cloud/conveyor/template"
	"github.com/Hybrid-Cloud/conveyor/undo"
	"github.com/Hybrid-Cloud/conveyor/waiter"
)

// Orchestrator runs clone and migrate orchestrations for a single plan
// engine instance (spec.md §4.4).
type Orchestrator struct {
	store        planstore.Store
	locks        *planlock.Registry
	drivers      *driver.Registry
	agent        driver.AgentClient
	cfg          *engineconfig.EngineConfig
	logger       *slog.Logger
	pollInterval time.Duration
	gateways     *gatewayPool
}

// New builds an Orchestrator. A nil logger defaults to slog.Default(),
// matching lifecycle.NewManager's constructor convention. gatewaySeed is the
// stopped-server idle-gateway-VM pool, keyed by availability zone (spec.md
// §4.4.3 (a) "get_next_vgw(az)").
func New(store planstore.Store, locks *planlock.Registry, drivers *driver.Registry, agent driver.AgentClient, cfg *engineconfig.EngineConfig, gatewaySeed map[string][]gatewayEndpoint, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:        store,
		locks:        locks,
		drivers:      drivers,
		agent:        agent,
		cfg:          cfg,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		gateways:     newGatewayPool(gatewaySeed),
	}
}

// Clone runs a clone orchestration end to end (spec.md §4.4 R1/R2/R3): it
// shapes and submits the template(s), watches them to completion, copies
// volume data when requested, and marks the plan FINISHED. Any failure
// rolls back every committed side-effect in LIFO order and leaves the plan
// in ERROR.
func (o *Orchestrator) Clone(ctx context.Context, planID, destination string, preexistingNetworks map[string]bool) error {
	release := o.locks.Acquire(planID)
	defer release()

	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return &conveyorerr.PlanNotFoundError{PlanID: planID}
	}
	if p.PlanType != plan.TypeClone {
		return &conveyorerr.PlanTypeNotSupportedError{PlanType: string(p.PlanType)}
	}
	if p.PlanStatus != plan.StatusAvailable {
		return &conveyorerr.PlanCloneFailedError{PlanID: planID, Reason: fmt.Sprintf("clone requires status AVAILABLE, plan is %q", p.PlanStatus)}
	}
	if err := p.TransitionTo(plan.StatusCloning); err != nil {
		return &conveyorerr.PlanCloneFailedError{PlanID: planID, Reason: err.Error()}
	}
	if err := o.store.UpdatePlan(ctx, p); err != nil {
		return &conveyorerr.PlanCloneFailedError{PlanID: planID, Reason: "store rejected status transition", Cause: err}
	}

	compensations := undo.New(o.logger)
	if err := o.runClone(ctx, p, destination, preexistingNetworks, compensations); err != nil {
		o.failPlan(ctx, p, compensations, "clone", err)
		return &conveyorerr.PlanCloneFailedError{PlanID: planID, Reason: "orchestration failed", Cause: err}
	}

	return o.finishPlan(ctx, p, "clone finished")
}

// Migrate runs a migrate orchestration end to end (spec.md §4.4 R4): submit
// the template, cut over each original server's network identity onto its
// target, then delete the source resources.
func (o *Orchestrator) Migrate(ctx context.Context, planID, destination string, preexistingNetworks map[string]bool) error {
	release := o.locks.Acquire(planID)
	defer release()

	p, err := o.store.GetPlan(ctx, planID)
	if err != nil {
		return &conveyorerr.PlanNotFoundError{PlanID: planID}
	}
	if p.PlanType != plan.TypeMigrate {
		return &conveyorerr.PlanTypeNotSupportedError{PlanType: string(p.PlanType)}
	}
	if p.PlanStatus != plan.StatusAvailable {
		return &conveyorerr.PlanMigrateFailedError{PlanID: planID, Reason: fmt.Sprintf("migrate requires status AVAILABLE, plan is %q", p.PlanStatus)}
	}
	if err := p.TransitionTo(plan.StatusMigrating); err != nil {
		return &conveyorerr.PlanMigrateFailedError{PlanID: planID, Reason: err.Error()}
	}
	if err := o.store.UpdatePlan(ctx, p); err != nil {
		return &conveyorerr.PlanMigrateFailedError{PlanID: planID, Reason: "store rejected status transition", Cause: err}
	}

	compensations := undo.New(o.logger)
	if err := o.runMigrate(ctx, p, destination, preexistingNetworks, compensations); err != nil {
		o.failPlan(ctx, p, compensations, "migrate", err)
		return &conveyorerr.PlanMigrateFailedError{PlanID: planID, Reason: "orchestration failed", Cause: err}
	}

	return o.finishPlan(ctx, p, "migrate finished")
}

func (o *Orchestrator) failPlan(ctx context.Context, p *plan.Plan, compensations *undo.Stack, verb string, cause error) {
	failed := compensations.Rollback(ctx)
	if len(failed) > 0 {
		o.logger.Warn(verb+" rollback left compensations failed", "plan_id", p.PlanID, "failed", failed)
	}
	p.AppendTaskStatus(fmt.Sprintf("%s failed: %v", verb, cause))
	if err := p.TransitionTo(plan.StatusError); err != nil {
		o.logger.Warn(verb+": could not mark plan ERROR", "plan_id", p.PlanID, "error", err)
	}
	if err := o.store.UpdatePlan(ctx, p); err != nil {
		o.logger.Warn(verb+": could not persist ERROR status", "plan_id", p.PlanID, "error", err)
	}
}

func (o *Orchestrator) finishPlan(ctx context.Context, p *plan.Plan, message string) error {
	if err := p.TransitionTo(plan.StatusFinished); err != nil {
		o.logger.Warn("could not mark plan FINISHED", "plan_id", p.PlanID, "error", err)
	}
	p.AppendTaskStatus(message)
	if err := o.store.UpdatePlan(ctx, p); err != nil {
		return &conveyorerr.PlanCloneFailedError{PlanID: p.PlanID, Reason: "store rejected final status", Cause: err}
	}
	o.logger.Info(message, "plan_id", p.PlanID)
	return nil
}

func (o *Orchestrator) planPath(planID string) string {
	if o.cfg.PlanFilePath == "" {
		return planID
	}
	return o.cfg.PlanFilePath + "/" + planID
}

// stackStatusMap names the plan.Status each backing stack status should
// mirror into (spec.md §4.4.2 "CREATE_IN_PROGRESS→CLONING,
// CREATE_COMPLETE→FINISHED, CREATE_FAILED→ERROR"). Complete is left empty
// when a caller still has post-completion work to do (data copy, cutover)
// before the plan is really finished; watchStack then leaves plan_status
// alone on CREATE_COMPLETE and lets the caller transition explicitly.
type stackStatusMap struct {
	inProgress plan.Status
	complete   plan.Status
	failed     plan.Status
}

// watchStack polls stackID every pollInterval, mirroring its backing status
// into plan_status and its latest event into task_status, until it reports
// CREATE_COMPLETE, CREATE_FAILED, or ctx is canceled (spec.md §4.4.2).
func (o *Orchestrator) watchStack(ctx context.Context, p *plan.Plan, drv driver.StackDriver, stackID string, statuses stackStatusMap) error {
	return waiter.Wait(ctx, waiter.Config{
		Interval: o.pollInterval,
		Poll: func(ctx context.Context) (waiter.Outcome, error) {
			status, reason, err := drv.GetStack(ctx, stackID)
			if err != nil {
				return waiter.Outcome{}, err
			}
			o.mirrorStackState(ctx, p, drv, stackID, status, statuses)
			switch status {
			case "CREATE_COMPLETE":
				return waiter.Outcome{Terminal: true}, nil
			case "CREATE_FAILED":
				return waiter.Outcome{Failed: true, Err: &conveyorerr.PlanDeployError{PlanID: p.PlanID, Cause: fmt.Errorf("stack %s: %s", stackID, reason)}}, nil
			default:
				return waiter.Outcome{}, nil
			}
		},
	})
}

func (o *Orchestrator) mirrorStackState(ctx context.Context, p *plan.Plan, drv driver.StackDriver, stackID, status string, statuses stackStatusMap) {
	var next plan.Status
	switch status {
	case "CREATE_IN_PROGRESS":
		next = statuses.inProgress
	case "CREATE_COMPLETE":
		next = statuses.complete
	case "CREATE_FAILED":
		next = statuses.failed
	}
	if next != "" && p.PlanStatus != next {
		if err := p.TransitionTo(next); err != nil {
			o.logger.Warn("stack status mirror: illegal plan transition", "plan_id", p.PlanID, "from", p.PlanStatus, "to", next, "error", err)
		}
	}

	if events, err := drv.EventsList(ctx, stackID); err == nil && len(events) > 0 {
		latest := events[len(events)-1]
		msg := latest.ResourceName + ": " + latest.Status
		if latest.Reason != "" {
			msg += " (" + latest.Reason + ")"
		}
		p.AppendTaskStatus(msg)
	}

	if err := o.store.UpdatePlan(ctx, p); err != nil {
		o.logger.Warn("stack status mirror: persist failed", "plan_id", p.PlanID, "error", err)
	}
}

// toMap round-trips tmpl through JSON into the map[string]any shape every
// StackDriver.CreateStack call takes.
func toMap(tmpl *template.Template) (map[string]any, error) {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneResourceMap(in map[string]*resourcemodel.Resource) map[string]*resourcemodel.Resource {
	out := make(map[string]*resourcemodel.Resource, len(in))
	for name, res := range in {
		out[name] = res.Clone()
	}
	return out
}

func newStackName() string {
	return "stack-" + uuid.NewString()
}
