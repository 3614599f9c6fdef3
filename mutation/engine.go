// Package mutation implements the Plan Mutation Engine: add/edit/delete
// cascade semantics over a plan's updated_resources (spec.md §4.3).
// Grounded on conveyor/plan/manager.py's _edit_plan_resource dispatch and
// its per-type update_*_resource helpers.
package mutation

import (
	"context"
	"fmt"
	"net/netip"
	"sort"

	"github.com/Hybrid-Cloud/conveyor/conveyorerr"
	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// Action is the kind of a single mutation edit (spec.md §4.3 "action ∈
// {add, edit, delete}").
type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// FixedIP is one entry of a Port edit's requested fixed_ips list.
type FixedIP struct {
	SubnetName string `json:"subnet"`
	IP         string `json:"ip"`
}

// Edit is one entry of an update-resources request (spec.md §4.3).
type Edit struct {
	Action       Action
	ResourceName string // local name of the target resource (edit, delete) or the fresh name to assign (add)

	// add
	ResourceType resourcemodel.ResourceType
	SourceID     string // live-cloud id to extract from

	// edit: Server
	UserData *string
	Metadata map[string]any

	// edit: KeyPair / SecurityGroup / FloatingIP / Volume / VolumeType / Qos / Subnet / Network
	NewID string

	// edit: KeyPair
	PublicKey *string

	// edit: SecurityGroup
	Rules []any

	// edit: Port
	FixedIPs []FixedIP

	// edit: Subnet
	NewNetworkName string

	// edit: Network
	NewSubnetNames []string

	// edit: Volume
	CopyData *bool
}

// Extractor pulls a resource (and its transitive dependencies) out of the
// live cloud by id, assigning fresh local names (spec.md §4.3 "add",
// "re-extract"). Narrow and single-purpose in the style of the driver
// shim's per-concern interfaces.
type Extractor interface {
	Extract(ctx context.Context, resType resourcemodel.ResourceType, liveID string) (primary *resourcemodel.Resource, deps map[string]*resourcemodel.Resource, err error)
}

// SubnetPoolResolver resolves the allocation pools of a subnet that is not
// present in the plan, via the network driver (spec.md §4.3 Port edit:
// "resolved locally if the subnet is in the plan, otherwise through the
// network driver").
type SubnetPoolResolver interface {
	AllocationPools(ctx context.Context, subnetID string) ([]AllocationPool, error)
}

// AllocationPool is an inclusive IP range.
type AllocationPool struct {
	Start string
	End   string
}

// DriverRegistry is the subset of driver.Registry's per-resource-type
// lookup the mutation engine needs to route "add" extraction (and live
// subnet-pool resolution) to the driver responsible for a given resource
// type, instead of a single flat extractor (spec.md §4.3 "add"'s "the
// appropriate driver"; SPEC_FULL.md §D.5: "a per-resource-type driver
// registry keyed by type string").
type DriverRegistry interface {
	For(resType resourcemodel.ResourceType) (driver.CloudDriver, bool)
}

// Engine applies mutation-engine edits to a plan's updated_resources.
type Engine struct {
	extractor Extractor
	subnets   SubnetPoolResolver
	registry  DriverRegistry
}

// NewEngine builds an Engine. subnets may be nil if every edit resolves its
// subnets from resources already present in the plan. extractor and
// subnets are the fallback used when no registry is installed, or when the
// registry has no driver implementing the relevant optional interface for
// the resource type in question.
func NewEngine(extractor Extractor, subnets SubnetPoolResolver) *Engine {
	return &Engine{extractor: extractor, subnets: subnets}
}

// WithRegistry installs a per-resource-type driver registry so "add" and
// subnet-pool resolution are routed to "the appropriate driver" for the
// target type (spec.md §4.3; SPEC_FULL.md §D.5), falling back to the flat
// Extractor/SubnetPoolResolver passed to NewEngine when the registry has no
// override. Returns e for chaining at construction time.
func (e *Engine) WithRegistry(registry DriverRegistry) *Engine {
	e.registry = registry
	return e
}

// extractorFor resolves the Extractor responsible for resType: the
// registry's driver for that type if it implements Extractor, otherwise the
// engine's flat fallback.
func (e *Engine) extractorFor(resType resourcemodel.ResourceType) (Extractor, error) {
	if e.registry != nil {
		if drv, ok := e.registry.For(resType); ok {
			if ext, ok := drv.(Extractor); ok {
				return ext, nil
			}
		}
	}
	if e.extractor == nil {
		return nil, fmt.Errorf("no extractor configured for add")
	}
	return e.extractor, nil
}

// subnetResolver resolves the SubnetPoolResolver responsible for subnet
// lookups, preferring the registry's subnet driver over the engine's flat
// fallback.
func (e *Engine) subnetResolver() SubnetPoolResolver {
	if e.registry != nil {
		if drv, ok := e.registry.For(resourcemodel.TypeSubnet); ok {
			if sp, ok := drv.(SubnetPoolResolver); ok {
				return sp
			}
		}
	}
	return e.subnets
}

// Apply applies edits in order to p.UpdatedResources, rebuilding
// dependencies after each one (spec.md §4.3 "After any edit, dependencies
// are rebuilt"). It stops at the first failing edit.
func (e *Engine) Apply(ctx context.Context, p *plan.Plan, edits []Edit) error {
	if p.PlanType == plan.TypeMigrate {
		return &conveyorerr.PlanResourcesUpdateError{PlanID: p.PlanID, Reason: "migrate plans do not accept resource edits"}
	}

	for _, edit := range edits {
		var err error
		switch edit.Action {
		case ActionDelete:
			err = e.applyDelete(p, edit)
		case ActionAdd:
			err = e.applyAdd(ctx, p, edit)
		case ActionEdit:
			err = e.applyEdit(ctx, p, edit)
		default:
			err = fmt.Errorf("unknown edit action %q", edit.Action)
		}
		if err != nil {
			return &conveyorerr.PlanResourcesUpdateError{PlanID: p.PlanID, Reason: err.Error()}
		}
		p.RebuildDependencies()
	}
	return nil
}

// applyDelete refuses to remove a resource still referenced by another, then
// removes it and GCs any of its own dependencies that are now orphaned
// (spec.md §4.3 "delete").
func (e *Engine) applyDelete(p *plan.Plan, edit Edit) error {
	name := edit.ResourceName
	target, ok := p.UpdatedResources[name]
	if !ok {
		return fmt.Errorf("resource %q not found", name)
	}

	if referents := referencingResources(p.UpdatedResources, name); len(referents) > 0 {
		sort.Strings(referents)
		return fmt.Errorf("resource %q is still referenced by %v", name, referents)
	}

	ownDeps := resourcemodel.BuildDependencies(p.UpdatedResources)[name].Dependencies
	delete(p.UpdatedResources, name)
	_ = target

	gcOrphans(p.UpdatedResources, ownDeps)
	return nil
}

// gcOrphans removes each candidate name iff nothing in resources references
// it anymore, recursing into its own dependencies (transitive orphan GC,
// spec.md §4.3 "then remove its own dependencies iff no other resource
// references them").
func gcOrphans(resources map[string]*resourcemodel.Resource, candidates []string) {
	for _, name := range candidates {
		res, ok := resources[name]
		if !ok {
			continue
		}
		if len(referencingResources(resources, name)) > 0 {
			continue
		}
		ownDeps := resourcemodel.BuildDependencies(resources)[name].Dependencies
		delete(resources, name)
		_ = res
		gcOrphans(resources, ownDeps)
	}
}

// referencingResources returns the names of resources (other than target
// itself) whose property tree contains a get_resource/get_attr[0] pointing
// at target.
func referencingResources(resources map[string]*resourcemodel.Resource, target string) []string {
	var out []string
	for name, res := range resources {
		if name == target {
			continue
		}
		referencesName(res, target, func() { out = append(out, name) })
	}
	return out
}

func referencesName(res *resourcemodel.Resource, target string, onMatch func()) {
	found := false
	resourcemodel.ForEachReference(res.Properties, func(ref resourcemodel.Reference) {
		if found {
			return
		}
		if (ref.Kind == resourcemodel.RefResource || ref.Kind == resourcemodel.RefAttr) && ref.Target == target {
			found = true
			onMatch()
		}
	})
}

// applyAdd extracts a new resource (and its transitive dependencies) from
// the live cloud and merges it into updated_resources (spec.md §4.3 "add").
func (e *Engine) applyAdd(ctx context.Context, p *plan.Plan, edit Edit) error {
	extractor, err := e.extractorFor(edit.ResourceType)
	if err != nil {
		return err
	}
	primary, deps, err := extractor.Extract(ctx, edit.ResourceType, edit.SourceID)
	if err != nil {
		return fmt.Errorf("extract resource %q: %w", edit.SourceID, err)
	}

	name := edit.ResourceName
	if name == "" {
		name = primary.Name
	}
	primary.Name = name
	p.UpdatedResources[name] = primary
	for depName, depRes := range deps {
		p.UpdatedResources[depName] = depRes
	}
	return nil
}

func netipInPool(ip netip.Addr, pool AllocationPool) (bool, error) {
	start, err := netip.ParseAddr(pool.Start)
	if err != nil {
		return false, fmt.Errorf("parse pool start %q: %w", pool.Start, err)
	}
	end, err := netip.ParseAddr(pool.End)
	if err != nil {
		return false, fmt.Errorf("parse pool end %q: %w", pool.End, err)
	}
	return ip.Compare(start) >= 0 && ip.Compare(end) <= 0, nil
}
