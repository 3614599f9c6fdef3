package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Hybrid-Cloud/conveyor/conveyorerr"
	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
	"github.com/Hybrid-Cloud/conveyor/template"
	"github.com/Hybrid-Cloud/conveyor/undo"
)

// runClone implements the clone-direction regime dispatch (spec.md §4.4
// R1/R2/R3): fold any nested "stack" resources off first, then isolate the
// volume-shaped resources appropriate to the regime into their own
// sub-stack, then shape and submit what remains.
func (o *Orchestrator) runClone(ctx context.Context, p *plan.Plan, destination string, preexisting map[string]bool, compensations *undo.Stack) error {
	resources := cloneResourceMap(p.UpdatedResources)
	markPreexisting(resources, preexisting)

	for name, res := range resources {
		if res.Type != resourcemodel.TypeStack {
			continue
		}
		if _, err := o.submitNestedStack(ctx, p, res, destination); err != nil {
			return fmt.Errorf("nested stack %s: %w", name, err)
		}
		delete(resources, name)
	}

	// R2 restricts isolation to system-disk volumes of sys_clone servers;
	// R1 isolates every volume-shaped resource. The resource model carries
	// sys_clone as a plan-level flag rather than per-server, so it is
	// applied uniformly here (documented design decision).
	restrictToSystemDisks := p.SysClone
	volumeRes, mainRes := splitVolumeResources(resources, restrictToSystemDisks)

	if !restrictToSystemDisks {
		substituteBootImage(volumeRes, systemDiskVolumeNames(resources), o.cfg.SysImage)
	}

	var bound map[string]resourcemodel.TemplateParameter
	if len(volumeRes) > 0 {
		var err error
		bound, err = o.submitVolumeSubstack(ctx, p, volumeRes, destination, preexisting, compensations)
		if err != nil {
			return fmt.Errorf("volume sub-stack: %w", err)
		}
	}

	tmpl, err := template.Shape(mainRes, template.ExportOptions{
		Destination:         destination,
		PreexistingNetworks: preexisting,
		PlanPath:            o.planPath(p.PlanID),
		DisableRollback:     true,
		BoundParameters:     bound,
	})
	if err != nil {
		return &conveyorerr.ExportTemplateFailedError{PlanID: p.PlanID, Cause: err}
	}

	drv, ok := o.drivers.For(resourcemodel.TypeStack)
	if !ok {
		return &conveyorerr.ServiceCatalogExceptionError{Service: "stack", Cause: fmt.Errorf("no driver registered for stack submission")}
	}
	tmplMap, err := toMap(tmpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	stackID, err := drv.CreateStack(ctx, newStackName(), tmplMap, tmpl.Files, tmpl.DisableRollback)
	if err != nil {
		return &conveyorerr.PlanDeployError{PlanID: p.PlanID, Cause: err}
	}
	p.StackID = stackID
	compensations.Push("delete main stack "+stackID, func(ctx context.Context) error { return drv.DeleteStack(ctx, stackID) })
	if err := o.store.UpdatePlan(ctx, p); err != nil {
		return fmt.Errorf("persist stack id: %w", err)
	}

	if err := o.watchStack(ctx, p, drv, stackID, stackStatusMap{inProgress: plan.StatusCloning, failed: plan.StatusError}); err != nil {
		return err
	}

	if p.CopyData {
		if err := o.copyAllVolumeData(ctx, p, mainRes, compensations); err != nil {
			return fmt.Errorf("data copy: %w", err)
		}
		if err := p.TransitionTo(plan.StatusDataTransFinished); err != nil {
			o.logger.Warn("could not mark plan DATA_TRANS_FINISHED", "plan_id", p.PlanID, "error", err)
		}
		if err := o.store.UpdatePlan(ctx, p); err != nil {
			o.logger.Warn("could not persist DATA_TRANS_FINISHED", "plan_id", p.PlanID, "error", err)
		}
	}

	return nil
}

// runMigrate implements the migrate-direction regime (spec.md §4.4 R4): no
// data copy. Submit the whole resource set, then re-home each original
// server's network identity onto its target (§4.4.4), then delete the
// source resources (§4.4.5).
func (o *Orchestrator) runMigrate(ctx context.Context, p *plan.Plan, destination string, preexisting map[string]bool, compensations *undo.Stack) error {
	resources := cloneResourceMap(p.UpdatedResources)
	markPreexisting(resources, preexisting)

	if err := o.prepareMigratePorts(ctx, p, compensations); err != nil {
		return fmt.Errorf("prepare migrate ports: %w", err)
	}

	tmpl, err := template.Shape(resources, template.ExportOptions{
		Destination:         destination,
		PreexistingNetworks: preexisting,
		PlanPath:            o.planPath(p.PlanID),
		DisableRollback:     true,
	})
	if err != nil {
		return &conveyorerr.ExportTemplateFailedError{PlanID: p.PlanID, Cause: err}
	}

	drv, ok := o.drivers.For(resourcemodel.TypeStack)
	if !ok {
		return &conveyorerr.ServiceCatalogExceptionError{Service: "stack", Cause: fmt.Errorf("no driver registered for stack submission")}
	}
	tmplMap, err := toMap(tmpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	stackID, err := drv.CreateStack(ctx, newStackName(), tmplMap, tmpl.Files, tmpl.DisableRollback)
	if err != nil {
		return &conveyorerr.PlanDeployError{PlanID: p.PlanID, Cause: err}
	}
	p.StackID = stackID
	if err := o.store.UpdatePlan(ctx, p); err != nil {
		return fmt.Errorf("persist stack id: %w", err)
	}

	if err := o.watchStack(ctx, p, drv, stackID, stackStatusMap{inProgress: plan.StatusMigrating, failed: plan.StatusError}); err != nil {
		return err
	}

	// Distinct pre-cutover step: detach each server's migrate-net-map port
	// (prepareMigratePorts, above) before cutoverServer re-homes its network
	// identity, mirroring manager.py's migrate() sequencing of
	// _clear_migrate_port ahead of _realloc_port_floating_ip.
	if len(o.cfg.MigrateNetMap) > 0 {
		if computeDrv, ok := o.drivers.For(resourcemodel.TypeServer); ok {
			o.clearMigratePort(ctx, computeDrv, p)
		}
	}

	for name, sourceServer := range p.OriginalResources {
		if sourceServer.Type != resourcemodel.TypeServer {
			continue
		}
		targetLive, err := drv.GetStackResource(ctx, stackID, name)
		if err != nil {
			return fmt.Errorf("resolve target server %s: %w", name, err)
		}
		if err := o.cutoverServer(ctx, drv, sourceServer.ID, targetLive.ID, compensations); err != nil {
			return fmt.Errorf("cut over server %s: %w", name, err)
		}
	}

	return o.cleanupAfterMigrate(ctx, drv, p)
}

// markPreexisting flags each resource named in preexisting as already
// existing in the target cloud (resourcemodel.Resource.SetExists), so
// template.Shape's promoteExistingResources step (spec.md §4.4.1 step 4)
// turns it into a bound parameter instead of a fully-specified resource.
// This is the "validated by driver lookup" promotion spec.md describes;
// here the validation is the caller's preexisting_networks assertion rather
// than a live driver round trip (see DESIGN.md).
func markPreexisting(resources map[string]*resourcemodel.Resource, preexisting map[string]bool) {
	for name, isPreexisting := range preexisting {
		if !isPreexisting {
			continue
		}
		if res, ok := resources[name]; ok {
			res.SetExists(true)
		}
	}
}

// submitNestedStack implements R3: a plan resource of type "stack" carries
// its own embedded template (and, per resource, a files map) under
// extra_properties; it is rewritten for the destination AZ and submitted as
// its own stack, independent of the main template (spec.md §4.4 R3).
func (o *Orchestrator) submitNestedStack(ctx context.Context, p *plan.Plan, res *resourcemodel.Resource, destination string) (string, error) {
	raw, ok := res.ExtraProperties["template"]
	if !ok {
		return "", fmt.Errorf("stack resource %s carries no embedded template", res.Name)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("marshal embedded template: %w", err)
	}
	var nested template.Template
	if err := json.Unmarshal(data, &nested); err != nil {
		return "", fmt.Errorf("parse embedded template: %w", err)
	}
	rewriteNestedAvailabilityZone(&nested, destination)

	drv, ok := o.drivers.For(resourcemodel.TypeStack)
	if !ok {
		return "", &conveyorerr.ServiceCatalogExceptionError{Service: "stack", Cause: fmt.Errorf("no driver registered for stack submission")}
	}
	tmplMap, err := toMap(&nested)
	if err != nil {
		return "", fmt.Errorf("marshal nested template: %w", err)
	}
	stackID, err := drv.CreateStack(ctx, newStackName(), tmplMap, nested.Files, true)
	if err != nil {
		return "", &conveyorerr.PlanDeployError{PlanID: p.PlanID, Cause: err}
	}
	if err := o.watchStack(ctx, p, drv, stackID, stackStatusMap{inProgress: plan.StatusCloning, failed: plan.StatusError}); err != nil {
		return "", err
	}
	return stackID, nil
}

func rewriteNestedAvailabilityZone(tmpl *template.Template, destination string) {
	if destination == "" {
		return
	}
	for name, res := range tmpl.Resources {
		if res.Type != string(resourcemodel.TypeServer) && res.Type != string(resourcemodel.TypeVolume) {
			continue
		}
		if res.Properties == nil {
			res.Properties = map[string]any{}
		}
		res.Properties["availability_zone"] = destination
		tmpl.Resources[name] = res
	}
}

// submitVolumeSubstack deploys the isolated volume-shaped resources as their
// own sub-stack, waits for completion, and resolves each resource's output
// id as a bound parameter for the main template (spec.md §4.4 R1/R2 "bind
// each resulting id as a default parameter in the main template").
func (o *Orchestrator) submitVolumeSubstack(ctx context.Context, p *plan.Plan, volumeRes map[string]*resourcemodel.Resource, destination string, preexisting map[string]bool, compensations *undo.Stack) (map[string]resourcemodel.TemplateParameter, error) {
	tmpl, err := template.Shape(volumeRes, template.ExportOptions{
		Destination:         destination,
		PreexistingNetworks: preexisting,
		PlanPath:            o.planPath(p.PlanID) + ".volumes",
		DisableRollback:     true,
	})
	if err != nil {
		return nil, &conveyorerr.ExportTemplateFailedError{PlanID: p.PlanID, Cause: err}
	}

	drv, ok := o.drivers.For(resourcemodel.TypeVolume)
	if !ok {
		return nil, &conveyorerr.ServiceCatalogExceptionError{Service: "stack", Cause: fmt.Errorf("no driver registered for volume sub-stack submission")}
	}
	tmplMap, err := toMap(tmpl)
	if err != nil {
		return nil, fmt.Errorf("marshal volume sub-stack template: %w", err)
	}
	stackID, err := drv.CreateStack(ctx, newStackName(), tmplMap, tmpl.Files, tmpl.DisableRollback)
	if err != nil {
		return nil, &conveyorerr.PlanDeployError{PlanID: p.PlanID, Cause: err}
	}
	compensations.Push("delete volume sub-stack "+stackID, func(ctx context.Context) error { return drv.DeleteStack(ctx, stackID) })

	if err := o.watchStack(ctx, p, drv, stackID, stackStatusMap{inProgress: plan.StatusCloning, failed: plan.StatusError}); err != nil {
		return nil, err
	}

	bound := make(map[string]resourcemodel.TemplateParameter, len(volumeRes))
	for name := range volumeRes {
		live, err := drv.GetStackResource(ctx, stackID, name)
		if err != nil {
			return nil, fmt.Errorf("resolve volume sub-stack output %s: %w", name, err)
		}
		bound[name] = resourcemodel.TemplateParameter{Type: "string", Default: live.ID}
	}
	return bound, nil
}

// splitVolumeResources partitions resources into the volume-shaped set to
// isolate into a sub-stack and everything that stays in the main template
// (spec.md §4.4 R1/R2). When restrictToSystemDisks is true only system-disk
// volumes (and their volume-type/QoS/consistency-group dependencies,
// followed recursively) are isolated; otherwise every volume-shaped
// resource is.
func splitVolumeResources(resources map[string]*resourcemodel.Resource, restrictToSystemDisks bool) (volumeRes, mainRes map[string]*resourcemodel.Resource) {
	volumeRes = map[string]*resourcemodel.Resource{}
	mainRes = map[string]*resourcemodel.Resource{}

	var seeds map[string]bool
	if restrictToSystemDisks {
		seeds = systemDiskVolumeNames(resources)
	} else {
		seeds = map[string]bool{}
		for name, res := range resources {
			if res.Type.IsVolumeShaped() {
				seeds[name] = true
			}
		}
	}

	included := map[string]bool{}
	var include func(name string)
	include = func(name string) {
		if included[name] {
			return
		}
		res, ok := resources[name]
		if !ok || !res.Type.IsVolumeShaped() {
			return
		}
		included[name] = true
		resourcemodel.ForEachReference(res.Properties, func(ref resourcemodel.Reference) {
			if ref.Kind == resourcemodel.RefResource {
				include(ref.Target)
			}
		})
	}
	for name := range seeds {
		include(name)
	}

	for name, res := range resources {
		if included[name] {
			volumeRes[name] = res
		} else {
			mainRes[name] = res
		}
	}
	return volumeRes, mainRes
}

// systemDiskVolumeNames finds every volume resource named as the
// boot_index=0 entry of a server's block_device_mapping_v2.
func systemDiskVolumeNames(resources map[string]*resourcemodel.Resource) map[string]bool {
	names := map[string]bool{}
	for _, res := range resources {
		if res.Type != resourcemodel.TypeServer {
			continue
		}
		for _, ref := range bootDiskRefs(res) {
			names[ref] = true
		}
	}
	return names
}

func bootDiskRefs(server *resourcemodel.Resource) []string {
	var out []string
	bdms, _ := server.Properties["block_device_mapping_v2"].([]any)
	for _, raw := range bdms {
		bdm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", bdm["boot_index"]) != "0" {
			continue
		}
		if ref, ok := resourcemodel.IsReferenceNode(bdm["volume_id"]); ok && ref.Kind == resourcemodel.RefResource {
			out = append(out, ref.Target)
		}
	}
	return out
}

// substituteBootImage implements R1's "for each system-disk volume,
// substitute the source image with the configured bootable image." sysImage
// is the engine-configured default bootable image (engineconfig.SysImage).
func substituteBootImage(volumeRes map[string]*resourcemodel.Resource, systemDiskNames map[string]bool, sysImage string) {
	if sysImage == "" {
		return
	}
	for name := range systemDiskNames {
		if vol, ok := volumeRes[name]; ok {
			vol.Properties["image"] = sysImage
		}
	}
}

// attachedVolumes resolves every volume a server's block_device_mapping_v2
// references, boot disk or not.
func attachedVolumes(resources map[string]*resourcemodel.Resource, server *resourcemodel.Resource) []*resourcemodel.Resource {
	var out []*resourcemodel.Resource
	bdms, _ := server.Properties["block_device_mapping_v2"].([]any)
	for _, raw := range bdms {
		bdm, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if ref, ok := resourcemodel.IsReferenceNode(bdm["volume_id"]); ok && ref.Kind == resourcemodel.RefResource {
			if vol, ok := resources[ref.Target]; ok {
				out = append(out, vol)
			}
		}
	}
	return out
}

// attachedSystemDiskVolumes narrows attachedVolumes to just the boot disk.
func attachedSystemDiskVolumes(resources map[string]*resourcemodel.Resource, server *resourcemodel.Resource) []*resourcemodel.Resource {
	var out []*resourcemodel.Resource
	for _, name := range bootDiskRefs(server) {
		if vol, ok := resources[name]; ok {
			out = append(out, vol)
		}
	}
	return out
}
