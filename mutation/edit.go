package mutation

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"

	"github.com/Hybrid-Cloud/conveyor/plan"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// applyEdit dispatches a resource edit by the target's type (spec.md §4.3
// "edit. Dispatch by type").
func (e *Engine) applyEdit(ctx context.Context, p *plan.Plan, edit Edit) error {
	resources := p.UpdatedResources
	target, ok := resources[edit.ResourceName]
	if !ok {
		return fmt.Errorf("resource %q not found", edit.ResourceName)
	}

	switch target.Type {
	case resourcemodel.TypeServer:
		return e.editServer(target, edit)
	case resourcemodel.TypeKeyPair:
		return e.editKeyPair(ctx, target, edit)
	case resourcemodel.TypeSecurityGroup:
		return e.editSecurityGroup(ctx, target, edit)
	case resourcemodel.TypeFloatingIP:
		return e.editFloatingIP(ctx, target, edit)
	case resourcemodel.TypePort:
		return e.editPort(ctx, resources, target, edit)
	case resourcemodel.TypeSubnet:
		return e.editSubnet(resources, target, edit)
	case resourcemodel.TypeNetwork:
		return e.editNetwork(resources, target, edit)
	case resourcemodel.TypeVolume:
		return e.editVolume(ctx, target, edit)
	case resourcemodel.TypeVolumeType, resourcemodel.TypeQos:
		return e.editVolumeTypeOrQos(ctx, resources, target, edit)
	default:
		return fmt.Errorf("resource type %q does not support edit", target.Type)
	}
}

// editServer allows only user_data and metadata to change (spec.md §4.3 "Server").
func (e *Engine) editServer(target *resourcemodel.Resource, edit Edit) error {
	if edit.UserData == nil && edit.Metadata == nil {
		return fmt.Errorf("server edit must set user_data or metadata")
	}
	if edit.UserData != nil {
		target.Properties["user_data"] = *edit.UserData
	}
	if edit.Metadata != nil {
		target.Properties["metadata"] = edit.Metadata
	}
	return nil
}

// editKeyPair accepts either a new id (re-extract) or a public_key override
// (spec.md §4.3 "KeyPair").
func (e *Engine) editKeyPair(ctx context.Context, target *resourcemodel.Resource, edit Edit) error {
	switch {
	case edit.NewID != "":
		return e.reextractInPlace(ctx, target, edit.NewID)
	case edit.PublicKey != nil:
		target.Properties["public_key"] = *edit.PublicKey
		target.ID = ""
		return nil
	default:
		return fmt.Errorf("keypair edit must set a new id or public_key")
	}
}

// editSecurityGroup accepts either a new id (re-extract) or an explicit
// rules list (spec.md §4.3 "SecurityGroup").
func (e *Engine) editSecurityGroup(ctx context.Context, target *resourcemodel.Resource, edit Edit) error {
	switch {
	case edit.NewID != "":
		return e.reextractInPlace(ctx, target, edit.NewID)
	case edit.Rules != nil:
		target.Properties["rules"] = edit.Rules
		target.ID = ""
		return nil
	default:
		return fmt.Errorf("security group edit must set a new id or rules")
	}
}

// editFloatingIP requires a new id, rejects ips that already have a port
// bound, and preserves the existing port_id binding across the re-extract
// (spec.md §4.3 "FloatingIP").
func (e *Engine) editFloatingIP(ctx context.Context, target *resourcemodel.Resource, edit Edit) error {
	if edit.NewID == "" {
		return fmt.Errorf("floating ip edit must provide a new id")
	}
	if portID, _ := target.Properties["port_id"].(string); portID != "" {
		return fmt.Errorf("floating ip %q already has a bound port_id %q", target.Name, portID)
	}
	existingPortID := target.Properties["port_id"]
	if err := e.reextractInPlace(ctx, target, edit.NewID); err != nil {
		return err
	}
	if existingPortID != nil {
		target.Properties["port_id"] = existingPortID
	}
	return nil
}

// editPort allows only fixed_ips to change, requires the new count to match
// the old one, validates each new ip against its subnet's allocation pools,
// and invalidates the port's id to force re-creation on deploy (spec.md
// §4.3 "Port").
func (e *Engine) editPort(ctx context.Context, resources map[string]*resourcemodel.Resource, target *resourcemodel.Resource, edit Edit) error {
	existing, _ := target.Properties["fixed_ips"].([]any)
	if len(edit.FixedIPs) != len(existing) {
		return fmt.Errorf("port %q fixed_ips count must remain %d, got %d", target.Name, len(existing), len(edit.FixedIPs))
	}

	newFixedIPs := make([]any, 0, len(edit.FixedIPs))
	for _, fip := range edit.FixedIPs {
		pools, err := e.resolveAllocationPools(ctx, resources, fip.SubnetName)
		if err != nil {
			return fmt.Errorf("resolve subnet %q: %w", fip.SubnetName, err)
		}
		if err := validateIPInPools(fip.IP, pools); err != nil {
			return fmt.Errorf("port %q: %w", target.Name, err)
		}
		newFixedIPs = append(newFixedIPs, map[string]any{
			"subnet": map[string]any{"get_resource": fip.SubnetName},
			"ip_address": fip.IP,
		})
	}
	target.Properties["fixed_ips"] = newFixedIPs
	target.ID = ""
	return nil
}

// editSubnet swaps id, optionally forcing a network swap, and clears the id
// (and any conflicting ip_address) of every port referencing this subnet
// (spec.md §4.3 "Subnet").
func (e *Engine) editSubnet(resources map[string]*resourcemodel.Resource, target *resourcemodel.Resource, edit Edit) error {
	if edit.NewID == "" {
		return fmt.Errorf("subnet edit must provide a new id")
	}
	target.ID = edit.NewID
	if edit.NewNetworkName != "" {
		target.Properties["network"] = map[string]any{"get_resource": edit.NewNetworkName}
	}

	for _, res := range resources {
		if res.Type != resourcemodel.TypePort {
			continue
		}
		if !portReferencesSubnet(res, target.Name) {
			continue
		}
		res.ID = ""
		fixedIPs, _ := res.Properties["fixed_ips"].([]any)
		for _, raw := range fixedIPs {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if ref, ok := resourcemodel.IsReferenceNode(entry["subnet"]); ok && ref.Target == target.Name {
				delete(entry, "ip_address")
			}
		}
	}
	return nil
}

// editNetwork swaps a network, requiring at least one destination subnet,
// refusing the swap if any server already has another port on the target
// network, and rewriting one referring subnet per dependent port to a
// random subnet of the new network (spec.md §4.3 "Network").
func (e *Engine) editNetwork(resources map[string]*resourcemodel.Resource, target *resourcemodel.Resource, edit Edit) error {
	if len(edit.NewSubnetNames) == 0 {
		return fmt.Errorf("network swap requires at least one subnet")
	}
	if offender := findDuplicateNetworkServer(resources, target.Name); offender != "" {
		return fmt.Errorf("Duplicate networks: server %q already has another port on network %q", offender, target.Name)
	}

	target.ID = edit.NewID
	dependentPorts := portsReferencingNetwork(resources, target.Name)
	for _, portName := range dependentPorts {
		port := resources[portName]
		newSubnet := edit.NewSubnetNames[rand.Intn(len(edit.NewSubnetNames))]
		rewritePortSubnet(port, newSubnet)
	}
	return nil
}

// editVolume swaps by id, re-extracting and marking extra_properties.exist;
// copy_data is a separate accepted toggle (spec.md §4.3 "Volume").
func (e *Engine) editVolume(ctx context.Context, target *resourcemodel.Resource, edit Edit) error {
	if edit.NewID != "" {
		if err := e.reextractInPlace(ctx, target, edit.NewID); err != nil {
			return err
		}
		target.SetExists(true)
	}
	if edit.CopyData != nil {
		target.ExtraProperties["copy_data"] = *edit.CopyData
	}
	if edit.NewID == "" && edit.CopyData == nil {
		return fmt.Errorf("volume edit must set a new id or copy_data")
	}
	return nil
}

// editVolumeTypeOrQos swaps by id, re-extracting the target in place and
// garbage-collecting each resource its previous properties referenced once
// nothing else in the plan still references it (spec.md §4.3 "VolumeType / Qos").
func (e *Engine) editVolumeTypeOrQos(ctx context.Context, resources map[string]*resourcemodel.Resource, target *resourcemodel.Resource, edit Edit) error {
	if edit.NewID == "" {
		return fmt.Errorf("%s edit must provide a new id", target.Type)
	}
	// the swap happens in place under the same local name, so references to
	// the target itself survive; what its old properties referenced may be
	// left orphaned by the re-extract and is collected as in applyDelete.
	oldDeps := resourcemodel.BuildDependencies(resources)[target.Name].Dependencies
	if err := e.reextractInPlace(ctx, target, edit.NewID); err != nil {
		return err
	}
	gcOrphans(resources, oldDeps)
	return nil
}

func (e *Engine) reextractInPlace(ctx context.Context, target *resourcemodel.Resource, newID string) error {
	if e.extractor == nil {
		return fmt.Errorf("no extractor configured for re-extract")
	}
	primary, _, err := e.extractor.Extract(ctx, target.Type, newID)
	if err != nil {
		return fmt.Errorf("re-extract %q as %q: %w", target.Name, newID, err)
	}
	target.ID = primary.ID
	target.Properties = primary.Properties
	return nil
}

func (e *Engine) resolveAllocationPools(ctx context.Context, resources map[string]*resourcemodel.Resource, subnetName string) ([]AllocationPool, error) {
	if subnet, ok := resources[subnetName]; ok && subnet.Type == resourcemodel.TypeSubnet {
		raw, _ := subnet.Properties["allocation_pools"].([]any)
		pools := make([]AllocationPool, 0, len(raw))
		for _, p := range raw {
			m, ok := p.(map[string]any)
			if !ok {
				continue
			}
			start, _ := m["start"].(string)
			end, _ := m["end"].(string)
			pools = append(pools, AllocationPool{Start: start, End: end})
		}
		return pools, nil
	}
	subnets := e.subnetResolver()
	if subnets == nil {
		return nil, fmt.Errorf("subnet %q is not in the plan and no network driver is configured", subnetName)
	}
	return subnets.AllocationPools(ctx, subnetName)
}

func validateIPInPools(ip string, pools []AllocationPool) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	for _, pool := range pools {
		ok, err := netipInPool(addr, pool)
		if err != nil {
			continue
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("ip %q is outside the subnet's allocation pools", ip)
}

func portReferencesSubnet(port *resourcemodel.Resource, subnetName string) bool {
	found := false
	resourcemodel.ForEachReference(port.Properties, func(ref resourcemodel.Reference) {
		if ref.Kind == resourcemodel.RefResource && ref.Target == subnetName {
			found = true
		}
	})
	return found
}

func portsReferencingNetwork(resources map[string]*resourcemodel.Resource, networkName string) []string {
	var out []string
	for name, res := range resources {
		if res.Type != resourcemodel.TypePort {
			continue
		}
		if ref, ok := resourcemodel.IsReferenceNode(res.Properties["network"]); ok && ref.Kind == resourcemodel.RefResource && ref.Target == networkName {
			out = append(out, name)
		}
	}
	return out
}

func rewritePortSubnet(port *resourcemodel.Resource, newSubnetName string) {
	fixedIPs, _ := port.Properties["fixed_ips"].([]any)
	if len(fixedIPs) == 0 {
		return
	}
	if entry, ok := fixedIPs[0].(map[string]any); ok {
		entry["subnet"] = map[string]any{"get_resource": newSubnetName}
	}
}

// findDuplicateNetworkServer returns the name of the first server that has
// more than one port connected to networkName, or "" if none do (spec.md
// §4.3 "Network" duplicate-network check).
func findDuplicateNetworkServer(resources map[string]*resourcemodel.Resource, networkName string) string {
	portsOnNetwork := map[string]bool{}
	for _, name := range portsReferencingNetwork(resources, networkName) {
		portsOnNetwork[name] = true
	}

	for name, res := range resources {
		if res.Type != resourcemodel.TypeServer {
			continue
		}
		count := 0
		resourcemodel.ForEachReference(res.Properties, func(ref resourcemodel.Reference) {
			if ref.Kind == resourcemodel.RefResource && portsOnNetwork[ref.Target] {
				count++
			}
		})
		if count > 1 {
			return name
		}
	}
	return ""
}
