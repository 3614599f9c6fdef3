// Export-direction template shaping (spec.md §4.4.1): the six steps that
// turn a plan's updated_resources into a template submittable to the stack
// engine. Grounded on conveyor/clone/manager.py's _format_template /
// _change_resource_to_param / _handle_port_binding, and (for LBaaS
// collapsing) conveyor/conveyorheat/engine/resources/openstack/neutron/
// lbaas/pool.py (SPEC_FULL.md §D.8).
package template

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// ExportOptions configures Shape (spec.md §4.4.1).
type ExportOptions struct {
	// Destination is the availability_zone stamped onto every server and
	// volume (step 2).
	Destination string

	// PreexistingNetworks names the local network resources that the
	// destination cloud already has; ports referencing one of them have
	// their mac_address and fixed_ips[*].ip_address stripped (step 3).
	PreexistingNetworks map[string]bool

	// PlanPath seeds the file:// key used when factoring floating IPs
	// (step 6): "file://<PlanPath>.floatingIp.template".
	PlanPath string

	// DisableRollback is passed straight through to the resulting
	// Template (spec.md §4.4.2 "disable_rollback = true by default").
	DisableRollback bool

	// BoundParameters supplies ids resolved outside this resource set
	// entirely (a volume sub-stack's outputs, in R1/R2) that should be
	// treated exactly like a step-4 promotion: every get_resource leaf
	// naming one of these keys is rewritten to get_param, and the
	// parameter itself is merged into the returned Template's Parameters.
	BoundParameters map[string]resourcemodel.TemplateParameter
}

// Shape runs the full export pipeline over resources, which is not
// mutated — Shape always starts from a deep clone. The returned Template
// is ready for StackDriver.CreateStack.
func Shape(resources map[string]*resourcemodel.Resource, opts ExportOptions) (*Template, error) {
	working := cloneResources(resources)

	stampAvailabilityZone(working, opts.Destination)
	stripPreexistingPortFields(working, opts.PreexistingNetworks)
	params := promoteExistingResources(working)
	bindExternalParameters(working, opts.BoundParameters)
	for name, param := range opts.BoundParameters {
		params[name] = param
	}
	CollapseLoadBalancer(working)

	tmpl := &Template{
		HeatTemplateVersion: HeatTemplateVersion,
		Parameters:          params,
		Resources:           make(map[string]TemplateResource, len(working)),
		DisableRollback:     opts.DisableRollback,
	}
	for name, res := range working {
		tmpl.Resources[name] = TemplateResource{
			Type:       string(res.Type),
			Properties: res.Properties,
		}
	}

	if err := factorFloatingIPs(tmpl, opts.PlanPath); err != nil {
		return nil, fmt.Errorf("factor floating ips: %w", err)
	}
	return tmpl, nil
}

func cloneResources(in map[string]*resourcemodel.Resource) map[string]*resourcemodel.Resource {
	out := make(map[string]*resourcemodel.Resource, len(in))
	for name, res := range in {
		out[name] = res.Clone()
	}
	return out
}

// stampAvailabilityZone applies step 2: every server and volume is
// rewritten to deploy into the destination AZ.
func stampAvailabilityZone(resources map[string]*resourcemodel.Resource, destination string) {
	if destination == "" {
		return
	}
	for _, res := range resources {
		if res.Type == resourcemodel.TypeServer || res.Type == resourcemodel.TypeVolume {
			res.Properties["availability_zone"] = destination
		}
	}
}

// stripPreexistingPortFields applies step 3: a port whose network already
// exists in the target cloud sheds its mac_address and fixed_ips[*].ip_address,
// since those would otherwise conflict with the network's own IPAM.
func stripPreexistingPortFields(resources map[string]*resourcemodel.Resource, preexisting map[string]bool) {
	if len(preexisting) == 0 {
		return
	}
	for _, res := range resources {
		if res.Type != resourcemodel.TypePort {
			continue
		}
		ref, ok := resourcemodel.IsReferenceNode(res.Properties["network"])
		if !ok || ref.Kind != resourcemodel.RefResource || !preexisting[ref.Target] {
			continue
		}
		delete(res.Properties, "mac_address")
		fixedIPs, _ := res.Properties["fixed_ips"].([]any)
		for _, entry := range fixedIPs {
			if m, ok := entry.(map[string]any); ok {
				delete(m, "ip_address")
			}
		}
	}
}

// promoteExistingResources applies step 4: any resource marked
// extra_properties.exist (Resource.Exists) is removed from the template
// body, every get_resource reference to it across the remaining resources
// is rewritten to get_param, and a matching parameter with
// {default: <live-id>, type: string} is returned.
func promoteExistingResources(resources map[string]*resourcemodel.Resource) map[string]resourcemodel.TemplateParameter {
	params := map[string]resourcemodel.TemplateParameter{}

	var toPromote []string
	for name, res := range resources {
		if res.Exists() {
			toPromote = append(toPromote, name)
		}
	}
	sort.Strings(toPromote)

	for _, name := range toPromote {
		res := resources[name]
		params[name] = resourcemodel.TemplateParameter{Type: "string", Default: res.ID}
		delete(resources, name)
		for _, other := range resources {
			rewriteResourceToParam(other.Properties, name)
		}
	}
	return params
}

// bindExternalParameters generalizes step 4 to ids resolved from outside
// this resource set (a volume sub-stack's outputs): every get_resource leaf
// naming a bound key is rewritten to get_param across the remaining
// resources, exactly as promoteExistingResources does for an in-set
// Resource.Exists() promotion.
func bindExternalParameters(resources map[string]*resourcemodel.Resource, bound map[string]resourcemodel.TemplateParameter) {
	names := make([]string, 0, len(bound))
	for name := range bound {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, other := range resources {
			rewriteResourceToParam(other.Properties, name)
		}
	}
}

// rewriteResourceToParam mutates node in place, turning every
// {get_resource: target} leaf into {get_param: target}.
func rewriteResourceToParam(node any, target string) {
	switch t := node.(type) {
	case map[string]any:
		if len(t) == 1 {
			if v, ok := t["get_resource"]; ok {
				if s, ok := v.(string); ok && s == target {
					delete(t, "get_resource")
					t["get_param"] = target
					return
				}
			}
		}
		for _, v := range t {
			rewriteResourceToParam(v, target)
		}
	case []any:
		for _, v := range t {
			rewriteResourceToParam(v, target)
		}
	}
}

// CollapseLoadBalancer applies step 5: every pool absorbs its VIP's
// properties under a vip_ prefix and its listener nested under
// properties.listener; the VIP and listener resources are then dropped
// (SPEC_FULL.md §D.8, grounded on the original lbaas pool resource's
// handling of vip_subnet/vip_address/... keys).
func CollapseLoadBalancer(resources map[string]*resourcemodel.Resource) {
	var pools []string
	for name, res := range resources {
		if res.Type == resourcemodel.TypeLBPool {
			pools = append(pools, name)
		}
	}
	sort.Strings(pools)

	for _, poolName := range pools {
		pool := resources[poolName]

		if vipName, ok := referencedResourceName(pool.Properties["vip"]); ok {
			if vip, ok := resources[vipName]; ok && vip.Type == resourcemodel.TypeLBVip {
				for k, v := range vip.Properties {
					pool.Properties["vip_"+k] = v
				}
				delete(resources, vipName)
			}
		}

		for name, res := range resources {
			if res.Type != resourcemodel.TypeLBListener {
				continue
			}
			if target, ok := referencedResourceName(res.Properties["pool"]); ok && target == poolName {
				pool.Properties["listener"] = res.Properties
				delete(resources, name)
			}
		}
	}
}

func referencedResourceName(node any) (string, bool) {
	ref, ok := resourcemodel.IsReferenceNode(node)
	if !ok || ref.Kind != resourcemodel.RefResource {
		return "", false
	}
	return ref.Target, true
}

// factorFloatingIPs applies step 6: any remaining floating-IP resources are
// moved into a sibling file:// template keyed by
// "file://<planPath>.floatingIp.template", leaving a single nested-stack
// reference resource in the main template (spec.md §4.4.1 step 6, §6
// "Nested templates are referenced by a resource with type prefix
// file://").
func factorFloatingIPs(tmpl *Template, planPath string) error {
	var names []string
	for name, res := range tmpl.Resources {
		if res.Type == string(resourcemodel.TypeFloatingIP) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	child := &Template{
		HeatTemplateVersion: HeatTemplateVersion,
		Resources:           make(map[string]TemplateResource, len(names)),
	}
	for _, name := range names {
		child.Resources[name] = tmpl.Resources[name]
		delete(tmpl.Resources, name)
	}

	data, err := json.Marshal(child)
	if err != nil {
		return fmt.Errorf("marshal floating ip sub-template: %w", err)
	}

	key := fmt.Sprintf("file://%s.floatingIp.template", planPath)
	if tmpl.Files == nil {
		tmpl.Files = map[string]string{}
	}
	tmpl.Files[key] = string(data)
	tmpl.Resources["floating_ips-"+uuid.NewString()[:8]] = TemplateResource{Type: key, Properties: map[string]any{}}
	return nil
}
