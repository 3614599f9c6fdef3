// Package template handles the plan engine's template format: parsing an
// imported template into resources (spec.md §4.2 "import-from-template")
// and shaping a plan's resources back into a submittable template (spec.md
// §4.4.1). Grounded on conveyor/plan/manager.py's build_plan_by_template for
// the import direction and conveyor/clone/manager.py's _format_template /
// _change_resource_to_param for the export direction.
package template

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

// HeatTemplateVersion is the constant version tag every template carries
// (spec.md §6 "Template format").
const HeatTemplateVersion = "2013-05-23"

// Template is the in-memory view of the wire format described in spec.md
// §6: a map with heat_template_version, description, parameters, resources,
// and the engine-private fields expire_time/plan_type/plan_id/stack_id/
// disable_rollback.
type Template struct {
	HeatTemplateVersion string                                  `json:"heat_template_version"`
	Description         string                                  `json:"description,omitempty"`
	Parameters           map[string]resourcemodel.TemplateParameter `json:"parameters,omitempty"`
	Resources            map[string]TemplateResource                `json:"resources"`

	ExpireTime      string `json:"expire_time,omitempty"`
	PlanType        string `json:"plan_type,omitempty"`
	PlanID          string `json:"plan_id,omitempty"`
	StackID         string `json:"stack_id,omitempty"`
	DisableRollback bool   `json:"disable_rollback"`

	// Files maps file://<key> references to serialized child templates
	// (spec.md §4.4.1 step 6, §6 "Nested templates are referenced by a
	// resource with type prefix file://").
	Files map[string]string `json:"files,omitempty"`
}

// TemplateResource is the wire shape of one entry of Template.Resources.
type TemplateResource struct {
	Type            string         `json:"type"`
	Properties      map[string]any `json:"properties"`
	ExtraProperties map[string]any `json:"extra_properties,omitempty"`
}

// Parse converts a wire Template into a resource map suitable for a plan's
// original_resources/updated_resources, mirroring build_plan_by_template:
// each resource is assigned a fresh uuid when it carries no
// extra_properties.id, the id (if present) is stripped from
// extra_properties before storage, and parameters are rebuilt against the
// template's own parameter declarations.
func Parse(tmpl *Template) (map[string]*resourcemodel.Resource, error) {
	out := make(map[string]*resourcemodel.Resource, len(tmpl.Resources))

	for name, raw := range tmpl.Resources {
		typ, ok := resourcemodel.ParseResourceType(raw.Type)
		if !ok {
			return nil, fmt.Errorf("resource %q: unknown type %q", name, raw.Type)
		}

		extra := copyAnyMap(raw.ExtraProperties)
		id, _ := extra["id"].(string)
		delete(extra, "id")
		if id == "" {
			id = uuid.NewString()
		}

		res := &resourcemodel.Resource{
			Name:            name,
			Type:            typ,
			ID:              id,
			Properties:      copyAnyMap(raw.Properties),
			ExtraProperties: extra,
			Parameters:      map[string]resourcemodel.TemplateParameter{},
		}
		res.RebuildParameters(tmpl.Parameters)
		out[name] = res
	}

	if dangling := resourcemodel.ValidateReferences(out); len(dangling) > 0 {
		names := make([]string, 0, len(dangling))
		for _, d := range dangling {
			names = append(names, fmt.Sprintf("%s -> %s", d.ResourceName, d.Target))
		}
		return nil, fmt.Errorf("template has dangling references: %v", names)
	}

	deps := resourcemodel.BuildDependencies(out)
	if cycle := resourcemodel.ValidateDAG(deps); cycle != nil {
		return nil, fmt.Errorf("template has a dependency cycle: %v", cycle)
	}

	return out, nil
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
